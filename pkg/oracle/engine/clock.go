package engine

import "time"

// SystemClock reads the wall clock in unix seconds.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() uint64 {
	return uint64(time.Now().Unix())
}
