package engine

import "errors"

var (
	// ErrEmergencyStopActive indicates the global gate is set.
	ErrEmergencyStopActive = errors.New("emergency stop active")
	// ErrUnauthorized indicates the caller is not the configured admin.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrPriceNotAvailable indicates no aggregate exists for the asset.
	ErrPriceNotAvailable = errors.New("price not available")
	// ErrStalePrice indicates the current aggregate is older than the staleness threshold.
	ErrStalePrice = errors.New("stale price")
)
