package registry

import "errors"

var (
	// ErrAlreadyRegistered indicates the node ID is already registered.
	ErrAlreadyRegistered = errors.New("node already registered")
	// ErrInsufficientStake indicates the offered stake is below the minimum.
	ErrInsufficientStake = errors.New("insufficient stake")
	// ErrNodeNotFound indicates the node ID is not registered.
	ErrNodeNotFound = errors.New("node not found")
)
