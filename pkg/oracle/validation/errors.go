package validation

import "errors"

var (
	// ErrUnregisteredNode indicates the submitter is not a registered node.
	ErrUnregisteredNode = errors.New("unregistered node")
	// ErrNodeNotEligible indicates the submitter is inactive, understaked,
	// low-reputation or decayed.
	ErrNodeNotEligible = errors.New("node not eligible")
	// ErrRateLimitExceeded indicates the submitter exhausted its window.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrInvalidPriceZero indicates a zero price.
	ErrInvalidPriceZero = errors.New("invalid price: zero")
	// ErrPriceTooHigh indicates a price above the accepted bound.
	ErrPriceTooHigh = errors.New("price too high")
	// ErrPriceTooLow indicates a price below the accepted bound.
	ErrPriceTooLow = errors.New("price too low")
	// ErrInvalidAssetSymbol indicates an empty asset symbol.
	ErrInvalidAssetSymbol = errors.New("invalid asset symbol")
	// ErrTimestampTooOld indicates the submission timestamp is stale.
	ErrTimestampTooOld = errors.New("timestamp too old")
	// ErrTimestampInFuture indicates the timestamp is beyond clock-drift tolerance.
	ErrTimestampInFuture = errors.New("timestamp in future")
	// ErrMissingSignature indicates an empty signature.
	ErrMissingSignature = errors.New("missing signature")
	// ErrInvalidSignatureFormat indicates a malformed signature.
	ErrInvalidSignatureFormat = errors.New("invalid signature format")
)
