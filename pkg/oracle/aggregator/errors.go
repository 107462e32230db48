package aggregator

import "errors"

var (
	// ErrNoPriceData indicates an empty submission set.
	ErrNoPriceData = errors.New("no price data")
	// ErrNoValidSubmissions indicates nothing survived filtering.
	ErrNoValidSubmissions = errors.New("no valid submissions")
	// ErrNoWeightedData indicates the surviving submissions carried zero total weight.
	ErrNoWeightedData = errors.New("no weighted data")
	// ErrUnreliablePrice indicates the computed aggregate failed the reliability gate.
	ErrUnreliablePrice = errors.New("unreliable price")
	// ErrNoFallbackAvailable indicates no reliable, fresh-enough history entry exists.
	ErrNoFallbackAvailable = errors.New("no fallback available")
)
