// Package validation rejects malformed, stale, out-of-bounds or unauthorized
// price submissions before they reach aggregation, and scores accepted prices
// against recent history.
package validation

import (
	"fmt"

	"tc.com/oracle-consensus/pkg/logging"
	"tc.com/oracle-consensus/pkg/oracle"
	"tc.com/oracle-consensus/pkg/oracle/registry"
)

// Validator runs the submission validation chain.
type Validator struct {
	logger *logging.Logger
}

// New creates a validator.
func New(logger *logging.Logger) *Validator {
	return &Validator{logger: logger}
}

// ValidateSubmission runs every check in order. No state is mutated here: the
// rate-limit check is read-only, so a submission failing a later check leaves
// the window counter untouched.
func (v *Validator) ValidateSubmission(
	req *oracle.PriceUpdateRequest,
	submitter oracle.NodeID,
	reg *registry.Registry,
	now uint64,
) error {
	node, ok := reg.Node(submitter)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnregisteredNode, submitter)
	}

	if !node.IsEligible(now) {
		return fmt.Errorf("%w: %s", ErrNodeNotEligible, submitter)
	}

	if rl, ok := reg.RateLimit(submitter); ok {
		if !rl.CanSubmit(now) {
			return fmt.Errorf("%w: %s", ErrRateLimitExceeded, submitter)
		}
	}

	if err := validatePriceData(req); err != nil {
		return err
	}

	if err := validateTimestamp(req.Timestamp, now); err != nil {
		return err
	}

	return validateSignature(req.Signature)
}

func validatePriceData(req *oracle.PriceUpdateRequest) error {
	if req.Price == 0 {
		return ErrInvalidPriceZero
	}
	if req.Price > oracle.MaxPrice {
		return fmt.Errorf("%w: %d", ErrPriceTooHigh, req.Price)
	}
	if req.Price < oracle.MinPrice {
		return fmt.Errorf("%w: %d", ErrPriceTooLow, req.Price)
	}
	if req.Asset == "" {
		return ErrInvalidAssetSymbol
	}
	return nil
}

func validateTimestamp(timestamp, now uint64) error {
	if oracle.Elapsed(now, timestamp) > oracle.PriceStalenessThreshold {
		return fmt.Errorf("%w: age %ds", ErrTimestampTooOld, oracle.Elapsed(now, timestamp))
	}
	if timestamp > now+oracle.FutureTolerance {
		return fmt.Errorf("%w: %d > %d", ErrTimestampInFuture, timestamp, now)
	}
	return nil
}

// validateSignature is a presence and format check only. Cryptographic
// verification happens outside the engine.
func validateSignature(signature string) error {
	if signature == "" {
		return ErrMissingSignature
	}
	if len(signature) < oracle.MinSignatureLength {
		return fmt.Errorf("%w: length %d", ErrInvalidSignatureFormat, len(signature))
	}
	return nil
}

// HistoricalConfidence scores a new price against up to the last 24h of
// buffered prices for the asset. The buffer is time-ordered, so the scan runs
// newest-first and stops at the first entry past the retention window. Any
// positive buffered price anchors the mean, including entries still carrying
// the default score; gating the scan on the confidence threshold would leave
// a fresh asset unable to ever accumulate scorable history. No usable history
// yields the default confidence of 50.
func HistoricalConfidence(history []oracle.PriceSubmission, newPrice, now uint64) uint32 {
	const defaultConfidence = 50

	var recent []uint64
	for i := len(history) - 1; i >= 0; i-- {
		s := history[i]
		if oracle.Elapsed(now, s.Timestamp) > oracle.SubmissionRetention {
			break
		}
		if s.Price > 0 {
			recent = append(recent, s.Price)
		}
	}

	if len(recent) == 0 {
		return defaultConfidence
	}

	var sum uint64
	for _, p := range recent {
		sum += p
	}
	avg := sum / uint64(len(recent))
	if avg == 0 {
		return 0
	}

	var deviation uint64
	if newPrice > avg {
		deviation = newPrice - avg
	} else {
		deviation = avg - newPrice
	}
	deviationPct := (deviation * 100) / avg

	// Higher deviation from the recent mean, lower confidence.
	switch {
	case deviationPct <= 1:
		return 95
	case deviationPct <= 3:
		return 90
	case deviationPct <= 5:
		return 85
	case deviationPct <= 8:
		return 80
	case deviationPct <= 12:
		return 75
	case deviationPct <= 18:
		return 70
	case deviationPct <= 25:
		return 65
	case deviationPct <= 35:
		return 60
	case deviationPct <= 50:
		return 55
	default:
		return defaultConfidence
	}
}
