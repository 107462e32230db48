// Package oracle defines the core domain types for the price consensus engine.
package oracle

// NodeID identifies a registered oracle node. Identity verification happens
// before the engine is called; the engine only compares IDs.
type NodeID string

// All prices are unsigned integers in base units, 1e7 base units per display
// unit. Arithmetic throughout the engine is floor division on these integers.
const (
	// BaseUnitsPerDisplayUnit is the scale between wire prices and display prices.
	BaseUnitsPerDisplayUnit = 10_000_000

	// MinStakeAmount is the minimum stake for a node to register and stay eligible.
	MinStakeAmount uint64 = 1000 * BaseUnitsPerDisplayUnit
	// MinReputationScore is the minimum reputation for submission eligibility.
	MinReputationScore uint32 = 70
	// MaxSubmissionsPerWindow caps submissions per node per rate-limit window.
	MaxSubmissionsPerWindow uint32 = 60
	// RateLimitWindow is the fixed rate-limit window length in seconds.
	RateLimitWindow uint64 = 3600
	// ReputationDecayTime excludes nodes that have not submitted for this long.
	ReputationDecayTime uint64 = 86400 * 7
	// MinSubmissionsForReputation is the sample size below which reputation stays 100.
	MinSubmissionsForReputation uint32 = 10

	// PriceStalenessThreshold is the maximum age of a submission or current price.
	PriceStalenessThreshold uint64 = 300
	// FallbackStalenessThreshold is the looser age bound for fallback reads.
	FallbackStalenessThreshold uint64 = 1800
	// SubmissionRetention bounds how long raw submissions stay buffered.
	SubmissionRetention uint64 = 86400
	// MaxPriceDeviation is the reliability bound on aggregate deviation, percent.
	MaxPriceDeviation uint32 = 10
	// MinConfidenceLevel is the minimum confidence for valid submissions and
	// reliable aggregates.
	MinConfidenceLevel uint32 = 70
	// MaxHistoryEntries caps the per-asset aggregated price history.
	MaxHistoryEntries = 100

	// MinPrice and MaxPrice bound accepted submission prices, in base units.
	MinPrice uint64 = 1
	MaxPrice uint64 = 1_000_000 * BaseUnitsPerDisplayUnit

	// FutureTolerance is the allowed clock drift for submission timestamps.
	FutureTolerance uint64 = 60
	// MinSignatureLength is the placeholder signature format check.
	MinSignatureLength = 64

	// AccuracyTolerancePct is the deviation from the aggregate within which a
	// contributing submission counts as accurate.
	AccuracyTolerancePct uint64 = 5
)

// Elapsed returns now-then, saturating at zero. Ledger timestamps are
// monotonically non-decreasing but submissions may carry future timestamps
// within tolerance.
func Elapsed(now, then uint64) uint64 {
	if then > now {
		return 0
	}
	return now - then
}

// OracleNode tracks a registered data source. Nodes are never deleted, only
// deactivated.
type OracleNode struct {
	ID                  NodeID `json:"id"`
	ReputationScore     uint32 `json:"reputation_score"`
	TotalSubmissions    uint32 `json:"total_submissions"`
	AccurateSubmissions uint32 `json:"accurate_submissions"`
	LastSubmissionTime  uint64 `json:"last_submission_time"`
	IsActive            bool   `json:"is_active"`
	StakeAmount         uint64 `json:"stake_amount"`
	RegisteredTime      uint64 `json:"registered_time"`
}

// NewOracleNode creates a node with perfect starting reputation.
func NewOracleNode(id NodeID, stakeAmount, now uint64) *OracleNode {
	return &OracleNode{
		ID:                 id,
		ReputationScore:    100,
		IsActive:           true,
		StakeAmount:        stakeAmount,
		RegisteredTime:     now,
		LastSubmissionTime: now,
	}
}

// CalculateReputation derives the reputation score from the accuracy ratio.
// Nodes below the minimum sample size keep a perfect score.
func (n *OracleNode) CalculateReputation() uint32 {
	if n.TotalSubmissions < MinSubmissionsForReputation {
		return 100
	}
	score := (n.AccurateSubmissions * 100) / n.TotalSubmissions
	if score > 100 {
		score = 100
	}
	return score
}

// UpdateReputation records an aggregation-round verdict and recomputes the score.
func (n *OracleNode) UpdateReputation(wasAccurate bool) {
	n.TotalSubmissions++
	if wasAccurate {
		n.AccurateSubmissions++
	}
	n.ReputationScore = n.CalculateReputation()
}

// IsEligible reports whether the node may contribute submissions at the given
// time. A historically good node whose reputation has gone stale is excluded.
func (n *OracleNode) IsEligible(now uint64) bool {
	return n.IsActive &&
		n.StakeAmount >= MinStakeAmount &&
		n.ReputationScore >= MinReputationScore &&
		!n.IsReputationStale(now)
}

// IsReputationStale reports whether the node has been silent past the decay window.
func (n *OracleNode) IsReputationStale(now uint64) bool {
	return Elapsed(now, n.LastSubmissionTime) > ReputationDecayTime
}

// SlashStake reduces the node's stake. Falling below the minimum stake
// deactivates the node.
func (n *OracleNode) SlashStake(amount uint64) {
	if amount >= n.StakeAmount {
		n.StakeAmount = 0
	} else {
		n.StakeAmount -= amount
	}
	if n.StakeAmount < MinStakeAmount {
		n.IsActive = false
	}
}

// NodeRegistration is the request payload for registering a node.
type NodeRegistration struct {
	NodeID      NodeID `json:"node_id"`
	StakeAmount uint64 `json:"stake_amount"`
	Metadata    string `json:"metadata,omitempty"`
}

// RateLimitInfo throttles a node with a fixed, atomically-resetting window.
// This is deliberately not a sliding window: a burst of up to twice the cap is
// possible straddling a window boundary.
type RateLimitInfo struct {
	NodeID          NodeID `json:"node_id"`
	SubmissionCount uint32 `json:"submission_count"`
	WindowStart     uint64 `json:"window_start"`
	LastSubmission  uint64 `json:"last_submission"`
}

// NewRateLimitInfo creates a fresh rate-limit window starting now.
func NewRateLimitInfo(id NodeID, now uint64) *RateLimitInfo {
	return &RateLimitInfo{NodeID: id, WindowStart: now}
}

// CanSubmit reports whether a submission would be accepted at the given time
// without mutating the window. Used during validation so that rejected
// submissions leave the counter untouched.
func (r *RateLimitInfo) CanSubmit(now uint64) bool {
	if Elapsed(now, r.WindowStart) >= RateLimitWindow {
		return true
	}
	return r.SubmissionCount < MaxSubmissionsPerWindow
}

// TryRecord counts a submission, resetting the window first if it has expired.
// Returns false when the in-window cap is exhausted.
func (r *RateLimitInfo) TryRecord(now uint64) bool {
	if Elapsed(now, r.WindowStart) >= RateLimitWindow {
		r.WindowStart = now
		r.SubmissionCount = 0
	}
	if r.SubmissionCount >= MaxSubmissionsPerWindow {
		return false
	}
	r.SubmissionCount++
	r.LastSubmission = now
	return true
}

// PriceUpdateRequest is the wire form of a price submission. The request
// timestamp is validated against the ledger clock; the stored submission is
// stamped with the ledger time itself.
type PriceUpdateRequest struct {
	Asset     string `json:"asset"`
	Price     uint64 `json:"price"`
	Timestamp uint64 `json:"timestamp"`
	Signature string `json:"signature"`
}

// PriceSubmission is an accepted, immutable price point from one node.
type PriceSubmission struct {
	Asset      string `json:"asset"`
	Price      uint64 `json:"price"`
	Timestamp  uint64 `json:"timestamp"`
	Submitter  NodeID `json:"submitter"`
	Confidence uint32 `json:"confidence"`
}

// IsValid reports whether the submission can enter aggregation.
func (s *PriceSubmission) IsValid() bool {
	return s.Price > 0 && s.Confidence >= MinConfidenceLevel
}

// IsStale reports whether the submission is too old to aggregate.
func (s *PriceSubmission) IsStale(now uint64) bool {
	return Elapsed(now, s.Timestamp) > PriceStalenessThreshold
}

// AggregatedPrice is the consensus output for one asset.
type AggregatedPrice struct {
	Asset      string `json:"asset"`
	Price      uint64 `json:"price"`
	Timestamp  uint64 `json:"timestamp"`
	NumSources uint32 `json:"num_sources"`
	Confidence uint32 `json:"confidence"`
	Deviation  uint32 `json:"deviation"`
}

// IsReliable reports whether the aggregate qualifies for trust: enough
// independent sources, high confidence, tight spread.
func (p *AggregatedPrice) IsReliable() bool {
	return p.NumSources >= 3 &&
		p.Confidence >= MinConfidenceLevel &&
		p.Deviation <= MaxPriceDeviation
}

// IsStale reports whether the aggregate is older than the given threshold.
func (p *AggregatedPrice) IsStale(now, threshold uint64) bool {
	return Elapsed(now, p.Timestamp) > threshold
}
