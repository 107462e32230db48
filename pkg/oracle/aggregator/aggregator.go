// Package aggregator turns a set of validated price submissions into a single
// trustworthy aggregated price using a reputation/stake/confidence-weighted
// median with outlier rejection.
package aggregator

import (
	"fmt"
	"sort"
	"time"

	"tc.com/oracle-consensus/pkg/logging"
	"tc.com/oracle-consensus/pkg/metrics"
	"tc.com/oracle-consensus/pkg/oracle"
)

// NodeSource looks up node records for weighting. Satisfied by *registry.Registry.
type NodeSource interface {
	Node(id oracle.NodeID) (*oracle.OracleNode, bool)
}

// Aggregator computes weighted-median consensus prices.
type Aggregator struct {
	logger *logging.Logger
}

// New creates an aggregator.
func New(logger *logging.Logger) *Aggregator {
	return &Aggregator{logger: logger}
}

// Aggregate filters the submission set, removes outliers, and computes the
// weighted median together with confidence and deviation. The result is only
// returned when it passes the reliability gate; an unreliable result is
// discarded with ErrUnreliablePrice.
func (a *Aggregator) Aggregate(
	asset string,
	submissions []oracle.PriceSubmission,
	nodes NodeSource,
	now uint64,
) (*oracle.AggregatedPrice, error) {
	start := time.Now()
	defer func() {
		metrics.RecordAggregation(asset, time.Since(start))
	}()

	if len(submissions) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPriceData, asset)
	}

	valid := a.filterValidSubmissions(asset, submissions, nodes, now)
	if len(valid) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoValidSubmissions, asset)
	}

	price, err := weightedMedian(valid, nodes)
	if err != nil {
		return nil, err
	}

	result := &oracle.AggregatedPrice{
		Asset:      asset,
		Price:      price,
		Timestamp:  now,
		NumSources: uint32(len(valid)),
		Confidence: confidence(valid, nodes),
		Deviation:  priceDeviation(valid),
	}

	if !result.IsReliable() {
		a.logger.Warn("Discarding unreliable aggregate",
			"asset", asset,
			"sources", result.NumSources,
			"confidence", result.Confidence,
			"deviation", result.Deviation)
		return nil, fmt.Errorf("%w: %s", ErrUnreliablePrice, asset)
	}

	a.logger.Debug("Aggregated price",
		"asset", asset,
		"price", price,
		"sources", result.NumSources,
		"confidence", result.Confidence,
		"deviation", result.Deviation)
	return result, nil
}

// filterValidSubmissions keeps valid, fresh submissions from eligible nodes,
// then strips outliers.
func (a *Aggregator) filterValidSubmissions(
	asset string,
	submissions []oracle.PriceSubmission,
	nodes NodeSource,
	now uint64,
) []oracle.PriceSubmission {
	valid := make([]oracle.PriceSubmission, 0, len(submissions))
	for _, s := range submissions {
		if !s.IsValid() || s.IsStale(now) {
			continue
		}
		node, ok := nodes.Node(s.Submitter)
		if !ok || !node.IsEligible(now) {
			continue
		}
		valid = append(valid, s)
	}
	return a.removeOutliers(asset, valid)
}

// removeOutliers discards submissions deviating more than 10% from the
// unweighted median. Skipped below three submissions, where a median is not a
// meaningful anchor.
func (a *Aggregator) removeOutliers(asset string, submissions []oracle.PriceSubmission) []oracle.PriceSubmission {
	if len(submissions) < 3 {
		return submissions
	}

	prices := make([]uint64, len(submissions))
	for i, s := range submissions {
		prices[i] = s.Price
	}
	median := medianOf(prices)

	maxDeviation := (median * uint64(oracle.MaxPriceDeviation)) / 100
	filtered := make([]oracle.PriceSubmission, 0, len(submissions))
	for _, s := range submissions {
		var deviation uint64
		if s.Price > median {
			deviation = s.Price - median
		} else {
			deviation = median - s.Price
		}
		if deviation > maxDeviation {
			a.logger.Debug("Rejecting outlier submission",
				"asset", asset,
				"node", s.Submitter,
				"price", s.Price,
				"median", median)
			metrics.RecordOutlierRejection(asset)
			continue
		}
		filtered = append(filtered, s)
	}
	return filtered
}

// medianOf computes the floor-division median of a price set. Even-length
// inputs take the floored mean of the middle pair.
func medianOf(prices []uint64) uint64 {
	sorted := make([]uint64, len(prices))
	copy(sorted, prices)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 0 {
		mid := n / 2
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[n/2]
}

// nodeWeight scales a submission by its node's reputation (1-10x), the
// submission's own confidence (1-5x) and the node's stake tier (1-5x).
func nodeWeight(node *oracle.OracleNode, s *oracle.PriceSubmission) uint64 {
	reputation := uint64(node.ReputationScore) / 10
	if reputation < 1 {
		reputation = 1
	}
	conf := uint64(s.Confidence) / 20
	if conf < 1 {
		conf = 1
	}
	stake := node.StakeAmount / oracle.MinStakeAmount
	if stake < 1 {
		stake = 1
	}
	if stake > 5 {
		stake = 5
	}
	return reputation * conf * stake
}

// weightedMedian replicates each price by its weight into a multiset and takes
// the middle element (floored mean of the middle pair for even sizes).
func weightedMedian(submissions []oracle.PriceSubmission, nodes NodeSource) (uint64, error) {
	var weighted []uint64
	for i := range submissions {
		node, ok := nodes.Node(submissions[i].Submitter)
		if !ok {
			continue
		}
		weight := nodeWeight(node, &submissions[i])
		for w := uint64(0); w < weight; w++ {
			weighted = append(weighted, submissions[i].Price)
		}
	}

	if len(weighted) == 0 {
		return 0, ErrNoWeightedData
	}
	return medianOf(weighted), nil
}

// confidence is the weight-proportional average of submission confidences plus
// a bonus for source count, capped at 100.
func confidence(submissions []oracle.PriceSubmission, nodes NodeSource) uint32 {
	if len(submissions) == 0 {
		return 0
	}

	var totalConfidence, totalWeight uint64
	for i := range submissions {
		node, ok := nodes.Node(submissions[i].Submitter)
		if !ok {
			continue
		}
		weight := nodeWeight(node, &submissions[i])
		totalConfidence += uint64(submissions[i].Confidence) * weight
		totalWeight += weight
	}
	if totalWeight == 0 {
		return 0
	}

	weightedConfidence := totalConfidence / totalWeight

	var sourceBonus uint64
	switch n := len(submissions); {
	case n == 1:
		sourceBonus = 0
	case n == 2:
		sourceBonus = 5
	case n <= 5:
		sourceBonus = 10
	default:
		sourceBonus = 15
	}

	total := weightedConfidence + sourceBonus
	if total > 100 {
		total = 100
	}
	return uint32(total)
}

// priceDeviation is the largest percentage deviation of any submission from
// the simple mean of the set: 0 below two submissions, 100 for a zero mean.
func priceDeviation(submissions []oracle.PriceSubmission) uint32 {
	if len(submissions) < 2 {
		return 0
	}

	var sum uint64
	for _, s := range submissions {
		sum += s.Price
	}
	avg := sum / uint64(len(submissions))
	if avg == 0 {
		return 100
	}

	var maxDeviation uint64
	for _, s := range submissions {
		var deviation uint64
		if s.Price > avg {
			deviation = s.Price - avg
		} else {
			deviation = avg - s.Price
		}
		pct := (deviation * 100) / avg
		if pct > maxDeviation {
			maxDeviation = pct
		}
	}
	if maxDeviation > 100 {
		maxDeviation = 100
	}
	return uint32(maxDeviation)
}

// Verdict is one contributor's accuracy judgement for an aggregation round.
type Verdict struct {
	Node        oracle.NodeID
	WasAccurate bool
}

// Verdicts judges every contributing submission against the aggregated price:
// within 5% counts as accurate. Applied to the registry as a separate phase so
// the registry is never mutated while the round is being computed.
func Verdicts(submissions []oracle.PriceSubmission, aggregatedPrice uint64) []Verdict {
	verdicts := make([]Verdict, 0, len(submissions))
	for _, s := range submissions {
		var diff uint64
		if s.Price > aggregatedPrice {
			diff = s.Price - aggregatedPrice
		} else {
			diff = aggregatedPrice - s.Price
		}

		deviationPct := uint64(100)
		if aggregatedPrice > 0 {
			deviationPct = (diff * 100) / aggregatedPrice
		}

		verdicts = append(verdicts, Verdict{
			Node:        s.Submitter,
			WasAccurate: deviationPct <= oracle.AccuracyTolerancePct,
		})
	}
	return verdicts
}

// FallbackPrice scans an asset's retained history newest-first and returns the
// first entry that is reliable and younger than the looser fallback threshold.
func FallbackPrice(history []oracle.AggregatedPrice, now uint64) (*oracle.AggregatedPrice, error) {
	for i := len(history) - 1; i >= 0; i-- {
		entry := history[i]
		if entry.IsReliable() && !entry.IsStale(now, oracle.FallbackStalenessThreshold) {
			return &entry, nil
		}
	}
	return nil, ErrNoFallbackAvailable
}
