package validation

import (
	"sort"

	"tc.com/oracle-consensus/pkg/oracle"
)

// Anomaly is an advisory flag raised against a submitter. Anomalies never
// block a submission on their own; they are surfaced for operators.
type Anomaly string

const (
	// AnomalyRapidSubmissions flags five or more submissions inside five minutes.
	AnomalyRapidSubmissions Anomaly = "rapid_submissions"
	// AnomalyConsistentOutliers flags a node whose prices persistently deviate
	// from its peers.
	AnomalyConsistentOutliers Anomaly = "consistent_outliers"
	// AnomalySuspiciousPatterns flags unnaturally smooth monotone price series.
	AnomalySuspiciousPatterns Anomaly = "suspicious_patterns"
)

const (
	rapidWindow        uint64 = 300 // 5 minutes
	rapidCount                = 5
	outlierWindow      uint64 = 300 // +/- around the submission
	outlierDeviationPct       = 15
	outlierRatioPct           = 60
	patternMinSamples         = 4
)

// DetectAnomalies inspects the buffered submissions for one asset and flags
// suspicious behavior by the given submitter.
func DetectAnomalies(submissions []oracle.PriceSubmission, submitter oracle.NodeID, now uint64) []Anomaly {
	var own []oracle.PriceSubmission
	for _, s := range submissions {
		if s.Submitter == submitter {
			own = append(own, s)
		}
	}

	var anomalies []Anomaly
	if detectRapidSubmissions(own, now) {
		anomalies = append(anomalies, AnomalyRapidSubmissions)
	}
	if detectConsistentOutliers(own, submissions) {
		anomalies = append(anomalies, AnomalyConsistentOutliers)
	}
	if detectSuspiciousPatterns(own) {
		anomalies = append(anomalies, AnomalySuspiciousPatterns)
	}
	return anomalies
}

func detectRapidSubmissions(own []oracle.PriceSubmission, now uint64) bool {
	if len(own) < rapidCount {
		return false
	}
	recent := 0
	for _, s := range own {
		if oracle.Elapsed(now, s.Timestamp) <= rapidWindow {
			recent++
		}
	}
	return recent >= rapidCount
}

// detectConsistentOutliers checks how often the node's prices deviate more
// than 15% from the average of concurrent (+/- 300s) submissions by other
// nodes. More than 60% outliers is suspicious.
func detectConsistentOutliers(own, all []oracle.PriceSubmission) bool {
	if len(own) < 3 || len(all) < 5 {
		return false
	}

	outliers := 0
	for _, mine := range own {
		var otherSum, otherCount uint64
		for _, other := range all {
			if other.Submitter == mine.Submitter || other.Asset != mine.Asset {
				continue
			}
			if oracle.Elapsed(mine.Timestamp, other.Timestamp) <= outlierWindow ||
				oracle.Elapsed(other.Timestamp, mine.Timestamp) <= outlierWindow {
				otherSum += other.Price
				otherCount++
			}
		}
		if otherCount < 2 {
			continue
		}

		avg := otherSum / otherCount
		if avg == 0 {
			continue
		}
		var deviation uint64
		if mine.Price > avg {
			deviation = mine.Price - avg
		} else {
			deviation = avg - mine.Price
		}
		if (deviation*100)/avg > outlierDeviationPct {
			outliers++
		}
	}

	return (outliers*100)/len(own) > outlierRatioPct
}

// detectSuspiciousPatterns flags a time-ordered price series that is perfectly
// monotonically increasing or decreasing. Real market feeds jitter.
func detectSuspiciousPatterns(own []oracle.PriceSubmission) bool {
	if len(own) < patternMinSamples {
		return false
	}

	ordered := make([]oracle.PriceSubmission, len(own))
	copy(ordered, own)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp < ordered[j].Timestamp
	})

	ascending, descending := true, true
	for i := 1; i < len(ordered); i++ {
		if ordered[i].Price <= ordered[i-1].Price {
			ascending = false
		}
		if ordered[i].Price >= ordered[i-1].Price {
			descending = false
		}
	}
	return ascending || descending
}
