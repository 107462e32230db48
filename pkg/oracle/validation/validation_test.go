package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tc.com/oracle-consensus/pkg/logging"
	"tc.com/oracle-consensus/pkg/oracle"
	"tc.com/oracle-consensus/pkg/oracle/registry"
)

const testTime uint64 = 1_700_000_000

var testSignature = strings.Repeat("ab", 32)

func testRegistry(t *testing.T, ids ...oracle.NodeID) *registry.Registry {
	t.Helper()
	r := registry.New(logging.NewNoopLogger())
	for _, id := range ids {
		require.NoError(t, r.Register(oracle.NodeRegistration{
			NodeID:      id,
			StakeAmount: 2000 * oracle.BaseUnitsPerDisplayUnit,
		}, testTime))
	}
	return r
}

func testRequest() oracle.PriceUpdateRequest {
	return oracle.PriceUpdateRequest{
		Asset:     "XLM",
		Price:     1_000_000,
		Timestamp: testTime,
		Signature: testSignature,
	}
}

func TestValidateSubmission_Valid(t *testing.T) {
	v := New(logging.NewNoopLogger())
	r := testRegistry(t, "node1")

	req := testRequest()
	assert.NoError(t, v.ValidateSubmission(&req, "node1", r, testTime))
}

func TestValidateSubmission_UnregisteredNode(t *testing.T) {
	v := New(logging.NewNoopLogger())
	r := testRegistry(t)

	req := testRequest()
	err := v.ValidateSubmission(&req, "ghost", r, testTime)
	assert.ErrorIs(t, err, ErrUnregisteredNode)
}

func TestValidateSubmission_IneligibleNode(t *testing.T) {
	v := New(logging.NewNoopLogger())
	r := testRegistry(t, "node1")
	require.NoError(t, r.Deactivate("node1"))

	req := testRequest()
	err := v.ValidateSubmission(&req, "node1", r, testTime)
	assert.ErrorIs(t, err, ErrNodeNotEligible)
}

func TestValidateSubmission_RateLimited(t *testing.T) {
	v := New(logging.NewNoopLogger())
	r := testRegistry(t, "node1")

	rl, ok := r.RateLimit("node1")
	require.True(t, ok)
	for i := uint32(0); i < oracle.MaxSubmissionsPerWindow; i++ {
		require.True(t, rl.TryRecord(testTime))
	}

	req := testRequest()
	err := v.ValidateSubmission(&req, "node1", r, testTime)
	assert.ErrorIs(t, err, ErrRateLimitExceeded)
}

func TestValidateSubmission_PriceBounds(t *testing.T) {
	v := New(logging.NewNoopLogger())
	r := testRegistry(t, "node1")

	zero := testRequest()
	zero.Price = 0
	assert.ErrorIs(t, v.ValidateSubmission(&zero, "node1", r, testTime), ErrInvalidPriceZero)

	tooHigh := testRequest()
	tooHigh.Price = oracle.MaxPrice + 1
	assert.ErrorIs(t, v.ValidateSubmission(&tooHigh, "node1", r, testTime), ErrPriceTooHigh)

	emptyAsset := testRequest()
	emptyAsset.Asset = ""
	assert.ErrorIs(t, v.ValidateSubmission(&emptyAsset, "node1", r, testTime), ErrInvalidAssetSymbol)
}

func TestValidateSubmission_TimestampBounds(t *testing.T) {
	v := New(logging.NewNoopLogger())
	r := testRegistry(t, "node1")

	old := testRequest()
	old.Timestamp = testTime - oracle.PriceStalenessThreshold - 1
	assert.ErrorIs(t, v.ValidateSubmission(&old, "node1", r, testTime), ErrTimestampTooOld)

	future := testRequest()
	future.Timestamp = testTime + oracle.FutureTolerance + 1
	assert.ErrorIs(t, v.ValidateSubmission(&future, "node1", r, testTime), ErrTimestampInFuture)

	// Drift within tolerance is accepted.
	drift := testRequest()
	drift.Timestamp = testTime + oracle.FutureTolerance
	assert.NoError(t, v.ValidateSubmission(&drift, "node1", r, testTime))
}

func TestValidateSubmission_Signature(t *testing.T) {
	v := New(logging.NewNoopLogger())
	r := testRegistry(t, "node1")

	missing := testRequest()
	missing.Signature = ""
	assert.ErrorIs(t, v.ValidateSubmission(&missing, "node1", r, testTime), ErrMissingSignature)

	short := testRequest()
	short.Signature = "too_short"
	assert.ErrorIs(t, v.ValidateSubmission(&short, "node1", r, testTime), ErrInvalidSignatureFormat)
}

func TestValidateSubmission_DoesNotMutateRateLimit(t *testing.T) {
	v := New(logging.NewNoopLogger())
	r := testRegistry(t, "node1")

	// A rejected submission must leave the window counter untouched, and so
	// must an accepted validation pass; counting happens later.
	bad := testRequest()
	bad.Price = 0
	_ = v.ValidateSubmission(&bad, "node1", r, testTime)

	good := testRequest()
	require.NoError(t, v.ValidateSubmission(&good, "node1", r, testTime))

	rl, ok := r.RateLimit("node1")
	require.True(t, ok)
	assert.Equal(t, uint32(0), rl.SubmissionCount)
}

func buffered(prices []uint64, timestamp uint64) []oracle.PriceSubmission {
	out := make([]oracle.PriceSubmission, len(prices))
	for i, p := range prices {
		out[i] = oracle.PriceSubmission{
			Asset:      "XLM",
			Price:      p,
			Timestamp:  timestamp,
			Submitter:  "node1",
			Confidence: 80,
		}
	}
	return out
}

func TestHistoricalConfidence_NoHistory(t *testing.T) {
	assert.Equal(t, uint32(50), HistoricalConfidence(nil, 1_000_000, testTime))
}

func TestHistoricalConfidence_Tiers(t *testing.T) {
	history := buffered([]uint64{1_000_000, 1_000_000, 1_000_000}, testTime-60)

	tests := []struct {
		name     string
		newPrice uint64
		want     uint32
	}{
		{"within 1 percent", 1_005_000, 95},
		{"within 3 percent", 1_030_000, 90},
		{"within 5 percent", 1_050_000, 85},
		{"within 8 percent", 1_080_000, 80},
		{"within 12 percent", 1_120_000, 75},
		{"within 18 percent", 1_180_000, 70},
		{"within 25 percent", 1_250_000, 65},
		{"within 35 percent", 1_350_000, 60},
		{"within 50 percent", 1_500_000, 55},
		{"beyond 50 percent", 2_100_000, 50},
		{"below the mean", 950_000, 85},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HistoricalConfidence(history, tt.newPrice, testTime))
		})
	}
}

func TestHistoricalConfidence_IgnoresExpiredEntries(t *testing.T) {
	// The buffer is time-ordered oldest first; the scan runs newest-first and
	// stops at the first entry past the 24h retention window.
	history := append(
		buffered([]uint64{5_000_000}, testTime-oracle.SubmissionRetention-10),
		buffered([]uint64{1_000_000}, testTime-60)...,
	)

	assert.Equal(t, uint32(95), HistoricalConfidence(history, 1_000_000, testTime))
}

func TestHistoricalConfidence_AllExpired(t *testing.T) {
	history := buffered([]uint64{1_000_000}, testTime-oracle.SubmissionRetention-10)
	assert.Equal(t, uint32(50), HistoricalConfidence(history, 9_000_000, testTime))
}

func TestHistoricalConfidence_UsesDefaultScoredEntries(t *testing.T) {
	// The first submission for an asset carries the default score; it must
	// still anchor the mean so later submissions can score above it.
	history := []oracle.PriceSubmission{{
		Asset:      "XLM",
		Price:      1_000_000,
		Timestamp:  testTime - 60,
		Submitter:  "node1",
		Confidence: 50,
	}}

	assert.Equal(t, uint32(95), HistoricalConfidence(history, 1_001_000, testTime))
}
