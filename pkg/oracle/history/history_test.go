package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tc.com/oracle-consensus/pkg/oracle"
)

const testTime uint64 = 1_700_000_000

func entry(asset string, n int) oracle.AggregatedPrice {
	return oracle.AggregatedPrice{
		Asset:      asset,
		Price:      1_000_000 + uint64(n),
		Timestamp:  testTime + uint64(n),
		NumSources: 3,
		Confidence: 85,
		Deviation:  2,
	}
}

func TestStore_AppendAndAll(t *testing.T) {
	s := New()

	for i := 0; i < 5; i++ {
		s.Append(entry("XLM", i))
	}

	all := s.All("XLM")
	require.Len(t, all, 5)
	assert.Equal(t, uint64(1_000_000), all[0].Price)
	assert.Equal(t, uint64(1_000_004), all[4].Price)
}

func TestStore_CapEvictsOldestFirst(t *testing.T) {
	s := New()

	for i := 0; i < oracle.MaxHistoryEntries+5; i++ {
		s.Append(entry("XLM", i))
	}

	all := s.All("XLM")
	require.Len(t, all, oracle.MaxHistoryEntries)
	// The five oldest entries are gone.
	assert.Equal(t, uint64(1_000_005), all[0].Price)
	assert.Equal(t, uint64(1_000_000+uint64(oracle.MaxHistoryEntries)+4), all[len(all)-1].Price)
}

func TestStore_AssetsAreIndependent(t *testing.T) {
	s := New()
	s.Append(entry("XLM", 1))
	s.Append(entry("BTC", 2))

	assert.Equal(t, 1, s.Len("XLM"))
	assert.Equal(t, 1, s.Len("BTC"))
	assert.Equal(t, 0, s.Len("ETH"))
}

func TestStore_Recent(t *testing.T) {
	s := New()
	for i := 0; i < 10; i++ {
		s.Append(entry("XLM", i))
	}

	recent := s.Recent("XLM", 3)
	require.Len(t, recent, 3)
	assert.Equal(t, uint64(1_000_007), recent[0].Price)
	assert.Equal(t, uint64(1_000_009), recent[2].Price)

	assert.Len(t, s.Recent("XLM", 50), 10)
	assert.Nil(t, s.Recent("XLM", 0))
	assert.Empty(t, s.Recent("ETH", 3))
}

func TestStore_Page(t *testing.T) {
	s := New()
	for i := 0; i < 10; i++ {
		s.Append(entry("XLM", i))
	}

	newest := s.Page("XLM", 3, 0)
	require.Len(t, newest, 3)
	assert.Equal(t, uint64(1_000_009), newest[2].Price)

	second := s.Page("XLM", 3, 3)
	require.Len(t, second, 3)
	assert.Equal(t, uint64(1_000_004), second[0].Price)
	assert.Equal(t, uint64(1_000_006), second[2].Price)

	// Offsets past the retained window return nothing.
	assert.Nil(t, s.Page("XLM", 3, 10))

	// A partial last page.
	last := s.Page("XLM", 5, 8)
	require.Len(t, last, 2)
	assert.Equal(t, uint64(1_000_000), last[0].Price)
}

func TestStore_ReadsReturnCopies(t *testing.T) {
	s := New()
	s.Append(entry("XLM", 1))

	all := s.All("XLM")
	all[0].Price = 42

	assert.Equal(t, uint64(1_000_001), s.All("XLM")[0].Price)
}
