// Package history retains a bounded trailing window of aggregated prices per
// asset for fallback reads and paged queries.
package history

import "tc.com/oracle-consensus/pkg/oracle"

// Store keeps up to oracle.MaxHistoryEntries aggregated prices per asset,
// oldest first, evicting FIFO on overflow. Not safe for concurrent use; the
// engine serializes access.
type Store struct {
	entries map[string][]oracle.AggregatedPrice
}

// New creates an empty store.
func New() *Store {
	return &Store{entries: make(map[string][]oracle.AggregatedPrice)}
}

// Append adds one aggregation result, dropping the oldest entries once the
// per-asset cap is exceeded.
func (s *Store) Append(p oracle.AggregatedPrice) {
	entries := append(s.entries[p.Asset], p)
	if len(entries) > oracle.MaxHistoryEntries {
		entries = entries[len(entries)-oracle.MaxHistoryEntries:]
	}
	s.entries[p.Asset] = entries
}

// All returns the full retained window for an asset, oldest first. The slice
// is a copy; callers may not mutate stored history.
func (s *Store) All(asset string) []oracle.AggregatedPrice {
	entries := s.entries[asset]
	out := make([]oracle.AggregatedPrice, len(entries))
	copy(out, entries)
	return out
}

// Recent returns the most recent limit entries for an asset, oldest first.
// The limit is capped at the retention bound.
func (s *Store) Recent(asset string, limit int) []oracle.AggregatedPrice {
	if limit <= 0 {
		return nil
	}
	if limit > oracle.MaxHistoryEntries {
		limit = oracle.MaxHistoryEntries
	}

	entries := s.entries[asset]
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]oracle.AggregatedPrice, len(entries))
	copy(out, entries)
	return out
}

// Page returns limit entries ending offset entries before the newest one,
// oldest first. offset 0 is the newest page.
func (s *Store) Page(asset string, limit, offset int) []oracle.AggregatedPrice {
	if limit <= 0 || offset < 0 {
		return nil
	}
	if limit > oracle.MaxHistoryEntries {
		limit = oracle.MaxHistoryEntries
	}

	entries := s.entries[asset]
	end := len(entries) - offset
	if end <= 0 {
		return nil
	}
	start := end - limit
	if start < 0 {
		start = 0
	}

	out := make([]oracle.AggregatedPrice, end-start)
	copy(out, entries[start:end])
	return out
}

// Len returns the number of retained entries for an asset.
func (s *Store) Len(asset string) int {
	return len(s.entries[asset])
}
