package run

import (
	"sync"

	"qrng-lab/internal/metrics"
	"qrng-lab/internal/sampling"
)

// Store is a concurrency-safe holder of the most recent completed run. It
// models the session state an interactive dashboard keeps between
// interactions: the latest frequency map, sequence, and derived reports.
// Stored records are treated as immutable; Put replaces the current record
// wholesale and readers receive copies of any sliced data.
type Store struct {
	mu     sync.RWMutex
	latest *Record
	runs   uint64
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{}
}

// Put replaces the current record with the given completed run.
func (s *Store) Put(record Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.latest = &record
	s.runs++
	metrics.SetStoredSampleCount(len(record.Sequence))
}

// Latest returns the most recent record. It fails with ErrNoRun when no
// generation has completed yet.
func (s *Store) Latest() (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.latest == nil {
		return Record{}, ErrNoRun
	}
	return *s.latest, nil
}

// Preview returns a copy of the first limit values of the latest sequence.
// A non-positive or oversized limit yields the whole sequence. It fails with
// ErrNoRun when no generation has completed yet.
func (s *Store) Preview(limit int) (sampling.Sequence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.latest == nil {
		return nil, ErrNoRun
	}

	sequence := s.latest.Sequence
	if limit <= 0 || limit > len(sequence) {
		limit = len(sequence)
	}

	preview := make(sampling.Sequence, limit)
	copy(preview, sequence[:limit])
	return preview, nil
}

// Runs returns the number of completed runs stored since startup.
func (s *Store) Runs() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runs
}
