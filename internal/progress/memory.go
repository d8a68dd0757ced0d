package progress

import (
	"context"
	"sync"
	"time"

	"github.com/powlabs/proofwork/internal/types"
)

// MemoryStore is the default in-process progress store: a flat map with
// on-read eviction plus a periodic sweep. The clock is injectable so
// eviction is testable without real time delays.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]types.ProgressState
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore creates a memory store with the standard TTL and wall
// clock, and starts the background sweep.
func NewMemoryStore() *MemoryStore {
	s := NewMemoryStoreWithClock(TTL, time.Now)
	go s.sweep()
	return s
}

// NewMemoryStoreWithClock creates a memory store with an explicit TTL and
// clock and no background sweep; eviction happens on read.
func NewMemoryStoreWithClock(ttl time.Duration, now func() time.Time) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]types.ProgressState),
		ttl:     ttl,
		now:     now,
	}
}

// Set overwrites the subject's entry with a fresh timestamp.
func (s *MemoryStore) Set(_ context.Context, subject, stage, message string, percent int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[subject] = types.ProgressState{
		Subject:   subject,
		Stage:     stage,
		Message:   message,
		Percent:   percent,
		UpdatedAt: s.now(),
	}
	return nil
}

// Get returns the subject's entry, evicting it when expired.
func (s *MemoryStore) Get(_ context.Context, subject string) (types.ProgressState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[subject]
	if !ok {
		return types.ProgressState{}, false, nil
	}
	if s.now().Sub(entry.UpdatedAt) > s.ttl {
		delete(s.entries, subject)
		return types.ProgressState{}, false, nil
	}
	return entry, true, nil
}

// sweep removes expired entries periodically so abandoned subjects do not
// accumulate between reads.
func (s *MemoryStore) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		s.mu.Lock()
		now := s.now()
		for subject, entry := range s.entries {
			if now.Sub(entry.UpdatedAt) > s.ttl {
				delete(s.entries, subject)
			}
		}
		s.mu.Unlock()
	}
}
