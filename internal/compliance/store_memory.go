package compliance

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory compliance store for tests and local runs.
// Attempt counters use real timestamps so trailing windows behave like the
// redis implementation.
type MemoryStore struct {
	mu        sync.Mutex
	blacklist map[string]struct{}
	dnc       map[string]DncEntry // key: country|number
	attempts  map[string][]time.Time
	clock     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blacklist: map[string]struct{}{},
		dnc:       map[string]DncEntry{},
		attempts:  map[string][]time.Time{},
		clock:     time.Now,
	}
}

// SetClock injects a deterministic clock for tests.
func (s *MemoryStore) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

// AddBlacklist registers a number on the internal blacklist.
func (s *MemoryStore) AddBlacklist(number string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blacklist[NormalizeNumber(number)] = struct{}{}
}

// AddDnc registers a DNC entry. A zero expiresAt never expires.
func (s *MemoryStore) AddDnc(number, country string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dnc[country+"|"+NormalizeNumber(number)] = DncEntry{ExpiresAt: expiresAt}
}

func (s *MemoryStore) IsBlacklisted(ctx context.Context, number string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blacklist[number]
	return ok, nil
}

func (s *MemoryStore) DncLookup(ctx context.Context, number, country string) (DncEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.dnc[country+"|"+number]
	return e, ok, nil
}

func (s *MemoryStore) AttemptCounts(ctx context.Context, number string) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	var day, week int
	for _, at := range s.attempts[number] {
		age := now.Sub(at)
		if age <= 24*time.Hour {
			day++
		}
		if age <= 7*24*time.Hour {
			week++
		}
	}
	return day, week, nil
}

func (s *MemoryStore) RecordAttempt(ctx context.Context, number string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[number] = append(s.attempts[number], s.clock())
	return nil
}
