package utils

import (
	"sync"
	"time"
)

// RecentSet is an owned TTL memo of recently seen keys. Entries live for ttl
// after they are marked, or for the ttl given to MarkIfAbsentFor. Expired
// entries are ignored by lookups and removed by Sweep; nothing is removed in
// the background.
type RecentSet[K comparable] struct {
	mu  sync.Mutex
	ttl time.Duration
	// key -> expiry
	entries map[K]time.Time
	now     func() time.Time
}

// NewRecentSet creates a memo with the given TTL. now may be nil to use time.Now.
func NewRecentSet[K comparable](ttl time.Duration, now func() time.Time) *RecentSet[K] {
	if now == nil {
		now = time.Now
	}
	return &RecentSet[K]{ttl: ttl, entries: make(map[K]time.Time), now: now}
}

// TTL returns the entry lifetime.
func (s *RecentSet[K]) TTL() time.Duration {
	return s.ttl
}

// MarkIfAbsent records key and returns true, unless key was marked within
// the TTL, in which case it returns false and leaves the entry untouched.
func (s *RecentSet[K]) MarkIfAbsent(key K) bool {
	return s.MarkIfAbsentFor(key, s.ttl)
}

// MarkIfAbsentFor is MarkIfAbsent with a per-key ttl.
func (s *RecentSet[K]) MarkIfAbsentFor(key K, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if expiry, ok := s.entries[key]; ok && now.Before(expiry) {
		return false
	}
	s.entries[key] = now.Add(ttl)
	return true
}

// Contains reports whether key was marked within the TTL.
func (s *RecentSet[K]) Contains(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, ok := s.entries[key]
	return ok && s.now().Before(expiry)
}

// Sweep drops expired entries and returns how many were removed.
func (s *RecentSet[K]) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, expiry := range s.entries {
		if !now.Before(expiry) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired or not.
func (s *RecentSet[K]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
