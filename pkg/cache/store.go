package cache

import (
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")
)

// Store is an in-process map of query key to Entry.
//
// A Store is shared by every query that uses it; writes replace the whole
// entry (last write wins). Nothing is persisted.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	now     func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock replaces the time source used for FetchedAt and freshness checks.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		entries: make(map[string]*Entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the store's current time.
func (s *Store) Now() time.Time {
	return s.now()
}

// Get returns a copy of the entry for key.
// Entries whose eviction window has elapsed are reported absent even if the
// sweeper has not removed them yet.
func (s *Store) Get(key string) (Entry, bool) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok || entry.IsExpired(s.now()) {
		return Entry{}, false
	}
	return *entry, true
}

// Lookup is Get with an error result, returning ErrCacheMiss when absent.
func (s *Store) Lookup(key string) (Entry, error) {
	entry, ok := s.Get(key)
	if !ok {
		return Entry{}, ErrCacheMiss
	}
	return entry, nil
}

// Peek returns the entry for key regardless of its eviction window.
func (s *Store) Peek(key string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// Set stores value under key, replacing any existing entry and resetting
// FetchedAt to now. The stored entry is returned.
func (s *Store) Set(key string, value any, staleAfter, evictAfter time.Duration) Entry {
	entry := &Entry{
		Key:        key,
		Value:      value,
		FetchedAt:  s.now(),
		StaleAfter: staleAfter,
		EvictAfter: evictAfter,
	}

	s.mu.Lock()
	if _, exists := s.entries[key]; !exists {
		CacheEntries.Inc()
	}
	s.entries[key] = entry
	s.mu.Unlock()

	return *entry
}

// Delete removes the entry for key. Deleting a missing key is a no-op.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; ok {
		delete(s.entries, key)
		CacheEntries.Dec()
		CacheEvictions.WithLabelValues("delete").Inc()
	}
}

// Sweep removes every entry that is expired at now and returns how many
// were removed.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.entries {
		if entry.IsExpired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	if removed > 0 {
		CacheEntries.Sub(float64(removed))
		CacheEvictions.WithLabelValues("sweep").Add(float64(removed))
	}
	return removed
}

// Clear removes all entries.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.entries); n > 0 {
		CacheEntries.Sub(float64(n))
		CacheEvictions.WithLabelValues("clear").Add(float64(n))
	}
	s.entries = make(map[string]*Entry)
}

// Len returns the number of entries held, including expired ones not yet
// swept.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Keys returns the stored keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	return keys
}
