package cache

import (
	"time"
)

// Entry is a cached query result.
//
// Value is owned by the Store. Readers receive a copy of the Entry, but the
// Value itself is shared and must not be mutated in place.
type Entry struct {
	// Key is the query identity the entry was stored under.
	Key string

	// Value is the last successfully fetched payload.
	Value any

	// FetchedAt is when the entry was written.
	FetchedAt time.Time

	// StaleAfter is how long after FetchedAt the entry stays fresh.
	StaleAfter time.Duration

	// EvictAfter is how long after FetchedAt the entry may be kept at all.
	EvictAfter time.Duration
}

// Age returns how long ago the entry was written, relative to now.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.FetchedAt)
}

// IsFresh reports whether the entry is still inside its staleness window.
// At exactly StaleAfter the entry is no longer fresh.
func (e *Entry) IsFresh(now time.Time) bool {
	return e.Age(now) < e.StaleAfter
}

// IsExpired reports whether the entry's eviction window has elapsed.
func (e *Entry) IsExpired(now time.Time) bool {
	return e.Age(now) >= e.EvictAfter
}

// TTL returns the time left until the entry expires.
// Returns 0 if already expired.
func (e *Entry) TTL(now time.Time) time.Duration {
	ttl := e.EvictAfter - e.Age(now)
	if ttl < 0 {
		return 0
	}
	return ttl
}
