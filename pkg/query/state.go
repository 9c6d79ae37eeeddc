package query

import (
	"time"
)

// Status is the coarse lifecycle phase of a Unit.
type Status int

const (
	// StatusIdle means nothing was fetched yet (or the Unit is disabled).
	StatusIdle Status = iota
	// StatusLoading means a fetch is in flight.
	StatusLoading
	// StatusSuccess means a value is available and the last fetch succeeded.
	StatusSuccess
	// StatusError means the last fetch failed terminally.
	StatusError
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// State is a snapshot of a Unit as seen by its caller.
type State[T any] struct {
	// Value is the current value; meaningful only when HasValue is true.
	Value    T
	HasValue bool

	// Loading is true while the current fetch lifecycle is in flight.
	Loading bool

	// Err is the last terminal failure, cleared when a new fetch starts.
	Err error

	// IsStale marks a value served from cache past its staleness window.
	IsStale bool

	// LastFetchAt is when the held value was fetched.
	LastFetchAt time.Time
}

// IsLoading reports whether a fetch is in flight.
func (s State[T]) IsLoading() bool {
	return s.Loading
}

// IsSuccess reports a settled, error-free state holding a value.
func (s State[T]) IsSuccess() bool {
	return !s.Loading && s.Err == nil && s.HasValue
}

// IsError reports whether the last fetch failed.
func (s State[T]) IsError() bool {
	return s.Err != nil
}

// Status derives the lifecycle phase.
func (s State[T]) Status() Status {
	switch {
	case s.Loading:
		return StatusLoading
	case s.Err != nil:
		return StatusError
	case s.HasValue:
		return StatusSuccess
	default:
		return StatusIdle
	}
}

// Snapshot erases the value type for use in an Aggregate.
func (s State[T]) Snapshot() Snapshot {
	snap := Snapshot{
		HasValue:    s.HasValue,
		Loading:     s.Loading,
		Err:         s.Err,
		IsStale:     s.IsStale,
		LastFetchAt: s.LastFetchAt,
	}
	if s.HasValue {
		snap.Value = s.Value
	}
	return snap
}

// Snapshot is a type-erased State.
type Snapshot struct {
	Value       any
	HasValue    bool
	Loading     bool
	Err         error
	IsStale     bool
	LastFetchAt time.Time
}

// IsLoading reports whether a fetch is in flight.
func (s Snapshot) IsLoading() bool { return s.Loading }

// IsSuccess reports a settled, error-free state holding a value.
func (s Snapshot) IsSuccess() bool { return !s.Loading && s.Err == nil && s.HasValue }

// IsError reports whether the last fetch failed.
func (s Snapshot) IsError() bool { return s.Err != nil }
