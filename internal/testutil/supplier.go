package testutil

import (
	"context"
	"sync"
	"time"
)

// Call is the scripted outcome of one supplier invocation.
type Call[T any] struct {
	Value T
	Err   error
	Delay time.Duration
}

// Supplier is a scripted fetch function for query tests.
//
// Invocation n returns script[n] while the script lasts, then the fallback.
// A delayed call returns the context error if its context ends first,
// unless IgnoreCancel is set (simulating a transport that cannot abort).
type Supplier[T any] struct {
	mu       sync.Mutex
	script   []Call[T]
	fallback Call[T]
	calls    int

	// IgnoreCancel makes delayed calls run to completion after cancellation.
	IgnoreCancel bool

	// Started receives the 1-based invocation number as each call begins,
	// if non-nil. Sends are non-blocking.
	Started chan int
}

// NewSupplier creates a supplier returning script in order, then fallback.
func NewSupplier[T any](fallback Call[T], script ...Call[T]) *Supplier[T] {
	return &Supplier[T]{
		script:   script,
		fallback: fallback,
	}
}

// Fetch implements the supplier signature func(ctx) (T, error).
func (s *Supplier[T]) Fetch(ctx context.Context) (T, error) {
	s.mu.Lock()
	call := s.fallback
	if s.calls < len(s.script) {
		call = s.script[s.calls]
	}
	s.calls++
	n := s.calls
	started := s.Started
	ignoreCancel := s.IgnoreCancel
	s.mu.Unlock()

	if started != nil {
		select {
		case started <- n:
		default:
		}
	}

	if call.Delay > 0 {
		timer := time.NewTimer(call.Delay)
		defer timer.Stop()

		if ignoreCancel {
			<-timer.C
		} else {
			select {
			case <-timer.C:
			case <-ctx.Done():
				var zero T
				return zero, ctx.Err()
			}
		}
	}

	return call.Value, call.Err
}

// Calls returns how many times Fetch was invoked.
func (s *Supplier[T]) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Reset clears the invocation count.
func (s *Supplier[T]) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = 0
}
