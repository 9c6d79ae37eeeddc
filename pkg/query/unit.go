package query

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/query-cache/pkg/cache"
	"github.com/Sternrassler/query-cache/pkg/logging"
	"github.com/Sternrassler/query-cache/pkg/retry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Supplier fetches the value for a key. It may be called again on retry
// and should return promptly once ctx is cancelled.
type Supplier[T any] func(ctx context.Context) (T, error)

type listener[T any] struct {
	id int
	fn func(State[T])
}

// Unit is the per-key query state machine: Idle -> Loading -> Success or
// Error, and back to Loading on refetch or stale revalidation.
//
// Every fetch lifecycle holds a Token. Minting a new token supersedes the
// previous one; a lifecycle whose token is no longer current discards its
// result without touching the cache or the Unit's state.
type Unit[T any] struct {
	client *Client
	logger zerolog.Logger

	mu        sync.Mutex
	opts      Options
	supplier  Supplier[T]
	state     State[T]
	tokens    Tokens
	closed    bool
	listeners []listener[T]
	nextID    int

	// pending holds committed states awaiting delivery; delivering is set
	// while one goroutine drains it, which keeps delivery in commit order.
	pending    []State[T]
	delivering bool
}

// New creates a Unit bound to client. A nil client uses Default().
// New does not fetch; call Fetch to load the value.
func New[T any](client *Client, opts Options, supplier Supplier[T]) (*Unit[T], error) {
	if supplier == nil {
		return nil, fmt.Errorf("%w: supplier is required", ErrInvalidOptions)
	}

	if err := opts.Validate(); err != nil {
		return nil, err
	}

	if client == nil {
		client = Default()
	}

	u := &Unit[T]{
		client:   client,
		logger:   client.logger,
		opts:     opts,
		supplier: supplier,
	}

	client.register(u, opts.Key)
	activeUnits.Inc()

	return u, nil
}

// MustNew is New that panics on configuration errors.
func MustNew[T any](client *Client, opts Options, supplier Supplier[T]) *Unit[T] {
	u, err := New(client, opts, supplier)
	if err != nil {
		panic(err)
	}
	return u
}

// Key returns the current cache key.
func (u *Unit[T]) Key() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.opts.Key
}

// Options returns the Unit's options.
func (u *Unit[T]) Options() Options {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.opts
}

// State returns the current state.
func (u *Unit[T]) State() State[T] {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// Snapshot returns the current state with the value type erased.
func (u *Unit[T]) Snapshot() Snapshot {
	return u.State().Snapshot()
}

// Value returns the held value, if any.
func (u *Unit[T]) Value() (T, bool) {
	s := u.State()
	return s.Value, s.HasValue
}

// Err returns the last terminal failure.
func (u *Unit[T]) Err() error { return u.State().Err }

// IsLoading reports whether a fetch is in flight.
func (u *Unit[T]) IsLoading() bool { return u.State().IsLoading() }

// IsStale reports whether the held value is past its staleness window.
func (u *Unit[T]) IsStale() bool { return u.State().IsStale }

// IsSuccess reports a settled, error-free state holding a value.
func (u *Unit[T]) IsSuccess() bool { return u.State().IsSuccess() }

// IsError reports whether the last fetch failed.
func (u *Unit[T]) IsError() bool { return u.State().IsError() }

// Subscribe registers fn to receive every state change in order. The
// returned function removes the subscription.
func (u *Unit[T]) Subscribe(fn func(State[T])) (unsubscribe func()) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.nextID++
	id := u.nextID
	u.listeners = append(u.listeners, listener[T]{id: id, fn: fn})

	return func() {
		u.mu.Lock()
		defer u.mu.Unlock()
		for i, l := range u.listeners {
			if l.id == id {
				u.listeners = append(u.listeners[:i:i], u.listeners[i+1:]...)
				return
			}
		}
	}
}

// Fetch serves the key from cache or starts a fetch lifecycle.
//
// Without force, a fresh cache entry is adopted synchronously and the
// returned channel is already closed. A stale entry is adopted with
// IsStale set and revalidated in the background. Otherwise, or with
// force, the Unit enters Loading and the channel closes when the lifecycle
// ends, whether its result was applied or discarded.
//
// A closed or disabled Unit does nothing.
func (u *Unit[T]) Fetch(ctx context.Context, force bool) <-chan struct{} {
	done := make(chan struct{})

	u.mu.Lock()
	if u.closed || u.opts.Disabled {
		u.mu.Unlock()
		close(done)
		return done
	}

	opts := u.opts
	store := u.client.store

	if !force {
		if entry, ok := store.Get(opts.Key); ok {
			value, typed := entry.Value.(T)
			switch {
			case !typed:
				cache.CacheMisses.Inc()
				u.logger.Warn().
					Str("key", opts.Key).
					Str("cached_type", fmt.Sprintf("%T", entry.Value)).
					Msg("Cached value has a different type, refetching")

			case entry.IsFresh(store.Now()):
				cache.CacheHits.WithLabelValues("fresh").Inc()
				u.logger.Debug().
					Str("key", opts.Key).
					Dur("age", entry.Age(store.Now())).
					Msg("Cache hit")

				// The cached value supersedes any fetch still in flight.
				u.supersede()
				u.state.Value = value
				u.state.HasValue = true
				u.state.Loading = false
				u.state.Err = nil
				u.state.IsStale = false
				u.state.LastFetchAt = entry.FetchedAt
				u.commitAndUnlock()

				close(done)
				return done

			default:
				cache.CacheHits.WithLabelValues("stale").Inc()
				u.logger.Debug().
					Str("key", opts.Key).
					Dur("age", entry.Age(store.Now())).
					Msg("Stale cache hit, revalidating")

				u.state.Value = value
				u.state.HasValue = true
				u.state.IsStale = true
				u.state.LastFetchAt = entry.FetchedAt
			}
		} else {
			cache.CacheMisses.Inc()
			u.logger.Debug().Str("key", opts.Key).Msg("Cache miss")
		}
	}

	u.supersede()
	tok, fetchCtx := u.tokens.Mint(ctx)
	supplier := u.supplier
	u.state.Loading = true
	u.state.Err = nil
	u.commitAndUnlock()

	go u.run(fetchCtx, tok, opts, supplier, force, done)
	return done
}

// Refetch always performs a new retrieval, superseding any fetch in flight.
func (u *Unit[T]) Refetch(ctx context.Context) <-chan struct{} {
	return u.Fetch(ctx, true)
}

// InvalidateQuery deletes the key's cache entry (announcing it on the
// client's bus, if any) and refetches. A missing entry is not an error.
func (u *Unit[T]) InvalidateQuery(ctx context.Context) <-chan struct{} {
	u.client.invalidate(ctx, u.Key())
	return u.Refetch(ctx)
}

// SetKey rebinds the Unit to key. Any fetch for the old key is superseded,
// the state resets to Idle, and the new key is fetched.
func (u *Unit[T]) SetKey(ctx context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("%w: key is required", ErrInvalidOptions)
	}

	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return ErrClosed
	}
	old := u.opts.Key
	if old == key {
		u.mu.Unlock()
		return nil
	}
	u.supersede()
	u.opts.Key = key
	u.state = State[T]{}
	u.commitAndUnlock()

	u.client.rekey(u, old, key)
	u.logger.Debug().Str("from", old).Str("to", key).Msg("Query key changed")

	u.Fetch(ctx, false)
	return nil
}

// SetSupplier replaces the supplier. A fetch in flight with the old
// supplier is superseded and the key is fetched again (served from cache
// when fresh).
func (u *Unit[T]) SetSupplier(ctx context.Context, supplier Supplier[T]) error {
	if supplier == nil {
		return fmt.Errorf("%w: supplier is required", ErrInvalidOptions)
	}

	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return ErrClosed
	}
	u.supplier = supplier
	if u.supersede() {
		u.state.Loading = false
	}
	u.commitAndUnlock()

	u.Fetch(ctx, false)
	return nil
}

// SetEnabled turns fetching on or off. Disabling supersedes any fetch in
// flight; enabling fetches.
func (u *Unit[T]) SetEnabled(ctx context.Context, enabled bool) error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return ErrClosed
	}
	wasDisabled := u.opts.Disabled
	u.opts.Disabled = !enabled
	if !enabled && u.supersede() {
		u.state.Loading = false
		u.commitAndUnlock()
	} else {
		u.mu.Unlock()
	}

	if enabled && wasDisabled {
		u.Fetch(ctx, false)
	}
	return nil
}

// Close ends the subscription: any fetch in flight is superseded, listeners
// are dropped and the Unit leaves the client's registry. The cache entry is
// kept for other Units. Close is idempotent.
func (u *Unit[T]) Close() {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return
	}
	u.closed = true
	u.supersede()
	u.listeners = nil
	u.pending = nil
	key := u.opts.Key
	u.mu.Unlock()

	u.client.unregister(u, key)
	activeUnits.Dec()
}

// supersede invalidates the current token and detaches its shared load so
// later loads of the key start a new supplier call. Requires u.mu.
func (u *Unit[T]) supersede() bool {
	if !u.tokens.Invalidate() {
		return false
	}
	u.client.inflight.Forget(u.opts.Key)
	return true
}

func (u *Unit[T]) onFocus(ctx context.Context) {
	u.mu.Lock()
	eligible := !u.closed && !u.opts.Disabled && u.opts.RefetchOnFocus
	u.mu.Unlock()

	if eligible {
		u.Fetch(ctx, false)
	}
}

func (u *Unit[T]) onRemoteInvalidate(ctx context.Context) {
	u.Refetch(ctx)
}

// run executes one fetch lifecycle and applies its outcome if tok is still
// current.
func (u *Unit[T]) run(ctx context.Context, tok *Token, opts Options, supplier Supplier[T], force bool, done chan struct{}) {
	defer close(done)

	ctx, span := u.client.tracer.Start(ctx, "query.fetch", trace.WithAttributes(
		attribute.String("query.key", opts.Key),
		attribute.Bool("query.forced", force),
	))
	defer span.End()

	start := time.Now()
	logger := logging.ForFetch(u.logger, opts.Key, tok.ID())
	ctrl := retry.NewController(opts.retryPolicy(), logger)

	fetch := func(ctx context.Context) (any, error) {
		var value T
		err := ctrl.Do(ctx, func(ctx context.Context) error {
			v, err := supplier(ctx)
			if err != nil {
				return err
			}
			value = v
			return nil
		})
		return value, err
	}

	result, err := u.client.load(ctx, opts.Key, !force, fetch)

	var value T
	if err == nil && result != nil {
		typed, ok := result.(T)
		if !ok {
			// Joined a load started by a Unit of another type.
			result, err = fetch(ctx)
			typed, _ = result.(T)
		}
		value = typed
	}

	fetchDuration.Observe(time.Since(start).Seconds())

	u.mu.Lock()
	if u.closed || !u.tokens.IsCurrent(tok) {
		u.mu.Unlock()
		fetchesTotal.WithLabelValues("superseded").Inc()
		span.SetAttributes(attribute.String("query.outcome", "superseded"))
		logger.Debug().Msg("Discarding superseded fetch result")
		return
	}
	u.tokens.Finish(tok)

	var outcome string
	var report error
	switch {
	case err == nil:
		entry := u.client.store.Set(opts.Key, value, opts.StaleAfter, opts.EvictAfter)
		u.state = State[T]{
			Value:       value,
			HasValue:    true,
			LastFetchAt: entry.FetchedAt,
		}
		outcome = "success"

	case errors.Is(err, retry.ErrCancelled):
		u.state.Loading = false
		outcome = "cancelled"

	default:
		u.state.Loading = false
		u.state.Err = retry.Cause(err)
		report = err
		outcome = "error"
	}
	u.commitAndUnlock()

	fetchesTotal.WithLabelValues(outcome).Inc()
	span.SetAttributes(attribute.String("query.outcome", outcome))
	if outcome != "cancelled" {
		// The controller may still be running when the lifecycle was cancelled.
		span.SetAttributes(attribute.Int("query.attempts", ctrl.Attempt()))
	}

	if report != nil {
		span.RecordError(report)
		span.SetStatus(codes.Error, report.Error())
		u.client.reporter.Report(context.WithoutCancel(ctx), opts.Key, report)
		return
	}

	logger.Debug().Str("outcome", outcome).Dur("duration", time.Since(start)).Msg("Fetch complete")
}

// commitAndUnlock queues the current state for listeners, releases u.mu
// and delivers queued states unless another goroutine is already doing so.
// Listeners run without any lock held and may call back into the Unit.
func (u *Unit[T]) commitAndUnlock() {
	if len(u.listeners) > 0 {
		u.pending = append(u.pending, u.state)
	}
	if u.delivering || len(u.pending) == 0 {
		u.mu.Unlock()
		return
	}
	u.delivering = true
	u.mu.Unlock()

	for {
		u.mu.Lock()
		if len(u.pending) == 0 {
			u.delivering = false
			u.mu.Unlock()
			return
		}
		batch := u.pending
		u.pending = nil
		listeners := append([]listener[T](nil), u.listeners...)
		u.mu.Unlock()

		for _, s := range batch {
			for _, l := range listeners {
				l.fn(s)
			}
		}
	}
}
