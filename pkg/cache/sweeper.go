package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultSweepInterval is how often the sweeper scans the store.
	DefaultSweepInterval = 60 * time.Second
)

// Sweeper periodically removes expired entries from a Store.
//
// The sweeper owns its goroutine: Start launches it, Stop cancels it and
// waits for it to exit. A panic during a sweep is recovered and logged; the
// next tick runs normally.
type Sweeper struct {
	store    *Store
	interval time.Duration
	logger   zerolog.Logger

	// sweep is the per-tick operation, replaceable in tests.
	sweep func(now time.Time) int

	mu     sync.Mutex
	cancel context.CancelFunc
	hooks  []func(removed int)
	wg     sync.WaitGroup
}

// NewSweeper creates a sweeper for store. A non-positive interval falls back
// to DefaultSweepInterval.
func NewSweeper(store *Store, interval time.Duration, logger zerolog.Logger) *Sweeper {
	if store == nil {
		panic("store cannot be nil")
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		logger:   logger,
		sweep:    store.Sweep,
	}
}

// Interval returns the configured sweep interval.
func (s *Sweeper) Interval() time.Duration {
	return s.interval
}

// Start launches the background loop. Calling Start on a running sweeper is
// a no-op. The loop ends when ctx is done or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.loop(ctx)

	s.logger.Debug().
		Dur("interval", s.interval).
		Msg("Eviction sweeper started")
}

// Stop cancels the loop and waits for it to exit. Safe to call repeatedly.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()

	s.logger.Debug().Msg("Eviction sweeper stopped")
}

// Running reports whether the background loop is active.
func (s *Sweeper) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// OnSweep registers fn to run after every sweep, including sweeps that
// removed nothing. Hooks run on the sweeping goroutine in registration
// order; a panicking hook is recovered like a panicking sweep.
func (s *Sweeper) OnSweep(fn func(removed int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// RunOnce performs a single sweep at the store's current time and returns
// the number of removed entries.
func (s *Sweeper) RunOnce() (removed int, err error) {
	defer func() {
		if r := recover(); r != nil {
			SweeperPanics.Inc()
			err = fmt.Errorf("sweep panicked: %v", r)
			s.logger.Error().
				Interface("panic", r).
				Msg("Eviction sweep panicked - continuing")
		}
	}()

	removed = s.sweep(s.store.Now())
	if removed > 0 {
		s.logger.Info().
			Int("removed", removed).
			Int("remaining", s.store.Len()).
			Msg("Evicted expired cache entries")
	}

	s.mu.Lock()
	hooks := append(([]func(int))(nil), s.hooks...)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn(removed)
	}
	return removed, nil
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.RunOnce()
		}
	}
}
