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
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const tracerName = "github.com/Sternrassler/query-cache/pkg/query"

// Bus carries key invalidations between processes. cache.RedisBus
// implements it.
type Bus interface {
	Publish(ctx context.Context, key string) error
	Subscribe(ctx context.Context, handler func(key string)) error
}

// Config holds the client configuration.
type Config struct {
	// SweepInterval is how often expired entries are purged (default 60s).
	SweepInterval time.Duration

	// Clock overrides the time source of the cache (default time.Now).
	Clock func() time.Time

	// Reporter receives terminal failures (default: LogReporter).
	Reporter Reporter

	// Bus enables cross-process invalidation (optional).
	Bus Bus

	// Logger overrides the component logger (default: logging.NewLogger("query")).
	Logger *zerolog.Logger

	// Tracer overrides the tracer (default: the global OpenTelemetry provider).
	Tracer trace.Tracer
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		SweepInterval: cache.DefaultSweepInterval,
	}
}

// member is the registry view of a Unit.
type member interface {
	onFocus(ctx context.Context)
	onRemoteInvalidate(ctx context.Context)
}

// Client owns the state shared by all Units of a process: the cache store,
// its sweeper, in-flight load de-duplication, the failure reporter and the
// registry of live Units used for focus and remote invalidation fan-out.
type Client struct {
	store    *cache.Store
	sweeper  *cache.Sweeper
	inflight singleflight.Group
	reporter Reporter
	bus      Bus
	logger   zerolog.Logger
	tracer   trace.Tracer

	mu     sync.Mutex
	units  map[string]map[member]struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient creates a client. Call Start to run the sweeper and the
// invalidation listener.
func NewClient(cfg Config) *Client {
	logger := logging.NewLogger("query")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	reporter := cfg.Reporter
	if reporter == nil {
		reporter = LogReporter(logger)
	}

	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	store := cache.NewStore(cache.WithClock(cfg.Clock))

	return &Client{
		store:    store,
		sweeper:  cache.NewSweeper(store, cfg.SweepInterval, logger.With().Str("component", "sweeper").Logger()),
		reporter: reporter,
		bus:      cfg.Bus,
		logger:   logger,
		tracer:   tracer,
		units:    make(map[string]map[member]struct{}),
	}
}

// Store returns the shared cache store.
func (c *Client) Store() *cache.Store {
	return c.store
}

// Sweeper returns the eviction sweeper.
func (c *Client) Sweeper() *cache.Sweeper {
	return c.sweeper
}

// Start launches the eviction sweeper and, when a Bus is configured, the
// invalidation listener. Calling Start twice is a no-op.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	c.sweeper.Start(ctx)

	if c.bus != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := c.bus.Subscribe(ctx, func(key string) {
				c.applyRemoteInvalidation(ctx, key)
			}); err != nil {
				c.logger.Error().Err(err).Msg("Invalidation listener stopped")
			}
		}()
	}

	c.logger.Info().
		Dur("sweep_interval", c.sweeper.Interval()).
		Bool("bus", c.bus != nil).
		Msg("Query client started")
}

// Stop halts background work started by Start.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	c.sweeper.Stop()
	c.wg.Wait()

	c.logger.Info().Msg("Query client stopped")
}

// Focus signals that the application regained focus. Every live, enabled
// Unit with RefetchOnFocus performs a freshness check and refetches if its
// entry is stale or missing.
func (c *Client) Focus(ctx context.Context) {
	for _, m := range c.members("") {
		m.onFocus(ctx)
	}
}

// Invalidate deletes key from the cache, announces it on the bus and
// refetches every live Unit bound to key.
func (c *Client) Invalidate(ctx context.Context, key string) {
	c.invalidate(ctx, key)
	for _, m := range c.members(key) {
		m.onRemoteInvalidate(ctx)
	}
}

// UnitCount returns the number of live Units, optionally for one key.
func (c *Client) UnitCount(key string) int {
	return len(c.members(key))
}

// invalidate drops the local entry and publishes the key.
func (c *Client) invalidate(ctx context.Context, key string) {
	c.store.Delete(key)

	if c.bus == nil {
		return
	}
	if err := c.bus.Publish(ctx, key); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Failed to publish invalidation")
	}
}

func (c *Client) applyRemoteInvalidation(ctx context.Context, key string) {
	c.store.Delete(key)

	targets := c.members(key)
	c.logger.Info().
		Str("key", key).
		Int("units", len(targets)).
		Msg("Applying remote invalidation")

	for _, m := range targets {
		m.onRemoteInvalidate(ctx)
	}
}

// members snapshots live Units for key, or all Units when key is empty.
func (c *Client) members(key string) []member {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []member
	for k, set := range c.units {
		if key != "" && k != key {
			continue
		}
		for m := range set {
			out = append(out, m)
		}
	}
	return out
}

func (c *Client) register(m member, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, ok := c.units[key]
	if !ok {
		set = make(map[member]struct{})
		c.units[key] = set
	}
	set[m] = struct{}{}
}

func (c *Client) unregister(m member, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, ok := c.units[key]
	if !ok {
		return
	}
	delete(set, m)
	if len(set) == 0 {
		delete(c.units, key)
	}
}

func (c *Client) rekey(m member, oldKey, newKey string) {
	c.unregister(m, oldKey)
	c.register(m, newKey)
}

// load runs fn, collapsing concurrent shared loads of key into one call.
// A joiner whose leader was cancelled (superseded) runs fn itself when its
// own context is still live.
func (c *Client) load(ctx context.Context, key string, shared bool, fn func(context.Context) (any, error)) (any, error) {
	if !shared {
		c.inflight.Forget(key)
		return fn(ctx)
	}

	ch := c.inflight.DoChan(key, func() (any, error) {
		return fn(ctx)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", retry.ErrCancelled, ctx.Err())
	case res := <-ch:
		if res.Shared {
			sharedLoadsTotal.Inc()
		}
		if res.Err != nil && errors.Is(res.Err, retry.ErrCancelled) && ctx.Err() == nil {
			c.logger.Debug().Str("key", key).Msg("Shared load was cancelled, fetching directly")
			return fn(ctx)
		}
		return res.Val, res.Err
	}
}

var (
	defaultMu     sync.Mutex
	defaultClient *Client
)

// Default returns the process-wide client, creating and starting it on
// first use.
func Default() *Client {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultClient == nil {
		defaultClient = NewClient(DefaultConfig())
		defaultClient.Start(context.Background())
	}
	return defaultClient
}

// SetDefault replaces the process-wide client, stopping the previous one.
func SetDefault(c *Client) {
	defaultMu.Lock()
	prev := defaultClient
	defaultClient = c
	defaultMu.Unlock()

	if prev != nil && prev != c {
		prev.Stop()
	}
}

// ResetDefault stops and discards the process-wide client, clearing its
// cache. The next Default call builds a fresh one.
func ResetDefault() {
	defaultMu.Lock()
	prev := defaultClient
	defaultClient = nil
	defaultMu.Unlock()

	if prev != nil {
		prev.Stop()
		prev.store.Clear()
	}
}
