// Package retry implements the bounded, linearly backed-off retry policy
// applied to every query fetch.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "query_retries_total",
		Help: "Total number of fetch retry attempts",
	})

	retryBackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "query_retry_backoff_seconds",
		Help:    "Delay before each fetch retry",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	})

	retryExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "query_retry_exhausted_total",
		Help: "Total number of fetches that exhausted their retries",
	})
)

// Policy holds the configuration for retry logic.
type Policy struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int

	// Delay is the base delay. Retry n waits n*Delay.
	Delay time.Duration
}

// DefaultPolicy returns the default retry policy: one retry after one second.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 1,
		Delay:      1 * time.Second,
	}
}

// Backoff returns the wait before retrying after the given failed attempt
// (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	return p.Delay * time.Duration(attempt)
}

// Controller runs one fetch lifecycle under a Policy.
//
// The attempt counter is explicit state owned by the controller and is
// reset at the start of every Do call, so retries never accumulate across
// lifecycles. A Controller is not safe for concurrent Do calls.
type Controller struct {
	policy  Policy
	logger  zerolog.Logger
	attempt int
}

// NewController creates a controller. Negative values in policy are
// clamped to zero.
func NewController(policy Policy, logger zerolog.Logger) *Controller {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.Delay < 0 {
		policy.Delay = 0
	}
	return &Controller{
		policy: policy,
		logger: logger,
	}
}

// Policy returns the controller's policy.
func (c *Controller) Policy() Policy {
	return c.policy
}

// Attempt returns the number of attempts made by the current or last Do.
func (c *Controller) Attempt() int {
	return c.attempt
}

// Reset zeroes the attempt counter.
func (c *Controller) Reset() {
	c.attempt = 0
}

// Do invokes fn until it succeeds, fails permanently, or the policy is
// exhausted. Between attempts it waits Policy.Backoff(attempt).
//
// Cancellation of ctx pre-empts retry scheduling: a failure observed after
// ctx ended, or a ctx ending during the wait, returns ErrCancelled without
// counting or running another attempt.
func (c *Controller) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	c.Reset()

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrCancelled, err)
		}

		c.attempt++
		err := fn(ctx)
		if err == nil {
			if c.attempt > 1 {
				c.logger.Debug().
					Int("attempt", c.attempt).
					Msg("Fetch succeeded after retry")
			}
			return nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			c.attempt--
			return fmt.Errorf("%w: %v", ErrCancelled, ctxErr)
		}

		if IsPermanent(err) {
			return err
		}

		if c.attempt > c.policy.MaxRetries {
			retryExhaustedTotal.Inc()
			c.logger.Warn().
				Err(err).
				Int("attempts", c.attempt).
				Msg("Retry attempts exhausted")
			return &ExhaustedError{Attempts: c.attempt, Err: err}
		}

		backoff := c.policy.Backoff(c.attempt)
		retriesTotal.Inc()
		retryBackoffSeconds.Observe(backoff.Seconds())

		c.logger.Debug().
			Err(err).
			Int("attempt", c.attempt).
			Dur("backoff", backoff).
			Msg("Retrying fetch after backoff")

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.logger.Debug().
				Int("attempt", c.attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		case <-timer.C:
		}
	}
}
