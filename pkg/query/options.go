package query

import (
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/query-cache/pkg/retry"
)

// Defaults applied by DefaultOptions.
const (
	DefaultStaleAfter = 30 * time.Second
	DefaultEvictAfter = 5 * time.Minute
	DefaultMaxRetries = 1
	DefaultRetryDelay = 1 * time.Second
)

var (
	// ErrInvalidOptions indicates a Unit was configured incorrectly.
	ErrInvalidOptions = errors.New("invalid query options")

	// ErrClosed is returned when operating on a closed Unit.
	ErrClosed = errors.New("query unit is closed")
)

// Options configures a Unit. Start from DefaultOptions: fields are used
// as given, so a zero StaleAfter means every cached value is stale, a zero
// EvictAfter keeps nothing in the cache and a zero MaxRetries disables
// retries.
type Options struct {
	// Key is the cache identity (REQUIRED).
	Key string

	// StaleAfter is how long a fetched value is served without refetching.
	StaleAfter time.Duration

	// EvictAfter is how long a fetched value may stay in the cache at all.
	EvictAfter time.Duration

	// Disabled suppresses all fetching, focus included. A disabled Unit
	// stays idle.
	Disabled bool

	// RefetchOnFocus makes Client.Focus trigger a freshness check.
	RefetchOnFocus bool

	// MaxRetries is the number of retries after a failed first attempt.
	MaxRetries int

	// RetryDelay is the base delay; retry n waits n*RetryDelay.
	RetryDelay time.Duration
}

// DefaultOptions returns options for key with default windows and
// retry policy.
func DefaultOptions(key string) Options {
	return Options{
		Key:        key,
		StaleAfter: DefaultStaleAfter,
		EvictAfter: DefaultEvictAfter,
		MaxRetries: DefaultMaxRetries,
		RetryDelay: DefaultRetryDelay,
	}
}

// Validate reports configuration misuse.
func (o Options) Validate() error {
	switch {
	case o.Key == "":
		return fmt.Errorf("%w: key is required", ErrInvalidOptions)
	case o.StaleAfter < 0:
		return fmt.Errorf("%w: stale_after must be >= 0 (got %v)", ErrInvalidOptions, o.StaleAfter)
	case o.EvictAfter < 0:
		return fmt.Errorf("%w: evict_after must be >= 0 (got %v)", ErrInvalidOptions, o.EvictAfter)
	case o.MaxRetries < 0:
		return fmt.Errorf("%w: max_retries must be >= 0 (got %d)", ErrInvalidOptions, o.MaxRetries)
	case o.RetryDelay < 0:
		return fmt.Errorf("%w: retry_delay must be >= 0 (got %v)", ErrInvalidOptions, o.RetryDelay)
	}
	return nil
}

func (o Options) retryPolicy() retry.Policy {
	return retry.Policy{
		MaxRetries: o.MaxRetries,
		Delay:      o.RetryDelay,
	}
}
