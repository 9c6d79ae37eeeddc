package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

var errNetwork = errors.New("network error")

func TestDefaultPolicy(t *testing.T) {
	policy := DefaultPolicy()

	if policy.MaxRetries != 1 {
		t.Errorf("MaxRetries = %d, want 1", policy.MaxRetries)
	}
	if policy.Delay != 1*time.Second {
		t.Errorf("Delay = %v, want 1s", policy.Delay)
	}
}

func TestPolicy_Backoff(t *testing.T) {
	policy := Policy{MaxRetries: 3, Delay: 100 * time.Millisecond}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 300 * time.Millisecond},
	}

	for _, tt := range tests {
		if got := policy.Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestNewController_ClampsNegatives(t *testing.T) {
	c := NewController(Policy{MaxRetries: -1, Delay: -time.Second}, zerolog.Nop())
	if c.Policy().MaxRetries != 0 || c.Policy().Delay != 0 {
		t.Errorf("Policy() = %+v, want zero values", c.Policy())
	}
}

func TestController_Success(t *testing.T) {
	c := NewController(Policy{MaxRetries: 2, Delay: time.Millisecond}, zerolog.Nop())

	callCount := 0
	err := c.Do(context.Background(), func(context.Context) error {
		callCount++
		return nil
	})

	if err != nil {
		t.Errorf("Do() error = %v, want nil", err)
	}
	if callCount != 1 {
		t.Errorf("callCount = %d, want 1", callCount)
	}
	if c.Attempt() != 1 {
		t.Errorf("Attempt() = %d, want 1", c.Attempt())
	}
}

func TestController_SuccessAfterRetry(t *testing.T) {
	c := NewController(Policy{MaxRetries: 2, Delay: 10 * time.Millisecond}, zerolog.Nop())

	callCount := 0
	start := time.Now()
	err := c.Do(context.Background(), func(context.Context) error {
		callCount++
		if callCount < 3 {
			return errNetwork
		}
		return nil
	})
	elapsed := time.Since(start)

	if err != nil {
		t.Errorf("Do() error = %v, want nil", err)
	}
	if callCount != 3 {
		t.Errorf("callCount = %d, want 3", callCount)
	}
	// 10ms + 20ms of linear backoff
	if elapsed < 30*time.Millisecond {
		t.Errorf("elapsed = %v, want at least 30ms", elapsed)
	}
}

func TestController_Exhausted(t *testing.T) {
	tests := []struct {
		name       string
		maxRetries int
		wantCalls  int
	}{
		{name: "no retries", maxRetries: 0, wantCalls: 1},
		{name: "one retry", maxRetries: 1, wantCalls: 2},
		{name: "two retries", maxRetries: 2, wantCalls: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewController(Policy{MaxRetries: tt.maxRetries, Delay: time.Millisecond}, zerolog.Nop())

			callCount := 0
			err := c.Do(context.Background(), func(context.Context) error {
				callCount++
				return errNetwork
			})

			if callCount != tt.wantCalls {
				t.Errorf("callCount = %d, want %d", callCount, tt.wantCalls)
			}
			if !errors.Is(err, ErrRetryExhausted) {
				t.Errorf("errors.Is(err, ErrRetryExhausted) = false, err = %v", err)
			}
			if !errors.Is(err, errNetwork) {
				t.Errorf("errors.Is(err, errNetwork) = false, err = %v", err)
			}

			var exhausted *ExhaustedError
			if !errors.As(err, &exhausted) {
				t.Fatalf("error type = %T, want *ExhaustedError", err)
			}
			if exhausted.Attempts != tt.wantCalls {
				t.Errorf("Attempts = %d, want %d", exhausted.Attempts, tt.wantCalls)
			}
			if Cause(err) != errNetwork {
				t.Errorf("Cause() = %v, want %v", Cause(err), errNetwork)
			}
		})
	}
}

func TestController_LinearBackoffTiming(t *testing.T) {
	c := NewController(Policy{MaxRetries: 1, Delay: 100 * time.Millisecond}, zerolog.Nop())

	start := time.Now()
	_ = c.Do(context.Background(), func(context.Context) error { return errNetwork })
	elapsed := time.Since(start)

	if elapsed < 100*time.Millisecond || elapsed > time.Second {
		t.Errorf("elapsed = %v, want about 100ms", elapsed)
	}
}

func TestController_PermanentNotRetried(t *testing.T) {
	c := NewController(Policy{MaxRetries: 3, Delay: time.Millisecond}, zerolog.Nop())

	callCount := 0
	errNotFound := errors.New("not found")
	err := c.Do(context.Background(), func(context.Context) error {
		callCount++
		return Permanent(errNotFound)
	})

	if callCount != 1 {
		t.Errorf("callCount = %d, want 1", callCount)
	}
	if !IsPermanent(err) {
		t.Errorf("IsPermanent(%v) = false", err)
	}
	if errors.Is(err, ErrRetryExhausted) {
		t.Error("permanent failure reported as exhausted")
	}
	if Cause(err) != errNotFound {
		t.Errorf("Cause() = %v, want %v", Cause(err), errNotFound)
	}
}

func TestController_CancelDuringBackoff(t *testing.T) {
	c := NewController(Policy{MaxRetries: 5, Delay: time.Second}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	callCount := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := c.Do(ctx, func(context.Context) error {
		callCount++
		return errNetwork
	})

	if !errors.Is(err, ErrCancelled) {
		t.Errorf("errors.Is(err, ErrCancelled) = false, err = %v", err)
	}
	if callCount != 1 {
		t.Errorf("callCount = %d, want 1", callCount)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("cancellation did not interrupt the backoff wait")
	}
}

func TestController_CancelledFailureNotCounted(t *testing.T) {
	c := NewController(Policy{MaxRetries: 1, Delay: time.Millisecond}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	callCount := 0
	err := c.Do(ctx, func(context.Context) error {
		callCount++
		cancel()
		return errNetwork
	})

	if !errors.Is(err, ErrCancelled) {
		t.Errorf("errors.Is(err, ErrCancelled) = false, err = %v", err)
	}
	if callCount != 1 {
		t.Errorf("callCount = %d, want 1", callCount)
	}
	if c.Attempt() != 0 {
		t.Errorf("Attempt() = %d, want 0 for a cancelled attempt", c.Attempt())
	}
}

func TestController_AlreadyCancelled(t *testing.T) {
	c := NewController(DefaultPolicy(), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	callCount := 0
	err := c.Do(ctx, func(context.Context) error {
		callCount++
		return nil
	})

	if !errors.Is(err, ErrCancelled) {
		t.Errorf("errors.Is(err, ErrCancelled) = false, err = %v", err)
	}
	if callCount != 0 {
		t.Errorf("callCount = %d, want 0", callCount)
	}
}

func TestController_ResetsPerLifecycle(t *testing.T) {
	c := NewController(Policy{MaxRetries: 1, Delay: time.Millisecond}, zerolog.Nop())

	_ = c.Do(context.Background(), func(context.Context) error { return errNetwork })
	if c.Attempt() != 2 {
		t.Fatalf("Attempt() = %d, want 2", c.Attempt())
	}

	callCount := 0
	_ = c.Do(context.Background(), func(context.Context) error {
		callCount++
		return errNetwork
	})
	if callCount != 2 {
		t.Errorf("second lifecycle callCount = %d, want 2 (counter must reset)", callCount)
	}
}

func TestCause_PlainError(t *testing.T) {
	if Cause(errNetwork) != errNetwork {
		t.Error("Cause() should return plain errors unchanged")
	}
	if Cause(nil) != nil {
		t.Error("Cause(nil) should be nil")
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
}
