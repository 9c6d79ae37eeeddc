package query

import (
	"context"

	"github.com/rs/zerolog"
)

// Reporter receives terminal fetch failures. It is the caller-facing
// notification channel (toast, log, telemetry); it must not block.
type Reporter interface {
	Report(ctx context.Context, key string, err error)
}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc func(ctx context.Context, key string, err error)

// Report implements Reporter.
func (f ReporterFunc) Report(ctx context.Context, key string, err error) {
	if f == nil {
		return
	}
	f(ctx, key, err)
}

// LogReporter reports failures as error-level log events.
func LogReporter(logger zerolog.Logger) Reporter {
	return ReporterFunc(func(_ context.Context, key string, err error) {
		logger.Error().
			Err(err).
			Str("key", key).
			Msg("Query failed")
	})
}
