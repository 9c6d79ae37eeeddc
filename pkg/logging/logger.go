// Package logging configures zerolog for the query cache and the proxy.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel is a textual log level as read from the environment.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Field names shared by every component.
const (
	FieldComponent = "component"
	FieldService   = "service"
	FieldKey       = "key"
	FieldToken     = "token"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum level written. Unknown values mean info.
	Level LogLevel

	// Pretty switches from JSON lines to zerolog's console format.
	Pretty bool

	// Service is attached to every entry when set.
	Service string

	// Output receives log lines (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns JSON logging at info level on stderr.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Output: os.Stderr,
	}
}

// Setup installs the global logger that NewLogger derives from and
// returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000"}
	}

	ctx := zerolog.New(out).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str(FieldService, cfg.Service)
	}
	log.Logger = ctx.Logger()

	return log.Logger
}

// ParseLevel maps a LogLevel to a zerolog level. Matching is case
// insensitive and "warning" is accepted for warn.
func ParseLevel(level LogLevel) zerolog.Level {
	name := strings.ToLower(strings.TrimSpace(string(level)))
	if name == "warning" {
		name = "warn"
	}

	switch lvl, err := zerolog.ParseLevel(name); {
	case err != nil, lvl == zerolog.NoLevel:
		return zerolog.InfoLevel
	case lvl < zerolog.DebugLevel:
		// trace is not used by this module
		return zerolog.DebugLevel
	case lvl > zerolog.ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return lvl
	}
}

// NewLogger derives a component logger from the global logger.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str(FieldComponent, component).Logger()
}

// ForFetch scopes logger to one fetch lifecycle of key.
func ForFetch(logger zerolog.Logger, key string, token uint64) zerolog.Logger {
	return logger.With().Str(FieldKey, key).Uint64(FieldToken, token).Logger()
}

// Log Level Guidelines:
//
// Debug:
//   - cache hit, stale hit and miss (key, age)
//   - fetch lifecycle end (token, outcome, duration)
//   - superseded results being dropped
//   - retry scheduling (attempt, backoff)
//
// Info:
//   - client, sweeper and server start/stop
//   - sweeps that removed entries
//   - invalidations received from other processes
//
// Warn:
//   - retries exhausted
//   - cached value of another type under the same key
//   - invalidation publish failures
//
// Error:
//   - terminal fetch failures (query.LogReporter)
//   - recovered sweeper panics
//   - invalidation subscription failures
