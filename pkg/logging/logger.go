// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	// Set global log level
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	// Configure output
	var output io.Writer = cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	// Create logger with timestamp
	logger := zerolog.New(output).With().Timestamp().Logger()

	// Set as global logger
	log.Logger = logger

	return logger
}

var levels = map[string]LogLevel{
	"debug":   LevelDebug,
	"info":    LevelInfo,
	"":        LevelInfo,
	"warn":    LevelWarn,
	"warning": LevelWarn,
	"error":   LevelError,
}

// ParseLevel validates a level name from configuration.
func ParseLevel(s string) (LogLevel, error) {
	level, ok := levels[strings.ToLower(s)]
	if !ok {
		return "", fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

// parseLevel converts LogLevel to zerolog.Level. Unknown levels log at info.
func parseLevel(level LogLevel) zerolog.Level {
	normalized, err := ParseLevel(string(level))
	if err != nil {
		// Fall back to info
		return zerolog.InfoLevel
	}
	switch normalized {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Single-flight joins and served-from-cache loads
//   - Response cache operations (hit/miss, key, TTL, ETags)
//   - LoadMore calls rejected by the reentrancy guard
//
// Info: Normal operation events
//   - Completed UI loads and reloads
//   - Retries that eventually succeeded
//   - Server startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Recovered fetch failures (the cache is served instead)
//   - Nil responses from an endpoint
//   - Rate limit throttling
//   - Retry attempts exhausted
//
// Error: Error conditions requiring attention
//   - Critical rate limit blocks
//   - Fetch panics
//   - Configuration errors
//
// Context Fields:
//   - component: package emitting the entry
//   - endpoint: normalized request route or descriptor error context
//   - provider: provider name (inventory:<user id>)
//   - request_id: X-Request-ID of a catalog request
//   - error_class: client, server, rate_limit, network
//   - requests_remaining: catalog quota left in the window
