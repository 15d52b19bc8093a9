// Package logger provides structured logging setup for PlanVault.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"github.com/planvault/planvault/internal/config"
)

// asyncQueueSize is the buffered record capacity in async mode.
const asyncQueueSize = 1024

// Control adjusts a live logger after construction. SetLevel applies a new
// minimum level, for config reloads; Close flushes async output on shutdown.
type Control struct {
	level *slog.LevelVar
	flush func()
}

// SetLevel changes the minimum level of the logger this control belongs to.
func (c *Control) SetLevel(s string) {
	c.level.Set(parseLevel(s))
}

// Close flushes and stops any async workers. Safe to call in sync mode.
func (c *Control) Close() {
	if c.flush != nil {
		c.flush()
	}
}

// New creates a *slog.Logger from the given Logging config.
// Output is JSON to stdout with a "service" attribute on every record.
// In async mode records are handed to a background worker; the returned
// Control must be closed on shutdown to flush pending records.
func New(cfg config.Logging) (*slog.Logger, *Control) {
	level := &slog.LevelVar{}
	level.Set(parseLevel(cfg.Level))

	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})

	ctl := &Control{level: level}
	if cfg.Async {
		ah := NewAsyncHandler(handler, asyncQueueSize, 1)
		handler = ah
		ctl.flush = ah.Close
	}

	return slog.New(handler).With("service", cfg.Service), ctl
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
