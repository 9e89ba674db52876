// Package rules evaluates auto-approval and expiration rules for staged
// commands.
//
// Auto-approval admits commands without review during a configured
// time-of-day window. The window may cross midnight (e.g. 22:00-06:00).
// Expiration drops pending commands whose age exceeds a configured duration.
// Both checks are pure functions of the supplied clock reading; the engine
// holds no mutable state after construction and is safe to call from any
// goroutine.
package rules

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/stagegate/stagegate/pkg/models"
)

// Window is a [Start, End) time-of-day interval expressed as offsets since
// midnight. Start >= End denotes a window crossing midnight.
type Window struct {
	Start time.Duration
	End   time.Duration
}

// Config carries the rule parameters. It is loaded once and treated as
// read-only afterwards; a change requires a process restart.
type Config struct {
	AutoApproveEnabled bool
	AutoApproveWindow  Window
	ExpirationEnabled  bool
	ExpirationDuration time.Duration
}

// DefaultConfig disables auto-approval and expires pending commands after 24h.
func DefaultConfig() Config {
	return Config{
		AutoApproveWindow:  Window{Start: 0, End: 6 * time.Hour},
		ExpirationEnabled:  true,
		ExpirationDuration: 24 * time.Hour,
	}
}

// ParseClock parses a "HH:MM" or "HH:MM:SS" time of day into an offset since
// midnight.
func ParseClock(s string) (time.Duration, error) {
	var h, m, sec int
	if _, err := fmt.Sscanf(s, "%d:%d:%d", &h, &m, &sec); err != nil {
		sec = 0
		if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
			return 0, fmt.Errorf("invalid clock time %q", s)
		}
	}
	if h < 0 || h > 23 || m < 0 || m > 59 || sec < 0 || sec > 59 {
		return 0, fmt.Errorf("clock time out of range %q", s)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second, nil
}

// Engine answers rule queries against an immutable Config.
type Engine struct {
	cfg    Config
	logger *slog.Logger
}

// NewEngine creates a rule engine. A nil logger falls back to slog.Default.
func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cfg: cfg, logger: logger}
}

// ShouldAutoApprove reports whether a command staged at the given instant
// bypasses review. Boundary-exact equality to the window's start or end is
// out of window: the comparisons are strict on both sides, for wrapping and
// non-wrapping windows alike.
func (e *Engine) ShouldAutoApprove(now time.Time) bool {
	if !e.cfg.AutoApproveEnabled {
		return false
	}

	tod := timeOfDay(now)
	w := e.cfg.AutoApproveWindow
	if w.Start < w.End {
		return tod > w.Start && tod < w.End
	}
	// Window crosses midnight.
	return tod > w.Start || tod < w.End
}

// IsExpired reports whether a pending command has outlived the expiration
// duration. A command exactly at the boundary is not yet expired.
func (e *Engine) IsExpired(cmd *models.StagedCommand, now time.Time) bool {
	if !e.cfg.ExpirationEnabled {
		return false
	}
	return now.UnixMilli()-cmd.Timestamp > e.cfg.ExpirationDuration.Milliseconds()
}

func timeOfDay(t time.Time) time.Duration {
	h, m, s := t.Clock()
	return time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second +
		time.Duration(t.Nanosecond())
}
