// Package intercept decides which command requests must pass review. Only
// critical commands are staged; everything else executes directly. Privileged
// principals may bypass review entirely, with the bypass audited.
package intercept

import (
	"context"
	"log/slog"
	"strings"

	"github.com/stagegate/stagegate/internal/audit"
	"github.com/stagegate/stagegate/internal/dispatch"
	"github.com/stagegate/stagegate/internal/staging"
	"github.com/stagegate/stagegate/pkg/models"
)

// DefaultCriticalCommands are the command names gated when no explicit list
// is configured.
var DefaultCriticalCommands = []string{
	"/op", "/deop", "/stop", "/reload", "/restart", "/ban", "/kick",
}

// Matcher classifies commands and principals.
type Matcher struct {
	critical map[string]struct{}
	bypass   map[string]struct{}
}

// NewMatcher builds a matcher from a critical-command list and a set of
// bypass principal names. An empty command list uses the defaults. Matching
// is case-insensitive on the command's first token.
func NewMatcher(criticalCommands, bypassNames []string) *Matcher {
	if len(criticalCommands) == 0 {
		criticalCommands = DefaultCriticalCommands
	}
	m := &Matcher{
		critical: make(map[string]struct{}, len(criticalCommands)),
		bypass:   make(map[string]struct{}, len(bypassNames)),
	}
	for _, cmd := range criticalCommands {
		m.critical[normalizeName(cmd)] = struct{}{}
	}
	for _, name := range bypassNames {
		m.bypass[strings.ToLower(name)] = struct{}{}
	}
	return m
}

// IsCritical reports whether the command's first token is on the critical
// list.
func (m *Matcher) IsCritical(commandLine string) bool {
	fields := strings.Fields(strings.TrimSpace(commandLine))
	if len(fields) == 0 {
		return false
	}
	_, ok := m.critical[normalizeName(fields[0])]
	return ok
}

// CanBypass reports whether the named principal skips review.
func (m *Matcher) CanBypass(name string) bool {
	_, ok := m.bypass[strings.ToLower(name)]
	return ok
}

func normalizeName(cmd string) string {
	cmd = strings.ToLower(strings.TrimSpace(cmd))
	return "/" + strings.TrimPrefix(cmd, "/")
}

// Disposition describes what the gate did with a request.
type Disposition string

const (
	// DispositionPassed means the command was not critical and executed
	// directly.
	DispositionPassed Disposition = "passed"
	// DispositionBypassed means a privileged principal skipped review.
	DispositionBypassed Disposition = "bypassed"
	// DispositionStaged means the command awaits review.
	DispositionStaged Disposition = "staged"
	// DispositionAutoApproved means the staging rule approved it instantly.
	DispositionAutoApproved Disposition = "auto_approved"
)

// Outcome is the gate's answer to a submitted request.
type Outcome struct {
	Disposition Disposition
	// Command is set when the request went through the staging engine.
	Command *models.StagedCommand
}

// Gate is the request entry point: it classifies each command and routes it
// to direct execution or the staging engine.
type Gate struct {
	matcher    *Matcher
	engine     *staging.Engine
	dispatcher dispatch.Dispatcher
	auditLog   *audit.Logger
	logger     *slog.Logger
}

// NewGate wires a gate. Dispatcher handles the non-staged paths; the engine
// dispatches approved commands itself.
func NewGate(matcher *Matcher, engine *staging.Engine, dispatcher dispatch.Dispatcher, auditLog *audit.Logger, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	if dispatcher == nil {
		dispatcher = dispatch.NewLogDispatcher(logger)
	}
	return &Gate{
		matcher:    matcher,
		engine:     engine,
		dispatcher: dispatcher,
		auditLog:   auditLog,
		logger:     logger,
	}
}

// Submit routes one command request. Non-critical commands and bypassed
// principals execute immediately; critical commands go to the staging
// engine, which may auto-approve them.
func (g *Gate) Submit(ctx context.Context, sender models.Actor, commandLine string) (Outcome, error) {
	if err := staging.ValidateCommandLine(commandLine); err != nil {
		return Outcome{}, err
	}

	if !g.matcher.IsCritical(commandLine) {
		g.dispatcher.Dispatch(sender, commandLine)
		return Outcome{Disposition: DispositionPassed}, nil
	}

	if g.matcher.CanBypass(sender.Name) {
		g.dispatcher.Dispatch(sender, commandLine)
		if g.auditLog != nil {
			g.auditLog.LogBypassed(sender, commandLine)
		}
		g.logger.Warn("critical command bypassed review",
			"sender", sender.Name,
			"command", commandLine)
		return Outcome{Disposition: DispositionBypassed}, nil
	}

	cmd, err := g.engine.Stage(ctx, sender, commandLine, true)
	if err != nil {
		return Outcome{}, err
	}
	disposition := DispositionStaged
	if cmd.Status == models.StatusApproved {
		disposition = DispositionAutoApproved
	}
	return Outcome{Disposition: disposition, Command: cmd}, nil
}
