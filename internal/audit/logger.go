package audit

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stagegate/stagegate/pkg/models"
)

// Logger writes audit events through an async buffered channel so the
// staging engine never blocks on the audit sink. Events are drained by a
// single writer goroutine and flushed on a ticker and on Close.
type Logger struct {
	config     Config
	output     io.WriteCloser
	slogger    *slog.Logger
	buffer     chan *Event
	wg         sync.WaitGroup
	done       chan struct{}
	eventTypes map[EventType]bool
}

// NewLogger creates an audit logger with the given configuration. A disabled
// config returns an inert logger whose methods are cheap no-ops.
func NewLogger(config Config) (*Logger, error) {
	if !config.Enabled {
		return &Logger{config: config}, nil
	}

	if config.BufferSize == 0 {
		config.BufferSize = 1000
	}
	if config.FlushInterval == 0 {
		config.FlushInterval = 5 * time.Second
	}

	var output io.WriteCloser
	switch {
	case config.Output == "stdout" || config.Output == "":
		output = os.Stdout
	case config.Output == "stderr":
		output = os.Stderr
	case strings.HasPrefix(config.Output, "file:"):
		path := strings.TrimPrefix(config.Output, "file:")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log file: %w", err)
		}
		output = f
	default:
		return nil, fmt.Errorf("unsupported audit output: %s", config.Output)
	}

	eventTypes := make(map[EventType]bool)
	for _, et := range config.EventTypes {
		eventTypes[et] = true
	}

	l := &Logger{
		config:     config,
		output:     output,
		buffer:     make(chan *Event, config.BufferSize),
		done:       make(chan struct{}),
		eventTypes: eventTypes,
	}

	var handler slog.Handler
	switch config.Format {
	case FormatText:
		handler = slog.NewTextHandler(output, &slog.HandlerOptions{Level: l.slogLevel()})
	default:
		handler = slog.NewJSONHandler(output, &slog.HandlerOptions{Level: l.slogLevel()})
	}
	l.slogger = slog.New(handler).With("component", "audit")

	l.wg.Add(1)
	go l.writeLoop()

	return l, nil
}

// Close flushes remaining events and closes the logger.
func (l *Logger) Close() error {
	if !l.config.Enabled {
		return nil
	}

	close(l.done)
	l.wg.Wait()

	if l.output != os.Stdout && l.output != os.Stderr {
		return l.output.Close()
	}
	return nil
}

// Log records an audit event.
func (l *Logger) Log(event *Event) {
	if !l.config.Enabled {
		return
	}
	if len(l.eventTypes) > 0 && !l.eventTypes[event.Type] {
		return
	}
	if !l.shouldLog(event.Level) {
		return
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Non-blocking write to buffer; a full buffer writes inline rather
	// than dropping the record.
	select {
	case l.buffer <- event:
	default:
		l.writeEvent(event)
	}
}

// LogStaged records a command entering the pending queue.
func (l *Logger) LogStaged(cmd *models.StagedCommand) {
	l.Log(&Event{
		Type:        EventStaged,
		Level:       LevelInfo,
		CommandID:   cmd.ID.String(),
		Requester:   cmd.SenderName,
		CommandLine: cmd.CommandLine,
		Action:      "command_staged",
		Details:     justificationDetails(cmd),
	})
}

// LogDecision records an approval or rejection. A nil reviewer marks a
// system decision.
func (l *Logger) LogDecision(cmd *models.StagedCommand, approved bool) {
	eventType := EventApproved
	action := "command_approved"
	if !approved {
		eventType = EventRejected
		action = "command_rejected"
	}
	l.Log(&Event{
		Type:        eventType,
		Level:       LevelInfo,
		CommandID:   cmd.ID.String(),
		Requester:   cmd.SenderName,
		Reviewer:    cmd.ReviewerName,
		CommandLine: cmd.CommandLine,
		Action:      action,
		Details:     justificationDetails(cmd),
	})
}

// LogAutoApproved records a rule-based approval that skipped the queue.
func (l *Logger) LogAutoApproved(cmd *models.StagedCommand) {
	l.Log(&Event{
		Type:        EventAutoApproved,
		Level:       LevelInfo,
		CommandID:   cmd.ID.String(),
		Requester:   cmd.SenderName,
		CommandLine: cmd.CommandLine,
		Action:      "command_auto_approved",
	})
}

// LogExpired records a pending command aging out unreviewed.
func (l *Logger) LogExpired(cmd *models.StagedCommand, age time.Duration) {
	l.Log(&Event{
		Type:        EventExpired,
		Level:       LevelWarn,
		CommandID:   cmd.ID.String(),
		Requester:   cmd.SenderName,
		CommandLine: cmd.CommandLine,
		Action:      "command_expired",
		Details:     map[string]any{"age_ms": age.Milliseconds()},
	})
}

// LogBypassed records a principal skipping review entirely.
func (l *Logger) LogBypassed(actor models.Actor, commandLine string) {
	l.Log(&Event{
		Type:        EventBypassed,
		Level:       LevelWarn,
		Requester:   actor.Name,
		CommandLine: commandLine,
		Action:      "review_bypassed",
	})
}

// LogDispatched records a command handed to the execution host, noting
// whether it ran in the requester's session or the privileged context.
func (l *Logger) LogDispatched(cmd *models.StagedCommand, asRequester bool) {
	level := LevelInfo
	details := map[string]any{"as_requester": asRequester}
	if !asRequester {
		level = LevelWarn
	}
	l.Log(&Event{
		Type:        EventDispatched,
		Level:       level,
		CommandID:   cmd.ID.String(),
		Requester:   cmd.SenderName,
		CommandLine: cmd.CommandLine,
		Action:      "command_dispatched",
		Details:     details,
	})
}

func justificationDetails(cmd *models.StagedCommand) map[string]any {
	if cmd.Justification == "" {
		return nil
	}
	return map[string]any{"justification": cmd.Justification}
}

// writeLoop processes buffered events.
func (l *Logger) writeLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-l.buffer:
			l.writeEvent(event)
		case <-ticker.C:
			l.flushBuffer()
		case <-l.done:
			l.flushBuffer()
			return
		}
	}
}

// flushBuffer drains all buffered events.
func (l *Logger) flushBuffer() {
	for {
		select {
		case event := <-l.buffer:
			l.writeEvent(event)
		default:
			return
		}
	}
}

// writeEvent writes a single event to the output.
func (l *Logger) writeEvent(event *Event) {
	attrs := []any{
		"audit_id", event.ID,
		"audit_type", event.Type,
		"action", event.Action,
		"timestamp", event.Timestamp.Format(time.RFC3339Nano),
	}

	if event.CommandID != "" {
		attrs = append(attrs, "command_id", event.CommandID)
	}
	if event.Requester != "" {
		attrs = append(attrs, "requester", event.Requester)
	}
	if event.Reviewer != "" {
		attrs = append(attrs, "reviewer", event.Reviewer)
	}
	if event.CommandLine != "" {
		attrs = append(attrs, "command_line", event.CommandLine)
	}
	for k, v := range event.Details {
		attrs = append(attrs, k, v)
	}

	switch event.Level {
	case LevelDebug:
		l.slogger.Debug("audit", attrs...)
	case LevelWarn:
		l.slogger.Warn("audit", attrs...)
	case LevelError:
		l.slogger.Error("audit", attrs...)
	default:
		l.slogger.Info("audit", attrs...)
	}
}

// shouldLog checks if an event at the given level should be logged.
func (l *Logger) shouldLog(level Level) bool {
	levels := map[Level]int{
		LevelDebug: 0,
		LevelInfo:  1,
		LevelWarn:  2,
		LevelError: 3,
	}
	return levels[level] >= levels[l.config.Level]
}

// slogLevel converts audit level to slog level.
func (l *Logger) slogLevel() slog.Level {
	switch l.config.Level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
