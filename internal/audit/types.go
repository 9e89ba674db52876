// Package audit provides a structured audit trail of staging decisions:
// who staged what, who approved or rejected it, which requests bypassed
// review, and which expired unreviewed.
package audit

import "time"

// EventType categorizes audit events.
type EventType string

const (
	EventStaged       EventType = "command.staged"
	EventApproved     EventType = "command.approved"
	EventRejected     EventType = "command.rejected"
	EventAutoApproved EventType = "command.auto_approved"
	EventExpired      EventType = "command.expired"
	EventBypassed     EventType = "command.bypassed"
	EventDispatched   EventType = "command.dispatched"
)

// Level represents audit log severity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event is a single audit record.
type Event struct {
	// ID is a unique identifier for this audit event.
	ID string `json:"id"`

	// Type categorizes the event.
	Type EventType `json:"type"`

	// Level is the severity level.
	Level Level `json:"level"`

	// Timestamp when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// CommandID identifies the staged command involved.
	CommandID string `json:"command_id,omitempty"`

	// Requester names who asked for the command.
	Requester string `json:"requester,omitempty"`

	// Reviewer names who decided, empty for rule decisions.
	Reviewer string `json:"reviewer,omitempty"`

	// CommandLine is the raw requested command.
	CommandLine string `json:"command_line,omitempty"`

	// Action describes what happened.
	Action string `json:"action"`

	// Details contains event-specific structured data.
	Details map[string]any `json:"details,omitempty"`
}

// OutputFormat specifies the audit log output format.
type OutputFormat string

const (
	FormatJSON OutputFormat = "json"
	FormatText OutputFormat = "text"
)

// Config configures the audit logger.
type Config struct {
	// Enabled determines if audit logging is active.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Level is the minimum level to log.
	Level Level `json:"level" yaml:"level"`

	// Format specifies the output format.
	Format OutputFormat `json:"format" yaml:"format"`

	// Output specifies where to write logs.
	// Supported: "stdout", "stderr", "file:/path/to/file.log"
	Output string `json:"output" yaml:"output"`

	// EventTypes filters which event types to log (empty = all).
	EventTypes []EventType `json:"event_types" yaml:"event_types"`

	// BufferSize is the size of the async write buffer.
	BufferSize int `json:"buffer_size" yaml:"buffer_size"`

	// FlushInterval is how often to flush the buffer.
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval"`
}

// DefaultConfig returns a default audit configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		Level:         LevelInfo,
		Format:        FormatJSON,
		Output:        "stdout",
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
	}
}
