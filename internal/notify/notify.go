// Package notify turns staging events into human-readable notices for an
// operator-facing sink.
package notify

import (
	"fmt"
	"log/slog"

	"github.com/stagegate/stagegate/internal/events"
)

// Notifier delivers a formatted notice. Implementations must not block; the
// bridge runs on the engine's event path.
type Notifier interface {
	Notify(message string)
}

// LogNotifier writes notices to the log.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier backed by logger.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs the notice.
func (n *LogNotifier) Notify(message string) {
	n.logger.Info("notice", "message", message)
}

// Bridge subscribes to the event bus and forwards formatted notices.
type Bridge struct {
	notifier Notifier
}

// NewBridge creates the event-to-notice bridge.
func NewBridge(notifier Notifier) *Bridge {
	return &Bridge{notifier: notifier}
}

// HandleStagingEvent formats and delivers a notice for ev.
func (b *Bridge) HandleStagingEvent(ev events.Event) {
	if ev.Command == nil || b.notifier == nil {
		return
	}
	if msg := Format(ev); msg != "" {
		b.notifier.Notify(msg)
	}
}

// Format renders one event as a notice line. Unknown kinds format to the
// empty string.
func Format(ev events.Event) string {
	cmd := ev.Command
	switch ev.Kind {
	case events.KindStaged:
		return fmt.Sprintf("%s requested %q, awaiting review", cmd.SenderName, cmd.CommandLine)
	case events.KindApproved:
		if ev.Auto {
			return fmt.Sprintf("%s's command %q auto-approved", cmd.SenderName, cmd.CommandLine)
		}
		return fmt.Sprintf("%s approved %s's command %q", cmd.Reviewer().Name, cmd.SenderName, cmd.CommandLine)
	case events.KindRejected:
		return fmt.Sprintf("%s rejected %s's command %q", cmd.Reviewer().Name, cmd.SenderName, cmd.CommandLine)
	}
	return ""
}
