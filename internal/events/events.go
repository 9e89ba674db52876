// Package events carries lifecycle notifications out of the staging engine.
// Delivery is synchronous and in subscription order so downstream consumers
// (audit, metrics, notifications, ranking) observe transitions exactly as
// they happen.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/stagegate/stagegate/pkg/models"
)

// Kind identifies a lifecycle transition.
type Kind string

const (
	// KindStaged fires when a command enters the pending queue.
	KindStaged Kind = "staged"
	// KindApproved fires when a command is approved, manually or by rule.
	KindApproved Kind = "approved"
	// KindRejected fires when a command is rejected.
	KindRejected Kind = "rejected"
)

// Event is an immutable snapshot of a lifecycle transition. Command is a
// deep copy; subscribers may inspect it freely without racing the engine.
type Event struct {
	Kind    Kind
	Command *models.StagedCommand
	At      time.Time
	// Auto marks approvals granted by the time-window rule rather than a
	// human reviewer.
	Auto bool
}

// Subscriber consumes lifecycle events. HandleStagingEvent runs on the
// publishing goroutine and must not block.
type Subscriber interface {
	HandleStagingEvent(Event)
}

// SubscriberFunc adapts a function to the Subscriber interface.
type SubscriberFunc func(Event)

// HandleStagingEvent calls f(ev).
func (f SubscriberFunc) HandleStagingEvent(ev Event) { f(ev) }

// Publisher fans events out to subscribers in registration order.
type Publisher struct {
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers []Subscriber
}

// NewPublisher creates an empty publisher.
func NewPublisher(logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{logger: logger}
}

// Subscribe registers a subscriber. There is no unsubscribe; subscribers
// are wired once at startup.
func (p *Publisher) Subscribe(s Subscriber) {
	if s == nil {
		return
	}
	p.mu.Lock()
	p.subscribers = append(p.subscribers, s)
	p.mu.Unlock()
}

// Publish delivers ev to every subscriber, in order, on the caller's
// goroutine. A panicking subscriber is isolated so it cannot take down the
// engine or starve later subscribers.
func (p *Publisher) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	p.mu.RLock()
	subscribers := p.subscribers
	p.mu.RUnlock()

	for _, s := range subscribers {
		p.deliver(s, ev)
	}
}

func (p *Publisher) deliver(s Subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("event subscriber panicked",
				"kind", ev.Kind,
				"panic", r)
		}
	}()
	s.HandleStagingEvent(ev)
}
