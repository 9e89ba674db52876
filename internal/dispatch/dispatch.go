// Package dispatch defines how approved commands reach the execution host.
// The engine only depends on the interfaces; the host process supplies real
// implementations. The reference implementations here back the daemon and
// the test suite.
package dispatch

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/stagegate/stagegate/pkg/models"
)

// Dispatcher executes a command line on behalf of an actor. Fire and forget:
// execution outcome is the host's concern, not the review workflow's.
type Dispatcher interface {
	Dispatch(actor models.Actor, commandLine string)
}

// Presence reports whether a requester currently has an active session. The
// engine uses it to decide whether to attribute execution to the requester
// or to the privileged system actor.
type Presence interface {
	Online(id uuid.UUID) bool
}

// Normalize strips the leading command marker before handing the line to
// the host.
func Normalize(commandLine string) string {
	return strings.TrimPrefix(commandLine, "/")
}

// LogDispatcher writes dispatched commands to the log instead of a real
// execution host.
type LogDispatcher struct {
	logger *slog.Logger
}

// NewLogDispatcher creates a dispatcher that logs each dispatch.
func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogDispatcher{logger: logger}
}

// Dispatch logs the normalized command attributed to actor.
func (d *LogDispatcher) Dispatch(actor models.Actor, commandLine string) {
	d.logger.Info("dispatching command",
		"actor_id", actor.ID,
		"actor", actor.Name,
		"command", Normalize(commandLine))
}

// Registry is an in-memory Presence implementation.
type Registry struct {
	mu     sync.RWMutex
	online map[uuid.UUID]struct{}
}

// NewRegistry creates an empty presence registry.
func NewRegistry() *Registry {
	return &Registry{online: make(map[uuid.UUID]struct{})}
}

// Connect marks an actor as online.
func (r *Registry) Connect(id uuid.UUID) {
	r.mu.Lock()
	r.online[id] = struct{}{}
	r.mu.Unlock()
}

// Disconnect marks an actor as offline.
func (r *Registry) Disconnect(id uuid.UUID) {
	r.mu.Lock()
	delete(r.online, id)
	r.mu.Unlock()
}

// Online reports whether the actor has an active session.
func (r *Registry) Online(id uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.online[id]
	return ok
}
