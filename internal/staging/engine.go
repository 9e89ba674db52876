// Package staging implements the command review lifecycle: requests are
// validated, queued for review, and leave the queue through exactly one of
// approval, rejection, or expiration.
package staging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stagegate/stagegate/internal/audit"
	"github.com/stagegate/stagegate/internal/dispatch"
	"github.com/stagegate/stagegate/internal/events"
	"github.com/stagegate/stagegate/internal/history"
	"github.com/stagegate/stagegate/internal/metrics"
	"github.com/stagegate/stagegate/internal/rules"
	"github.com/stagegate/stagegate/internal/store"
	"github.com/stagegate/stagegate/pkg/models"
)

// Deps wires the engine's collaborators. Store and Rules are required; the
// rest default to inert implementations so partial wiring (tests, tooling)
// stays cheap.
type Deps struct {
	Store      store.Store
	Rules      *rules.Engine
	Dispatcher dispatch.Dispatcher
	Presence   dispatch.Presence
	History    *history.Recorder
	Audit      *audit.Logger
	Metrics    *metrics.Metrics
	Events     *events.Publisher
	Logger     *slog.Logger
}

// Engine owns the pending queue and drives every lifecycle transition.
//
// The queue is a mutex-guarded slice; reads hand out snapshot copies. Store
// operations run on background goroutines because durability is best-effort
// and must never block a decision. Events fan out synchronously in
// transition order.
type Engine struct {
	store      store.Store
	rules      *rules.Engine
	dispatcher dispatch.Dispatcher
	presence   dispatch.Presence
	history    *history.Recorder
	auditLog   *audit.Logger
	metrics    *metrics.Metrics
	events     *events.Publisher
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.Mutex
	pending []*models.StagedCommand

	wg sync.WaitGroup
}

// offlinePresence reports every actor as unreachable.
type offlinePresence struct{}

func (offlinePresence) Online(uuid.UUID) bool { return false }

// NewEngine creates a lifecycle engine from deps.
func NewEngine(deps Deps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dispatcher := deps.Dispatcher
	if dispatcher == nil {
		dispatcher = dispatch.NewLogDispatcher(logger)
	}
	presence := deps.Presence
	if presence == nil {
		presence = offlinePresence{}
	}
	publisher := deps.Events
	if publisher == nil {
		publisher = events.NewPublisher(logger)
	}
	return &Engine{
		store:      deps.Store,
		rules:      deps.Rules,
		dispatcher: dispatcher,
		presence:   presence,
		history:    deps.History,
		auditLog:   deps.Audit,
		metrics:    deps.Metrics,
		events:     publisher,
		logger:     logger,
		now:        time.Now,
	}
}

// Stage validates and queues a command request. When allowAutoApprove is set
// and the auto-approval rule matches, the command executes immediately and
// never enters the queue; the returned command carries APPROVED status.
func (e *Engine) Stage(ctx context.Context, sender models.Actor, commandLine string, allowAutoApprove bool) (*models.StagedCommand, error) {
	if err := ValidateCommandLine(commandLine); err != nil {
		if e.metrics != nil {
			e.metrics.ValidationFailed()
		}
		e.logger.Debug("rejected malformed command request",
			"sender", sender.Name,
			"error", err)
		return nil, err
	}

	cmd := models.NewStagedCommand(sender, commandLine)
	cmd.Timestamp = e.now().UnixMilli()

	if allowAutoApprove && e.rules != nil && e.rules.ShouldAutoApprove(e.now()) {
		return e.autoApprove(ctx, cmd), nil
	}

	e.mu.Lock()
	e.pending = append(e.pending, cmd)
	depth := len(e.pending)
	e.mu.Unlock()

	e.persistAsync(ctx, "save", cmd, e.store.Save)

	if e.auditLog != nil {
		e.auditLog.LogStaged(cmd)
	}
	if e.metrics != nil {
		e.metrics.CommandStaged()
		e.metrics.SetPending(depth)
	}
	e.events.Publish(events.Event{
		Kind:    events.KindStaged,
		Command: cmd.Clone(),
		At:      e.now(),
	})

	e.logger.Info("command staged for review",
		"command_id", cmd.ID,
		"sender", sender.Name,
		"command", cmd.CommandLine)
	return cmd.Clone(), nil
}

// autoApprove executes a rule-approved command without queueing it.
func (e *Engine) autoApprove(ctx context.Context, cmd *models.StagedCommand) *models.StagedCommand {
	cmd.Status = models.StatusApproved
	e.execute(cmd)

	if e.history != nil {
		e.history.Record(ctx, cmd)
	}
	if e.auditLog != nil {
		e.auditLog.LogAutoApproved(cmd)
	}
	if e.metrics != nil {
		e.metrics.CommandAutoApproved()
	}
	e.events.Publish(events.Event{
		Kind:    events.KindApproved,
		Command: cmd.Clone(),
		At:      e.now(),
		Auto:    true,
	})

	e.logger.Info("command auto-approved by time window",
		"command_id", cmd.ID,
		"sender", cmd.SenderName,
		"command", cmd.CommandLine)
	return cmd.Clone()
}

// Approve marks a pending command approved and executes it. A nil reviewer
// records a system decision. Commands no longer pending (already decided or
// expired) are ignored.
func (e *Engine) Approve(ctx context.Context, cmd *models.StagedCommand, reviewer *models.Actor) {
	tracked, ok := e.takePending(cmd.ID)
	if !ok {
		e.logger.Debug("ignoring decision for non-pending command", "command_id", cmd.ID)
		return
	}

	tracked.Status = models.StatusApproved
	if reviewer != nil {
		tracked.ReviewerID = reviewer.ID
		tracked.ReviewerName = reviewer.Name
	}

	e.execute(tracked)
	e.finishDecision(ctx, tracked, true, reviewer != nil)
}

// Reject marks a pending command rejected. It is never executed. Commands no
// longer pending are ignored.
func (e *Engine) Reject(ctx context.Context, cmd *models.StagedCommand, reviewer *models.Actor) {
	tracked, ok := e.takePending(cmd.ID)
	if !ok {
		e.logger.Debug("ignoring decision for non-pending command", "command_id", cmd.ID)
		return
	}

	tracked.Status = models.StatusRejected
	if reviewer != nil {
		tracked.ReviewerID = reviewer.ID
		tracked.ReviewerName = reviewer.Name
	}

	e.finishDecision(ctx, tracked, false, reviewer != nil)
}

// finishDecision runs the shared post-decision path: history, persistence,
// audit, metrics, event.
func (e *Engine) finishDecision(ctx context.Context, cmd *models.StagedCommand, approved, human bool) {
	if e.history != nil {
		e.history.Record(ctx, cmd)
	}
	e.persistAsync(ctx, "delete", cmd, e.store.Delete)

	if e.auditLog != nil {
		e.auditLog.LogDecision(cmd, approved)
	}
	if e.metrics != nil {
		latency := e.now().Sub(cmd.StagedAt())
		if approved {
			e.metrics.CommandApproved(human, latency)
		} else {
			e.metrics.CommandRejected(human, latency)
		}
		e.metrics.SetPending(e.pendingDepth())
	}

	kind := events.KindApproved
	verdict := "approved"
	if !approved {
		kind = events.KindRejected
		verdict = "rejected"
	}
	e.events.Publish(events.Event{
		Kind:    kind,
		Command: cmd.Clone(),
		At:      e.now(),
	})

	e.logger.Info("command "+verdict,
		"command_id", cmd.ID,
		"sender", cmd.SenderName,
		"reviewer", cmd.Reviewer().Name,
		"command", cmd.CommandLine)
}

// execute hands an approved command to the dispatcher, attributed to the
// requester when reachable and to the privileged system actor otherwise.
func (e *Engine) execute(cmd *models.StagedCommand) {
	asRequester := e.presence.Online(cmd.SenderID)
	actor := models.Actor{ID: cmd.SenderID, Name: cmd.SenderName}
	if !asRequester {
		actor = models.System
		e.logger.Warn("requester unreachable, dispatching in privileged context",
			"command_id", cmd.ID,
			"sender", cmd.SenderName,
			"command", cmd.CommandLine)
	}
	e.dispatcher.Dispatch(actor, cmd.CommandLine)
	if e.auditLog != nil {
		e.auditLog.LogDispatched(cmd, asRequester)
	}
}

// PruneExpired removes every pending command older than the expiration
// duration. Idempotent and safe to call from the scheduler, listing reads,
// and tests concurrently.
func (e *Engine) PruneExpired(ctx context.Context) int {
	if e.rules == nil {
		return 0
	}
	now := e.now()

	e.mu.Lock()
	var expired []*models.StagedCommand
	kept := e.pending[:0]
	for _, cmd := range e.pending {
		if e.rules.IsExpired(cmd, now) {
			expired = append(expired, cmd)
		} else {
			kept = append(kept, cmd)
		}
	}
	e.pending = kept
	depth := len(e.pending)
	e.mu.Unlock()

	if len(expired) == 0 {
		return 0
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.store.DeleteAll(ctx, expired); err != nil {
			e.logger.Warn("failed to delete expired commands", "error", err)
		}
	}()

	for _, cmd := range expired {
		if e.auditLog != nil {
			e.auditLog.LogExpired(cmd, now.Sub(cmd.StagedAt()))
		}
		if e.metrics != nil {
			e.metrics.CommandExpired()
		}
		e.logger.Info("pending command expired",
			"command_id", cmd.ID,
			"sender", cmd.SenderName,
			"command", cmd.CommandLine)
	}
	if e.metrics != nil {
		e.metrics.SetPending(depth)
	}
	return len(expired)
}

// Pending prunes expired entries and returns a snapshot of the queue.
func (e *Engine) Pending(ctx context.Context) []*models.StagedCommand {
	e.PruneExpired(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*models.StagedCommand, len(e.pending))
	for i, cmd := range e.pending {
		out[i] = cmd.Clone()
	}
	return out
}

// LoadOnStartup restores the pending queue from the store on a background
// goroutine, replacing the queue contents atomically once the load finishes.
// Reads issued before completion may see an empty queue.
func (e *Engine) LoadOnStartup(ctx context.Context) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		cmds, err := e.store.LoadAll(ctx)
		if err != nil {
			e.logger.Warn("failed to load staged commands", "error", err)
			return
		}

		loaded := make([]*models.StagedCommand, 0, len(cmds))
		for _, cmd := range cmds {
			if cmd.Status == models.StatusPending {
				loaded = append(loaded, cmd)
			}
		}

		e.mu.Lock()
		e.pending = loaded
		depth := len(e.pending)
		e.mu.Unlock()

		if e.metrics != nil {
			e.metrics.SetPending(depth)
		}
		e.logger.Info("staged commands loaded", "pending", depth)
	}()
}

// Flush blocks until all background store operations finish.
func (e *Engine) Flush() {
	e.wg.Wait()
}

// takePending removes and returns the tracked command with the given id.
func (e *Engine) takePending(id uuid.UUID) (*models.StagedCommand, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, cmd := range e.pending {
		if cmd.ID == id {
			e.pending = append(e.pending[:i], e.pending[i+1:]...)
			return cmd, true
		}
	}
	return nil, false
}

func (e *Engine) pendingDepth() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// persistAsync runs a single-command store operation in the background. The
// snapshot is taken before the goroutine starts so later status changes do
// not race the write.
func (e *Engine) persistAsync(ctx context.Context, op string, cmd *models.StagedCommand, fn func(context.Context, *models.StagedCommand) error) {
	snapshot := cmd.Clone()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := fn(ctx, snapshot); err != nil {
			e.logger.Warn("store operation failed",
				"op", op,
				"command_id", snapshot.ID,
				"error", err)
		}
	}()
}
