// Package history keeps a capped per-requester record of decided commands.
package history

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/stagegate/stagegate/internal/store"
	"github.com/stagegate/stagegate/pkg/models"
)

// DefaultCap is the per-requester record limit.
const DefaultCap = 50

// Recorder accumulates decided commands per requester. Each requester keeps
// at most cap records; when full, the oldest record is evicted first. The
// in-memory map is authoritative and persisted asynchronously after every
// change so recording never blocks the decision path.
type Recorder struct {
	hstore store.HistoryStore
	logger *slog.Logger
	cap    int

	mu sync.RWMutex
	// Records are kept oldest first; read views reverse to newest first.
	byRequester map[uuid.UUID][]*models.StagedCommand
	// version counts writes per requester so concurrent persists cannot
	// land a stale snapshot over a newer one.
	version map[uuid.UUID]uint64

	// pmu serializes store writes; applied tracks the newest version written.
	pmu     sync.Mutex
	applied map[uuid.UUID]uint64

	wg sync.WaitGroup
}

// Option customizes a Recorder.
type Option func(*Recorder)

// WithCap overrides the per-requester record limit. Values below 1 fall back
// to DefaultCap.
func WithCap(n int) Option {
	return func(r *Recorder) {
		if n >= 1 {
			r.cap = n
		}
	}
}

// NewRecorder creates a recorder backed by hstore. A nil hstore disables
// persistence; the recorder still tracks history in memory.
func NewRecorder(hstore store.HistoryStore, logger *slog.Logger, opts ...Option) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		hstore:      hstore,
		logger:      logger,
		cap:         DefaultCap,
		byRequester: make(map[uuid.UUID][]*models.StagedCommand),
		version:     make(map[uuid.UUID]uint64),
		applied:     make(map[uuid.UUID]uint64),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record appends a decided command to its requester's history, evicting the
// oldest record once the cap is reached, and schedules an async persist.
func (r *Recorder) Record(ctx context.Context, cmd *models.StagedCommand) {
	if cmd == nil {
		return
	}
	requester := cmd.SenderID

	r.mu.Lock()
	records := r.byRequester[requester]
	if len(records) >= r.cap {
		evict := len(records) - r.cap + 1
		records = append(records[:0:0], records[evict:]...)
	}
	records = append(records, cmd.Clone())
	r.byRequester[requester] = records
	snapshot := newestFirst(records)
	r.version[requester]++
	v := r.version[requester]
	r.mu.Unlock()

	r.persistAsync(ctx, requester, v, func(ctx context.Context) error {
		return r.hstore.Save(ctx, requester, snapshot)
	})
}

// persistAsync schedules one store write. Writes for the same requester are
// serialized, and a write is dropped when a newer snapshot has already
// landed, so the persisted state always matches the latest change.
func (r *Recorder) persistAsync(ctx context.Context, requester uuid.UUID, v uint64, write func(context.Context) error) {
	if r.hstore == nil {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.pmu.Lock()
		defer r.pmu.Unlock()
		if r.applied[requester] >= v {
			return
		}
		r.applied[requester] = v
		if err := write(ctx); err != nil {
			r.logger.Warn("failed to persist command history",
				"requester_id", requester,
				"error", err)
		}
	}()
}

// ForRequester returns one requester's history, newest first.
func (r *Recorder) ForRequester(requester uuid.UUID) []*models.StagedCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return newestFirst(r.byRequester[requester])
}

// Recent returns up to limit of one requester's newest records.
func (r *Recorder) Recent(requester uuid.UUID, limit int) []*models.StagedCommand {
	records := r.ForRequester(requester)
	if limit <= 0 || limit >= len(records) {
		return records
	}
	return records[:limit]
}

// Size reports how many records a requester currently holds.
func (r *Recorder) Size(requester uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byRequester[requester])
}

// Clear drops one requester's history, in memory and in the store.
func (r *Recorder) Clear(ctx context.Context, requester uuid.UUID) {
	r.mu.Lock()
	delete(r.byRequester, requester)
	r.version[requester]++
	v := r.version[requester]
	r.mu.Unlock()

	r.persistAsync(ctx, requester, v, func(ctx context.Context) error {
		return r.hstore.Delete(ctx, requester)
	})
}

// LoadOnStartup replaces the in-memory map with the persisted state. Stored
// histories are newest first; they are flipped back to append order and
// trimmed to the cap in case the limit was lowered between runs.
func (r *Recorder) LoadOnStartup(ctx context.Context) error {
	if r.hstore == nil {
		return nil
	}
	persisted, err := r.hstore.LoadAll(ctx)
	if err != nil {
		return err
	}

	loaded := make(map[uuid.UUID][]*models.StagedCommand, len(persisted))
	for requester, records := range persisted {
		ordered := newestFirst(records)
		if len(ordered) > r.cap {
			ordered = ordered[len(ordered)-r.cap:]
		}
		loaded[requester] = ordered
	}

	r.mu.Lock()
	r.byRequester = loaded
	r.mu.Unlock()

	r.logger.Info("command history loaded", "requesters", len(loaded))
	return nil
}

// Flush blocks until all in-flight persist operations finish.
func (r *Recorder) Flush() {
	r.wg.Wait()
}

// newestFirst returns a reversed copy of records.
func newestFirst(records []*models.StagedCommand) []*models.StagedCommand {
	out := make([]*models.StagedCommand, len(records))
	for i, cmd := range records {
		out[len(records)-1-i] = cmd
	}
	return out
}
