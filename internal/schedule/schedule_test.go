package schedule

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stagegate/stagegate/internal/config"
	"github.com/stagegate/stagegate/internal/intercept"
	"github.com/stagegate/stagegate/internal/rules"
	"github.com/stagegate/stagegate/internal/staging"
	"github.com/stagegate/stagegate/pkg/models"
)

type nullStore struct{}

func (nullStore) Save(context.Context, *models.StagedCommand) error        { return nil }
func (nullStore) Delete(context.Context, *models.StagedCommand) error      { return nil }
func (nullStore) LoadAll(context.Context) ([]*models.StagedCommand, error) { return nil, nil }
func (nullStore) SaveAll(context.Context, []*models.StagedCommand) error   { return nil }
func (nullStore) DeleteAll(context.Context, []*models.StagedCommand) error { return nil }

type countingDispatcher struct {
	mu    sync.Mutex
	calls int
}

func (d *countingDispatcher) Dispatch(models.Actor, string) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
}

func testEngine() *staging.Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return staging.NewEngine(staging.Deps{
		Store:  nullStore{},
		Rules:  rules.NewEngine(rules.DefaultConfig(), logger),
		Logger: logger,
	})
}

func TestNewRunnerRejectsBadPruneSpec(t *testing.T) {
	cfg := config.SchedulerConfig{PruneSpec: "not a spec"}
	if _, err := NewRunner(cfg, testEngine(), nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Fatal("NewRunner accepted invalid prune spec")
	}
}

func TestNewRunnerRejectsBadCommandSpec(t *testing.T) {
	cfg := config.SchedulerConfig{
		PruneSpec: "@every 1m",
		Commands: []config.ScheduledCommand{
			{Spec: "every day at noon", Command: "/backup run"},
		},
	}
	if _, err := NewRunner(cfg, testEngine(), nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Fatal("NewRunner accepted invalid command spec")
	}
}

func TestNewRunnerBuildsEntries(t *testing.T) {
	cfg := config.SchedulerConfig{
		PruneSpec: "@every 1m",
		Commands: []config.ScheduledCommand{
			{Spec: "0 4 * * *", Command: "/backup run"},
			{Spec: "@hourly", Command: "/say scheduled notice", Direct: true},
		},
	}
	r, err := NewRunner(cfg, testEngine(), nil, &countingDispatcher{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	if got := len(r.c.Entries()); got != 3 {
		t.Errorf("cron entries = %d, want 3 (prune + 2 commands)", got)
	}
}

func TestStageJobQueuesCommand(t *testing.T) {
	engine := testEngine()
	r, err := NewRunner(config.SchedulerConfig{PruneSpec: "@every 1m"}, engine, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	job := r.stageJob(context.Background(), config.ScheduledCommand{Spec: "@hourly", Command: "/backup run"})
	job()

	pending := engine.Pending(context.Background())
	if len(pending) != 1 {
		t.Fatalf("pending = %d after scheduled staging, want 1", len(pending))
	}
	if pending[0].SenderID != models.System.ID {
		t.Errorf("scheduled command attributed to %s, want system actor", pending[0].SenderName)
	}
	engine.Flush()
}

func TestStageJobRoutesThroughGate(t *testing.T) {
	engine := testEngine()
	direct := &countingDispatcher{}
	gate := intercept.NewGate(intercept.NewMatcher(nil, nil), engine, direct, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r, err := NewRunner(config.SchedulerConfig{PruneSpec: "@every 1m"}, engine, gate, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	// A non-critical scheduled command executes directly instead of queueing.
	r.stageJob(context.Background(), config.ScheduledCommand{Spec: "@hourly", Command: "/say nightly notice"})()
	if direct.calls != 1 {
		t.Errorf("direct dispatches = %d, want 1", direct.calls)
	}
	if got := len(engine.Pending(context.Background())); got != 0 {
		t.Errorf("pending = %d for non-critical scheduled command, want 0", got)
	}

	// A critical one still queues for review.
	r.stageJob(context.Background(), config.ScheduledCommand{Spec: "@hourly", Command: "/restart"})()
	if got := len(engine.Pending(context.Background())); got != 1 {
		t.Errorf("pending = %d for critical scheduled command, want 1", got)
	}
	engine.Flush()
}

func TestDirectJobSkipsReview(t *testing.T) {
	engine := testEngine()
	direct := &countingDispatcher{}
	r, err := NewRunner(config.SchedulerConfig{PruneSpec: "@every 1m"}, engine, nil, direct, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	job := r.stageJob(context.Background(), config.ScheduledCommand{Spec: "@hourly", Command: "/say notice", Direct: true})
	job()

	direct.mu.Lock()
	calls := direct.calls
	direct.mu.Unlock()
	if calls != 1 {
		t.Errorf("direct dispatches = %d, want 1", calls)
	}
	if got := len(engine.Pending(context.Background())); got != 0 {
		t.Errorf("pending = %d for direct job, want 0", got)
	}
}
