package intercept

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stagegate/stagegate/internal/rules"
	"github.com/stagegate/stagegate/internal/staging"
	"github.com/stagegate/stagegate/internal/store"
	"github.com/stagegate/stagegate/pkg/models"
)

func TestMatcherDefaults(t *testing.T) {
	m := NewMatcher(nil, nil)

	critical := []string{"/stop", "/BAN griefer", "/op mallory", "  /kick bob reason"}
	for _, line := range critical {
		if !m.IsCritical(line) {
			t.Errorf("IsCritical(%q) = false, want true", line)
		}
	}
	benign := []string{"/say hello", "/home", "/stophere", ""}
	for _, line := range benign {
		if m.IsCritical(line) {
			t.Errorf("IsCritical(%q) = true, want false", line)
		}
	}
}

func TestMatcherCustomListReplacesDefaults(t *testing.T) {
	m := NewMatcher([]string{"/backup"}, nil)

	if !m.IsCritical("/backup now") {
		t.Error("configured command not critical")
	}
	if m.IsCritical("/stop") {
		t.Error("default command still critical after override")
	}
}

func TestMatcherBypassIsCaseInsensitive(t *testing.T) {
	m := NewMatcher(nil, []string{"Root"})

	if !m.CanBypass("root") || !m.CanBypass("ROOT") {
		t.Error("bypass lookup not case-insensitive")
	}
	if m.CanBypass("alice") {
		t.Error("unlisted principal can bypass")
	}
}

type countingDispatcher struct {
	mu    sync.Mutex
	calls int
}

func (d *countingDispatcher) Dispatch(models.Actor, string) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
}

func (d *countingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type nullStore struct{}

func (nullStore) Save(context.Context, *models.StagedCommand) error        { return nil }
func (nullStore) Delete(context.Context, *models.StagedCommand) error      { return nil }
func (nullStore) LoadAll(context.Context) ([]*models.StagedCommand, error) { return nil, nil }
func (nullStore) SaveAll(context.Context, []*models.StagedCommand) error   { return nil }
func (nullStore) DeleteAll(context.Context, []*models.StagedCommand) error { return nil }

var _ store.Store = nullStore{}

func newGate(t *testing.T, matcher *Matcher) (*Gate, *staging.Engine, *countingDispatcher) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	direct := &countingDispatcher{}
	engine := staging.NewEngine(staging.Deps{
		Store:  nullStore{},
		Rules:  rules.NewEngine(rules.DefaultConfig(), logger),
		Logger: logger,
	})
	return NewGate(matcher, engine, direct, nil, logger), engine, direct
}

func TestGatePassesThroughNonCritical(t *testing.T) {
	g, engine, direct := newGate(t, NewMatcher(nil, nil))

	out, err := g.Submit(context.Background(), models.Actor{ID: uuid.New(), Name: "alice"}, "/say hello")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if out.Disposition != DispositionPassed {
		t.Errorf("disposition = %s, want passed", out.Disposition)
	}
	if direct.count() != 1 {
		t.Errorf("direct dispatches = %d, want 1", direct.count())
	}
	if got := len(engine.Pending(context.Background())); got != 0 {
		t.Errorf("pending = %d for non-critical command, want 0", got)
	}
}

func TestGateStagesCritical(t *testing.T) {
	g, engine, direct := newGate(t, NewMatcher(nil, nil))

	out, err := g.Submit(context.Background(), models.Actor{ID: uuid.New(), Name: "alice"}, "/stop")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if out.Disposition != DispositionStaged {
		t.Errorf("disposition = %s, want staged", out.Disposition)
	}
	if out.Command == nil || out.Command.Status != models.StatusPending {
		t.Errorf("command = %+v, want pending", out.Command)
	}
	if direct.count() != 0 {
		t.Error("critical command dispatched directly")
	}
	if got := len(engine.Pending(context.Background())); got != 1 {
		t.Errorf("pending = %d, want 1", got)
	}
	engine.Flush()
}

func TestGateBypass(t *testing.T) {
	g, engine, direct := newGate(t, NewMatcher(nil, []string{"root"}))

	out, err := g.Submit(context.Background(), models.Actor{ID: uuid.New(), Name: "root"}, "/stop")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if out.Disposition != DispositionBypassed {
		t.Errorf("disposition = %s, want bypassed", out.Disposition)
	}
	if direct.count() != 1 {
		t.Errorf("direct dispatches = %d, want 1", direct.count())
	}
	if got := len(engine.Pending(context.Background())); got != 0 {
		t.Errorf("pending = %d after bypass, want 0", got)
	}
}

func TestGateRejectsMalformed(t *testing.T) {
	g, _, direct := newGate(t, NewMatcher(nil, nil))

	if _, err := g.Submit(context.Background(), models.Actor{ID: uuid.New(), Name: "alice"}, "no marker"); err == nil {
		t.Fatal("Submit accepted malformed command")
	}
	if direct.count() != 0 {
		t.Error("malformed command was dispatched")
	}
}
