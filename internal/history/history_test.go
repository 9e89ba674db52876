package history

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stagegate/stagegate/pkg/models"
)

// memHistoryStore is an in-memory store.HistoryStore for tests.
type memHistoryStore struct {
	mu    sync.Mutex
	saves int
	data  map[uuid.UUID][]*models.StagedCommand
}

func newMemHistoryStore() *memHistoryStore {
	return &memHistoryStore{data: make(map[uuid.UUID][]*models.StagedCommand)}
}

func (m *memHistoryStore) Save(ctx context.Context, requesterID uuid.UUID, history []*models.StagedCommand) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.data[requesterID] = history
	return nil
}

func (m *memHistoryStore) Load(ctx context.Context, requesterID uuid.UUID) ([]*models.StagedCommand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[requesterID], nil
}

func (m *memHistoryStore) LoadAll(ctx context.Context) (map[uuid.UUID][]*models.StagedCommand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uuid.UUID][]*models.StagedCommand, len(m.data))
	for id, records := range m.data {
		out[id] = records
	}
	return out, nil
}

func (m *memHistoryStore) Delete(ctx context.Context, requesterID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, requesterID)
	return nil
}

func decided(sender models.Actor, line string, status models.Status) *models.StagedCommand {
	cmd := models.NewStagedCommand(sender, line)
	cmd.Status = status
	return cmd
}

func TestRecorderNewestFirst(t *testing.T) {
	r := NewRecorder(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	sender := models.Actor{ID: uuid.New(), Name: "alice"}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		r.Record(ctx, decided(sender, fmt.Sprintf("/say %d", i), models.StatusApproved))
	}

	got := r.ForRequester(sender.ID)
	if len(got) != 3 {
		t.Fatalf("history size = %d, want 3", len(got))
	}
	for i, cmd := range got {
		want := fmt.Sprintf("/say %d", 2-i)
		if cmd.CommandLine != want {
			t.Errorf("history[%d] = %q, want %q", i, cmd.CommandLine, want)
		}
	}
}

func TestRecorderEvictsOldestAtCap(t *testing.T) {
	r := NewRecorder(nil, slog.New(slog.NewTextHandler(io.Discard, nil)), WithCap(50))
	sender := models.Actor{ID: uuid.New(), Name: "alice"}
	ctx := context.Background()

	for i := 0; i < 55; i++ {
		r.Record(ctx, decided(sender, fmt.Sprintf("/say %d", i), models.StatusApproved))
	}

	if got := r.Size(sender.ID); got != 50 {
		t.Fatalf("history size = %d, want 50", got)
	}
	got := r.ForRequester(sender.ID)
	if got[0].CommandLine != "/say 54" {
		t.Errorf("newest record = %q, want %q", got[0].CommandLine, "/say 54")
	}
	if got[len(got)-1].CommandLine != "/say 5" {
		t.Errorf("oldest record = %q, want %q (records 0-4 evicted)", got[len(got)-1].CommandLine, "/say 5")
	}
}

func TestRecorderCapsPerRequesterIndependently(t *testing.T) {
	r := NewRecorder(nil, slog.New(slog.NewTextHandler(io.Discard, nil)), WithCap(3))
	alice := models.Actor{ID: uuid.New(), Name: "alice"}
	bob := models.Actor{ID: uuid.New(), Name: "bob"}
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		r.Record(ctx, decided(alice, fmt.Sprintf("/say a%d", i), models.StatusApproved))
	}
	r.Record(ctx, decided(bob, "/say b0", models.StatusRejected))

	if got := r.Size(alice.ID); got != 3 {
		t.Errorf("alice history size = %d, want 3", got)
	}
	if got := r.Size(bob.ID); got != 1 {
		t.Errorf("bob history size = %d, want 1", got)
	}
}

func TestRecorderRecentLimits(t *testing.T) {
	r := NewRecorder(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	sender := models.Actor{ID: uuid.New(), Name: "alice"}
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		r.Record(ctx, decided(sender, fmt.Sprintf("/say %d", i), models.StatusApproved))
	}

	recent := r.Recent(sender.ID, 4)
	if len(recent) != 4 {
		t.Fatalf("Recent returned %d records, want 4", len(recent))
	}
	if recent[0].CommandLine != "/say 9" {
		t.Errorf("Recent[0] = %q, want %q", recent[0].CommandLine, "/say 9")
	}

	if got := r.Recent(sender.ID, 0); len(got) != 10 {
		t.Errorf("Recent with limit 0 returned %d records, want all 10", len(got))
	}
	if got := r.Recent(sender.ID, 100); len(got) != 10 {
		t.Errorf("Recent with oversized limit returned %d records, want 10", len(got))
	}
}

func TestRecorderPersistsAsync(t *testing.T) {
	hs := newMemHistoryStore()
	r := NewRecorder(hs, slog.New(slog.NewTextHandler(io.Discard, nil)))
	sender := models.Actor{ID: uuid.New(), Name: "alice"}
	ctx := context.Background()

	r.Record(ctx, decided(sender, "/stop", models.StatusApproved))
	r.Record(ctx, decided(sender, "/reload", models.StatusRejected))
	r.Flush()

	persisted, _ := hs.Load(ctx, sender.ID)
	if len(persisted) != 2 {
		t.Fatalf("persisted %d records, want 2", len(persisted))
	}
	if persisted[0].CommandLine != "/reload" {
		t.Errorf("persisted newest = %q, want %q", persisted[0].CommandLine, "/reload")
	}
}

func TestRecorderLoadOnStartup(t *testing.T) {
	hs := newMemHistoryStore()
	sender := models.Actor{ID: uuid.New(), Name: "alice"}
	ctx := context.Background()

	// Seed the store through one recorder, then start a fresh one.
	seed := NewRecorder(hs, slog.New(slog.NewTextHandler(io.Discard, nil)))
	seed.Record(ctx, decided(sender, "/stop", models.StatusApproved))
	seed.Record(ctx, decided(sender, "/reload", models.StatusRejected))
	seed.Flush()

	r := NewRecorder(hs, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := r.LoadOnStartup(ctx); err != nil {
		t.Fatalf("LoadOnStartup: %v", err)
	}

	got := r.ForRequester(sender.ID)
	if len(got) != 2 {
		t.Fatalf("loaded %d records, want 2", len(got))
	}
	if got[0].CommandLine != "/reload" {
		t.Errorf("loaded newest = %q, want %q", got[0].CommandLine, "/reload")
	}

	// New records continue evicting from the oldest end.
	r2 := NewRecorder(hs, slog.New(slog.NewTextHandler(io.Discard, nil)), WithCap(2))
	if err := r2.LoadOnStartup(ctx); err != nil {
		t.Fatalf("LoadOnStartup: %v", err)
	}
	r2.Record(ctx, decided(sender, "/kick bob", models.StatusApproved))
	got = r2.ForRequester(sender.ID)
	if len(got) != 2 {
		t.Fatalf("history size = %d after record at cap, want 2", len(got))
	}
	if got[0].CommandLine != "/kick bob" || got[1].CommandLine != "/reload" {
		t.Errorf("history = [%q %q], want [/kick bob /reload]", got[0].CommandLine, got[1].CommandLine)
	}
}

func TestRecorderClear(t *testing.T) {
	hs := newMemHistoryStore()
	r := NewRecorder(hs, slog.New(slog.NewTextHandler(io.Discard, nil)))
	sender := models.Actor{ID: uuid.New(), Name: "alice"}
	ctx := context.Background()

	r.Record(ctx, decided(sender, "/stop", models.StatusApproved))
	r.Flush()
	r.Clear(ctx, sender.ID)
	r.Flush()

	if got := r.Size(sender.ID); got != 0 {
		t.Errorf("history size = %d after clear, want 0", got)
	}
	persisted, _ := hs.Load(ctx, sender.ID)
	if len(persisted) != 0 {
		t.Errorf("persisted %d records after clear, want 0", len(persisted))
	}
}

func TestRecorderRecordedCopiesAreIsolated(t *testing.T) {
	r := NewRecorder(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	sender := models.Actor{ID: uuid.New(), Name: "alice"}
	cmd := decided(sender, "/stop", models.StatusApproved)

	r.Record(context.Background(), cmd)
	cmd.Status = models.StatusRejected

	got := r.ForRequester(sender.ID)
	if got[0].Status != models.StatusApproved {
		t.Error("mutating the recorded command leaked into history")
	}
}
