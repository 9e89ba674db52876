// Package ranking keeps per-reviewer decision counters and a leaderboard.
// It subscribes to the staging event bus and counts human approvals and
// rejections; rule and system decisions are not ranked.
package ranking

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/stagegate/stagegate/internal/events"
	"github.com/stagegate/stagegate/pkg/models"
)

// ResetPeriod controls when counters roll over.
type ResetPeriod string

const (
	ResetNever   ResetPeriod = "never"
	ResetWeekly  ResetPeriod = "weekly"
	ResetMonthly ResetPeriod = "monthly"
)

// Entry is one reviewer's standing.
type Entry struct {
	ReviewerID uuid.UUID `yaml:"reviewer_id"`
	Name       string    `yaml:"name"`
	Approvals  int       `yaml:"approvals"`
	Rejections int       `yaml:"rejections"`
}

// Total is the reviewer's decision count.
func (e Entry) Total() int { return e.Approvals + e.Rejections }

type boardFile struct {
	LastReset time.Time `yaml:"last_reset"`
	Entries   []Entry   `yaml:"entries"`
}

// Board accumulates reviewer standings with optional periodic reset and YAML
// persistence.
type Board struct {
	path   string
	period ResetPeriod
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	entries   map[uuid.UUID]*Entry
	lastReset time.Time
}

// NewBoard creates a board persisting to path. An empty path keeps the board
// in memory only.
func NewBoard(path string, period ResetPeriod, logger *slog.Logger) *Board {
	if logger == nil {
		logger = slog.Default()
	}
	if period == "" {
		period = ResetNever
	}
	b := &Board{
		path:    path,
		period:  period,
		logger:  logger,
		now:     time.Now,
		entries: make(map[uuid.UUID]*Entry),
	}
	b.lastReset = b.now()
	return b
}

// Load restores persisted standings. A missing file starts empty.
func (b *Board) Load() error {
	if b.path == "" {
		return nil
	}
	data, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read ranking file: %w", err)
	}

	var file boardFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse ranking file: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = make(map[uuid.UUID]*Entry, len(file.Entries))
	for _, e := range file.Entries {
		e := e
		b.entries[e.ReviewerID] = &e
	}
	if !file.LastReset.IsZero() {
		b.lastReset = file.LastReset
	}
	return nil
}

// HandleStagingEvent counts human approvals and rejections.
func (b *Board) HandleStagingEvent(ev events.Event) {
	if ev.Auto || ev.Command == nil || ev.Command.ReviewerID == uuid.Nil {
		return
	}

	switch ev.Kind {
	case events.KindApproved:
		b.record(ev.Command, true)
	case events.KindRejected:
		b.record(ev.Command, false)
	}
}

func (b *Board) record(cmd *models.StagedCommand, approved bool) {
	b.mu.Lock()
	b.maybeResetLocked()

	entry, ok := b.entries[cmd.ReviewerID]
	if !ok {
		entry = &Entry{ReviewerID: cmd.ReviewerID, Name: cmd.ReviewerName}
		b.entries[cmd.ReviewerID] = entry
	}
	entry.Name = cmd.ReviewerName
	if approved {
		entry.Approvals++
	} else {
		entry.Rejections++
	}
	b.mu.Unlock()

	if err := b.save(); err != nil {
		b.logger.Warn("failed to persist reviewer ranking", "error", err)
	}
}

// Leaderboard returns standings ordered by total decisions, ties broken by
// approvals then name.
func (b *Board) Leaderboard() []Entry {
	b.mu.Lock()
	b.maybeResetLocked()
	out := make([]Entry, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, *e)
	}
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Total() != out[j].Total() {
			return out[i].Total() > out[j].Total()
		}
		if out[i].Approvals != out[j].Approvals {
			return out[i].Approvals > out[j].Approvals
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Reset clears all standings immediately.
func (b *Board) Reset() {
	b.mu.Lock()
	b.entries = make(map[uuid.UUID]*Entry)
	b.lastReset = b.now()
	b.mu.Unlock()

	if err := b.save(); err != nil {
		b.logger.Warn("failed to persist reviewer ranking", "error", err)
	}
}

// maybeResetLocked rolls the board over when the configured period has
// elapsed. Caller holds b.mu.
func (b *Board) maybeResetLocked() {
	now := b.now()
	var due bool
	switch b.period {
	case ResetWeekly:
		y1, w1 := b.lastReset.ISOWeek()
		y2, w2 := now.ISOWeek()
		due = y1 != y2 || w1 != w2
	case ResetMonthly:
		due = b.lastReset.Year() != now.Year() || b.lastReset.Month() != now.Month()
	default:
		return
	}
	if !due {
		return
	}
	b.entries = make(map[uuid.UUID]*Entry)
	b.lastReset = now
	b.logger.Info("reviewer ranking reset", "period", string(b.period))
}

func (b *Board) save() error {
	if b.path == "" {
		return nil
	}

	b.mu.Lock()
	file := boardFile{LastReset: b.lastReset, Entries: make([]Entry, 0, len(b.entries))}
	for _, e := range b.entries {
		file.Entries = append(file.Entries, *e)
	}
	b.mu.Unlock()

	sort.Slice(file.Entries, func(i, j int) bool {
		return file.Entries[i].Name < file.Entries[j].Name
	})

	data, err := yaml.Marshal(&file)
	if err != nil {
		return fmt.Errorf("marshal ranking: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return fmt.Errorf("create ranking dir: %w", err)
	}
	if err := os.WriteFile(b.path, data, 0o600); err != nil {
		return fmt.Errorf("write ranking file: %w", err)
	}
	return nil
}
