package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/stagegate/stagegate/pkg/models"
)

// JSONHistoryStore keeps per-requester decision history in one JSON file
// mapping requester id to their recent commands.
type JSONHistoryStore struct {
	path   string
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[uuid.UUID][]*models.StagedCommand
}

// NewJSONHistoryStore opens (or lazily creates) the history file under dir.
func NewJSONHistoryStore(dir string, logger *slog.Logger) (*JSONHistoryStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &JSONHistoryStore{
		path:   filepath.Join(dir, "command_history.json"),
		logger: logger,
		cache:  make(map[uuid.UUID][]*models.StagedCommand),
	}
	if err := s.loadFromDisk(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *JSONHistoryStore) loadFromDisk() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read command history: %w", err)
	}

	loaded := make(map[uuid.UUID][]*models.StagedCommand)
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parse command history: %w", err)
	}

	s.mu.Lock()
	s.cache = loaded
	s.mu.Unlock()
	return nil
}

func (s *JSONHistoryStore) flush() error {
	s.mu.RLock()
	data, err := json.MarshalIndent(s.cache, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal command history: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write command history: %w", err)
	}
	return nil
}

// Save replaces the requester's entire history and rewrites the file.
func (s *JSONHistoryStore) Save(ctx context.Context, requesterID uuid.UUID, history []*models.StagedCommand) error {
	s.mu.Lock()
	s.cache[requesterID] = cloneAll(history)
	s.mu.Unlock()
	return s.flush()
}

// Load returns a copy of one requester's history; empty when absent.
func (s *JSONHistoryStore) Load(ctx context.Context, requesterID uuid.UUID) ([]*models.StagedCommand, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAll(s.cache[requesterID]), nil
}

// LoadAll returns a copy of every requester's history.
func (s *JSONHistoryStore) LoadAll(ctx context.Context) (map[uuid.UUID][]*models.StagedCommand, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[uuid.UUID][]*models.StagedCommand, len(s.cache))
	for id, history := range s.cache {
		out[id] = cloneAll(history)
	}
	return out, nil
}

// Delete drops one requester's history and rewrites the file.
func (s *JSONHistoryStore) Delete(ctx context.Context, requesterID uuid.UUID) error {
	s.mu.Lock()
	delete(s.cache, requesterID)
	s.mu.Unlock()
	return s.flush()
}
