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

	"github.com/stagegate/stagegate/pkg/models"
)

// JSONStore keeps the pending queue in a single pretty-printed JSON file with
// a write-through in-memory cache.
type JSONStore struct {
	path   string
	logger *slog.Logger

	mu    sync.RWMutex
	cache []*models.StagedCommand
}

// NewJSONStore opens (or lazily creates) the staged-command file under dir.
func NewJSONStore(dir string, logger *slog.Logger) (*JSONStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &JSONStore{
		path:   filepath.Join(dir, "staged_commands.json"),
		logger: logger,
	}
	if err := s.loadFromDisk(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *JSONStore) loadFromDisk() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read staged commands: %w", err)
	}

	var loaded []*models.StagedCommand
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parse staged commands: %w", err)
	}

	s.mu.Lock()
	s.cache = loaded
	s.mu.Unlock()
	return nil
}

// flush writes the cache to disk. Callers must not hold the write lock.
func (s *JSONStore) flush() error {
	s.mu.RLock()
	data, err := json.MarshalIndent(s.cache, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal staged commands: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write staged commands: %w", err)
	}
	return nil
}

// Save upserts a command and rewrites the file.
func (s *JSONStore) Save(ctx context.Context, cmd *models.StagedCommand) error {
	s.mu.Lock()
	s.removeLocked(cmd)
	s.cache = append(s.cache, cmd.Clone())
	s.mu.Unlock()
	return s.flush()
}

// Delete removes a command by ID and rewrites the file.
func (s *JSONStore) Delete(ctx context.Context, cmd *models.StagedCommand) error {
	s.mu.Lock()
	s.removeLocked(cmd)
	s.mu.Unlock()
	return s.flush()
}

// LoadAll returns a copy of every cached command.
func (s *JSONStore) LoadAll(ctx context.Context) ([]*models.StagedCommand, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAll(s.cache), nil
}

// SaveAll upserts a batch with a single disk write.
func (s *JSONStore) SaveAll(ctx context.Context, cmds []*models.StagedCommand) error {
	if len(cmds) == 0 {
		return nil
	}
	s.mu.Lock()
	for _, cmd := range cmds {
		s.removeLocked(cmd)
		s.cache = append(s.cache, cmd.Clone())
	}
	s.mu.Unlock()
	return s.flush()
}

// DeleteAll removes a batch with a single disk write.
func (s *JSONStore) DeleteAll(ctx context.Context, cmds []*models.StagedCommand) error {
	if len(cmds) == 0 {
		return nil
	}
	s.mu.Lock()
	for _, cmd := range cmds {
		s.removeLocked(cmd)
	}
	s.mu.Unlock()
	return s.flush()
}

func (s *JSONStore) removeLocked(cmd *models.StagedCommand) {
	kept := s.cache[:0]
	for _, c := range s.cache {
		if c.ID != cmd.ID {
			kept = append(kept, c)
		}
	}
	s.cache = kept
}
