// Package store persists staged commands and per-requester decision history.
//
// Two backends are provided: a flat-file JSON store and a SQLite store. Both
// satisfy the same contracts, so the staging engine never knows which one it
// is talking to. RetryStore wraps either backend with bounded retries and a
// circuit breaker so storage degradation never blocks a lifecycle decision.
package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/stagegate/stagegate/pkg/models"
)

// Store persists the pending command queue.
//
// Implementations must tolerate being called from storage worker goroutines;
// the staging engine never calls them on its decision path.
type Store interface {
	// Save upserts a command keyed by its ID.
	Save(ctx context.Context, cmd *models.StagedCommand) error

	// Delete removes a command. Deleting an absent command is a no-op.
	Delete(ctx context.Context, cmd *models.StagedCommand) error

	// LoadAll returns every persisted pending command.
	LoadAll(ctx context.Context) ([]*models.StagedCommand, error)

	// SaveAll upserts a batch with a single write.
	SaveAll(ctx context.Context, cmds []*models.StagedCommand) error

	// DeleteAll removes a batch with a single write.
	DeleteAll(ctx context.Context, cmds []*models.StagedCommand) error
}

// HistoryStore persists the capped per-requester decision history. The whole
// history of one requester is written as a unit, mirroring how the recorder
// mutates it.
type HistoryStore interface {
	Save(ctx context.Context, requesterID uuid.UUID, history []*models.StagedCommand) error
	Load(ctx context.Context, requesterID uuid.UUID) ([]*models.StagedCommand, error)
	LoadAll(ctx context.Context) (map[uuid.UUID][]*models.StagedCommand, error)
	Delete(ctx context.Context, requesterID uuid.UUID) error
}

func cloneAll(cmds []*models.StagedCommand) []*models.StagedCommand {
	out := make([]*models.StagedCommand, len(cmds))
	for i, c := range cmds {
		out[i] = c.Clone()
	}
	return out
}
