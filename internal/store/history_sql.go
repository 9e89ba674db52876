package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/stagegate/stagegate/pkg/models"
)

// SQLHistoryStore persists per-requester decision history in SQL. A
// requester's history is replaced wholesale on save, matching the recorder's
// capped-list semantics.
type SQLHistoryStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLHistoryStore creates a SQL-backed history store and ensures the
// schema exists.
func NewSQLHistoryStore(db *sql.DB, logger *slog.Logger) (*SQLHistoryStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &SQLHistoryStore{db: db, logger: logger}
	if err := s.ensureSchema(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLHistoryStore) ensureSchema(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS command_history (
			id            TEXT NOT NULL,
			requester_id  TEXT NOT NULL,
			sender_id     TEXT NOT NULL,
			sender_name   TEXT NOT NULL,
			command_line  TEXT NOT NULL,
			timestamp     INTEGER NOT NULL,
			justification TEXT,
			reviewer_id   TEXT,
			reviewer_name TEXT,
			status        TEXT NOT NULL,
			PRIMARY KEY (id, requester_id)
		)`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create command_history table: %w", err)
	}
	const index = `
		CREATE INDEX IF NOT EXISTS idx_history_requester_ts
		ON command_history (requester_id, timestamp)`
	if _, err := s.db.ExecContext(ctx, index); err != nil {
		return fmt.Errorf("create command_history index: %w", err)
	}
	return nil
}

// Save replaces the requester's entire history inside one transaction.
func (s *SQLHistoryStore) Save(ctx context.Context, requesterID uuid.UUID, history []*models.StagedCommand) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				s.logger.Warn("rollback failed", "error", rbErr)
			}
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM command_history WHERE requester_id = ?`, requesterID.String()); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}

	const insert = `
		INSERT INTO command_history
			(id, requester_id, sender_id, sender_name, command_line, timestamp, justification, reviewer_id, reviewer_name, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for _, cmd := range history {
		if _, err = tx.ExecContext(ctx, insert,
			cmd.ID.String(),
			requesterID.String(),
			cmd.SenderID.String(),
			cmd.SenderName,
			cmd.CommandLine,
			cmd.Timestamp,
			nullString(cmd.Justification),
			nullUUID(cmd.ReviewerID),
			nullString(cmd.ReviewerName),
			string(cmd.Status),
		); err != nil {
			return fmt.Errorf("insert history record: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Load returns one requester's history, newest first.
func (s *SQLHistoryStore) Load(ctx context.Context, requesterID uuid.UUID) ([]*models.StagedCommand, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender_id, sender_name, command_line, timestamp, justification, reviewer_id, reviewer_name, status
		FROM command_history WHERE requester_id = ? ORDER BY timestamp DESC`, requesterID.String())
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var history []*models.StagedCommand
	for rows.Next() {
		cmd, err := scanStaged(rows)
		if err != nil {
			return nil, err
		}
		history = append(history, cmd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return history, nil
}

// LoadAll returns every requester's history, each newest first.
func (s *SQLHistoryStore) LoadAll(ctx context.Context) (map[uuid.UUID][]*models.StagedCommand, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT requester_id, id, sender_id, sender_name, command_line, timestamp, justification, reviewer_id, reviewer_name, status
		FROM command_history ORDER BY requester_id, timestamp DESC`)
	if err != nil {
		return nil, fmt.Errorf("load all history: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]*models.StagedCommand)
	for rows.Next() {
		var (
			requesterStr                                        string
			idStr, senderIDStr, senderName, commandLine, status string
			timestamp                                           int64
			justification, reviewerIDStr, reviewerName          sql.NullString
		)
		if err := rows.Scan(&requesterStr, &idStr, &senderIDStr, &senderName, &commandLine, &timestamp,
			&justification, &reviewerIDStr, &reviewerName, &status); err != nil {
			return nil, fmt.Errorf("scan history record: %w", err)
		}

		requesterID, err := uuid.Parse(requesterStr)
		if err != nil {
			return nil, fmt.Errorf("parse requester id %q: %w", requesterStr, err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("parse command id %q: %w", idStr, err)
		}
		senderID, err := uuid.Parse(senderIDStr)
		if err != nil {
			return nil, fmt.Errorf("parse sender id %q: %w", senderIDStr, err)
		}

		cmd := &models.StagedCommand{
			ID:            id,
			SenderID:      senderID,
			SenderName:    senderName,
			CommandLine:   commandLine,
			Timestamp:     timestamp,
			Justification: justification.String,
			ReviewerName:  reviewerName.String,
			Status:        models.Status(status),
		}
		if reviewerIDStr.Valid && reviewerIDStr.String != "" {
			reviewerID, err := uuid.Parse(reviewerIDStr.String)
			if err != nil {
				return nil, fmt.Errorf("parse reviewer id %q: %w", reviewerIDStr.String, err)
			}
			cmd.ReviewerID = reviewerID
		}
		out[requesterID] = append(out[requesterID], cmd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load all history: %w", err)
	}
	return out, nil
}

// Delete drops one requester's history.
func (s *SQLHistoryStore) Delete(ctx context.Context, requesterID uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM command_history WHERE requester_id = ?`, requesterID.String()); err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	return nil
}
