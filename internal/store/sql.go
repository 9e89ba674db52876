package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/stagegate/stagegate/pkg/models"
)

// SQLStore persists the pending queue in a SQL database. It is written
// against SQLite (modernc.org/sqlite) but only uses portable statements.
type SQLStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLStore creates a SQL-backed store and ensures the schema exists.
func NewSQLStore(db *sql.DB, logger *slog.Logger) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &SQLStore{db: db, logger: logger}
	if err := s.ensureSchema(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) ensureSchema(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS staged_commands (
			id            TEXT PRIMARY KEY,
			sender_id     TEXT NOT NULL,
			sender_name   TEXT NOT NULL,
			command_line  TEXT NOT NULL,
			timestamp     INTEGER NOT NULL,
			justification TEXT,
			reviewer_id   TEXT,
			reviewer_name TEXT,
			status        TEXT NOT NULL DEFAULT 'PENDING'
		)`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create staged_commands table: %w", err)
	}
	return nil
}

const upsertStagedSQL = `
	INSERT OR REPLACE INTO staged_commands
		(id, sender_id, sender_name, command_line, timestamp, justification, reviewer_id, reviewer_name, status)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Save upserts a command keyed by its ID.
func (s *SQLStore) Save(ctx context.Context, cmd *models.StagedCommand) error {
	if _, err := s.db.ExecContext(ctx, upsertStagedSQL, stagedArgs(cmd)...); err != nil {
		return fmt.Errorf("save staged command: %w", err)
	}
	return nil
}

// Delete removes a command by ID.
func (s *SQLStore) Delete(ctx context.Context, cmd *models.StagedCommand) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM staged_commands WHERE id = ?`, cmd.ID.String()); err != nil {
		return fmt.Errorf("delete staged command: %w", err)
	}
	return nil
}

// LoadAll returns every persisted pending command.
func (s *SQLStore) LoadAll(ctx context.Context) ([]*models.StagedCommand, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender_id, sender_name, command_line, timestamp, justification, reviewer_id, reviewer_name, status
		FROM staged_commands`)
	if err != nil {
		return nil, fmt.Errorf("load staged commands: %w", err)
	}
	defer rows.Close()

	var cmds []*models.StagedCommand
	for rows.Next() {
		cmd, err := scanStaged(rows)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load staged commands: %w", err)
	}
	return cmds, nil
}

// SaveAll upserts a batch inside one transaction.
func (s *SQLStore) SaveAll(ctx context.Context, cmds []*models.StagedCommand) error {
	if len(cmds) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, cmd := range cmds {
			if _, err := tx.ExecContext(ctx, upsertStagedSQL, stagedArgs(cmd)...); err != nil {
				return fmt.Errorf("save staged command: %w", err)
			}
		}
		return nil
	})
}

// DeleteAll removes a batch inside one transaction.
func (s *SQLStore) DeleteAll(ctx context.Context, cmds []*models.StagedCommand) error {
	if len(cmds) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, cmd := range cmds {
			if _, err := tx.ExecContext(ctx, `DELETE FROM staged_commands WHERE id = ?`, cmd.ID.String()); err != nil {
				return fmt.Errorf("delete staged command: %w", err)
			}
		}
		return nil
	})
}

func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func stagedArgs(cmd *models.StagedCommand) []any {
	return []any{
		cmd.ID.String(),
		cmd.SenderID.String(),
		cmd.SenderName,
		cmd.CommandLine,
		cmd.Timestamp,
		nullString(cmd.Justification),
		nullUUID(cmd.ReviewerID),
		nullString(cmd.ReviewerName),
		string(cmd.Status),
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStaged(row rowScanner) (*models.StagedCommand, error) {
	var (
		idStr, senderIDStr, senderName, commandLine, status string
		timestamp                                           int64
		justification, reviewerIDStr, reviewerName          sql.NullString
	)
	if err := row.Scan(&idStr, &senderIDStr, &senderName, &commandLine, &timestamp,
		&justification, &reviewerIDStr, &reviewerName, &status); err != nil {
		return nil, fmt.Errorf("scan staged command: %w", err)
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
	return cmd, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullUUID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id.String()
}
