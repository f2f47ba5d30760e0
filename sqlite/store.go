// Package sqlite provides a SQLite-backed checkpoint store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/deepnoodle-ai/blockflow"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS executions (
	workflow_id    TEXT NOT NULL,
	execution_id   TEXT NOT NULL,
	correlation_id TEXT,
	status         TEXT NOT NULL,
	start_time     TIMESTAMP NOT NULL,
	end_time       TIMESTAMP,
	error          TEXT,
	PRIMARY KEY (workflow_id, execution_id)
);

CREATE TABLE IF NOT EXISTS checkpoints (
	workflow_id  TEXT NOT NULL,
	execution_id TEXT NOT NULL,
	data         TEXT NOT NULL,
	updated_at   TIMESTAMP NOT NULL,
	PRIMARY KEY (workflow_id, execution_id)
);

CREATE TABLE IF NOT EXISTS leases (
	workflow_id  TEXT NOT NULL,
	execution_id TEXT NOT NULL,
	owner        TEXT NOT NULL,
	expires_at   TIMESTAMP NOT NULL,
	PRIMARY KEY (workflow_id, execution_id)
);
`

// Store is a CheckpointStore backed by SQLite. Suitable for single-node
// deployments; the lease table still guards against two processes on the
// same host driving one execution.
type Store struct {
	db *sql.DB
}

// New opens (and creates if needed) the SQLite database at path and ensures
// the schema exists. Use ":memory:" for an ephemeral store.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing database handle and ensures the schema exists.
func NewWithDB(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateExecution(ctx context.Context, record *blockflow.ExecutionRecord) error {
	if record == nil {
		return fmt.Errorf("execution record is required")
	}
	query := `
		INSERT INTO executions (workflow_id, execution_id, correlation_id, status, start_time, error)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (workflow_id, execution_id) DO UPDATE
		SET status = excluded.status, error = excluded.error
	`
	_, err := s.db.ExecContext(ctx, query,
		record.WorkflowID,
		record.ExecutionID,
		record.CorrelationID,
		string(record.Status),
		record.StartTime.UTC(),
		record.Error,
	)
	return err
}

func (s *Store) SaveCheckpoint(ctx context.Context, checkpoint *blockflow.Checkpoint) error {
	if checkpoint == nil {
		return fmt.Errorf("checkpoint is required")
	}
	data, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO checkpoints (workflow_id, execution_id, data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (workflow_id, execution_id) DO UPDATE
		SET data = excluded.data, updated_at = excluded.updated_at
	`
	if _, err := tx.ExecContext(ctx, query,
		checkpoint.WorkflowID,
		checkpoint.ExecutionID,
		string(data),
		checkpoint.UpdatedAt.UTC(),
	); err != nil {
		return err
	}

	// Keep the execution record's status in step with the checkpoint.
	var endTime any
	if checkpoint.Status.Terminal() {
		endTime = checkpoint.UpdatedAt.UTC()
	}
	update := `
		UPDATE executions
		SET status = ?, error = ?, end_time = ?
		WHERE workflow_id = ? AND execution_id = ?
	`
	if _, err := tx.ExecContext(ctx, update,
		string(checkpoint.Status),
		checkpoint.Error,
		endTime,
		checkpoint.WorkflowID,
		checkpoint.ExecutionID,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) LoadCheckpoint(ctx context.Context, workflowID, executionID string) (*blockflow.Checkpoint, error) {
	query := `
		SELECT data FROM checkpoints
		WHERE workflow_id = ? AND execution_id = ?
	`
	var data string
	err := s.db.QueryRowContext(ctx, query, workflowID, executionID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var checkpoint blockflow.Checkpoint
	if err := json.Unmarshal([]byte(data), &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &checkpoint, nil
}

func (s *Store) AcquireLease(ctx context.Context, workflowID, executionID, owner string, ttl time.Duration) (*blockflow.Lease, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	// Claim by upsert: succeed when no lease row exists, the lease expired,
	// or this owner already holds it.
	query := `
		INSERT INTO leases (workflow_id, execution_id, owner, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (workflow_id, execution_id) DO UPDATE
		SET owner = excluded.owner, expires_at = excluded.expires_at
		WHERE leases.owner = excluded.owner OR leases.expires_at < ?
	`
	result, err := s.db.ExecContext(ctx, query, workflowID, executionID, owner, expiresAt, now)
	if err != nil {
		return nil, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, blockflow.ErrLeaseHeld
	}
	return &blockflow.Lease{
		WorkflowID:  workflowID,
		ExecutionID: executionID,
		Owner:       owner,
		ExpiresAt:   expiresAt,
	}, nil
}

func (s *Store) ReleaseLease(ctx context.Context, lease *blockflow.Lease) error {
	if lease == nil {
		return nil
	}
	query := `
		DELETE FROM leases
		WHERE workflow_id = ? AND execution_id = ? AND owner = ?
	`
	_, err := s.db.ExecContext(ctx, query, lease.WorkflowID, lease.ExecutionID, lease.Owner)
	return err
}

func (s *Store) ListExecutions(ctx context.Context, workflowID string, filter blockflow.ExecutionFilter) ([]*blockflow.ExecutionSummary, error) {
	query := `
		SELECT execution_id, status, start_time, end_time, error
		FROM executions
		WHERE workflow_id = ?
	`
	args := []any{workflowID}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(status))
		}
		query += " AND status IN (" + strings.Join(placeholders, ", ") + ")"
	}
	if !filter.Since.IsZero() {
		query += " AND start_time >= ?"
		args = append(args, filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		query += " AND start_time <= ?"
		args = append(args, filter.Until.UTC())
	}
	query += " ORDER BY start_time DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	} else if filter.Offset > 0 {
		// SQLite requires a LIMIT clause before OFFSET.
		query += " LIMIT -1"
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []*blockflow.ExecutionSummary
	for rows.Next() {
		summary := &blockflow.ExecutionSummary{WorkflowID: workflowID}
		var status string
		var endTime sql.NullTime
		var errMessage sql.NullString
		if err := rows.Scan(&summary.ExecutionID, &status, &summary.StartTime, &endTime, &errMessage); err != nil {
			return nil, err
		}
		summary.Status = blockflow.ExecutionStatus(status)
		if endTime.Valid {
			summary.EndTime = endTime.Time
			summary.Duration = summary.EndTime.Sub(summary.StartTime)
		}
		summary.Error = errMessage.String
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}
