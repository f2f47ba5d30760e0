// Package postgres provides a PostgreSQL-backed checkpoint store. The lease
// table gives cross-process mutual exclusion over a single execution id.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/deepnoodle-ai/blockflow"
	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS blockflow_executions (
	workflow_id    TEXT NOT NULL,
	execution_id   TEXT NOT NULL,
	correlation_id TEXT,
	status         TEXT NOT NULL,
	start_time     TIMESTAMPTZ NOT NULL,
	end_time       TIMESTAMPTZ,
	error          TEXT,
	PRIMARY KEY (workflow_id, execution_id)
);

CREATE TABLE IF NOT EXISTS blockflow_checkpoints (
	workflow_id  TEXT NOT NULL,
	execution_id TEXT NOT NULL,
	data         JSONB NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (workflow_id, execution_id)
);

CREATE TABLE IF NOT EXISTS blockflow_leases (
	workflow_id  TEXT NOT NULL,
	execution_id TEXT NOT NULL,
	owner        TEXT NOT NULL,
	expires_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (workflow_id, execution_id)
);
`

// Store is a CheckpointStore backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

// New connects to PostgreSQL with the given DSN and ensures the schema
// exists.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return NewWithDB(db)
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
		INSERT INTO blockflow_executions (workflow_id, execution_id, correlation_id, status, start_time, error)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (workflow_id, execution_id) DO UPDATE
		SET status = EXCLUDED.status, error = EXCLUDED.error
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
		INSERT INTO blockflow_checkpoints (workflow_id, execution_id, data, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (workflow_id, execution_id) DO UPDATE
		SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at
	`
	if _, err := tx.ExecContext(ctx, query,
		checkpoint.WorkflowID,
		checkpoint.ExecutionID,
		string(data),
		checkpoint.UpdatedAt.UTC(),
	); err != nil {
		return err
	}

	var endTime any
	if checkpoint.Status.Terminal() {
		endTime = checkpoint.UpdatedAt.UTC()
	}
	update := `
		UPDATE blockflow_executions
		SET status = $1, error = $2, end_time = $3
		WHERE workflow_id = $4 AND execution_id = $5
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
		SELECT data FROM blockflow_checkpoints
		WHERE workflow_id = $1 AND execution_id = $2
	`
	var data []byte
	err := s.db.QueryRowContext(ctx, query, workflowID, executionID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var checkpoint blockflow.Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &checkpoint, nil
}

func (s *Store) AcquireLease(ctx context.Context, workflowID, executionID, owner string, ttl time.Duration) (*blockflow.Lease, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	query := `
		INSERT INTO blockflow_leases (workflow_id, execution_id, owner, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (workflow_id, execution_id) DO UPDATE
		SET owner = EXCLUDED.owner, expires_at = EXCLUDED.expires_at
		WHERE blockflow_leases.owner = EXCLUDED.owner OR blockflow_leases.expires_at < $5
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
		DELETE FROM blockflow_leases
		WHERE workflow_id = $1 AND execution_id = $2 AND owner = $3
	`
	_, err := s.db.ExecContext(ctx, query, lease.WorkflowID, lease.ExecutionID, lease.Owner)
	return err
}

func (s *Store) ListExecutions(ctx context.Context, workflowID string, filter blockflow.ExecutionFilter) ([]*blockflow.ExecutionSummary, error) {
	query := `
		SELECT execution_id, status, start_time, end_time, error
		FROM blockflow_executions
		WHERE workflow_id = $1
	`
	args := []any{workflowID}
	arg := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			placeholders[i] = arg(string(status))
		}
		query += " AND status IN (" + strings.Join(placeholders, ", ") + ")"
	}
	if !filter.Since.IsZero() {
		query += " AND start_time >= " + arg(filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		query += " AND start_time <= " + arg(filter.Until.UTC())
	}
	query += " ORDER BY start_time DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
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
