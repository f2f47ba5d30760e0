package blockflow

import (
	"context"
	"errors"
	"time"
)

// ErrLeaseHeld is returned by AcquireLease when another owner holds an
// unexpired lease on the execution.
var ErrLeaseHeld = errors.New("execution lease held by another owner")

// ExecutionRecord is created when an execution starts.
type ExecutionRecord struct {
	WorkflowID    string          `json:"workflow_id"`
	ExecutionID   string          `json:"execution_id"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Status        ExecutionStatus `json:"status"`
	StartTime     time.Time       `json:"start_time"`
	EndTime       time.Time       `json:"end_time,omitzero"`
	Error         string          `json:"error,omitempty"`
}

// ExecutionFilter narrows ListExecutions results.
type ExecutionFilter struct {
	Statuses []ExecutionStatus
	Since    time.Time
	Until    time.Time
	Limit    int
	Offset   int
}

func (f ExecutionFilter) matches(record *ExecutionRecord) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, status := range f.Statuses {
			if record.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.Since.IsZero() && record.StartTime.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && record.StartTime.After(f.Until) {
		return false
	}
	return true
}

// ExecutionSummary is a list view of an execution.
type ExecutionSummary struct {
	WorkflowID  string          `json:"workflow_id"`
	ExecutionID string          `json:"execution_id"`
	Status      ExecutionStatus `json:"status"`
	StartTime   time.Time       `json:"start_time"`
	EndTime     time.Time       `json:"end_time,omitzero"`
	Duration    time.Duration   `json:"duration"`
	Error       string          `json:"error,omitempty"`
}

// Lease is a time-bounded exclusive claim on driving one execution, used for
// cross-process mutual exclusion. The executor assumes it is the sole driver
// while it holds an unexpired lease.
type Lease struct {
	WorkflowID  string    `json:"workflow_id"`
	ExecutionID string    `json:"execution_id"`
	Owner       string    `json:"owner"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the lease has passed its expiry.
func (l *Lease) Expired() bool {
	return time.Now().After(l.ExpiresAt)
}

// CheckpointStore is the persistence contract the executor depends on. The
// concrete backend (file, database, etc.) is external to the engine.
type CheckpointStore interface {

	// CreateExecution records that an execution has started.
	CreateExecution(ctx context.Context, record *ExecutionRecord) error

	// SaveCheckpoint persists a checkpoint, overwriting any previous
	// checkpoint for the same workflow and execution id. Idempotent.
	SaveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error

	// LoadCheckpoint returns the most recent checkpoint for the execution,
	// or nil if none has been saved.
	LoadCheckpoint(ctx context.Context, workflowID, executionID string) (*Checkpoint, error)

	// AcquireLease claims exclusive ownership of the execution for the given
	// duration. Returns ErrLeaseHeld if another owner holds an unexpired
	// lease.
	AcquireLease(ctx context.Context, workflowID, executionID, owner string, ttl time.Duration) (*Lease, error)

	// ReleaseLease gives up a previously acquired lease.
	ReleaseLease(ctx context.Context, lease *Lease) error

	// ListExecutions returns summaries for a workflow's executions, newest
	// first, narrowed by the filter.
	ListExecutions(ctx context.Context, workflowID string, filter ExecutionFilter) ([]*ExecutionSummary, error)
}

// NullCheckpointStore is a no-op store used when persistence is not needed.
type NullCheckpointStore struct{}

func NewNullCheckpointStore() *NullCheckpointStore {
	return &NullCheckpointStore{}
}

func (s *NullCheckpointStore) CreateExecution(ctx context.Context, record *ExecutionRecord) error {
	return nil
}

func (s *NullCheckpointStore) SaveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error {
	return nil
}

func (s *NullCheckpointStore) LoadCheckpoint(ctx context.Context, workflowID, executionID string) (*Checkpoint, error) {
	return nil, nil
}

func (s *NullCheckpointStore) AcquireLease(ctx context.Context, workflowID, executionID, owner string, ttl time.Duration) (*Lease, error) {
	return &Lease{
		WorkflowID:  workflowID,
		ExecutionID: executionID,
		Owner:       owner,
		ExpiresAt:   time.Now().Add(ttl),
	}, nil
}

func (s *NullCheckpointStore) ReleaseLease(ctx context.Context, lease *Lease) error {
	return nil
}

func (s *NullCheckpointStore) ListExecutions(ctx context.Context, workflowID string, filter ExecutionFilter) ([]*ExecutionSummary, error) {
	return nil, nil
}

func summaryFromRecord(record *ExecutionRecord) *ExecutionSummary {
	summary := &ExecutionSummary{
		WorkflowID:  record.WorkflowID,
		ExecutionID: record.ExecutionID,
		Status:      record.Status,
		StartTime:   record.StartTime,
		EndTime:     record.EndTime,
		Error:       record.Error,
	}
	if !record.EndTime.IsZero() {
		summary.Duration = record.EndTime.Sub(record.StartTime)
	}
	return summary
}
