package blockflow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// FileCheckpointStore persists checkpoints, execution records, and leases as
// JSON files under dataDir/<workflow-id>/<execution-id>/. Saves are atomic
// (write to a temp file, then rename) so a crash cannot leave a half-written
// checkpoint behind.
type FileCheckpointStore struct {
	dataDir string
}

// NewFileCheckpointStore creates a file-based checkpoint store. With an empty
// dataDir, executions are stored under ~/.blockflow/executions.
func NewFileCheckpointStore(dataDir string) (*FileCheckpointStore, error) {
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".blockflow", "executions")
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}
	return &FileCheckpointStore{dataDir: dataDir}, nil
}

func (s *FileCheckpointStore) executionDir(workflowID, executionID string) string {
	return filepath.Join(s.dataDir, workflowID, executionID)
}

func (s *FileCheckpointStore) writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return os.Rename(tmpPath, path)
}

func (s *FileCheckpointStore) readJSON(path string, value any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, value); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", path, err)
	}
	return true, nil
}

func (s *FileCheckpointStore) CreateExecution(ctx context.Context, record *ExecutionRecord) error {
	if record == nil {
		return fmt.Errorf("execution record is required")
	}
	dir := s.executionDir(record.WorkflowID, record.ExecutionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create execution directory: %w", err)
	}
	return s.writeJSON(filepath.Join(dir, "record.json"), record)
}

func (s *FileCheckpointStore) SaveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error {
	if checkpoint == nil {
		return fmt.Errorf("checkpoint is required")
	}
	dir := s.executionDir(checkpoint.WorkflowID, checkpoint.ExecutionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create execution directory: %w", err)
	}
	if err := s.writeJSON(filepath.Join(dir, "checkpoint.json"), checkpoint); err != nil {
		return err
	}

	// Keep the execution record's status in step with the checkpoint.
	recordPath := filepath.Join(dir, "record.json")
	var record ExecutionRecord
	found, err := s.readJSON(recordPath, &record)
	if err != nil || !found {
		return err
	}
	record.Status = checkpoint.Status
	record.Error = checkpoint.Error
	if checkpoint.Status.Terminal() {
		record.EndTime = checkpoint.UpdatedAt
	}
	return s.writeJSON(recordPath, &record)
}

func (s *FileCheckpointStore) LoadCheckpoint(ctx context.Context, workflowID, executionID string) (*Checkpoint, error) {
	var checkpoint Checkpoint
	path := filepath.Join(s.executionDir(workflowID, executionID), "checkpoint.json")
	found, err := s.readJSON(path, &checkpoint)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &checkpoint, nil
}

func (s *FileCheckpointStore) AcquireLease(ctx context.Context, workflowID, executionID, owner string, ttl time.Duration) (*Lease, error) {
	dir := s.executionDir(workflowID, executionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create execution directory: %w", err)
	}
	leasePath := filepath.Join(dir, "lease.json")

	var existing Lease
	found, err := s.readJSON(leasePath, &existing)
	if err != nil {
		return nil, err
	}
	if found && existing.Owner != owner && !existing.Expired() {
		return nil, ErrLeaseHeld
	}

	lease := &Lease{
		WorkflowID:  workflowID,
		ExecutionID: executionID,
		Owner:       owner,
		ExpiresAt:   time.Now().Add(ttl),
	}
	if err := s.writeJSON(leasePath, lease); err != nil {
		return nil, err
	}
	return lease, nil
}

func (s *FileCheckpointStore) ReleaseLease(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return nil
	}
	leasePath := filepath.Join(s.executionDir(lease.WorkflowID, lease.ExecutionID), "lease.json")

	var existing Lease
	found, err := s.readJSON(leasePath, &existing)
	if err != nil || !found {
		return err
	}
	if existing.Owner != lease.Owner {
		return nil
	}
	return os.Remove(leasePath)
}

func (s *FileCheckpointStore) ListExecutions(ctx context.Context, workflowID string, filter ExecutionFilter) ([]*ExecutionSummary, error) {
	workflowDir := filepath.Join(s.dataDir, workflowID)
	entries, err := os.ReadDir(workflowDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read executions directory: %w", err)
	}

	var summaries []*ExecutionSummary
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		var record ExecutionRecord
		recordPath := filepath.Join(workflowDir, entry.Name(), "record.json")
		found, err := s.readJSON(recordPath, &record)
		if err != nil || !found {
			// Skip executions we can't read
			continue
		}
		if !filter.matches(&record) {
			continue
		}
		summaries = append(summaries, summaryFromRecord(&record))
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].StartTime.After(summaries[j].StartTime)
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(summaries) {
			return nil, nil
		}
		summaries = summaries[filter.Offset:]
	}
	if filter.Limit > 0 && len(summaries) > filter.Limit {
		summaries = summaries[:filter.Limit]
	}
	return summaries, nil
}
