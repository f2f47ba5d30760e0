package blockflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryCheckpointStore is an in-process CheckpointStore used in tests and
// examples. Checkpoints are serialized through JSON on save so later mutation
// of the live state cannot leak into stored snapshots.
type MemoryCheckpointStore struct {
	mutex       sync.Mutex
	records     map[string]*ExecutionRecord
	checkpoints map[string][]byte
	leases      map[string]*Lease
	saveCount   int
}

func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{
		records:     map[string]*ExecutionRecord{},
		checkpoints: map[string][]byte{},
		leases:      map[string]*Lease{},
	}
}

func storeKey(workflowID, executionID string) string {
	return workflowID + "/" + executionID
}

func (s *MemoryCheckpointStore) CreateExecution(ctx context.Context, record *ExecutionRecord) error {
	if record == nil {
		return fmt.Errorf("execution record is required")
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()

	copied := *record
	s.records[storeKey(record.WorkflowID, record.ExecutionID)] = &copied
	return nil
}

func (s *MemoryCheckpointStore) SaveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error {
	if checkpoint == nil {
		return fmt.Errorf("checkpoint is required")
	}
	data, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	key := storeKey(checkpoint.WorkflowID, checkpoint.ExecutionID)
	s.checkpoints[key] = data
	s.saveCount++
	if record, ok := s.records[key]; ok {
		record.Status = checkpoint.Status
		record.Error = checkpoint.Error
		if checkpoint.Status.Terminal() {
			record.EndTime = checkpoint.UpdatedAt
		}
	}
	return nil
}

// SaveCount returns the total number of checkpoint writes, for asserting on
// checkpoint cadence.
func (s *MemoryCheckpointStore) SaveCount() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.saveCount
}

func (s *MemoryCheckpointStore) LoadCheckpoint(ctx context.Context, workflowID, executionID string) (*Checkpoint, error) {
	s.mutex.Lock()
	data, ok := s.checkpoints[storeKey(workflowID, executionID)]
	s.mutex.Unlock()
	if !ok {
		return nil, nil
	}
	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &checkpoint, nil
}

func (s *MemoryCheckpointStore) AcquireLease(ctx context.Context, workflowID, executionID, owner string, ttl time.Duration) (*Lease, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	key := storeKey(workflowID, executionID)
	if existing, ok := s.leases[key]; ok {
		if existing.Owner != owner && !existing.Expired() {
			return nil, ErrLeaseHeld
		}
	}
	lease := &Lease{
		WorkflowID:  workflowID,
		ExecutionID: executionID,
		Owner:       owner,
		ExpiresAt:   time.Now().Add(ttl),
	}
	s.leases[key] = lease
	return lease, nil
}

func (s *MemoryCheckpointStore) ReleaseLease(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return nil
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()

	key := storeKey(lease.WorkflowID, lease.ExecutionID)
	if existing, ok := s.leases[key]; ok && existing.Owner == lease.Owner {
		delete(s.leases, key)
	}
	return nil
}

func (s *MemoryCheckpointStore) ListExecutions(ctx context.Context, workflowID string, filter ExecutionFilter) ([]*ExecutionSummary, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var summaries []*ExecutionSummary
	for _, record := range s.records {
		if record.WorkflowID != workflowID || !filter.matches(record) {
			continue
		}
		summaries = append(summaries, summaryFromRecord(record))
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
