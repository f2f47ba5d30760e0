package blockflow

import "time"

// HistoryEntry records one completed block execution.
type HistoryEntry struct {
	BlockID   string      `json:"block_id"`
	BlockType string      `json:"block_type"`
	Status    BlockStatus `json:"status"`
	NextBlock string      `json:"next_block,omitempty"`
	Output    any         `json:"output,omitempty"`
	Error     string      `json:"error,omitempty"`
	StartTime time.Time   `json:"start_time"`
	EndTime   time.Time   `json:"end_time"`
}

// Checkpoint is a durable snapshot of an execution sufficient to resume it.
// The state map is a deep copy, never a reference into the live context. A
// new checkpoint value replaces the previous one; checkpoints are never
// mutated in place.
type Checkpoint struct {
	WorkflowID    string          `json:"workflow_id"`
	ExecutionID   string          `json:"execution_id"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Status        ExecutionStatus `json:"status"`
	CurrentBlock  string          `json:"current_block"`
	State         map[string]any  `json:"state"`
	History       []HistoryEntry  `json:"history"`
	RetryCount    int             `json:"retry_count"`
	Error         string          `json:"error,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
