package blockflow

import (
	"context"
	"time"
)

// BlockLogEntry records one completed block execution.
type BlockLogEntry struct {
	ExecutionID string      `json:"execution_id"`
	WorkflowID  string      `json:"workflow_id"`
	BlockID     string      `json:"block_id"`
	BlockType   string      `json:"block_type"`
	Status      BlockStatus `json:"status"`
	Output      any         `json:"output,omitempty"`
	Error       string      `json:"error,omitempty"`
	StartTime   time.Time   `json:"start_time"`
	Duration    float64     `json:"duration"`
}

// BlockLogger records block executions for audit and debugging.
type BlockLogger interface {

	// LogBlock logs a completed block execution.
	LogBlock(ctx context.Context, entry *BlockLogEntry) error

	// GetBlockHistory retrieves the block log for an execution.
	GetBlockHistory(ctx context.Context, executionID string) ([]*BlockLogEntry, error)
}
