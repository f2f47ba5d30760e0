package blockflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFileBlockLogger(t *testing.T) {
	logger := NewFileBlockLogger(t.TempDir())
	ctx := context.Background()

	entries := []*BlockLogEntry{
		{
			ExecutionID: "exec_1",
			WorkflowID:  "wf",
			BlockID:     "fetch",
			BlockType:   "http.request",
			Status:      BlockStatusSuccess,
			Output:      map[string]any{"status_code": float64(200)},
			StartTime:   time.Now().UTC().Truncate(time.Millisecond),
			Duration:    0.25,
		},
		{
			ExecutionID: "exec_1",
			WorkflowID:  "wf",
			BlockID:     "parse",
			BlockType:   "script",
			Status:      BlockStatusFailure,
			Error:       "malformed input",
			StartTime:   time.Now().UTC().Truncate(time.Millisecond),
		},
	}
	for _, entry := range entries {
		require.NoError(t, logger.LogBlock(ctx, entry))
	}
	// A different execution gets its own log file.
	require.NoError(t, logger.LogBlock(ctx, &BlockLogEntry{
		ExecutionID: "exec_2",
		WorkflowID:  "wf",
		BlockID:     "other",
		Status:      BlockStatusSuccess,
	}))

	history, err := logger.GetBlockHistory(ctx, "exec_1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "fetch", history[0].BlockID)
	require.Equal(t, BlockStatusSuccess, history[0].Status)
	require.Equal(t, "parse", history[1].BlockID)
	require.Equal(t, "malformed input", history[1].Error)
	require.Equal(t, 0.25, history[0].Duration)
}

func TestNullBlockLogger(t *testing.T) {
	logger := NewNullBlockLogger()
	require.NoError(t, logger.LogBlock(context.Background(), &BlockLogEntry{}))
	history, err := logger.GetBlockHistory(context.Background(), "exec_any")
	require.NoError(t, err)
	require.Empty(t, history)
}
