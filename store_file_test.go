package blockflow

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFileCheckpointStore(t *testing.T) {
	runCheckpointStoreTests(t, func(t *testing.T) CheckpointStore {
		store, err := NewFileCheckpointStore(t.TempDir())
		require.NoError(t, err)
		return store
	})
}

func TestFileCheckpointStoreLayout(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileCheckpointStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.CreateExecution(ctx, &ExecutionRecord{
		WorkflowID:  "wf",
		ExecutionID: "exec_1",
		Status:      ExecutionStatusRunning,
		StartTime:   time.Now(),
	}))
	require.NoError(t, store.SaveCheckpoint(ctx, &Checkpoint{
		WorkflowID:  "wf",
		ExecutionID: "exec_1",
		Status:      ExecutionStatusRunning,
		UpdatedAt:   time.Now(),
	}))

	executionDir := filepath.Join(dir, "wf", "exec_1")
	require.FileExists(t, filepath.Join(executionDir, "record.json"))
	require.FileExists(t, filepath.Join(executionDir, "checkpoint.json"))

	// No stray temp files left behind by the atomic write.
	entries, err := os.ReadDir(executionDir)
	require.NoError(t, err)
	for _, entry := range entries {
		require.NotContains(t, entry.Name(), ".tmp")
	}
}

func TestFileCheckpointStoreSyncsRecordStatus(t *testing.T) {
	store, err := NewFileCheckpointStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.CreateExecution(ctx, &ExecutionRecord{
		WorkflowID:  "wf",
		ExecutionID: "exec_1",
		Status:      ExecutionStatusRunning,
		StartTime:   time.Now().UTC(),
	}))
	require.NoError(t, store.SaveCheckpoint(ctx, &Checkpoint{
		WorkflowID:  "wf",
		ExecutionID: "exec_1",
		Status:      ExecutionStatusFailed,
		Error:       "block exploded",
		UpdatedAt:   time.Now().UTC(),
	}))

	summaries, err := store.ListExecutions(ctx, "wf", ExecutionFilter{})
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.Equal(t, ExecutionStatusFailed, summaries[0].Status)
	require.Equal(t, "block exploded", summaries[0].Error)
	require.False(t, summaries[0].EndTime.IsZero())
}

func TestNewFileCheckpointStoreCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "executions")
	_, err := NewFileCheckpointStore(dir)
	require.NoError(t, err)
	require.DirExists(t, dir)
}
