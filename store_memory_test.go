package blockflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// runCheckpointStoreTests exercises the CheckpointStore contract against any
// implementation.
func runCheckpointStoreTests(t *testing.T, newStore func(t *testing.T) CheckpointStore) {
	ctx := context.Background()

	newRecord := func(workflowID, executionID string) *ExecutionRecord {
		return &ExecutionRecord{
			WorkflowID:  workflowID,
			ExecutionID: executionID,
			Status:      ExecutionStatusRunning,
			StartTime:   time.Now().UTC().Truncate(time.Millisecond),
		}
	}

	t.Run("load without save returns nil", func(t *testing.T) {
		store := newStore(t)
		checkpoint, err := store.LoadCheckpoint(ctx, "wf", "exec_none")
		require.NoError(t, err)
		require.Nil(t, checkpoint)
	})

	t.Run("save and load roundtrip", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.CreateExecution(ctx, newRecord("wf", "exec_1")))

		checkpoint := &Checkpoint{
			WorkflowID:   "wf",
			ExecutionID:  "exec_1",
			Status:       ExecutionStatusRunning,
			CurrentBlock: "step-2",
			State:        map[string]any{"count": float64(3), "name": "alice"},
			History: []HistoryEntry{
				{BlockID: "step-1", BlockType: "set", Status: BlockStatusSuccess, NextBlock: "step-2"},
			},
			RetryCount: 1,
			UpdatedAt:  time.Now().UTC(),
		}
		require.NoError(t, store.SaveCheckpoint(ctx, checkpoint))

		loaded, err := store.LoadCheckpoint(ctx, "wf", "exec_1")
		require.NoError(t, err)
		require.NotNil(t, loaded)
		require.Equal(t, "step-2", loaded.CurrentBlock)
		require.Equal(t, ExecutionStatusRunning, loaded.Status)
		require.Equal(t, float64(3), loaded.State["count"])
		require.Equal(t, "alice", loaded.State["name"])
		require.Len(t, loaded.History, 1)
		require.Equal(t, "step-1", loaded.History[0].BlockID)
		require.Equal(t, 1, loaded.RetryCount)
	})

	t.Run("save overwrites previous checkpoint", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.CreateExecution(ctx, newRecord("wf", "exec_2")))

		first := &Checkpoint{WorkflowID: "wf", ExecutionID: "exec_2", Status: ExecutionStatusRunning, CurrentBlock: "a", UpdatedAt: time.Now()}
		require.NoError(t, store.SaveCheckpoint(ctx, first))
		second := &Checkpoint{WorkflowID: "wf", ExecutionID: "exec_2", Status: ExecutionStatusCompleted, CurrentBlock: "b", UpdatedAt: time.Now()}
		require.NoError(t, store.SaveCheckpoint(ctx, second))

		loaded, err := store.LoadCheckpoint(ctx, "wf", "exec_2")
		require.NoError(t, err)
		require.Equal(t, "b", loaded.CurrentBlock)
		require.Equal(t, ExecutionStatusCompleted, loaded.Status)
	})

	t.Run("lease lifecycle", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.CreateExecution(ctx, newRecord("wf", "exec_3")))

		lease, err := store.AcquireLease(ctx, "wf", "exec_3", "worker-1", time.Minute)
		require.NoError(t, err)
		require.Equal(t, "worker-1", lease.Owner)

		// Another owner cannot claim a held lease.
		_, err = store.AcquireLease(ctx, "wf", "exec_3", "worker-2", time.Minute)
		require.ErrorIs(t, err, ErrLeaseHeld)

		// The holder can renew its own lease.
		_, err = store.AcquireLease(ctx, "wf", "exec_3", "worker-1", time.Minute)
		require.NoError(t, err)

		require.NoError(t, store.ReleaseLease(ctx, lease))
		_, err = store.AcquireLease(ctx, "wf", "exec_3", "worker-2", time.Minute)
		require.NoError(t, err)
	})

	t.Run("expired lease can be claimed", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.CreateExecution(ctx, newRecord("wf", "exec_4")))

		_, err := store.AcquireLease(ctx, "wf", "exec_4", "worker-1", time.Millisecond)
		require.NoError(t, err)
		time.Sleep(10 * time.Millisecond)

		lease, err := store.AcquireLease(ctx, "wf", "exec_4", "worker-2", time.Minute)
		require.NoError(t, err)
		require.Equal(t, "worker-2", lease.Owner)
	})

	t.Run("list executions", func(t *testing.T) {
		store := newStore(t)
		base := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)
		for i, executionID := range []string{"exec_a", "exec_b", "exec_c"} {
			record := newRecord("listed", executionID)
			record.StartTime = base.Add(time.Duration(i) * time.Minute)
			require.NoError(t, store.CreateExecution(ctx, record))
		}
		require.NoError(t, store.CreateExecution(ctx, newRecord("other", "exec_d")))

		// Mark exec_b completed through a terminal checkpoint.
		require.NoError(t, store.SaveCheckpoint(ctx, &Checkpoint{
			WorkflowID:  "listed",
			ExecutionID: "exec_b",
			Status:      ExecutionStatusCompleted,
			UpdatedAt:   time.Now().UTC(),
		}))

		t.Run("scoped to workflow, newest first", func(t *testing.T) {
			summaries, err := store.ListExecutions(ctx, "listed", ExecutionFilter{})
			require.NoError(t, err)
			require.Len(t, summaries, 3)
			require.Equal(t, "exec_c", summaries[0].ExecutionID)
			require.Equal(t, "exec_a", summaries[2].ExecutionID)
		})

		t.Run("status filter", func(t *testing.T) {
			summaries, err := store.ListExecutions(ctx, "listed", ExecutionFilter{
				Statuses: []ExecutionStatus{ExecutionStatusCompleted},
			})
			require.NoError(t, err)
			require.Len(t, summaries, 1)
			require.Equal(t, "exec_b", summaries[0].ExecutionID)
		})

		t.Run("date filter", func(t *testing.T) {
			summaries, err := store.ListExecutions(ctx, "listed", ExecutionFilter{
				Since: base.Add(30 * time.Second),
			})
			require.NoError(t, err)
			require.Len(t, summaries, 2)
		})

		t.Run("pagination", func(t *testing.T) {
			page, err := store.ListExecutions(ctx, "listed", ExecutionFilter{Limit: 2})
			require.NoError(t, err)
			require.Len(t, page, 2)

			rest, err := store.ListExecutions(ctx, "listed", ExecutionFilter{Limit: 2, Offset: 2})
			require.NoError(t, err)
			require.Len(t, rest, 1)
			require.Equal(t, "exec_a", rest[0].ExecutionID)
		})
	})
}

func TestMemoryCheckpointStore(t *testing.T) {
	runCheckpointStoreTests(t, func(t *testing.T) CheckpointStore {
		return NewMemoryCheckpointStore()
	})
}

func TestMemoryCheckpointStoreDetachesState(t *testing.T) {
	store := NewMemoryCheckpointStore()
	state := map[string]any{"mutable": "original"}
	checkpoint := &Checkpoint{WorkflowID: "wf", ExecutionID: "exec_1", Status: ExecutionStatusRunning, State: state, UpdatedAt: time.Now()}
	require.NoError(t, store.SaveCheckpoint(context.Background(), checkpoint))

	state["mutable"] = "changed"
	loaded, err := store.LoadCheckpoint(context.Background(), "wf", "exec_1")
	require.NoError(t, err)
	require.Equal(t, "original", loaded.State["mutable"])
}
