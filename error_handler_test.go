package blockflow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T, opts ErrorHandlerOptions) (*ErrorHandler, *ExecutionContext) {
	t.Helper()
	handler := NewErrorHandler(opts)
	ec := NewExecutionContext(ExecutionContextOptions{WorkflowID: "wf"})
	return handler, ec
}

func TestHandleErrorRetriesTransient(t *testing.T) {
	handler, ec := newTestHandler(t, ErrorHandlerOptions{})
	policy := RetryPolicy{MaxRetries: 2, Strategy: BackoffFixed, InitialDelay: 10 * time.Millisecond}
	err := NewTransientError("connection reset")
	ctx := context.Background()

	first := handler.HandleError(ctx, err, ec, "fetch", policy)
	require.Equal(t, ErrorActionRetry, first.Action)
	require.Equal(t, ErrorClassTransient, first.Class)
	require.Equal(t, 1, first.Attempt)
	require.Equal(t, 10*time.Millisecond, first.Delay)
	require.True(t, strings.HasPrefix(first.ErrorID, "err_"))

	second := handler.HandleError(ctx, err, ec, "fetch", policy)
	require.Equal(t, ErrorActionRetry, second.Action)
	require.Equal(t, 2, second.Attempt)
	// Same failing block shares one error context.
	require.Equal(t, first.ErrorID, second.ErrorID)

	// Retries exhausted: transient falls back to skip.
	third := handler.HandleError(ctx, err, ec, "fetch", policy)
	require.Equal(t, ErrorActionSkip, third.Action)
}

func TestHandleErrorDispositions(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 0, Strategy: BackoffImmediate}
	ctx := context.Background()

	tests := []struct {
		name string
		err  error
		want ErrorAction
	}{
		{"validation skips without retry", NewValidationError("bad input"), ErrorActionSkip},
		{"business logic fails", NewBusinessLogicError("invalid state"), ErrorActionFail},
		{"resource exhaustion fails", NewBlockError(ErrorClassResourceExhaustion, "oom"), ErrorActionFail},
		{"security fails", NewSecurityError("denied"), ErrorActionFail},
		{"system fails", errors.New("mystery"), ErrorActionFail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, ec := newTestHandler(t, ErrorHandlerOptions{})
			decision := handler.HandleError(ctx, tt.err, ec, "step", policy)
			require.Equal(t, tt.want, decision.Action)
		})
	}
}

func TestHandleErrorNeverRetriesValidation(t *testing.T) {
	handler, ec := newTestHandler(t, ErrorHandlerOptions{})
	policy := RetryPolicy{MaxRetries: 5, Strategy: BackoffImmediate}

	for i := 0; i < 3; i++ {
		decision := handler.HandleError(context.Background(), NewValidationError("bad"), ec, "parse", policy)
		require.Equal(t, ErrorActionSkip, decision.Action)
	}
	errCtx, ok := handler.GetErrorContext(ec.ExecutionID(), "parse")
	require.True(t, ok)
	require.Equal(t, 0, errCtx.RetryCount())
}

func TestHandleErrorZeroPolicyUsesDefault(t *testing.T) {
	handler, ec := newTestHandler(t, ErrorHandlerOptions{})
	decision := handler.HandleError(context.Background(), NewTransientError("flaky"), ec, "step", RetryPolicy{})
	require.Equal(t, ErrorActionRetry, decision.Action)
	require.Equal(t, time.Second, decision.Delay)
}

func TestErrorContextTable(t *testing.T) {
	t.Run("separate executions get separate contexts", func(t *testing.T) {
		handler := NewErrorHandler(ErrorHandlerOptions{})
		policy := RetryPolicy{MaxRetries: 3, Strategy: BackoffImmediate}
		ec1 := NewExecutionContext(ExecutionContextOptions{WorkflowID: "wf"})
		ec2 := NewExecutionContext(ExecutionContextOptions{WorkflowID: "wf"})

		d1 := handler.HandleError(context.Background(), NewTransientError("x"), ec1, "step", policy)
		d2 := handler.HandleError(context.Background(), NewTransientError("x"), ec2, "step", policy)
		require.NotEqual(t, d1.ErrorID, d2.ErrorID)
		require.Equal(t, 2, handler.Len())
	})

	t.Run("capacity evicts oldest", func(t *testing.T) {
		handler := NewErrorHandler(ErrorHandlerOptions{Capacity: 2})
		policy := RetryPolicy{MaxRetries: 0, Strategy: BackoffImmediate}
		for i := 0; i < 3; i++ {
			ec := NewExecutionContext(ExecutionContextOptions{WorkflowID: "wf"})
			handler.HandleError(context.Background(), errors.New("boom"), ec, "step", policy)
		}
		require.Equal(t, 2, handler.Len())
	})

	t.Run("purge removes old entries", func(t *testing.T) {
		handler, ec := newTestHandler(t, ErrorHandlerOptions{})
		handler.HandleError(context.Background(), errors.New("boom"), ec, "step", RetryPolicy{MaxRetries: 0, Strategy: BackoffImmediate})
		require.Equal(t, 1, handler.Len())

		require.Equal(t, 0, handler.Purge(time.Hour))
		require.Equal(t, 1, handler.Len())

		removed := handler.Purge(0)
		require.Equal(t, 1, removed)
		require.Equal(t, 0, handler.Len())
	})
}
