package blockflow

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.jetify.com/typeid"
)

const defaultErrorTableCapacity = 1000

// ErrorAction is the disposition the error handler decides for a failure.
type ErrorAction string

const (
	// ErrorActionRetry re-executes the failing block after Decision.Delay.
	ErrorActionRetry ErrorAction = "retry"

	// ErrorActionSkip records the failure as non-fatal and continues the run
	// at the block's declared failure transition.
	ErrorActionSkip ErrorAction = "skip"

	// ErrorActionFail aborts the run.
	ErrorActionFail ErrorAction = "fail"
)

// Decision is the outcome of handling one error.
type Decision struct {
	Action  ErrorAction
	Class   ErrorClass
	Delay   time.Duration
	ErrorID string
	Attempt int
}

// ErrorContext tracks one failing block across retry attempts. The retry
// counter is the only field mutated after creation.
type ErrorContext struct {
	ID            string
	Err           error
	StateSnapshot map[string]any
	BlockName     string
	Policy        RetryPolicy
	CreatedAt     time.Time

	retryCount atomic.Int64
}

// RetryCount returns the number of retries attempted so far.
func (e *ErrorContext) RetryCount() int {
	return int(e.retryCount.Load())
}

func newErrorID() string {
	id, err := typeid.WithPrefix("err")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// ErrorHandlerOptions configures an ErrorHandler.
type ErrorHandlerOptions struct {
	// Capacity bounds the error context table.
	Capacity int

	Logger *slog.Logger
}

// ErrorHandler classifies block errors, decides retry eligibility, computes
// backoff, and tracks per-error retry state. The context table is shared
// across concurrent activity and is safe for concurrent use.
type ErrorHandler struct {
	capacity int
	logger   *slog.Logger

	mutex    sync.RWMutex
	contexts map[string]*ErrorContext
}

// NewErrorHandler creates an error handler.
func NewErrorHandler(opts ErrorHandlerOptions) *ErrorHandler {
	if opts.Capacity <= 0 {
		opts.Capacity = defaultErrorTableCapacity
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ErrorHandler{
		capacity: opts.Capacity,
		logger:   opts.Logger,
		contexts: map[string]*ErrorContext{},
	}
}

// HandleError classifies the error and decides what the executor should do.
// Repeated failures of the same block within one execution share an
// ErrorContext so the retry counter accumulates across attempts.
func (h *ErrorHandler) HandleError(ctx context.Context, err error, ec *ExecutionContext, blockName string, policy RetryPolicy) *Decision {
	if policy.IsZero() {
		policy = DefaultRetryPolicy()
	}
	class := ClassifyError(err)
	errCtx := h.contextFor(err, ec, blockName, policy)

	decision := &Decision{Class: class, ErrorID: errCtx.ID}

	if class.Retryable() && errCtx.RetryCount() < policy.MaxRetries {
		attempt := int(errCtx.retryCount.Add(1))
		decision.Action = ErrorActionRetry
		decision.Attempt = attempt
		decision.Delay = policy.Delay(attempt)
		h.logger.Info("retrying block after error",
			"block", blockName,
			"class", string(class),
			"attempt", attempt,
			"delay", decision.Delay,
			"error", err)
		return decision
	}

	switch class {
	case ErrorClassTransient, ErrorClassValidation:
		decision.Action = ErrorActionSkip
		h.logger.Warn("skipping failed block",
			"block", blockName,
			"class", string(class),
			"retries", errCtx.RetryCount(),
			"error", err)
	default:
		decision.Action = ErrorActionFail
		h.logger.Error("block failure is fatal",
			"block", blockName,
			"class", string(class),
			"error", err)
	}
	return decision
}

// contextFor finds or creates the ErrorContext for a failing block.
func (h *ErrorHandler) contextFor(err error, ec *ExecutionContext, blockName string, policy RetryPolicy) *ErrorContext {
	key := ec.ExecutionID() + ":" + blockName

	h.mutex.Lock()
	defer h.mutex.Unlock()

	if existing, ok := h.contexts[key]; ok {
		return existing
	}
	if len(h.contexts) >= h.capacity {
		h.evictOldestLocked()
	}
	errCtx := &ErrorContext{
		ID:            newErrorID(),
		Err:           err,
		StateSnapshot: ec.StateSnapshot(),
		BlockName:     blockName,
		Policy:        policy,
		CreatedAt:     time.Now(),
	}
	h.contexts[key] = errCtx
	return errCtx
}

// evictOldestLocked removes the oldest error context. Caller holds the mutex.
func (h *ErrorHandler) evictOldestLocked() {
	var oldestKey string
	var oldestTime time.Time
	for key, errCtx := range h.contexts {
		if oldestKey == "" || errCtx.CreatedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = errCtx.CreatedAt
		}
	}
	if oldestKey != "" {
		delete(h.contexts, oldestKey)
	}
}

// GetErrorContext looks up the tracked error context for a block within an
// execution.
func (h *ErrorHandler) GetErrorContext(executionID, blockName string) (*ErrorContext, bool) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	errCtx, ok := h.contexts[executionID+":"+blockName]
	return errCtx, ok
}

// Purge removes error contexts older than the given age and returns the
// number removed.
func (h *ErrorHandler) Purge(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)

	h.mutex.Lock()
	defer h.mutex.Unlock()

	removed := 0
	for key, errCtx := range h.contexts {
		if errCtx.CreatedAt.Before(cutoff) {
			delete(h.contexts, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked error contexts.
func (h *ErrorHandler) Len() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	return len(h.contexts)
}
