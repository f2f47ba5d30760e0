package blockflow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"
	"time"
)

// ExecutionStatus represents the state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusWaiting   ExecutionStatus = "waiting"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status is a terminal state.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	default:
		return false
	}
}

// ExecutionResult is the structured outcome of a workflow run. A failed run
// returns a result with Status Failed and Err set rather than propagating the
// error out of Execute.
type ExecutionResult struct {
	WorkflowID  string
	ExecutionID string
	Status      ExecutionStatus
	Err         error
	Duration    time.Duration
	State       map[string]any
	History     []HistoryEntry
	Output      any
}

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	// Factory materializes blocks from definitions. Required.
	Factory BlockFactory

	// Store persists checkpoints. Defaults to NullCheckpointStore.
	Store CheckpointStore

	// Monitor observes execution events. Defaults to BaseExecutionMonitor.
	Monitor ExecutionMonitor

	// GuardManager evaluates guards. A default manager is created when nil.
	GuardManager *GuardManager

	// ErrorHandler classifies and tracks errors. A default handler is
	// created when nil.
	ErrorHandler *ErrorHandler

	// BlockLogger records completed block executions. Defaults to the null
	// logger.
	BlockLogger BlockLogger

	// LeaseOwner identifies this process for lease acquisition. Defaults to
	// the hostname and pid.
	LeaseOwner string

	// LeaseTTL bounds lease duration. Defaults to one minute.
	LeaseTTL time.Duration

	Logger *slog.Logger
}

// Executor drives workflow executions: it walks the block graph one block at
// a time, applies guards around each step, classifies and retries errors,
// and checkpoints durable progress. A single Executor may be shared by
// concurrent runs; all per-run state lives in the ExecutionContext.
type Executor struct {
	factory      BlockFactory
	store        CheckpointStore
	monitor      ExecutionMonitor
	guardManager *GuardManager
	errorHandler *ErrorHandler
	blockLogger  BlockLogger
	leaseOwner   string
	leaseTTL     time.Duration
	logger       *slog.Logger
}

// NewExecutor creates an executor.
func NewExecutor(opts ExecutorOptions) (*Executor, error) {
	if opts.Factory == nil {
		return nil, fmt.Errorf("block factory is required")
	}
	if opts.Store == nil {
		opts.Store = NewNullCheckpointStore()
	}
	if opts.Monitor == nil {
		opts.Monitor = NewBaseExecutionMonitor()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.GuardManager == nil {
		opts.GuardManager = NewGuardManager(GuardManagerOptions{Logger: opts.Logger})
	}
	if opts.ErrorHandler == nil {
		opts.ErrorHandler = NewErrorHandler(ErrorHandlerOptions{Logger: opts.Logger})
	}
	if opts.BlockLogger == nil {
		opts.BlockLogger = NewNullBlockLogger()
	}
	if opts.LeaseOwner == "" {
		hostname, _ := os.Hostname()
		opts.LeaseOwner = fmt.Sprintf("%s-%d", hostname, os.Getpid())
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = time.Minute
	}
	return &Executor{
		factory:      opts.Factory,
		store:        opts.Store,
		monitor:      opts.Monitor,
		guardManager: opts.GuardManager,
		errorHandler: opts.ErrorHandler,
		blockLogger:  opts.BlockLogger,
		leaseOwner:   opts.LeaseOwner,
		leaseTTL:     opts.LeaseTTL,
		logger:       opts.Logger,
	}, nil
}

// run tracks the in-flight state of a single execution.
type run struct {
	def     *WorkflowDefinition
	ec      *ExecutionContext
	logger  *slog.Logger
	history []HistoryEntry

	// checkpoint cadence tracking
	blocksSinceCheckpoint int
	lastCheckpointState   map[string]any
	retryCount            int

	startTime time.Time
	lastBlock *HistoryEntry
}

// Execute runs a workflow from its start block to a terminal state. The
// returned result carries the terminal status; only defects (nil or invalid
// definitions) produce a non-nil error.
func (x *Executor) Execute(ctx context.Context, def *WorkflowDefinition, input any) (*ExecutionResult, error) {
	if def == nil {
		return nil, fmt.Errorf("workflow definition is required")
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}

	ec := NewExecutionContext(ExecutionContextOptions{
		WorkflowID: def.ID,
		Input:      input,
	})
	ec.SetCurrentBlock(def.StartBlock)

	record := &ExecutionRecord{
		WorkflowID:    def.ID,
		ExecutionID:   ec.ExecutionID(),
		CorrelationID: ec.CorrelationID(),
		Status:        ExecutionStatusRunning,
		StartTime:     time.Now(),
	}
	if err := x.store.CreateExecution(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to create execution record: %w", err)
	}

	return x.drive(ctx, def, ec, record.StartTime)
}

// Resume loads the latest checkpoint for an execution and re-enters the loop
// at the checkpointed block.
func (x *Executor) Resume(ctx context.Context, def *WorkflowDefinition, executionID string) (*ExecutionResult, error) {
	if def == nil {
		return nil, fmt.Errorf("workflow definition is required")
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}

	checkpoint, err := x.store.LoadCheckpoint(ctx, def.ID, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if checkpoint == nil {
		return nil, fmt.Errorf("no checkpoint found for execution %q", executionID)
	}
	if checkpoint.Status == ExecutionStatusCompleted {
		x.logger.Info("execution already completed", "execution_id", executionID)
		return &ExecutionResult{
			WorkflowID:  def.ID,
			ExecutionID: executionID,
			Status:      ExecutionStatusCompleted,
			State:       checkpoint.State,
			History:     checkpoint.History,
		}, nil
	}
	if _, ok := def.Blocks[checkpoint.CurrentBlock]; checkpoint.CurrentBlock != "" && !ok {
		return nil, fmt.Errorf("checkpointed block %q not found in workflow %q", checkpoint.CurrentBlock, def.ID)
	}

	ec := NewExecutionContext(ExecutionContextOptions{
		WorkflowID:    def.ID,
		ExecutionID:   checkpoint.ExecutionID,
		CorrelationID: checkpoint.CorrelationID,
		State:         checkpoint.State,
	})
	ec.SetCurrentBlock(checkpoint.CurrentBlock)

	x.logger.Info("resuming execution from checkpoint",
		"execution_id", executionID,
		"block", checkpoint.CurrentBlock,
		"prior_status", checkpoint.Status)

	result, err := x.driveResumed(ctx, def, ec, checkpoint)
	return result, err
}

func (x *Executor) driveResumed(ctx context.Context, def *WorkflowDefinition, ec *ExecutionContext, checkpoint *Checkpoint) (*ExecutionResult, error) {
	r := &run{
		def:                 def,
		ec:                  ec,
		logger:              x.logger.With("execution_id", ec.ExecutionID(), "workflow_id", def.ID),
		history:             checkpoint.History,
		lastCheckpointState: deepCopyMap(checkpoint.State),
		retryCount:          checkpoint.RetryCount,
		startTime:           time.Now(),
	}
	return x.loop(ctx, r)
}

func (x *Executor) drive(ctx context.Context, def *WorkflowDefinition, ec *ExecutionContext, startTime time.Time) (*ExecutionResult, error) {
	r := &run{
		def:                 def,
		ec:                  ec,
		logger:              x.logger.With("execution_id", ec.ExecutionID(), "workflow_id", def.ID),
		lastCheckpointState: ec.StateSnapshot(),
		startTime:           startTime,
	}
	return x.loop(ctx, r)
}

// loop is the per-iteration state machine: cancellation check, definition
// resolution, pre guards, block invocation, post guards, history and
// checkpointing, next-block resolution, and the optional wait suspension.
func (x *Executor) loop(ctx context.Context, r *run) (*ExecutionResult, error) {
	if r.def.Config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.def.Config.Timeout)
		defer cancel()
	}

	lease, err := x.store.AcquireLease(ctx, r.def.ID, r.ec.ExecutionID(), x.leaseOwner, x.leaseTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire execution lease: %w", err)
	}
	defer func() {
		// Lease release must survive run cancellation.
		if err := x.store.ReleaseLease(context.WithoutCancel(ctx), lease); err != nil {
			r.logger.Warn("failed to release execution lease", "error", err)
		}
	}()

	x.notifyWorkflow(ctx, x.monitor.OnWorkflowStart, r, ExecutionStatusRunning, nil)
	r.logger.Info("workflow execution started", "start_block", r.ec.CurrentBlock())

	for {
		// Step 1: cancellation.
		if ctx.Err() != nil {
			return x.finish(ctx, r, ExecutionStatusCancelled, context.Cause(ctx))
		}

		blockName := r.ec.CurrentBlock()
		if blockName == "" {
			return x.finish(ctx, r, ExecutionStatusCompleted, nil)
		}

		// Step 2: resolve the definition. Missing is fatal configuration.
		blockDef, ok := r.def.Blocks[blockName]
		if !ok {
			return x.finish(ctx, r, ExecutionStatusFailed,
				fmt.Errorf("block %q not found in workflow %q", blockName, r.def.ID))
		}

		// Step 3: pre-execution guards.
		preGuards := r.def.guardsFor(blockName, GuardPhasePre)
		if evaluation := x.evaluateGuards(ctx, r, preGuards, true); evaluation.ShouldBlock {
			if redirect := evaluation.Blocking.Redirect; redirect != "" {
				r.logger.Info("guard redirected execution",
					"guard", evaluation.Blocking.GuardName,
					"from", blockName,
					"to", redirect)
				r.ec.SetCurrentBlock(redirect)
				continue
			}
			return x.finish(ctx, r, ExecutionStatusFailed,
				fmt.Errorf("guard %q blocked execution of %q: %s",
					evaluation.Blocking.GuardName, blockName, evaluation.Blocking.Message))
		}

		// Step 4: invoke the block, with retry handled in place.
		result, fatalErr := x.invokeBlock(ctx, r, blockDef)
		if fatalErr != nil {
			return x.finish(ctx, r, ExecutionStatusFailed, fatalErr)
		}
		if ctx.Err() != nil {
			return x.finish(ctx, r, ExecutionStatusCancelled, context.Cause(ctx))
		}

		// Step 5: post-execution guards, with the result visible.
		r.ec.setLastResult(result)
		postGuards := r.def.guardsFor(blockName, GuardPhasePost)
		postRedirect := ""
		if evaluation := x.evaluateGuards(ctx, r, postGuards, false); evaluation.ShouldBlock {
			if redirect := evaluation.Blocking.Redirect; redirect != "" {
				postRedirect = redirect
			} else {
				x.recordBlock(ctx, r, blockDef, result, "")
				return x.finish(ctx, r, ExecutionStatusFailed,
					fmt.Errorf("guard %q blocked transition from %q: %s",
						evaluation.Blocking.GuardName, blockName, evaluation.Blocking.Message))
			}
		}

		// Step 6: resolve the next block. A post guard redirect wins, then
		// the block result's explicit next, then the definition's
		// transitions. Empty means the run ends here.
		nextBlock := postRedirect
		if nextBlock == "" {
			nextBlock = result.NextBlock
		}
		if nextBlock == "" {
			switch result.Status {
			case BlockStatusFailure:
				nextBlock = blockDef.OnFailure
			default:
				nextBlock = blockDef.OnSuccess
			}
		}

		// Step 7: history and checkpoint.
		x.recordBlock(ctx, r, blockDef, result, nextBlock)
		if err := x.maybeCheckpoint(ctx, r, nextBlock); err != nil {
			return x.finish(ctx, r, ExecutionStatusFailed, err)
		}

		// Step 8: a Wait result with a duration output suspends the run.
		if result.Status == BlockStatusWait {
			if delay, ok := waitDuration(result.Output); ok {
				r.logger.Info("execution waiting", "block", blockName, "delay", delay)
				select {
				case <-ctx.Done():
					return x.finish(ctx, r, ExecutionStatusCancelled, context.Cause(ctx))
				case <-time.After(delay):
				}
			}
		}

		// Step 9: loop with the resolved next block.
		r.ec.SetCurrentBlock(nextBlock)
	}
}

// evaluateGuards runs a guard batch and layers the workflow's block-on-warning
// policy on top of the manager's decision.
func (x *Executor) evaluateGuards(ctx context.Context, r *run, guards []Guard, useCache bool) *GuardEvaluation {
	evaluation := x.guardManager.Evaluate(ctx, guards, r.ec, useCache)
	if !evaluation.ShouldBlock && r.def.Config.BlockOnWarning {
		if warning := evaluation.FailingWarning(); warning != nil {
			evaluation.ShouldBlock = true
			evaluation.Blocking = warning
		}
	}
	return evaluation
}

// invokeBlock materializes and runs one block, applying the error handler's
// retry, skip, and fail decisions. A skip is surfaced as a synthetic failure
// result so the loop continues at the block's declared failure transition. A
// non-nil error return is fatal for the run.
func (x *Executor) invokeBlock(ctx context.Context, r *run, blockDef *BlockDefinition) (*BlockResult, error) {
	block, err := x.factory.CreateBlock(blockDef)
	if err != nil {
		return nil, fmt.Errorf("failed to create block %q: %w", blockDef.ID, err)
	}
	if block == nil {
		return nil, fmt.Errorf("block factory returned no block for %q (type %q)", blockDef.ID, blockDef.Type)
	}

	policy := r.def.Config.RetryPolicy
	for {
		result, err := x.executeGuarded(ctx, block, r.ec)
		if err == nil {
			if result == nil {
				result = &BlockResult{Status: BlockStatusSuccess}
			}
			return result, nil
		}
		if ctx.Err() != nil {
			// Cancellation surfaces through the loop's own check.
			return &BlockResult{Status: BlockStatusFailure, Output: err.Error()}, nil
		}

		decision := x.errorHandler.HandleError(ctx, err, r.ec, blockDef.ID, policy)
		switch decision.Action {
		case ErrorActionRetry:
			r.retryCount++
			select {
			case <-ctx.Done():
				return &BlockResult{Status: BlockStatusFailure, Output: err.Error()}, nil
			case <-time.After(decision.Delay):
			}
			continue
		case ErrorActionSkip:
			r.logger.Warn("continuing past failed block",
				"block", blockDef.ID,
				"class", string(decision.Class),
				"error", err)
			return &BlockResult{Status: BlockStatusFailure, Output: err.Error()}, nil
		default:
			return nil, fmt.Errorf("block %q failed: %w", blockDef.ID, err)
		}
	}
}

// executeGuarded invokes the block, converting panics into errors so a
// misbehaving block implementation cannot take down the executor.
func (x *Executor) executeGuarded(ctx context.Context, block Block, ec *ExecutionContext) (result *BlockResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("block panicked: %v", r)
		}
	}()
	return block.Execute(ctx, ec)
}

// recordBlock appends a history entry and notifies observers.
func (x *Executor) recordBlock(ctx context.Context, r *run, blockDef *BlockDefinition, result *BlockResult, nextBlock string) {
	now := time.Now()
	entry := HistoryEntry{
		BlockID:   blockDef.ID,
		BlockType: blockDef.Type,
		Status:    result.Status,
		NextBlock: nextBlock,
		Output:    result.Output,
		StartTime: r.blockStart(),
		EndTime:   now,
	}
	if result.Status == BlockStatusFailure {
		if message, ok := result.Output.(string); ok {
			entry.Error = message
		}
	}
	r.history = append(r.history, entry)
	r.blocksSinceCheckpoint++
	r.lastBlock = &entry

	if err := x.blockLogger.LogBlock(ctx, &BlockLogEntry{
		ExecutionID: r.ec.ExecutionID(),
		WorkflowID:  r.def.ID,
		BlockID:     blockDef.ID,
		BlockType:   blockDef.Type,
		Status:      result.Status,
		Output:      result.Output,
		Error:       entry.Error,
		StartTime:   entry.StartTime,
		Duration:    entry.EndTime.Sub(entry.StartTime).Seconds(),
	}); err != nil {
		r.logger.Warn("failed to log block execution", "block", blockDef.ID, "error", err)
	}

	event := &BlockEvent{
		WorkflowID:  r.def.ID,
		ExecutionID: r.ec.ExecutionID(),
		BlockID:     blockDef.ID,
		BlockType:   blockDef.Type,
		Status:      result.Status,
		NextBlock:   nextBlock,
		Output:      result.Output,
		StartTime:   entry.StartTime,
		EndTime:     entry.EndTime,
		Duration:    entry.EndTime.Sub(entry.StartTime),
	}
	// Fire and forget: a slow monitor must not block the loop.
	go x.monitor.OnBlockComplete(context.WithoutCancel(ctx), event)
}

// blockStart approximates the start of the block just recorded. History
// timing is informational; the previous entry's end is used when available.
func (r *run) blockStart() time.Time {
	if len(r.history) > 0 {
		return r.history[len(r.history)-1].EndTime
	}
	return r.startTime
}

// maybeCheckpoint applies the cadence policy: checkpoint when the configured
// block-count interval has elapsed, or when the state changed since the last
// checkpoint.
func (x *Executor) maybeCheckpoint(ctx context.Context, r *run, nextBlock string) error {
	snapshot := r.ec.StateSnapshot()
	stateChanged := !reflect.DeepEqual(snapshot, r.lastCheckpointState)
	intervalDue := r.def.Config.CheckpointInterval > 0 &&
		r.blocksSinceCheckpoint >= r.def.Config.CheckpointInterval
	if !stateChanged && !intervalDue {
		return nil
	}
	return x.saveCheckpoint(ctx, r, ExecutionStatusRunning, nextBlock, snapshot, nil)
}

func (x *Executor) saveCheckpoint(ctx context.Context, r *run, status ExecutionStatus, currentBlock string, snapshot map[string]any, runErr error) error {
	checkpoint := &Checkpoint{
		WorkflowID:    r.def.ID,
		ExecutionID:   r.ec.ExecutionID(),
		CorrelationID: r.ec.CorrelationID(),
		Status:        status,
		CurrentBlock:  currentBlock,
		State:         snapshot,
		History:       append([]HistoryEntry(nil), r.history...),
		RetryCount:    r.retryCount,
		UpdatedAt:     time.Now(),
	}
	if runErr != nil {
		checkpoint.Error = runErr.Error()
	}
	// A cancellation must not interrupt an in-flight checkpoint write;
	// otherwise a resumed execution could load a torn snapshot.
	if err := x.store.SaveCheckpoint(context.WithoutCancel(ctx), checkpoint); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	r.blocksSinceCheckpoint = 0
	r.lastCheckpointState = snapshot
	return nil
}

// finish moves the run to a terminal state, writes the final checkpoint, and
// notifies observers.
func (x *Executor) finish(ctx context.Context, r *run, status ExecutionStatus, runErr error) (*ExecutionResult, error) {
	snapshot := r.ec.StateSnapshot()
	if err := x.saveCheckpoint(ctx, r, status, r.ec.CurrentBlock(), snapshot, runErr); err != nil {
		r.logger.Error("failed to write final checkpoint", "error", err)
	}

	duration := time.Since(r.startTime)
	result := &ExecutionResult{
		WorkflowID:  r.def.ID,
		ExecutionID: r.ec.ExecutionID(),
		Status:      status,
		Err:         runErr,
		Duration:    duration,
		State:       snapshot,
		History:     r.history,
	}
	if r.lastBlock != nil {
		result.Output = r.lastBlock.Output
	}

	switch status {
	case ExecutionStatusCompleted:
		r.logger.Info("workflow execution completed", "duration", duration, "blocks", len(r.history))
		x.notifyWorkflow(ctx, x.monitor.OnWorkflowComplete, r, status, nil)
	case ExecutionStatusCancelled:
		r.logger.Info("workflow execution cancelled", "duration", duration)
		x.notifyWorkflow(ctx, x.monitor.OnWorkflowCancelled, r, status, runErr)
	default:
		r.logger.Error("workflow execution failed", "duration", duration, "error", runErr)
		x.notifyWorkflow(ctx, x.monitor.OnWorkflowFailure, r, status, runErr)
	}
	return result, nil
}

func (x *Executor) notifyWorkflow(ctx context.Context, notify func(context.Context, *WorkflowEvent), r *run, status ExecutionStatus, runErr error) {
	event := &WorkflowEvent{
		WorkflowID:    r.def.ID,
		ExecutionID:   r.ec.ExecutionID(),
		CorrelationID: r.ec.CorrelationID(),
		Status:        status,
		StartTime:     r.startTime,
		EndTime:       time.Now(),
		Duration:      time.Since(r.startTime),
		Input:         r.ec.Input(),
		State:         r.ec.StateSnapshot(),
		Error:         runErr,
	}
	go notify(context.WithoutCancel(ctx), event)
}

// waitDuration interprets a Wait result's output as a delay.
func waitDuration(output any) (time.Duration, bool) {
	switch v := output.(type) {
	case time.Duration:
		return v, true
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d, true
		}
	case float64:
		return time.Duration(v * float64(time.Second)), true
	case int:
		return time.Duration(v) * time.Second, true
	}
	return 0, false
}
