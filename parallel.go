package blockflow

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"
)

// ParallelMode decides how child outcomes aggregate into the block's outcome.
type ParallelMode string

const (
	// ParallelModeAll succeeds only when every child succeeds.
	ParallelModeAll ParallelMode = "all"

	// ParallelModeAny succeeds when at least one child succeeds.
	ParallelModeAny ParallelMode = "any"

	// ParallelModeMajority succeeds when strictly more children succeed
	// than fail.
	ParallelModeMajority ParallelMode = "majority"
)

// ParallelConfig configures a parallel block.
type ParallelConfig struct {
	Mode           ParallelMode  `json:"mode" yaml:"mode"`
	MaxConcurrency int           `json:"max_concurrency,omitempty" yaml:"max_concurrency,omitempty"`
	Timeout        time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	FailFast       bool          `json:"fail_fast,omitempty" yaml:"fail_fast,omitempty"`
}

// ChildResult records the outcome of one parallel child.
type ChildResult struct {
	Name    string        `json:"name"`
	Status  BlockStatus   `json:"status"`
	Output  any           `json:"output,omitempty"`
	Error   string        `json:"error,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// ParallelOutput is the aggregate written into the parent's state and
// returned as the block's output.
type ParallelOutput struct {
	Mode         ParallelMode           `json:"mode"`
	Results      map[string]ChildResult `json:"results"`
	Succeeded    []string               `json:"succeeded"`
	Failed       []string               `json:"failed"`
	ElapsedTotal time.Duration          `json:"elapsed_total"`
	Error        string                 `json:"error,omitempty"`
}

// ParallelBlockOptions configures a parallel block.
type ParallelBlockOptions struct {
	// Children is the fixed set of named child blocks to fan out to.
	Children map[string]Block

	Config ParallelConfig

	// StateKey is the parent state key the aggregate output is stored
	// under. Defaults to "parallel".
	StateKey string
}

// ParallelBlock fans out to its child blocks concurrently and aggregates
// their outcomes. Each child executes against a private copy of the parent's
// state, so children cannot observe each other's writes; the aggregate is the
// only write back into the parent.
type ParallelBlock struct {
	children map[string]Block
	config   ParallelConfig
	stateKey string
}

// NewParallelBlock creates a parallel block.
func NewParallelBlock(opts ParallelBlockOptions) (*ParallelBlock, error) {
	if len(opts.Children) == 0 {
		return nil, fmt.Errorf("parallel block requires at least one child")
	}
	switch opts.Config.Mode {
	case ParallelModeAll, ParallelModeAny, ParallelModeMajority:
	case "":
		opts.Config.Mode = ParallelModeAll
	default:
		return nil, fmt.Errorf("unknown parallel mode %q", opts.Config.Mode)
	}
	if opts.Config.MaxConcurrency <= 0 {
		opts.Config.MaxConcurrency = len(opts.Children)
	}
	if opts.StateKey == "" {
		opts.StateKey = "parallel"
	}
	return &ParallelBlock{
		children: opts.Children,
		config:   opts.Config,
		stateKey: opts.StateKey,
	}, nil
}

type childCompletion struct {
	name   string
	result ChildResult
}

// Execute runs all children under a shared cancellation signal and a derived
// timeout, draining completions first-to-finish-first-processed. A timeout
// reports failure rather than hanging; it never returns an error for expected
// failure modes.
func (b *ParallelBlock) Execute(ctx context.Context, ec *ExecutionContext) (*BlockResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if b.config.Timeout > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, b.config.Timeout)
		defer timeoutCancel()
	}

	// Buffered so children can always deliver their completion even after
	// an early stop decision.
	completions := make(chan childCompletion, len(b.children))
	semaphore := make(chan struct{}, b.config.MaxConcurrency)

	names := make([]string, 0, len(b.children))
	for name := range b.children {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		child := b.children[name]
		childContext := ec.Clone()
		go func(name string, child Block, childContext *ExecutionContext) {
			select {
			case semaphore <- struct{}{}:
				defer func() { <-semaphore }()
			case <-ctx.Done():
				completions <- childCompletion{name: name, result: ChildResult{
					Name:   name,
					Status: BlockStatusFailure,
					Error:  ctx.Err().Error(),
				}}
				return
			}
			started := time.Now()
			result, err := child.Execute(ctx, childContext)
			childResult := ChildResult{Name: name, Elapsed: time.Since(started)}
			switch {
			case err != nil:
				childResult.Status = BlockStatusFailure
				childResult.Error = err.Error()
			case result == nil:
				childResult.Status = BlockStatusFailure
				childResult.Error = "child returned no result"
			default:
				childResult.Status = result.Status
				childResult.Output = result.Output
			}
			completions <- childCompletion{name: name, result: childResult}
		}(name, child, childContext)
	}

	output := &ParallelOutput{
		Mode:    b.config.Mode,
		Results: map[string]ChildResult{},
	}
	var errs *multierror.Error
	timedOut := false

	total := len(b.children)
drain:
	for len(output.Results) < total {
		select {
		case completion := <-completions:
			output.Results[completion.name] = completion.result
			output.ElapsedTotal += completion.result.Elapsed
			if completion.result.Status == BlockStatusSuccess {
				output.Succeeded = append(output.Succeeded, completion.name)
			} else {
				output.Failed = append(output.Failed, completion.name)
				errs = multierror.Append(errs, fmt.Errorf("child %q: %s", completion.name, completion.result.Error))
			}
			if b.shouldStopEarly(len(output.Succeeded), len(output.Failed), total) {
				cancel()
				break drain
			}
		case <-ctx.Done():
			timedOut = true
			break drain
		}
	}

	sort.Strings(output.Succeeded)
	sort.Strings(output.Failed)

	status := b.aggregateStatus(len(output.Succeeded), len(output.Failed), timedOut)
	if timedOut {
		errs = multierror.Append(errs, fmt.Errorf("parallel block timed out after %s: %w", b.config.Timeout, ctx.Err()))
	}
	if status == BlockStatusFailure && errs != nil {
		output.Error = errs.Error()
	}

	ec.SetState(b.stateKey, output)
	return &BlockResult{Status: status, Output: output}, nil
}

// shouldStopEarly reports whether the mode's outcome is already decided.
func (b *ParallelBlock) shouldStopEarly(succeeded, failed, total int) bool {
	if b.config.FailFast && failed > 0 {
		return true
	}
	remaining := total - succeeded - failed
	if remaining == 0 {
		return false
	}
	switch b.config.Mode {
	case ParallelModeAny:
		return succeeded > 0
	case ParallelModeMajority:
		// Decided when the remaining children cannot flip the outcome.
		return succeeded > failed+remaining || succeeded+remaining <= failed
	}
	return false
}

func (b *ParallelBlock) aggregateStatus(succeeded, failed int, timedOut bool) BlockStatus {
	if timedOut {
		return BlockStatusFailure
	}
	switch b.config.Mode {
	case ParallelModeAny:
		if succeeded > 0 {
			return BlockStatusSuccess
		}
	case ParallelModeMajority:
		if succeeded > failed {
			return BlockStatusSuccess
		}
	default: // ParallelModeAll
		if failed == 0 {
			return BlockStatusSuccess
		}
	}
	return BlockStatusFailure
}
