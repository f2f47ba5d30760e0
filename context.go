package blockflow

import (
	"sort"
	"sync"

	"go.jetify.com/typeid"
)

// NewExecutionID returns a new unique identifier for an execution.
func NewExecutionID() string {
	id, err := typeid.WithPrefix("exec")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// ExecutionContext carries the mutable state for a single workflow run. It is
// exclusively owned by one in-flight execution and must never be shared across
// concurrent runs. Parallel block children each receive a Clone.
type ExecutionContext struct {
	executionID   string
	correlationID string
	workflowID    string
	input         any

	mutex        sync.RWMutex
	currentBlock string
	state        map[string]any

	// lastResult is set just before post-execution guards run so guards can
	// observe the block's output. It is not checkpointed.
	lastResult *BlockResult
}

// ExecutionContextOptions configures a new ExecutionContext.
type ExecutionContextOptions struct {
	WorkflowID    string
	ExecutionID   string
	CorrelationID string
	Input         any
	State         map[string]any
}

// NewExecutionContext creates a context for a fresh or resumed execution.
func NewExecutionContext(opts ExecutionContextOptions) *ExecutionContext {
	if opts.ExecutionID == "" {
		opts.ExecutionID = NewExecutionID()
	}
	if opts.CorrelationID == "" {
		opts.CorrelationID = opts.ExecutionID
	}
	return &ExecutionContext{
		executionID:   opts.ExecutionID,
		correlationID: opts.CorrelationID,
		workflowID:    opts.WorkflowID,
		input:         opts.Input,
		state:         deepCopyMap(opts.State),
	}
}

// ExecutionID returns the unique identifier for this execution.
func (c *ExecutionContext) ExecutionID() string {
	return c.executionID
}

// CorrelationID returns the correlation identifier for this execution.
func (c *ExecutionContext) CorrelationID() string {
	return c.correlationID
}

// WorkflowID returns the identifier of the workflow being executed.
func (c *ExecutionContext) WorkflowID() string {
	return c.workflowID
}

// Input returns the input value the execution was started with.
func (c *ExecutionContext) Input() any {
	return c.input
}

// CurrentBlock returns the name of the block currently being executed.
func (c *ExecutionContext) CurrentBlock() string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.currentBlock
}

// SetCurrentBlock updates the current block pointer.
func (c *ExecutionContext) SetCurrentBlock(name string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.currentBlock = name
}

// GetState returns the value of a state variable.
func (c *ExecutionContext) GetState(key string) (any, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	value, exists := c.state[key]
	return value, exists
}

// SetState sets the value of a state variable. Last write wins.
func (c *ExecutionContext) SetState(key string, value any) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.state[key] = value
}

// DeleteState removes a state variable.
func (c *ExecutionContext) DeleteState(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	delete(c.state, key)
}

// ListState returns a sorted slice of all state variable names.
func (c *ExecutionContext) ListState() []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var keys []string
	for key := range c.state {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// StateSnapshot returns a deep copy of the state map, suitable for
// checkpointing or handing to a parallel child.
func (c *ExecutionContext) StateSnapshot() map[string]any {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return deepCopyMap(c.state)
}

// LastResult returns the result of the most recently executed block, if any.
// Post-execution guards use this to inspect the block's output.
func (c *ExecutionContext) LastResult() *BlockResult {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.lastResult
}

func (c *ExecutionContext) setLastResult(result *BlockResult) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.lastResult = result
}

// Clone returns an independent copy of the context with a deep copy of the
// state map. Parallel block children execute against clones so they cannot
// observe each other's writes.
func (c *ExecutionContext) Clone() *ExecutionContext {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return &ExecutionContext{
		executionID:   c.executionID,
		correlationID: c.correlationID,
		workflowID:    c.workflowID,
		input:         c.input,
		currentBlock:  c.currentBlock,
		state:         deepCopyMap(c.state),
	}
}

// deepCopyMap creates a deep copy of a map, descending into nested maps and
// slices. Other values are copied by assignment.
func deepCopyMap(m map[string]any) map[string]any {
	copied := make(map[string]any, len(m))
	for k, v := range m {
		copied[k] = deepCopyValue(v)
	}
	return copied
}

func deepCopyValue(v any) any {
	switch value := v.(type) {
	case map[string]any:
		return deepCopyMap(value)
	case []any:
		copied := make([]any, len(value))
		for i, item := range value {
			copied[i] = deepCopyValue(item)
		}
		return copied
	default:
		return v
	}
}
