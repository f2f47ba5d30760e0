package blockflow

import (
	"context"
	"fmt"
	"sync"
)

// BlockStatus represents the outcome of a block execution.
type BlockStatus string

const (
	BlockStatusSuccess BlockStatus = "success"
	BlockStatusFailure BlockStatus = "failure"
	BlockStatusWait    BlockStatus = "wait"
)

// BlockResult is returned by a block execution. Expected failure modes are
// encoded via Status rather than returned as errors; errors are reserved for
// unexpected conditions and are routed through the error handler.
type BlockResult struct {
	// Status indicates whether the block succeeded, failed, or wants the
	// execution to wait before continuing.
	Status BlockStatus `json:"status"`

	// NextBlock optionally overrides the transition declared in the block
	// definition.
	NextBlock string `json:"next_block,omitempty"`

	// Output is the block's output payload. For a Wait status, a
	// time.Duration output tells the executor how long to suspend.
	Output any `json:"output,omitempty"`
}

// Block represents a single named unit of work in a workflow graph.
type Block interface {
	Execute(ctx context.Context, ec *ExecutionContext) (*BlockResult, error)
}

// BlockFunction is a function that can be used as a block.
type BlockFunction func(ctx context.Context, ec *ExecutionContext) (*BlockResult, error)

func (f BlockFunction) Execute(ctx context.Context, ec *ExecutionContext) (*BlockResult, error) {
	return f(ctx, ec)
}

// BlockFactory materializes a block implementation from its definition. A nil
// block or an error is treated by the executor as a fatal configuration error.
type BlockFactory interface {
	CreateBlock(def *BlockDefinition) (Block, error)
}

// BlockConstructor builds a block from its definition.
type BlockConstructor func(def *BlockDefinition) (Block, error)

// BlockRegistry maps block type identifiers to constructor functions. It is
// populated at process startup and implements BlockFactory.
type BlockRegistry struct {
	mutex        sync.RWMutex
	constructors map[string]BlockConstructor
}

// NewBlockRegistry creates an empty block registry.
func NewBlockRegistry() *BlockRegistry {
	return &BlockRegistry{constructors: map[string]BlockConstructor{}}
}

// Register associates a block type identifier with a constructor. Registering
// the same type twice replaces the earlier constructor.
func (r *BlockRegistry) Register(blockType string, constructor BlockConstructor) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.constructors[blockType] = constructor
}

// Types returns the registered block type identifiers.
func (r *BlockRegistry) Types() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	types := make([]string, 0, len(r.constructors))
	for blockType := range r.constructors {
		types = append(types, blockType)
	}
	return types
}

// CreateBlock implements BlockFactory.
func (r *BlockRegistry) CreateBlock(def *BlockDefinition) (Block, error) {
	if def == nil {
		return nil, fmt.Errorf("block definition is required")
	}
	r.mutex.RLock()
	constructor, ok := r.constructors[def.Type]
	r.mutex.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown block type %q", def.Type)
	}
	return constructor(def)
}
