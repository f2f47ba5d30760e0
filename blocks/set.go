package blocks

import (
	"context"
	"fmt"

	"github.com/deepnoodle-ai/blockflow"
)

// SetBlock writes configured values into the execution state.
type SetBlock struct {
	values map[string]any
}

func NewSetBlock(def *blockflow.BlockDefinition) (blockflow.Block, error) {
	raw, ok := def.Config["values"]
	if !ok {
		return nil, fmt.Errorf("block %q requires a %q configuration value", def.ID, "values")
	}
	values, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("block %q: %q must be a map", def.ID, "values")
	}
	return &SetBlock{values: values}, nil
}

func (b *SetBlock) Execute(ctx context.Context, ec *blockflow.ExecutionContext) (*blockflow.BlockResult, error) {
	for key, value := range b.values {
		ec.SetState(key, value)
	}
	return &blockflow.BlockResult{
		Status: blockflow.BlockStatusSuccess,
		Output: len(b.values),
	}, nil
}
