package blocks

import (
	"context"
	"fmt"

	"github.com/deepnoodle-ai/blockflow"
	"github.com/deepnoodle-ai/blockflow/script"
)

// ScriptBlock evaluates a Risor expression against the execution state. The
// globals "state", "input", and "block" are available to the code. When a
// "store" key is configured, the result value is written to that state key.
type ScriptBlock struct {
	script   script.Script
	storeKey string
}

// NewScriptBlock compiles the configured "code" at construction time so that
// syntax errors surface when the workflow is built, not mid-run.
func NewScriptBlock(def *blockflow.BlockDefinition) (blockflow.Block, error) {
	code, err := requireConfigString(def, "code")
	if err != nil {
		return nil, err
	}
	storeKey, _ := configString(def, "store")

	compiler := script.NewRisorScriptingEngine(script.DefaultRisorGlobals())
	compiled, err := compiler.Compile(context.Background(), code)
	if err != nil {
		return nil, blockflow.NewValidationError("block %q script: %v", def.ID, err)
	}
	return &ScriptBlock{script: compiled, storeKey: storeKey}, nil
}

func (b *ScriptBlock) Execute(ctx context.Context, ec *blockflow.ExecutionContext) (*blockflow.BlockResult, error) {
	value, err := b.script.Evaluate(ctx, map[string]any{
		"state": ec.StateSnapshot(),
		"input": ec.Input(),
		"block": ec.CurrentBlock(),
	})
	if err != nil {
		return nil, fmt.Errorf("script evaluation failed: %w", err)
	}
	output := value.Value()
	if b.storeKey != "" {
		ec.SetState(b.storeKey, output)
	}
	return &blockflow.BlockResult{
		Status: blockflow.BlockStatusSuccess,
		Output: output,
	}, nil
}
