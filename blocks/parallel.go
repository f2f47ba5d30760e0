package blocks

import (
	"fmt"
	"time"

	"github.com/deepnoodle-ai/blockflow"
)

// registerParallel wires the "parallel" block type into a registry. The
// constructor closes over the registry so child definitions can reference any
// registered block type, including nested parallel blocks.
func registerParallel(registry *blockflow.BlockRegistry) {
	registry.Register("parallel", func(def *blockflow.BlockDefinition) (blockflow.Block, error) {
		return newParallelFromDefinition(registry, def)
	})
}

func newParallelFromDefinition(registry *blockflow.BlockRegistry, def *blockflow.BlockDefinition) (blockflow.Block, error) {
	rawChildren, ok := def.Config["children"].(map[string]any)
	if !ok || len(rawChildren) == 0 {
		return nil, fmt.Errorf("block %q requires a \"children\" map", def.ID)
	}

	children := make(map[string]blockflow.Block, len(rawChildren))
	for name, raw := range rawChildren {
		childDef, err := childDefinition(def.ID, name, raw)
		if err != nil {
			return nil, err
		}
		child, err := registry.CreateBlock(childDef)
		if err != nil {
			return nil, fmt.Errorf("block %q child %q: %w", def.ID, name, err)
		}
		children[name] = child
	}

	config := blockflow.ParallelConfig{}
	if mode, ok := configString(def, "mode"); ok {
		config.Mode = blockflow.ParallelMode(mode)
	}
	if v, ok := def.Config["max_concurrency"].(int); ok {
		config.MaxConcurrency = v
	}
	if v, ok := def.Config["fail_fast"].(bool); ok {
		config.FailFast = v
	}
	if raw, ok := configString(def, "timeout"); ok {
		timeout, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("block %q timeout: %w", def.ID, err)
		}
		config.Timeout = timeout
	}
	storeKey, _ := configString(def, "store")

	return blockflow.NewParallelBlock(blockflow.ParallelBlockOptions{
		Children: children,
		Config:   config,
		StateKey: storeKey,
	})
}

// childDefinition converts the raw YAML mapping of one child into a block
// definition. Children carry no transitions; the parent owns the workflow
// edge.
func childDefinition(parentID, name string, raw any) (*blockflow.BlockDefinition, error) {
	mapping, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("block %q child %q must be a mapping", parentID, name)
	}
	blockType, ok := mapping["type"].(string)
	if !ok || blockType == "" {
		return nil, fmt.Errorf("block %q child %q has no type", parentID, name)
	}
	childDef := &blockflow.BlockDefinition{
		ID:   fmt.Sprintf("%s.%s", parentID, name),
		Type: blockType,
	}
	if config, ok := mapping["config"].(map[string]any); ok {
		childDef.Config = config
	}
	return childDef, nil
}
