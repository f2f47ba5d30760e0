// Package blocks provides the built-in block implementations and a registry
// preloaded with all of them.
package blocks

import (
	"fmt"

	"github.com/deepnoodle-ai/blockflow"
)

// Registry returns a block registry with all built-in blocks registered.
func Registry() *blockflow.BlockRegistry {
	registry := blockflow.NewBlockRegistry()
	registry.Register("print", NewPrintBlock)
	registry.Register("set", NewSetBlock)
	registry.Register("sleep", NewSleepBlock)
	registry.Register("fail", NewFailBlock)
	registry.Register("time.now", NewTimeBlock)
	registry.Register("http.request", NewHTTPBlock)
	registry.Register("script", NewScriptBlock)
	registerParallel(registry)
	return registry
}

// configString reads a string configuration value from a block definition.
func configString(def *blockflow.BlockDefinition, key string) (string, bool) {
	value, ok := def.Config[key]
	if !ok {
		return "", false
	}
	s, ok := value.(string)
	return s, ok
}

// requireConfigString reads a required string configuration value.
func requireConfigString(def *blockflow.BlockDefinition, key string) (string, error) {
	s, ok := configString(def, key)
	if !ok || s == "" {
		return "", fmt.Errorf("block %q requires a %q configuration value", def.ID, key)
	}
	return s, nil
}
