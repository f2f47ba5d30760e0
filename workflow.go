package blockflow

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// BlockDefinition describes one block in the workflow graph. OnSuccess and
// OnFailure either reference another block id or are empty, meaning the
// workflow ends there.
type BlockDefinition struct {
	ID        string         `json:"id" yaml:"id"`
	Type      string         `json:"type" yaml:"type"`
	OnSuccess string         `json:"on_success,omitempty" yaml:"on_success,omitempty"`
	OnFailure string         `json:"on_failure,omitempty" yaml:"on_failure,omitempty"`
	Config    map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// ExecutionConfig carries per-workflow execution settings.
type ExecutionConfig struct {
	// Timeout bounds the whole run. Zero means no timeout.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// RetryPolicy applies to retryable block errors. Zero value means the
	// default policy.
	RetryPolicy RetryPolicy `json:"retry_policy,omitempty" yaml:"retry_policy,omitempty"`

	// CheckpointInterval is the number of completed blocks after which a
	// checkpoint is forced even if the state has not changed. Zero means
	// checkpoint only on state change.
	CheckpointInterval int `json:"checkpoint_interval,omitempty" yaml:"checkpoint_interval,omitempty"`

	// MaxConcurrentBlocks is the default concurrency limit for parallel
	// blocks that do not set their own.
	MaxConcurrentBlocks int `json:"max_concurrent_blocks,omitempty" yaml:"max_concurrent_blocks,omitempty"`

	// BlockOnWarning makes failing Warning-severity guards block execution,
	// not just Error and Critical ones.
	BlockOnWarning bool `json:"block_on_warning,omitempty" yaml:"block_on_warning,omitempty"`
}

// UnmarshalYAML accepts durations as strings like "90s" or "2m".
func (c *ExecutionConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Timeout             string      `yaml:"timeout"`
		RetryPolicy         RetryPolicy `yaml:"retry_policy"`
		CheckpointInterval  int         `yaml:"checkpoint_interval"`
		MaxConcurrentBlocks int         `yaml:"max_concurrent_blocks"`
		BlockOnWarning      bool        `yaml:"block_on_warning"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	timeout, err := parseOptionalDuration(raw.Timeout)
	if err != nil {
		return fmt.Errorf("invalid timeout: %w", err)
	}
	*c = ExecutionConfig{
		Timeout:             timeout,
		RetryPolicy:         raw.RetryPolicy,
		CheckpointInterval:  raw.CheckpointInterval,
		MaxConcurrentBlocks: raw.MaxConcurrentBlocks,
		BlockOnWarning:      raw.BlockOnWarning,
	}
	return nil
}

func parseOptionalDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// WorkflowDefinition is a declarative graph of named blocks connected by
// success and failure transitions. It is immutable once validated; the
// executor only reads it.
type WorkflowDefinition struct {
	ID         string                      `json:"id" yaml:"id"`
	Version    string                      `json:"version,omitempty" yaml:"version,omitempty"`
	StartBlock string                      `json:"start_block" yaml:"start_block"`
	Blocks     map[string]*BlockDefinition `json:"blocks" yaml:"blocks"`
	Config     ExecutionConfig             `json:"config,omitempty" yaml:"config,omitempty"`

	// Guards are attached in code, not serialized with the definition.
	GlobalGuards []GuardAttachment            `json:"-" yaml:"-"`
	BlockGuards  map[string][]GuardAttachment `json:"-" yaml:"-"`
}

// Validate checks the structural invariants of the definition: a known start
// block, consistent block ids, and transitions that reference existing blocks.
func (d *WorkflowDefinition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("workflow id required")
	}
	if len(d.Blocks) == 0 {
		return fmt.Errorf("workflow %q has no blocks", d.ID)
	}
	if d.StartBlock == "" {
		return fmt.Errorf("workflow %q has no start block", d.ID)
	}
	if _, ok := d.Blocks[d.StartBlock]; !ok {
		return fmt.Errorf("start block %q not found in workflow %q", d.StartBlock, d.ID)
	}
	for id, block := range d.Blocks {
		if block == nil {
			return fmt.Errorf("block %q has no definition", id)
		}
		if block.ID == "" {
			block.ID = id
		} else if block.ID != id {
			return fmt.Errorf("block key %q does not match block id %q", id, block.ID)
		}
		if block.Type == "" {
			return fmt.Errorf("block %q has no type", id)
		}
		if block.OnSuccess != "" {
			if _, ok := d.Blocks[block.OnSuccess]; !ok {
				return fmt.Errorf("block %q on_success references unknown block %q", id, block.OnSuccess)
			}
		}
		if block.OnFailure != "" {
			if _, ok := d.Blocks[block.OnFailure]; !ok {
				return fmt.Errorf("block %q on_failure references unknown block %q", id, block.OnFailure)
			}
		}
	}
	for blockID := range d.BlockGuards {
		if _, ok := d.Blocks[blockID]; !ok {
			return fmt.Errorf("guards attached to unknown block %q", blockID)
		}
	}
	return nil
}

// AttachGuard attaches a guard that applies to every block in the workflow.
func (d *WorkflowDefinition) AttachGuard(guard Guard, phase GuardPhase) {
	d.GlobalGuards = append(d.GlobalGuards, GuardAttachment{Guard: guard, Phase: phase})
}

// AttachBlockGuard attaches a guard to a specific block.
func (d *WorkflowDefinition) AttachBlockGuard(blockID string, guard Guard, phase GuardPhase) {
	if d.BlockGuards == nil {
		d.BlockGuards = map[string][]GuardAttachment{}
	}
	d.BlockGuards[blockID] = append(d.BlockGuards[blockID], GuardAttachment{Guard: guard, Phase: phase})
}

// guardsFor returns the guards applying to a block for the given phase, global
// guards first, in attachment order.
func (d *WorkflowDefinition) guardsFor(blockID string, phase GuardPhase) []Guard {
	var guards []Guard
	for _, attachment := range d.GlobalGuards {
		if attachment.Phase.includes(phase) {
			guards = append(guards, attachment.Guard)
		}
	}
	for _, attachment := range d.BlockGuards[blockID] {
		if attachment.Phase.includes(phase) {
			guards = append(guards, attachment.Guard)
		}
	}
	return guards
}

// LoadWorkflowFile reads and validates a workflow definition from a YAML file.
func LoadWorkflowFile(path string) (*WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}
	return LoadWorkflow(data)
}

// LoadWorkflow parses and validates a workflow definition from YAML bytes.
func LoadWorkflow(data []byte) (*WorkflowDefinition, error) {
	var def WorkflowDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse workflow definition: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("workflow validation failed: %w", err)
	}
	return &def, nil
}
