package blocks

import (
	"context"
	"fmt"
	"time"

	"github.com/deepnoodle-ai/blockflow"
)

// SleepBlock asks the executor to suspend the run for a configured duration
// by returning a Wait result. The executor performs the actual delay.
type SleepBlock struct {
	duration time.Duration
}

func NewSleepBlock(def *blockflow.BlockDefinition) (blockflow.Block, error) {
	raw, ok := def.Config["duration"]
	if !ok {
		return nil, fmt.Errorf("block %q requires a %q configuration value", def.ID, "duration")
	}
	var duration time.Duration
	var err error
	switch v := raw.(type) {
	case string:
		duration, err = time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("block %q: invalid duration format: %w", def.ID, err)
		}
	case time.Duration:
		duration = v
	case float64:
		// Seconds as a float
		duration = time.Duration(v * float64(time.Second))
	case int:
		duration = time.Duration(v) * time.Second
	default:
		return nil, fmt.Errorf("block %q: duration must be a string, time.Duration, or number of seconds", def.ID)
	}
	if duration <= 0 {
		return nil, fmt.Errorf("block %q: duration must be positive", def.ID)
	}
	return &SleepBlock{duration: duration}, nil
}

func (b *SleepBlock) Execute(ctx context.Context, ec *blockflow.ExecutionContext) (*blockflow.BlockResult, error) {
	return &blockflow.BlockResult{
		Status: blockflow.BlockStatusWait,
		Output: b.duration,
	}, nil
}
