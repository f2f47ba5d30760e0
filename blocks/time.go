package blocks

import (
	"context"
	"time"

	"github.com/deepnoodle-ai/blockflow"
)

// TimeBlock stores the current time into the execution state.
type TimeBlock struct {
	stateKey string
	format   string
}

func NewTimeBlock(def *blockflow.BlockDefinition) (blockflow.Block, error) {
	stateKey, _ := configString(def, "store")
	if stateKey == "" {
		stateKey = "now"
	}
	format, _ := configString(def, "format")
	if format == "" {
		format = time.RFC3339
	}
	return &TimeBlock{stateKey: stateKey, format: format}, nil
}

func (b *TimeBlock) Execute(ctx context.Context, ec *blockflow.ExecutionContext) (*blockflow.BlockResult, error) {
	now := time.Now().Format(b.format)
	ec.SetState(b.stateKey, now)
	return &blockflow.BlockResult{
		Status: blockflow.BlockStatusSuccess,
		Output: now,
	}, nil
}
