package blocks

import (
	"context"
	"fmt"

	"github.com/deepnoodle-ai/blockflow"
)

// PrintBlock writes a configured message to stdout.
type PrintBlock struct {
	message string
}

func NewPrintBlock(def *blockflow.BlockDefinition) (blockflow.Block, error) {
	message, err := requireConfigString(def, "message")
	if err != nil {
		return nil, err
	}
	return &PrintBlock{message: message}, nil
}

func (b *PrintBlock) Execute(ctx context.Context, ec *blockflow.ExecutionContext) (*blockflow.BlockResult, error) {
	fmt.Println(b.message)
	return &blockflow.BlockResult{
		Status: blockflow.BlockStatusSuccess,
		Output: b.message,
	}, nil
}
