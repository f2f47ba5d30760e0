package blocks

import (
	"context"
	"fmt"

	"github.com/deepnoodle-ai/blockflow"
)

// FailBlock fails with a configured error class. Useful for testing error
// handling and failure transitions.
type FailBlock struct {
	message string
	class   blockflow.ErrorClass
}

func NewFailBlock(def *blockflow.BlockDefinition) (blockflow.Block, error) {
	message, _ := configString(def, "message")
	if message == "" {
		message = "intentional failure"
	}
	class := blockflow.ErrorClassSystem
	if raw, ok := configString(def, "class"); ok {
		class = blockflow.ErrorClass(raw)
	}
	return &FailBlock{message: message, class: class}, nil
}

func (b *FailBlock) Execute(ctx context.Context, ec *blockflow.ExecutionContext) (*blockflow.BlockResult, error) {
	return nil, blockflow.NewBlockError(b.class, fmt.Sprintf("fail block: %s", b.message))
}
