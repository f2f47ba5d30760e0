package blockflow

import "context"

// NullBlockLogger is a no-op implementation
type NullBlockLogger struct{}

func NewNullBlockLogger() *NullBlockLogger {
	return &NullBlockLogger{}
}

func (l *NullBlockLogger) LogBlock(ctx context.Context, entry *BlockLogEntry) error {
	return nil
}

func (l *NullBlockLogger) GetBlockHistory(ctx context.Context, executionID string) ([]*BlockLogEntry, error) {
	return nil, nil
}
