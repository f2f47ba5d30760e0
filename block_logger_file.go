package blockflow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileBlockLogger logs block executions to a file per execution, formatted as
// newline-delimited JSON.
type FileBlockLogger struct {
	directory string
}

func NewFileBlockLogger(directory string) *FileBlockLogger {
	return &FileBlockLogger{directory: directory}
}

func (l *FileBlockLogger) executionLogPath(executionID string) string {
	return filepath.Join(l.directory, fmt.Sprintf("%s.jsonl", executionID))
}

func (l *FileBlockLogger) LogBlock(ctx context.Context, entry *BlockLogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	filePath := l.executionLogPath(entry.ExecutionID)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

func (l *FileBlockLogger) GetBlockHistory(ctx context.Context, executionID string) ([]*BlockLogEntry, error) {
	data, err := os.ReadFile(l.executionLogPath(executionID))
	if err != nil {
		return nil, err
	}
	var entries []*BlockLogEntry
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		var entry BlockLogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, err
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}
