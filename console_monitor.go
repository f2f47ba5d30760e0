package blockflow

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
)

// ConsoleMonitor is an ExecutionMonitor that prints colorized progress to a
// writer. It is safe for concurrent use since monitor notifications are
// dispatched on their own goroutines.
type ConsoleMonitor struct {
	mutex  sync.Mutex
	writer io.Writer
}

// NewConsoleMonitor creates a monitor that prints to stdout.
func NewConsoleMonitor() *ConsoleMonitor {
	return &ConsoleMonitor{writer: os.Stdout}
}

// NewConsoleMonitorWithWriter creates a monitor that prints to the given
// writer.
func NewConsoleMonitorWithWriter(w io.Writer) *ConsoleMonitor {
	return &ConsoleMonitor{writer: w}
}

func (m *ConsoleMonitor) printf(c *color.Color, format string, args ...any) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	c.Fprintf(m.writer, format+"\n", args...)
}

func (m *ConsoleMonitor) OnWorkflowStart(ctx context.Context, event *WorkflowEvent) {
	m.printf(color.New(color.FgBlue), "▶ workflow %s started (execution %s)", event.WorkflowID, event.ExecutionID)
}

func (m *ConsoleMonitor) OnBlockComplete(ctx context.Context, event *BlockEvent) {
	switch event.Status {
	case BlockStatusSuccess:
		m.printf(color.New(color.FgGreen), "  ✓ %s (%s) in %s", event.BlockID, event.BlockType, event.Duration)
	case BlockStatusWait:
		m.printf(color.New(color.FgYellow), "  … %s waiting", event.BlockID)
	default:
		m.printf(color.New(color.FgRed), "  ✗ %s (%s) failed", event.BlockID, event.BlockType)
	}
}

func (m *ConsoleMonitor) OnWorkflowComplete(ctx context.Context, event *WorkflowEvent) {
	m.printf(color.New(color.FgGreen, color.Bold), "✔ workflow %s completed in %s", event.WorkflowID, event.Duration)
}

func (m *ConsoleMonitor) OnWorkflowFailure(ctx context.Context, event *WorkflowEvent) {
	m.printf(color.New(color.FgRed, color.Bold), "✘ workflow %s failed: %v", event.WorkflowID, event.Error)
}

func (m *ConsoleMonitor) OnWorkflowCancelled(ctx context.Context, event *WorkflowEvent) {
	m.printf(color.New(color.FgYellow, color.Bold), "■ workflow %s cancelled", event.WorkflowID)
}
