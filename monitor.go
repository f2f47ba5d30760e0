package blockflow

import (
	"context"
	"time"
)

// WorkflowEvent describes a workflow-level lifecycle event.
type WorkflowEvent struct {
	WorkflowID    string
	ExecutionID   string
	CorrelationID string
	Status        ExecutionStatus
	StartTime     time.Time
	EndTime       time.Time
	Duration      time.Duration
	Input         any
	State         map[string]any
	Error         error
}

// BlockEvent describes the completion of a single block.
type BlockEvent struct {
	WorkflowID  string
	ExecutionID string
	BlockID     string
	BlockType   string
	Status      BlockStatus
	NextBlock   string
	Output      any
	StartTime   time.Time
	EndTime     time.Time
	Duration    time.Duration
	Error       error
}

// ExecutionMonitor observes workflow execution. Notifications are dispatched
// fire-and-forget on their own goroutine; a slow monitor never blocks the
// executor's loop.
type ExecutionMonitor interface {
	OnWorkflowStart(ctx context.Context, event *WorkflowEvent)
	OnBlockComplete(ctx context.Context, event *BlockEvent)
	OnWorkflowComplete(ctx context.Context, event *WorkflowEvent)
	OnWorkflowFailure(ctx context.Context, event *WorkflowEvent)
	OnWorkflowCancelled(ctx context.Context, event *WorkflowEvent)
}

// BaseExecutionMonitor is a no-op monitor. Embed it to implement only the
// notifications you care about.
type BaseExecutionMonitor struct{}

func NewBaseExecutionMonitor() *BaseExecutionMonitor {
	return &BaseExecutionMonitor{}
}

func (m *BaseExecutionMonitor) OnWorkflowStart(ctx context.Context, event *WorkflowEvent) {
	// noop
}

func (m *BaseExecutionMonitor) OnBlockComplete(ctx context.Context, event *BlockEvent) {
	// noop
}

func (m *BaseExecutionMonitor) OnWorkflowComplete(ctx context.Context, event *WorkflowEvent) {
	// noop
}

func (m *BaseExecutionMonitor) OnWorkflowFailure(ctx context.Context, event *WorkflowEvent) {
	// noop
}

func (m *BaseExecutionMonitor) OnWorkflowCancelled(ctx context.Context, event *WorkflowEvent) {
	// noop
}

// MonitorChain fans notifications out to multiple monitors.
type MonitorChain struct {
	monitors []ExecutionMonitor
}

func NewMonitorChain(monitors ...ExecutionMonitor) *MonitorChain {
	return &MonitorChain{monitors: monitors}
}

// Add appends a monitor to the chain.
func (c *MonitorChain) Add(monitor ExecutionMonitor) {
	c.monitors = append(c.monitors, monitor)
}

func (c *MonitorChain) OnWorkflowStart(ctx context.Context, event *WorkflowEvent) {
	for _, monitor := range c.monitors {
		monitor.OnWorkflowStart(ctx, event)
	}
}

func (c *MonitorChain) OnBlockComplete(ctx context.Context, event *BlockEvent) {
	for _, monitor := range c.monitors {
		monitor.OnBlockComplete(ctx, event)
	}
}

func (c *MonitorChain) OnWorkflowComplete(ctx context.Context, event *WorkflowEvent) {
	for _, monitor := range c.monitors {
		monitor.OnWorkflowComplete(ctx, event)
	}
}

func (c *MonitorChain) OnWorkflowFailure(ctx context.Context, event *WorkflowEvent) {
	for _, monitor := range c.monitors {
		monitor.OnWorkflowFailure(ctx, event)
	}
}

func (c *MonitorChain) OnWorkflowCancelled(ctx context.Context, event *WorkflowEvent) {
	for _, monitor := range c.monitors {
		monitor.OnWorkflowCancelled(ctx, event)
	}
}
