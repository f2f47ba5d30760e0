package blockflow

import (
	"context"
)

// GuardSeverity orders guard outcomes from informational to critical.
type GuardSeverity int

const (
	SeverityInfo GuardSeverity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

func (s GuardSeverity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// GuardPhase controls when an attached guard is evaluated relative to the
// block it guards.
type GuardPhase string

const (
	GuardPhasePre  GuardPhase = "pre"
	GuardPhasePost GuardPhase = "post"
	GuardPhaseBoth GuardPhase = "both"
)

func (p GuardPhase) includes(phase GuardPhase) bool {
	return p == phase || p == GuardPhaseBoth
}

// GuardResult is the immutable outcome of a single guard evaluation.
type GuardResult struct {
	// GuardName identifies the guard that produced this result.
	GuardName string `json:"guard_name"`

	// Valid is false when the guard failed.
	Valid bool `json:"valid"`

	// Severity of the failure. Ignored when Valid is true.
	Severity GuardSeverity `json:"severity"`

	// Message explains a failure.
	Message string `json:"message,omitempty"`

	// Redirect optionally names a block the executor should jump to instead
	// of failing the run.
	Redirect string `json:"redirect,omitempty"`

	// Details carries arbitrary diagnostic context.
	Details map[string]any `json:"details,omitempty"`
}

// Guard is a predicate evaluated before and/or after a block. A failing guard
// can block the run or redirect it to another block.
type Guard interface {

	// Name returns the guard's identifier.
	Name() string

	// Severity returns the guard's declared severity.
	Severity() GuardSeverity

	// Category returns a free-form grouping label.
	Category() string

	// Evaluate checks the guard against the execution context.
	Evaluate(ctx context.Context, ec *ExecutionContext) (*GuardResult, error)
}

// GuardAttachment binds a guard to an evaluation phase.
type GuardAttachment struct {
	Guard Guard
	Phase GuardPhase
}

// GuardFunction is a function-backed guard.
type GuardFunction struct {
	name     string
	severity GuardSeverity
	category string
	fn       func(ctx context.Context, ec *ExecutionContext) (*GuardResult, error)
}

// NewGuardFunction creates a guard from a function.
func NewGuardFunction(name string, severity GuardSeverity, fn func(ctx context.Context, ec *ExecutionContext) (*GuardResult, error)) *GuardFunction {
	return &GuardFunction{name: name, severity: severity, category: "general", fn: fn}
}

// WithCategory sets the guard's category label and returns the guard.
func (g *GuardFunction) WithCategory(category string) *GuardFunction {
	g.category = category
	return g
}

func (g *GuardFunction) Name() string {
	return g.name
}

func (g *GuardFunction) Severity() GuardSeverity {
	return g.severity
}

func (g *GuardFunction) Category() string {
	return g.category
}

func (g *GuardFunction) Evaluate(ctx context.Context, ec *ExecutionContext) (*GuardResult, error) {
	result, err := g.fn(ctx, ec)
	if err != nil {
		return nil, err
	}
	if result != nil && result.GuardName == "" {
		result.GuardName = g.name
	}
	return result, nil
}
