package blockflow

import (
	"context"
	"fmt"

	"github.com/deepnoodle-ai/blockflow/script"
)

// ScriptGuardOptions configures a ScriptGuard.
type ScriptGuardOptions struct {
	// Name identifies the guard. Required.
	Name string

	// Severity of a failing evaluation. Defaults to SeverityError.
	Severity GuardSeverity

	// Condition is a script expression evaluated against the globals
	// "state", "input", and "block". A falsy result fails the guard.
	// Required.
	Condition string

	// Message explains a failure. Defaults to the condition text.
	Message string

	// Redirect optionally names a block to jump to when the guard fails.
	Redirect string

	// Category labels the guard. Defaults to "script".
	Category string

	// Compiler compiles the condition. Defaults to the Risor engine.
	Compiler script.Compiler
}

// ScriptGuard evaluates a scripted condition against the execution state. It
// lets operators express guard logic declaratively without writing Go.
type ScriptGuard struct {
	name     string
	severity GuardSeverity
	message  string
	redirect string
	category string
	compiled script.Script
}

// NewScriptGuard compiles the condition and returns the guard.
func NewScriptGuard(opts ScriptGuardOptions) (*ScriptGuard, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("script guard name is required")
	}
	if opts.Condition == "" {
		return nil, fmt.Errorf("script guard condition is required")
	}
	if opts.Severity == 0 {
		opts.Severity = SeverityError
	}
	if opts.Message == "" {
		opts.Message = fmt.Sprintf("condition not met: %s", opts.Condition)
	}
	if opts.Category == "" {
		opts.Category = "script"
	}
	if opts.Compiler == nil {
		opts.Compiler = script.NewRisorScriptingEngine(script.DefaultRisorGlobals())
	}
	compiled, err := opts.Compiler.Compile(context.Background(), opts.Condition)
	if err != nil {
		return nil, fmt.Errorf("failed to compile guard condition: %w", err)
	}
	return &ScriptGuard{
		name:     opts.Name,
		severity: opts.Severity,
		message:  opts.Message,
		redirect: opts.Redirect,
		category: opts.Category,
		compiled: compiled,
	}, nil
}

func (g *ScriptGuard) Name() string {
	return g.name
}

func (g *ScriptGuard) Severity() GuardSeverity {
	return g.severity
}

func (g *ScriptGuard) Category() string {
	return g.category
}

func (g *ScriptGuard) Evaluate(ctx context.Context, ec *ExecutionContext) (*GuardResult, error) {
	value, err := g.compiled.Evaluate(ctx, map[string]any{
		"state": ec.StateSnapshot(),
		"input": ec.Input(),
		"block": ec.CurrentBlock(),
	})
	if err != nil {
		return nil, err
	}
	if value.IsTruthy() {
		return &GuardResult{GuardName: g.name, Valid: true}, nil
	}
	return &GuardResult{
		GuardName: g.name,
		Valid:     false,
		Severity:  g.severity,
		Message:   g.message,
		Redirect:  g.redirect,
		Details:   map[string]any{"value": value.Value()},
	}, nil
}
