// Package script defines a small engine-agnostic scripting contract and a
// Risor-backed implementation of it.
package script

import "context"

// Value is the result of evaluating a script.
type Value interface {
	// Value converts the result to a plain Go value.
	Value() any

	// String renders the result for display.
	String() string

	// IsTruthy reports whether the result counts as true in a condition.
	IsTruthy() bool
}

// Script is compiled source, ready to evaluate against a set of globals.
type Script interface {
	Evaluate(ctx context.Context, globals map[string]any) (Value, error)
}

// Compiler turns source code into a Script.
type Compiler interface {
	Compile(ctx context.Context, code string) (Script, error)
}
