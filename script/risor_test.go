package script

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRisorCompileAndEvaluate(t *testing.T) {
	engine := NewRisorScriptingEngine(DefaultRisorGlobals())
	ctx := context.Background()

	t.Run("arithmetic", func(t *testing.T) {
		compiled, err := engine.Compile(ctx, "2 + 3")
		require.NoError(t, err)
		value, err := compiled.Evaluate(ctx, nil)
		require.NoError(t, err)
		require.Equal(t, int64(5), value.Value())
	})

	t.Run("globals are visible", func(t *testing.T) {
		compiled, err := engine.Compile(ctx, `state["count"] * 2`)
		require.NoError(t, err)
		value, err := compiled.Evaluate(ctx, map[string]any{
			"state": map[string]any{"count": 21},
		})
		require.NoError(t, err)
		require.Equal(t, int64(42), value.Value())
	})

	t.Run("parse error", func(t *testing.T) {
		_, err := engine.Compile(ctx, "state[")
		require.Error(t, err)
	})

	t.Run("map result converts to go", func(t *testing.T) {
		compiled, err := engine.Compile(ctx, `{"a": 1, "b": [true, "x"]}`)
		require.NoError(t, err)
		value, err := compiled.Evaluate(ctx, nil)
		require.NoError(t, err)
		result, ok := value.Value().(map[string]any)
		require.True(t, ok)
		require.Equal(t, int64(1), result["a"])
		require.Equal(t, []any{true, "x"}, result["b"])
	})
}

func TestRisorValueTruthiness(t *testing.T) {
	engine := NewRisorScriptingEngine(DefaultRisorGlobals())
	ctx := context.Background()

	evaluate := func(t *testing.T, code string) Value {
		t.Helper()
		compiled, err := engine.Compile(ctx, code)
		require.NoError(t, err)
		value, err := compiled.Evaluate(ctx, nil)
		require.NoError(t, err)
		return value
	}

	tests := []struct {
		code string
		want bool
	}{
		{"true", true},
		{"false", false},
		{"1", true},
		{"0", false},
		{"1.5", true},
		{"0.0", false},
		{`"yes"`, true},
		{`""`, false},
		{`"false"`, false},
		{"[1]", true},
		{"[]", false},
		{`{"k": 1}`, true},
		{"{}", false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			require.Equal(t, tt.want, evaluate(t, tt.code).IsTruthy())
		})
	}
}
