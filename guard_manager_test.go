package blockflow

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func passingGuard(name string) Guard {
	return NewGuardFunction(name, SeverityError, func(ctx context.Context, ec *ExecutionContext) (*GuardResult, error) {
		return &GuardResult{Valid: true}, nil
	})
}

func failingGuard(name string, severity GuardSeverity) Guard {
	return NewGuardFunction(name, severity, func(ctx context.Context, ec *ExecutionContext) (*GuardResult, error) {
		return &GuardResult{Valid: false, Severity: severity, Message: name + " failed"}, nil
	})
}

func guardContext() *ExecutionContext {
	ec := NewExecutionContext(ExecutionContextOptions{WorkflowID: "wf"})
	ec.SetCurrentBlock("step")
	return ec
}

func TestGuardManagerEvaluate(t *testing.T) {
	ctx := context.Background()

	t.Run("all passing", func(t *testing.T) {
		manager := NewGuardManager(GuardManagerOptions{})
		evaluation := manager.Evaluate(ctx, []Guard{passingGuard("a"), passingGuard("b")}, guardContext(), false)
		require.False(t, evaluation.ShouldBlock)
		require.Nil(t, evaluation.Blocking)
		require.Len(t, evaluation.Results, 2)
	})

	t.Run("error severity blocks", func(t *testing.T) {
		manager := NewGuardManager(GuardManagerOptions{})
		evaluation := manager.Evaluate(ctx, []Guard{failingGuard("g", SeverityError)}, guardContext(), false)
		require.True(t, evaluation.ShouldBlock)
		require.Equal(t, "g", evaluation.Blocking.GuardName)
		require.Equal(t, 1, evaluation.Counts[SeverityError])
	})

	t.Run("warning does not block by default", func(t *testing.T) {
		manager := NewGuardManager(GuardManagerOptions{})
		evaluation := manager.Evaluate(ctx, []Guard{failingGuard("w", SeverityWarning)}, guardContext(), false)
		require.False(t, evaluation.ShouldBlock)
		require.Equal(t, 1, evaluation.Counts[SeverityWarning])
	})

	t.Run("warning blocks when opted in", func(t *testing.T) {
		manager := NewGuardManager(GuardManagerOptions{BlockOnWarning: true})
		evaluation := manager.Evaluate(ctx, []Guard{failingGuard("w", SeverityWarning)}, guardContext(), false)
		require.True(t, evaluation.ShouldBlock)
	})

	t.Run("most severe failing result wins", func(t *testing.T) {
		manager := NewGuardManager(GuardManagerOptions{})
		guards := []Guard{
			failingGuard("first-error", SeverityError),
			failingGuard("second-error", SeverityError),
			failingGuard("critical", SeverityCritical),
		}
		evaluation := manager.Evaluate(ctx, guards, guardContext(), false)
		require.True(t, evaluation.ShouldBlock)
		require.Equal(t, "critical", evaluation.Blocking.GuardName)
	})

	t.Run("severity ties break by evaluation order", func(t *testing.T) {
		manager := NewGuardManager(GuardManagerOptions{})
		guards := []Guard{
			failingGuard("first", SeverityError),
			failingGuard("second", SeverityError),
		}
		evaluation := manager.Evaluate(ctx, guards, guardContext(), false)
		require.Equal(t, "first", evaluation.Blocking.GuardName)
	})

	t.Run("critical short-circuits remaining guards", func(t *testing.T) {
		manager := NewGuardManager(GuardManagerOptions{})
		var calls atomic.Int64
		counted := NewGuardFunction("counted", SeverityError, func(ctx context.Context, ec *ExecutionContext) (*GuardResult, error) {
			calls.Add(1)
			return &GuardResult{Valid: true}, nil
		})
		guards := []Guard{failingGuard("critical", SeverityCritical), counted}
		evaluation := manager.Evaluate(ctx, guards, guardContext(), false)
		require.True(t, evaluation.ShouldBlock)
		require.Len(t, evaluation.Results, 1)
		require.Equal(t, int64(0), calls.Load())
	})

	t.Run("guard error becomes failing result", func(t *testing.T) {
		manager := NewGuardManager(GuardManagerOptions{})
		erroring := NewGuardFunction("exploder", SeverityInfo, func(ctx context.Context, ec *ExecutionContext) (*GuardResult, error) {
			return nil, errors.New("dependency offline")
		})
		evaluation := manager.Evaluate(ctx, []Guard{erroring}, guardContext(), false)
		require.True(t, evaluation.ShouldBlock)
		require.Equal(t, SeverityError, evaluation.Blocking.Severity)
		require.Contains(t, evaluation.Blocking.Message, "dependency offline")
	})

	t.Run("result inherits guard severity", func(t *testing.T) {
		manager := NewGuardManager(GuardManagerOptions{})
		bare := NewGuardFunction("bare", SeverityCritical, func(ctx context.Context, ec *ExecutionContext) (*GuardResult, error) {
			return &GuardResult{Valid: false}, nil
		})
		evaluation := manager.Evaluate(ctx, []Guard{bare}, guardContext(), false)
		require.Equal(t, SeverityCritical, evaluation.Results[0].Severity)
	})
}

func TestGuardManagerCache(t *testing.T) {
	ctx := context.Background()

	countingGuard := func(name string, calls *atomic.Int64) Guard {
		return NewGuardFunction(name, SeverityError, func(ctx context.Context, ec *ExecutionContext) (*GuardResult, error) {
			calls.Add(1)
			return &GuardResult{Valid: true}, nil
		})
	}

	t.Run("cached result reused within ttl", func(t *testing.T) {
		manager := NewGuardManager(GuardManagerOptions{})
		var calls atomic.Int64
		guard := countingGuard("cached", &calls)
		ec := guardContext()

		manager.Evaluate(ctx, []Guard{guard}, ec, true)
		manager.Evaluate(ctx, []Guard{guard}, ec, true)
		require.Equal(t, int64(1), calls.Load())
		require.Equal(t, 1, manager.CacheLen())
	})

	t.Run("useCache false always evaluates", func(t *testing.T) {
		manager := NewGuardManager(GuardManagerOptions{})
		var calls atomic.Int64
		guard := countingGuard("uncached", &calls)
		ec := guardContext()

		manager.Evaluate(ctx, []Guard{guard}, ec, false)
		manager.Evaluate(ctx, []Guard{guard}, ec, false)
		require.Equal(t, int64(2), calls.Load())
		require.Equal(t, 0, manager.CacheLen())
	})

	t.Run("different blocks cache separately", func(t *testing.T) {
		manager := NewGuardManager(GuardManagerOptions{})
		var calls atomic.Int64
		guard := countingGuard("per-block", &calls)
		ec := guardContext()

		manager.Evaluate(ctx, []Guard{guard}, ec, true)
		ec.SetCurrentBlock("other-step")
		manager.Evaluate(ctx, []Guard{guard}, ec, true)
		require.Equal(t, int64(2), calls.Load())
		require.Equal(t, 2, manager.CacheLen())
	})

	t.Run("expired entries re-evaluate", func(t *testing.T) {
		manager := NewGuardManager(GuardManagerOptions{CacheTTL: time.Millisecond})
		var calls atomic.Int64
		guard := countingGuard("expiring", &calls)
		ec := guardContext()

		manager.Evaluate(ctx, []Guard{guard}, ec, true)
		time.Sleep(5 * time.Millisecond)
		manager.Evaluate(ctx, []Guard{guard}, ec, true)
		require.Equal(t, int64(2), calls.Load())
	})

	t.Run("size cap evicts oldest", func(t *testing.T) {
		manager := NewGuardManager(GuardManagerOptions{CacheSize: 2})
		var calls atomic.Int64
		ec := guardContext()
		for _, name := range []string{"g1", "g2", "g3"} {
			manager.Evaluate(ctx, []Guard{countingGuard(name, &calls)}, ec, true)
		}
		require.Equal(t, 2, manager.CacheLen())
	})

	t.Run("clear cache", func(t *testing.T) {
		manager := NewGuardManager(GuardManagerOptions{})
		ec := guardContext()
		manager.Evaluate(ctx, []Guard{passingGuard("g")}, ec, true)
		require.Equal(t, 1, manager.CacheLen())
		manager.ClearCache()
		require.Equal(t, 0, manager.CacheLen())
	})
}
