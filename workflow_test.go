package blockflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validDefinition() *WorkflowDefinition {
	return &WorkflowDefinition{
		ID:         "wf",
		StartBlock: "start",
		Blocks: map[string]*BlockDefinition{
			"start": {Type: "noop", OnSuccess: "end"},
			"end":   {Type: "noop"},
		},
	}
}

func TestWorkflowDefinitionValidate(t *testing.T) {
	t.Run("valid definition", func(t *testing.T) {
		require.NoError(t, validDefinition().Validate())
	})

	t.Run("missing id", func(t *testing.T) {
		def := validDefinition()
		def.ID = ""
		require.Error(t, def.Validate())
	})

	t.Run("no blocks", func(t *testing.T) {
		def := &WorkflowDefinition{ID: "wf", StartBlock: "start"}
		require.Error(t, def.Validate())
	})

	t.Run("unknown start block", func(t *testing.T) {
		def := validDefinition()
		def.StartBlock = "nonexistent"
		require.ErrorContains(t, def.Validate(), "start block")
	})

	t.Run("block id defaults to map key", func(t *testing.T) {
		def := validDefinition()
		require.NoError(t, def.Validate())
		require.Equal(t, "start", def.Blocks["start"].ID)
	})

	t.Run("mismatched block id", func(t *testing.T) {
		def := validDefinition()
		def.Blocks["start"].ID = "other"
		require.ErrorContains(t, def.Validate(), "does not match")
	})

	t.Run("missing block type", func(t *testing.T) {
		def := validDefinition()
		def.Blocks["start"].Type = ""
		require.Error(t, def.Validate())
	})

	t.Run("dangling on_success", func(t *testing.T) {
		def := validDefinition()
		def.Blocks["end"].OnSuccess = "ghost"
		require.ErrorContains(t, def.Validate(), "on_success")
	})

	t.Run("dangling on_failure", func(t *testing.T) {
		def := validDefinition()
		def.Blocks["end"].OnFailure = "ghost"
		require.ErrorContains(t, def.Validate(), "on_failure")
	})

	t.Run("guards on unknown block", func(t *testing.T) {
		def := validDefinition()
		guard := NewGuardFunction("g", SeverityError, func(ctx context.Context, ec *ExecutionContext) (*GuardResult, error) {
			return &GuardResult{Valid: true}, nil
		})
		def.AttachBlockGuard("ghost", guard, GuardPhasePre)
		require.ErrorContains(t, def.Validate(), "unknown block")
	})
}

func TestGuardsFor(t *testing.T) {
	def := validDefinition()
	alwaysValid := func(ctx context.Context, ec *ExecutionContext) (*GuardResult, error) {
		return &GuardResult{Valid: true}, nil
	}
	global := NewGuardFunction("global", SeverityError, alwaysValid)
	pre := NewGuardFunction("pre-only", SeverityError, alwaysValid)
	post := NewGuardFunction("post-only", SeverityError, alwaysValid)
	def.AttachGuard(global, GuardPhaseBoth)
	def.AttachBlockGuard("start", pre, GuardPhasePre)
	def.AttachBlockGuard("start", post, GuardPhasePost)

	t.Run("pre phase, global first", func(t *testing.T) {
		guards := def.guardsFor("start", GuardPhasePre)
		require.Len(t, guards, 2)
		require.Equal(t, "global", guards[0].Name())
		require.Equal(t, "pre-only", guards[1].Name())
	})

	t.Run("post phase", func(t *testing.T) {
		guards := def.guardsFor("start", GuardPhasePost)
		require.Len(t, guards, 2)
		require.Equal(t, "global", guards[0].Name())
		require.Equal(t, "post-only", guards[1].Name())
	})

	t.Run("other blocks only see globals", func(t *testing.T) {
		guards := def.guardsFor("end", GuardPhasePre)
		require.Len(t, guards, 1)
		require.Equal(t, "global", guards[0].Name())
	})
}

func TestLoadWorkflow(t *testing.T) {
	t.Run("full definition", func(t *testing.T) {
		def, err := LoadWorkflow([]byte(`
id: pipeline
version: "2"
start_block: fetch
config:
  timeout: 90s
  checkpoint_interval: 5
  retry_policy:
    max_retries: 2
    initial_delay: 250ms
    max_delay: 5s
    multiplier: 2.0
    strategy: exponential
blocks:
  fetch:
    type: http.request
    on_success: store
    on_failure: alert
  store:
    type: set
  alert:
    type: print
`))
		require.NoError(t, err)
		require.Equal(t, "pipeline", def.ID)
		require.Equal(t, "fetch", def.StartBlock)
		require.Equal(t, 90*time.Second, def.Config.Timeout)
		require.Equal(t, 5, def.Config.CheckpointInterval)
		require.Equal(t, 2, def.Config.RetryPolicy.MaxRetries)
		require.Equal(t, 250*time.Millisecond, def.Config.RetryPolicy.InitialDelay)
		require.Equal(t, BackoffExponential, def.Config.RetryPolicy.Strategy)
		require.Equal(t, "store", def.Blocks["fetch"].OnSuccess)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		_, err := LoadWorkflow([]byte("id: [unterminated"))
		require.Error(t, err)
	})

	t.Run("invalid duration", func(t *testing.T) {
		_, err := LoadWorkflow([]byte(`
id: wf
start_block: a
config:
  timeout: soon
blocks:
  a:
    type: noop
`))
		require.ErrorContains(t, err, "timeout")
	})

	t.Run("validation failure", func(t *testing.T) {
		_, err := LoadWorkflow([]byte(`
id: wf
start_block: ghost
blocks:
  a:
    type: noop
`))
		require.ErrorContains(t, err, "start block")
	})
}
