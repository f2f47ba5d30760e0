package blockflow

import (
	"fmt"
	"math"
	"time"

	"gopkg.in/yaml.v3"
)

// BackoffStrategy maps a retry attempt number to a wait duration.
type BackoffStrategy string

const (
	BackoffImmediate   BackoffStrategy = "immediate"
	BackoffFixed       BackoffStrategy = "fixed"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
)

// RetryPolicy is an immutable retry configuration value.
type RetryPolicy struct {
	MaxRetries   int             `json:"max_retries" yaml:"max_retries"`
	InitialDelay time.Duration   `json:"initial_delay,omitempty" yaml:"initial_delay,omitempty"`
	MaxDelay     time.Duration   `json:"max_delay,omitempty" yaml:"max_delay,omitempty"`
	Multiplier   float64         `json:"multiplier,omitempty" yaml:"multiplier,omitempty"`
	Strategy     BackoffStrategy `json:"strategy,omitempty" yaml:"strategy,omitempty"`
}

// DefaultRetryPolicy returns the policy used when a workflow does not
// configure one: three retries with exponential backoff from 1s to 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Strategy:     BackoffExponential,
	}
}

// UnmarshalYAML accepts delays as strings like "500ms" or "1m".
func (p *RetryPolicy) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		MaxRetries   int             `yaml:"max_retries"`
		InitialDelay string          `yaml:"initial_delay"`
		MaxDelay     string          `yaml:"max_delay"`
		Multiplier   float64         `yaml:"multiplier"`
		Strategy     BackoffStrategy `yaml:"strategy"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	initialDelay, err := parseOptionalDuration(raw.InitialDelay)
	if err != nil {
		return fmt.Errorf("invalid initial_delay: %w", err)
	}
	maxDelay, err := parseOptionalDuration(raw.MaxDelay)
	if err != nil {
		return fmt.Errorf("invalid max_delay: %w", err)
	}
	*p = RetryPolicy{
		MaxRetries:   raw.MaxRetries,
		InitialDelay: initialDelay,
		MaxDelay:     maxDelay,
		Multiplier:   raw.Multiplier,
		Strategy:     raw.Strategy,
	}
	return nil
}

// IsZero reports whether the policy is unset.
func (p RetryPolicy) IsZero() bool {
	return p == RetryPolicy{}
}

// Delay computes the backoff before the given attempt. Attempts are 1-based:
// attempt 1 is the first retry. Delays are capped at MaxDelay when it is set.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	var delay time.Duration
	switch p.Strategy {
	case BackoffImmediate:
		return 0
	case BackoffFixed:
		delay = p.InitialDelay
	case BackoffLinear:
		delay = p.InitialDelay * time.Duration(attempt)
	case BackoffExponential:
		multiplier := p.Multiplier
		if multiplier <= 0 {
			multiplier = 2.0
		}
		delay = time.Duration(float64(p.InitialDelay) * math.Pow(multiplier, float64(attempt-1)))
	default:
		delay = p.InitialDelay
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}
