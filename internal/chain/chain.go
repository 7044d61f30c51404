// Package chain runs one prompt against an ordered list of model tiers until
// a tier produces output that passes the caller's validator.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"forgelet/internal/llm"
)

// ErrNoValidOutput is returned when every tier has been exhausted without a
// validated result.
var ErrNoValidOutput = errors.New("no tier produced valid output")

// Tier is one (model, token budget) configuration in the chain.
type Tier struct {
	Name      string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// Attempt records the outcome of a single tier invocation.
type Attempt struct {
	Tier     string        `json:"tier"`
	Model    string        `json:"model"`
	Duration time.Duration `json:"duration"`
	Err      string        `json:"error,omitempty"`
	Valid    bool          `json:"valid"`
}

// Result is a validated output plus the tier that produced it and the full
// attempt history, including failed attempts.
type Result struct {
	Output   string
	Tier     string
	Attempts []Attempt
}

// ExhaustedError wraps ErrNoValidOutput with the attempt history so the
// dispatcher can attach it to the failed task's diagnostic.
type ExhaustedError struct {
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%v after %d attempts", ErrNoValidOutput, len(e.Attempts))
}

func (e *ExhaustedError) Unwrap() error { return ErrNoValidOutput }

// Validator judges raw model output. A nil error means the output is
// acceptable and the chain stops.
type Validator func(output string) error

// Chain executes tiers in order against a single prompt.
type Chain struct {
	completer llm.Completer
	logger    *slog.Logger
}

// New creates a Chain backed by the given completer.
func New(completer llm.Completer, logger *slog.Logger) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{completer: completer, logger: logger}
}

// Prompt is the fixed part of a chain run; only the tier varies per attempt.
type Prompt struct {
	System      string
	User        string
	Temperature float64
}

// Run walks the tiers in order. Each attempt gets its own timeout derived
// from ctx; a slow earlier tier never eats into a later tier's budget. A
// remote error or a failed validation advances to the next tier. When all
// tiers are exhausted, Run returns an *ExhaustedError.
func (c *Chain) Run(ctx context.Context, tiers []Tier, p Prompt, validate Validator) (*Result, error) {
	if len(tiers) == 0 {
		return nil, errors.New("chain: no tiers configured")
	}

	attempts := make([]Attempt, 0, len(tiers))
	for _, tier := range tiers {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		output, att := c.attempt(ctx, tier, p)
		if att.Err == "" {
			if err := validate(output); err != nil {
				att.Err = fmt.Sprintf("validation: %v", err)
			} else {
				att.Valid = true
			}
		}
		attempts = append(attempts, att)

		if att.Valid {
			c.logger.Info("tier produced valid output",
				"tier", tier.Name, "model", tier.Model, "attempts", len(attempts))
			return &Result{Output: output, Tier: tier.Name, Attempts: attempts}, nil
		}
		c.logger.Warn("tier failed, advancing",
			"tier", tier.Name, "model", tier.Model, "error", att.Err)
	}

	return nil, &ExhaustedError{Attempts: attempts}
}

func (c *Chain) attempt(ctx context.Context, tier Tier, p Prompt) (string, Attempt) {
	att := Attempt{Tier: tier.Name, Model: tier.Model}

	timeout := tier.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	output, err := c.completer.Complete(attemptCtx, llm.Request{
		Model:       tier.Model,
		System:      p.System,
		User:        p.User,
		MaxTokens:   tier.MaxTokens,
		Temperature: p.Temperature,
	})
	att.Duration = time.Since(start)
	if err != nil {
		att.Err = err.Error()
	}
	return output, att
}
