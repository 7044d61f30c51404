package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"forgelet/internal/llm"
)

type mockCompleter struct {
	completeFn func(ctx context.Context, req llm.Request) (string, error)
}

func (m *mockCompleter) Complete(ctx context.Context, req llm.Request) (string, error) {
	return m.completeFn(ctx, req)
}

func acceptAll(string) error { return nil }

func testTiers() []Tier {
	return []Tier{
		{Name: "premium", Model: "model-a", MaxTokens: 8192, Timeout: time.Second},
		{Name: "standard", Model: "model-b", MaxTokens: 4000, Timeout: time.Second},
		{Name: "large", Model: "model-c", MaxTokens: 16000, Timeout: time.Second},
	}
}

func TestRun_FirstTierWins(t *testing.T) {
	completer := &mockCompleter{
		completeFn: func(ctx context.Context, req llm.Request) (string, error) {
			return "output from " + req.Model, nil
		},
	}

	res, err := New(completer, nil).Run(context.Background(), testTiers(), Prompt{User: "hi"}, acceptAll)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Tier != "premium" {
		t.Errorf("Tier = %q, want premium", res.Tier)
	}
	if res.Output != "output from model-a" {
		t.Errorf("Output = %q", res.Output)
	}
	if len(res.Attempts) != 1 {
		t.Errorf("Attempts = %d, want 1", len(res.Attempts))
	}
}

func TestRun_FallsThroughOnError(t *testing.T) {
	var calls []string
	completer := &mockCompleter{
		completeFn: func(ctx context.Context, req llm.Request) (string, error) {
			calls = append(calls, req.Model)
			if req.Model != "model-c" {
				return "", fmt.Errorf("backend unavailable")
			}
			return "ok", nil
		},
	}

	res, err := New(completer, nil).Run(context.Background(), testTiers(), Prompt{User: "hi"}, acceptAll)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Tier != "large" {
		t.Errorf("Tier = %q, want large", res.Tier)
	}
	want := []string{"model-a", "model-b", "model-c"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, calls[i], want[i])
		}
	}
	if len(res.Attempts) != 3 {
		t.Errorf("Attempts = %d, want 3", len(res.Attempts))
	}
	if res.Attempts[0].Valid || res.Attempts[1].Valid || !res.Attempts[2].Valid {
		t.Errorf("attempt validity flags wrong: %+v", res.Attempts)
	}
}

func TestRun_ValidationFailureAdvances(t *testing.T) {
	completer := &mockCompleter{
		completeFn: func(ctx context.Context, req llm.Request) (string, error) {
			if req.Model == "model-a" {
				return "truncated garbage", nil
			}
			return "complete output", nil
		},
	}
	validate := func(output string) error {
		if strings.Contains(output, "garbage") {
			return fmt.Errorf("incomplete")
		}
		return nil
	}

	res, err := New(completer, nil).Run(context.Background(), testTiers(), Prompt{User: "hi"}, validate)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Tier != "standard" {
		t.Errorf("Tier = %q, want standard", res.Tier)
	}
	if res.Attempts[0].Err == "" {
		t.Error("first attempt should record the validation error")
	}
}

func TestRun_AllTiersExhausted(t *testing.T) {
	completer := &mockCompleter{
		completeFn: func(ctx context.Context, req llm.Request) (string, error) {
			return "", fmt.Errorf("down")
		},
	}

	_, err := New(completer, nil).Run(context.Background(), testTiers(), Prompt{User: "hi"}, acceptAll)
	if !errors.Is(err, ErrNoValidOutput) {
		t.Fatalf("err = %v, want ErrNoValidOutput", err)
	}

	var ex *ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("err = %T, want *ExhaustedError", err)
	}
	if len(ex.Attempts) != 3 {
		t.Errorf("recorded %d attempts, want 3", len(ex.Attempts))
	}
}

func TestRun_PerAttemptTimeout(t *testing.T) {
	tiers := []Tier{
		{Name: "slow", Model: "model-slow", Timeout: 20 * time.Millisecond},
		{Name: "fast", Model: "model-fast", Timeout: time.Second},
	}
	completer := &mockCompleter{
		completeFn: func(ctx context.Context, req llm.Request) (string, error) {
			if req.Model == "model-slow" {
				<-ctx.Done()
				return "", ctx.Err()
			}
			return "ok", nil
		},
	}

	start := time.Now()
	res, err := New(completer, nil).Run(context.Background(), tiers, Prompt{User: "hi"}, acceptAll)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Tier != "fast" {
		t.Errorf("Tier = %q, want fast", res.Tier)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("slow tier's timeout leaked into the run: took %v", elapsed)
	}
}

func TestRun_ParentContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	completer := &mockCompleter{
		completeFn: func(ctx context.Context, req llm.Request) (string, error) {
			t.Fatal("completer should not be called after cancellation")
			return "", nil
		},
	}

	_, err := New(completer, nil).Run(ctx, testTiers(), Prompt{User: "hi"}, acceptAll)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestRun_NoTiers(t *testing.T) {
	completer := &mockCompleter{completeFn: func(context.Context, llm.Request) (string, error) { return "", nil }}
	if _, err := New(completer, nil).Run(context.Background(), nil, Prompt{}, acceptAll); err == nil {
		t.Fatal("expected error for empty tier list")
	}
}
