package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLimiter_RequestTokens_WithinLimit(t *testing.T) {
	l := New(nil)
	l.Declare(BudgetConfig{Name: "test", Limit: 2, Window: 10 * time.Millisecond})

	ctx := context.Background()
	if err := l.RequestTokens(ctx, "test", "subject-1", PriorityNormal, 1); err != nil {
		t.Fatalf("request 1: %v", err)
	}
	if err := l.RequestTokens(ctx, "test", "subject-1", PriorityNormal, 1); err != nil {
		t.Fatalf("request 2: %v", err)
	}
	if err := l.RequestTokens(ctx, "test", "subject-1", PriorityNormal, 1); !errors.Is(err, ErrRateLimited) {
		t.Errorf("request 3 = %v, want ErrRateLimited", err)
	}
}

func TestLimiter_LazyResetAfterWindow(t *testing.T) {
	l := New(nil)
	l.Declare(BudgetConfig{Name: "test", Limit: 2, Window: 10 * time.Millisecond})

	ctx := context.Background()
	l.RequestTokens(ctx, "test", "subject-1", PriorityNormal, 1)
	l.RequestTokens(ctx, "test", "subject-1", PriorityNormal, 1)

	if err := l.RequestTokens(ctx, "test", "subject-1", PriorityNormal, 1); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected exhausted before reset, got %v", err)
	}

	time.Sleep(25 * time.Millisecond)

	if err := l.RequestTokens(ctx, "test", "subject-1", PriorityNormal, 1); err != nil {
		t.Errorf("expected ok after window reset, got %v", err)
	}
}

func TestLimiter_SubjectsAreIsolated(t *testing.T) {
	l := New(nil)
	l.Declare(BudgetConfig{Name: "test", Limit: 1, Window: time.Second})

	ctx := context.Background()
	if err := l.RequestTokens(ctx, "test", "subject-a", PriorityNormal, 1); err != nil {
		t.Fatalf("subject-a: %v", err)
	}
	if err := l.RequestTokens(ctx, "test", "subject-b", PriorityNormal, 1); err != nil {
		t.Errorf("subject-b should have its own bucket, got %v", err)
	}
}

func TestLimiter_PriorityBoostIncreasesLimit(t *testing.T) {
	l := New(nil)
	l.Declare(BudgetConfig{
		Name:   "test",
		Limit:  1,
		Window: time.Second,
		Priority: map[Priority]float64{
			PriorityHigh: 3,
		},
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := l.RequestTokens(ctx, "test", "subject-1", PriorityHigh, 1); err != nil {
			t.Fatalf("high priority request %d: %v", i, err)
		}
	}
	if err := l.RequestTokens(ctx, "test", "subject-1", PriorityHigh, 1); !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected exhausted after 3x boosted limit, got %v", err)
	}
}

func TestLimiter_UndeclaredBudgetErrors(t *testing.T) {
	l := New(nil)
	if err := l.RequestTokens(context.Background(), "missing", "subject", PriorityNormal, 1); err == nil {
		t.Error("expected error for undeclared budget")
	}
}
