package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSleep_CompletesAfterDelay(t *testing.T) {
	p := Policy{Base: 10 * time.Millisecond, Max: time.Second}

	start := time.Now()
	if err := Sleep(context.Background(), p, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf("slept %v, expected at least 10ms", elapsed)
	}
}

func TestSleep_CancelledContext(t *testing.T) {
	p := Policy{Base: time.Hour, Max: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := Sleep(ctx, p, 0); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestSleep_ZeroDelay(t *testing.T) {
	p := Policy{Base: 0, Max: 0}

	if err := Sleep(context.Background(), p, 5); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
