package backoff

import (
	"context"
	"time"
)

// Sleep blocks for the policy's delay at the given attempt, returning early
// with the context's error if it is cancelled first.
func Sleep(ctx context.Context, p Policy, attempt int) error {
	d := p.Delay(attempt)
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
