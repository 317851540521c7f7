// Bounded retry for client-side network calls. Loads, sends and read-marks
// all share the same shape: a small fixed attempt count with a backoff
// between attempts, failing visibly once the budget is spent.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy describes how often and with what delay an operation is retried.
type Policy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
}

// Fixed returns a policy with the same delay between every attempt.
func Fixed(attempts int, delay time.Duration) Policy {
	return Policy{
		MaxAttempts: attempts,
		Backoff:     func(int) time.Duration { return delay },
	}
}

// Linear returns a policy whose delay grows by step per attempt
// (step, 2*step, 3*step, ...).
func Linear(attempts int, step time.Duration) Policy {
	return Policy{
		MaxAttempts: attempts,
		Backoff:     func(attempt int) time.Duration { return time.Duration(attempt+1) * step },
	}
}

// Do runs op until it succeeds, the policy is exhausted, or ctx is done.
// The attempt number passed to op starts at 0. The last error is returned
// wrapped with the attempt count.
func Do(ctx context.Context, p Policy, op func(ctx context.Context, attempt int) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx, attempt)
		if lastErr == nil {
			return nil
		}

		if attempt == p.MaxAttempts-1 {
			break
		}

		delay := time.Duration(0)
		if p.Backoff != nil {
			delay = p.Backoff(attempt)
		}
		if delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return fmt.Errorf("after %d attempts: %w", p.MaxAttempts, lastErr)
}
