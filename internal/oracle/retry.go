package oracle

import (
	"context"
	"time"

	"github.com/bowerhall/tally/internal/logger"
)

const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = time.Second
)

// RetryPolicy retries a call a bounded number of times with a fixed delay.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultMaxAttempts, Delay: DefaultRetryDelay}
}

// Do runs fn until it succeeds, attempts run out, or ctx is done. It returns
// the last error from fn.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		logger.Warn("oracle call failed, retrying", "attempt", attempt, "max", attempts, "error", err)

		select {
		case <-ctx.Done():
			return err
		case <-time.After(p.Delay):
		}
	}

	return err
}
