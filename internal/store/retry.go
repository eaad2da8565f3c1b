package store

import (
	"context"
	"fmt"
	"time"

	logx "botrelay/pkg/logx"
)

// RetryPolicy is a fixed-delay retry applied at the store boundary. It exists
// so connection resilience lives in exactly one place instead of per call
// site.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// DefaultConnectRetry matches the historical connect behavior:
// five attempts, two seconds apart.
var DefaultConnectRetry = RetryPolicy{Attempts: 5, Delay: 2 * time.Second}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
	return p
}

// Do runs fn until it succeeds, attempts are exhausted, or ctx is done.
// The last error is returned wrapped with the operation name.
func (p RetryPolicy) Do(ctx context.Context, log logx.Logger, op string, fn func(ctx context.Context) error) error {
	p = p.normalized()

	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == p.Attempts {
			break
		}
		if !log.IsZero() {
			log.Warn("retrying after failure",
				logx.String("op", op),
				logx.Int("attempt", attempt),
				logx.Duration("delay", p.Delay),
				logx.Err(lastErr))
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(p.Delay):
		}
	}
	return fmt.Errorf("%s: %w", op, lastErr)
}
