// Package retry holds the backoff policy shared by every outbound publishing
// step: upload calls, status polling and credential refresh.
package retry

import (
	"context"
	"time"
)

// Policy defines exponential backoff parameters.
// Delay for attempt n is min(BaseDelay * Factor^n, MaxDelay), so consecutive
// delays never decrease.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Factor      float64 // defaults to 2

	// Retryable reports whether an error should be retried. Nil retries every error.
	Retryable func(error) bool
}

// Sleeper waits for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the real Sleeper
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Delay returns the wait before the retry that follows attempt (0-based)
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	factor := p.Factor
	if factor <= 1 {
		factor = 2
	}

	delay := float64(p.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= factor
		if p.MaxDelay > 0 && delay >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}

	d := time.Duration(delay)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Do calls fn until it succeeds, returns a non-retryable error or the
// attempts run out. The last error is returned as-is.
func (p Policy) Do(ctx context.Context, sleep Sleeper, fn func(attempt int) error) error {
	if sleep == nil {
		sleep = Sleep
	}

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		err = fn(attempt)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}
		if serr := sleep(ctx, p.Delay(attempt)); serr != nil {
			return err
		}
	}

	return err
}
