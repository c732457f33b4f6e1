package internal

import (
	"context"
	"fmt"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"time"
)

// RetryFixed runs op until it succeeds, at most attempts times, waiting delay between attempts.
// It is meant for bootstrap connections only; message processing never retries in-process.
// Returning backoff.Permanent(err) from op stops the loop early.
func RetryFixed(ctx context.Context, name string, attempts int, delay time.Duration, op func() error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var b backoff.BackOff = backoff.NewConstantBackOff(delay)
	b = backoff.WithMaxRetries(b, uint64(attempts-1))
	b = backoff.WithContext(b, ctx)

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		return op()
	}, b, func(err error, wait time.Duration) {
		zap.S().Warnf("%s failed (attempt %d/%d): %s. Retrying in %s", name, attempt, attempts, err, wait)
	})
	if err != nil {
		return fmt.Errorf("%s failed after %d attempts: %w", name, attempt, err)
	}
	return nil
}
