package conc

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryOptions configures Retry (spec §4.F: "retry(fn, {delay,
// delayMultiplier, retries, shouldRetry})").
type RetryOptions struct {
	Delay           time.Duration
	DelayMultiplier float64
	Retries         int
	ShouldRetry     func(error) bool
}

// Retry calls fn with exponential backoff, wired to
// github.com/cenkalti/backoff/v4 for the interval math (generalizing the
// pack's own use of the same package for RPC retry). ShouldRetry gates
// whether a given error is retried at all; a nil ShouldRetry retries every
// error.
func Retry(ctx context.Context, fn func() error, opts RetryOptions) error {
	b := backoff.NewExponentialBackOff()
	if opts.Delay > 0 {
		b.InitialInterval = opts.Delay
	}
	if opts.DelayMultiplier > 0 {
		b.Multiplier = opts.DelayMultiplier
	}
	b.MaxElapsedTime = 0 // bounded by Retries, not wall-clock

	var policy backoff.BackOff = b
	if opts.Retries > 0 {
		policy = backoff.WithMaxRetries(b, uint64(opts.Retries))
	}
	policy = backoff.WithContext(policy, ctx)

	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if opts.ShouldRetry != nil && !opts.ShouldRetry(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}
