// Package retry re-runs optimistic writes that lost a race against another
// writer. Only domain.ErrConcurrentWrite is retried; any other error ends the
// loop at once.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/karaqueue/karaqueue/internal/domain"
	"github.com/karaqueue/karaqueue/internal/logger"
)

type Policy struct {
	Attempts int
	Min      time.Duration
	Max      time.Duration
}

func DefaultPolicy() Policy {
	return Policy{Attempts: 5, Min: 100 * time.Millisecond, Max: 200 * time.Millisecond}
}

// backOff waits a random interval in [Min, Max] between attempts.
func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = (p.Min + p.Max) / 2
	b.MaxInterval = p.Max
	b.Multiplier = 1
	b.RandomizationFactor = 0
	if sum := p.Min + p.Max; sum > 0 {
		b.RandomizationFactor = float64(p.Max-p.Min) / float64(sum)
	}
	b.MaxElapsedTime = 0
	return b
}

// Do runs op until it succeeds, fails with a non-retryable error, or has
// been attempted p.Attempts times. Exhausting the attempts yields a
// *domain.TransientError wrapping the last failure.
func Do(ctx context.Context, p Policy, log *logger.Logger, op func(ctx context.Context) error) error {
	if p.Attempts < 1 {
		p.Attempts = 1
	}

	attempts := 0
	operation := func() error {
		attempts++
		err := op(ctx)
		if err == nil || domain.IsConcurrentWrite(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("Concurrent write, retrying",
			logger.Int("attempt", attempts),
			logger.Duration("backoff", wait),
			logger.Err(err))
	}

	b := backoff.WithContext(backoff.WithMaxRetries(p.backOff(), uint64(p.Attempts-1)), ctx)
	err := backoff.RetryNotify(operation, b, notify)
	if err != nil && domain.IsConcurrentWrite(err) {
		return &domain.TransientError{Attempts: attempts, Err: err}
	}
	return err
}
