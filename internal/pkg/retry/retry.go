// Package retry provides a bounded retry combinator for optimistic writes.
package retry

import (
	"context"
	"errors"
	"time"

	back "github.com/cenkalti/backoff/v4"
)

// ErrExhausted is returned when every attempt reported a retryable failure.
var ErrExhausted = errors.New("retry attempts exhausted")

// ErrRetry is returned by an attempt to ask for another try.
var ErrRetry = errors.New("retry")

// Policy bounds a retry loop.
type Policy struct {
	Attempts int
	Backoff  time.Duration
	// MaxBackoff caps exponential growth; zero keeps the backoff constant.
	MaxBackoff time.Duration
}

// Do runs fn until it returns something other than ErrRetry, or until the
// attempts are used up. Exhaustion returns ErrExhausted.
func Do(ctx context.Context, p Policy, fn func(attempt int) error) error {
	attempt := 0
	err := back.Retry(func() error {
		err := fn(attempt)
		attempt++
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrRetry):
			return err
		default:
			return back.Permanent(err)
		}
	}, p.backOff(ctx))

	if errors.Is(err, ErrRetry) {
		return ErrExhausted
	}
	return err
}

func (p Policy) backOff(ctx context.Context) back.BackOff {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var b back.BackOff
	switch {
	case p.Backoff <= 0:
		b = &back.ZeroBackOff{}
	case p.MaxBackoff > 0:
		bf := back.NewExponentialBackOff()
		bf.InitialInterval = p.Backoff
		bf.MaxInterval = p.MaxBackoff
		bf.MaxElapsedTime = 0
		b = bf
	default:
		b = back.NewConstantBackOff(p.Backoff)
	}
	return back.WithContext(back.WithMaxRetries(b, uint64(attempts-1)), ctx)
}
