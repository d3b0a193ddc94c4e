package brew

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	errs "github.com/blackwell-systems/craftbrew/internal/errors"
)

// RetryPolicy bounds retries of transient and lock-held failures.
type RetryPolicy struct {
	// Retries is the number of retries after the first attempt.
	Retries         int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy retries three times starting at two seconds.
var DefaultRetryPolicy = RetryPolicy{
	Retries:         3,
	InitialInterval: 2 * time.Second,
	MaxInterval:     30 * time.Second,
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0

	// WithMaxRetries treats zero as unlimited.
	if p.Retries <= 0 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.Retries)), ctx)
}

// Retry runs fn until it succeeds, returns a non-retryable error, the policy
// is exhausted or ctx is done. It returns the number of attempts made and
// the last error.
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) (int, error) {
	attempts := 0
	op := func() error {
		attempts++
		err := fn(ctx)
		if err != nil && !errs.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(op, policy.backOff(ctx))
	return attempts, err
}
