package secretly

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

// DefaultStoreTimeout bounds every store round trip made by this package
const DefaultStoreTimeout = 5 * time.Second

// DefaultRetryBackoff is the pause before retrying a read that hit ErrStoreUnavailable
const DefaultRetryBackoff = 100 * time.Millisecond

// withTimeout runs fn under a deadline derived from ctx. A deadline hit is
// reported as ErrStoreUnavailable so callers can tell it apart from a miss.
func withTimeout(ctx context.Context, d time.Duration, op string, fn func(ctx context.Context) error) error {
	if d <= 0 {
		d = DefaultStoreTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	err := fn(ctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !IsRetryable(err) {
		return Unavailable(op, err)
	}
	return err
}

// RetryOnce runs fn and, if it fails with ErrStoreUnavailable, runs it one
// more time after backoff. Any other error is returned immediately.
func RetryOnce(ctx context.Context, backoff time.Duration, fn func(ctx context.Context) error) error {
	b := retry.WithMaxRetries(1, retry.NewConstant(backoff))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if IsRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}
