package source

import (
	"context"
	"github.com/cenkalti/backoff/v4"
	"github.com/hauke96/sigolo/v2"
	"github.com/pkg/errors"
	"net/http"
	"time"
)

const (
	DefaultAttempts   = 3
	DefaultRetryDelay = time.Second
)

// retryableError marks errors after which the same request may succeed when sent again later.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

func isRetryableStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || statusCode == http.StatusGatewayTimeout
}

type retryPolicy struct {
	attempts int
	delay    time.Duration
}

func newRetryPolicy(attempts int, delay time.Duration) retryPolicy {
	if attempts < 1 {
		attempts = 1
	}
	return retryPolicy{attempts: attempts, delay: delay}
}

// do executes the request until it succeeds, fails with a non-retryable error or all attempts are used. Between two
// attempts it waits for the configured delay unless the context is done earlier.
func (p retryPolicy) do(ctx context.Context, name string, request func() error) error {
	attempt := 0
	operation := func() error {
		attempt++
		sigolo.Debugf("Request %s (attempt %d/%d)", name, attempt, p.attempts)

		err := request()
		if err == nil {
			return nil
		}

		var retryable *retryableError
		if !errors.As(err, &retryable) {
			return backoff.Permanent(err)
		}
		return retryable.err
	}

	notify := func(err error, wait time.Duration) {
		sigolo.Debugf("Request %s failed with retryable error, retry after %s: %v", name, wait, err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(p.delay), uint64(p.attempts-1)), ctx)
	err := backoff.RetryNotify(operation, policy, notify)
	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		return errors.Wrapf(ctx.Err(), "Request %s cancelled", name)
	}
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	return errors.Wrapf(err, "Couldn't get a valid response for %s after %d attempts", name, p.attempts)
}
