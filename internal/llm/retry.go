package llm

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const maxRetries = 3

// withRetry runs op with exponential backoff on transient provider
// errors. Non-retryable errors abort immediately, as does context
// cancellation.
func withRetry(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 2 * time.Second
	policy.MaxInterval = 30 * time.Second

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, maxRetries), ctx))
}
