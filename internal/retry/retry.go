// Package retry re-runs idempotent store reads that failed with storage_unavailable.
// Mutations must never go through it: a failed increment is unknown-state.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tokenmeter/tokenmeter/internal/apperr"
)

// Policy bounds how often and how fast a read is retried.
type Policy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy retries twice, starting at 50ms.
var DefaultPolicy = Policy{
	MaxRetries:      2,
	InitialInterval: 50 * time.Millisecond,
	MaxInterval:     500 * time.Millisecond,
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxInterval = p.MaxInterval
	eb.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(eb, p.MaxRetries), ctx)
}

// Read runs op, retrying only while it returns a storage_unavailable error.
// Any other error (including not-found style results) is returned immediately.
func Read[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	return backoff.RetryWithData(func() (T, error) {
		v, err := op(ctx)
		if err != nil && !apperr.Is(err, apperr.KindStorageUnavailable) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, p.backOff(ctx))
}

// StartupPolicy waits for a backing store that is still coming up.
var StartupPolicy = Policy{
	MaxRetries:      5,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     5 * time.Second,
}

// Do runs op until it succeeds or the policy is exhausted. Every error is retried.
func Do(ctx context.Context, p Policy, op func(context.Context) error) error {
	return backoff.Retry(func() error { return op(ctx) }, p.backOff(ctx))
}
