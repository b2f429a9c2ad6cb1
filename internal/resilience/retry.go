// Harvester - Game Server Killfeed Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/harvester

// Package resilience provides the generic retry and throttle primitives the
// ingestion pipeline composes around remote calls. Both are explicit
// call-site wrappers: Retry.Do(ctx, fn) and Bucket.Wait(ctx), never implicit
// decoration.
package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retry wraps a fallible operation with bounded exponential backoff.
// The zero value is not usable; construct with NewRetry or DefaultRetry.
type Retry struct {
	maxRetries      uint64
	initialInterval time.Duration
	maxInterval     time.Duration
}

// DefaultRetry matches the retry budget used for remote file operations:
// three attempts beyond the first, starting at one second, capped at thirty.
func DefaultRetry() Retry {
	return NewRetry(3, time.Second, 30*time.Second)
}

// NewRetry creates a retry policy with maxRetries attempts beyond the first,
// exponential backoff starting at initial and capped at maxDelay.
func NewRetry(maxRetries uint64, initial, maxDelay time.Duration) Retry {
	if initial <= 0 {
		initial = time.Second
	}
	if maxDelay < initial {
		maxDelay = initial
	}
	return Retry{
		maxRetries:      maxRetries,
		initialInterval: initial,
		maxInterval:     maxDelay,
	}
}

// Do runs op, retrying transient failures until the budget is exhausted or
// ctx is canceled. The last error is returned on exhaustion; a context
// cancellation aborts the wait promptly. Wrap an error with Permanent to
// stop retrying immediately.
func (r Retry) Do(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.initialInterval
	bo.MaxInterval = r.maxInterval
	bo.MaxElapsedTime = 0 // bounded by attempt count, not wall clock

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, r.maxRetries), ctx)
	return backoff.Retry(op, policy)
}

// DoNotify is Do with a callback invoked before each backoff wait, used to
// log retry attempts with their delay.
func (r Retry) DoNotify(ctx context.Context, op func() error, notify func(err error, next time.Duration)) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.initialInterval
	bo.MaxInterval = r.maxInterval
	bo.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, r.maxRetries), ctx)
	return backoff.RetryNotify(op, policy, notify)
}

// Permanent marks err as non-retryable; Do returns it without further
// attempts. Use for errors where repeating the call cannot help, such as
// authentication failures.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
