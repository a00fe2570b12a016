// Copyright (C) 2024 The Dagu Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package backoff

import (
	"context"
	"time"
)

// Operation is a unit of work Retry attempts, possibly more than once.
type Operation func(ctx context.Context) error

// IsRetriable decides whether an error returned by Operation should be
// retried. A nil IsRetriable treats every error as retriable.
type IsRetriable func(err error) bool

// Retry runs op, and on error, waits the interval policy computes
// before trying again, until op succeeds, ctx is done, the error is
// judged non-retriable, or policy's retry budget is exhausted (in
// which case the original operation error is returned, not
// ErrRetriesExhausted).
func Retry(ctx context.Context, op Operation, policy Policy, isRetriable IsRetriable) error {
	var lastInterval time.Duration
	for retryCount := 0; ; retryCount++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if isRetriable != nil && !isRetriable(err) {
			return err
		}

		interval, pErr := policy.ComputeNextInterval(retryCount, lastInterval, err)
		if pErr != nil {
			return err
		}
		lastInterval = interval

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
