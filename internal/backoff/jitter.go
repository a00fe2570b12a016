// Copyright (C) 2024 The Dagu Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package backoff

import (
	"math/rand"
	"time"
)

// JitterFunc perturbs a computed interval to avoid synchronized
// retries across many clients.
type JitterFunc func(interval time.Duration) time.Duration

// FullJitter returns a random duration uniformly distributed in
// [0, interval), per the AWS "full jitter" recommendation.
func FullJitter(interval time.Duration) time.Duration {
	if interval <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(interval)))
}

// jitterPolicy wraps a Policy, applying fn to every computed interval.
type jitterPolicy struct {
	inner Policy
	fn    JitterFunc
}

// WithJitter wraps inner so every non-error interval it computes is
// passed through fn before being used.
func WithJitter(inner Policy, fn JitterFunc) Policy {
	return &jitterPolicy{inner: inner, fn: fn}
}

func (p *jitterPolicy) ComputeNextInterval(retryCount int, lastInterval time.Duration, lastErr error) (time.Duration, error) {
	interval, err := p.inner.ComputeNextInterval(retryCount, lastInterval, lastErr)
	if err != nil {
		return 0, err
	}
	return p.fn(interval), nil
}
