// Copyright (C) 2024 The Dagu Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	op := func(_ context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	}

	err := Retry(context.Background(), op, NewConstantBackoffPolicy(5*time.Millisecond), nil)
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_NonRetriableErrorStopsImmediately(t *testing.T) {
	permanent := errors.New("permanent")
	attempts := 0
	op := func(_ context.Context) error {
		attempts++
		return permanent
	}
	isRetriable := func(err error) bool { return err != permanent }

	err := Retry(context.Background(), op, NewConstantBackoffPolicy(5*time.Millisecond), isRetriable)
	assert.Equal(t, permanent, err)
	assert.Equal(t, 1, attempts)
}

func TestRetry_ContextCanceledBeforeFirstAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	op := func(ctx context.Context) error { return ctx.Err() }
	err := Retry(ctx, op, NewConstantBackoffPolicy(5*time.Millisecond), nil)
	assert.Equal(t, context.Canceled, err)
}

func TestRetry_RetriesExhaustedReturnsOriginalError(t *testing.T) {
	testErr := errors.New("never succeeds")
	attempts := 0
	op := func(_ context.Context) error {
		attempts++
		return testErr
	}

	policy := NewConstantBackoffPolicy(time.Millisecond)
	policy.MaxRetries = 3
	err := Retry(context.Background(), op, policy, nil)

	assert.Equal(t, testErr, err)
	assert.Equal(t, 4, attempts)
}

func TestExponentialBackoffPolicy_CapsAtMaxInterval(t *testing.T) {
	policy := &ExponentialBackoffPolicy{
		InitialInterval: time.Second,
		BackoffFactor:   2.0,
		MaxInterval:     3 * time.Second,
		MaxRetries:      10,
	}

	cases := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 3 * time.Second},
		{3, 3 * time.Second},
	}
	for _, c := range cases {
		got, err := policy.ComputeNextInterval(c.retryCount, 0, nil)
		assert.NoError(t, err)
		assert.Equal(t, c.want, got)
	}
}

func TestWithJitter_StaysWithinBounds(t *testing.T) {
	base := NewConstantBackoffPolicy(100 * time.Millisecond)
	jittered := WithJitter(base, FullJitter)

	for i := 0; i < 20; i++ {
		got, err := jittered.ComputeNextInterval(0, 0, nil)
		assert.NoError(t, err)
		assert.GreaterOrEqual(t, got, time.Duration(0))
		assert.Less(t, got, 100*time.Millisecond)
	}
}
