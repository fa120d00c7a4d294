package clock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/marketdata/internal/core/clock"
)

var errBoom = errors.New("boom")

func TestRetryer_DoStopsOnNotRetryable(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	r := &clock.Retryer{Clock: fake, Backoff: clock.DefaultBackoffPolicy(), MaxAttempts: 3}

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return errBoom
	}, func(error) (clock.Classification, time.Duration) {
		return clock.NotRetryable, 0
	})

	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, calls)
	assert.Empty(t, fake.Slept)
}

func TestRetryer_DoUsesBackoffPolicyByDefault(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	policy := clock.NewBackoffPolicy(100*time.Millisecond, time.Second, 2.0, 0)
	r := &clock.Retryer{Clock: fake, Backoff: policy, MaxAttempts: 3}

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return errBoom
	}, func(error) (clock.Classification, time.Duration) {
		return clock.Retryable, 0
	})

	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, 3, calls)
	require.Len(t, fake.Slept, 2)
	assert.Equal(t, 100*time.Millisecond, fake.Slept[0])
	assert.Equal(t, 200*time.Millisecond, fake.Slept[1])
}

func TestRetryer_DoHonorsClassifierDelayOverride(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	policy := clock.NewBackoffPolicy(100*time.Millisecond, time.Second, 2.0, 0)
	r := &clock.Retryer{Clock: fake, Backoff: policy, MaxAttempts: 2}

	calls := 0
	override := 5 * time.Second
	err := r.Do(context.Background(), func() error {
		calls++
		return errBoom
	}, func(error) (clock.Classification, time.Duration) {
		return clock.Retryable, override
	})

	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, 2, calls)
	require.Len(t, fake.Slept, 1)
	assert.Equal(t, override, fake.Slept[0], "an upstream Retry-After override must replace the backoff policy's computed delay")
}

func TestRetryer_DoSucceedsWithoutSleeping(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	r := clock.NewRetryer(fake, 3)

	err := r.Do(context.Background(), func() error {
		return nil
	}, func(error) (clock.Classification, time.Duration) {
		t.Fatal("classifier must not be called on success")
		return clock.NotRetryable, 0
	})

	require.NoError(t, err)
	assert.Empty(t, fake.Slept)
}
