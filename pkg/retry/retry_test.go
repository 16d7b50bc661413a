package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fast = Policy{Factor: 2, MinDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond, MaxTimes: 3}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{Factor: 1.5, MinDelay: time.Second, MaxDelay: 5 * time.Second}
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 1500*time.Millisecond, p.Delay(2))
	assert.Equal(t, 2250*time.Millisecond, p.Delay(3))
	assert.Equal(t, 5*time.Second, p.Delay(10))
	assert.Equal(t, 60*time.Second, ReconnectPolicy.Delay(100))

	unbounded := Policy{Factor: 2, MinDelay: time.Second}
	assert.Equal(t, 8*time.Second, unbounded.Delay(4))
}

func TestPolicy_BackOffStopsAfterMaxTimes(t *testing.T) {
	b := fast.BackOff(context.Background())
	var got []time.Duration
	for d := b.NextBackOff(); d >= 0; d = b.NextBackOff() {
		got = append(got, d)
	}
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond}, got)
}

func TestDo_CanceledBeforeFirstCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, err := Do(ctx, fast, func(ctx context.Context) (int, error) {
		calls++
		return 1, nil
	}, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	var waits []time.Duration
	v, err := Do(context.Background(), fast, func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 7, nil
	}, func(err error, next time.Duration) {
		waits = append(waits, next)
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, waits)
}

func TestDo_Exhausted(t *testing.T) {
	calls := 0
	last := errors.New("still down")
	_, err := Do(context.Background(), fast, func(ctx context.Context) (struct{}, error) {
		calls++
		return struct{}{}, last
	}, nil)
	assert.ErrorIs(t, err, last)
	assert.Equal(t, 1+fast.MaxTimes, calls)
}

func TestDo_Permanent(t *testing.T) {
	notFound := errors.New("not found")
	calls := 0
	_, err := Do(context.Background(), fast, func(ctx context.Context) (int, error) {
		calls++
		return 0, Permanent(fmt.Errorf("group 1: %w", notFound))
	}, nil)
	assert.ErrorIs(t, err, notFound)
	assert.False(t, IsPermanent(err), "Do unwraps the marker")
	assert.Equal(t, 1, calls)

	assert.True(t, IsPermanent(fmt.Errorf("ctx: %w", Permanent(notFound))))
	assert.Nil(t, Permanent(nil))
}

func TestDo_CancelStopsUnbounded(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{Factor: 1, MinDelay: time.Hour}
	calls := 0
	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, p, func(ctx context.Context) (int, error) {
			calls++
			return 0, errors.New("offline")
		}, func(error, time.Duration) { cancel() })
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	case <-time.After(5 * time.Second):
		t.Fatal("Do did not stop after cancel")
	}
}
