package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errTransient = errors.New("transient")
	errFatal     = errors.New("fatal")
)

// instant records requested delays and fires immediately.
func instant(slept *[]time.Duration) func(time.Duration) <-chan time.Time {
	return func(d time.Duration) <-chan time.Time {
		*slept = append(*slept, d)
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}
}

func TestDoSucceedsAfterRetries(t *testing.T) {
	var slept []time.Duration
	cfg := Config{MaxAttempts: 4, InitialDelay: 100 * time.Millisecond, Multiplier: 2, after: instant(&slept)}

	calls := 0
	err := Do(context.Background(), cfg, func(context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, slept)
}

func TestDoExhaustsAttempts(t *testing.T) {
	var slept []time.Duration
	cfg := Config{MaxAttempts: 3, after: instant(&slept)}

	calls := 0
	err := Do(context.Background(), cfg, func(context.Context) error {
		calls++
		return errTransient
	})

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls)
	assert.Len(t, slept, 2)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	var slept []time.Duration
	cfg := Config{MaxAttempts: 5, RetryableErrors: []error{errTransient}, after: instant(&slept)}

	calls := 0
	err := Do(context.Background(), cfg, func(context.Context) error {
		calls++
		return errFatal
	})

	assert.ErrorIs(t, err, errFatal)
	assert.Equal(t, 1, calls)
	assert.Empty(t, slept)
}

func TestDoRetryablePredicate(t *testing.T) {
	var slept []time.Duration
	cfg := Config{
		MaxAttempts: 3,
		Retryable:   func(err error) bool { return errors.Is(err, errFatal) },
		after:       instant(&slept),
	}
	calls := 0
	_ = Do(context.Background(), cfg, func(context.Context) error {
		calls++
		return errFatal
	})
	assert.Equal(t, 3, calls)
}

func TestDoContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, Config{}, func(context.Context) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}

func TestDoWithResult(t *testing.T) {
	var slept []time.Duration
	calls := 0
	got, err := DoWithResult(context.Background(), Config{after: instant(&slept)}, func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errTransient
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}

func TestAddJitterBounds(t *testing.T) {
	base := time.Second
	for i := 0; i < 100; i++ {
		d := addJitter(base, 0.1)
		assert.GreaterOrEqual(t, d, 900*time.Millisecond)
		assert.LessOrEqual(t, d, 1100*time.Millisecond)
	}
	assert.Equal(t, base, addJitter(base, 0))
}
