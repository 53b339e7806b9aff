package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func fast(opts ...Option) *Retrier {
	return New(append([]Option{WithInitialDelay(time.Microsecond), WithMaxDelay(time.Millisecond), WithJitter(0)}, opts...)...)
}

func TestDo_RetriesOnlyRetryable(t *testing.T) {
	t.Run("plain error is returned at once", func(t *testing.T) {
		calls := 0
		err := fast(WithMaxAttempts(5)).Do(context.Background(), func(context.Context) error {
			calls++
			return errBoom
		})
		assert.Same(t, errBoom, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("retryable error until success", func(t *testing.T) {
		calls := 0
		err := fast(WithMaxAttempts(5)).Do(context.Background(), func(context.Context) error {
			calls++
			if calls < 3 {
				return Retryable(errBoom)
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("exhausted budget returns the unwrapped error", func(t *testing.T) {
		var retries []int
		calls := 0
		err := fast(WithMaxAttempts(3), WithOnRetry(func(attempt int, _ error, _ time.Duration) {
			retries = append(retries, attempt)
		})).Do(context.Background(), func(context.Context) error {
			calls++
			return Retryable(errBoom)
		})
		assert.Same(t, errBoom, err)
		assert.False(t, IsRetryable(err))
		assert.Equal(t, 3, calls)
		assert.Equal(t, []int{1, 2}, retries)
	})
}

func TestDo_PermanentBeatsRetryIf(t *testing.T) {
	calls := 0
	err := fast(WithMaxAttempts(5), WithRetryIf(func(error) bool { return true })).Do(context.Background(), func(context.Context) error {
		calls++
		if calls == 2 {
			return Permanent(errBoom)
		}
		return errors.New("transient")
	})
	assert.Same(t, errBoom, err)
	assert.Equal(t, 2, calls)
}

func TestDo_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := New(WithMaxAttempts(10), WithInitialDelay(time.Hour), WithMaxDelay(time.Hour))

	calls := 0
	err := r.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return Retryable(errBoom)
	})
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, calls)
}

func TestDelay_BackoffIsCapped(t *testing.T) {
	r := New(WithInitialDelay(10*time.Millisecond), WithMaxDelay(50*time.Millisecond), WithJitter(0))

	assert.Equal(t, 10*time.Millisecond, r.delay(1))
	assert.Equal(t, 20*time.Millisecond, r.delay(2))
	assert.Equal(t, 40*time.Millisecond, r.delay(3))
	assert.Equal(t, 50*time.Millisecond, r.delay(4))
}

func TestWrappers_KeepNil(t *testing.T) {
	assert.NoError(t, Retryable(nil))
	assert.NoError(t, Permanent(nil))
	assert.ErrorIs(t, Retryable(errBoom), errBoom)
}
