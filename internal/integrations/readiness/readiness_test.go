package readiness

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fast = Config{InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, Timeout: time.Second}

func TestWaitForBecomesReady(t *testing.T) {
	calls := 0
	err := WaitFor(context.Background(), fast, func(context.Context) (bool, error) {
		calls++
		return calls >= 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWaitForTransientErrorsKeepPolling(t *testing.T) {
	calls := 0
	err := WaitFor(context.Background(), fast, func(context.Context) (bool, error) {
		calls++
		if calls == 1 {
			return false, errors.New("404")
		}
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestWaitForPermanentStops(t *testing.T) {
	boom := errors.New("bad credentials")
	calls := 0
	err := WaitFor(context.Background(), fast, func(context.Context) (bool, error) {
		calls++
		return false, Permanent(boom)
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestWaitForTimesOut(t *testing.T) {
	cfg := Config{InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, Timeout: 30 * time.Millisecond}
	err := WaitFor(context.Background(), cfg, func(context.Context) (bool, error) {
		return false, nil
	})
	require.ErrorIs(t, err, ErrNotReady)
}

func TestWaitForHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WaitFor(ctx, fast, func(context.Context) (bool, error) {
		return false, nil
	})
	require.ErrorIs(t, err, context.Canceled)
}
