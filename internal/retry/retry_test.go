package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDoStopsOnFirstSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Fixed(3, 0), func(ctx context.Context, attempt int) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	sentinel := errors.New("boom")
	calls := 0
	err := Do(context.Background(), Fixed(3, 0), func(ctx context.Context, attempt int) error {
		require.Equal(t, calls, attempt)
		calls++
		return sentinel
	})
	require.Error(t, err)
	require.ErrorIs(t, err, sentinel)
	require.Equal(t, 3, calls)
}

func TestDoRespectsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Fixed(5, time.Hour), func(ctx context.Context, attempt int) error {
		calls++
		cancel()
		return errors.New("transient")
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestLinearBackoffGrows(t *testing.T) {
	p := Linear(4, 10*time.Millisecond)
	require.Equal(t, 10*time.Millisecond, p.Backoff(0))
	require.Equal(t, 30*time.Millisecond, p.Backoff(2))
}
