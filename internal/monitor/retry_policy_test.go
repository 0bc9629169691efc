package monitor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFixedRetryPolicyDefaults(t *testing.T) {
	t.Parallel()

	p := NewFixedRetryPolicy(0, 0)
	require.Equal(t, 3, p.MaxAttempts())
	require.Equal(t, 3*time.Second, p.Delay())
}

func TestFixedRetryPolicyTransientErrors(t *testing.T) {
	t.Parallel()

	p := NewFixedRetryPolicy(3, time.Millisecond)
	err := errors.New("connection reset")
	require.True(t, p.ShouldRetry(err, 1))
	require.True(t, p.ShouldRetry(err, 2))
	require.False(t, p.ShouldRetry(err, 3))
	require.False(t, p.ShouldRetry(nil, 1))
}

func TestFixedRetryPolicyTerminalErrors(t *testing.T) {
	t.Parallel()

	p := NewFixedRetryPolicy(5, time.Millisecond)
	for _, err := range []error{
		context.Canceled,
		ErrNotFound,
		ErrSessionBackoff,
		fmt.Errorf("fetch: %w", ErrNotFound),
		fmt.Errorf("browser: %w", ErrSessionBackoff),
	} {
		require.False(t, p.ShouldRetry(err, 1), "%v", err)
	}
}

func TestFixedRetryPolicyTimeoutsAreRetryable(t *testing.T) {
	t.Parallel()

	p := NewFixedRetryPolicy(3, time.Millisecond)
	require.True(t, p.ShouldRetry(context.DeadlineExceeded, 1))
	// The net/http client timeout error matches context.DeadlineExceeded.
	require.True(t, p.ShouldRetry(
		fmt.Errorf("Get \"https://shop/a\": %w (Client.Timeout exceeded while awaiting headers)", context.DeadlineExceeded), 2))
}
