package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealpipe/dealpipe/internal/retry"
)

// fastConfig keeps test backoff delays negligible.
func fastConfig(maxAttempts int) retry.Config {
	return retry.Config{
		MaxAttempts:  maxAttempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), fastConfig(3), func() error {
		calls++
		if calls < 3 {
			return &retry.HTTPError{StatusCode: 503, URL: "https://feed.example.com"}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestExhaustsAttempts(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), fastConfig(3), func() error {
		calls++
		return &retry.HTTPError{StatusCode: 502, URL: "https://feed.example.com"}
	})

	require.ErrorIs(t, err, retry.ErrMaxAttemptsExceeded)
	assert.Equal(t, 3, calls)
}

func TestNonRetryableFailsImmediately(t *testing.T) {
	calls := 0
	start := time.Now()

	err := retry.Do(context.Background(), fastConfig(5), func() error {
		calls++
		return &retry.HTTPError{StatusCode: 404, URL: "https://feed.example.com"}
	})

	require.Error(t, err)
	assert.NotErrorIs(t, err, retry.ErrMaxAttemptsExceeded)
	assert.Equal(t, 1, calls, "404 must not be retried")
	assert.Less(t, time.Since(start), 50*time.Millisecond, "no backoff should be spent")
}

func TestContextCancellationStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := retry.Do(ctx, fastConfig(10), func() error {
		calls++
		cancel()
		return errors.New("connection refused")
	})

	require.ErrorIs(t, err, retry.ErrContextCancelled)
	assert.Equal(t, 1, calls)
}

func TestOnRetryObservesEachRetry(t *testing.T) {
	var attempts []int

	cfg := fastConfig(3)
	cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		attempts = append(attempts, attempt)
	}

	_ = retry.Do(context.Background(), cfg, func() error {
		return errors.New("i/o timeout")
	})

	assert.Equal(t, []int{1, 2}, attempts, "no callback after the final attempt")
}

func TestDoWithTimeoutCutsOffRetryBudget(t *testing.T) {
	cfg := retry.Config{
		MaxAttempts:  10,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     50 * time.Millisecond,
		Multiplier:   1.0,
	}

	err := retry.DoWithTimeout(context.Background(), cfg, 30*time.Millisecond, func() error {
		return errors.New("connection reset by peer")
	})

	require.ErrorIs(t, err, retry.ErrTimeout)
}

func TestDefaultIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"http 429", &retry.HTTPError{StatusCode: 429}, true},
		{"http 500", &retry.HTTPError{StatusCode: 500}, true},
		{"http 403", &retry.HTTPError{StatusCode: 403}, false},
		{"timeout text", errors.New("dial tcp: i/o timeout"), true},
		{"refused text", errors.New("connection refused"), true},
		{"context canceled", context.Canceled, false},
		{"plain error", errors.New("malformed feed"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, retry.DefaultIsRetryable(tc.err))
		})
	}
}
