package rpc

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/0xNedAlbo/duncan-scanner/internal/common"
	"github.com/0xNedAlbo/duncan-scanner/internal/config"
)

func testRetryConfig() *config.RetryConfig {
	cfg := &config.RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    common.NewDuration(time.Millisecond),
		MaxBackoff:        common.NewDuration(5 * time.Millisecond),
		BackoffMultiplier: 2.0,
	}
	return cfg
}

func TestRetryableError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retriable bool
	}{
		{
			name:      "nil error",
			err:       nil,
			retriable: false,
		},
		{
			name:      "rate limit",
			err:       errors.New("429 Too Many Requests"),
			retriable: true,
		},
		{
			name:      "timeout",
			err:       errors.New("request timeout"),
			retriable: true,
		},
		{
			name:      "deadline",
			err:       errors.New("context deadline exceeded"),
			retriable: true,
		},
		{
			name:      "bad gateway",
			err:       errors.New("502 bad gateway"),
			retriable: true,
		},
		{
			name:      "service unavailable",
			err:       errors.New("503 service unavailable"),
			retriable: true,
		},
		{
			name:      "auth failure",
			err:       errors.New("401 unauthorized: invalid api key"),
			retriable: false,
		},
		{
			name:      "malformed request",
			err:       errors.New("invalid argument 0: hex string without 0x prefix"),
			retriable: false,
		},
		{
			name:      "range limit handled elsewhere",
			err:       errors.New("query returned more than 10000 results"),
			retriable: false,
		},
		{
			name:      "fatal wrapper",
			err:       &fatalError{err: errors.New("timeout")},
			retriable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.retriable, retryableError(tt.err))
		})
	}
}

func TestCalculateBackoff(t *testing.T) {
	cfg := &config.RetryConfig{
		MaxAttempts:       10,
		InitialBackoff:    common.NewDuration(100 * time.Millisecond),
		MaxBackoff:        common.NewDuration(time.Second),
		BackoffMultiplier: 2.0,
	}

	// First attempt has no backoff
	require.Equal(t, time.Duration(0), calculateBackoff(1, cfg))

	// Subsequent attempts stay within jittered bounds and under the cap
	for attempt := 2; attempt <= 10; attempt++ {
		d := calculateBackoff(attempt, cfg)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.LessOrEqual(t, d, time.Duration(float64(cfg.MaxBackoff.Duration)*1.25))
	}
}

func TestRetryWithBackoff_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := retryWithBackoff(context.Background(), testRetryConfig(), "test", func() error {
		calls++
		if calls < 3 {
			return errors.New("503 service unavailable")
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestRetryWithBackoff_FatalFailsImmediately(t *testing.T) {
	calls := 0
	err := retryWithBackoff(context.Background(), testRetryConfig(), "test", func() error {
		calls++
		return errors.New("401 unauthorized")
	})

	require.Error(t, err)
	require.Equal(t, 1, calls)
	require.Contains(t, err.Error(), "non-retryable")
}

func TestRetryWithBackoff_RangeLimitSurfacesUntouched(t *testing.T) {
	rangeErr := errors.New("query returned more than 10000 results")
	calls := 0
	err := retryWithBackoff(context.Background(), testRetryConfig(), "test", func() error {
		calls++
		return rangeErr
	})

	require.Equal(t, 1, calls)
	require.Equal(t, rangeErr, err)
}

func TestRetryWithBackoff_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := retryWithBackoff(context.Background(), testRetryConfig(), "test", func() error {
		calls++
		return errors.New("request timeout")
	})

	require.Error(t, err)
	require.Equal(t, 3, calls)
	require.Contains(t, err.Error(), "all 3 attempts failed")
}

func TestRetryWithBackoff_NilConfigExecutesOnce(t *testing.T) {
	calls := 0
	err := retryWithBackoff(context.Background(), nil, "test", func() error {
		calls++
		return fmt.Errorf("503 service unavailable")
	})

	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := retryWithBackoff(ctx, testRetryConfig(), "test", func() error {
		calls++
		return nil
	})

	require.Error(t, err)
	require.Equal(t, 0, calls)
	require.Contains(t, err.Error(), "context cancelled")
}
