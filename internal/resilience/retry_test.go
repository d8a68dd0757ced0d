package resilience

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:   attempts,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func response(status int) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(strings.NewReader("")),
	}
}

func TestRetryHTTPSucceedsFirstTry(t *testing.T) {
	calls := 0
	resp, err := RetryHTTP(context.Background(), fastConfig(3), func() (*http.Response, error) {
		calls++
		return response(http.StatusOK), nil
	})

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, calls)
}

func TestRetryHTTPRetriesTransientStatus(t *testing.T) {
	calls := 0
	resp, err := RetryHTTP(context.Background(), fastConfig(3), func() (*http.Response, error) {
		calls++
		if calls < 3 {
			return response(http.StatusServiceUnavailable), nil
		}
		return response(http.StatusOK), nil
	})

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, calls)
}

func TestRetryHTTPDoesNotRetryClientErrors(t *testing.T) {
	calls := 0
	resp, err := RetryHTTP(context.Background(), fastConfig(3), func() (*http.Response, error) {
		calls++
		return response(http.StatusNotFound), nil
	})

	require.NoError(t, err, "non-transient statuses pass through for the caller to classify")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, 1, calls)
}

func TestRetryHTTPExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := RetryHTTP(context.Background(), fastConfig(3), func() (*http.Response, error) {
		calls++
		return response(http.StatusBadGateway), nil
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadGateway, httpErr.StatusCode)
}

func TestRetryHTTPHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := RetryHTTP(ctx, fastConfig(3), func() (*http.Response, error) {
		calls++
		return response(http.StatusOK), nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestCalculateDelayBackoffAndCap(t *testing.T) {
	cfg := RetryConfig{
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      300 * time.Millisecond,
		BackoffFactor: 2.0,
	}

	assert.Equal(t, 100*time.Millisecond, calculateDelay(cfg, 0))
	assert.Equal(t, 200*time.Millisecond, calculateDelay(cfg, 1))
	assert.Equal(t, 300*time.Millisecond, calculateDelay(cfg, 2), "delay is capped at MaxDelay")
}
