package resilience

import (
	"context"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/powlabs/proofwork/internal/errors"
)

// RetryConfig holds configuration for retry behavior
type RetryConfig struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffFactor   float64
	JitterEnabled   bool
	RetryableErrors func(error) bool
}

// DefaultRetryConfig returns sensible defaults for retry behavior
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
		RetryableErrors: func(err error) bool {
			return errors.IsRetryableError(err)
		},
	}
}

// RetryableHTTPFunc represents an HTTP request that can be retried.
type RetryableHTTPFunc func() (*http.Response, error)

// RetryHTTP executes an HTTP request with retry logic. Non-retryable status
// codes are returned as-is; transient statuses (429, 5xx) back off and retry
// up to MaxAttempts.
func RetryHTTP(ctx context.Context, config RetryConfig, fn RetryableHTTPFunc) (*http.Response, error) {
	var lastResp *http.Response
	var lastErr error

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		resp, err := fn()
		if err == nil {
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return resp, nil
			}
			if !isRetryableHTTPStatus(resp.StatusCode) {
				return resp, nil
			}
			resp.Body.Close()
			lastResp = resp
			lastErr = NewHTTPError(resp.StatusCode, resp.Status)
		} else {
			lastErr = err
			if config.RetryableErrors != nil && !config.RetryableErrors(err) {
				return nil, err
			}
		}

		if attempt == config.MaxAttempts-1 {
			break
		}

		delay := calculateDelay(config, attempt)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return lastResp, lastErr
}

// calculateDelay computes the delay for the next retry attempt
func calculateDelay(config RetryConfig, attempt int) time.Duration {
	delay := time.Duration(float64(config.InitialDelay) * math.Pow(config.BackoffFactor, float64(attempt)))

	if delay > config.MaxDelay {
		delay = config.MaxDelay
	}

	// Jitter prevents thundering herd against the upstream API.
	if config.JitterEnabled && delay > 10*time.Millisecond {
		jitter := time.Duration(rand.Int63n(int64(delay / 10)))
		delay += jitter
	}

	return delay
}

// isRetryableHTTPStatus checks if an HTTP status code should trigger a retry
func isRetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	case http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// HTTPError represents an HTTP error with status code
type HTTPError struct {
	StatusCode int
	Status     string
}

func (e *HTTPError) Error() string {
	return e.Status
}

// NewHTTPError creates a new HTTP error
func NewHTTPError(statusCode int, status string) *HTTPError {
	return &HTTPError{StatusCode: statusCode, Status: status}
}
