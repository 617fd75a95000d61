package paypal

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bistrohq/orders-api/internal/domain"
)

// RetryConfig configures exponential backoff for idempotent calls.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Multiplier:  2.0,
	}
}

// retryWithBackoff runs fn until it succeeds, returns a non-retryable error,
// or runs out of attempts. Context cancellation ends the loop immediately
// with the context's error.
func retryWithBackoff[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := cfg.BaseDelay

	for attempt := 0; attempt < attempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if !retryable(err) {
			return zero, err
		}

		if attempt < attempts-1 {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
			backoff = time.Duration(float64(backoff) * cfg.Multiplier)
			if backoff > cfg.MaxDelay {
				backoff = cfg.MaxDelay
			}
		}
	}
	return zero, lastErr
}

// retryable reports transport failures, throttling, expired credentials and
// provider-side errors.
func retryable(err error) bool {
	var gwErr *domain.GatewayError
	if !errors.As(err, &gwErr) {
		return false
	}
	switch code := gwErr.StatusCode; {
	case code == 0:
		return true
	case code == http.StatusTooManyRequests, code == http.StatusUnauthorized:
		return true
	case code >= 500:
		return true
	}
	return false
}
