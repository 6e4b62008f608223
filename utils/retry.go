package utils

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RetryConfig holds the parameters for the retry strategy.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Logger      *zap.SugaredLogger

	// ShouldRetry optionally restricts which errors are retried.
	// When nil, every error is retried until MaxAttempts is exhausted.
	ShouldRetry func(err error) bool
}

// Do executes fn with exponential back-off retry logic. Context cancellation
// stops the loop between attempts.
func (r *RetryConfig) Do(ctx context.Context, operationName string, fn func() error) error {
	var lastErr error
	delay := r.BaseDelay

	for attempt := 1; attempt <= r.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if r.ShouldRetry != nil && !r.ShouldRetry(lastErr) {
			return fmt.Errorf("%s failed: %w", operationName, lastErr)
		}

		if attempt < r.MaxAttempts {
			r.Logger.Warnf("[retry] %s failed (attempt %d/%d): %v — retrying in %v",
				operationName, attempt, r.MaxAttempts, lastErr, delay)

			select {
			case <-ctx.Done():
				return fmt.Errorf("%s aborted: %w", operationName, ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, r.MaxAttempts, lastErr)
}
