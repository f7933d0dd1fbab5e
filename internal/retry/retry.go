package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/loykin/psicash/internal/common"
)

// Config holds configuration for request retries.
type Config struct {
	MaxRetries    int           `mapstructure:"max_retries" yaml:"max_retries"`       // Retries after the first attempt
	InitialDelay  time.Duration `mapstructure:"initial_delay" yaml:"initial_delay"`   // Delay before the first retry
	MaxDelay      time.Duration `mapstructure:"max_delay" yaml:"max_delay"`           // Maximum delay between retries
	BackoffFactor float64       `mapstructure:"backoff_factor" yaml:"backoff_factor"` // Multiplier for exponential backoff
}

// DefaultRetryConfig retries a transient server fault exactly once.
func DefaultRetryConfig() *Config {
	return &Config{
		MaxRetries:    1,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// transientError marks an error as eligible for another attempt.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient wraps err so WithRetry will try the operation again.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err (or anything it wraps) was marked Transient.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// calculateDelay calculates the delay before the given retry using exponential backoff
func (rc *Config) calculateDelay(retry int) time.Duration {
	if retry <= 0 {
		return rc.InitialDelay
	}

	delay := time.Duration(float64(rc.InitialDelay) * math.Pow(rc.BackoffFactor, float64(retry-1)))
	if delay > rc.MaxDelay {
		delay = rc.MaxDelay
	}
	return delay
}

// Operation is one attempt of a retryable request. attempt is 1-based.
type Operation func(attempt int) error

// WithRetry runs op until it succeeds, returns a non-transient error, or the
// retry budget is spent. The error of the final attempt is returned wrapped;
// it still satisfies IsTransient when the budget ran out on a transient fault.
func WithRetry(ctx context.Context, config *Config, op Operation) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	logger := common.GetLogger().WithComponent("request-retry")

	var lastErr error
	for retry := 0; retry <= config.MaxRetries; retry++ {
		attempt := retry + 1
		err := op(attempt)
		if err == nil {
			if retry > 0 {
				logger.Info("request succeeded after retry", "attempt", attempt)
			}
			return nil
		}

		lastErr = err

		if !IsTransient(err) {
			logger.Debug("request failed with non-retryable error", "error", err, "attempt", attempt)
			return err
		}

		if retry == config.MaxRetries {
			break
		}

		delay := config.calculateDelay(retry + 1)
		logger.Warn("request failed, retrying",
			"error", err,
			"attempt", attempt,
			"max_attempts", config.MaxRetries+1,
			"retry_delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("operation cancelled during retry: %w", ctx.Err())
		case <-timer.C:
		}
	}

	logger.Warn("request failed after all retry attempts", "error", lastErr, "attempts", config.MaxRetries+1)
	return fmt.Errorf("operation failed after %d attempts: %w", config.MaxRetries+1, lastErr)
}
