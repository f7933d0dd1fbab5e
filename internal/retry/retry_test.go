package retry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func fastConfig(maxRetries int) *Config {
	return &Config{
		MaxRetries:    maxRetries,
		InitialDelay:  1 * time.Millisecond,
		MaxDelay:      10 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxRetries != 1 {
		t.Errorf("Expected MaxRetries to be 1, got %d", config.MaxRetries)
	}
	if config.InitialDelay != 500*time.Millisecond {
		t.Errorf("Expected InitialDelay to be 500ms, got %v", config.InitialDelay)
	}
	if config.MaxDelay != 5*time.Second {
		t.Errorf("Expected MaxDelay to be 5s, got %v", config.MaxDelay)
	}
	if config.BackoffFactor != 2.0 {
		t.Errorf("Expected BackoffFactor to be 2.0, got %f", config.BackoffFactor)
	}
}

func TestTransient(t *testing.T) {
	base := errors.New("server error 503")

	if Transient(nil) != nil {
		t.Error("Transient(nil) should be nil")
	}
	if IsTransient(base) {
		t.Error("plain error should not be transient")
	}
	wrapped := Transient(base)
	if !IsTransient(wrapped) {
		t.Error("Transient error should be transient")
	}
	if !errors.Is(wrapped, base) {
		t.Error("Transient should unwrap to the original error")
	}
	if wrapped.Error() != base.Error() {
		t.Errorf("Transient changed message: %q", wrapped.Error())
	}
}

func TestConfig_calculateDelay(t *testing.T) {
	config := &Config{InitialDelay: 100 * time.Millisecond, MaxDelay: 1 * time.Second, BackoffFactor: 2.0}

	tests := []struct {
		retry    int
		expected time.Duration
	}{
		{-1, 100 * time.Millisecond},
		{0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, 1 * time.Second},
	}

	for _, tt := range tests {
		if got := config.calculateDelay(tt.retry); got != tt.expected {
			t.Errorf("calculateDelay(%d) = %v, expected %v", tt.retry, got, tt.expected)
		}
	}
}

func TestWithRetry_Success(t *testing.T) {
	var attempts []int
	err := WithRetry(context.Background(), fastConfig(1), func(attempt int) error {
		attempts = append(attempts, attempt)
		return nil
	})
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if len(attempts) != 1 || attempts[0] != 1 {
		t.Errorf("Expected a single attempt numbered 1, got %v", attempts)
	}
}

func TestWithRetry_TransientThenSuccess(t *testing.T) {
	var attempts []int
	err := WithRetry(context.Background(), fastConfig(1), func(attempt int) error {
		attempts = append(attempts, attempt)
		if attempt == 1 {
			return Transient(errors.New("server error 500"))
		}
		return nil
	})
	if err != nil {
		t.Errorf("Expected no error after retry, got %v", err)
	}
	if len(attempts) != 2 || attempts[1] != 2 {
		t.Errorf("Expected attempts [1 2], got %v", attempts)
	}
}

func TestWithRetry_NonTransientNotRetried(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastConfig(3), func(attempt int) error {
		calls++
		return errors.New("connection refused")
	})
	if err == nil || err.Error() != "connection refused" {
		t.Errorf("Expected original error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected operation to be called once, got %d", calls)
	}
}

func TestWithRetry_BudgetExhausted(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastConfig(1), func(attempt int) error {
		calls++
		return Transient(errors.New("server error 502"))
	})
	if err == nil {
		t.Fatal("Expected error after max retries, got nil")
	}
	if calls != 2 {
		t.Errorf("Expected operation to be called 2 times, got %d", calls)
	}
	if !IsTransient(err) {
		t.Error("exhausted error should still be transient")
	}
	if !strings.Contains(err.Error(), "operation failed after 2 attempts") {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestWithRetry_ContextCanceled(t *testing.T) {
	config := &Config{
		MaxRetries:    5,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 2.0,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := WithRetry(ctx, config, func(attempt int) error {
		return Transient(errors.New("server error 500"))
	})
	if err == nil {
		t.Fatal("Expected error due to context cancellation, got nil")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	if IsTransient(err) {
		t.Error("cancellation should not be reported as transient")
	}
}

func TestWithRetry_NilConfig(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), nil, func(attempt int) error {
		calls++
		return nil
	})
	if err != nil || calls != 1 {
		t.Errorf("nil config: err=%v calls=%d", err, calls)
	}
}
