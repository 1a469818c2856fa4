package ingestion

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func fastPolicy(retries int) RetryPolicy {
	return RetryPolicy{
		MaxRetries:     retries,
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
		BackoffFactor:  2.0,
	}
}

func TestRetry(t *testing.T) {
	tests := []struct {
		name         string
		retries      int
		failures     int
		retryable    bool
		wantErr      bool
		wantAttempts int
	}{
		{"succeeds first time", 3, 0, true, false, 1},
		{"succeeds after retries", 3, 2, true, false, 3},
		{"exhausts retries", 2, 10, true, true, 3},
		{"non-retryable stops immediately", 3, 10, false, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			err := Retry(context.Background(), fastPolicy(tt.retries), func() error {
				attempts++
				if attempts <= tt.failures {
					if tt.retryable {
						return NewRetryableError(errors.New("temporary"))
					}
					return errors.New("permanent")
				}
				return nil
			})

			if (err != nil) != tt.wantErr {
				t.Fatalf("Retry() error = %v, wantErr %v", err, tt.wantErr)
			}
			if attempts != tt.wantAttempts {
				t.Errorf("attempts = %d, want %d", attempts, tt.wantAttempts)
			}
		})
	}
}

func TestRetry_ContextCancellation(t *testing.T) {
	policy := RetryPolicy{
		MaxRetries:     5,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
		BackoffFactor:  2.0,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	attempts := 0
	err := Retry(ctx, policy, func() error {
		attempts++
		return NewRetryableError(errors.New("retryable error"))
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt before cancellation, got %d", attempts)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"regular error", errors.New("regular"), false},
		{"retryable error", NewRetryableError(errors.New("retry")), true},
		{"retryable with delay", NewRetryableErrorWithDelay(errors.New("retry"), time.Second), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.expected {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestCalculateBackoff(t *testing.T) {
	policy := RetryPolicy{
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
		BackoffFactor:  2.0,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second},
	}

	for _, tt := range tests {
		if got := calculateBackoff(policy, tt.attempt); got != tt.expected {
			t.Errorf("attempt %d: expected %v, got %v", tt.attempt, tt.expected, got)
		}
	}

	policy.Jitter = true
	for i := 0; i < 20; i++ {
		got := calculateBackoff(policy, 1)
		if got < 1800*time.Millisecond || got > 2200*time.Millisecond {
			t.Fatalf("jittered backoff %v outside +/-10%%", got)
		}
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status     int
		retryAfter string
		wantErr    bool
		retryable  bool
		delay      time.Duration
	}{
		{http.StatusOK, "", false, false, 0},
		{http.StatusNotFound, "", true, false, 0},
		{http.StatusForbidden, "", true, false, 0},
		{http.StatusTooManyRequests, "3", true, true, 3 * time.Second},
		{http.StatusBadGateway, "", true, true, 0},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			resp := &http.Response{StatusCode: tt.status, Header: http.Header{}}
			if tt.retryAfter != "" {
				resp.Header.Set("Retry-After", tt.retryAfter)
			}

			err := classifyStatus(resp)
			if (err != nil) != tt.wantErr {
				t.Fatalf("classifyStatus() = %v, wantErr %v", err, tt.wantErr)
			}
			if IsRetryable(err) != tt.retryable {
				t.Errorf("retryable = %v, want %v", IsRetryable(err), tt.retryable)
			}
			var re *RetryableError
			if errors.As(err, &re) && re.RetryAfter != tt.delay {
				t.Errorf("retry after = %v, want %v", re.RetryAfter, tt.delay)
			}
		})
	}
}
