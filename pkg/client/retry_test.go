package client

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fastPolicy keeps the per-class shape with millisecond backoffs.
var fastPolicy = scaledPolicy(3, 10*time.Millisecond)

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", config.MaxAttempts)
	}
	if config.InitialBackoff != 1*time.Second {
		t.Errorf("InitialBackoff = %v, want 1s", config.InitialBackoff)
	}
	if config.MaxBackoff != 30*time.Second {
		t.Errorf("MaxBackoff = %v, want 30s", config.MaxBackoff)
	}
	if config.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %v, want 2.0", config.BackoffMultiplier)
	}
}

func TestRetryConfigForErrorClass(t *testing.T) {
	tests := []struct {
		name            string
		errorClass      ErrorClass
		expectedInitial time.Duration
		expectedMax     time.Duration
	}{
		{name: "server error config", errorClass: ErrorClassServer, expectedInitial: 1 * time.Second, expectedMax: 10 * time.Second},
		{name: "rate limit config", errorClass: ErrorClassRateLimit, expectedInitial: 5 * time.Second, expectedMax: 60 * time.Second},
		{name: "network error config", errorClass: ErrorClassNetwork, expectedInitial: 2 * time.Second, expectedMax: 30 * time.Second},
		{name: "unknown error class uses default", errorClass: "", expectedInitial: 1 * time.Second, expectedMax: 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := RetryConfigForErrorClass(tt.errorClass)

			if config.InitialBackoff != tt.expectedInitial {
				t.Errorf("InitialBackoff = %v, want %v", config.InitialBackoff, tt.expectedInitial)
			}
			if config.MaxBackoff != tt.expectedMax {
				t.Errorf("MaxBackoff = %v, want %v", config.MaxBackoff, tt.expectedMax)
			}
			if config.MaxAttempts != 3 {
				t.Errorf("MaxAttempts = %d, want 3", config.MaxAttempts)
			}
		})
	}
}

func TestScaledPolicy(t *testing.T) {
	policy := scaledPolicy(5, 100*time.Millisecond)

	server := policy(ErrorClassServer)
	if server.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", server.MaxAttempts)
	}
	if server.InitialBackoff != 100*time.Millisecond || server.MaxBackoff != time.Second {
		t.Errorf("server backoff = %v..%v, want 100ms..1s", server.InitialBackoff, server.MaxBackoff)
	}

	rl := policy(ErrorClassRateLimit)
	if rl.InitialBackoff != 500*time.Millisecond {
		t.Errorf("rate limit InitialBackoff = %v, want 500ms", rl.InitialBackoff)
	}

	unchanged := scaledPolicy(0, 0)(ErrorClassNetwork)
	if unchanged != RetryConfigForErrorClass(ErrorClassNetwork) {
		t.Errorf("zero overrides changed the config: %+v", unchanged)
	}
}

func TestRetryWithBackoff_Success(t *testing.T) {
	callCount := 0
	err := retryWithBackoff(context.Background(), func() error {
		callCount++
		return nil
	}, func(error) ErrorClass { return ErrorClassServer })

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call, got %d", callCount)
	}
}

func TestRetryWithPolicy_SuccessAfterRetry(t *testing.T) {
	callCount := 0
	err := retryWithPolicy(context.Background(), fastPolicy, func() error {
		callCount++
		if callCount < 3 {
			return errors.New("temporary error")
		}
		return nil
	}, func(error) ErrorClass { return ErrorClassServer })

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("Expected 3 calls, got %d", callCount)
	}
}

func TestRetryWithPolicy_MaxAttemptsExhausted(t *testing.T) {
	callCount := 0
	testErr := errors.New("persistent error")
	err := retryWithPolicy(context.Background(), fastPolicy, func() error {
		callCount++
		return testErr
	}, func(error) ErrorClass { return ErrorClassServer })

	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("Expected ErrRetryExhausted, got %v", err)
	}
	if !errors.Is(err, testErr) {
		t.Errorf("Expected the last error to be wrapped, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("Expected 3 calls (MaxAttempts), got %d", callCount)
	}
}

func TestRetryWithPolicy_ClientErrorNoRetry(t *testing.T) {
	callCount := 0
	testErr := errors.New("client error")
	err := retryWithPolicy(context.Background(), fastPolicy, func() error {
		callCount++
		return testErr
	}, func(error) ErrorClass { return ErrorClassClient })

	if callCount != 1 {
		t.Errorf("Expected 1 call (no retry for client errors), got %d", callCount)
	}
	if errors.Is(err, ErrRetryExhausted) {
		t.Error("Should not return ErrRetryExhausted for client errors")
	}
	if !errors.Is(err, testErr) {
		t.Errorf("Expected original error, got %v", err)
	}
}

func TestRetryWithPolicy_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	callCount := 0
	err := retryWithPolicy(ctx, RetryConfigForErrorClass, func() error {
		callCount++
		if callCount == 1 {
			cancel()
		}
		return errors.New("error")
	}, func(error) ErrorClass { return ErrorClassServer })

	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("Expected ErrContextCancelled, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call before cancellation, got %d", callCount)
	}
}

func TestRetryWithPolicy_ClassPerAttempt(t *testing.T) {
	// A network failure followed by a client error stops at the client error.
	errs := []error{
		errors.New("connection reset"),
		&APIError{StatusCode: 404, ErrorClass: ErrorClassClient},
		nil,
	}
	callCount := 0
	err := retryWithPolicy(context.Background(), fastPolicy, func() error {
		e := errs[callCount]
		callCount++
		return e
	}, classifyError)

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 404 {
		t.Errorf("Expected 404 APIError, got %v", err)
	}
	if callCount != 2 {
		t.Errorf("Expected 2 calls, got %d", callCount)
	}
}

func TestRetryWithPolicy_ExponentialBackoff(t *testing.T) {
	policy := scaledPolicy(3, 50*time.Millisecond)

	var timestamps []time.Time
	_ = retryWithPolicy(context.Background(), policy, func() error {
		timestamps = append(timestamps, time.Now())
		return errors.New("error")
	}, func(error) ErrorClass { return ErrorClassServer })

	if len(timestamps) != 3 {
		t.Fatalf("Expected 3 timestamps, got %d", len(timestamps))
	}

	// ±20% jitter around 50ms, then 100ms.
	firstDelay := timestamps[1].Sub(timestamps[0])
	secondDelay := timestamps[2].Sub(timestamps[1])
	if firstDelay < 40*time.Millisecond {
		t.Errorf("First retry delay %v below jitter range", firstDelay)
	}
	if secondDelay < 80*time.Millisecond {
		t.Errorf("Second retry delay %v below jitter range", secondDelay)
	}
}

func TestRetryWithPolicy_MaxBackoffCap(t *testing.T) {
	policy := func(ErrorClass) RetryConfig {
		return RetryConfig{
			MaxAttempts:       4,
			InitialBackoff:    20 * time.Millisecond,
			MaxBackoff:        25 * time.Millisecond,
			BackoffMultiplier: 10.0,
		}
	}

	var timestamps []time.Time
	_ = retryWithPolicy(context.Background(), policy, func() error {
		timestamps = append(timestamps, time.Now())
		return errors.New("error")
	}, func(error) ErrorClass { return ErrorClassServer })

	if len(timestamps) != 4 {
		t.Fatalf("Expected 4 timestamps, got %d", len(timestamps))
	}
	// Capped at 25ms +20% jitter; an uncapped third wait would be 2s.
	if last := timestamps[3].Sub(timestamps[2]); last > 500*time.Millisecond {
		t.Errorf("Backoff not capped: %v", last)
	}
}
