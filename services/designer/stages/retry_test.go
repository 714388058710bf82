// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stages

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// fastPolicy retries without sleeping and records requested waits.
func fastPolicy(waits *[]time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
		Sleep: func(ctx context.Context, d time.Duration) error {
			if waits != nil {
				*waits = append(*waits, d)
			}
			return ctx.Err()
		},
	}
}

func TestRetryPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		policy  RetryPolicy
		wantErr bool
	}{
		{"default policy is valid", DefaultRetryPolicy(), false},
		{"zero max attempts is invalid", RetryPolicy{MaxAttempts: 0, BackoffFactor: 2}, true},
		{"max backoff less than initial is invalid", RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Minute, MaxBackoff: time.Second, BackoffFactor: 2}, true},
		{"backoff factor less than 1 is invalid", RetryPolicy{MaxAttempts: 3, BackoffFactor: 0.5}, true},
		{"jitter above 1 is invalid", RetryPolicy{MaxAttempts: 3, BackoffFactor: 1, JitterFactor: 1.5}, true},
		{"negative call timeout is invalid", RetryPolicy{MaxAttempts: 3, BackoffFactor: 1, CallTimeout: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidPolicy) {
				t.Errorf("error %v does not wrap ErrInvalidPolicy", err)
			}
		})
	}
}

func TestRetry_SuccessOnFirstAttempt(t *testing.T) {
	var calls int32
	result, err := Retry(context.Background(), fastPolicy(nil), func(ctx context.Context, attempt int) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Attempts != 1 || calls != 1 {
		t.Errorf("Attempts = %d, calls = %d, want 1/1", result.Attempts, calls)
	}
}

func TestRetry_ExternalErrorsRetriedWithBackoff(t *testing.T) {
	var waits []time.Duration
	result, err := Retry(context.Background(), fastPolicy(&waits), func(ctx context.Context, attempt int) error {
		if attempt < 3 {
			return External(errors.New("503"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", result.Attempts)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(waits) != len(want) || waits[0] != want[0] || waits[1] != want[1] {
		t.Errorf("waits = %v, want %v", waits, want)
	}
}

func TestRetry_AllAttemptsFail(t *testing.T) {
	result, err := Retry(context.Background(), fastPolicy(nil), func(ctx context.Context, attempt int) error {
		return External(errors.New("upstream down"))
	})
	if !errors.Is(err, ErrExternalService) {
		t.Fatalf("err = %v, want external service error", err)
	}
	if result.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", result.Attempts)
	}
	if result.LastError != err {
		t.Errorf("LastError = %v, want %v", result.LastError, err)
	}
}

func TestRetry_ValidationNotRetried(t *testing.T) {
	result, err := Retry(context.Background(), fastPolicy(nil), func(ctx context.Context, attempt int) error {
		return Validationf("unreadable image")
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
	if result.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", result.Attempts)
	}
}

func TestRetry_CallTimeoutBecomesRetryableTimeout(t *testing.T) {
	policy := fastPolicy(nil)
	policy.CallTimeout = 10 * time.Millisecond

	result, err := Retry(context.Background(), policy, func(ctx context.Context, attempt int) error {
		<-ctx.Done()
		return errors.New("request aborted")
	})
	if KindOf(err) != KindTimeout {
		t.Fatalf("KindOf(err) = %q, want timeout (err=%v)", KindOf(err), err)
	}
	if result.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", result.Attempts)
	}
}

func TestRetry_ParentDeadlineIsTimeoutAndStops(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var calls int32
	_, err := Retry(ctx, fastPolicy(nil), func(ctx context.Context, attempt int) error {
		atomic.AddInt32(&calls, 1)
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want timeout", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetry_CancelledStopsImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := Retry(ctx, fastPolicy(nil), func(ctx context.Context, attempt int) error {
		t.Fatal("fn must not run after cancellation")
		return nil
	})
	if KindOf(err) != KindCancelled {
		t.Fatalf("KindOf(err) = %q, want cancelled", KindOf(err))
	}
	if result.Attempts != 0 {
		t.Errorf("Attempts = %d, want 0", result.Attempts)
	}
}

func TestNextBackoff_Capped(t *testing.T) {
	if got := nextBackoff(20*time.Second, 2, 30*time.Second); got != 30*time.Second {
		t.Errorf("nextBackoff = %v, want 30s", got)
	}
}

func TestJitter_WithinBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := jitter(time.Second, 0.2)
		if d < 800*time.Millisecond || d > 1200*time.Millisecond {
			t.Fatalf("jitter = %v outside [0.8s, 1.2s]", d)
		}
	}
}
