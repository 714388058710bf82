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
	"fmt"
	"math/rand"
	"time"
)

// ErrInvalidPolicy is returned by RetryPolicy.Validate.
var ErrInvalidPolicy = errors.New("invalid retry policy")

// RetryPolicy configures how upstream calls are retried.
//
// # Description
//
// Backoff grows geometrically from InitialBackoff by BackoffFactor, capped
// at MaxBackoff, with +/- JitterFactor random spread. Every attempt runs
// under its own CallTimeout.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int `yaml:"max_attempts"`

	// InitialBackoff is the wait before the second attempt.
	InitialBackoff time.Duration `yaml:"initial_backoff"`

	// MaxBackoff caps the wait between attempts.
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// BackoffFactor multiplies the wait after each attempt.
	BackoffFactor float64 `yaml:"backoff_factor"`

	// JitterFactor randomizes waits by +/- this fraction (0 to 1).
	JitterFactor float64 `yaml:"jitter_factor"`

	// CallTimeout bounds each attempt. Zero means only the parent deadline.
	CallTimeout time.Duration `yaml:"call_timeout"`

	// Sleep waits between attempts. Nil uses a timer. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error `yaml:"-"`
}

// DefaultRetryPolicy returns 3 attempts with 1s, 2s backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
		JitterFactor:   0.2,
		CallTimeout:    60 * time.Second,
	}
}

// Validate checks the policy.
func (p RetryPolicy) Validate() error {
	switch {
	case p.MaxAttempts < 1:
		return fmt.Errorf("%w: max_attempts must be >= 1", ErrInvalidPolicy)
	case p.InitialBackoff < 0:
		return fmt.Errorf("%w: initial_backoff must be >= 0", ErrInvalidPolicy)
	case p.MaxBackoff < p.InitialBackoff:
		return fmt.Errorf("%w: max_backoff must be >= initial_backoff", ErrInvalidPolicy)
	case p.BackoffFactor < 1.0:
		return fmt.Errorf("%w: backoff_factor must be >= 1", ErrInvalidPolicy)
	case p.JitterFactor < 0 || p.JitterFactor > 1:
		return fmt.Errorf("%w: jitter_factor must be in [0,1]", ErrInvalidPolicy)
	case p.CallTimeout < 0:
		return fmt.Errorf("%w: call_timeout must be >= 0", ErrInvalidPolicy)
	}
	return nil
}

// RetryResult describes a finished retry loop.
type RetryResult struct {
	Attempts      int
	TotalDuration time.Duration
	LastError     error
}

// RetryableFunc is one attempt. attempt starts at 1.
type RetryableFunc func(ctx context.Context, attempt int) error

// Retry runs fn until it succeeds, fails permanently or runs out of attempts.
//
// # Description
//
// Each attempt gets a child context limited by CallTimeout. An attempt that
// hits that deadline becomes a retryable TimeoutError. When the parent
// context ends the loop stops at once: a parent deadline is a TimeoutError,
// a cancellation is KindCancelled. Neither is retried.
//
// # Outputs
//
//   - RetryResult: attempts made and elapsed time.
//   - error: nil, or the classified error of the last attempt.
func Retry(ctx context.Context, policy RetryPolicy, fn RetryableFunc) (RetryResult, error) {
	start := time.Now()
	result := RetryResult{}
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	sleep := policy.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	backoff := policy.InitialBackoff

	finish := func(err error) (RetryResult, error) {
		result.LastError = err
		result.TotalDuration = time.Since(start)
		return result, err
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return finish(parentError(err))
		}
		result.Attempts = attempt

		err := runAttempt(ctx, policy.CallTimeout, attempt, fn)
		if err == nil {
			return finish(nil)
		}
		if ctx.Err() != nil {
			return finish(parentError(ctx.Err()))
		}
		if !IsRetryable(err) || attempt == maxAttempts {
			return finish(err)
		}

		if serr := sleep(ctx, jitter(backoff, policy.JitterFactor)); serr != nil {
			return finish(parentError(serr))
		}
		backoff = nextBackoff(backoff, policy.BackoffFactor, policy.MaxBackoff)
	}
	return finish(result.LastError)
}

func runAttempt(ctx context.Context, timeout time.Duration, attempt int, fn RetryableFunc) error {
	actx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	err := fn(actx, attempt)
	if err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) && KindOf(err) != KindTimeout {
		return Timeout(fmt.Errorf("call exceeded %s: %w", timeout, err))
	}
	return err
}

// parentError classifies the end of the caller's context.
func parentError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout(fmt.Errorf("stage deadline exceeded: %w", err))
	}
	return &StageError{Kind: KindCancelled, Err: err}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func jitter(base time.Duration, factor float64) time.Duration {
	if factor <= 0 || base <= 0 {
		return base
	}
	// Jitter in range [-factor, +factor]
	j := (rand.Float64()*2 - 1) * factor
	return time.Duration(float64(base) * (1.0 + j))
}

func nextBackoff(current time.Duration, factor float64, max time.Duration) time.Duration {
	next := time.Duration(float64(current) * factor)
	if next > max {
		return max
	}
	return next
}
