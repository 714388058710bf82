// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ttl expires abandoned design sessions.
//
// # Policy
//
//   - Idle and terminal sessions expire SessionTTL after their last update.
//   - Sessions still in an active status expire ActiveTTL after their last
//     update, which only happens when a task is stuck.
//
// Expired sessions are removed through the orchestrator so a running task is
// cancelled before its record disappears.
package ttl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/DesignAgent/services/designer/datatypes"
	"github.com/AleutianAI/DesignAgent/services/designer/observability"
)

// ErrAlreadyRunning is returned by Start on a running scheduler.
var ErrAlreadyRunning = errors.New("scheduler is already running")

// SessionSource lists and deletes sessions. *agent.Orchestrator
// implements it.
type SessionSource interface {
	List(ctx context.Context) ([]datatypes.Session, error)
	Delete(ctx context.Context, id string) error
}

// Config controls the sweep.
type Config struct {
	// Interval between sweeps. Default: 10 minutes.
	Interval time.Duration `yaml:"interval"`

	// SessionTTL is the lifetime of idle and finished sessions after their
	// last update. Default: 2 hours.
	SessionTTL time.Duration `yaml:"session_ttl"`

	// ActiveTTL is the lifetime of sessions still running after their last
	// update. Default: 6 hours.
	ActiveTTL time.Duration `yaml:"active_ttl"`
}

// DefaultConfig returns the default sweep policy.
func DefaultConfig() Config {
	return Config{
		Interval:   10 * time.Minute,
		SessionTTL: 2 * time.Hour,
		ActiveTTL:  6 * time.Hour,
	}
}

// WithDefaults fills zero or negative fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = d.SessionTTL
	}
	if c.ActiveTTL <= 0 {
		c.ActiveTTL = d.ActiveTTL
	}
	return c
}

// Expired reports whether s is past its lifetime at now.
func (c Config) Expired(s datatypes.Session, now time.Time) bool {
	last := s.UpdatedAt
	if last.IsZero() {
		last = s.CreatedAt
	}
	ttl := c.SessionTTL
	if s.Status.IsActive() {
		ttl = c.ActiveTTL
	}
	return now.Sub(last) >= ttl
}

// SweepError is a session the sweep could not delete.
type SweepError struct {
	SessionID string
	Err       error
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	StartTime time.Time
	EndTime   time.Time
	Scanned   int
	Expired   int
	Deleted   int
	Errors    []SweepError
}

// Duration returns how long the sweep took.
func (r SweepResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// Scheduler runs the sweep on an interval.
//
// # Thread Safety
//
// Start, Stop and RunNow are safe for concurrent use. Sweeps started by
// RunNow may overlap with scheduled ones; deleting an already deleted
// session is reported as an error and is otherwise harmless.
type Scheduler struct {
	source  SessionSource
	config  Config
	metrics *observability.Metrics
	logger  *slog.Logger
	clock   func() time.Time

	mu      sync.Mutex
	running bool
	done    chan struct{}
	stopped chan struct{}
}

// NewScheduler creates a stopped scheduler. metrics and logger may be nil.
func NewScheduler(source SessionSource, cfg Config, metrics *observability.Metrics, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		source:  source,
		config:  cfg.WithDefaults(),
		metrics: metrics,
		logger:  logger,
		clock:   time.Now,
	}
}

// WithClock replaces the time source. Tests only.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	if now != nil {
		s.clock = now
	}
	return s
}

// Start runs a sweep now and then every Interval until Stop or ctx ends.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	s.running = true
	s.done = make(chan struct{})
	s.stopped = make(chan struct{})

	s.logger.Info("Session TTL sweep starting",
		slog.String("interval", s.config.Interval.String()),
		slog.String("session_ttl", s.config.SessionTTL.String()),
		slog.String("active_ttl", s.config.ActiveTTL.String()))

	go s.runLoop(ctx, s.done, s.stopped)
	return nil
}

// Stop ends the loop and waits for an in-flight sweep to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.done)
	stopped := s.stopped
	s.mu.Unlock()

	<-stopped
	s.logger.Info("Session TTL sweep stopped")
	return nil
}

// RunNow performs one sweep synchronously.
func (s *Scheduler) RunNow(ctx context.Context) (SweepResult, error) {
	return s.sweep(ctx)
}

func (s *Scheduler) runLoop(ctx context.Context, done, stopped chan struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.execute(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			s.execute(ctx)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context) {
	result, err := s.sweep(ctx)
	if err != nil {
		s.logger.Error("Session TTL sweep failed", slog.String("error", err.Error()))
		return
	}
	if result.Expired > 0 {
		s.logger.Info("Session TTL sweep completed",
			slog.Int("scanned", result.Scanned),
			slog.Int("expired", result.Expired),
			slog.Int("deleted", result.Deleted),
			slog.Int("errors", len(result.Errors)),
			slog.Int64("duration_ms", result.Duration().Milliseconds()))
	} else {
		s.logger.Debug("Session TTL sweep completed (nothing expired)", slog.Int("scanned", result.Scanned))
	}
}

func (s *Scheduler) sweep(ctx context.Context) (SweepResult, error) {
	result := SweepResult{StartTime: s.clock()}

	sessions, err := s.source.List(ctx)
	if err != nil {
		return result, fmt.Errorf("list sessions: %w", err)
	}
	result.Scanned = len(sessions)

	now := s.clock()
	for _, sess := range sessions {
		if !s.config.Expired(sess, now) {
			continue
		}
		result.Expired++
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := s.source.Delete(ctx, sess.ID); err != nil {
			result.Errors = append(result.Errors, SweepError{SessionID: sess.ID, Err: err})
			s.logger.Warn("Failed to expire session",
				slog.String("session_id", sess.ID),
				slog.String("error", err.Error()))
			continue
		}
		result.Deleted++
		s.logger.Debug("Session expired",
			slog.String("session_id", sess.ID),
			slog.String("status", sess.Status.String()))
	}

	s.metrics.SessionsExpired(result.Deleted)
	result.EndTime = s.clock()
	return result, nil
}
