// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agent drives design sessions through the analyze, plan, shop and
// design stages.
//
// # Description
//
// The Orchestrator owns one goroutine per started session. That goroutine is
// the only writer of its session; API handlers read snapshots through the
// session store. Deleting a session cancels its goroutine before the record
// is removed.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/DesignAgent/services/designer/datatypes"
	"github.com/AleutianAI/DesignAgent/services/designer/events"
	"github.com/AleutianAI/DesignAgent/services/designer/imagestore"
	"github.com/AleutianAI/DesignAgent/services/designer/observability"
	"github.com/AleutianAI/DesignAgent/services/designer/session"
	"github.com/AleutianAI/DesignAgent/services/designer/stages"
	"github.com/AleutianAI/DesignAgent/services/designer/telemetry"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrAlreadyStarted is returned by Start when the session has a running
	// task or has left the idle status.
	ErrAlreadyStarted = errors.New("already started")

	// ErrNotReady is returned by Results before the session completed.
	ErrNotReady = errors.New("not ready")

	// ErrClosed is returned after Shutdown.
	ErrClosed = errors.New("orchestrator is shut down")

	// ErrInvalidOptions is returned by New for unusable options.
	ErrInvalidOptions = errors.New("invalid orchestrator options")
)

// NotReadyError carries the status of a session whose results were asked
// for too early. It matches ErrNotReady.
type NotReadyError struct {
	SessionID string
	Status    datatypes.Status
}

// Error implements error.
func (e *NotReadyError) Error() string {
	return fmt.Sprintf("results for session %s are not ready (status: %s)", e.SessionID, e.Status)
}

// Is reports whether target is ErrNotReady.
func (e *NotReadyError) Is(target error) bool {
	return target == ErrNotReady
}

// =============================================================================
// Options
// =============================================================================

const (
	// DefaultStageTimeout bounds a stage without an explicit timeout.
	DefaultStageTimeout = 5 * time.Minute

	// DefaultStopTimeout bounds how long Delete waits for a task to exit.
	DefaultStopTimeout = 10 * time.Second

	// writeTimeout bounds every status write made by a task.
	writeTimeout = 5 * time.Second
)

// ImageRemover deletes stored images by name prefix.
type ImageRemover interface {
	DeletePrefix(ctx context.Context, prefix string) error
}

// Options configures an Orchestrator.
type Options struct {
	// Store holds the sessions. Required.
	Store session.Store

	// Executors are the four stages in pipeline order. Required.
	Executors []stages.Executor

	// Images removes a session's images on Delete. Optional.
	Images ImageRemover

	// Hub receives every snapshot a task writes. Optional.
	Hub *events.Hub

	// Metrics records pipeline metrics. Optional.
	Metrics *observability.Metrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Clock defaults to time.Now.
	Clock func() time.Time

	// StageTimeouts are per-stage deadlines. Missing stages use
	// DefaultStageTimeout.
	StageTimeouts map[datatypes.StageName]time.Duration

	// StopTimeout bounds how long Delete waits for a cancelled task.
	StopTimeout time.Duration

	// MessageLimit is how many messages Status returns. Zero means
	// datatypes.DefaultMessageLimit.
	MessageLimit int
}

// =============================================================================
// Orchestrator
// =============================================================================

// task is the registry entry of a running pipeline.
type task struct {
	cancel  context.CancelFunc
	done    chan struct{}
	deleted bool
}

// Orchestrator runs design pipelines.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Orchestrator struct {
	store         session.Store
	executors     []stages.Executor
	images        ImageRemover
	hub           *events.Hub
	metrics       *observability.Metrics
	logger        *slog.Logger
	clock         func() time.Time
	stageTimeouts map[datatypes.StageName]time.Duration
	stopTimeout   time.Duration
	messageLimit  int

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu       sync.Mutex
	tasks    map[string]*task
	deleting map[string]int
	closed   bool
	wg       sync.WaitGroup
}

// New validates opts and returns an idle orchestrator.
//
// # Description
//
// Executors must name the stages analyze, plan, shop and design in that
// order. Every write of a status goes through the transition table in
// datatypes, so an executor list in any other order could never complete.
//
// # Outputs
//
//   - *Orchestrator: Ready to Start sessions.
//   - error: ErrInvalidOptions when Store or the executors are unusable.
func New(opts Options) (*Orchestrator, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidOptions)
	}
	want := datatypes.Stages()
	if len(opts.Executors) != len(want) {
		return nil, fmt.Errorf("%w: expected %d executors, got %d", ErrInvalidOptions, len(want), len(opts.Executors))
	}
	for i, ex := range opts.Executors {
		if ex == nil || ex.Stage() != want[i] {
			return nil, fmt.Errorf("%w: executor %d must be the %s stage", ErrInvalidOptions, i, want[i])
		}
	}

	timeouts := make(map[datatypes.StageName]time.Duration, len(want))
	for _, st := range want {
		timeouts[st] = DefaultStageTimeout
		if d, ok := opts.StageTimeouts[st]; ok && d > 0 {
			timeouts[st] = d
		}
	}

	o := &Orchestrator{
		store:         opts.Store,
		executors:     append([]stages.Executor(nil), opts.Executors...),
		images:        opts.Images,
		hub:           opts.Hub,
		metrics:       opts.Metrics,
		logger:        opts.Logger,
		clock:         opts.Clock,
		stageTimeouts: timeouts,
		stopTimeout:   opts.StopTimeout,
		messageLimit:  opts.MessageLimit,
		tasks:         make(map[string]*task),
		deleting:      make(map[string]int),
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.clock == nil {
		o.clock = time.Now
	}
	if o.stopTimeout <= 0 {
		o.stopTimeout = DefaultStopTimeout
	}
	if o.messageLimit <= 0 {
		o.messageLimit = datatypes.DefaultMessageLimit
	}
	o.baseCtx, o.baseCancel = context.WithCancel(context.Background())
	return o, nil
}

// Create registers a new idle session for an uploaded image.
func (o *Orchestrator) Create(ctx context.Context, id string, image datatypes.ImageRef) (datatypes.Session, error) {
	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return datatypes.Session{}, ErrClosed
	}

	s, err := o.store.Create(ctx, id, image)
	if err != nil {
		return datatypes.Session{}, err
	}
	o.refreshLiveSessions(ctx)
	o.logger.Info("Session created", slog.String("session_id", id), slog.String("image", image.Path))
	return s, nil
}

// Start launches the pipeline for an idle session and returns at once.
//
// # Description
//
// Under the registry lock Start checks for a running task, moves the
// session from idle to analyzing, records StartedAt and registers the task
// before spawning it, so two concurrent Starts cannot both succeed.
//
// # Outputs
//
//   - error: session.ErrSessionNotFound, ErrAlreadyStarted (running task or
//     status other than idle, including completed and error) or ErrClosed.
func (o *Orchestrator) Start(ctx context.Context, id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrClosed
	}
	if o.deleting[id] > 0 {
		return fmt.Errorf("%w: Session %s not found", session.ErrSessionNotFound, id)
	}
	if _, running := o.tasks[id]; running {
		return fmt.Errorf("%w: session %s already has a running task", ErrAlreadyStarted, id)
	}

	now := o.clock()
	snap, err := o.store.Update(ctx, id, func(s *datatypes.Session) error {
		if s.Status != datatypes.StatusIdle {
			return fmt.Errorf("%w: session %s is %s", ErrAlreadyStarted, id, s.Status)
		}
		if err := s.Transition(datatypes.StatusAnalyzing, now); err != nil {
			return err
		}
		started := now
		s.StartedAt = &started
		s.AppendMessage(now, "Design agent started")
		return nil
	})
	if err != nil {
		return err
	}

	taskCtx, cancel := context.WithCancel(o.baseCtx)
	t := &task{cancel: cancel, done: make(chan struct{})}
	o.tasks[id] = t
	o.wg.Add(1)
	o.metrics.SessionStarted()
	o.publish(snap)

	o.logger.Info("Design pipeline started", slog.String("session_id", id))
	go o.run(taskCtx, t, snap)
	return nil
}

// Delete stops any running task for the session, then removes the session
// and its images.
//
// # Description
//
// The task is cancelled and Delete waits up to StopTimeout for it to exit.
// A task that outlives the wait can no longer write: every write after the
// record is gone fails with ErrSessionNotFound and ends the task. Image
// cleanup is best effort.
//
// Once the task is cancelled the removal runs to completion even if ctx
// ends first.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	if _, err := o.store.Get(ctx, id); err != nil {
		return err
	}
	ctx = context.WithoutCancel(ctx)

	o.mu.Lock()
	t := o.tasks[id]
	if t != nil {
		t.deleted = true
	}
	o.deleting[id]++
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		if o.deleting[id]--; o.deleting[id] <= 0 {
			delete(o.deleting, id)
		}
		o.mu.Unlock()
	}()

	if t != nil {
		t.cancel()
		timer := time.NewTimer(o.stopTimeout)
		select {
		case <-t.done:
			timer.Stop()
		case <-timer.C:
			o.logger.Warn("Task did not stop before deletion",
				slog.String("session_id", id),
				slog.Duration("waited", o.stopTimeout))
		}
	}

	if err := o.store.Delete(ctx, id); err != nil {
		return err
	}
	if o.hub != nil {
		o.hub.CloseSession(id)
	}
	o.removeImages(ctx, id)
	o.refreshLiveSessions(ctx)

	o.logger.Info("Session deleted", slog.String("session_id", id), slog.Bool("task_cancelled", t != nil))
	return nil
}

// Snapshot returns a copy of the full session.
func (o *Orchestrator) Snapshot(ctx context.Context, id string) (datatypes.Session, error) {
	return o.store.Get(ctx, id)
}

// Status returns the polling view of the session.
func (o *Orchestrator) Status(ctx context.Context, id string) (datatypes.StatusResponse, error) {
	s, err := o.store.Get(ctx, id)
	if err != nil {
		return datatypes.StatusResponse{}, err
	}
	return datatypes.NewStatusResponse(s, o.messageLimit), nil
}

// Plan returns the plan markdown and the current status.
func (o *Orchestrator) Plan(ctx context.Context, id string) (datatypes.PlanResponse, error) {
	s, err := o.store.Get(ctx, id)
	if err != nil {
		return datatypes.PlanResponse{}, err
	}
	return datatypes.NewPlanResponse(s), nil
}

// Results returns the final results of a completed session. Any other
// status yields a *NotReadyError.
func (o *Orchestrator) Results(ctx context.Context, id string) (datatypes.FinalResults, error) {
	s, err := o.store.Get(ctx, id)
	if err != nil {
		return datatypes.FinalResults{}, err
	}
	if s.Status != datatypes.StatusCompleted || s.Results == nil {
		return datatypes.FinalResults{}, &NotReadyError{SessionID: id, Status: s.Status}
	}
	return *s.Results, nil
}

// Active returns the number of running tasks.
func (o *Orchestrator) Active() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.tasks)
}

// List returns snapshots of every session.
func (o *Orchestrator) List(ctx context.Context) ([]datatypes.Session, error) {
	return o.store.List(ctx)
}

// Shutdown cancels every task and waits for them to exit or ctx to end.
// Tasks interrupted this way mark their sessions as failed.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	running := len(o.tasks)
	o.mu.Unlock()

	o.logger.Info("Stopping design pipelines", slog.Int("running", running))
	o.baseCancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
}

// Recover fails sessions a previous process left in an active status. It
// is meant for persistent stores at boot, before any Start.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	all, err := o.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}

	recovered := 0
	for _, s := range all {
		if !s.Status.IsActive() {
			continue
		}
		o.mu.Lock()
		_, owned := o.tasks[s.ID]
		o.mu.Unlock()
		if owned {
			continue
		}
		now := o.clock()
		_, err := o.store.Update(ctx, s.ID, func(s *datatypes.Session) error {
			if !s.Status.IsActive() {
				return nil
			}
			return s.Fail(now, "interrupted by service restart")
		})
		if err != nil {
			if errors.Is(err, session.ErrSessionNotFound) {
				continue
			}
			return recovered, fmt.Errorf("recover session %s: %w", s.ID, err)
		}
		recovered++
	}
	if recovered > 0 {
		o.logger.Warn("Failed sessions interrupted by restart", slog.Int("count", recovered))
	}
	o.refreshLiveSessions(ctx)
	return recovered, nil
}

// =============================================================================
// Pipeline
// =============================================================================

// run is the body of a session task.
func (o *Orchestrator) run(ctx context.Context, t *task, snap datatypes.Session) {
	id := snap.ID
	log := o.logger.With(slog.String("session_id", id))
	outcome := "cancelled"

	defer func() {
		o.mu.Lock()
		if o.tasks[id] == t {
			delete(o.tasks, id)
		}
		o.mu.Unlock()
		t.cancel()
		close(t.done)
		o.metrics.SessionFinished(outcome)
		o.wg.Done()
		log.Info("Design pipeline finished", slog.String("outcome", outcome))
	}()

	ctx, span := telemetry.StartSpan(ctx, "designagent.pipeline", attribute.String("session_id", id))
	defer span.End()

	rep := &reporter{store: o.store, hub: o.hub, clock: o.clock, id: id, logger: log}
	in := stages.Input{SessionID: id, Image: snap.Image}
	if snap.StartedAt != nil {
		in.StartedAt = *snap.StartedAt
	}

	for _, ex := range o.executors {
		stage := ex.Stage()
		if ctx.Err() != nil {
			outcome = o.interrupted(t, rep)
			return
		}
		if err := rep.beginStage(stage); err != nil {
			outcome = writeOutcome(err, log)
			return
		}

		out, err := o.runStage(ctx, ex, in, log)
		o.metrics.ItemFailures(len(out.ItemErrors))
		if err != nil {
			if ctx.Err() != nil {
				outcome = o.interrupted(t, rep)
				return
			}
			telemetry.RecordError(span, err, attribute.String("stage", stage.String()))
			if werr := rep.failStage(out, err); werr != nil {
				outcome = writeOutcome(werr, log)
				return
			}
			outcome = "error"
			return
		}

		if err := rep.completeStage(stage, out); err != nil {
			outcome = writeOutcome(err, log)
			return
		}
		mergeInput(&in, out)
	}

	telemetry.SetSpanOK(span)
	outcome = "completed"
}

// runStage executes one stage under its deadline and records metrics.
func (o *Orchestrator) runStage(ctx context.Context, ex stages.Executor, in stages.Input, log *slog.Logger) (stages.Output, error) {
	stage := ex.Stage()
	timeout := o.stageTimeouts[stage]

	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	stageCtx, span := telemetry.StartSpan(stageCtx, "designagent.stage."+stage.String(),
		attribute.String("session_id", in.SessionID),
		attribute.String("stage", stage.String()))
	defer span.End()

	start := o.clock()
	out, err := ex.Execute(stageCtx, in)
	elapsed := o.clock().Sub(start)

	// A stage deadline that fired always reads as a timeout, whatever the
	// executor made of the cancelled context.
	if err != nil && ctx.Err() == nil && errors.Is(stageCtx.Err(), context.DeadlineExceeded) &&
		stages.KindOf(err) != stages.KindTimeout {
		err = &stages.StageError{
			Stage:    stage,
			Kind:     stages.KindTimeout,
			Attempts: out.Attempts,
			Err:      fmt.Errorf("stage deadline of %s exceeded: %w", timeout, err),
		}
	}

	outcome := "success"
	if err != nil {
		outcome = string(stages.KindOf(err))
		telemetry.RecordError(span, err)
		log.Warn("Stage failed",
			slog.String("stage", stage.String()),
			slog.String("kind", outcome),
			slog.Int("attempts", out.Attempts),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()))
	} else {
		telemetry.SetSpanOK(span)
		log.Info("Stage completed",
			slog.String("stage", stage.String()),
			slog.Int("attempts", out.Attempts),
			slog.Duration("elapsed", elapsed))
	}
	o.metrics.ObserveStage(stage.String(), outcome, elapsed, out.Attempts)
	return out, err
}

// interrupted handles a cancelled task. A deleted session is left alone;
// a shutdown marks the session failed so it does not look stuck.
func (o *Orchestrator) interrupted(t *task, rep *reporter) string {
	o.mu.Lock()
	deleted := t.deleted
	o.mu.Unlock()
	if deleted {
		return "cancelled"
	}
	if err := rep.fail("interrupted: service shutting down"); err != nil &&
		!errors.Is(err, session.ErrSessionNotFound) {
		rep.logger.Warn("Could not record interruption", slog.String("error", err.Error()))
	}
	return "cancelled"
}

// writeOutcome classifies a failed status write. A missing session means
// it was deleted under the task, which ends quietly.
func writeOutcome(err error, log *slog.Logger) string {
	if errors.Is(err, session.ErrSessionNotFound) {
		log.Debug("Session removed while running, stopping task")
		return "cancelled"
	}
	log.Error("Status write failed, abandoning pipeline", slog.String("error", err.Error()))
	return "error"
}

// mergeInput folds a stage output into the context of the next stage.
func mergeInput(in *stages.Input, out stages.Output) {
	if out.Analysis != nil {
		in.Analysis = out.Analysis
	}
	if out.Plan != nil {
		in.Plan = out.Plan
	}
	if out.Items != nil {
		in.Items = out.Items
	}
}

func (o *Orchestrator) publish(s datatypes.Session) {
	if o.hub != nil {
		o.hub.Publish(s)
	}
}

func (o *Orchestrator) removeImages(ctx context.Context, id string) {
	if o.images == nil {
		return
	}
	for _, prefix := range imagestore.SessionPrefixes(id) {
		if err := o.images.DeletePrefix(ctx, prefix); err != nil {
			o.logger.Warn("Failed to delete session images",
				slog.String("session_id", id),
				slog.String("prefix", prefix),
				slog.String("error", err.Error()))
		}
	}
}

func (o *Orchestrator) refreshLiveSessions(ctx context.Context) {
	if o.metrics == nil {
		return
	}
	n, err := o.store.Count(ctx)
	if err != nil {
		o.logger.Debug("Could not count sessions", slog.String("error", err.Error()))
		return
	}
	o.metrics.SetLiveSessions(n)
}
