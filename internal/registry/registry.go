// Package registry implements the in-memory Job Registry (C4): the single
// source of truth for which jobs are currently running, their cancellation
// handles, and per-user concurrency accounting. All durable state lives in
// the store; this package never survives a process restart and relies on
// store.Reconcile to repair the rows it left behind.
//
// Grounded on tarsy's pkg/queue.WorkerPool for the shape of mutex-guarded
// slot accounting and a long-lived watchdog goroutine, and on the original
// job_registry.py for the exact transition table, the queue-promotion loop,
// and the ghost-job cancel handling.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/models"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/store"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/wshub"
)

// ProgressFunc is the fire-and-forget progress callback passed to handlers.
type ProgressFunc func(pct int, detail string)

// Handler runs one job to completion, honoring cancel and reporting
// progress. It returns a result reference on success, or an error; handlers
// may also call the ResultRefSetter passed via context to publish a
// reference before returning (spec §4.4 handler contract).
type Handler func(ctx context.Context, jobID string, params json.RawMessage, cancel *CancelEvent, progress ProgressFunc) (resultRef string, err error)

// DefaultTimeoutSeconds is used when a submission does not specify one.
const DefaultTimeoutSeconds = 7200

// watchdogInterval is the sleep between timeout sweeps (spec §4.4).
const watchdogInterval = 60 * time.Second

// shutdownGrace bounds how long Shutdown waits for in-flight cleanup steps
// to record an interrupted status before force-marking rows itself.
const shutdownGrace = 500 * time.Millisecond

type runningJob struct {
	userID string
	done   chan struct{}
}

// Registry is the job orchestration core.
type Registry struct {
	store    *store.Store
	hub      *wshub.Hub
	handlers map[models.JobType]Handler

	mu           sync.Mutex
	running      map[string]*runningJob
	cancelEvents map[string]*CancelEvent
	userSlots    map[string]int
	maxConcurrentFn func(ctx context.Context, userID string) int

	watchdogCancel context.CancelFunc
	watchdogDone   chan struct{}

	shuttingDown bool
}

// New constructs a Registry. maxConcurrentFn resolves the effective
// concurrency limit for a user (wraps ratepolicy.Policy.ResolveLimits so this
// package does not need to import ratepolicy's struct shape directly).
func New(st *store.Store, hub *wshub.Hub, maxConcurrentFn func(ctx context.Context, userID string) int) *Registry {
	return &Registry{
		store:           st,
		hub:             hub,
		handlers:        make(map[models.JobType]Handler),
		running:         make(map[string]*runningJob),
		cancelEvents:    make(map[string]*CancelEvent),
		userSlots:       make(map[string]int),
		maxConcurrentFn: maxConcurrentFn,
	}
}

// RegisterHandler wires a handler for a job type. Call during composition,
// before Start.
func (r *Registry) RegisterHandler(jobType models.JobType, h Handler) {
	r.handlers[jobType] = h
}

// Start launches the watchdog goroutine. Call once, after Reconcile.
func (r *Registry) Start(ctx context.Context) {
	wctx, cancel := context.WithCancel(ctx)
	r.watchdogCancel = cancel
	r.watchdogDone = make(chan struct{})
	go r.watchdog(wctx)
}

func (r *Registry) snapshot(job models.Job) wshub.JobSnapshot {
	snap := wshub.JobSnapshot{
		ID:             job.ID,
		JobType:        string(job.JobType),
		Status:         string(job.Status),
		ProgressPct:    job.ProgressPct,
		ProgressDetail: job.ProgressDetail,
	}
	if job.ResultRef != nil {
		snap.ResultRef = *job.ResultRef
	}
	return snap
}

func (r *Registry) broadcast(ctx context.Context, userID, eventType string, job models.Job) {
	if r.hub == nil {
		return
	}
	r.hub.SendToUser(ctx, userID, wshub.Envelope{Type: eventType, Data: r.snapshot(job)})
}

// Submit creates and durably persists a new job, starting it immediately if
// a concurrency slot is free, or leaving it queued otherwise (spec §4.4
// submit).
func (r *Registry) Submit(ctx context.Context, userID string, jobType models.JobType, params json.RawMessage, timeoutSeconds int, progressDetail string) (*models.Job, error) {
	if timeoutSeconds <= 0 {
		timeoutSeconds = DefaultTimeoutSeconds
	}

	// The slot is reserved in the same critical section that decides
	// pending vs queued (spec §5), so two concurrent Submit calls for the
	// same user can't both observe a free slot and both start (invariant 3:
	// sum(user_slots) == count(running)). A reservation made here is either
	// consumed by startJob below or backed out if persistence fails.
	r.mu.Lock()
	limit := r.maxConcurrentFn(ctx, userID)
	active := r.userSlots[userID]
	status := models.JobStatusPending
	if active >= limit {
		status = models.JobStatusQueued
	} else {
		r.userSlots[userID]++
	}
	r.mu.Unlock()

	job := models.Job{
		ID:              store.NewID(),
		UserID:          userID,
		JobType:         jobType,
		Status:          status,
		ProgressDetail:  progressDetail,
		ParamsJSON:      string(params),
		CreatedAt:       time.Now().UTC(),
		TimeoutSeconds:  timeoutSeconds,
	}
	if err := r.store.Jobs().Create(ctx, job); err != nil {
		if status == models.JobStatusPending {
			r.releaseSlot(job.UserID)
		}
		return nil, fmt.Errorf("persist job: %w", err)
	}
	r.broadcast(ctx, userID, "job_created", job)

	if status == models.JobStatusPending {
		r.startJob(ctx, job)
	}
	return &job, nil
}

// releaseSlot backs out a slot reservation that was never consumed by a
// running job (a persistence failure after Submit reserved one, or
// processQueue finding nothing to promote).
func (r *Registry) releaseSlot(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.userSlots[userID]--
	if r.userSlots[userID] <= 0 {
		delete(r.userSlots, userID)
	}
}

// startJob transitions a pending job to running and spawns its handler
// (spec §4.4 _start_job). The caller must already hold a reserved slot for
// job.UserID — startJob consumes it rather than reserving its own, so the
// reservation stays in the same critical section as the pending/queued
// decision that produced it.
func (r *Registry) startJob(ctx context.Context, job models.Job) {
	handler, ok := r.handlers[job.JobType]
	if !ok {
		job.Status = models.JobStatusFailed
		_ = r.store.Jobs().SetStatus(ctx, job.ID, job.Status, models.JobStatusFailed)
		r.broadcast(ctx, job.UserID, "job_failed", job)
		r.releaseSlot(job.UserID)
		return
	}

	cancelEvent := NewCancelEvent()

	r.mu.Lock()
	r.cancelEvents[job.ID] = cancelEvent
	done := make(chan struct{})
	r.running[job.ID] = &runningJob{userID: job.UserID, done: done}
	r.mu.Unlock()

	if err := r.store.Jobs().StartRunning(ctx, job.ID, job.TimeoutSeconds); err != nil {
		slog.Error("registry: failed to persist running transition", "job_id", job.ID, "error", err)
	}
	job.Status = models.JobStatusRunning
	r.broadcast(ctx, job.UserID, "job_started", job)

	go r.runHandler(context.WithoutCancel(ctx), job, handler, cancelEvent, done)
}

func (r *Registry) runHandler(ctx context.Context, job models.Job, handler Handler, cancelEvent *CancelEvent, done chan struct{}) {
	finalStatus := models.JobStatusFailed
	var resultRef string
	var handlerErr error

	func() {
		defer func() {
			if rec := recover(); rec != nil {
				handlerErr = fmt.Errorf("handler panic: %v", rec)
			}
		}()
		progress := func(pct int, detail string) {
			_ = r.store.Jobs().SetProgress(ctx, job.ID, pct, detail)
			job.ProgressPct, job.ProgressDetail = pct, detail
			r.broadcast(ctx, job.UserID, "job_progress", job)
		}
		resultRef, handlerErr = handler(ctx, job.ID, json.RawMessage(job.ParamsJSON), cancelEvent, progress)
	}()

	switch {
	case ctx.Err() != nil:
		finalStatus = models.JobStatusInterrupted
	case cancelEvent.Cancelled():
		finalStatus = models.JobStatusCancelled
	case handlerErr != nil:
		finalStatus = models.JobStatusFailed
		job.ProgressDetail = truncate(handlerErr.Error(), 500)
	default:
		finalStatus = models.JobStatusDone
		if resultRef != "" {
			job.ResultRef = &resultRef
		}
	}

	fromStatus := job.Status
	job.Status = finalStatus
	if err := r.store.Jobs().SetStatus(ctx, job.ID, fromStatus, finalStatus); err != nil {
		slog.Error("registry: failed to persist terminal status", "job_id", job.ID, "error", err)
	}
	if resultRef != "" {
		_ = r.store.Jobs().SetResultRef(ctx, job.ID, resultRef)
	}

	// The WS type vocabulary (spec §6) is closed; "interrupted" has no
	// dedicated frame type, so a forced shutdown/crash mid-run is reported
	// the same way a watchdog timeout is: job_failed.
	eventType := "job_completed"
	switch finalStatus {
	case models.JobStatusFailed, models.JobStatusInterrupted:
		eventType = "job_failed"
	case models.JobStatusCancelled:
		eventType = "job_cancelled"
	}
	r.broadcast(ctx, job.UserID, eventType, job)

	// Guaranteed cleanup (spec §4.4): runs regardless of exit path.
	r.mu.Lock()
	delete(r.running, job.ID)
	delete(r.cancelEvents, job.ID)
	r.userSlots[job.UserID]--
	if r.userSlots[job.UserID] <= 0 {
		delete(r.userSlots, job.UserID)
	}
	r.mu.Unlock()
	close(done)

	r.processQueue(context.Background(), job.UserID)
}

// SetResultRef lets a handler publish a discoverable reference before it
// finishes (spec §4.4).
func (r *Registry) SetResultRef(ctx context.Context, jobID, ref string) error {
	return r.store.Jobs().SetResultRef(ctx, jobID, ref)
}

// processQueue promotes queued jobs for userID while slots remain free
// (spec §4.4 _process_queue).
func (r *Registry) processQueue(ctx context.Context, userID string) {
	for {
		r.mu.Lock()
		limit := r.maxConcurrentFn(ctx, userID)
		active := r.userSlots[userID]
		if active >= limit {
			r.mu.Unlock()
			return
		}
		r.userSlots[userID]++
		r.mu.Unlock()

		job, err := r.store.Jobs().OldestQueuedForUser(ctx, userID)
		if err != nil {
			slog.Error("registry: process_queue lookup failed", "user_id", userID, "error", err)
			r.releaseSlot(userID)
			return
		}
		if job == nil {
			r.releaseSlot(userID)
			return
		}
		r.startJob(ctx, *job)
	}
}

// Cancel attempts to cancel job jobID on behalf of requester (spec §4.4
// cancel). isAdmin bypasses the ownership check. The returned bool reports
// whether this call discovered and cleaned up a ghost job (spec §8 S3:
// "response includes was_orphan:true").
func (r *Registry) Cancel(ctx context.Context, jobID, requester string, isAdmin bool) (bool, error) {
	job, err := r.store.Jobs().Get(ctx, jobID)
	if err != nil {
		return false, err
	}
	if !isAdmin && job.UserID != requester {
		return false, models.ErrNotCancellable
	}

	switch job.Status {
	case models.JobStatusPending, models.JobStatusQueued:
		if err := r.store.Jobs().SetStatus(ctx, jobID, job.Status, models.JobStatusCancelled); err != nil {
			return false, err
		}
		job.Status = models.JobStatusCancelled
		r.broadcast(ctx, job.UserID, "job_cancelled", *job)
		return false, nil

	case models.JobStatusRunning:
		r.mu.Lock()
		cancelEvent, ok := r.cancelEvents[jobID]
		r.mu.Unlock()
		if ok {
			cancelEvent.Set()
			return false, nil
		}
		// Ghost job: DB says running but no in-memory event exists (crash
		// restart that recovery missed, or a row mid-update). The row
		// becomes interrupted, but the frame clients see is job_cancelled —
		// from the caller's perspective this cancel request succeeded.
		if err := r.store.Jobs().SetStatus(ctx, jobID, job.Status, models.JobStatusInterrupted); err != nil {
			return false, err
		}
		job.Status = models.JobStatusInterrupted
		r.broadcast(ctx, job.UserID, "job_cancelled", *job)
		_, err := r.cleanGhostChild(ctx, *job)
		return true, err

	default:
		// Terminal job: still worth cleaning a ghost child tune run.
		cleaned, err := r.cleanGhostChild(ctx, *job)
		if err != nil {
			return false, err
		}
		if cleaned {
			return true, nil
		}
		return false, models.ErrNotCancellable
	}
}

// cleanGhostChild forces any tune-run child row still marked running back to
// interrupted, keeping stored views consistent with a job the registry has
// already finalized (spec §4.4 cancel, ghost handling). Reports whether a
// child row was actually transitioned.
func (r *Registry) cleanGhostChild(ctx context.Context, job models.Job) (bool, error) {
	switch job.JobType {
	case models.JobTypeParamTune:
		if job.ResultRef == nil {
			return false, nil
		}
		run, err := r.store.ParamTune().GetRun(ctx, *job.ResultRef)
		if err != nil || run == nil {
			return false, nil
		}
		if run.Status == models.RunStatusRunning {
			return true, r.store.ParamTune().SetRunStatus(ctx, run.ID, models.RunStatusInterrupted)
		}
	case models.JobTypePromptTune:
		if job.ResultRef == nil {
			return false, nil
		}
		run, err := r.store.PromptTune().GetRun(ctx, *job.ResultRef)
		if err != nil || run == nil {
			return false, nil
		}
		if run.Status == models.RunStatusRunning {
			return true, r.store.PromptTune().SetRunStatus(ctx, run.ID, models.RunStatusInterrupted)
		}
	}
	return false, nil
}

// watchdog sweeps for timed-out running jobs every watchdogInterval
// (spec §4.4 Watchdog).
func (r *Registry) watchdog(ctx context.Context) {
	defer close(r.watchdogDone)
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepTimeouts(ctx)
		}
	}
}

func (r *Registry) sweepTimeouts(ctx context.Context) {
	timedOut, err := r.store.Jobs().TimedOutRunning(ctx, time.Now().UTC())
	if err != nil {
		slog.Error("registry: watchdog sweep failed", "error", err)
		return
	}
	for _, job := range timedOut {
		r.mu.Lock()
		cancelEvent, ok := r.cancelEvents[job.ID]
		r.mu.Unlock()
		if ok {
			cancelEvent.Set()
		}
		if err := r.store.Jobs().SetStatus(ctx, job.ID, job.Status, models.JobStatusFailed); err != nil {
			slog.Error("registry: watchdog status update failed", "job_id", job.ID, "error", err)
			continue
		}
		job.Status = models.JobStatusFailed
		job.ProgressDetail = "Timeout exceeded"
		r.broadcast(ctx, job.UserID, "job_failed", job)
	}
}

// Shutdown cancels the watchdog and every in-flight task, waits briefly for
// their cleanup steps to record interrupted state, then force-marks any rows
// still running (spec §4.4 Shutdown).
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	r.shuttingDown = true
	dones := make([]chan struct{}, 0, len(r.running))
	for _, rj := range r.running {
		dones = append(dones, rj.done)
	}
	for _, ce := range r.cancelEvents {
		ce.Set()
	}
	r.mu.Unlock()

	if r.watchdogCancel != nil {
		r.watchdogCancel()
	}

	deadline := time.After(shutdownGrace)
	for _, d := range dones {
		select {
		case <-d:
		case <-deadline:
		}
	}

	if n, err := r.store.Jobs().ReconcileOnStartup(ctx); err != nil {
		slog.Error("registry: shutdown reconciliation failed", "error", err)
	} else if n > 0 {
		slog.Warn("registry: force-marked still-running jobs interrupted at shutdown", "count", n)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
