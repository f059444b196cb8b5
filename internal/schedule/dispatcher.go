package schedule

import (
	"context"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/gantrydev/gantry/internal/domain"
	"github.com/gantrydev/gantry/internal/queue"
	"github.com/gantrydev/gantry/internal/repository"
)

const (
	defaultPollInterval  = 30 * time.Second
	defaultStaleInterval = time.Minute
	defaultStaleWindow   = 2 * time.Hour
	iterationTimeout     = 15 * time.Second
)

// Dispatcher moves due schedules onto the work queue and recovers schedules
// stuck in queued after a dispatcher or worker crash. It never executes
// deployments itself.
type Dispatcher struct {
	schedules repository.ScheduleRepository
	jobs      queue.Queue
	logger    *slog.Logger

	pollInterval  time.Duration
	staleInterval time.Duration
	staleWindow   time.Duration

	now func() time.Time
}

// DispatcherOptions tunes the dispatcher loops. Zero values select defaults.
type DispatcherOptions struct {
	PollInterval  time.Duration
	StaleInterval time.Duration
	StaleWindow   time.Duration
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(schedules repository.ScheduleRepository, jobs queue.Queue, logger *slog.Logger, opts DispatcherOptions) *Dispatcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.StaleInterval <= 0 {
		opts.StaleInterval = defaultStaleInterval
	}
	if opts.StaleWindow <= 0 {
		opts.StaleWindow = defaultStaleWindow
	}
	return &Dispatcher{
		schedules:     schedules,
		jobs:          jobs,
		logger:        logger.With("component", "schedule_dispatcher"),
		pollInterval:  opts.PollInterval,
		staleInterval: opts.StaleInterval,
		staleWindow:   opts.StaleWindow,
		now:           time.Now,
	}
}

// Run executes the poll and stale-recovery loops until the context is
// cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	poll := time.NewTicker(d.pollInterval)
	defer poll.Stop()
	stale := time.NewTicker(d.staleInterval)
	defer stale.Stop()

	d.logger.Info("schedule dispatcher started",
		"poll_interval", d.pollInterval, "stale_interval", d.staleInterval, "stale_window", d.staleWindow)
	d.pollOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("schedule dispatcher stopped")
			return
		case <-poll.C:
			d.pollOnce(ctx)
		case <-stale.C:
			d.reconcileOnce(ctx)
		}
	}
}

func (d *Dispatcher) pollOnce(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, iterationTimeout)
	defer cancel()
	if err := d.PollDue(ctx); err != nil {
		d.logger.Warn("poll due schedules failed", "error", err)
	}
}

func (d *Dispatcher) reconcileOnce(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, iterationTimeout)
	defer cancel()
	if err := d.ReconcileStale(ctx); err != nil {
		d.logger.Warn("stale schedule reconcile failed", "error", err)
	}
}

// PollDue dispatches every pending schedule whose fire time has passed.
func (d *Dispatcher) PollDue(ctx context.Context) error {
	due, err := d.schedules.ListDueSchedules(ctx, d.now().UTC())
	if err != nil {
		return err
	}
	for i := range due {
		if err := ctx.Err(); err != nil {
			return err
		}
		d.Dispatch(ctx, &due[i])
	}
	return nil
}

// Dispatch marks a schedule queued under a fresh job id and pushes the job.
// A failed enqueue marks the schedule failed rather than retrying: the next
// recurrence (or the operator) re-arms it deliberately, an automatic retry
// here would race the stale reconciler.
func (d *Dispatcher) Dispatch(ctx context.Context, sched *domain.ScheduledDeployment) {
	jobID := uuid.NewString()
	if err := d.schedules.MarkQueued(ctx, sched.ID, jobID); err != nil {
		d.logger.Warn("mark schedule queued failed", "schedule_id", sched.ID, "error", err)
		return
	}
	job := queue.Job{JobID: jobID, ScheduleID: sched.ID, EnqueuedAt: d.now().UTC()}
	if err := d.jobs.Enqueue(ctx, job); err != nil {
		d.logger.Error("enqueue schedule job failed", "schedule_id", sched.ID, "job_id", jobID, "error", err)
		if markErr := d.schedules.MarkScheduleFailed(ctx, sched.ID, "enqueue failed: "+err.Error()); markErr != nil {
			d.logger.Error("mark schedule failed errored", "schedule_id", sched.ID, "error", markErr)
		}
		return
	}
	d.logger.Info("schedule dispatched", "schedule_id", sched.ID, "job_id", jobID, "project_id", sched.ProjectID)
}

// ReconcileStale resets schedules that have sat in queued beyond the stale
// window back to pending so the next poll re-dispatches them. The reset clears
// the queue job id, so if the original job later surfaces its claim fails and
// the worker drops it.
func (d *Dispatcher) ReconcileStale(ctx context.Context) error {
	cutoff := d.now().UTC().Add(-d.staleWindow)
	stale, err := d.schedules.ListStaleQueued(ctx, cutoff)
	if err != nil {
		return err
	}
	for i := range stale {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.schedules.ResetToPending(ctx, stale[i].ID); err != nil {
			d.logger.Warn("reset stale schedule failed", "schedule_id", stale[i].ID, "error", err)
			continue
		}
		d.logger.Info("stale queued schedule reset", "schedule_id", stale[i].ID, "job_id", stale[i].QueueJobID)
	}
	return nil
}
