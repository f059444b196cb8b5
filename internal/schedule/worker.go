package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"log/slog"

	"github.com/gantrydev/gantry/internal/deploy"
	"github.com/gantrydev/gantry/internal/domain"
	"github.com/gantrydev/gantry/internal/queue"
	"github.com/gantrydev/gantry/internal/repository"
)

// Deployer is the slice of the deployment lifecycle the worker drives.
// *deploy.Service satisfies it.
type Deployer interface {
	Create(ctx context.Context, projectID, actor string, opts deploy.CreateOptions) (*domain.Deployment, error)
	Execute(ctx context.Context, deployment *domain.Deployment) bool
}

// Worker consumes schedule jobs and runs the resulting deployments. The queue
// delivers at least once; the claim on the schedule row is what makes each
// firing run at most once. A job whose claim fails is a duplicate or a stale
// re-enqueue and is dropped without side effects.
type Worker struct {
	schedules repository.ScheduleRepository
	jobs      queue.Queue
	deployer  Deployer
	logger    *slog.Logger

	now func() time.Time
}

// NewWorker constructs a Worker.
func NewWorker(schedules repository.ScheduleRepository, jobs queue.Queue, deployer Deployer, logger *slog.Logger) *Worker {
	return &Worker{
		schedules: schedules,
		jobs:      jobs,
		deployer:  deployer,
		logger:    logger.With("component", "schedule_worker"),
		now:       time.Now,
	}
}

// Run consumes jobs until the context is cancelled or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("schedule worker started")
	for {
		job, err := w.jobs.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, queue.ErrClosed) {
				w.logger.Info("schedule worker stopped")
				return
			}
			w.logger.Error("dequeue failed", "error", err)
			continue
		}
		w.Process(ctx, job)
	}
}

// Process claims and runs one schedule job.
func (w *Worker) Process(ctx context.Context, job queue.Job) {
	claimed, err := w.schedules.ClaimSchedule(ctx, job.ScheduleID, job.JobID)
	if err != nil {
		w.logger.Error("claim schedule failed", "schedule_id", job.ScheduleID, "job_id", job.JobID, "error", err)
		return
	}
	if !claimed {
		w.logger.Info("dropping unclaimed schedule job", "schedule_id", job.ScheduleID, "job_id", job.JobID)
		return
	}

	sched, err := w.schedules.GetScheduleByID(ctx, job.ScheduleID)
	if err != nil {
		w.logger.Error("load claimed schedule failed", "schedule_id", job.ScheduleID, "error", err)
		w.fail(ctx, job.ScheduleID, fmt.Sprintf("load schedule: %v", err))
		return
	}

	actor := sched.UserID
	if actor == "" {
		actor = "scheduler"
	}
	deployment, err := w.deployer.Create(ctx, sched.ProjectID, actor, deploy.CreateOptions{
		EnvironmentID: sched.EnvironmentID,
	})
	if err != nil {
		w.logger.Error("create scheduled deployment failed", "schedule_id", sched.ID, "error", err)
		w.fail(ctx, sched.ID, fmt.Sprintf("create deployment: %v", err))
		return
	}

	succeeded := w.deployer.Execute(ctx, deployment)
	w.completeRun(ctx, sched, succeeded)
}

// completeRun records that the firing happened. The deployment record carries
// its own success or failure; the schedule only tracks the trigger. A
// recurring schedule re-arms to pending with its fire time advanced by one
// interval, a one-shot ends completed.
func (w *Worker) completeRun(ctx context.Context, sched *domain.ScheduledDeployment, succeeded bool) {
	now := w.now().UTC()
	update := domain.ScheduleRunUpdate{
		ScheduleID: sched.ID,
		LastRunAt:  now,
		Status:     domain.ScheduleCompleted,
	}
	if sched.IsRecurring {
		next, err := NextRun(sched.ScheduledAt, sched.RecurrencePattern)
		if err != nil {
			w.logger.Error("recurring schedule has unknown pattern", "schedule_id", sched.ID, "pattern", sched.RecurrencePattern)
			w.fail(ctx, sched.ID, fmt.Sprintf("unknown recurrence pattern %q", sched.RecurrencePattern))
			return
		}
		update.Status = domain.SchedulePending
		update.NextRunAt = &next
		update.ScheduledAt = &next
	}

	if err := w.schedules.CompleteScheduleRun(ctx, update); err != nil {
		w.logger.Error("complete schedule run failed", "schedule_id", sched.ID, "error", err)
		return
	}
	w.logger.Info("schedule run completed",
		"schedule_id", sched.ID, "succeeded", succeeded, "recurring", sched.IsRecurring, "next_status", update.Status)
}

func (w *Worker) fail(ctx context.Context, scheduleID, reason string) {
	if err := w.schedules.MarkScheduleFailed(ctx, scheduleID, reason); err != nil {
		w.logger.Error("mark schedule failed errored", "schedule_id", scheduleID, "error", err)
	}
}
