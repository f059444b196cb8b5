package schedule

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"log/slog"

	"github.com/gantrydev/gantry/internal/domain"
	"github.com/gantrydev/gantry/internal/queue"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPollDueDispatchesOnlyDuePending(t *testing.T) {
	repo := newFakeScheduleRepo()
	now := time.Now().UTC()
	repo.put(domain.ScheduledDeployment{ID: "due", ProjectID: "p1", Status: domain.SchedulePending, ScheduledAt: now.Add(-time.Minute)})
	repo.put(domain.ScheduledDeployment{ID: "future", ProjectID: "p1", Status: domain.SchedulePending, ScheduledAt: now.Add(time.Hour)})
	repo.put(domain.ScheduledDeployment{ID: "done", ProjectID: "p1", Status: domain.ScheduleCompleted, ScheduledAt: now.Add(-time.Hour)})

	jobs := queue.NewMemoryQueue(8)
	d := NewDispatcher(repo, jobs, testLogger(), DispatcherOptions{})

	if err := d.PollDue(context.Background()); err != nil {
		t.Fatalf("PollDue returned error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	job, err := jobs.Dequeue(ctx)
	if err != nil {
		t.Fatalf("expected one job on queue: %v", err)
	}
	if job.ScheduleID != "due" {
		t.Fatalf("dispatched %s, want due", job.ScheduleID)
	}

	queued := repo.get("due")
	if queued.Status != domain.ScheduleQueued {
		t.Fatalf("due schedule status = %s, want queued", queued.Status)
	}
	if queued.QueueJobID != job.JobID {
		t.Fatalf("stored job id %q != enqueued job id %q", queued.QueueJobID, job.JobID)
	}
	if got := repo.get("future").Status; got != domain.SchedulePending {
		t.Fatalf("future schedule dispatched early, status %s", got)
	}
}

type failingQueue struct{}

func (failingQueue) Enqueue(context.Context, queue.Job) error { return errors.New("broker down") }
func (failingQueue) Dequeue(context.Context) (queue.Job, error) {
	return queue.Job{}, errors.New("broker down")
}
func (failingQueue) Close() error { return nil }

func TestDispatchEnqueueFailureMarksFailed(t *testing.T) {
	repo := newFakeScheduleRepo()
	sched := domain.ScheduledDeployment{ID: "s1", ProjectID: "p1", Status: domain.SchedulePending, ScheduledAt: time.Now().Add(-time.Minute)}
	repo.put(sched)

	d := NewDispatcher(repo, failingQueue{}, testLogger(), DispatcherOptions{})
	d.Dispatch(context.Background(), &sched)

	got := repo.get("s1")
	if got.Status != domain.ScheduleFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.QueueJobID != "" {
		t.Fatalf("expected job id cleared, got %q", got.QueueJobID)
	}
	if repo.failures["s1"] == "" {
		t.Fatal("expected failure reason recorded")
	}
}

func TestReconcileStaleResetsOldQueued(t *testing.T) {
	repo := newFakeScheduleRepo()
	now := time.Now().UTC()
	repo.put(domain.ScheduledDeployment{
		ID: "stale", Status: domain.ScheduleQueued, QueueJobID: "job-old",
		ScheduledAt: now.Add(-4 * time.Hour), UpdatedAt: now.Add(-3 * time.Hour),
	})
	repo.put(domain.ScheduledDeployment{
		ID: "fresh", Status: domain.ScheduleQueued, QueueJobID: "job-new",
		ScheduledAt: now.Add(-time.Hour), UpdatedAt: now.Add(-time.Minute),
	})

	d := NewDispatcher(repo, queue.NewMemoryQueue(8), testLogger(), DispatcherOptions{StaleWindow: 2 * time.Hour})
	if err := d.ReconcileStale(context.Background()); err != nil {
		t.Fatalf("ReconcileStale returned error: %v", err)
	}

	stale := repo.get("stale")
	if stale.Status != domain.SchedulePending {
		t.Fatalf("stale status = %s, want pending", stale.Status)
	}
	if stale.QueueJobID != "" {
		t.Fatalf("expected queue job id cleared, got %q", stale.QueueJobID)
	}
	if got := repo.get("fresh"); got.Status != domain.ScheduleQueued || got.QueueJobID != "job-new" {
		t.Fatalf("fresh schedule must be untouched, got %+v", got)
	}
}

func TestStaleResetInvalidatesOldClaim(t *testing.T) {
	repo := newFakeScheduleRepo()
	now := time.Now().UTC()
	repo.put(domain.ScheduledDeployment{
		ID: "s1", Status: domain.ScheduleQueued, QueueJobID: "job-old",
		ScheduledAt: now.Add(-4 * time.Hour), UpdatedAt: now.Add(-3 * time.Hour),
	})

	d := NewDispatcher(repo, queue.NewMemoryQueue(8), testLogger(), DispatcherOptions{StaleWindow: 2 * time.Hour})
	if err := d.ReconcileStale(context.Background()); err != nil {
		t.Fatalf("ReconcileStale returned error: %v", err)
	}

	// The job the old dispatch pushed eventually reaches a worker; its claim
	// must lose against the reset.
	claimed, err := repo.ClaimSchedule(context.Background(), "s1", "job-old")
	if err != nil {
		t.Fatalf("ClaimSchedule returned error: %v", err)
	}
	if claimed {
		t.Fatal("claim with superseded job id must fail after stale reset")
	}
}
