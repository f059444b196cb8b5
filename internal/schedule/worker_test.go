package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/gantrydev/gantry/internal/domain"
	"github.com/gantrydev/gantry/internal/queue"
)

func TestProcessRunsClaimedOneShot(t *testing.T) {
	repo := newFakeScheduleRepo()
	now := time.Now().UTC()
	repo.put(domain.ScheduledDeployment{
		ID: "s1", ProjectID: "p1", EnvironmentID: "production", UserID: "alice",
		Status: domain.ScheduleQueued, QueueJobID: "job-1",
		ScheduledAt: now.Add(-time.Minute),
	})
	deployer := &fakeDeployer{outcome: true}
	w := NewWorker(repo, queue.NewMemoryQueue(1), deployer, testLogger())

	w.Process(context.Background(), queue.Job{JobID: "job-1", ScheduleID: "s1"})

	if deployer.executed != 1 {
		t.Fatalf("expected one execution, got %d", deployer.executed)
	}
	got := repo.get("s1")
	if got.Status != domain.ScheduleCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if got.LastRunAt == nil {
		t.Fatal("expected last_run_at recorded")
	}
	if got.QueueJobID != "" {
		t.Fatalf("expected queue job id cleared, got %q", got.QueueJobID)
	}
}

func TestProcessOneShotCompletesEvenWhenDeploymentFails(t *testing.T) {
	repo := newFakeScheduleRepo()
	repo.put(domain.ScheduledDeployment{
		ID: "s1", ProjectID: "p1", Status: domain.ScheduleQueued, QueueJobID: "job-1",
		ScheduledAt: time.Now().UTC().Add(-time.Minute),
	})
	deployer := &fakeDeployer{outcome: false}
	w := NewWorker(repo, queue.NewMemoryQueue(1), deployer, testLogger())

	w.Process(context.Background(), queue.Job{JobID: "job-1", ScheduleID: "s1"})

	// The deployment record carries the failure; the trigger still fired.
	if got := repo.get("s1").Status; got != domain.ScheduleCompleted {
		t.Fatalf("status = %s, want completed", got)
	}
}

func TestProcessRecurringDailyReArms(t *testing.T) {
	repo := newFakeScheduleRepo()
	scheduledAt := time.Date(2026, time.March, 10, 6, 0, 0, 0, time.UTC)
	repo.put(domain.ScheduledDeployment{
		ID: "s1", ProjectID: "p1", Status: domain.ScheduleQueued, QueueJobID: "job-1",
		ScheduledAt: scheduledAt, IsRecurring: true, RecurrencePattern: domain.RecurDaily,
	})
	deployer := &fakeDeployer{outcome: true}
	w := NewWorker(repo, queue.NewMemoryQueue(1), deployer, testLogger())

	w.Process(context.Background(), queue.Job{JobID: "job-1", ScheduleID: "s1"})

	got := repo.get("s1")
	if got.Status != domain.SchedulePending {
		t.Fatalf("recurring schedule status = %s, want pending", got.Status)
	}
	want := scheduledAt.Add(24 * time.Hour)
	if got.NextRunAt == nil || !got.NextRunAt.Equal(want) {
		t.Fatalf("next_run_at = %v, want %v", got.NextRunAt, want)
	}
	if !got.ScheduledAt.Equal(want) {
		t.Fatalf("scheduled_at = %v, want %v", got.ScheduledAt, want)
	}
}

func TestProcessDropsUnclaimedJob(t *testing.T) {
	repo := newFakeScheduleRepo()
	repo.put(domain.ScheduledDeployment{
		ID: "s1", ProjectID: "p1", Status: domain.ScheduleQueued, QueueJobID: "job-current",
		ScheduledAt: time.Now().UTC().Add(-time.Minute),
	})
	deployer := &fakeDeployer{outcome: true}
	w := NewWorker(repo, queue.NewMemoryQueue(1), deployer, testLogger())

	w.Process(context.Background(), queue.Job{JobID: "job-superseded", ScheduleID: "s1"})

	if deployer.executed != 0 {
		t.Fatal("superseded job must not trigger a deployment")
	}
	if got := repo.get("s1").Status; got != domain.ScheduleQueued {
		t.Fatalf("schedule must be untouched, status %s", got)
	}
}

func TestProcessUnknownRecurrenceMarksFailed(t *testing.T) {
	repo := newFakeScheduleRepo()
	repo.put(domain.ScheduledDeployment{
		ID: "s1", ProjectID: "p1", Status: domain.ScheduleQueued, QueueJobID: "job-1",
		ScheduledAt: time.Now().UTC().Add(-time.Minute),
		IsRecurring: true, RecurrencePattern: domain.RecurrencePattern("fortnightly"),
	})
	deployer := &fakeDeployer{outcome: true}
	w := NewWorker(repo, queue.NewMemoryQueue(1), deployer, testLogger())

	w.Process(context.Background(), queue.Job{JobID: "job-1", ScheduleID: "s1"})

	if got := repo.get("s1").Status; got != domain.ScheduleFailed {
		t.Fatalf("status = %s, want failed", got)
	}
	if repo.failures["s1"] == "" {
		t.Fatal("expected failure reason recorded")
	}
}

func TestServiceCreateValidatesRecurrence(t *testing.T) {
	projects := &fakeProjectRepo{projects: map[string]domain.Project{
		"p1": {ID: "p1", Name: "storefront"},
	}}
	repo := newFakeScheduleRepo()
	svc := NewService(projects, repo, testLogger())

	_, err := svc.Create(context.Background(), CreateInput{
		ProjectID:         "p1",
		ScheduledAt:       time.Now().Add(time.Hour),
		IsRecurring:       true,
		RecurrencePattern: domain.RecurrencePattern("hourly"),
	})
	if err == nil {
		t.Fatal("expected unknown recurrence pattern to be rejected")
	}

	sched, err := svc.Create(context.Background(), CreateInput{
		ProjectID:         "p1",
		ScheduledAt:       time.Now().Add(time.Hour),
		IsRecurring:       true,
		RecurrencePattern: domain.RecurWeekly,
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if sched.Status != domain.SchedulePending {
		t.Fatalf("status = %s, want pending", sched.Status)
	}
}

func TestServiceCancelOnlyBeforeProcessing(t *testing.T) {
	projects := &fakeProjectRepo{projects: map[string]domain.Project{"p1": {ID: "p1"}}}
	repo := newFakeScheduleRepo()
	svc := NewService(projects, repo, testLogger())

	repo.put(domain.ScheduledDeployment{ID: "queued", Status: domain.ScheduleQueued})
	repo.put(domain.ScheduledDeployment{ID: "processing", Status: domain.ScheduleProcessing})

	if err := svc.Cancel(context.Background(), "queued"); err != nil {
		t.Fatalf("cancel queued: %v", err)
	}
	if got := repo.get("queued").Status; got != domain.ScheduleCancelled {
		t.Fatalf("status = %s, want cancelled", got)
	}

	if err := svc.Cancel(context.Background(), "processing"); err == nil {
		t.Fatal("expected cancel of processing schedule to fail")
	}
}
