package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/gantrydev/gantry/internal/deploy"
	"github.com/gantrydev/gantry/internal/domain"
	"github.com/gantrydev/gantry/internal/repository"
)

type fakeScheduleRepo struct {
	mu        sync.Mutex
	schedules map[string]domain.ScheduledDeployment
	failures  map[string]string
}

func newFakeScheduleRepo() *fakeScheduleRepo {
	return &fakeScheduleRepo{
		schedules: make(map[string]domain.ScheduledDeployment),
		failures:  make(map[string]string),
	}
}

func (f *fakeScheduleRepo) put(s domain.ScheduledDeployment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.schedules[s.ID] = s
}

func (f *fakeScheduleRepo) get(id string) domain.ScheduledDeployment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.schedules[id]
}

func (f *fakeScheduleRepo) CreateSchedule(_ context.Context, sched *domain.ScheduledDeployment) error {
	f.put(*sched)
	return nil
}

func (f *fakeScheduleRepo) GetScheduleByID(_ context.Context, scheduleID string) (*domain.ScheduledDeployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.schedules[scheduleID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := s
	return &out, nil
}

func (f *fakeScheduleRepo) ListDueSchedules(_ context.Context, now time.Time) ([]domain.ScheduledDeployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ScheduledDeployment
	for _, s := range f.schedules {
		if s.Status == domain.SchedulePending && !s.ScheduledAt.After(now) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeScheduleRepo) ListStaleQueued(_ context.Context, updatedBefore time.Time) ([]domain.ScheduledDeployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ScheduledDeployment
	for _, s := range f.schedules {
		if s.Status == domain.ScheduleQueued && s.UpdatedAt.Before(updatedBefore) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeScheduleRepo) MarkQueued(_ context.Context, scheduleID, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.schedules[scheduleID]
	if !ok {
		return repository.ErrNotFound
	}
	s.Status = domain.ScheduleQueued
	s.QueueJobID = jobID
	s.UpdatedAt = time.Now()
	f.schedules[scheduleID] = s
	return nil
}

func (f *fakeScheduleRepo) ResetToPending(_ context.Context, scheduleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.schedules[scheduleID]
	if !ok {
		return repository.ErrNotFound
	}
	s.Status = domain.SchedulePending
	s.QueueJobID = ""
	s.UpdatedAt = time.Now()
	f.schedules[scheduleID] = s
	return nil
}

func (f *fakeScheduleRepo) ClaimSchedule(_ context.Context, scheduleID, jobID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.schedules[scheduleID]
	if !ok {
		return false, nil
	}
	if s.Status != domain.ScheduleQueued || s.QueueJobID != jobID {
		return false, nil
	}
	s.Status = domain.ScheduleProcessing
	s.UpdatedAt = time.Now()
	f.schedules[scheduleID] = s
	return true, nil
}

func (f *fakeScheduleRepo) CompleteScheduleRun(_ context.Context, update domain.ScheduleRunUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.schedules[update.ScheduleID]
	if !ok {
		return repository.ErrNotFound
	}
	s.Status = update.Status
	last := update.LastRunAt
	s.LastRunAt = &last
	s.NextRunAt = update.NextRunAt
	if update.ScheduledAt != nil {
		s.ScheduledAt = *update.ScheduledAt
	}
	s.QueueJobID = ""
	s.UpdatedAt = time.Now()
	f.schedules[update.ScheduleID] = s
	return nil
}

func (f *fakeScheduleRepo) MarkScheduleFailed(_ context.Context, scheduleID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.schedules[scheduleID]
	if !ok {
		return repository.ErrNotFound
	}
	s.Status = domain.ScheduleFailed
	s.QueueJobID = ""
	s.UpdatedAt = time.Now()
	f.schedules[scheduleID] = s
	f.failures[scheduleID] = reason
	return nil
}

func (f *fakeScheduleRepo) CancelSchedule(_ context.Context, scheduleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.schedules[scheduleID]
	if !ok {
		return repository.ErrNotFound
	}
	s.Status = domain.ScheduleCancelled
	s.QueueJobID = ""
	s.UpdatedAt = time.Now()
	f.schedules[scheduleID] = s
	return nil
}

var _ repository.ScheduleRepository = (*fakeScheduleRepo)(nil)

type fakeDeployer struct {
	mu       sync.Mutex
	created  []string
	outcome  bool
	executed int
}

func (f *fakeDeployer) Create(_ context.Context, projectID, actor string, opts deploy.CreateOptions) (*domain.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, projectID)
	return &domain.Deployment{
		ID:            "dep-" + projectID,
		ProjectID:     projectID,
		EnvironmentID: opts.EnvironmentID,
		TriggeredBy:   actor,
		Status:        domain.DeploymentPending,
	}, nil
}

func (f *fakeDeployer) Execute(context.Context, *domain.Deployment) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed++
	return f.outcome
}

var _ Deployer = (*fakeDeployer)(nil)

type fakeProjectRepo struct {
	projects map[string]domain.Project
}

func (f *fakeProjectRepo) CreateProject(_ context.Context, project *domain.Project) error {
	f.projects[project.ID] = *project
	return nil
}

func (f *fakeProjectRepo) GetProjectByID(_ context.Context, projectID string) (*domain.Project, error) {
	p, ok := f.projects[projectID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := p
	return &out, nil
}

func (f *fakeProjectRepo) ListProjects(context.Context) ([]domain.Project, error) {
	var out []domain.Project
	for _, p := range f.projects {
		out = append(out, p)
	}
	return out, nil
}

var _ repository.ProjectRepository = (*fakeProjectRepo)(nil)
