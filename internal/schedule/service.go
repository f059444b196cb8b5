package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/gantrydev/gantry/internal/domain"
	"github.com/gantrydev/gantry/internal/repository"
)

// ErrInvalidState signals a schedule operation against a status that does not
// permit it.
var ErrInvalidState = errors.New("schedule: invalid schedule state")

// CreateInput carries the operator request for a new scheduled deployment.
type CreateInput struct {
	ProjectID         string
	EnvironmentID     string
	UserID            string
	ScheduledAt       time.Time
	IsRecurring       bool
	RecurrencePattern domain.RecurrencePattern
	Description       string
}

// Service validates and persists schedule requests. Execution is the
// dispatcher's and worker's business.
type Service struct {
	projects  repository.ProjectRepository
	schedules repository.ScheduleRepository
	logger    *slog.Logger

	now func() time.Time
}

// NewService constructs a schedule Service.
func NewService(projects repository.ProjectRepository, schedules repository.ScheduleRepository, logger *slog.Logger) *Service {
	return &Service{projects: projects, schedules: schedules, logger: logger, now: time.Now}
}

// Create validates and stores a pending schedule. An unrecognized recurrence
// pattern on a recurring schedule is rejected up front rather than left to
// fail at completion time.
func (s *Service) Create(ctx context.Context, input CreateInput) (*domain.ScheduledDeployment, error) {
	if strings.TrimSpace(input.ProjectID) == "" {
		return nil, fmt.Errorf("project id required")
	}
	if input.ScheduledAt.IsZero() {
		return nil, fmt.Errorf("scheduled time required")
	}
	if input.IsRecurring {
		if _, err := NextRun(input.ScheduledAt, input.RecurrencePattern); err != nil {
			return nil, fmt.Errorf("%w: %q", ErrUnknownRecurrence, input.RecurrencePattern)
		}
	}
	if _, err := s.projects.GetProjectByID(ctx, input.ProjectID); err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}

	now := s.now().UTC()
	scheduledAt := input.ScheduledAt.UTC()
	sched := &domain.ScheduledDeployment{
		ID:                uuid.NewString(),
		ProjectID:         input.ProjectID,
		EnvironmentID:     input.EnvironmentID,
		UserID:            input.UserID,
		ScheduledAt:       scheduledAt,
		Status:            domain.SchedulePending,
		IsRecurring:       input.IsRecurring,
		RecurrencePattern: input.RecurrencePattern,
		NextRunAt:         &scheduledAt,
		Description:       input.Description,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.schedules.CreateSchedule(ctx, sched); err != nil {
		return nil, err
	}
	s.logger.Info("schedule created",
		"schedule_id", sched.ID, "project_id", sched.ProjectID, "scheduled_at", sched.ScheduledAt, "recurring", sched.IsRecurring)
	return sched, nil
}

// Cancel withdraws a schedule that has not been picked up by a worker yet.
// Cancellation is available from pending and queued only.
func (s *Service) Cancel(ctx context.Context, scheduleID string) error {
	sched, err := s.schedules.GetScheduleByID(ctx, scheduleID)
	if err != nil {
		return err
	}
	switch sched.Status {
	case domain.SchedulePending, domain.ScheduleQueued:
	default:
		return fmt.Errorf("%w: cannot cancel %s schedule", ErrInvalidState, sched.Status)
	}
	if err := s.schedules.CancelSchedule(ctx, scheduleID); err != nil {
		return err
	}
	s.logger.Info("schedule cancelled", "schedule_id", scheduleID)
	return nil
}
