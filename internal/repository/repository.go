package repository

import (
	"context"
	"time"

	"github.com/gantrydev/gantry/internal/domain"
)

// ProjectRepository persists registered projects.
type ProjectRepository interface {
	CreateProject(ctx context.Context, project *domain.Project) error
	GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error)
	ListProjects(ctx context.Context) ([]domain.Project, error)
}

// DeploymentRepository stores deployment history.
type DeploymentRepository interface {
	CreateDeployment(ctx context.Context, deployment *domain.Deployment) error
	GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error)
	UpdateDeploymentStatus(ctx context.Context, update domain.DeploymentStatusUpdate) error
	AppendDeploymentLog(ctx context.Context, deploymentID, text string) error
	ListDeploymentsByProject(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error)
}

// StageRepository persists pipeline stages. Stages are created in bulk when a
// pipeline is built and are never re-ordered afterwards.
type StageRepository interface {
	CreateStages(ctx context.Context, stages []domain.PipelineStage) error
	ListStagesByDeployment(ctx context.Context, deploymentID string) ([]domain.PipelineStage, error)
	UpdateStage(ctx context.Context, stage *domain.PipelineStage) error
}

// ScanResultRepository retains scanner findings as an audit trail.
type ScanResultRepository interface {
	InsertScanResults(ctx context.Context, results []domain.SecurityScanResult) error
	ListOpenFindings(ctx context.Context, deploymentID string) ([]domain.SecurityScanResult, error)
	AcknowledgeFinding(ctx context.Context, findingID, actor, reason string) error
}

// PolicyRepository resolves the authoritative security policy. The explicit
// per-project policy overrides the system default.
type PolicyRepository interface {
	CreatePolicy(ctx context.Context, policy *domain.SecurityPolicy) error
	GetActivePolicyForProject(ctx context.Context, projectID string) (*domain.SecurityPolicy, error)
}

// ScheduleRepository persists scheduled deployment triggers. ClaimSchedule is
// the compare-and-set gate between a worker and a concurrent stale
// reconciliation: it succeeds only while the item is still queued under the
// given job identifier.
type ScheduleRepository interface {
	CreateSchedule(ctx context.Context, schedule *domain.ScheduledDeployment) error
	GetScheduleByID(ctx context.Context, scheduleID string) (*domain.ScheduledDeployment, error)
	ListDueSchedules(ctx context.Context, now time.Time) ([]domain.ScheduledDeployment, error)
	ListStaleQueued(ctx context.Context, updatedBefore time.Time) ([]domain.ScheduledDeployment, error)
	MarkQueued(ctx context.Context, scheduleID, jobID string) error
	ResetToPending(ctx context.Context, scheduleID string) error
	ClaimSchedule(ctx context.Context, scheduleID, jobID string) (bool, error)
	CompleteScheduleRun(ctx context.Context, update domain.ScheduleRunUpdate) error
	MarkScheduleFailed(ctx context.Context, scheduleID, reason string) error
	CancelSchedule(ctx context.Context, scheduleID string) error
}
