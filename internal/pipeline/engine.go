package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/gantrydev/gantry/internal/domain"
	"github.com/gantrydev/gantry/internal/repository"
)

var (
	// ErrUnknownTemplate signals a pipeline build against a template name
	// that was never registered.
	ErrUnknownTemplate = errors.New("pipeline: unknown template")

	// ErrInvalidTransition signals a stage state machine misuse. It is a
	// programming error and is never retried.
	ErrInvalidTransition = errors.New("pipeline: invalid stage transition")
)

// Engine drives the stage state machine for a deployment. Stages move
// pending -> running -> {success|failed|skipped}, with pending -> skipped as
// the only other transition (an earlier stage failed, or the deployment was
// cancelled). Terminal states admit no further transitions.
type Engine struct {
	stages    repository.StageRepository
	templates *TemplateRegistry
	logger    *slog.Logger

	now func() time.Time
}

// New constructs an Engine.
func New(stages repository.StageRepository, templates *TemplateRegistry, logger *slog.Logger) *Engine {
	return &Engine{
		stages:    stages,
		templates: templates,
		logger:    logger,
		now:       time.Now,
	}
}

// BuildPipeline materializes the ordered stage list for a deployment: the
// named template's stages, then one security scan stage per required scan
// type, then a final security evaluation stage. All stages are persisted as
// pending in a single batch.
func (e *Engine) BuildPipeline(ctx context.Context, deployment *domain.Deployment, templateName string, scanTypes []domain.ScanType) ([]domain.PipelineStage, error) {
	if templateName == "" {
		templateName = DefaultTemplate
	}
	tmpl, ok := e.templates.Get(templateName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTemplate, templateName)
	}

	now := e.now().UTC()
	stages := make([]domain.PipelineStage, 0, len(tmpl.Stages)+len(scanTypes)+1)
	order := 1
	for _, ts := range tmpl.Stages {
		stages = append(stages, domain.PipelineStage{
			ID:           uuid.NewString(),
			DeploymentID: deployment.ID,
			Name:         ts.Name,
			DisplayName:  ts.DisplayName,
			Order:        order,
			Status:       domain.StagePending,
			Metadata:     stageMeta(map[string]string{"description": ts.Description}),
			CreatedAt:    now,
		})
		order++
	}
	for _, st := range scanTypes {
		stages = append(stages, domain.PipelineStage{
			ID:           uuid.NewString(),
			DeploymentID: deployment.ID,
			Name:         "scan_" + string(st),
			DisplayName:  scanDisplayName(st),
			Order:        order,
			Status:       domain.StagePending,
			Metadata: stageMeta(map[string]string{
				domain.StageMetaScanType:  string(st),
				domain.StageMetaStageType: domain.StageTypeSecurityScan,
			}),
			CreatedAt: now,
		})
		order++
	}
	stages = append(stages, domain.PipelineStage{
		ID:           uuid.NewString(),
		DeploymentID: deployment.ID,
		Name:         "security_evaluation",
		DisplayName:  "Security Evaluation",
		Order:        order,
		Status:       domain.StagePending,
		Metadata: stageMeta(map[string]string{
			domain.StageMetaStageType: domain.StageTypeSecurityEvaluation,
		}),
		CreatedAt: now,
	})

	if err := e.stages.CreateStages(ctx, stages); err != nil {
		return nil, fmt.Errorf("persist pipeline stages: %w", err)
	}
	e.logger.Info("pipeline built", "deployment_id", deployment.ID, "template", templateName, "stages", len(stages))
	return stages, nil
}

// ExecuteNextStage returns the currently running stage if one exists, else the
// lowest-order pending stage, else nil when every stage is terminal. It is the
// scheduling primitive the executor loop consumes and does not run any work.
func (e *Engine) ExecuteNextStage(ctx context.Context, deploymentID string) (*domain.PipelineStage, error) {
	stages, err := e.stages.ListStagesByDeployment(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	sort.Slice(stages, func(i, j int) bool { return stages[i].Order < stages[j].Order })
	for i := range stages {
		if stages[i].Status == domain.StageRunning {
			return &stages[i], nil
		}
	}
	for i := range stages {
		if stages[i].Status == domain.StagePending {
			return &stages[i], nil
		}
	}
	return nil, nil
}

// StartStage transitions a pending stage to running, stamping the start time.
func (e *Engine) StartStage(ctx context.Context, stage *domain.PipelineStage) error {
	if stage.Status != domain.StagePending {
		return fmt.Errorf("%w: start %s stage %q", ErrInvalidTransition, stage.Status, stage.Name)
	}
	started := e.now().UTC()
	stage.Status = domain.StageRunning
	stage.StartedAt = &started
	if err := e.stages.UpdateStage(ctx, stage); err != nil {
		return err
	}
	e.logger.Info("stage started", "deployment_id", stage.DeploymentID, "stage", stage.Name, "order", stage.Order)
	return nil
}

// CompleteStage transitions a running stage to the given terminal outcome,
// stamping end time and duration. On failure every later non-terminal stage is
// skipped and nil is returned: the pipeline halts. On success the next pending
// stage is returned, or nil when the pipeline is complete. A skipped outcome
// records a stage bypassed by policy and does not halt the pipeline.
func (e *Engine) CompleteStage(ctx context.Context, stage *domain.PipelineStage, outcome domain.StageStatus, output, errorMessage string) (*domain.PipelineStage, error) {
	switch outcome {
	case domain.StageSuccess, domain.StageFailed, domain.StageSkipped:
	default:
		return nil, fmt.Errorf("%w: outcome %q", ErrInvalidTransition, outcome)
	}
	if stage.Status != domain.StageRunning {
		return nil, fmt.Errorf("%w: complete %s stage %q", ErrInvalidTransition, stage.Status, stage.Name)
	}

	completed := e.now().UTC()
	stage.Status = outcome
	stage.CompletedAt = &completed
	stage.Output = output
	stage.Error = errorMessage
	if stage.StartedAt != nil {
		secs := int64(completed.Sub(*stage.StartedAt).Seconds())
		if secs < 0 {
			secs = 0
		}
		stage.DurationSeconds = &secs
	}
	if err := e.stages.UpdateStage(ctx, stage); err != nil {
		return nil, err
	}
	e.logger.Info("stage completed", "deployment_id", stage.DeploymentID, "stage", stage.Name, "outcome", outcome)

	if outcome == domain.StageFailed {
		if err := e.skipAfter(ctx, stage); err != nil {
			return nil, err
		}
		return nil, nil
	}

	stages, err := e.stages.ListStagesByDeployment(ctx, stage.DeploymentID)
	if err != nil {
		return nil, err
	}
	sort.Slice(stages, func(i, j int) bool { return stages[i].Order < stages[j].Order })
	for i := range stages {
		if stages[i].Status == domain.StagePending {
			return &stages[i], nil
		}
	}
	return nil, nil
}

// ListStages returns a deployment's stages ordered by execution order.
func (e *Engine) ListStages(ctx context.Context, deploymentID string) ([]domain.PipelineStage, error) {
	stages, err := e.stages.ListStagesByDeployment(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	sort.Slice(stages, func(i, j int) bool { return stages[i].Order < stages[j].Order })
	return stages, nil
}

// SkipRemaining marks every non-terminal stage of a deployment skipped. Used
// when a deployment is cancelled mid-run.
func (e *Engine) SkipRemaining(ctx context.Context, deploymentID, reason string) error {
	stages, err := e.stages.ListStagesByDeployment(ctx, deploymentID)
	if err != nil {
		return err
	}
	now := e.now().UTC()
	for i := range stages {
		if stages[i].Status.Terminal() {
			continue
		}
		stages[i].Status = domain.StageSkipped
		stages[i].CompletedAt = &now
		stages[i].Error = reason
		if err := e.stages.UpdateStage(ctx, &stages[i]); err != nil {
			return err
		}
	}
	return nil
}

// DeriveStatus computes the deployment status implied by its stages: failed if
// any stage failed, success if every stage ended success or skipped, running
// otherwise. Cancellation is never derived; it is an explicit operation.
func DeriveStatus(stages []domain.PipelineStage) domain.DeploymentStatus {
	if len(stages) == 0 {
		return domain.DeploymentPending
	}
	allDone := true
	for _, s := range stages {
		if s.Status == domain.StageFailed {
			return domain.DeploymentFailed
		}
		if !s.Status.Terminal() {
			allDone = false
		}
	}
	if allDone {
		return domain.DeploymentSuccess
	}
	return domain.DeploymentRunning
}

func (e *Engine) skipAfter(ctx context.Context, failed *domain.PipelineStage) error {
	stages, err := e.stages.ListStagesByDeployment(ctx, failed.DeploymentID)
	if err != nil {
		return err
	}
	now := e.now().UTC()
	reason := fmt.Sprintf("skipped: stage %q failed", failed.Name)
	for i := range stages {
		if stages[i].Order <= failed.Order || stages[i].Status.Terminal() {
			continue
		}
		stages[i].Status = domain.StageSkipped
		stages[i].CompletedAt = &now
		stages[i].Error = reason
		if err := e.stages.UpdateStage(ctx, &stages[i]); err != nil {
			return err
		}
	}
	return nil
}

func scanDisplayName(st domain.ScanType) string {
	switch st {
	case domain.ScanStatic:
		return "Static Analysis Scan"
	case domain.ScanDependency:
		return "Dependency Audit"
	case domain.ScanSecrets:
		return "Secret Detection"
	default:
		return "Security Scan (" + string(st) + ")"
	}
}

func stageMeta(values map[string]string) json.RawMessage {
	data, err := json.Marshal(values)
	if err != nil {
		return nil
	}
	return data
}
