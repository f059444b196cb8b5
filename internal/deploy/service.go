package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/gantrydev/gantry/internal/domain"
	"github.com/gantrydev/gantry/internal/pipeline"
	"github.com/gantrydev/gantry/internal/repository"
	"github.com/gantrydev/gantry/internal/security"
)

// ErrInvalidState signals an operation against a deployment whose status does
// not permit it, such as cancelling an already terminal deployment.
var ErrInvalidState = errors.New("deploy: invalid deployment state")

// Notifier receives terminal deployment outcomes and stage progress. Delivery
// is fire-and-forget; implementations must not block the pipeline.
type Notifier interface {
	NotifyTerminal(ctx context.Context, deployment *domain.Deployment, terminal domain.DeploymentStatus)
	PublishStage(ctx context.Context, deployment *domain.Deployment, stage *domain.PipelineStage)
}

// Options tunes lifecycle behavior.
type Options struct {
	WorkspaceRoot string
	StageTimeout  time.Duration
	DeployTimeout time.Duration
}

// CreateOptions carries per-deployment parameters for Create.
type CreateOptions struct {
	EnvironmentID string
	CommitSHA     string
}

// Service owns the deployment lifecycle: create, execute, rollback, cancel.
// It drives the pipeline engine and records the final deployment status; the
// actual stage work is delegated to the injected executor and the scanner
// registry. No error escapes Execute: failures become a failed stage and a
// failed deployment.
type Service struct {
	projects    repository.ProjectRepository
	deployments repository.DeploymentRepository
	policies    repository.PolicyRepository
	findings    repository.ScanResultRepository
	engine      *pipeline.Engine
	evaluator   *security.Evaluator
	scanners    *security.Registry
	executor    StageExecutor
	notifier    Notifier
	logger      *slog.Logger
	opts        Options

	now func() time.Time
}

// New constructs the lifecycle service.
func New(
	projects repository.ProjectRepository,
	deployments repository.DeploymentRepository,
	policies repository.PolicyRepository,
	findings repository.ScanResultRepository,
	engine *pipeline.Engine,
	evaluator *security.Evaluator,
	scanners *security.Registry,
	executor StageExecutor,
	notifier Notifier,
	logger *slog.Logger,
	opts Options,
) *Service {
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = 15 * time.Minute
	}
	if opts.DeployTimeout <= 0 {
		opts.DeployTimeout = time.Hour
	}
	registerMetrics()
	return &Service{
		projects:    projects,
		deployments: deployments,
		policies:    policies,
		findings:    findings,
		engine:      engine,
		evaluator:   evaluator,
		scanners:    scanners,
		executor:    executor,
		notifier:    notifier,
		logger:      logger,
		opts:        opts,
		now:         time.Now,
	}
}

// Create inserts a pending deployment. No remote systems are touched.
func (s *Service) Create(ctx context.Context, projectID, actor string, opts CreateOptions) (*domain.Deployment, error) {
	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	deployment := &domain.Deployment{
		ID:            uuid.NewString(),
		ProjectID:     project.ID,
		EnvironmentID: opts.EnvironmentID,
		TriggeredBy:   actor,
		CommitSHA:     coalesce(opts.CommitSHA, "HEAD"),
		Status:        domain.DeploymentPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.deployments.CreateDeployment(ctx, deployment); err != nil {
		return nil, err
	}
	s.logger.Info("deployment created", "deployment_id", deployment.ID, "project_id", project.ID, "actor", actor)
	return deployment, nil
}

// CreateRollback creates a fresh deployment that reverts to the target
// deployment's recorded commit. The target itself is never mutated; callers
// run the result through Execute like any other deployment.
func (s *Service) CreateRollback(ctx context.Context, projectID, targetDeploymentID, actor, reason string) (*domain.Deployment, error) {
	target, err := s.deployments.GetDeploymentByID(ctx, targetDeploymentID)
	if err != nil {
		return nil, err
	}
	if target.ProjectID != projectID {
		return nil, fmt.Errorf("deployment %s does not belong to project %s", targetDeploymentID, projectID)
	}
	now := s.now().UTC()
	targetID := target.ID
	rollback := &domain.Deployment{
		ID:               uuid.NewString(),
		ProjectID:        target.ProjectID,
		EnvironmentID:    target.EnvironmentID,
		TriggeredBy:      actor,
		CommitSHA:        target.CommitSHA,
		Status:           domain.DeploymentPending,
		IsRollback:       true,
		RollbackTargetID: &targetID,
		RollbackReason:   reason,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.deployments.CreateDeployment(ctx, rollback); err != nil {
		return nil, err
	}
	s.logger.Info("rollback created", "deployment_id", rollback.ID, "target_id", targetID, "actor", actor, "reason", reason)
	return rollback, nil
}

// Execute builds the pipeline and drives it stage by stage until every stage
// is terminal. It returns true iff the deployment ends in success.
func (s *Service) Execute(ctx context.Context, deployment *domain.Deployment) bool {
	ctx, cancel := context.WithTimeout(ctx, s.opts.DeployTimeout)
	defer cancel()

	project, err := s.projects.GetProjectByID(ctx, deployment.ProjectID)
	if err != nil {
		s.failBeforeRun(ctx, deployment, fmt.Errorf("load project: %w", err))
		return false
	}
	policy, err := s.policies.GetActivePolicyForProject(ctx, deployment.ProjectID)
	if err != nil {
		s.failBeforeRun(ctx, deployment, fmt.Errorf("resolve security policy: %w", err))
		return false
	}

	scanTypes, err := s.plannedScans(policy, deployment.EnvironmentID)
	if err != nil {
		s.failBeforeRun(ctx, deployment, err)
		return false
	}

	if _, err := s.engine.BuildPipeline(ctx, deployment, project.PipelineTemplate, scanTypes); err != nil {
		s.failBeforeRun(ctx, deployment, err)
		return false
	}

	started := s.now().UTC()
	s.applyStatus(ctx, domain.DeploymentStatusUpdate{
		DeploymentID: deployment.ID,
		Status:       domain.DeploymentRunning,
		StartedAt:    &started,
	})
	deployment.Status = domain.DeploymentRunning
	deployment.StartedAt = &started

	workdir := WorkspacePath(s.opts.WorkspaceRoot, deployment.ID)
	for {
		stage, err := s.engine.ExecuteNextStage(ctx, deployment.ID)
		if err != nil {
			s.logger.Error("select next stage failed", "deployment_id", deployment.ID, "error", err)
			break
		}
		if stage == nil {
			break
		}
		if cancelled := s.refreshCancelled(ctx, deployment); cancelled {
			return false
		}
		if stage.Status == domain.StagePending {
			if err := s.engine.StartStage(ctx, stage); err != nil {
				s.logger.Error("start stage failed", "deployment_id", deployment.ID, "stage", stage.Name, "error", err)
				break
			}
			s.notifier.PublishStage(ctx, deployment, stage)
		}

		output, runErr := s.runStage(ctx, project, deployment, policy, stage, workdir)
		var next *domain.PipelineStage
		switch {
		case errors.Is(runErr, ErrSkipStage):
			next, err = s.engine.CompleteStage(ctx, stage, domain.StageSkipped, output, runErr.Error())
		case runErr != nil:
			_, err = s.engine.CompleteStage(ctx, stage, domain.StageFailed, output, runErr.Error())
			next = nil
		default:
			next, err = s.engine.CompleteStage(ctx, stage, domain.StageSuccess, output, "")
		}
		if err != nil {
			s.logger.Error("complete stage failed", "deployment_id", deployment.ID, "stage", stage.Name, "error", err)
			break
		}
		s.notifier.PublishStage(ctx, deployment, stage)
		if stage.DurationSeconds != nil {
			observeStage(stage.Name, string(stage.Status), float64(*stage.DurationSeconds))
		}
		if runErr != nil && !errors.Is(runErr, ErrSkipStage) {
			s.appendLog(ctx, deployment.ID, fmt.Sprintf("stage %s failed: %v", stage.Name, runErr))
			break
		}
		if next == nil && runErr == nil {
			break
		}
	}

	return s.finish(ctx, deployment)
}

// Cancel marks a pending or running deployment cancelled and skips every
// non-terminal stage. Cancellation is cooperative: in-flight remote work is
// not preempted, the pipeline stops at its next decision point.
func (s *Service) Cancel(ctx context.Context, deployment *domain.Deployment) error {
	if deployment.Status.Terminal() {
		return fmt.Errorf("%w: cannot cancel %s deployment", ErrInvalidState, deployment.Status)
	}
	now := s.now().UTC()
	update := domain.DeploymentStatusUpdate{
		DeploymentID: deployment.ID,
		Status:       domain.DeploymentCancelled,
		CompletedAt:  &now,
	}
	if err := s.deployments.UpdateDeploymentStatus(ctx, update); err != nil {
		return err
	}
	deployment.Status = domain.DeploymentCancelled
	deployment.CompletedAt = &now
	if err := s.engine.SkipRemaining(ctx, deployment.ID, "deployment cancelled"); err != nil {
		s.logger.Warn("skip remaining stages failed", "deployment_id", deployment.ID, "error", err)
	}
	s.logger.Info("deployment cancelled", "deployment_id", deployment.ID)
	return nil
}

// AcknowledgeFinding records a triage decision on a scan finding.
func (s *Service) AcknowledgeFinding(ctx context.Context, findingID, actor, reason string) error {
	return s.findings.AcknowledgeFinding(ctx, findingID, actor, reason)
}

// plannedScans returns the scan stages this run will carry: every required
// type minus those marked optional for the environment. A required type with
// no registered scanner is a policy misconfiguration, fatal before execution.
func (s *Service) plannedScans(policy *domain.SecurityPolicy, environment string) ([]domain.ScanType, error) {
	available := make(map[domain.ScanType]struct{})
	for _, t := range s.scanners.Types() {
		available[t] = struct{}{}
	}
	var planned []domain.ScanType
	for _, required := range policy.RequiredScanTypes {
		if _, ok := available[required]; !ok {
			if policy.ScanOptional(environment, required) {
				continue
			}
			return nil, fmt.Errorf("%w: %s", security.ErrMissingScanType, required)
		}
		planned = append(planned, required)
	}
	return planned, nil
}

func (s *Service) runStage(ctx context.Context, project *domain.Project, deployment *domain.Deployment, policy *domain.SecurityPolicy, stage *domain.PipelineStage, workdir string) (output string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage panicked: %v", r)
		}
	}()

	switch stage.MetaValue(domain.StageMetaStageType) {
	case domain.StageTypeSecurityScan:
		return s.runScanStage(ctx, project, deployment, policy, stage, workdir)
	case domain.StageTypeSecurityEvaluation:
		return s.runEvaluationStage(ctx, deployment, policy)
	default:
		stageCtx, cancel := context.WithTimeout(ctx, s.opts.StageTimeout)
		defer cancel()
		return s.executor.ExecuteStage(stageCtx, project, deployment, stage, workdir)
	}
}

func (s *Service) runScanStage(ctx context.Context, project *domain.Project, deployment *domain.Deployment, policy *domain.SecurityPolicy, stage *domain.PipelineStage, workdir string) (string, error) {
	scanType := domain.ScanType(stage.MetaValue(domain.StageMetaScanType))
	if policy.ScanOptional(deployment.EnvironmentID, scanType) {
		return "", fmt.Errorf("%w: %s optional for environment %s", ErrSkipStage, scanType, deployment.EnvironmentID)
	}

	cfg := security.Config{
		ProjectPath:   workdir,
		RepositoryURL: project.RepoURL,
		Branch:        project.DefaultBranch,
		Timeout:       policy.ScanTimeout,
		MaxRetries:    policy.MaxScanRetries,
	}
	findings, err := s.scanners.Run(ctx, scanType, cfg)
	if err != nil {
		return "", err
	}
	if len(findings) == 0 {
		return fmt.Sprintf("%s: no findings", scanType), nil
	}
	stageID := stage.ID
	for i := range findings {
		findings[i].DeploymentID = deployment.ID
		findings[i].StageID = &stageID
	}
	if err := s.findings.InsertScanResults(ctx, findings); err != nil {
		return "", fmt.Errorf("persist scan findings: %w", err)
	}
	return fmt.Sprintf("%s: %d findings recorded", scanType, len(findings)), nil
}

func (s *Service) runEvaluationStage(ctx context.Context, deployment *domain.Deployment, policy *domain.SecurityPolicy) (string, error) {
	eval, err := s.evaluator.Evaluate(ctx, deployment.ID, policy, deployment.EnvironmentID)
	if err != nil {
		return "", err
	}
	if !eval.CanDeploy {
		return "", fmt.Errorf("security policy violation: %s", eval.ViolationMessage)
	}
	var parts []string
	for _, sev := range domain.Severities {
		if eval.Counts[sev] > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", sev, eval.Counts[sev]))
		}
	}
	if len(parts) == 0 {
		return "security evaluation passed: no open findings", nil
	}
	return "security evaluation passed: " + strings.Join(parts, " "), nil
}

// finish derives the terminal status from the stage outcomes, persists it,
// and delivers the terminal notification.
func (s *Service) finish(ctx context.Context, deployment *domain.Deployment) bool {
	if cancelled := s.refreshCancelled(ctx, deployment); cancelled {
		return false
	}

	status := domain.DeploymentFailed
	if stages, err := s.engine.ListStages(ctx, deployment.ID); err == nil {
		status = pipeline.DeriveStatus(stages)
		if !status.Terminal() {
			// A non-terminal stage after the loop means the loop aborted on
			// an internal error. Close out the pipeline and record a failure.
			_ = s.engine.SkipRemaining(ctx, deployment.ID, "pipeline aborted")
			status = domain.DeploymentFailed
		}
	}

	now := s.now().UTC()
	s.applyStatus(ctx, domain.DeploymentStatusUpdate{
		DeploymentID: deployment.ID,
		Status:       status,
		CompletedAt:  &now,
	})
	deployment.Status = status
	deployment.CompletedAt = &now

	deployResults.WithLabelValues(string(status)).Inc()
	s.notifier.NotifyTerminal(ctx, deployment, status)
	s.logger.Info("deployment finished", "deployment_id", deployment.ID, "status", status)
	return status == domain.DeploymentSuccess
}

func (s *Service) failBeforeRun(ctx context.Context, deployment *domain.Deployment, cause error) {
	now := s.now().UTC()
	s.applyStatus(ctx, domain.DeploymentStatusUpdate{
		DeploymentID: deployment.ID,
		Status:       domain.DeploymentFailed,
		Log:          cause.Error(),
		CompletedAt:  &now,
	})
	deployment.Status = domain.DeploymentFailed
	deployment.CompletedAt = &now
	deployResults.WithLabelValues(string(domain.DeploymentFailed)).Inc()
	s.notifier.NotifyTerminal(ctx, deployment, domain.DeploymentFailed)
	s.logger.Error("deployment failed before pipeline run", "deployment_id", deployment.ID, "error", cause)
}

func (s *Service) refreshCancelled(ctx context.Context, deployment *domain.Deployment) bool {
	current, err := s.deployments.GetDeploymentByID(ctx, deployment.ID)
	if err != nil {
		return false
	}
	if current.Status == domain.DeploymentCancelled {
		deployment.Status = domain.DeploymentCancelled
		s.logger.Info("deployment cancelled mid-run, halting", "deployment_id", deployment.ID)
		return true
	}
	return false
}

func (s *Service) applyStatus(ctx context.Context, update domain.DeploymentStatusUpdate) {
	if err := s.deployments.UpdateDeploymentStatus(ctx, update); err != nil {
		s.logger.Warn("update deployment status failed", "deployment_id", update.DeploymentID, "error", err)
	}
}

func (s *Service) appendLog(ctx context.Context, deploymentID, text string) {
	if err := s.deployments.AppendDeploymentLog(ctx, deploymentID, text); err != nil {
		s.logger.Warn("append deployment log failed", "deployment_id", deploymentID, "error", err)
	}
}
