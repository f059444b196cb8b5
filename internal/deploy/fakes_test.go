package deploy

import (
	"context"
	"sync"

	"github.com/gantrydev/gantry/internal/domain"
	"github.com/gantrydev/gantry/internal/repository"
)

type fakeProjectRepo struct {
	projects map[string]domain.Project
}

func (f *fakeProjectRepo) CreateProject(_ context.Context, project *domain.Project) error {
	if f.projects == nil {
		f.projects = make(map[string]domain.Project)
	}
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

type fakeDeploymentRepo struct {
	mu          sync.Mutex
	deployments map[string]domain.Deployment
	logs        map[string][]string
}

func newFakeDeploymentRepo() *fakeDeploymentRepo {
	return &fakeDeploymentRepo{
		deployments: make(map[string]domain.Deployment),
		logs:        make(map[string][]string),
	}
}

func (f *fakeDeploymentRepo) CreateDeployment(_ context.Context, deployment *domain.Deployment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deployments[deployment.ID] = *deployment
	return nil
}

func (f *fakeDeploymentRepo) GetDeploymentByID(_ context.Context, deploymentID string) (*domain.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deployments[deploymentID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := d
	return &out, nil
}

func (f *fakeDeploymentRepo) UpdateDeploymentStatus(_ context.Context, update domain.DeploymentStatusUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deployments[update.DeploymentID]
	if !ok {
		return repository.ErrNotFound
	}
	d.Status = update.Status
	if update.Log != "" {
		d.Log = update.Log
	}
	if update.StartedAt != nil {
		d.StartedAt = update.StartedAt
	}
	if update.CompletedAt != nil {
		d.CompletedAt = update.CompletedAt
	}
	f.deployments[update.DeploymentID] = d
	return nil
}

func (f *fakeDeploymentRepo) AppendDeploymentLog(_ context.Context, deploymentID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs[deploymentID] = append(f.logs[deploymentID], text)
	return nil
}

func (f *fakeDeploymentRepo) ListDeploymentsByProject(_ context.Context, projectID string, limit int) ([]domain.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Deployment
	for _, d := range f.deployments {
		if d.ProjectID == projectID {
			out = append(out, d)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

type fakeStageRepo struct {
	mu     sync.Mutex
	stages []domain.PipelineStage
}

func (f *fakeStageRepo) CreateStages(_ context.Context, stages []domain.PipelineStage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stages = append(f.stages, stages...)
	return nil
}

func (f *fakeStageRepo) ListStagesByDeployment(_ context.Context, deploymentID string) ([]domain.PipelineStage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.PipelineStage
	for _, s := range f.stages {
		if s.DeploymentID == deploymentID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStageRepo) UpdateStage(_ context.Context, stage *domain.PipelineStage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.stages {
		if f.stages[i].ID == stage.ID {
			f.stages[i] = *stage
			return nil
		}
	}
	return repository.ErrNotFound
}

type fakePolicyRepo struct {
	policy *domain.SecurityPolicy
}

func (f *fakePolicyRepo) CreatePolicy(_ context.Context, policy *domain.SecurityPolicy) error {
	f.policy = policy
	return nil
}

func (f *fakePolicyRepo) GetActivePolicyForProject(context.Context, string) (*domain.SecurityPolicy, error) {
	if f.policy == nil {
		return nil, repository.ErrNotFound
	}
	return f.policy, nil
}

type fakeScanRepo struct {
	mu       sync.Mutex
	findings []domain.SecurityScanResult
}

func (f *fakeScanRepo) InsertScanResults(_ context.Context, results []domain.SecurityScanResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findings = append(f.findings, results...)
	return nil
}

func (f *fakeScanRepo) ListOpenFindings(_ context.Context, deploymentID string) ([]domain.SecurityScanResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.SecurityScanResult
	for _, finding := range f.findings {
		if finding.DeploymentID == deploymentID && finding.Status == domain.FindingOpen {
			out = append(out, finding)
		}
	}
	return out, nil
}

func (f *fakeScanRepo) AcknowledgeFinding(_ context.Context, findingID, actor, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.findings {
		if f.findings[i].ID == findingID {
			f.findings[i].Status = domain.FindingAcknowledged
			f.findings[i].AcknowledgedBy = actor
			f.findings[i].AckReason = reason
			return nil
		}
	}
	return repository.ErrNotFound
}

type fakeNotifier struct {
	mu        sync.Mutex
	terminals []domain.DeploymentStatus
	stages    []string
}

func (f *fakeNotifier) NotifyTerminal(_ context.Context, _ *domain.Deployment, terminal domain.DeploymentStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminals = append(f.terminals, terminal)
}

func (f *fakeNotifier) PublishStage(_ context.Context, _ *domain.Deployment, stage *domain.PipelineStage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stages = append(f.stages, stage.Name+":"+string(stage.Status))
}

// stubExecutor resolves stage work from a per-stage-name script. Missing names
// succeed with empty output.
type stubExecutor struct {
	results map[string]error
	ran     []string
}

func (s *stubExecutor) ExecuteStage(_ context.Context, _ *domain.Project, _ *domain.Deployment, stage *domain.PipelineStage, _ string) (string, error) {
	s.ran = append(s.ran, stage.Name)
	if err, ok := s.results[stage.Name]; ok && err != nil {
		return "", err
	}
	return "ok", nil
}

var (
	_ repository.ProjectRepository    = (*fakeProjectRepo)(nil)
	_ repository.DeploymentRepository = (*fakeDeploymentRepo)(nil)
	_ repository.StageRepository      = (*fakeStageRepo)(nil)
	_ repository.PolicyRepository     = (*fakePolicyRepo)(nil)
	_ repository.ScanResultRepository = (*fakeScanRepo)(nil)
	_ StageExecutor                   = (*stubExecutor)(nil)
)
