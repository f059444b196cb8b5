package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gantrydev/gantry/internal/domain"
	"github.com/gantrydev/gantry/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.ProjectRepository    = (*Repository)(nil)
	_ repository.DeploymentRepository = (*Repository)(nil)
	_ repository.StageRepository      = (*Repository)(nil)
	_ repository.ScanResultRepository = (*Repository)(nil)
	_ repository.PolicyRepository     = (*Repository)(nil)
	_ repository.ScheduleRepository   = (*Repository)(nil)
)

// CreateProject inserts a project.
func (r *Repository) CreateProject(ctx context.Context, project *domain.Project) error {
	const query = `INSERT INTO projects (id, name, repo_url, default_branch, build_command, deploy_command, pipeline_template, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.pool.Exec(ctx, query, project.ID, project.Name, project.RepoURL, project.DefaultBranch,
		project.BuildCommand, project.DeployCommand, project.PipelineTemplate, project.CreatedAt)
	return err
}

// GetProjectByID fetches project details.
func (r *Repository) GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	const query = `SELECT id, name, repo_url, default_branch, build_command, deploy_command, pipeline_template, created_at
		FROM projects WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, projectID)
	var p domain.Project
	if err := row.Scan(&p.ID, &p.Name, &p.RepoURL, &p.DefaultBranch, &p.BuildCommand, &p.DeployCommand, &p.PipelineTemplate, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// ListProjects returns all registered projects.
func (r *Repository) ListProjects(ctx context.Context) ([]domain.Project, error) {
	const query = `SELECT id, name, repo_url, default_branch, build_command, deploy_command, pipeline_template, created_at
		FROM projects ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	projects := make([]domain.Project, 0)
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.RepoURL, &p.DefaultBranch, &p.BuildCommand, &p.DeployCommand, &p.PipelineTemplate, &p.CreatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// CreateDeployment inserts a deployment.
func (r *Repository) CreateDeployment(ctx context.Context, d *domain.Deployment) error {
	const query = `INSERT INTO deployments (id, project_id, environment_id, triggered_by, commit_sha, status,
			is_rollback, rollback_target_id, rollback_reason, log, started_at, completed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err := r.pool.Exec(ctx, query, d.ID, d.ProjectID, d.EnvironmentID, d.TriggeredBy, d.CommitSHA, d.Status,
		d.IsRollback, d.RollbackTargetID, d.RollbackReason, d.Log, d.StartedAt, d.CompletedAt, d.CreatedAt, d.UpdatedAt)
	return err
}

// GetDeploymentByID fetches one deployment.
func (r *Repository) GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error) {
	const query = `SELECT id, project_id, environment_id, triggered_by, commit_sha, status,
			is_rollback, rollback_target_id, rollback_reason, log, started_at, completed_at, created_at, updated_at
		FROM deployments WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, deploymentID)
	var d domain.Deployment
	if err := row.Scan(&d.ID, &d.ProjectID, &d.EnvironmentID, &d.TriggeredBy, &d.CommitSHA, &d.Status,
		&d.IsRollback, &d.RollbackTargetID, &d.RollbackReason, &d.Log, &d.StartedAt, &d.CompletedAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

// UpdateDeploymentStatus applies a status update.
func (r *Repository) UpdateDeploymentStatus(ctx context.Context, update domain.DeploymentStatusUpdate) error {
	const query = `UPDATE deployments SET
			status = $2,
			log = CASE WHEN $3 <> '' THEN $3 ELSE log END,
			started_at = COALESCE($4, started_at),
			completed_at = COALESCE($5, completed_at),
			updated_at = now()
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, update.DeploymentID, update.Status, update.Log, update.StartedAt, update.CompletedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// AppendDeploymentLog appends a line to the deployment log.
func (r *Repository) AppendDeploymentLog(ctx context.Context, deploymentID, text string) error {
	const query = `UPDATE deployments SET
			log = CASE WHEN log = '' THEN $2 ELSE log || E'\n' || $2 END,
			updated_at = now()
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, deploymentID, text)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListDeploymentsByProject returns recent deployments, newest first.
func (r *Repository) ListDeploymentsByProject(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT id, project_id, environment_id, triggered_by, commit_sha, status,
			is_rollback, rollback_target_id, rollback_reason, log, started_at, completed_at, created_at, updated_at
		FROM deployments WHERE project_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deployments := make([]domain.Deployment, 0)
	for rows.Next() {
		var d domain.Deployment
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.EnvironmentID, &d.TriggeredBy, &d.CommitSHA, &d.Status,
			&d.IsRollback, &d.RollbackTargetID, &d.RollbackReason, &d.Log, &d.StartedAt, &d.CompletedAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		deployments = append(deployments, d)
	}
	return deployments, rows.Err()
}

// CreateStages inserts a pipeline's stages in one batch.
func (r *Repository) CreateStages(ctx context.Context, stages []domain.PipelineStage) error {
	if len(stages) == 0 {
		return nil
	}
	const query = `INSERT INTO pipeline_stages (id, deployment_id, name, display_name, stage_order, status,
			started_at, completed_at, duration_seconds, output, error, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	batch := &pgx.Batch{}
	for _, s := range stages {
		metadata := s.Metadata
		if len(metadata) == 0 {
			metadata = json.RawMessage(`{}`)
		}
		batch.Queue(query, s.ID, s.DeploymentID, s.Name, s.DisplayName, s.Order, s.Status,
			s.StartedAt, s.CompletedAt, s.DurationSeconds, s.Output, s.Error, metadata, s.CreatedAt)
	}
	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range stages {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert pipeline stage: %w", err)
		}
	}
	return nil
}

// ListStagesByDeployment returns a deployment's stages in execution order.
func (r *Repository) ListStagesByDeployment(ctx context.Context, deploymentID string) ([]domain.PipelineStage, error) {
	const query = `SELECT id, deployment_id, name, display_name, stage_order, status,
			started_at, completed_at, duration_seconds, output, error, metadata, created_at
		FROM pipeline_stages WHERE deployment_id = $1 ORDER BY stage_order`
	rows, err := r.pool.Query(ctx, query, deploymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stages := make([]domain.PipelineStage, 0)
	for rows.Next() {
		var s domain.PipelineStage
		if err := rows.Scan(&s.ID, &s.DeploymentID, &s.Name, &s.DisplayName, &s.Order, &s.Status,
			&s.StartedAt, &s.CompletedAt, &s.DurationSeconds, &s.Output, &s.Error, &s.Metadata, &s.CreatedAt); err != nil {
			return nil, err
		}
		stages = append(stages, s)
	}
	return stages, rows.Err()
}

// UpdateStage persists a stage transition.
func (r *Repository) UpdateStage(ctx context.Context, stage *domain.PipelineStage) error {
	const query = `UPDATE pipeline_stages SET
			status = $2, started_at = $3, completed_at = $4, duration_seconds = $5, output = $6, error = $7
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, stage.ID, stage.Status, stage.StartedAt, stage.CompletedAt,
		stage.DurationSeconds, stage.Output, stage.Error)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// InsertScanResults stores scanner findings in one batch.
func (r *Repository) InsertScanResults(ctx context.Context, results []domain.SecurityScanResult) error {
	if len(results) == 0 {
		return nil
	}
	const query = `INSERT INTO security_scan_results (id, deployment_id, stage_id, scan_type, tool, severity,
			vulnerability_id, cve, title, description, file_path, line_number, snippet, remediation,
			status, demo, first_seen_at, last_seen_at, acknowledged_by, ack_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`
	batch := &pgx.Batch{}
	for _, f := range results {
		firstSeen := f.FirstSeenAt
		if firstSeen.IsZero() {
			firstSeen = time.Now().UTC()
		}
		lastSeen := f.LastSeenAt
		if lastSeen.IsZero() {
			lastSeen = firstSeen
		}
		batch.Queue(query, f.ID, f.DeploymentID, f.StageID, f.ScanType, f.Tool, f.Severity,
			f.VulnerabilityID, f.CVE, f.Title, f.Description, f.FilePath, f.LineNumber, f.Snippet, f.Remediation,
			f.Status, f.Demo, firstSeen, lastSeen, f.AcknowledgedBy, f.AckReason)
	}
	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range results {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert scan result: %w", err)
		}
	}
	return nil
}

// ListOpenFindings returns a deployment's findings still in open status.
func (r *Repository) ListOpenFindings(ctx context.Context, deploymentID string) ([]domain.SecurityScanResult, error) {
	const query = `SELECT id, deployment_id, stage_id, scan_type, tool, severity,
			vulnerability_id, cve, title, description, file_path, line_number, snippet, remediation,
			status, demo, first_seen_at, last_seen_at, acknowledged_by, ack_reason
		FROM security_scan_results WHERE deployment_id = $1 AND status = $2
		ORDER BY first_seen_at`
	rows, err := r.pool.Query(ctx, query, deploymentID, domain.FindingOpen)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	findings := make([]domain.SecurityScanResult, 0)
	for rows.Next() {
		var f domain.SecurityScanResult
		if err := rows.Scan(&f.ID, &f.DeploymentID, &f.StageID, &f.ScanType, &f.Tool, &f.Severity,
			&f.VulnerabilityID, &f.CVE, &f.Title, &f.Description, &f.FilePath, &f.LineNumber, &f.Snippet, &f.Remediation,
			&f.Status, &f.Demo, &f.FirstSeenAt, &f.LastSeenAt, &f.AcknowledgedBy, &f.AckReason); err != nil {
			return nil, err
		}
		findings = append(findings, f)
	}
	return findings, rows.Err()
}

// AcknowledgeFinding records a triage decision.
func (r *Repository) AcknowledgeFinding(ctx context.Context, findingID, actor, reason string) error {
	const query = `UPDATE security_scan_results SET
			status = $2, acknowledged_by = $3, ack_reason = $4, last_seen_at = now()
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, findingID, domain.FindingAcknowledged, actor, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// CreatePolicy inserts a security policy.
func (r *Repository) CreatePolicy(ctx context.Context, policy *domain.SecurityPolicy) error {
	requiredTypes, err := json.Marshal(policy.RequiredScanTypes)
	if err != nil {
		return fmt.Errorf("encode required scan types: %w", err)
	}
	allowed, err := json.Marshal(policy.AllowedLicenses)
	if err != nil {
		return fmt.Errorf("encode allowed licenses: %w", err)
	}
	blocked, err := json.Marshal(policy.BlockedLicenses)
	if err != nil {
		return fmt.Errorf("encode blocked licenses: %w", err)
	}
	overrides, err := json.Marshal(policy.Overrides)
	if err != nil {
		return fmt.Errorf("encode policy overrides: %w", err)
	}
	const query = `INSERT INTO security_policies (id, project_id, name, active,
			max_critical, max_high, max_medium, max_low, max_info,
			required_scan_types, block_on_secrets, block_on_license, allowed_licenses, blocked_licenses,
			scan_timeout_seconds, max_scan_retries, overrides, notify_on_block, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`
	_, err = r.pool.Exec(ctx, query, policy.ID, policy.ProjectID, policy.Name, policy.Active,
		policy.Thresholds.MaxCritical, policy.Thresholds.MaxHigh, policy.Thresholds.MaxMedium,
		policy.Thresholds.MaxLow, policy.Thresholds.MaxInfo,
		requiredTypes, policy.BlockOnSecrets, policy.BlockOnLicense, allowed, blocked,
		int(policy.ScanTimeout/time.Second), policy.MaxScanRetries, overrides, policy.NotifyOnBlock,
		policy.CreatedAt, policy.UpdatedAt)
	return err
}

// GetActivePolicyForProject resolves the authoritative policy: the project's
// own active policy when one exists, else the active system-wide policy.
func (r *Repository) GetActivePolicyForProject(ctx context.Context, projectID string) (*domain.SecurityPolicy, error) {
	const query = `SELECT id, project_id, name, active,
			max_critical, max_high, max_medium, max_low, max_info,
			required_scan_types, block_on_secrets, block_on_license, allowed_licenses, blocked_licenses,
			scan_timeout_seconds, max_scan_retries, overrides, notify_on_block, created_at, updated_at
		FROM security_policies
		WHERE active AND (project_id = $1 OR project_id IS NULL)
		ORDER BY project_id NULLS LAST
		LIMIT 1`
	row := r.pool.QueryRow(ctx, query, projectID)

	var (
		p              domain.SecurityPolicy
		requiredTypes  []byte
		allowed        []byte
		blocked        []byte
		overrides      []byte
		timeoutSeconds int
	)
	if err := row.Scan(&p.ID, &p.ProjectID, &p.Name, &p.Active,
		&p.Thresholds.MaxCritical, &p.Thresholds.MaxHigh, &p.Thresholds.MaxMedium,
		&p.Thresholds.MaxLow, &p.Thresholds.MaxInfo,
		&requiredTypes, &p.BlockOnSecrets, &p.BlockOnLicense, &allowed, &blocked,
		&timeoutSeconds, &p.MaxScanRetries, &overrides, &p.NotifyOnBlock, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(requiredTypes, &p.RequiredScanTypes); err != nil {
		return nil, fmt.Errorf("decode required scan types: %w", err)
	}
	if err := json.Unmarshal(allowed, &p.AllowedLicenses); err != nil {
		return nil, fmt.Errorf("decode allowed licenses: %w", err)
	}
	if err := json.Unmarshal(blocked, &p.BlockedLicenses); err != nil {
		return nil, fmt.Errorf("decode blocked licenses: %w", err)
	}
	if err := json.Unmarshal(overrides, &p.Overrides); err != nil {
		return nil, fmt.Errorf("decode policy overrides: %w", err)
	}
	p.ScanTimeout = time.Duration(timeoutSeconds) * time.Second
	return &p, nil
}

// CreateSchedule inserts a scheduled deployment.
func (r *Repository) CreateSchedule(ctx context.Context, s *domain.ScheduledDeployment) error {
	const query = `INSERT INTO scheduled_deployments (id, project_id, environment_id, user_id, scheduled_at,
			status, queue_job_id, is_recurring, recurrence_pattern, last_run_at, next_run_at, description,
			failure_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	_, err := r.pool.Exec(ctx, query, s.ID, s.ProjectID, s.EnvironmentID, s.UserID, s.ScheduledAt,
		s.Status, s.QueueJobID, s.IsRecurring, s.RecurrencePattern, s.LastRunAt, s.NextRunAt, s.Description,
		s.FailureReason, s.CreatedAt, s.UpdatedAt)
	return err
}

const scheduleColumns = `id, project_id, environment_id, user_id, scheduled_at,
	status, queue_job_id, is_recurring, recurrence_pattern, last_run_at, next_run_at, description,
	failure_reason, created_at, updated_at`

func scanSchedule(row pgx.Row) (*domain.ScheduledDeployment, error) {
	var s domain.ScheduledDeployment
	if err := row.Scan(&s.ID, &s.ProjectID, &s.EnvironmentID, &s.UserID, &s.ScheduledAt,
		&s.Status, &s.QueueJobID, &s.IsRecurring, &s.RecurrencePattern, &s.LastRunAt, &s.NextRunAt, &s.Description,
		&s.FailureReason, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetScheduleByID fetches one schedule.
func (r *Repository) GetScheduleByID(ctx context.Context, scheduleID string) (*domain.ScheduledDeployment, error) {
	query := `SELECT ` + scheduleColumns + ` FROM scheduled_deployments WHERE id = $1`
	s, err := scanSchedule(r.pool.QueryRow(ctx, query, scheduleID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return s, nil
}

func (r *Repository) listSchedules(ctx context.Context, query string, args ...any) ([]domain.ScheduledDeployment, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	schedules := make([]domain.ScheduledDeployment, 0)
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, *s)
	}
	return schedules, rows.Err()
}

// ListDueSchedules returns pending schedules whose fire time has passed.
func (r *Repository) ListDueSchedules(ctx context.Context, now time.Time) ([]domain.ScheduledDeployment, error) {
	query := `SELECT ` + scheduleColumns + ` FROM scheduled_deployments
		WHERE status = $1 AND scheduled_at <= $2 ORDER BY scheduled_at`
	return r.listSchedules(ctx, query, domain.SchedulePending, now)
}

// ListStaleQueued returns queued schedules untouched since updatedBefore.
func (r *Repository) ListStaleQueued(ctx context.Context, updatedBefore time.Time) ([]domain.ScheduledDeployment, error) {
	query := `SELECT ` + scheduleColumns + ` FROM scheduled_deployments
		WHERE status = $1 AND updated_at < $2 ORDER BY updated_at`
	return r.listSchedules(ctx, query, domain.ScheduleQueued, updatedBefore)
}

// MarkQueued transitions a pending schedule to queued under the given job id.
func (r *Repository) MarkQueued(ctx context.Context, scheduleID, jobID string) error {
	const query = `UPDATE scheduled_deployments SET status = $2, queue_job_id = $3, updated_at = now()
		WHERE id = $1 AND status = $4`
	tag, err := r.pool.Exec(ctx, query, scheduleID, domain.ScheduleQueued, jobID, domain.SchedulePending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ResetToPending returns a queued schedule to pending and clears its job id.
func (r *Repository) ResetToPending(ctx context.Context, scheduleID string) error {
	const query = `UPDATE scheduled_deployments SET status = $2, queue_job_id = '', updated_at = now()
		WHERE id = $1 AND status = $3`
	tag, err := r.pool.Exec(ctx, query, scheduleID, domain.SchedulePending, domain.ScheduleQueued)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ClaimSchedule is the worker's compare-and-set: it wins only while the
// schedule is still queued under the exact job id the worker holds. A stale
// reconcile or a newer dispatch makes the claim lose, and the worker drops
// the job.
func (r *Repository) ClaimSchedule(ctx context.Context, scheduleID, jobID string) (bool, error) {
	const query = `UPDATE scheduled_deployments SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $4 AND queue_job_id = $2`
	tag, err := r.pool.Exec(ctx, query, scheduleID, jobID, domain.ScheduleProcessing, domain.ScheduleQueued)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CompleteScheduleRun records the outcome of one firing.
func (r *Repository) CompleteScheduleRun(ctx context.Context, update domain.ScheduleRunUpdate) error {
	const query = `UPDATE scheduled_deployments SET
			status = $2, last_run_at = $3, next_run_at = $4,
			scheduled_at = COALESCE($5, scheduled_at),
			queue_job_id = '', updated_at = now()
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, update.ScheduleID, update.Status, update.LastRunAt, update.NextRunAt, update.ScheduledAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// MarkScheduleFailed records a dispatch or execution failure on the schedule.
func (r *Repository) MarkScheduleFailed(ctx context.Context, scheduleID, reason string) error {
	const query = `UPDATE scheduled_deployments SET
			status = $2, queue_job_id = '', failure_reason = $3, updated_at = now()
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, scheduleID, domain.ScheduleFailed, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// CancelSchedule withdraws a schedule that has not started processing.
func (r *Repository) CancelSchedule(ctx context.Context, scheduleID string) error {
	const query = `UPDATE scheduled_deployments SET status = $2, queue_job_id = '', updated_at = now()
		WHERE id = $1 AND status IN ($3, $4)`
	tag, err := r.pool.Exec(ctx, query, scheduleID, domain.ScheduleCancelled, domain.SchedulePending, domain.ScheduleQueued)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
