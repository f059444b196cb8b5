package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/gantrydev/gantry/internal/domain"
)

// ErrSkipStage signals that a stage was bypassed by policy and should be
// recorded as skipped rather than failed. It does not halt the pipeline.
var ErrSkipStage = errors.New("deploy: stage skipped by policy")

// StageExecutor performs the work behind one non-security pipeline stage:
// code checkout, build command, remote deploy invocation. Implementations are
// external collaborators; the lifecycle only consumes this contract.
type StageExecutor interface {
	ExecuteStage(ctx context.Context, project *domain.Project, deployment *domain.Deployment, stage *domain.PipelineStage, workdir string) (output string, err error)
}

// ShellExecutor is the default stage executor. It materializes the checkout
// with git and runs the project's configured commands in the workspace.
type ShellExecutor struct{}

var _ StageExecutor = ShellExecutor{}

// ExecuteStage dispatches on the stage name. Unknown stage names succeed with
// a note so custom templates degrade gracefully instead of failing pipelines.
func (e ShellExecutor) ExecuteStage(ctx context.Context, project *domain.Project, deployment *domain.Deployment, stage *domain.PipelineStage, workdir string) (string, error) {
	switch stage.Name {
	case "checkout":
		return e.checkout(ctx, project, deployment, workdir)
	case "build":
		return e.runProjectCommand(ctx, project.BuildCommand, workdir)
	case "deploy":
		return e.runProjectCommand(ctx, project.DeployCommand, workdir)
	default:
		return fmt.Sprintf("stage %q has no executor binding, nothing to do", stage.Name), nil
	}
}

func (e ShellExecutor) checkout(ctx context.Context, project *domain.Project, deployment *domain.Deployment, workdir string) (string, error) {
	if strings.TrimSpace(project.RepoURL) == "" {
		return "", fmt.Errorf("project has no repository URL")
	}
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		return "", fmt.Errorf("prepare workspace: %w", err)
	}
	branch := project.DefaultBranch
	if branch == "" {
		branch = "main"
	}
	args := []string{"clone", "--depth", "50", "--branch", branch, project.RepoURL, "."}
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = workdir
	// Prevent git from prompting for credentials interactively.
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("git clone failed: %w: %s", err, strings.TrimSpace(string(output)))
	}
	if sha := strings.TrimSpace(deployment.CommitSHA); sha != "" && !strings.EqualFold(sha, "HEAD") {
		cmd = exec.CommandContext(ctx, "git", "checkout", sha)
		cmd.Dir = workdir
		out, err := cmd.CombinedOutput()
		if err != nil {
			return string(out), fmt.Errorf("git checkout %s failed: %w: %s", sha, err, strings.TrimSpace(string(out)))
		}
	}
	return fmt.Sprintf("checked out %s at %s", project.RepoURL, coalesce(deployment.CommitSHA, branch)), nil
}

func (e ShellExecutor) runProjectCommand(ctx context.Context, command, workdir string) (string, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return "no command configured, nothing to do", nil
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = workdir
	cmd.Env = os.Environ()
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("command %q failed: %w", command, err)
	}
	return string(output), nil
}

// WorkspacePath returns the per-deployment checkout directory under root.
func WorkspacePath(root, deploymentID string) string {
	return filepath.Join(root, deploymentID)
}

func coalesce(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
