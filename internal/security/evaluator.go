package security

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"log/slog"

	"github.com/gantrydev/gantry/internal/domain"
	"github.com/gantrydev/gantry/internal/repository"
)

// ErrMissingScanType signals that a scan type the policy requires never ran.
// It is a policy misconfiguration, fatal before execution starts.
var ErrMissingScanType = errors.New("security: required scan type missing from run")

// Evaluation is the outcome of gating a deployment against its policy.
type Evaluation struct {
	CanDeploy        bool
	Counts           map[domain.Severity]int
	ViolationMessage string
}

// Evaluator aggregates open findings and applies policy thresholds.
type Evaluator struct {
	findings repository.ScanResultRepository
	logger   *slog.Logger
}

// NewEvaluator constructs an Evaluator.
func NewEvaluator(findings repository.ScanResultRepository, logger *slog.Logger) *Evaluator {
	return &Evaluator{findings: findings, logger: logger}
}

// Evaluate counts the deployment's open findings per severity and compares
// them against the policy thresholds effective for the environment. Demo
// findings never participate. A count exactly equal to its threshold passes.
func (e *Evaluator) Evaluate(ctx context.Context, deploymentID string, policy *domain.SecurityPolicy, environment string) (*Evaluation, error) {
	open, err := e.findings.ListOpenFindings(ctx, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("list open findings: %w", err)
	}

	counts := make(map[domain.Severity]int, len(domain.Severities))
	for _, sev := range domain.Severities {
		counts[sev] = 0
	}
	secretOpen := false
	for _, f := range open {
		if f.Demo {
			continue
		}
		counts[f.Severity]++
		if f.ScanType == domain.ScanSecrets {
			secretOpen = true
		}
	}

	thresholds := policy.ThresholdsFor(environment)
	var violations []string
	for _, sev := range domain.Severities {
		max := thresholds.Max(sev)
		if counts[sev] > max {
			violations = append(violations, fmt.Sprintf("%s: %d found, %d allowed", title(sev), counts[sev], max))
		}
	}
	if policy.BlockOnSecrets && secretOpen {
		violations = append(violations, "open secret findings present")
	}

	eval := &Evaluation{
		CanDeploy: len(violations) == 0,
		Counts:    counts,
	}
	if !eval.CanDeploy {
		eval.ViolationMessage = strings.Join(violations, "; ")
		e.logger.Info("deployment blocked by security policy",
			"deployment_id", deploymentID, "policy", policy.Name, "violations", eval.ViolationMessage)
	}
	return eval, nil
}

// VerifyRequiredScans checks that every scan type the policy requires is among
// the scan types that actually ran, unless the policy marks it optional for
// the environment.
func VerifyRequiredScans(policy *domain.SecurityPolicy, ran []domain.ScanType, environment string) error {
	seen := make(map[domain.ScanType]struct{}, len(ran))
	for _, t := range ran {
		seen[t] = struct{}{}
	}
	for _, required := range policy.RequiredScanTypes {
		if _, ok := seen[required]; ok {
			continue
		}
		if policy.ScanOptional(environment, required) {
			continue
		}
		return fmt.Errorf("%w: %s", ErrMissingScanType, required)
	}
	return nil
}

func title(sev domain.Severity) string {
	s := string(sev)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
