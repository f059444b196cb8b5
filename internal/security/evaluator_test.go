package security

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"log/slog"

	"github.com/gantrydev/gantry/internal/domain"
)

func TestEvaluateBlocksOverThreshold(t *testing.T) {
	repo := &fakeScanRepo{findings: []domain.SecurityScanResult{
		{ID: "f1", DeploymentID: "dep-1", ScanType: domain.ScanStatic, Severity: domain.SeverityCritical, Status: domain.FindingOpen},
	}}
	eval := newTestEvaluator(repo)
	policy := zeroTolerancePolicy()

	result, err := eval.Evaluate(context.Background(), "dep-1", policy, "production")
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if result.CanDeploy {
		t.Fatal("expected deployment to be blocked")
	}
	if !strings.Contains(result.ViolationMessage, "Critical: 1 found, 0 allowed") {
		t.Fatalf("unexpected violation message: %q", result.ViolationMessage)
	}
	if result.Counts[domain.SeverityCritical] != 1 {
		t.Fatalf("expected critical count 1, got %d", result.Counts[domain.SeverityCritical])
	}
}

func TestEvaluateCountEqualToThresholdPasses(t *testing.T) {
	repo := &fakeScanRepo{findings: []domain.SecurityScanResult{
		{ID: "f1", DeploymentID: "dep-1", ScanType: domain.ScanStatic, Severity: domain.SeverityHigh, Status: domain.FindingOpen},
		{ID: "f2", DeploymentID: "dep-1", ScanType: domain.ScanStatic, Severity: domain.SeverityHigh, Status: domain.FindingOpen},
	}}
	eval := newTestEvaluator(repo)
	policy := zeroTolerancePolicy()
	policy.Thresholds.MaxHigh = 2

	result, err := eval.Evaluate(context.Background(), "dep-1", policy, "production")
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if !result.CanDeploy {
		t.Fatalf("expected count == max to pass, got violation %q", result.ViolationMessage)
	}
}

func TestEvaluateIgnoresDemoAndTriagedFindings(t *testing.T) {
	repo := &fakeScanRepo{findings: []domain.SecurityScanResult{
		{ID: "f1", DeploymentID: "dep-1", Severity: domain.SeverityCritical, Status: domain.FindingOpen, Demo: true},
	}}
	eval := newTestEvaluator(repo)

	result, err := eval.Evaluate(context.Background(), "dep-1", zeroTolerancePolicy(), "production")
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if !result.CanDeploy {
		t.Fatalf("demo findings must not gate, got %q", result.ViolationMessage)
	}
	if result.Counts[domain.SeverityCritical] != 0 {
		t.Fatalf("expected demo finding excluded from counts, got %d", result.Counts[domain.SeverityCritical])
	}
}

func TestEvaluateBlocksOnOpenSecret(t *testing.T) {
	repo := &fakeScanRepo{findings: []domain.SecurityScanResult{
		{ID: "f1", DeploymentID: "dep-1", ScanType: domain.ScanSecrets, Severity: domain.SeverityLow, Status: domain.FindingOpen},
	}}
	eval := newTestEvaluator(repo)
	policy := zeroTolerancePolicy()
	policy.Thresholds.MaxLow = 10
	policy.BlockOnSecrets = true

	result, err := eval.Evaluate(context.Background(), "dep-1", policy, "production")
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if result.CanDeploy {
		t.Fatal("expected open secret to block deployment")
	}
	if !strings.Contains(result.ViolationMessage, "secret") {
		t.Fatalf("expected secret violation in message, got %q", result.ViolationMessage)
	}
}

func TestEvaluateEnvironmentOverrideReplacesThreshold(t *testing.T) {
	repo := &fakeScanRepo{findings: []domain.SecurityScanResult{
		{ID: "f1", DeploymentID: "dep-1", Severity: domain.SeverityCritical, Status: domain.FindingOpen},
	}}
	eval := newTestEvaluator(repo)
	policy := zeroTolerancePolicy()
	one := 1
	policy.Overrides = []domain.PolicyOverride{{Environment: "staging", MaxCritical: &one}}

	staging, err := eval.Evaluate(context.Background(), "dep-1", policy, "staging")
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if !staging.CanDeploy {
		t.Fatalf("expected staging override to allow, got %q", staging.ViolationMessage)
	}

	prod, err := eval.Evaluate(context.Background(), "dep-1", policy, "production")
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if prod.CanDeploy {
		t.Fatal("expected production to keep base threshold and block")
	}
}

func TestVerifyRequiredScans(t *testing.T) {
	policy := zeroTolerancePolicy()
	policy.RequiredScanTypes = []domain.ScanType{domain.ScanStatic, domain.ScanSecrets}

	err := VerifyRequiredScans(policy, []domain.ScanType{domain.ScanStatic}, "production")
	if !errors.Is(err, ErrMissingScanType) {
		t.Fatalf("expected ErrMissingScanType, got %v", err)
	}

	if err := VerifyRequiredScans(policy, []domain.ScanType{domain.ScanStatic, domain.ScanSecrets}, "production"); err != nil {
		t.Fatalf("expected all required scans satisfied, got %v", err)
	}

	policy.Overrides = []domain.PolicyOverride{{
		Environment:       "staging",
		OptionalScanTypes: []domain.ScanType{domain.ScanSecrets},
	}}
	if err := VerifyRequiredScans(policy, []domain.ScanType{domain.ScanStatic}, "staging"); err != nil {
		t.Fatalf("expected optional scan type to be skippable, got %v", err)
	}
}

func newTestEvaluator(repo *fakeScanRepo) *Evaluator {
	return NewEvaluator(repo, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func zeroTolerancePolicy() *domain.SecurityPolicy {
	return &domain.SecurityPolicy{
		ID:     "policy-1",
		Name:   "zero-tolerance",
		Active: true,
		Thresholds: domain.SeverityThresholds{
			MaxCritical: 0, MaxHigh: 0, MaxMedium: 5, MaxLow: 20, MaxInfo: 100,
		},
	}
}

type fakeScanRepo struct {
	findings []domain.SecurityScanResult
	inserted []domain.SecurityScanResult
}

func (f *fakeScanRepo) InsertScanResults(_ context.Context, results []domain.SecurityScanResult) error {
	f.inserted = append(f.inserted, results...)
	f.findings = append(f.findings, results...)
	return nil
}

func (f *fakeScanRepo) ListOpenFindings(_ context.Context, deploymentID string) ([]domain.SecurityScanResult, error) {
	var out []domain.SecurityScanResult
	for _, finding := range f.findings {
		if finding.DeploymentID == deploymentID && finding.Status == domain.FindingOpen {
			out = append(out, finding)
		}
	}
	return out, nil
}

func (f *fakeScanRepo) AcknowledgeFinding(_ context.Context, findingID, actor, reason string) error {
	for i := range f.findings {
		if f.findings[i].ID == findingID {
			f.findings[i].Status = domain.FindingAcknowledged
			f.findings[i].AcknowledgedBy = actor
			f.findings[i].AckReason = reason
			return nil
		}
	}
	return errors.New("not found")
}
