package security

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gantrydev/gantry/internal/domain"
)

// StaticScanner runs gosec against the checkout.
type StaticScanner struct {
	Binary string
}

// NewStaticScanner returns the static analysis scanner. An empty binary path
// defaults to "gosec" on PATH.
func NewStaticScanner(binary string) *StaticScanner {
	if binary == "" {
		binary = "gosec"
	}
	return &StaticScanner{Binary: binary}
}

func (s *StaticScanner) Type() domain.ScanType { return domain.ScanStatic }

func (s *StaticScanner) Available() bool {
	_, err := exec.LookPath(s.Binary)
	return err == nil
}

func (s *StaticScanner) Scan(ctx context.Context, cfg Config) ([]domain.SecurityScanResult, error) {
	ctx, cancel := scanContext(ctx, cfg)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.Binary, "-quiet", "-fmt", "json", "./...")
	cmd.Dir = cfg.ProjectPath
	output, err := cmd.Output()
	// gosec exits non-zero when it finds issues; only treat runs with no
	// parseable report as tool failures.
	var report struct {
		Issues []struct {
			Severity string `json:"severity"`
			RuleID   string `json:"rule_id"`
			Details  string `json:"details"`
			File     string `json:"file"`
			Line     string `json:"line"`
			Code     string `json:"code"`
		} `json:"Issues"`
	}
	if jsonErr := json.Unmarshal(output, &report); jsonErr != nil {
		if err != nil {
			return nil, &ScanError{Tool: s.Binary, Output: string(output), Err: err}
		}
		return nil, &ScanError{Tool: s.Binary, Output: string(output), Err: jsonErr}
	}

	now := time.Now().UTC()
	findings := make([]domain.SecurityScanResult, 0, len(report.Issues))
	for _, issue := range report.Issues {
		line, _ := strconv.Atoi(issue.Line)
		findings = append(findings, domain.SecurityScanResult{
			ID:              uuid.NewString(),
			ScanType:        domain.ScanStatic,
			Tool:            s.Binary,
			Severity:        mapSeverity(issue.Severity),
			VulnerabilityID: issue.RuleID,
			Title:           fmt.Sprintf("%s: %s", issue.RuleID, firstLine(issue.Details)),
			Description:     issue.Details,
			FilePath:        relPath(cfg.ProjectPath, issue.File),
			LineNumber:      line,
			Snippet:         issue.Code,
			Remediation:     "Review the flagged code path and apply the rule's recommended fix.",
			Status:          domain.FindingOpen,
			FirstSeenAt:     now,
			LastSeenAt:      now,
		})
	}
	return findings, nil
}

// DemoFindings returns a placeholder set used when gosec is not installed.
func (s *StaticScanner) DemoFindings() []domain.SecurityScanResult {
	return demoSet(domain.ScanStatic, s.Binary, []demoFinding{
		{severity: domain.SeverityMedium, title: "Demo: potential hardcoded credential", file: "cmd/server/main.go", line: 42},
		{severity: domain.SeverityLow, title: "Demo: unhandled error return", file: "internal/store/store.go", line: 118},
	})
}

// DependencyScanner runs osv-scanner against the checkout's lockfiles.
type DependencyScanner struct {
	Binary string
}

// NewDependencyScanner returns the dependency audit scanner. An empty binary
// path defaults to "osv-scanner" on PATH.
func NewDependencyScanner(binary string) *DependencyScanner {
	if binary == "" {
		binary = "osv-scanner"
	}
	return &DependencyScanner{Binary: binary}
}

func (s *DependencyScanner) Type() domain.ScanType { return domain.ScanDependency }

func (s *DependencyScanner) Available() bool {
	_, err := exec.LookPath(s.Binary)
	return err == nil
}

func (s *DependencyScanner) Scan(ctx context.Context, cfg Config) ([]domain.SecurityScanResult, error) {
	ctx, cancel := scanContext(ctx, cfg)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.Binary, "--format", "json", "--recursive", ".")
	cmd.Dir = cfg.ProjectPath
	output, err := cmd.Output()
	var report struct {
		Results []struct {
			Packages []struct {
				Package struct {
					Name      string `json:"name"`
					Version   string `json:"version"`
					Ecosystem string `json:"ecosystem"`
				} `json:"package"`
				Vulnerabilities []struct {
					ID               string   `json:"id"`
					Aliases          []string `json:"aliases"`
					Summary          string   `json:"summary"`
					Details          string   `json:"details"`
					DatabaseSpecific struct {
						Severity string `json:"severity"`
					} `json:"database_specific"`
				} `json:"vulnerabilities"`
			} `json:"packages"`
		} `json:"results"`
	}
	if jsonErr := json.Unmarshal(output, &report); jsonErr != nil {
		if err != nil {
			return nil, &ScanError{Tool: s.Binary, Output: string(output), Err: err}
		}
		return nil, &ScanError{Tool: s.Binary, Output: string(output), Err: jsonErr}
	}

	now := time.Now().UTC()
	var findings []domain.SecurityScanResult
	for _, result := range report.Results {
		for _, pkg := range result.Packages {
			for _, vuln := range pkg.Vulnerabilities {
				findings = append(findings, domain.SecurityScanResult{
					ID:              uuid.NewString(),
					ScanType:        domain.ScanDependency,
					Tool:            s.Binary,
					Severity:        mapSeverity(vuln.DatabaseSpecific.Severity),
					VulnerabilityID: vuln.ID,
					CVE:             firstCVE(vuln.Aliases),
					Title:           fmt.Sprintf("%s in %s@%s", vuln.ID, pkg.Package.Name, pkg.Package.Version),
					Description:     coalesce(vuln.Summary, vuln.Details),
					Remediation:     fmt.Sprintf("Upgrade %s past the affected range.", pkg.Package.Name),
					Status:          domain.FindingOpen,
					FirstSeenAt:     now,
					LastSeenAt:      now,
				})
			}
		}
	}
	return findings, nil
}

// DemoFindings returns a placeholder set used when osv-scanner is missing.
func (s *DependencyScanner) DemoFindings() []domain.SecurityScanResult {
	return demoSet(domain.ScanDependency, s.Binary, []demoFinding{
		{severity: domain.SeverityHigh, title: "Demo: vulnerable transitive dependency example-lib@1.2.3", cve: "CVE-2024-00000"},
	})
}

// SecretScanner runs gitleaks against the checkout.
type SecretScanner struct {
	Binary string
}

// NewSecretScanner returns the secret detection scanner. An empty binary path
// defaults to "gitleaks" on PATH.
func NewSecretScanner(binary string) *SecretScanner {
	if binary == "" {
		binary = "gitleaks"
	}
	return &SecretScanner{Binary: binary}
}

func (s *SecretScanner) Type() domain.ScanType { return domain.ScanSecrets }

func (s *SecretScanner) Available() bool {
	_, err := exec.LookPath(s.Binary)
	return err == nil
}

func (s *SecretScanner) Scan(ctx context.Context, cfg Config) ([]domain.SecurityScanResult, error) {
	ctx, cancel := scanContext(ctx, cfg)
	defer cancel()

	reportFile, err := os.CreateTemp("", "gitleaks-*.json")
	if err != nil {
		return nil, &ScanError{Tool: s.Binary, Err: err}
	}
	reportPath := reportFile.Name()
	_ = reportFile.Close()
	defer os.Remove(reportPath)

	cmd := exec.CommandContext(ctx, s.Binary, "detect", "--no-banner", "--no-git",
		"--report-format", "json", "--report-path", reportPath, "--source", ".")
	cmd.Dir = cfg.ProjectPath
	// gitleaks exits 1 when leaks are found; rely on the report instead.
	combined, runErr := cmd.CombinedOutput()

	data, readErr := os.ReadFile(reportPath)
	if readErr != nil || len(data) == 0 {
		if runErr != nil {
			return nil, &ScanError{Tool: s.Binary, Output: string(combined), Err: runErr}
		}
		return nil, nil
	}
	var leaks []struct {
		RuleID      string `json:"RuleID"`
		Description string `json:"Description"`
		File        string `json:"File"`
		StartLine   int    `json:"StartLine"`
		Secret      string `json:"Secret"`
	}
	if err := json.Unmarshal(data, &leaks); err != nil {
		return nil, &ScanError{Tool: s.Binary, Output: string(combined), Err: err}
	}

	now := time.Now().UTC()
	findings := make([]domain.SecurityScanResult, 0, len(leaks))
	for _, leak := range leaks {
		findings = append(findings, domain.SecurityScanResult{
			ID:              uuid.NewString(),
			ScanType:        domain.ScanSecrets,
			Tool:            s.Binary,
			Severity:        domain.SeverityCritical,
			VulnerabilityID: leak.RuleID,
			Title:           fmt.Sprintf("Secret detected: %s", leak.RuleID),
			Description:     leak.Description,
			FilePath:        leak.File,
			LineNumber:      leak.StartLine,
			Remediation:     "Rotate the exposed credential and purge it from history.",
			Status:          domain.FindingOpen,
			FirstSeenAt:     now,
			LastSeenAt:      now,
		})
	}
	return findings, nil
}

// DemoFindings returns a placeholder set used when gitleaks is missing.
func (s *SecretScanner) DemoFindings() []domain.SecurityScanResult {
	return demoSet(domain.ScanSecrets, s.Binary, []demoFinding{
		{severity: domain.SeverityHigh, title: "Demo: possible API key in config", file: ".env.example", line: 3},
	})
}

type demoFinding struct {
	severity domain.Severity
	title    string
	file     string
	line     int
	cve      string
}

func demoSet(scanType domain.ScanType, tool string, items []demoFinding) []domain.SecurityScanResult {
	now := time.Now().UTC()
	out := make([]domain.SecurityScanResult, 0, len(items))
	for _, item := range items {
		out = append(out, domain.SecurityScanResult{
			ID:          uuid.NewString(),
			ScanType:    scanType,
			Tool:        tool,
			Severity:    item.severity,
			CVE:         item.cve,
			Title:       item.title,
			Description: "Placeholder finding produced because the scan tool is not installed.",
			FilePath:    item.file,
			LineNumber:  item.line,
			Status:      domain.FindingOpen,
			Demo:        true,
			FirstSeenAt: now,
			LastSeenAt:  now,
		})
	}
	return out
}

func scanContext(ctx context.Context, cfg Config) (context.Context, context.CancelFunc) {
	if cfg.Timeout > 0 {
		return context.WithTimeout(ctx, cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

func mapSeverity(raw string) domain.Severity {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "critical":
		return domain.SeverityCritical
	case "high":
		return domain.SeverityHigh
	case "medium", "moderate":
		return domain.SeverityMedium
	case "low":
		return domain.SeverityLow
	default:
		return domain.SeverityInfo
	}
}

func firstCVE(aliases []string) string {
	for _, alias := range aliases {
		if strings.HasPrefix(alias, "CVE-") {
			return alias
		}
	}
	return ""
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

func relPath(root, path string) string {
	if root == "" {
		return path
	}
	if rel, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return path
}

func coalesce(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
