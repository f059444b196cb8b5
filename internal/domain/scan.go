package domain

import "time"

// ScanType tags a scanner implementation and the findings it produces.
type ScanType string

const (
	ScanStatic     ScanType = "static_analysis"
	ScanDependency ScanType = "dependency_audit"
	ScanSecrets    ScanType = "secret_detection"
)

// Severity orders findings from most to least severe.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Severities lists the severity vocabulary most-to-least severe.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}

// FindingStatus tracks triage state. Only open findings participate in gating.
type FindingStatus string

const (
	FindingOpen          FindingStatus = "open"
	FindingAcknowledged  FindingStatus = "acknowledged"
	FindingFalsePositive FindingStatus = "false_positive"
	FindingFixed         FindingStatus = "fixed"
	FindingIgnored       FindingStatus = "ignored"
)

// SecurityScanResult is one finding produced by a scanner for a deployment.
// Findings are retained indefinitely as an audit trail; only triage actions
// mutate them after creation. Demo findings come from placeholder runs when
// the underlying tool is absent and are excluded from blocking counts.
type SecurityScanResult struct {
	ID              string
	DeploymentID    string
	StageID         *string
	ScanType        ScanType
	Tool            string
	Severity        Severity
	VulnerabilityID string
	CVE             string
	Title           string
	Description     string
	FilePath        string
	LineNumber      int
	Snippet         string
	Remediation     string
	Status          FindingStatus
	Demo            bool
	FirstSeenAt     time.Time
	LastSeenAt      time.Time
	AcknowledgedBy  string
	AckReason       string
}
