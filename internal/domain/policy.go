package domain

import "time"

// SeverityThresholds holds the maximum allowed open finding count per severity.
type SeverityThresholds struct {
	MaxCritical int
	MaxHigh     int
	MaxMedium   int
	MaxLow      int
	MaxInfo     int
}

// Max returns the threshold for a severity.
func (t SeverityThresholds) Max(sev Severity) int {
	switch sev {
	case SeverityCritical:
		return t.MaxCritical
	case SeverityHigh:
		return t.MaxHigh
	case SeverityMedium:
		return t.MaxMedium
	case SeverityLow:
		return t.MaxLow
	default:
		return t.MaxInfo
	}
}

// PolicyOverride replaces thresholds for one environment. A nil field inherits
// the base policy value; a set field fully replaces that severity's threshold.
// Partial objects are never merged implicitly.
type PolicyOverride struct {
	Environment       string
	MaxCritical       *int
	MaxHigh           *int
	MaxMedium         *int
	MaxLow            *int
	MaxInfo           *int
	OptionalScanTypes []ScanType
}

// Apply produces the effective thresholds for the override's environment.
func (o PolicyOverride) Apply(base SeverityThresholds) SeverityThresholds {
	out := base
	if o.MaxCritical != nil {
		out.MaxCritical = *o.MaxCritical
	}
	if o.MaxHigh != nil {
		out.MaxHigh = *o.MaxHigh
	}
	if o.MaxMedium != nil {
		out.MaxMedium = *o.MaxMedium
	}
	if o.MaxLow != nil {
		out.MaxLow = *o.MaxLow
	}
	if o.MaxInfo != nil {
		out.MaxInfo = *o.MaxInfo
	}
	return out
}

// SecurityPolicy gates deployments for one project, or system-wide when
// ProjectID is nil. Exactly one active policy is authoritative per project at
// evaluation time; an explicit project policy overrides the system default.
type SecurityPolicy struct {
	ID                string
	ProjectID         *string
	Name              string
	Active            bool
	Thresholds        SeverityThresholds
	RequiredScanTypes []ScanType
	BlockOnSecrets    bool
	BlockOnLicense    bool
	AllowedLicenses   []string
	BlockedLicenses   []string
	ScanTimeout       time.Duration
	MaxScanRetries    int
	Overrides         []PolicyOverride
	NotifyOnBlock     bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ThresholdsFor resolves effective thresholds for an environment.
func (p *SecurityPolicy) ThresholdsFor(environment string) SeverityThresholds {
	for _, o := range p.Overrides {
		if o.Environment == environment {
			return o.Apply(p.Thresholds)
		}
	}
	return p.Thresholds
}

// ScanOptional reports whether a required scan type is marked optional for the
// given environment.
func (p *SecurityPolicy) ScanOptional(environment string, scanType ScanType) bool {
	for _, o := range p.Overrides {
		if o.Environment != environment {
			continue
		}
		for _, t := range o.OptionalScanTypes {
			if t == scanType {
				return true
			}
		}
	}
	return false
}
