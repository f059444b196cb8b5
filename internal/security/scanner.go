package security

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"log/slog"

	"github.com/gantrydev/gantry/internal/domain"
)

// Config carries everything a scanner needs to inspect a project checkout.
type Config struct {
	ProjectPath   string
	RepositoryURL string
	Branch        string
	Timeout       time.Duration
	MaxRetries    int
}

// Scanner is a pluggable analyzer that inspects a checkout and emits findings
// of one scan type. Implementations report availability so callers can fall
// back to a clearly flagged demo finding set when the tool is absent.
type Scanner interface {
	Type() domain.ScanType
	Available() bool
	Scan(ctx context.Context, cfg Config) ([]domain.SecurityScanResult, error)
}

// ScanError reports that the underlying tool could not run. The owning stage
// treats it as a hard failure, never a silent empty result.
type ScanError struct {
	Tool   string
	Output string
	Err    error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scanner %s failed: %v", e.Tool, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }

// Registry holds the registered scanners keyed by scan type.
type Registry struct {
	mu       sync.RWMutex
	scanners map[domain.ScanType]Scanner
	logger   *slog.Logger
}

// NewRegistry returns an empty scanner registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{scanners: make(map[domain.ScanType]Scanner), logger: logger}
}

// Register adds a scanner, replacing any previous scanner of the same type.
func (r *Registry) Register(s Scanner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scanners[s.Type()] = s
}

// Get looks up a scanner by type.
func (r *Registry) Get(scanType domain.ScanType) (Scanner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scanners[scanType]
	return s, ok
}

// Types lists the registered scan types in stable order.
func (r *Registry) Types() []domain.ScanType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ScanType, 0, len(r.scanners))
	for t := range r.scanners {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Run executes the scanner for scanType against cfg. When the tool is absent
// it returns the scanner's demo finding set instead of failing; demo findings
// carry Demo=true and never participate in policy gating. Real runs are
// retried up to cfg.MaxRetries times before the failure is surfaced.
func (r *Registry) Run(ctx context.Context, scanType domain.ScanType, cfg Config) ([]domain.SecurityScanResult, error) {
	scanner, ok := r.Get(scanType)
	if !ok {
		return nil, fmt.Errorf("no scanner registered for type %q", scanType)
	}
	if !scanner.Available() {
		r.logger.Warn("scan tool unavailable, using demo findings", "scan_type", scanType)
		if demo, ok := scanner.(interface {
			DemoFindings() []domain.SecurityScanResult
		}); ok {
			return demo.DemoFindings(), nil
		}
		return nil, nil
	}

	attempts := cfg.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		findings, err := scanner.Scan(ctx, cfg)
		if err == nil {
			return findings, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		r.logger.Warn("scan attempt failed", "scan_type", scanType, "attempt", attempt, "error", err)
	}
	return nil, lastErr
}
