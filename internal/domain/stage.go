package domain

import (
	"encoding/json"
	"time"
)

// StageStatus enumerates the persisted states of a pipeline stage.
type StageStatus string

const (
	StagePending StageStatus = "pending"
	StageRunning StageStatus = "running"
	StageSuccess StageStatus = "success"
	StageFailed  StageStatus = "failed"
	StageSkipped StageStatus = "skipped"
)

// Terminal reports whether the stage can no longer transition.
func (s StageStatus) Terminal() bool {
	switch s {
	case StageSuccess, StageFailed, StageSkipped:
		return true
	}
	return false
}

// Stage metadata keys shared between the pipeline engine and stage executors.
const (
	StageMetaScanType  = "scan_type"
	StageMetaStageType = "stage_type"

	StageTypeSecurityScan       = "security_scan"
	StageTypeSecurityEvaluation = "security_evaluation"
)

// PipelineStage is one ordered unit of work within a deployment's pipeline.
// Order is immutable after creation and strictly ascending per deployment.
type PipelineStage struct {
	ID              string
	DeploymentID    string
	Name            string
	DisplayName     string
	Order           int
	Status          StageStatus
	StartedAt       *time.Time
	CompletedAt     *time.Time
	DurationSeconds *int64
	Output          string
	Error           string
	Metadata        json.RawMessage
	CreatedAt       time.Time
}

// MetaValue extracts a string value from the stage metadata document.
func (s *PipelineStage) MetaValue(key string) string {
	if len(s.Metadata) == 0 {
		return ""
	}
	var meta map[string]any
	if err := json.Unmarshal(s.Metadata, &meta); err != nil {
		return ""
	}
	value, _ := meta[key].(string)
	return value
}
