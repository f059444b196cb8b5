package domain

import "time"

// DeploymentStatus enumerates the persisted states of a deployment.
type DeploymentStatus string

const (
	DeploymentPending   DeploymentStatus = "pending"
	DeploymentRunning   DeploymentStatus = "running"
	DeploymentSuccess   DeploymentStatus = "success"
	DeploymentFailed    DeploymentStatus = "failed"
	DeploymentCancelled DeploymentStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s DeploymentStatus) Terminal() bool {
	switch s {
	case DeploymentSuccess, DeploymentFailed, DeploymentCancelled:
		return true
	}
	return false
}

// Deployment captures one attempt to ship a project revision to an environment.
type Deployment struct {
	ID               string
	ProjectID        string
	EnvironmentID    string
	TriggeredBy      string
	CommitSHA        string
	Status           DeploymentStatus
	IsRollback       bool
	RollbackTargetID *string
	RollbackReason   string
	Log              string
	StartedAt        *time.Time
	CompletedAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// DeploymentStatusUpdate captures the mutable fields of a deployment.
type DeploymentStatusUpdate struct {
	DeploymentID string
	Status       DeploymentStatus
	Log          string
	StartedAt    *time.Time
	CompletedAt  *time.Time
}
