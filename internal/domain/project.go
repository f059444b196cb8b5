package domain

import "time"

// Project is a registered source-controlled project. PipelineTemplate names
// the stage template its deployments run; empty selects the default.
type Project struct {
	ID               string
	Name             string
	RepoURL          string
	DefaultBranch    string
	BuildCommand     string
	DeployCommand    string
	PipelineTemplate string
	CreatedAt        time.Time
}
