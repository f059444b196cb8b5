package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/gantrydev/gantry/internal/domain"
	"github.com/gantrydev/gantry/internal/repository"
)

type fakeStageRepo struct {
	stages     []domain.PipelineStage
	createErr  error
	updateErr  error
	updateCall int
}

var _ repository.StageRepository = (*fakeStageRepo)(nil)

func (f *fakeStageRepo) CreateStages(_ context.Context, stages []domain.PipelineStage) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.stages = append(f.stages, stages...)
	return nil
}

func (f *fakeStageRepo) ListStagesByDeployment(_ context.Context, deploymentID string) ([]domain.PipelineStage, error) {
	out := make([]domain.PipelineStage, 0, len(f.stages))
	for _, s := range f.stages {
		if s.DeploymentID == deploymentID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStageRepo) UpdateStage(_ context.Context, stage *domain.PipelineStage) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updateCall++
	for i := range f.stages {
		if f.stages[i].ID == stage.ID {
			f.stages[i] = *stage
			return nil
		}
	}
	return fmt.Errorf("stage %s not found", stage.ID)
}

type fakeClock struct {
	current time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{current: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.current }

func (c *fakeClock) Advance(ms int) {
	c.current = c.current.Add(time.Duration(ms) * time.Millisecond)
}
