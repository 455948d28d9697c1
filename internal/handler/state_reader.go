package handler

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"startupai/internal/model"
	"startupai/internal/repository"
)

// ProjectState is the aggregate view served by the state endpoint.
type ProjectState struct {
	Project    *model.Project        `json:"project"`
	ActiveRun  *model.PhaseRun       `json:"active_run,omitempty"`
	Checkpoint *model.Checkpoint     `json:"open_checkpoint,omitempty"`
	Pivots     []model.PivotDecision `json:"pivots,omitempty"`
}

// StateReader assembles a project's current state from the repositories.
type StateReader struct {
	projects    *repository.ProjectRepository
	runs        *repository.PhaseRunRepository
	checkpoints *repository.CheckpointRepository
	pivots      *repository.PivotRepository
}

func NewStateReader(
	projects *repository.ProjectRepository,
	runs *repository.PhaseRunRepository,
	checkpoints *repository.CheckpointRepository,
	pivots *repository.PivotRepository,
) *StateReader {
	return &StateReader{projects: projects, runs: runs, checkpoints: checkpoints, pivots: pivots}
}

// ListByOwner returns the owner's projects, newest first.
func (s *StateReader) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]model.Project, error) {
	return s.projects.ListByOwner(ctx, ownerID)
}

func (s *StateReader) Load(ctx context.Context, projectID uuid.UUID) (*ProjectState, error) {
	project, err := s.projects.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}

	state := &ProjectState{Project: project}

	run, err := s.runs.GetActiveByProject(ctx, projectID)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}
	state.ActiveRun = run

	cp, err := s.checkpoints.GetUnresolvedByProject(ctx, projectID)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}
	state.Checkpoint = cp

	pivots, err := s.pivots.ListByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	state.Pivots = pivots

	return state, nil
}
