package model

import (
	"time"

	"github.com/google/uuid"
)

// PivotOption is the pivot flow chosen at a checkpoint.
type PivotOption string

const (
	PivotSegment          PivotOption = "segment"
	PivotValue            PivotOption = "value"
	PivotFeatureDowngrade PivotOption = "feature_downgrade"
	PivotStrategic        PivotOption = "strategic"
	PivotContinue         PivotOption = "continue"
)

func (o PivotOption) Valid() bool {
	switch o {
	case PivotSegment, PivotValue, PivotFeatureDowngrade, PivotStrategic, PivotContinue:
		return true
	}
	return false
}

// PivotDecision records which pivot flow was selected for a project at a
// given checkpoint. Immutable once recorded; it triggers a new phase run.
type PivotDecision struct {
	ID           uuid.UUID      `json:"id"`
	ProjectID    uuid.UUID      `json:"project_id"`
	CheckpointID uuid.UUID      `json:"checkpoint_id"`
	FromPhase    Phase          `json:"from_phase"`
	Signal       Signal         `json:"signal"`
	Option       PivotOption    `json:"option"`
	TargetPhase  Phase          `json:"target_phase"`
	Hypothesis   map[string]any `json:"hypothesis,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}
