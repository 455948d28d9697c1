package model

import (
	"time"

	"github.com/google/uuid"
)

// Evidence kinds. Crew runs and approved pivot actions are the only writers.
const (
	EvidenceKindCrewResult  = "crew_result"
	EvidenceKindPivotAction = "pivot_action"
)

// Well-known metric keys produced by crews. Feasibility feature ratings use
// the FeatureRatingPrefix convention: "feature_rating:<name>" with values
// 0 (impossible), 1 (constrained), 2 (possible); "substitute:<name>" = 1
// marks a viable substitute for an impossible feature.
const (
	MetricProblemResonance = "problem_resonance"
	MetricZombieRatio      = "zombie_ratio"
	MetricLTV              = "ltv"
	MetricCAC              = "cac"

	FeatureRatingPrefix = "feature_rating:"
	SubstitutePrefix    = "substitute:"

	FeatureImpossible  = 0
	FeatureConstrained = 1
	FeaturePossible    = 2
)

// Evidence is an immutable, append-only record of a measured signal or
// qualitative artifact. It is referenced, never mutated, by gate evaluation.
type Evidence struct {
	ID           uuid.UUID          `json:"id"`
	ProjectID    uuid.UUID          `json:"project_id"`
	PhaseRunID   uuid.UUID          `json:"phase_run_id"`
	Phase        Phase              `json:"phase"`
	Kind         string             `json:"kind"`
	Metrics      map[string]float64 `json:"metrics"`
	Artifact     string             `json:"artifact,omitempty"`
	QualityScore float64            `json:"quality_score"`
	CreatedAt    time.Time          `json:"created_at"`
}
