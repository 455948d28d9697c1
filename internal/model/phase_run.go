package model

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a phase run.
type RunStatus string

const (
	RunRunning  RunStatus = "running"
	RunFinished RunStatus = "finished"
)

// RunOutcome is set once a run finishes.
type RunOutcome string

const (
	OutcomeSuccess RunOutcome = "success"
	OutcomeFailure RunOutcome = "failure"
	OutcomeTimeout RunOutcome = "timeout"
)

// PhaseRun is one execution attempt of a phase's crew for a project.
// A project has at most one run with status running at any time.
type PhaseRun struct {
	ID            uuid.UUID      `json:"id"`
	ProjectID     uuid.UUID      `json:"project_id"`
	Phase         Phase          `json:"phase"`
	JobID         string         `json:"job_id"`
	Status        RunStatus      `json:"status"`
	Outcome       RunOutcome     `json:"outcome,omitempty"`
	FailureReason string         `json:"failure_reason,omitempty"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    *time.Time     `json:"finished_at,omitempty"`
}
