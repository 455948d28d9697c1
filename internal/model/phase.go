package model

// Phase is the validation journey stage a project is in.
type Phase string

const (
	PhaseDiscovery    Phase = "discovery"
	PhaseDesirability Phase = "desirability"
	PhaseFeasibility  Phase = "feasibility"
	PhaseViability    Phase = "viability"
	PhaseValidated    Phase = "validated"
	PhaseArchived     Phase = "archived"
)

// phaseOrder drives Next(). Validated and Archived are terminal.
var phaseOrder = map[Phase]Phase{
	PhaseDiscovery:    PhaseDesirability,
	PhaseDesirability: PhaseFeasibility,
	PhaseFeasibility:  PhaseViability,
	PhaseViability:    PhaseValidated,
}

func (p Phase) Valid() bool {
	switch p {
	case PhaseDiscovery, PhaseDesirability, PhaseFeasibility, PhaseViability, PhaseValidated, PhaseArchived:
		return true
	}
	return false
}

// Runnable reports whether the phase has a crew to execute.
func (p Phase) Runnable() bool {
	switch p {
	case PhaseDiscovery, PhaseDesirability, PhaseFeasibility, PhaseViability:
		return true
	}
	return false
}

// Next returns the phase that follows p in the journey.
// ok is false for terminal phases.
func (p Phase) Next() (next Phase, ok bool) {
	next, ok = phaseOrder[p]
	return next, ok
}

// ProjectStatus is the status of the project's current phase.
type ProjectStatus string

const (
	StatusCreated            ProjectStatus = "created"
	StatusRunning            ProjectStatus = "running"
	StatusAwaitingCheckpoint ProjectStatus = "awaiting_checkpoint"
	StatusPaused             ProjectStatus = "paused"
	StatusCompleted          ProjectStatus = "completed"
	StatusFailed             ProjectStatus = "failed"
)

func (s ProjectStatus) Valid() bool {
	switch s {
	case StatusCreated, StatusRunning, StatusAwaitingCheckpoint, StatusPaused, StatusCompleted, StatusFailed:
		return true
	}
	return false
}
