package model

import "errors"

// Domain errors. Invariant violations are rejected synchronously and never
// partially applied; callers match with errors.Is.
var (
	// ErrConflictingRun: a phase was started while another run is active.
	ErrConflictingRun = errors.New("conflicting run: project already has an active phase run")

	// ErrAlreadyResolved: resolve attempted on a terminal checkpoint.
	ErrAlreadyResolved = errors.New("checkpoint already resolved")

	// ErrInvalidPivotForPhase: pivot option incompatible with the phase the
	// gate signal originated from.
	ErrInvalidPivotForPhase = errors.New("pivot option not valid for originating phase")

	// ErrCheckpointOutstanding: a checkpoint was requested while another is
	// still unresolved for the same project.
	ErrCheckpointOutstanding = errors.New("project already has an unresolved checkpoint")

	ErrNotFound = errors.New("not found")
)
