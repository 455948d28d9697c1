package model

import (
	"time"

	"github.com/google/uuid"
)

// CheckpointType names a human approval instance.
type CheckpointType string

const (
	CheckpointApproveDiscoveryOutput CheckpointType = "approve_discovery_output"
	CheckpointGateProgression        CheckpointType = "gate_progression"
	CheckpointCampaignLaunch         CheckpointType = "campaign_launch"
	CheckpointSpendIncrease          CheckpointType = "spend_increase"
	CheckpointFinalDecision          CheckpointType = "final_decision"
)

func (t CheckpointType) Valid() bool {
	switch t {
	case CheckpointApproveDiscoveryOutput, CheckpointGateProgression,
		CheckpointCampaignLaunch, CheckpointSpendIncrease, CheckpointFinalDecision:
		return true
	}
	return false
}

// AdHoc reports whether the type is requested mid-phase by the UI layer
// rather than created by gate evaluation.
func (t CheckpointType) AdHoc() bool {
	return t == CheckpointCampaignLaunch || t == CheckpointSpendIncrease
}

// CheckpointStatus lifecycle: pending -> escalated -> terminal, or
// pending -> terminal directly. Terminal states never change again.
type CheckpointStatus string

const (
	CheckpointPending     CheckpointStatus = "pending"
	CheckpointEscalated   CheckpointStatus = "escalated"
	CheckpointApproved    CheckpointStatus = "approved"
	CheckpointRevised     CheckpointStatus = "revised"
	CheckpointRejected    CheckpointStatus = "rejected"
	CheckpointAutoExpired CheckpointStatus = "auto_expired"
)

func (s CheckpointStatus) Terminal() bool {
	switch s {
	case CheckpointApproved, CheckpointRevised, CheckpointRejected, CheckpointAutoExpired:
		return true
	}
	return false
}

// DecisionKind is what the human chose at a checkpoint.
type DecisionKind string

const (
	DecisionApprove DecisionKind = "approve"
	DecisionRevise  DecisionKind = "revise"
	DecisionReject  DecisionKind = "reject"
	DecisionPivot   DecisionKind = "pivot"
)

func (k DecisionKind) Valid() bool {
	switch k {
	case DecisionApprove, DecisionRevise, DecisionReject, DecisionPivot:
		return true
	}
	return false
}

// Decision is the payload recorded when a checkpoint is resolved.
type Decision struct {
	Kind        DecisionKind   `json:"kind"`
	PivotOption PivotOption    `json:"pivot_option,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Note        string         `json:"note,omitempty"`
}

// Checkpoint is a human-in-the-loop approval instance. At most one
// unresolved checkpoint exists per project; it is resolved exactly once.
type Checkpoint struct {
	ID              uuid.UUID        `json:"id"`
	ProjectID       uuid.UUID        `json:"project_id"`
	PhaseRunID      *uuid.UUID       `json:"phase_run_id,omitempty"`
	Phase           Phase            `json:"phase"`
	Type            CheckpointType   `json:"type"`
	Status          CheckpointStatus `json:"status"`
	EscalationLevel int              `json:"escalation_level"`
	GateSignal      Signal           `json:"gate_signal,omitempty"`
	Payload         map[string]any   `json:"payload,omitempty"`
	Decision        *Decision        `json:"decision,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	ResolvedAt      *time.Time       `json:"resolved_at,omitempty"`
	ResolvedBy      *uuid.UUID       `json:"resolved_by,omitempty"`
}
