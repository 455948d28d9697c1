package mq

// Routing keys published for the notification subsystem. Delivery (email,
// in-app) is the consumer's responsibility.
const (
	RoutingKeyCheckpointCreated   = "checkpoint.created"
	RoutingKeyCheckpointEscalated = "checkpoint.escalated"
	RoutingKeyCheckpointResolved  = "checkpoint.resolved"
	RoutingKeyPhaseFailed         = "phase.failed"
	RoutingKeyPivotDispatched     = "pivot.dispatched"
	RoutingKeyProjectPaused       = "project.paused"
	RoutingKeyProjectValidated    = "project.validated"
	RoutingKeyProjectArchived     = "project.archived"
)

type CheckpointCreatedPayload struct {
	CheckpointID string `json:"checkpoint_id"`
	ProjectID    string `json:"project_id"`
	Phase        string `json:"phase"`
	Type         string `json:"type"`
	GateSignal   string `json:"gate_signal,omitempty"`
	TraceID      string `json:"trace_id,omitempty"`
}

type CheckpointEscalatedPayload struct {
	CheckpointID    string `json:"checkpoint_id"`
	ProjectID       string `json:"project_id"`
	Tier            string `json:"tier"`
	EscalationLevel int    `json:"escalation_level"`
}

type CheckpointResolvedPayload struct {
	CheckpointID string `json:"checkpoint_id"`
	ProjectID    string `json:"project_id"`
	Decision     string `json:"decision"`
	ResolvedBy   string `json:"resolved_by"`
}

type PhaseFailedPayload struct {
	ProjectID  string `json:"project_id"`
	PhaseRunID string `json:"phase_run_id"`
	Phase      string `json:"phase"`
	Outcome    string `json:"outcome"`
	Reason     string `json:"reason"`
}

type PivotDispatchedPayload struct {
	ProjectID   string `json:"project_id"`
	Option      string `json:"option"`
	FromPhase   string `json:"from_phase"`
	TargetPhase string `json:"target_phase"`
}

type ProjectStatusPayload struct {
	ProjectID string `json:"project_id"`
	Phase     string `json:"phase"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
}
