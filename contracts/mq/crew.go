package mq

// Routing keys consumed from the crew executor.
const (
	RoutingKeyCrewCompleted = "crew.completed"
	RoutingKeyCrewFailed    = "crew.failed"
)

// CrewCompletedPayload is the crew executor's success callback. Metrics and
// artifact become an Evidence record; quality_score feeds the gate
// readiness score.
type CrewCompletedPayload struct {
	JobID        string             `json:"job_id"`
	PhaseRunID   string             `json:"phase_run_id"`
	ProjectID    string             `json:"project_id"`
	Phase        string             `json:"phase"`
	Metrics      map[string]float64 `json:"metrics"`
	Artifact     string             `json:"artifact,omitempty"`
	QualityScore float64            `json:"quality_score"`
	TraceID      string             `json:"trace_id,omitempty"`
}

// CrewFailedPayload is the crew executor's failure callback. The executor
// retries internally before reporting failure upward; the orchestrator does
// not retry on its own.
type CrewFailedPayload struct {
	JobID      string `json:"job_id"`
	PhaseRunID string `json:"phase_run_id"`
	ProjectID  string `json:"project_id"`
	Phase      string `json:"phase"`
	Reason     string `json:"reason"`
	Timeout    bool   `json:"timeout"`
	TraceID    string `json:"trace_id,omitempty"`
}
