package controller

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	mqcontracts "startupai/contracts/mq"
	"startupai/internal/gate"
	"startupai/internal/model"
	"startupai/pkg/metrics"
	"startupai/pkg/rbac"
	"startupai/pkg/util"
)

// ProjectStore is the project persistence the controller needs.
type ProjectStore interface {
	Insert(ctx context.Context, p *model.Project) error
	Get(ctx context.Context, id uuid.UUID) (*model.Project, error)
	UpdatePhase(ctx context.Context, id uuid.UUID, phase model.Phase, status model.ProjectStatus) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.ProjectStatus) error
	AmendHypothesis(ctx context.Context, id uuid.UUID, parameters map[string]any) error
}

// RunStore persists phase runs. InsertActive must reject a second running
// run per project with ErrConflictingRun; Finish must be a one-shot guarded
// update returning ErrNotFound for an already-finished run.
type RunStore interface {
	InsertActive(ctx context.Context, run *model.PhaseRun) error
	Get(ctx context.Context, id uuid.UUID) (*model.PhaseRun, error)
	GetByJobID(ctx context.Context, jobID string) (*model.PhaseRun, error)
	GetActiveByProject(ctx context.Context, projectID uuid.UUID) (*model.PhaseRun, error)
	SetJobID(ctx context.Context, id uuid.UUID, jobID string) error
	Finish(ctx context.Context, id uuid.UUID, outcome model.RunOutcome, failureReason string) error
}

type EvidenceStore interface {
	Insert(ctx context.Context, e *model.Evidence) error
	ListByProjectPhase(ctx context.Context, projectID uuid.UUID, phase model.Phase) ([]model.Evidence, error)
}

// Submitter hands an analysis job to the crew gateway.
type Submitter interface {
	Submit(ctx context.Context, project *model.Project, phaseRunID uuid.UUID, phase model.Phase, parameters map[string]any) (string, error)
}

// CheckpointStore opens approval checkpoints and exposes the outstanding
// one, if any.
type CheckpointStore interface {
	Create(ctx context.Context, project *model.Project, phaseRunID *uuid.UUID, cpType model.CheckpointType, gateSignal model.Signal, payload map[string]any) (*model.Checkpoint, error)
	GetUnresolvedByProject(ctx context.Context, projectID uuid.UUID) (*model.Checkpoint, error)
}

// PivotDispatcher validates and records pivot decisions.
type PivotDispatcher interface {
	Dispatch(ctx context.Context, project *model.Project, checkpointID uuid.UUID, signal model.Signal, option model.PivotOption, parameters map[string]any) (*model.PivotDecision, error)
}

// Emitter writes notification events through the outbox.
type Emitter interface {
	Emit(ctx context.Context, aggregateType string, aggregateID uuid.UUID, routingKey string, payload any) error
}

// CrewResult is a completed crew job reported over the message bus.
type CrewResult struct {
	RunID        uuid.UUID
	JobID        string
	Metrics      map[string]float64
	Artifact     string
	QualityScore float64
}

// CrewFailure is a failed or timed-out crew job.
type CrewFailure struct {
	RunID   uuid.UUID
	JobID   string
	Reason  string
	Timeout bool
}

// Controller owns the project phase-state machine. All mutations of a
// project happen under its per-project lock, and the stores add guarded
// SQL on top, so the one-active-run and one-outstanding-checkpoint rules
// hold even across processes.
type Controller struct {
	projects    ProjectStore
	runs        RunStore
	evidence    EvidenceStore
	checkpoints CheckpointStore
	pivots      PivotDispatcher
	submitter   Submitter
	gate        *gate.Evaluator
	emitter     Emitter
	locks       *util.KeyedMutex
	logger      *zap.Logger
}

func NewController(
	projects ProjectStore,
	runs RunStore,
	evidence EvidenceStore,
	checkpoints CheckpointStore,
	pivots PivotDispatcher,
	submitter Submitter,
	evaluator *gate.Evaluator,
	emitter Emitter,
	logger *zap.Logger,
) *Controller {
	return &Controller{
		projects:    projects,
		runs:        runs,
		evidence:    evidence,
		checkpoints: checkpoints,
		pivots:      pivots,
		submitter:   submitter,
		gate:        evaluator,
		emitter:     emitter,
		locks:       util.NewKeyedMutex(),
		logger:      logger,
	}
}

// CreateProject registers a new business idea and immediately starts the
// discovery phase.
func (c *Controller) CreateProject(ctx context.Context, actor model.Actor, name string, hypothesis map[string]any) (*model.Project, error) {
	if err := rbac.CheckPermission(actor.Role, rbac.PermissionCreateProject); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("project name is required")
	}

	project := &model.Project{
		ID:         uuid.New(),
		OwnerID:    actor.ID,
		Name:       name,
		Hypothesis: hypothesis,
		Phase:      model.PhaseDiscovery,
		Status:     model.StatusCreated,
	}
	if err := c.projects.Insert(ctx, project); err != nil {
		return nil, err
	}

	if err := c.StartPhase(ctx, project.ID, model.PhaseDiscovery, nil); err != nil {
		// The project exists; the owner can re-run discovery manually.
		c.logger.Error("Discovery start failed for new project",
			zap.String("project_id", project.ID.String()),
			zap.Error(err),
		)
		return project, err
	}

	return c.projects.Get(ctx, project.ID)
}

// StartPhase starts a crew run for the project's current phase. It returns
// as soon as the job is submitted; results arrive over the message bus.
// Fails with ErrConflictingRun while another run is active and with
// ErrCheckpointOutstanding while an approval is still open.
func (c *Controller) StartPhase(ctx context.Context, projectID uuid.UUID, phase model.Phase, parameters map[string]any) error {
	c.locks.Lock(projectID.String())
	defer c.locks.Unlock(projectID.String())

	project, err := c.projects.Get(ctx, projectID)
	if err != nil {
		return err
	}
	if phase != project.Phase {
		return fmt.Errorf("project %s is in phase %s, cannot start %s", projectID, project.Phase, phase)
	}
	return c.startPhaseLocked(ctx, project, phase, parameters)
}

// startPhaseLocked is the internal start path. Callers hold the project
// lock; resolution flows re-enter here without relocking.
func (c *Controller) startPhaseLocked(ctx context.Context, project *model.Project, phase model.Phase, parameters map[string]any) error {
	if !phase.Runnable() {
		return fmt.Errorf("phase %s has no crew to run", phase)
	}
	if project.Status == model.StatusCompleted {
		return fmt.Errorf("project %s has completed its journey", project.ID)
	}

	if _, err := c.checkpoints.GetUnresolvedByProject(ctx, project.ID); err == nil {
		return model.ErrCheckpointOutstanding
	} else if !errors.Is(err, model.ErrNotFound) {
		return err
	}

	run := &model.PhaseRun{
		ID:         uuid.New(),
		ProjectID:  project.ID,
		Phase:      phase,
		Parameters: parameters,
	}
	if err := c.runs.InsertActive(ctx, run); err != nil {
		return err
	}

	jobID, err := c.submitter.Submit(ctx, project, run.ID, phase, parameters)
	if err != nil {
		if failErr := c.failRunLocked(ctx, project, run, model.OutcomeFailure, fmt.Sprintf("crew submission failed: %v", err)); failErr != nil {
			return failErr
		}
		return fmt.Errorf("crew submission failed: %w", err)
	}
	if err := c.runs.SetJobID(ctx, run.ID, jobID); err != nil {
		return err
	}

	if project.Phase != phase {
		metrics.IncrementPhaseTransition(string(project.Phase), string(phase))
	}
	if err := c.projects.UpdatePhase(ctx, project.ID, phase, model.StatusRunning); err != nil {
		return err
	}

	c.logger.Info("Phase started",
		zap.String("project_id", project.ID.String()),
		zap.String("phase", string(phase)),
		zap.String("run_id", run.ID.String()),
		zap.String("job_id", jobID),
	)
	return nil
}

// RequestCheckpoint opens an ad-hoc mid-phase approval (campaign launch,
// spend increase). Rejected while an analysis run is active: the run's own
// gate checkpoint could not be opened against an outstanding ad-hoc one,
// leaving the project in Running with nothing to resolve it.
func (c *Controller) RequestCheckpoint(ctx context.Context, projectID uuid.UUID, cpType model.CheckpointType, payload map[string]any) (*model.Checkpoint, error) {
	c.locks.Lock(projectID.String())
	defer c.locks.Unlock(projectID.String())

	project, err := c.projects.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if _, err := c.runs.GetActiveByProject(ctx, projectID); err == nil {
		return nil, model.ErrConflictingRun
	} else if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	return c.checkpoints.Create(ctx, project, nil, cpType, "", payload)
}

// OnCrewResult finishes the run, appends evidence, evaluates the gate where
// the phase has one, and opens the authorizing checkpoint. Duplicate
// deliveries are dropped on the one-shot run finish.
func (c *Controller) OnCrewResult(ctx context.Context, result CrewResult) error {
	run, err := c.lookupRun(ctx, result.RunID, result.JobID)
	if err != nil {
		return err
	}

	c.locks.Lock(run.ProjectID.String())
	defer c.locks.Unlock(run.ProjectID.String())

	if err := c.runs.Finish(ctx, run.ID, model.OutcomeSuccess, ""); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			c.logger.Warn("Dropping duplicate crew result",
				zap.String("run_id", run.ID.String()),
				zap.String("job_id", result.JobID),
			)
			return nil
		}
		return err
	}

	evidence := &model.Evidence{
		ID:           uuid.New(),
		ProjectID:    run.ProjectID,
		PhaseRunID:   run.ID,
		Phase:        run.Phase,
		Kind:         model.EvidenceKindCrewResult,
		Metrics:      result.Metrics,
		Artifact:     result.Artifact,
		QualityScore: result.QualityScore,
	}
	if err := c.evidence.Insert(ctx, evidence); err != nil {
		return err
	}

	project, err := c.projects.Get(ctx, run.ProjectID)
	if err != nil {
		return err
	}

	cpType, signal, payload, err := c.assessPhase(ctx, project, run, result)
	if err != nil {
		return err
	}

	if _, err := c.checkpoints.Create(ctx, project, &run.ID, cpType, signal, payload); err != nil {
		return err
	}
	return c.projects.UpdateStatus(ctx, project.ID, model.StatusAwaitingCheckpoint)
}

// assessPhase decides which checkpoint a finished run opens. Discovery has
// no quantitative gate; its output goes straight to human review. The
// viability gate feeds the final go/no-go decision.
func (c *Controller) assessPhase(ctx context.Context, project *model.Project, run *model.PhaseRun, result CrewResult) (model.CheckpointType, model.Signal, map[string]any, error) {
	if run.Phase == model.PhaseDiscovery {
		payload := map[string]any{
			"artifact":      result.Artifact,
			"quality_score": result.QualityScore,
		}
		return model.CheckpointApproveDiscoveryOutput, "", payload, nil
	}

	all, err := c.evidence.ListByProjectPhase(ctx, project.ID, run.Phase)
	if err != nil {
		return "", "", nil, err
	}
	gateResult, err := c.gate.Evaluate(run.Phase, all)
	if err != nil {
		return "", "", nil, fmt.Errorf("gate evaluation for project %s: %w", project.ID, err)
	}

	metrics.IncrementGateSignal(string(run.Phase), string(gateResult.Signal))
	c.logger.Info("Gate evaluated",
		zap.String("project_id", project.ID.String()),
		zap.String("phase", string(run.Phase)),
		zap.String("signal", string(gateResult.Signal)),
		zap.Float64("readiness_score", gateResult.ReadinessScore),
	)

	payload := map[string]any{
		"signal":          gateResult.Signal,
		"readiness_score": gateResult.ReadinessScore,
		"metrics":         gateResult.Metrics,
	}

	cpType := model.CheckpointGateProgression
	if run.Phase == model.PhaseViability {
		cpType = model.CheckpointFinalDecision
	}
	return cpType, gateResult.Signal, payload, nil
}

// OnCrewFailure closes the run as failed or timed out. The failure is
// terminal for the run but not for the project: a human re-enters through
// StartPhase, never an automatic resubmission.
func (c *Controller) OnCrewFailure(ctx context.Context, failure CrewFailure) error {
	run, err := c.lookupRun(ctx, failure.RunID, failure.JobID)
	if err != nil {
		return err
	}

	c.locks.Lock(run.ProjectID.String())
	defer c.locks.Unlock(run.ProjectID.String())

	project, err := c.projects.Get(ctx, run.ProjectID)
	if err != nil {
		return err
	}

	outcome := model.OutcomeFailure
	if failure.Timeout {
		outcome = model.OutcomeTimeout
	}
	return c.failRunLocked(ctx, project, run, outcome, failure.Reason)
}

func (c *Controller) failRunLocked(ctx context.Context, project *model.Project, run *model.PhaseRun, outcome model.RunOutcome, reason string) error {
	if err := c.runs.Finish(ctx, run.ID, outcome, reason); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			c.logger.Warn("Dropping duplicate crew failure",
				zap.String("run_id", run.ID.String()),
			)
			return nil
		}
		return err
	}

	if err := c.projects.UpdateStatus(ctx, project.ID, model.StatusFailed); err != nil {
		return err
	}

	metrics.IncrementPhaseRunFailure(string(run.Phase), string(outcome))
	if err := c.emitter.Emit(ctx, "phase_run", run.ID, mqcontracts.RoutingKeyPhaseFailed, mqcontracts.PhaseFailedPayload{
		ProjectID:  project.ID.String(),
		PhaseRunID: run.ID.String(),
		Phase:      string(run.Phase),
		Outcome:    string(outcome),
		Reason:     reason,
	}); err != nil {
		return err
	}

	c.logger.Error("Phase run failed",
		zap.String("project_id", project.ID.String()),
		zap.String("run_id", run.ID.String()),
		zap.String("phase", string(run.Phase)),
		zap.String("outcome", string(outcome)),
		zap.String("reason", reason),
	)
	return nil
}

// OnCheckpointResolved applies the recorded decision to the state machine.
// Called after the checkpoint manager has committed the resolution.
func (c *Controller) OnCheckpointResolved(ctx context.Context, cp *model.Checkpoint) error {
	if cp.Decision == nil {
		return fmt.Errorf("checkpoint %s resolved without a decision", cp.ID)
	}

	c.locks.Lock(cp.ProjectID.String())
	defer c.locks.Unlock(cp.ProjectID.String())

	project, err := c.projects.Get(ctx, cp.ProjectID)
	if err != nil {
		return err
	}

	switch cp.Decision.Kind {
	case model.DecisionApprove:
		return c.approveLocked(ctx, project, cp)
	case model.DecisionRevise:
		return c.reviseLocked(ctx, project, cp)
	case model.DecisionReject:
		return c.rejectLocked(ctx, project, cp)
	case model.DecisionPivot:
		return c.pivotLocked(ctx, project, cp)
	}
	return fmt.Errorf("unknown decision kind %q on checkpoint %s", cp.Decision.Kind, cp.ID)
}

func (c *Controller) approveLocked(ctx context.Context, project *model.Project, cp *model.Checkpoint) error {
	if cp.Type.AdHoc() {
		// Mid-phase approvals gate an external action, not progression.
		return nil
	}

	if cp.Type == model.CheckpointFinalDecision {
		return c.completeLocked(ctx, project)
	}

	next, ok := project.Phase.Next()
	if !ok {
		return fmt.Errorf("phase %s has no successor", project.Phase)
	}
	return c.startPhaseLocked(ctx, project, next, nil)
}

func (c *Controller) reviseLocked(ctx context.Context, project *model.Project, cp *model.Checkpoint) error {
	params := cp.Decision.Parameters
	if len(params) > 0 {
		if err := c.projects.AmendHypothesis(ctx, project.ID, params); err != nil {
			return err
		}
		project.Hypothesis = merged(project.Hypothesis, params)
	}
	return c.startPhaseLocked(ctx, project, cp.Phase, params)
}

func (c *Controller) rejectLocked(ctx context.Context, project *model.Project, cp *model.Checkpoint) error {
	if cp.Type.AdHoc() {
		// Declining a campaign or spend request leaves the journey as is.
		return nil
	}

	if cp.Type == model.CheckpointFinalDecision {
		if err := c.projects.UpdatePhase(ctx, project.ID, model.PhaseArchived, model.StatusCompleted); err != nil {
			return err
		}
		metrics.IncrementPhaseTransition(string(project.Phase), string(model.PhaseArchived))
		return c.emitter.Emit(ctx, "project", project.ID, mqcontracts.RoutingKeyProjectArchived, mqcontracts.ProjectStatusPayload{
			ProjectID: project.ID.String(),
			Phase:     string(model.PhaseArchived),
			Status:    string(model.StatusCompleted),
			Reason:    "final decision rejected",
		})
	}

	if err := c.projects.UpdateStatus(ctx, project.ID, model.StatusPaused); err != nil {
		return err
	}
	return c.emitter.Emit(ctx, "project", project.ID, mqcontracts.RoutingKeyProjectPaused, mqcontracts.ProjectStatusPayload{
		ProjectID: project.ID.String(),
		Phase:     string(project.Phase),
		Status:    string(model.StatusPaused),
		Reason:    fmt.Sprintf("rejected at %s checkpoint", cp.Type),
	})
}

func (c *Controller) pivotLocked(ctx context.Context, project *model.Project, cp *model.Checkpoint) error {
	decision, err := c.pivots.Dispatch(ctx, project, cp.ID, cp.GateSignal, cp.Decision.PivotOption, cp.Decision.Parameters)
	if err != nil {
		return err
	}

	// The pivot itself is evidence: the journey's history must show why the
	// loop restarted.
	record := &model.Evidence{
		ID:           uuid.New(),
		ProjectID:    project.ID,
		PhaseRunID:   derefRunID(cp.PhaseRunID),
		Phase:        decision.FromPhase,
		Kind:         model.EvidenceKindPivotAction,
		Artifact:     fmt.Sprintf("pivot %s: %s -> %s", decision.Option, decision.FromPhase, decision.TargetPhase),
		QualityScore: 1,
	}
	if err := c.evidence.Insert(ctx, record); err != nil {
		return err
	}

	if err := c.emitter.Emit(ctx, "project", project.ID, mqcontracts.RoutingKeyPivotDispatched, mqcontracts.PivotDispatchedPayload{
		ProjectID:   project.ID.String(),
		Option:      string(decision.Option),
		FromPhase:   string(decision.FromPhase),
		TargetPhase: string(decision.TargetPhase),
	}); err != nil {
		return err
	}

	if decision.TargetPhase == model.PhaseValidated {
		// Continue past the viability gate completes the journey.
		return c.completeLocked(ctx, project)
	}

	if decision.Option != model.PivotContinue && len(decision.Hypothesis) > 0 {
		if err := c.projects.AmendHypothesis(ctx, project.ID, decision.Hypothesis); err != nil {
			return err
		}
		project.Hypothesis = merged(project.Hypothesis, decision.Hypothesis)
	}

	return c.startPhaseLocked(ctx, project, decision.TargetPhase, nil)
}

func (c *Controller) completeLocked(ctx context.Context, project *model.Project) error {
	if err := c.projects.UpdatePhase(ctx, project.ID, model.PhaseValidated, model.StatusCompleted); err != nil {
		return err
	}
	metrics.IncrementPhaseTransition(string(project.Phase), string(model.PhaseValidated))
	c.logger.Info("Project validated",
		zap.String("project_id", project.ID.String()),
	)
	return c.emitter.Emit(ctx, "project", project.ID, mqcontracts.RoutingKeyProjectValidated, mqcontracts.ProjectStatusPayload{
		ProjectID: project.ID.String(),
		Phase:     string(model.PhaseValidated),
		Status:    string(model.StatusCompleted),
	})
}

func (c *Controller) lookupRun(ctx context.Context, runID uuid.UUID, jobID string) (*model.PhaseRun, error) {
	if runID != uuid.Nil {
		return c.runs.Get(ctx, runID)
	}
	return c.runs.GetByJobID(ctx, jobID)
}

func derefRunID(id *uuid.UUID) uuid.UUID {
	if id == nil {
		return uuid.Nil
	}
	return *id
}

func merged(base, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}
