package controller

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	mqcontracts "startupai/contracts/mq"
	"startupai/internal/gate"
	"startupai/internal/model"
	"startupai/internal/pivot"
	"startupai/pkg/config"
	"startupai/pkg/rbac"
)

type fakeProjects struct {
	projects map[uuid.UUID]*model.Project
}

func (f *fakeProjects) Insert(_ context.Context, p *model.Project) error {
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	f.projects[p.ID] = p
	return nil
}

func (f *fakeProjects) Get(_ context.Context, id uuid.UUID) (*model.Project, error) {
	p, ok := f.projects[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	copied := *p
	return &copied, nil
}

func (f *fakeProjects) UpdatePhase(_ context.Context, id uuid.UUID, phase model.Phase, status model.ProjectStatus) error {
	p, ok := f.projects[id]
	if !ok {
		return model.ErrNotFound
	}
	p.Phase = phase
	p.Status = status
	return nil
}

func (f *fakeProjects) UpdateStatus(_ context.Context, id uuid.UUID, status model.ProjectStatus) error {
	p, ok := f.projects[id]
	if !ok {
		return model.ErrNotFound
	}
	p.Status = status
	return nil
}

func (f *fakeProjects) AmendHypothesis(_ context.Context, id uuid.UUID, parameters map[string]any) error {
	p, ok := f.projects[id]
	if !ok {
		return model.ErrNotFound
	}
	if p.Hypothesis == nil {
		p.Hypothesis = map[string]any{}
	}
	for k, v := range parameters {
		p.Hypothesis[k] = v
	}
	return nil
}

type fakeRuns struct {
	runs map[uuid.UUID]*model.PhaseRun
}

func (f *fakeRuns) InsertActive(_ context.Context, run *model.PhaseRun) error {
	for _, existing := range f.runs {
		if existing.ProjectID == run.ProjectID && existing.Status == model.RunRunning {
			return model.ErrConflictingRun
		}
	}
	run.Status = model.RunRunning
	run.StartedAt = time.Now()
	f.runs[run.ID] = run
	return nil
}

func (f *fakeRuns) Get(_ context.Context, id uuid.UUID) (*model.PhaseRun, error) {
	run, ok := f.runs[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return run, nil
}

func (f *fakeRuns) GetByJobID(_ context.Context, jobID string) (*model.PhaseRun, error) {
	for _, run := range f.runs {
		if run.JobID == jobID {
			return run, nil
		}
	}
	return nil, model.ErrNotFound
}

func (f *fakeRuns) GetActiveByProject(_ context.Context, projectID uuid.UUID) (*model.PhaseRun, error) {
	if run := f.activeFor(projectID); run != nil {
		return run, nil
	}
	return nil, model.ErrNotFound
}

func (f *fakeRuns) SetJobID(_ context.Context, id uuid.UUID, jobID string) error {
	run, ok := f.runs[id]
	if !ok {
		return model.ErrNotFound
	}
	run.JobID = jobID
	return nil
}

func (f *fakeRuns) Finish(_ context.Context, id uuid.UUID, outcome model.RunOutcome, reason string) error {
	run, ok := f.runs[id]
	if !ok || run.Status != model.RunRunning {
		return model.ErrNotFound
	}
	now := time.Now()
	run.Status = model.RunFinished
	run.Outcome = outcome
	run.FailureReason = reason
	run.FinishedAt = &now
	return nil
}

func (f *fakeRuns) activeFor(projectID uuid.UUID) *model.PhaseRun {
	for _, run := range f.runs {
		if run.ProjectID == projectID && run.Status == model.RunRunning {
			return run
		}
	}
	return nil
}

type fakeEvidence struct {
	records []*model.Evidence
}

func (f *fakeEvidence) Insert(_ context.Context, e *model.Evidence) error {
	e.CreatedAt = time.Now()
	f.records = append(f.records, e)
	return nil
}

func (f *fakeEvidence) ListByProjectPhase(_ context.Context, projectID uuid.UUID, phase model.Phase) ([]model.Evidence, error) {
	out := []model.Evidence{}
	for _, e := range f.records {
		if e.ProjectID == projectID && e.Phase == phase {
			out = append(out, *e)
		}
	}
	return out, nil
}

type fakeCheckpoints struct {
	checkpoints map[uuid.UUID]*model.Checkpoint
}

func (f *fakeCheckpoints) Create(_ context.Context, project *model.Project, phaseRunID *uuid.UUID, cpType model.CheckpointType, gateSignal model.Signal, payload map[string]any) (*model.Checkpoint, error) {
	for _, cp := range f.checkpoints {
		if cp.ProjectID == project.ID && !cp.Status.Terminal() {
			return nil, model.ErrCheckpointOutstanding
		}
	}
	cp := &model.Checkpoint{
		ID:         uuid.New(),
		ProjectID:  project.ID,
		PhaseRunID: phaseRunID,
		Phase:      project.Phase,
		Type:       cpType,
		Status:     model.CheckpointPending,
		GateSignal: gateSignal,
		Payload:    payload,
		CreatedAt:  time.Now(),
	}
	f.checkpoints[cp.ID] = cp
	return cp, nil
}

func (f *fakeCheckpoints) GetUnresolvedByProject(_ context.Context, projectID uuid.UUID) (*model.Checkpoint, error) {
	for _, cp := range f.checkpoints {
		if cp.ProjectID == projectID && !cp.Status.Terminal() {
			return cp, nil
		}
	}
	return nil, model.ErrNotFound
}

// resolve marks the checkpoint terminal the way the checkpoint manager
// would, so OnCheckpointResolved can be exercised directly.
func (f *fakeCheckpoints) resolve(cp *model.Checkpoint, decision model.Decision) *model.Checkpoint {
	stored := f.checkpoints[cp.ID]
	stored.Status = model.CheckpointApproved
	stored.Decision = &decision
	return stored
}

type fakePivotStore struct {
	decisions []*model.PivotDecision
}

func (f *fakePivotStore) Insert(_ context.Context, d *model.PivotDecision) error {
	f.decisions = append(f.decisions, d)
	return nil
}

type fakeSubmitter struct {
	calls   int
	failure error
}

func (f *fakeSubmitter) Submit(_ context.Context, _ *model.Project, _ uuid.UUID, phase model.Phase, _ map[string]any) (string, error) {
	f.calls++
	if f.failure != nil {
		return "", f.failure
	}
	return fmt.Sprintf("job-%s-%d", phase, f.calls), nil
}

type fakeEmitter struct {
	keys []string
}

func (f *fakeEmitter) Emit(_ context.Context, _ string, _ uuid.UUID, routingKey string, _ any) error {
	f.keys = append(f.keys, routingKey)
	return nil
}

func (f *fakeEmitter) has(key string) bool {
	for _, k := range f.keys {
		if k == key {
			return true
		}
	}
	return false
}

var gateThresholds = config.GateConfig{
	ProblemResonanceMin: 0.30,
	ZombieRatioMax:      0.70,
	LTVCACProfitableMin: 3.0,
	LTVCACUnderwaterMax: 1.0,
}

type harness struct {
	controller  *Controller
	projects    *fakeProjects
	runs        *fakeRuns
	evidence    *fakeEvidence
	checkpoints *fakeCheckpoints
	pivotStore  *fakePivotStore
	submitter   *fakeSubmitter
	emitter     *fakeEmitter
	actor       model.Actor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		projects:    &fakeProjects{projects: make(map[uuid.UUID]*model.Project)},
		runs:        &fakeRuns{runs: make(map[uuid.UUID]*model.PhaseRun)},
		evidence:    &fakeEvidence{},
		checkpoints: &fakeCheckpoints{checkpoints: make(map[uuid.UUID]*model.Checkpoint)},
		pivotStore:  &fakePivotStore{},
		submitter:   &fakeSubmitter{},
		emitter:     &fakeEmitter{},
		actor:       model.Actor{ID: uuid.New(), Role: rbac.RoleFounder},
	}
	h.controller = NewController(
		h.projects,
		h.runs,
		h.evidence,
		h.checkpoints,
		pivot.NewDispatcher(h.pivotStore, zap.NewNop()),
		h.submitter,
		gate.NewEvaluator(gateThresholds),
		h.emitter,
		zap.NewNop(),
	)
	return h
}

func (h *harness) createProject(t *testing.T) *model.Project {
	t.Helper()
	project, err := h.controller.CreateProject(context.Background(), h.actor, "acme", map[string]any{"idea": "meal kits"})
	require.NoError(t, err)
	return project
}

// advanceTo drives a fresh project to the given phase with approvals.
func (h *harness) advanceTo(t *testing.T, phase model.Phase) *model.Project {
	t.Helper()
	project := h.createProject(t)
	for project.Phase != phase {
		h.finishRun(t, project.ID, crewMetricsFor(project.Phase))
		cp, err := h.checkpoints.GetUnresolvedByProject(context.Background(), project.ID)
		require.NoError(t, err)
		resolved := h.checkpoints.resolve(cp, model.Decision{Kind: model.DecisionApprove})
		require.NoError(t, h.controller.OnCheckpointResolved(context.Background(), resolved))
		project, err = h.projects.Get(context.Background(), project.ID)
		require.NoError(t, err)
	}
	return project
}

func (h *harness) finishRun(t *testing.T, projectID uuid.UUID, metrics map[string]float64) {
	t.Helper()
	run := h.runs.activeFor(projectID)
	require.NotNil(t, run, "expected an active run")
	err := h.controller.OnCrewResult(context.Background(), CrewResult{
		RunID:        run.ID,
		JobID:        run.JobID,
		Metrics:      metrics,
		Artifact:     "report",
		QualityScore: 0.8,
	})
	require.NoError(t, err)
}

func crewMetricsFor(phase model.Phase) map[string]float64 {
	switch phase {
	case model.PhaseDesirability:
		return map[string]float64{model.MetricProblemResonance: 0.6, model.MetricZombieRatio: 0.2}
	case model.PhaseFeasibility:
		return map[string]float64{model.FeatureRatingPrefix + "core": model.FeaturePossible}
	case model.PhaseViability:
		return map[string]float64{model.MetricLTV: 450, model.MetricCAC: 150}
	}
	return nil
}

func TestCreateProject_StartsDiscovery(t *testing.T) {
	h := newHarness(t)
	project := h.createProject(t)

	assert.Equal(t, model.PhaseDiscovery, project.Phase)
	assert.Equal(t, model.StatusRunning, project.Status)
	run := h.runs.activeFor(project.ID)
	require.NotNil(t, run)
	assert.Equal(t, model.PhaseDiscovery, run.Phase)
	assert.NotEmpty(t, run.JobID)
}

func TestCreateProject_PermissionDenied(t *testing.T) {
	h := newHarness(t)
	_, err := h.controller.CreateProject(context.Background(), model.Actor{ID: uuid.New(), Role: "intern"}, "acme", nil)

	var denied *rbac.PermissionDeniedError
	assert.ErrorAs(t, err, &denied)
}

func TestStartPhase_ConflictingRun(t *testing.T) {
	h := newHarness(t)
	project := h.createProject(t)

	err := h.controller.StartPhase(context.Background(), project.ID, model.PhaseDiscovery, nil)
	assert.ErrorIs(t, err, model.ErrConflictingRun)
}

func TestStartPhase_CheckpointOutstanding(t *testing.T) {
	h := newHarness(t)
	project := h.createProject(t)
	h.finishRun(t, project.ID, nil)

	err := h.controller.StartPhase(context.Background(), project.ID, model.PhaseDiscovery, nil)
	assert.ErrorIs(t, err, model.ErrCheckpointOutstanding)
}

func TestRequestCheckpoint_RejectedWhileRunActive(t *testing.T) {
	h := newHarness(t)
	project := h.createProject(t)

	_, err := h.controller.RequestCheckpoint(context.Background(), project.ID, model.CheckpointCampaignLaunch, nil)
	assert.ErrorIs(t, err, model.ErrConflictingRun)

	// the crew result still finds the checkpoint slot free
	h.finishRun(t, project.ID, nil)
	cp, err := h.checkpoints.GetUnresolvedByProject(context.Background(), project.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CheckpointApproveDiscoveryOutput, cp.Type)

	updated, err := h.projects.Get(context.Background(), project.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAwaitingCheckpoint, updated.Status)
}

func TestRequestCheckpoint_RejectedWhileCheckpointOpen(t *testing.T) {
	h := newHarness(t)
	project := h.createProject(t)
	h.finishRun(t, project.ID, nil)

	_, err := h.controller.RequestCheckpoint(context.Background(), project.ID, model.CheckpointSpendIncrease, nil)
	assert.ErrorIs(t, err, model.ErrCheckpointOutstanding)
}

func TestRequestCheckpoint_OpensWhenProjectQuiescent(t *testing.T) {
	h := newHarness(t)
	project := h.createProject(t)
	h.finishRun(t, project.ID, nil)

	cp, err := h.checkpoints.GetUnresolvedByProject(context.Background(), project.ID)
	require.NoError(t, err)
	resolved := h.checkpoints.resolve(cp, model.Decision{Kind: model.DecisionReject})
	require.NoError(t, h.controller.OnCheckpointResolved(context.Background(), resolved))

	adhoc, err := h.controller.RequestCheckpoint(context.Background(), project.ID, model.CheckpointCampaignLaunch, map[string]any{"budget": 5000})
	require.NoError(t, err)
	assert.Equal(t, model.CheckpointCampaignLaunch, adhoc.Type)
	assert.Equal(t, model.CheckpointPending, adhoc.Status)
}

func TestOnCrewResult_DiscoveryGoesToHumanReview(t *testing.T) {
	h := newHarness(t)
	project := h.createProject(t)
	h.finishRun(t, project.ID, nil)

	cp, err := h.checkpoints.GetUnresolvedByProject(context.Background(), project.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CheckpointApproveDiscoveryOutput, cp.Type)
	assert.Empty(t, cp.GateSignal, "discovery has no gate")

	updated, err := h.projects.Get(context.Background(), project.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAwaitingCheckpoint, updated.Status)

	require.Len(t, h.evidence.records, 1)
	assert.Equal(t, model.EvidenceKindCrewResult, h.evidence.records[0].Kind)
}

func TestOnCrewResult_DesirabilityGate(t *testing.T) {
	h := newHarness(t)
	project := h.advanceTo(t, model.PhaseDesirability)

	h.finishRun(t, project.ID, map[string]float64{
		model.MetricProblemResonance: 0.18,
		model.MetricZombieRatio:      0.2,
	})

	cp, err := h.checkpoints.GetUnresolvedByProject(context.Background(), project.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CheckpointGateProgression, cp.Type)
	assert.Equal(t, model.SignalNoInterest, cp.GateSignal)
}

func TestOnCrewResult_ViabilityOpensFinalDecision(t *testing.T) {
	h := newHarness(t)
	project := h.advanceTo(t, model.PhaseViability)

	h.finishRun(t, project.ID, map[string]float64{
		model.MetricLTV: 300,
		model.MetricCAC: 150,
	})

	cp, err := h.checkpoints.GetUnresolvedByProject(context.Background(), project.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CheckpointFinalDecision, cp.Type)
	assert.Equal(t, model.SignalMarginal, cp.GateSignal)
}

func TestOnCrewResult_DuplicateDeliveryDropped(t *testing.T) {
	h := newHarness(t)
	project := h.createProject(t)
	run := h.runs.activeFor(project.ID)
	h.finishRun(t, project.ID, nil)

	err := h.controller.OnCrewResult(context.Background(), CrewResult{
		RunID:        run.ID,
		JobID:        run.JobID,
		Artifact:     "report",
		QualityScore: 0.8,
	})
	require.NoError(t, err)

	assert.Len(t, h.evidence.records, 1, "duplicate delivery writes no second evidence")
	assert.Len(t, h.checkpoints.checkpoints, 1)
}

func TestOnCrewFailure_ThenManualRerun(t *testing.T) {
	h := newHarness(t)
	project := h.createProject(t)
	run := h.runs.activeFor(project.ID)

	err := h.controller.OnCrewFailure(context.Background(), CrewFailure{
		RunID:  run.ID,
		Reason: "crew crashed",
	})
	require.NoError(t, err)

	updated, err := h.projects.Get(context.Background(), project.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, updated.Status)
	assert.Equal(t, model.OutcomeFailure, run.Outcome)
	assert.True(t, h.emitter.has(mqcontracts.RoutingKeyPhaseFailed))

	// The failure is terminal for the run, not the project.
	err = h.controller.StartPhase(context.Background(), project.ID, model.PhaseDiscovery, nil)
	require.NoError(t, err)
	assert.NotNil(t, h.runs.activeFor(project.ID))
}

func TestOnCrewFailure_Timeout(t *testing.T) {
	h := newHarness(t)
	project := h.createProject(t)
	run := h.runs.activeFor(project.ID)

	err := h.controller.OnCrewFailure(context.Background(), CrewFailure{
		RunID:   run.ID,
		Reason:  "no result within the run window",
		Timeout: true,
	})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeTimeout, run.Outcome)

	updated, err := h.projects.Get(context.Background(), project.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, updated.Status)
}

func TestSubmitFailure_FailsRunAndProject(t *testing.T) {
	h := newHarness(t)
	h.submitter.failure = errors.New("crew gateway unreachable")

	project, err := h.controller.CreateProject(context.Background(), h.actor, "acme", nil)
	require.Error(t, err)
	require.NotNil(t, project)

	updated, getErr := h.projects.Get(context.Background(), project.ID)
	require.NoError(t, getErr)
	assert.Equal(t, model.StatusFailed, updated.Status)
	assert.Nil(t, h.runs.activeFor(project.ID), "the claimed run slot is released")
	assert.True(t, h.emitter.has(mqcontracts.RoutingKeyPhaseFailed))
}

func TestApprove_AdvancesToNextPhase(t *testing.T) {
	h := newHarness(t)
	project := h.createProject(t)
	h.finishRun(t, project.ID, nil)

	cp, err := h.checkpoints.GetUnresolvedByProject(context.Background(), project.ID)
	require.NoError(t, err)
	resolved := h.checkpoints.resolve(cp, model.Decision{Kind: model.DecisionApprove})
	require.NoError(t, h.controller.OnCheckpointResolved(context.Background(), resolved))

	updated, err := h.projects.Get(context.Background(), project.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseDesirability, updated.Phase)
	assert.Equal(t, model.StatusRunning, updated.Status)
	assert.Equal(t, model.PhaseDesirability, h.runs.activeFor(project.ID).Phase)
}

func TestApprove_FinalDecisionValidatesProject(t *testing.T) {
	h := newHarness(t)
	project := h.advanceTo(t, model.PhaseViability)
	h.finishRun(t, project.ID, crewMetricsFor(model.PhaseViability))

	cp, err := h.checkpoints.GetUnresolvedByProject(context.Background(), project.ID)
	require.NoError(t, err)
	resolved := h.checkpoints.resolve(cp, model.Decision{Kind: model.DecisionApprove})
	require.NoError(t, h.controller.OnCheckpointResolved(context.Background(), resolved))

	updated, err := h.projects.Get(context.Background(), project.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseValidated, updated.Phase)
	assert.Equal(t, model.StatusCompleted, updated.Status)
	assert.True(t, h.emitter.has(mqcontracts.RoutingKeyProjectValidated))
	assert.Nil(t, h.runs.activeFor(project.ID))
}

func TestReject_FinalDecisionArchivesProject(t *testing.T) {
	h := newHarness(t)
	project := h.advanceTo(t, model.PhaseViability)
	h.finishRun(t, project.ID, map[string]float64{model.MetricLTV: 100, model.MetricCAC: 150})

	cp, err := h.checkpoints.GetUnresolvedByProject(context.Background(), project.ID)
	require.NoError(t, err)
	resolved := h.checkpoints.resolve(cp, model.Decision{Kind: model.DecisionReject})
	require.NoError(t, h.controller.OnCheckpointResolved(context.Background(), resolved))

	updated, err := h.projects.Get(context.Background(), project.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseArchived, updated.Phase)
	assert.True(t, h.emitter.has(mqcontracts.RoutingKeyProjectArchived))
}

func TestReject_MidJourneyPausesProject(t *testing.T) {
	h := newHarness(t)
	project := h.createProject(t)
	h.finishRun(t, project.ID, nil)

	cp, err := h.checkpoints.GetUnresolvedByProject(context.Background(), project.ID)
	require.NoError(t, err)
	resolved := h.checkpoints.resolve(cp, model.Decision{Kind: model.DecisionReject})
	require.NoError(t, h.controller.OnCheckpointResolved(context.Background(), resolved))

	updated, err := h.projects.Get(context.Background(), project.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPaused, updated.Status)
	assert.Equal(t, model.PhaseDiscovery, updated.Phase, "the phase is kept for resume")
	assert.True(t, h.emitter.has(mqcontracts.RoutingKeyProjectPaused))
}

func TestRevise_RerunsSamePhaseWithAmendedHypothesis(t *testing.T) {
	h := newHarness(t)
	project := h.createProject(t)
	h.finishRun(t, project.ID, nil)

	cp, err := h.checkpoints.GetUnresolvedByProject(context.Background(), project.ID)
	require.NoError(t, err)
	resolved := h.checkpoints.resolve(cp, model.Decision{
		Kind:       model.DecisionRevise,
		Parameters: map[string]any{"target_segment": "students"},
	})
	require.NoError(t, h.controller.OnCheckpointResolved(context.Background(), resolved))

	updated, err := h.projects.Get(context.Background(), project.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseDiscovery, updated.Phase)
	assert.Equal(t, model.StatusRunning, updated.Status)
	assert.Equal(t, "students", updated.Hypothesis["target_segment"])

	run := h.runs.activeFor(project.ID)
	require.NotNil(t, run)
	assert.Equal(t, "students", run.Parameters["target_segment"])
}

func TestPivot_SegmentRestartsDiscovery(t *testing.T) {
	h := newHarness(t)
	project := h.advanceTo(t, model.PhaseDesirability)
	h.finishRun(t, project.ID, map[string]float64{
		model.MetricProblemResonance: 0.1,
		model.MetricZombieRatio:      0.1,
	})

	cp, err := h.checkpoints.GetUnresolvedByProject(context.Background(), project.ID)
	require.NoError(t, err)
	require.Equal(t, model.SignalNoInterest, cp.GateSignal)

	resolved := h.checkpoints.resolve(cp, model.Decision{
		Kind:        model.DecisionPivot,
		PivotOption: model.PivotSegment,
		Parameters:  map[string]any{"target_segment": "enterprise"},
	})
	require.NoError(t, h.controller.OnCheckpointResolved(context.Background(), resolved))

	updated, err := h.projects.Get(context.Background(), project.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseDiscovery, updated.Phase)
	assert.Equal(t, model.StatusRunning, updated.Status)
	assert.Equal(t, "enterprise", updated.Hypothesis["target_segment"])
	assert.True(t, h.emitter.has(mqcontracts.RoutingKeyPivotDispatched))
	require.Len(t, h.pivotStore.decisions, 1)

	var pivotEvidence *model.Evidence
	for _, e := range h.evidence.records {
		if e.Kind == model.EvidenceKindPivotAction {
			pivotEvidence = e
		}
	}
	require.NotNil(t, pivotEvidence, "the pivot is recorded as evidence")

	crewCount := 0
	for _, e := range h.evidence.records {
		if e.Kind == model.EvidenceKindCrewResult {
			crewCount++
		}
	}
	assert.Equal(t, 2, crewCount, "prior evidence survives the pivot")
}

func TestPivot_InvalidOptionRejectedBeforeMutation(t *testing.T) {
	h := newHarness(t)
	project := h.advanceTo(t, model.PhaseViability)
	h.finishRun(t, project.ID, map[string]float64{model.MetricLTV: 300, model.MetricCAC: 150})

	cp, err := h.checkpoints.GetUnresolvedByProject(context.Background(), project.ID)
	require.NoError(t, err)
	resolved := h.checkpoints.resolve(cp, model.Decision{
		Kind:        model.DecisionPivot,
		PivotOption: model.PivotSegment,
		Parameters:  map[string]any{"target_segment": "smb"},
	})

	err = h.controller.OnCheckpointResolved(context.Background(), resolved)
	assert.ErrorIs(t, err, model.ErrInvalidPivotForPhase)

	updated, getErr := h.projects.Get(context.Background(), project.ID)
	require.NoError(t, getErr)
	assert.Equal(t, model.PhaseViability, updated.Phase, "no state mutated")
	assert.Empty(t, h.pivotStore.decisions)
	assert.Nil(t, h.runs.activeFor(project.ID))
}

func TestPivot_ContinuePastViabilityCompletesJourney(t *testing.T) {
	h := newHarness(t)
	project := h.advanceTo(t, model.PhaseViability)
	h.finishRun(t, project.ID, crewMetricsFor(model.PhaseViability))

	cp, err := h.checkpoints.GetUnresolvedByProject(context.Background(), project.ID)
	require.NoError(t, err)
	resolved := h.checkpoints.resolve(cp, model.Decision{
		Kind:        model.DecisionPivot,
		PivotOption: model.PivotContinue,
	})
	require.NoError(t, h.controller.OnCheckpointResolved(context.Background(), resolved))

	updated, err := h.projects.Get(context.Background(), project.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseValidated, updated.Phase)
	assert.True(t, h.emitter.has(mqcontracts.RoutingKeyProjectValidated))
}

func TestFullJourney_DiscoveryToValidated(t *testing.T) {
	h := newHarness(t)
	project := h.advanceTo(t, model.PhaseViability)
	h.finishRun(t, project.ID, crewMetricsFor(model.PhaseViability))

	cp, err := h.checkpoints.GetUnresolvedByProject(context.Background(), project.ID)
	require.NoError(t, err)
	resolved := h.checkpoints.resolve(cp, model.Decision{Kind: model.DecisionApprove})
	require.NoError(t, h.controller.OnCheckpointResolved(context.Background(), resolved))

	updated, err := h.projects.Get(context.Background(), project.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseValidated, updated.Phase)
	assert.Equal(t, model.StatusCompleted, updated.Status)
}
