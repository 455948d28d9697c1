package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	mqcontracts "startupai/contracts/mq"
	"startupai/internal/controller"
	"startupai/internal/gate"
	"startupai/internal/model"
	"startupai/internal/pivot"
	"startupai/pkg/config"
	"startupai/pkg/util"
)

type memProjects struct {
	projects map[uuid.UUID]*model.Project
}

func (f *memProjects) Insert(_ context.Context, p *model.Project) error {
	f.projects[p.ID] = p
	return nil
}

func (f *memProjects) Get(_ context.Context, id uuid.UUID) (*model.Project, error) {
	p, ok := f.projects[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	copied := *p
	return &copied, nil
}

func (f *memProjects) UpdatePhase(_ context.Context, id uuid.UUID, phase model.Phase, status model.ProjectStatus) error {
	f.projects[id].Phase = phase
	f.projects[id].Status = status
	return nil
}

func (f *memProjects) UpdateStatus(_ context.Context, id uuid.UUID, status model.ProjectStatus) error {
	f.projects[id].Status = status
	return nil
}

func (f *memProjects) AmendHypothesis(_ context.Context, id uuid.UUID, parameters map[string]any) error {
	p := f.projects[id]
	if p.Hypothesis == nil {
		p.Hypothesis = map[string]any{}
	}
	for k, v := range parameters {
		p.Hypothesis[k] = v
	}
	return nil
}

// memRuns lets a test inject a transient Finish failure the way a flaky
// database connection would.
type memRuns struct {
	runs      map[uuid.UUID]*model.PhaseRun
	finishErr error
}

func (f *memRuns) InsertActive(_ context.Context, run *model.PhaseRun) error {
	run.Status = model.RunRunning
	f.runs[run.ID] = run
	return nil
}

func (f *memRuns) Get(_ context.Context, id uuid.UUID) (*model.PhaseRun, error) {
	run, ok := f.runs[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return run, nil
}

func (f *memRuns) GetByJobID(_ context.Context, jobID string) (*model.PhaseRun, error) {
	for _, run := range f.runs {
		if run.JobID == jobID {
			return run, nil
		}
	}
	return nil, model.ErrNotFound
}

func (f *memRuns) GetActiveByProject(_ context.Context, projectID uuid.UUID) (*model.PhaseRun, error) {
	for _, run := range f.runs {
		if run.ProjectID == projectID && run.Status == model.RunRunning {
			return run, nil
		}
	}
	return nil, model.ErrNotFound
}

func (f *memRuns) SetJobID(_ context.Context, id uuid.UUID, jobID string) error {
	f.runs[id].JobID = jobID
	return nil
}

func (f *memRuns) Finish(_ context.Context, id uuid.UUID, outcome model.RunOutcome, reason string) error {
	if f.finishErr != nil {
		return f.finishErr
	}
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

type memEvidence struct {
	records []*model.Evidence
}

func (f *memEvidence) Insert(_ context.Context, e *model.Evidence) error {
	f.records = append(f.records, e)
	return nil
}

func (f *memEvidence) ListByProjectPhase(_ context.Context, projectID uuid.UUID, phase model.Phase) ([]model.Evidence, error) {
	out := []model.Evidence{}
	for _, e := range f.records {
		if e.ProjectID == projectID && e.Phase == phase {
			out = append(out, *e)
		}
	}
	return out, nil
}

type memCheckpoints struct {
	checkpoints map[uuid.UUID]*model.Checkpoint
}

func (f *memCheckpoints) Create(_ context.Context, project *model.Project, phaseRunID *uuid.UUID, cpType model.CheckpointType, gateSignal model.Signal, payload map[string]any) (*model.Checkpoint, error) {
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
	}
	f.checkpoints[cp.ID] = cp
	return cp, nil
}

func (f *memCheckpoints) GetUnresolvedByProject(_ context.Context, projectID uuid.UUID) (*model.Checkpoint, error) {
	for _, cp := range f.checkpoints {
		if cp.ProjectID == projectID && !cp.Status.Terminal() {
			return cp, nil
		}
	}
	return nil, model.ErrNotFound
}

type memPivots struct{}

func (f *memPivots) Insert(_ context.Context, _ *model.PivotDecision) error { return nil }

type memSubmitter struct{}

func (f *memSubmitter) Submit(_ context.Context, _ *model.Project, _ uuid.UUID, _ model.Phase, _ map[string]any) (string, error) {
	return "job-1", nil
}

type memEmitter struct{}

func (f *memEmitter) Emit(_ context.Context, _ string, _ uuid.UUID, _ string, _ any) error {
	return nil
}

type handlerHarness struct {
	completed   *CrewCompletedHandler
	failed      *CrewFailedHandler
	projects    *memProjects
	runs        *memRuns
	evidence    *memEvidence
	checkpoints *memCheckpoints
	project     *model.Project
	run         *model.PhaseRun
}

func newHandlerHarness(t *testing.T) *handlerHarness {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	h := &handlerHarness{
		projects:    &memProjects{projects: make(map[uuid.UUID]*model.Project)},
		runs:        &memRuns{runs: make(map[uuid.UUID]*model.PhaseRun)},
		evidence:    &memEvidence{},
		checkpoints: &memCheckpoints{checkpoints: make(map[uuid.UUID]*model.Checkpoint)},
	}

	ctrl := controller.NewController(
		h.projects,
		h.runs,
		h.evidence,
		h.checkpoints,
		pivot.NewDispatcher(&memPivots{}, zap.NewNop()),
		&memSubmitter{},
		gate.NewEvaluator(config.GateConfig{
			ProblemResonanceMin: 0.30,
			ZombieRatioMax:      0.70,
			LTVCACProfitableMin: 3.0,
			LTVCACUnderwaterMax: 1.0,
		}),
		&memEmitter{},
		zap.NewNop(),
	)

	deduper := util.NewDeduper(rdb, time.Hour)
	retryCounter := util.NewRetryCounter(rdb, time.Hour)

	h.completed = NewCrewCompletedHandler(ctrl, retryCounter, deduper, nil, zap.NewNop())
	h.failed = NewCrewFailedHandler(ctrl, retryCounter, deduper, nil, zap.NewNop())

	h.project = &model.Project{
		ID:      uuid.New(),
		OwnerID: uuid.New(),
		Name:    "acme",
		Phase:   model.PhaseDiscovery,
		Status:  model.StatusRunning,
	}
	h.projects.projects[h.project.ID] = h.project

	h.run = &model.PhaseRun{
		ID:        uuid.New(),
		ProjectID: h.project.ID,
		Phase:     model.PhaseDiscovery,
		JobID:     "job-1",
		Status:    model.RunRunning,
	}
	h.runs.runs[h.run.ID] = h.run

	return h
}

func (h *handlerHarness) completedPayload(t *testing.T) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(mqcontracts.CrewCompletedPayload{
		JobID:        h.run.JobID,
		PhaseRunID:   h.run.ID.String(),
		ProjectID:    h.project.ID.String(),
		Phase:        string(h.run.Phase),
		Artifact:     "report",
		QualityScore: 0.8,
	})
	require.NoError(t, err)
	return raw
}

func (h *handlerHarness) failedPayload(t *testing.T) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(mqcontracts.CrewFailedPayload{
		JobID:      h.run.JobID,
		PhaseRunID: h.run.ID.String(),
		ProjectID:  h.project.ID.String(),
		Phase:      string(h.run.Phase),
		Reason:     "crew exploded",
	})
	require.NoError(t, err)
	return raw
}

func TestCrewCompleted_RedeliveryAfterTransientFailureIsProcessed(t *testing.T) {
	h := newHandlerHarness(t)
	raw := h.completedPayload(t)

	h.runs.finishErr = errors.New("db connection refused")
	err := h.completed.Handle(context.Background(), raw)
	require.Error(t, err, "a transient failure must be nacked for redelivery")

	// broker redelivers after the nack; the database has recovered
	h.runs.finishErr = nil
	require.NoError(t, h.completed.Handle(context.Background(), raw))

	assert.Equal(t, model.RunFinished, h.run.Status)
	assert.Equal(t, model.OutcomeSuccess, h.run.Outcome)
	assert.Len(t, h.evidence.records, 1)
	assert.Len(t, h.checkpoints.checkpoints, 1, "the gate checkpoint must open on redelivery")
	assert.Equal(t, model.StatusAwaitingCheckpoint, h.project.Status)
}

func TestCrewCompleted_DuplicateAfterSuccessIsSkipped(t *testing.T) {
	h := newHandlerHarness(t)
	raw := h.completedPayload(t)

	require.NoError(t, h.completed.Handle(context.Background(), raw))
	require.NoError(t, h.completed.Handle(context.Background(), raw))

	assert.Len(t, h.evidence.records, 1, "the duplicate must not append evidence twice")
	assert.Len(t, h.checkpoints.checkpoints, 1)
}

func TestCrewFailed_RedeliveryAfterTransientFailureIsProcessed(t *testing.T) {
	h := newHandlerHarness(t)
	raw := h.failedPayload(t)

	h.runs.finishErr = errors.New("db connection refused")
	err := h.failed.Handle(context.Background(), raw)
	require.Error(t, err, "a transient failure must be nacked for redelivery")

	h.runs.finishErr = nil
	require.NoError(t, h.failed.Handle(context.Background(), raw))

	assert.Equal(t, model.RunFinished, h.run.Status)
	assert.Equal(t, model.OutcomeFailure, h.run.Outcome)
	assert.Equal(t, model.StatusFailed, h.project.Status)
}
