package pivot

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"startupai/internal/model"
)

type fakeStore struct {
	inserted []*model.PivotDecision
	failWith error
}

func (f *fakeStore) Insert(_ context.Context, d *model.PivotDecision) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.inserted = append(f.inserted, d)
	return nil
}

func newTestDispatcher() (*Dispatcher, *fakeStore) {
	store := &fakeStore{}
	return NewDispatcher(store, zap.NewNop()), store
}

func testProject(phase model.Phase) *model.Project {
	return &model.Project{
		ID:      uuid.New(),
		OwnerID: uuid.New(),
		Name:    "acme",
		Phase:   phase,
		Status:  model.StatusAwaitingCheckpoint,
	}
}

func TestValidate_Matrix(t *testing.T) {
	d, _ := newTestDispatcher()

	cases := []struct {
		phase  model.Phase
		option model.PivotOption
		ok     bool
	}{
		{model.PhaseDiscovery, model.PivotSegment, true},
		{model.PhaseDesirability, model.PivotSegment, true},
		{model.PhaseFeasibility, model.PivotSegment, false},
		{model.PhaseViability, model.PivotSegment, false},

		{model.PhaseDesirability, model.PivotValue, true},
		{model.PhaseDiscovery, model.PivotValue, false},
		{model.PhaseViability, model.PivotValue, false},

		{model.PhaseFeasibility, model.PivotFeatureDowngrade, true},
		{model.PhaseDesirability, model.PivotFeatureDowngrade, false},

		{model.PhaseViability, model.PivotStrategic, true},
		{model.PhaseFeasibility, model.PivotStrategic, false},

		{model.PhaseDiscovery, model.PivotContinue, true},
		{model.PhaseDesirability, model.PivotContinue, true},
		{model.PhaseFeasibility, model.PivotContinue, true},
		{model.PhaseViability, model.PivotContinue, true},
	}

	for _, tc := range cases {
		err := d.Validate(tc.phase, tc.option)
		if tc.ok {
			assert.NoError(t, err, "%s from %s", tc.option, tc.phase)
		} else {
			assert.ErrorIs(t, err, model.ErrInvalidPivotForPhase, "%s from %s", tc.option, tc.phase)
		}
	}
}

func TestValidate_UnknownOption(t *testing.T) {
	d, _ := newTestDispatcher()
	err := d.Validate(model.PhaseDesirability, model.PivotOption("sideways"))
	assert.ErrorIs(t, err, model.ErrInvalidPivotForPhase)
}

func TestDispatch_SegmentFromViabilityRejected(t *testing.T) {
	d, store := newTestDispatcher()
	project := testProject(model.PhaseViability)

	_, err := d.Dispatch(context.Background(), project, uuid.New(),
		model.SignalMarginal, model.PivotSegment,
		map[string]any{"target_segment": "smb"})

	assert.ErrorIs(t, err, model.ErrInvalidPivotForPhase)
	assert.Empty(t, store.inserted)
}

func TestDispatch_SegmentRestartsDiscovery(t *testing.T) {
	d, store := newTestDispatcher()
	project := testProject(model.PhaseDesirability)
	checkpointID := uuid.New()

	decision, err := d.Dispatch(context.Background(), project, checkpointID,
		model.SignalNoInterest, model.PivotSegment,
		map[string]any{"target_segment": "enterprise"})

	require.NoError(t, err)
	assert.Equal(t, model.PhaseDiscovery, decision.TargetPhase)
	assert.Equal(t, model.PhaseDesirability, decision.FromPhase)
	assert.Equal(t, checkpointID, decision.CheckpointID)
	assert.Equal(t, "enterprise", decision.Hypothesis["target_segment"])
	require.Len(t, store.inserted, 1)
	assert.Equal(t, decision, store.inserted[0])
}

func TestDispatch_TargetPhases(t *testing.T) {
	cases := []struct {
		phase  model.Phase
		option model.PivotOption
		params map[string]any
		target model.Phase
	}{
		{model.PhaseDesirability, model.PivotValue,
			map[string]any{"value_proposition": "time saved"}, model.PhaseDesirability},
		{model.PhaseFeasibility, model.PivotFeatureDowngrade,
			map[string]any{"feature_set": []string{"core"}}, model.PhaseDesirability},
		{model.PhaseViability, model.PivotStrategic,
			map[string]any{"pricing": "usage-based"}, model.PhaseViability},
	}

	for _, tc := range cases {
		d, _ := newTestDispatcher()
		decision, err := d.Dispatch(context.Background(), testProject(tc.phase),
			uuid.New(), model.SignalOrange, tc.option, tc.params)
		require.NoError(t, err, "%s from %s", tc.option, tc.phase)
		assert.Equal(t, tc.target, decision.TargetPhase)
	}
}

func TestDispatch_ContinueAdvancesPhase(t *testing.T) {
	d, _ := newTestDispatcher()

	decision, err := d.Dispatch(context.Background(), testProject(model.PhaseDesirability),
		uuid.New(), model.SignalStrongCommitment, model.PivotContinue, nil)

	require.NoError(t, err)
	assert.Equal(t, model.PhaseFeasibility, decision.TargetPhase)
}

func TestDispatch_MissingRequiredParameter(t *testing.T) {
	d, store := newTestDispatcher()

	_, err := d.Dispatch(context.Background(), testProject(model.PhaseDesirability),
		uuid.New(), model.SignalWeakInterest, model.PivotValue, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "value_proposition")
	assert.Empty(t, store.inserted)
}

func TestDispatch_StoreFailure(t *testing.T) {
	d, store := newTestDispatcher()
	store.failWith = errors.New("connection reset")

	_, err := d.Dispatch(context.Background(), testProject(model.PhaseFeasibility),
		uuid.New(), model.SignalOrange, model.PivotFeatureDowngrade,
		map[string]any{"feature_set": "reduced"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to record pivot decision")
}
