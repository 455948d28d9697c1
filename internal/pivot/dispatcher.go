package pivot

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"startupai/internal/model"
	"startupai/pkg/metrics"
)

// Store persists pivot decisions.
type Store interface {
	Insert(ctx context.Context, decision *model.PivotDecision) error
}

// validFrom is the closed validity matrix: which phases each pivot option
// may originate from. Continue is valid from any gate.
var validFrom = map[model.PivotOption][]model.Phase{
	model.PivotSegment:          {model.PhaseDiscovery, model.PhaseDesirability},
	model.PivotValue:            {model.PhaseDesirability},
	model.PivotFeatureDowngrade: {model.PhaseFeasibility},
	model.PivotStrategic:        {model.PhaseViability},
}

// targetPhase is where each pivot flow restarts the validation loop.
var targetPhase = map[model.PivotOption]model.Phase{
	model.PivotSegment:          model.PhaseDiscovery,
	model.PivotValue:            model.PhaseDesirability,
	model.PivotFeatureDowngrade: model.PhaseDesirability,
	model.PivotStrategic:        model.PhaseViability,
}

// requiredParam names the hypothesis parameter each flow needs before it
// can restart.
var requiredParam = map[model.PivotOption]string{
	model.PivotSegment:          "target_segment",
	model.PivotValue:            "value_proposition",
	model.PivotFeatureDowngrade: "feature_set",
	model.PivotStrategic:        "pricing",
}

// Dispatcher translates a gate signal plus human choice into a concrete
// restart of the validation loop with amended hypotheses.
type Dispatcher struct {
	store  Store
	logger *zap.Logger
}

func NewDispatcher(store Store, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{store: store, logger: logger}
}

// Validate rejects (phase, option) combinations outside the validity
// matrix before any state is mutated.
func (d *Dispatcher) Validate(phase model.Phase, option model.PivotOption) error {
	if !option.Valid() {
		return fmt.Errorf("%w: unknown option %q", model.ErrInvalidPivotForPhase, option)
	}
	if option == model.PivotContinue {
		return nil
	}

	for _, p := range validFrom[option] {
		if p == phase {
			return nil
		}
	}
	return fmt.Errorf("%w: %s from %s gate", model.ErrInvalidPivotForPhase, option, phase)
}

// Dispatch records the chosen pivot flow and returns the decision carrying
// the phase the journey restarts from. For Continue, the target is the
// phase that follows the gate and nothing is amended.
//
// Prior evidence is never deleted: a pivot restarts the loop while all
// history remains as record.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	project *model.Project,
	checkpointID uuid.UUID,
	signal model.Signal,
	option model.PivotOption,
	parameters map[string]any,
) (*model.PivotDecision, error) {
	if err := d.Validate(project.Phase, option); err != nil {
		return nil, err
	}

	target, err := d.resolveTarget(project.Phase, option)
	if err != nil {
		return nil, err
	}

	if option != model.PivotContinue {
		if key := requiredParam[option]; parameters[key] == nil {
			return nil, fmt.Errorf("%s pivot requires parameter %q", option, key)
		}
	}

	decision := &model.PivotDecision{
		ID:           uuid.New(),
		ProjectID:    project.ID,
		CheckpointID: checkpointID,
		FromPhase:    project.Phase,
		Signal:       signal,
		Option:       option,
		TargetPhase:  target,
		Hypothesis:   parameters,
		CreatedAt:    time.Now(),
	}

	if err := d.store.Insert(ctx, decision); err != nil {
		return nil, fmt.Errorf("failed to record pivot decision: %w", err)
	}

	metrics.IncrementPivotDispatch(string(option))
	d.logger.Info("Pivot dispatched",
		zap.String("project_id", project.ID.String()),
		zap.String("option", string(option)),
		zap.String("from_phase", string(project.Phase)),
		zap.String("target_phase", string(target)),
		zap.String("signal", string(signal)),
	)

	return decision, nil
}

func (d *Dispatcher) resolveTarget(phase model.Phase, option model.PivotOption) (model.Phase, error) {
	if option == model.PivotContinue {
		next, ok := phase.Next()
		if !ok {
			return "", fmt.Errorf("phase %s has no successor", phase)
		}
		return next, nil
	}
	return targetPhase[option], nil
}
