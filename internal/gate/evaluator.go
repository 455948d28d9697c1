package gate

import (
	"fmt"
	"strings"

	"startupai/internal/model"
	"startupai/pkg/config"
)

// Result is the outcome of evaluating a gate: the phase it guards, the
// signal chosen, and every evidence record that contributed so the pivot
// flow can present the sub-metrics together.
type Result struct {
	Phase          model.Phase        `json:"phase"`
	Signal         model.Signal       `json:"signal"`
	ReadinessScore float64            `json:"readiness_score"`
	Metrics        map[string]float64 `json:"metrics"`
	Contributing   []model.Evidence   `json:"contributing_evidence"`
}

// Evaluator maps evidence to a discrete gate signal. It is a pure function
// of its inputs: identical evidence always yields the identical signal.
type Evaluator struct {
	thresholds config.GateConfig
}

func NewEvaluator(thresholds config.GateConfig) *Evaluator {
	return &Evaluator{thresholds: thresholds}
}

// Evaluate computes the gate signal for a phase from its evidence. When
// several sub-signals qualify, the most severe wins.
func (e *Evaluator) Evaluate(phase model.Phase, evidence []model.Evidence) (*Result, error) {
	metrics, contributing := collectMetrics(evidence)

	var signal model.Signal
	var err error
	switch phase {
	case model.PhaseDesirability:
		signal, err = e.evaluateDesirability(metrics)
	case model.PhaseFeasibility:
		signal, err = e.evaluateFeasibility(metrics)
	case model.PhaseViability:
		signal, err = e.evaluateViability(metrics)
	default:
		return nil, fmt.Errorf("phase %s has no gate", phase)
	}
	if err != nil {
		return nil, err
	}

	return &Result{
		Phase:          phase,
		Signal:         signal,
		ReadinessScore: readinessScore(contributing),
		Metrics:        metrics,
		Contributing:   contributing,
	}, nil
}

func (e *Evaluator) evaluateDesirability(metrics map[string]float64) (model.Signal, error) {
	resonance, ok := metrics[model.MetricProblemResonance]
	if !ok {
		return "", fmt.Errorf("insufficient evidence: missing %s", model.MetricProblemResonance)
	}

	candidates := []model.Signal{model.SignalStrongCommitment}
	if resonance < e.thresholds.ProblemResonanceMin {
		candidates = append(candidates, model.SignalNoInterest)
	}
	if zombie, ok := metrics[model.MetricZombieRatio]; ok && zombie >= e.thresholds.ZombieRatioMax {
		candidates = append(candidates, model.SignalWeakInterest)
	}

	return mostSevere(candidates), nil
}

func (e *Evaluator) evaluateFeasibility(metrics map[string]float64) (model.Signal, error) {
	foundFeature := false
	candidates := []model.Signal{model.SignalGreen}

	for key, rating := range metrics {
		if !strings.HasPrefix(key, model.FeatureRatingPrefix) {
			continue
		}
		foundFeature = true
		feature := strings.TrimPrefix(key, model.FeatureRatingPrefix)

		switch int(rating) {
		case model.FeatureImpossible:
			if metrics[model.SubstitutePrefix+feature] != 1 {
				candidates = append(candidates, model.SignalRed)
			} else {
				// impossible but substitutable counts as constrained
				candidates = append(candidates, model.SignalOrange)
			}
		case model.FeatureConstrained:
			candidates = append(candidates, model.SignalOrange)
		}
	}

	if !foundFeature {
		return "", fmt.Errorf("insufficient evidence: no feature ratings")
	}

	return mostSevere(candidates), nil
}

func (e *Evaluator) evaluateViability(metrics map[string]float64) (model.Signal, error) {
	ltv, okLTV := metrics[model.MetricLTV]
	cac, okCAC := metrics[model.MetricCAC]
	if !okLTV || !okCAC {
		return "", fmt.Errorf("insufficient evidence: missing ltv or cac")
	}
	if cac <= 0 {
		return "", fmt.Errorf("invalid evidence: cac must be positive, got %v", cac)
	}

	ratio := ltv / cac
	switch {
	case ratio >= e.thresholds.LTVCACProfitableMin:
		return model.SignalProfitable, nil
	case ratio <= e.thresholds.LTVCACUnderwaterMax:
		return model.SignalUnderwater, nil
	default:
		return model.SignalMarginal, nil
	}
}

// collectMetrics flattens evidence into a single metric map. Evidence is
// ordered oldest first, so later runs override earlier measurements of the
// same key. Rows carrying at least one metric are contributing evidence.
func collectMetrics(evidence []model.Evidence) (map[string]float64, []model.Evidence) {
	metrics := make(map[string]float64)
	var contributing []model.Evidence

	for _, ev := range evidence {
		if len(ev.Metrics) == 0 {
			continue
		}
		for k, v := range ev.Metrics {
			metrics[k] = v
		}
		contributing = append(contributing, ev)
	}

	return metrics, contributing
}

func readinessScore(contributing []model.Evidence) float64 {
	if len(contributing) == 0 {
		return 0
	}

	var sum float64
	for _, ev := range contributing {
		sum += ev.QualityScore
	}
	return sum / float64(len(contributing))
}

func mostSevere(candidates []model.Signal) model.Signal {
	worst := candidates[0]
	for _, s := range candidates[1:] {
		if s.Severity() > worst.Severity() {
			worst = s
		}
	}
	return worst
}
