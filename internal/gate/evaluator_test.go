package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"startupai/internal/model"
	"startupai/pkg/config"
)

func testThresholds() config.GateConfig {
	return config.GateConfig{
		ProblemResonanceMin: 0.30,
		ZombieRatioMax:      0.70,
		LTVCACProfitableMin: 3.0,
		LTVCACUnderwaterMax: 1.0,
	}
}

func evidenceWith(metrics map[string]float64, quality float64) model.Evidence {
	return model.Evidence{
		Kind:         model.EvidenceKindCrewResult,
		Metrics:      metrics,
		QualityScore: quality,
	}
}

func TestDesirabilityLowResonance(t *testing.T) {
	e := NewEvaluator(testThresholds())

	res, err := e.Evaluate(model.PhaseDesirability, []model.Evidence{
		evidenceWith(map[string]float64{model.MetricProblemResonance: 0.18}, 0.8),
	})
	require.NoError(t, err)
	assert.Equal(t, model.SignalNoInterest, res.Signal)
}

func TestDesirabilityZombieRatio(t *testing.T) {
	e := NewEvaluator(testThresholds())

	res, err := e.Evaluate(model.PhaseDesirability, []model.Evidence{
		evidenceWith(map[string]float64{
			model.MetricProblemResonance: 0.55,
			model.MetricZombieRatio:      0.80,
		}, 0.8),
	})
	require.NoError(t, err)
	assert.Equal(t, model.SignalWeakInterest, res.Signal)
}

func TestDesirabilityStrongCommitment(t *testing.T) {
	e := NewEvaluator(testThresholds())

	res, err := e.Evaluate(model.PhaseDesirability, []model.Evidence{
		evidenceWith(map[string]float64{
			model.MetricProblemResonance: 0.62,
			model.MetricZombieRatio:      0.20,
		}, 0.8),
	})
	require.NoError(t, err)
	assert.Equal(t, model.SignalStrongCommitment, res.Signal)
}

func TestDesirabilityMostSevereWins(t *testing.T) {
	e := NewEvaluator(testThresholds())

	// both low resonance and high zombie ratio qualify; NoInterest is worse
	res, err := e.Evaluate(model.PhaseDesirability, []model.Evidence{
		evidenceWith(map[string]float64{
			model.MetricProblemResonance: 0.10,
			model.MetricZombieRatio:      0.90,
		}, 0.8),
	})
	require.NoError(t, err)
	assert.Equal(t, model.SignalNoInterest, res.Signal)
	assert.Contains(t, res.Metrics, model.MetricZombieRatio)
}

func TestDesirabilityMissingResonance(t *testing.T) {
	e := NewEvaluator(testThresholds())

	_, err := e.Evaluate(model.PhaseDesirability, []model.Evidence{
		evidenceWith(map[string]float64{model.MetricZombieRatio: 0.5}, 0.8),
	})
	assert.Error(t, err)
}

func TestFeasibilitySignals(t *testing.T) {
	e := NewEvaluator(testThresholds())

	tests := []struct {
		name    string
		metrics map[string]float64
		want    model.Signal
	}{
		{
			name: "all possible is green",
			metrics: map[string]float64{
				"feature_rating:auth":   2,
				"feature_rating:export": 2,
			},
			want: model.SignalGreen,
		},
		{
			name: "constrained feature is orange",
			metrics: map[string]float64{
				"feature_rating:auth":   2,
				"feature_rating:export": 1,
			},
			want: model.SignalOrange,
		},
		{
			name: "impossible without substitute is red",
			metrics: map[string]float64{
				"feature_rating:auth":   2,
				"feature_rating:export": 0,
			},
			want: model.SignalRed,
		},
		{
			name: "impossible with substitute downgrades to orange",
			metrics: map[string]float64{
				"feature_rating:export": 0,
				"substitute:export":     1,
			},
			want: model.SignalOrange,
		},
		{
			name: "red beats orange",
			metrics: map[string]float64{
				"feature_rating:auth":   1,
				"feature_rating:export": 0,
			},
			want: model.SignalRed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := e.Evaluate(model.PhaseFeasibility, []model.Evidence{
				evidenceWith(tt.metrics, 0.7),
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Signal)
		})
	}
}

func TestViabilityRatios(t *testing.T) {
	e := NewEvaluator(testThresholds())

	tests := []struct {
		name     string
		ltv, cac float64
		want     model.Signal
	}{
		{"marginal at ratio two", 300, 150, model.SignalMarginal},
		{"profitable at ratio three", 450, 150, model.SignalProfitable},
		{"underwater at ratio one", 150, 150, model.SignalUnderwater},
		{"underwater below one", 100, 150, model.SignalUnderwater},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := e.Evaluate(model.PhaseViability, []model.Evidence{
				evidenceWith(map[string]float64{
					model.MetricLTV: tt.ltv,
					model.MetricCAC: tt.cac,
				}, 0.9),
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Signal)
		})
	}
}

func TestViabilityRejectsZeroCAC(t *testing.T) {
	e := NewEvaluator(testThresholds())

	_, err := e.Evaluate(model.PhaseViability, []model.Evidence{
		evidenceWith(map[string]float64{model.MetricLTV: 100, model.MetricCAC: 0}, 0.9),
	})
	assert.Error(t, err)
}

func TestEvaluateIsDeterministic(t *testing.T) {
	e := NewEvaluator(testThresholds())
	evidence := []model.Evidence{
		evidenceWith(map[string]float64{
			model.MetricProblemResonance: 0.28,
			model.MetricZombieRatio:      0.40,
		}, 0.6),
	}

	first, err := e.Evaluate(model.PhaseDesirability, evidence)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		again, err := e.Evaluate(model.PhaseDesirability, evidence)
		require.NoError(t, err)
		assert.Equal(t, first.Signal, again.Signal)
		assert.Equal(t, first.ReadinessScore, again.ReadinessScore)
	}
}

func TestLaterEvidenceOverridesEarlier(t *testing.T) {
	e := NewEvaluator(testThresholds())

	res, err := e.Evaluate(model.PhaseDesirability, []model.Evidence{
		evidenceWith(map[string]float64{model.MetricProblemResonance: 0.10}, 0.5),
		evidenceWith(map[string]float64{model.MetricProblemResonance: 0.55}, 0.9),
	})
	require.NoError(t, err)
	assert.Equal(t, model.SignalStrongCommitment, res.Signal)
	assert.InDelta(t, 0.7, res.ReadinessScore, 1e-9)
	assert.Len(t, res.Contributing, 2)
}

func TestNoGateForDiscovery(t *testing.T) {
	e := NewEvaluator(testThresholds())

	_, err := e.Evaluate(model.PhaseDiscovery, nil)
	assert.Error(t, err)
}
