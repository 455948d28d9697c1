package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"routing_key", "queue"},
	)

	CrewSubmitLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crew_submit_latency_ms",
			Help:    "Crew gateway submit latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10), // 100ms to ~100s
		},
		[]string{"phase", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	SlowQueryCount = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "db_slow_query_duration_seconds",
			Help:    "Duration of queries above the slow-query threshold",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 8),
		},
	)

	GateSignalCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gate_signal_count",
			Help: "Total gate signals produced, by phase and signal",
		},
		[]string{"phase", "signal"},
	)

	PhaseTransitionCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phase_transition_count",
			Help: "Total project phase transitions",
		},
		[]string{"from", "to"},
	)

	CheckpointResolutionCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkpoint_resolution_count",
			Help: "Total checkpoint resolutions, by type and decision",
		},
		[]string{"type", "decision"},
	)

	EscalationCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkpoint_escalation_count",
			Help: "Total checkpoint escalations fired, by tier",
		},
		[]string{"tier"},
	)

	PivotDispatchCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pivot_dispatch_count",
			Help: "Total pivot dispatches, by option",
		},
		[]string{"option"},
	)

	PhaseRunFailureCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phase_run_failure_count",
			Help: "Total failed phase runs, by phase and reason",
		},
		[]string{"phase", "reason"},
	)
)

func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

func RecordCrewSubmitLatency(phase, status string, duration time.Duration) {
	CrewSubmitLatency.WithLabelValues(phase, status).Observe(float64(duration.Milliseconds()))
}

func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

func IncrementSlowQuery(duration time.Duration) {
	SlowQueryCount.Observe(duration.Seconds())
}

func IncrementGateSignal(phase, signal string) {
	GateSignalCount.WithLabelValues(phase, signal).Inc()
}

func IncrementPhaseTransition(from, to string) {
	PhaseTransitionCount.WithLabelValues(from, to).Inc()
}

func IncrementCheckpointResolution(cpType, decision string) {
	CheckpointResolutionCount.WithLabelValues(cpType, decision).Inc()
}

func IncrementEscalation(tier string) {
	EscalationCount.WithLabelValues(tier).Inc()
}

func IncrementPivotDispatch(option string) {
	PivotDispatchCount.WithLabelValues(option).Inc()
}

func IncrementPhaseRunFailure(phase, reason string) {
	PhaseRunFailureCount.WithLabelValues(phase, reason).Inc()
}
