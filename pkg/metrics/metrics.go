package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EventsEvaluated counts total events scored by the risk engine
var EventsEvaluated = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ottcep_events_evaluated_total",
		Help: "Total number of events evaluated by the risk engine",
	},
	[]string{"risk_level"},
)

// EvaluationLatency records latency distribution for event evaluation
var EvaluationLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "ottcep_evaluation_latency_seconds",
		Help:    "Latency in seconds to evaluate individual events",
		Buckets: prometheus.DefBuckets,
	},
)

// StageFailures counts soft stage failures by pipeline stage
var StageFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ottcep_stage_failures_total",
		Help: "Total number of soft stage failures during evaluation",
	},
	[]string{"stage"},
)

// Alerting and background-model metrics
var (
	AlertsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ottcep_alerts_sent_total",
			Help: "Total number of alerts dispatched by channel",
		},
		[]string{"channel", "severity"},
	)

	ModelRetrainings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ottcep_model_retrainings_total",
			Help: "Total number of anomaly model retraining runs",
		},
		[]string{"outcome"},
	)

	FraudRingsDetected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ottcep_fraud_rings_detected",
			Help: "Number of fraud rings found in the latest sweep",
		},
	)
)

func init() {
	prometheus.MustRegister(EventsEvaluated, EvaluationLatency, StageFailures)
	prometheus.MustRegister(AlertsSent, ModelRetrainings, FraudRingsDetected)
}
