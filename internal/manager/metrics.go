package manager

import "github.com/prometheus/client_golang/prometheus"

var (
	modelLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sessiond",
			Subsystem: "manager",
			Name:      "model_loads_total",
			Help:      "Model loads by backend",
		},
		[]string{"backend"},
	)

	modelLoadSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sessiond",
			Subsystem: "manager",
			Name:      "model_load_seconds",
			Help:      "Time spent loading model weights",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	evictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sessiond",
			Subsystem: "manager",
			Name:      "evictions_total",
			Help:      "Resident model disposals by reason (reload, released, idle, shutdown)",
		},
		[]string{"reason"},
	)

	contextsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sessiond",
			Subsystem: "manager",
			Name:      "contexts_total",
			Help:      "Execution context requests by kind and outcome (created, reused)",
		},
		[]string{"kind", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(modelLoadsTotal, modelLoadSeconds, evictionsTotal, contextsTotal)
}
