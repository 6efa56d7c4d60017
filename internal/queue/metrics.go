package queue

import "github.com/prometheus/client_golang/prometheus"

var (
	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sessiond",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Tasks waiting for admission",
		},
		[]string{"queue"},
	)

	tasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sessiond",
			Subsystem: "queue",
			Name:      "tasks_total",
			Help:      "Tasks by outcome (ok, error, canceled, timeout, rejected)",
		},
		[]string{"queue", "result"},
	)
)

func init() {
	prometheus.MustRegister(queueDepth, tasksTotal)
}
