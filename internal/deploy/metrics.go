package deploy

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce sync.Once

	deployResults *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
)

func registerMetrics() {
	metricsOnce.Do(func() {
		deployResults = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gantry",
			Subsystem: "deploy",
			Name:      "results_total",
			Help:      "Count of finished deployments by terminal status",
		}, []string{"status"})

		stageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gantry",
			Subsystem: "deploy",
			Name:      "stage_duration_seconds",
			Help:      "Wall-clock duration of pipeline stages",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"stage", "outcome"})

		for _, collector := range []prometheus.Collector{deployResults, stageDuration} {
			if err := prometheus.Register(collector); err != nil {
				if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
					switch existing := already.ExistingCollector.(type) {
					case *prometheus.CounterVec:
						deployResults = existing
					case *prometheus.HistogramVec:
						stageDuration = existing
					}
				}
			}
		}
	})
}

func observeStage(stage, outcome string, seconds float64) {
	if stageDuration == nil {
		return
	}
	stageDuration.WithLabelValues(stage, outcome).Observe(seconds)
}
