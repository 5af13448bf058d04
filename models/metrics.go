package models

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	worldModels = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "world_models",
		Help: "The number of models in the world.",
	})

	worldSteps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "world_steps",
		Help: "The number of simulation steps.",
	})

	worldStepLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "world_step_latency",
		Help:    "The time spent running frame handlers in a simulation step, in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
	})
)

func instrumentIncreaseModelGauge() {
	worldModels.Inc()
}

func instrumentDecreaseModelGauge(n int) {
	worldModels.Sub(float64(n))
}

func instrumentStep(d time.Duration) {
	worldSteps.Inc()
	worldStepLatency.Observe(d.Seconds())
}
