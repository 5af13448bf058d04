package matrix

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeLabel = "outcome"
)

var (
	matrixCells = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "matrix_cells",
		Help: "The number of live quadtree cells.",
	})

	matrixRasterizedCells = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matrix_rasterized_cells",
		Help: "The number of cell registrations made while rasterizing lines.",
	})

	matrixCollapsedCells = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matrix_collapsed_cells",
		Help: "The number of cells released by pruning.",
	})

	matrixRaytraces = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matrix_raytraces",
		Help: "The number of raytraces by outcome.",
	}, []string{
		outcomeLabel,
	})

	matrixRaytraceCells = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "matrix_raytrace_cells",
		Help:    "The number of cells visited by a raytrace.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
)

func instrumentCells(n int) {
	matrixCells.Add(float64(n))
}

func instrumentRasterizedCells(n int) {
	matrixRasterizedCells.Add(float64(n))
}

func instrumentCollapsedCells(n int) {
	if n == 0 {
		return
	}
	matrixCollapsedCells.Add(float64(n))
	matrixCells.Sub(float64(n))
}

func instrumentRaytrace(state RayState, visited int) {
	matrixRaytraces.
		With(prometheus.Labels{outcomeLabel: state.String()}).
		Inc()
	matrixRaytraceCells.Observe(float64(visited))
}
