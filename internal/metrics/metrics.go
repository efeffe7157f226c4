// Package metrics exposes Prometheus instrumentation for ensemble solves
// and the job server. Every method is a no-op on a nil *Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for solves, cells and jobs.
type Metrics struct {
	// Cell outcomes by termination reason
	CellsTotal *prometheus.CounterVec

	// Duration of a single nested solve
	CellDuration prometheus.Histogram

	// Ensemble solve outcomes by strategy and status
	SolvesTotal *prometheus.CounterVec

	// Duration of a full ensemble solve
	SolveDuration *prometheus.HistogramVec

	// Jobs currently running on the server
	ActiveJobs prometheus.Gauge

	// Finished jobs by final status
	JobsTotal *prometheus.CounterVec
}

// New creates a Metrics instance registered with reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		CellsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "latticeopt_cells_total",
			Help: "Total nested solves by termination reason",
		}, []string{"reason"}),

		CellDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "latticeopt_cell_duration_seconds",
			Help:    "Duration of one nested solve inside a lattice cell",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),

		SolvesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "latticeopt_solves_total",
			Help: "Total ensemble solves by strategy and status",
		}, []string{"strategy", "status"}), // status: "ok", "error"

		SolveDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "latticeopt_solve_duration_seconds",
			Help:    "Duration of a full ensemble solve",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"strategy"}),

		ActiveJobs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "latticeopt_jobs_active",
			Help: "Number of solve jobs currently running",
		}),

		JobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "latticeopt_jobs_total",
			Help: "Total finished solve jobs by status",
		}, []string{"status"}), // status: "completed", "failed", "cancelled"
	}
}

// ObserveCell records one finished nested solve.
func (m *Metrics) ObserveCell(reason string, d time.Duration) {
	if m != nil {
		m.CellsTotal.WithLabelValues(reason).Inc()
		m.CellDuration.Observe(d.Seconds())
	}
}

// ObserveSolve records one finished ensemble solve.
func (m *Metrics) ObserveSolve(strategy, status string, d time.Duration) {
	if m != nil {
		m.SolvesTotal.WithLabelValues(strategy, status).Inc()
		m.SolveDuration.WithLabelValues(strategy).Observe(d.Seconds())
	}
}

// JobStarted increments the active job gauge.
func (m *Metrics) JobStarted() {
	if m != nil {
		m.ActiveJobs.Inc()
	}
}

// JobFinished decrements the active job gauge and counts the outcome.
func (m *Metrics) JobFinished(status string) {
	if m != nil {
		m.ActiveJobs.Dec()
		m.JobsTotal.WithLabelValues(status).Inc()
	}
}
