package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveCell("Converged", 2*time.Millisecond)
	m.ObserveCell("Converged", time.Millisecond)
	m.ObserveCell("MaxIterationsReached", time.Millisecond)
	m.ObserveSolve("lattice", "ok", time.Second)
	m.JobStarted()
	m.JobStarted()
	m.JobFinished("completed")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CellsTotal.WithLabelValues("Converged")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CellsTotal.WithLabelValues("MaxIterationsReached")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SolvesTotal.WithLabelValues("lattice", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveJobs))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsTotal.WithLabelValues("completed")))

	count, err := testutil.GatherAndCount(reg, "latticeopt_cell_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveCell("Converged", time.Millisecond)
		m.ObserveSolve("lattice", "error", time.Millisecond)
		m.JobStarted()
		m.JobFinished("failed")
	})
}

func TestSeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
