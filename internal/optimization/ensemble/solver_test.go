package ensemble

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/copyleftdev/latticeopt/internal/metrics"
	"github.com/copyleftdev/latticeopt/internal/optimization"
	"github.com/copyleftdev/latticeopt/internal/optimization/mapper"
	"github.com/copyleftdev/latticeopt/internal/optimization/nested"
	"github.com/copyleftdev/latticeopt/internal/optimization/termination"
)

// stubSolver evaluates the objective once at its start point and reports
// that as its result. It records what the orchestrator configured.
type stubSolver struct {
	min, max []float64
	x0       []float64
	monitor  optimization.Monitor

	solution []float64
	cost     float64
}

func (p *stubSolver) SetStrictRanges(min, max []float64) error {
	p.min, p.max = min, max
	return nil
}

func (p *stubSolver) SetInitialPoints(x0 []float64) error {
	p.x0 = x0
	return nil
}

func (p *stubSolver) SetGenerationMonitor(m optimization.Monitor) { p.monitor = m }

func (p *stubSolver) Solve(_ context.Context, f optimization.ObjectiveFunction, c termination.Criterion) error {
	cost, err := f(p.x0)
	if err != nil {
		return err
	}
	c.ShouldStop([]float64{cost})
	if p.monitor != nil {
		p.monitor.Observe(0, p.x0, cost)
	}
	p.solution, p.cost = p.x0, cost
	return nil
}

func (p *stubSolver) Solution() []float64 { return p.solution }
func (p *stubSolver) BestCost() float64   { return p.cost }
func (p *stubSolver) TerminationReason() optimization.TerminationReason {
	return optimization.MaxIterationsReached
}

func stubFactory(dim int) optimization.NestedSolver { return &stubSolver{} }

func neverStop() termination.Factory { return termination.NCOG(-1, 1) }

func configured(t *testing.T, s *Solver, lower, upper []float64) *Solver {
	t.Helper()
	require.NoError(t, s.SetStrictRanges(lower, upper))
	s.SetNestedSolver(stubFactory)
	s.SetTermination(neverStop())
	return s
}

func TestSolveRequiresConfiguration(t *testing.T) {
	objective := func(x []float64) (float64, error) { return x[0], nil }

	t.Run("nested solver", func(t *testing.T) {
		s := NewLatticeSolver(1, Uniform(2))
		require.NoError(t, s.SetStrictRanges([]float64{0}, []float64{1}))
		err := s.Solve(context.Background(), objective, neverStop())
		assert.True(t, errors.Is(err, optimization.ErrConfiguration), "got %v", err)
	})
	t.Run("strict ranges", func(t *testing.T) {
		s := NewLatticeSolver(1, Uniform(2))
		s.SetNestedSolver(stubFactory)
		err := s.Solve(context.Background(), objective, neverStop())
		assert.True(t, errors.Is(err, optimization.ErrConfiguration))
	})
	t.Run("termination", func(t *testing.T) {
		s := NewLatticeSolver(1, Uniform(2))
		s.SetNestedSolver(stubFactory)
		require.NoError(t, s.SetStrictRanges([]float64{0}, []float64{1}))
		err := s.Solve(context.Background(), objective, nil)
		assert.True(t, errors.Is(err, optimization.ErrConfiguration))
	})
	t.Run("objective", func(t *testing.T) {
		s := configured(t, NewLatticeSolver(1, Uniform(2)), []float64{0}, []float64{1})
		err := s.Solve(context.Background(), nil, nil)
		assert.True(t, errors.Is(err, optimization.ErrConfiguration))
	})
	t.Run("dimension mismatch", func(t *testing.T) {
		s := NewLatticeSolver(2, Uniform(2))
		err := s.SetStrictRanges([]float64{0}, []float64{1})
		assert.True(t, errors.Is(err, optimization.ErrConfiguration))
	})
	t.Run("bins", func(t *testing.T) {
		s := configured(t, NewLatticeSolver(2, BinSpec{2, 0}), []float64{0, 0}, []float64{1, 1})
		err := s.Solve(context.Background(), objective, nil)
		assert.True(t, errors.Is(err, optimization.ErrConfiguration))
	})
	t.Run("cell limit", func(t *testing.T) {
		s := configured(t, NewLatticeSolver(9, Uniform(8)), make([]float64, 9), []float64{1, 1, 1, 1, 1, 1, 1, 1, 1})
		err := s.Solve(context.Background(), objective, nil)
		assert.True(t, errors.Is(err, optimization.ErrConfiguration))
	})
	t.Run("buckshot points", func(t *testing.T) {
		s := configured(t, NewBuckshotSolver(1, 0), []float64{0}, []float64{1})
		err := s.Solve(context.Background(), objective, nil)
		assert.True(t, errors.Is(err, optimization.ErrConfiguration))
	})
}

func TestQueriesBeforeSolveFail(t *testing.T) {
	s := NewLatticeSolver(1, Uniform(2))

	_, err := s.Solution()
	assert.True(t, errors.Is(err, optimization.ErrState))
	_, err = s.BestCost()
	assert.True(t, errors.Is(err, optimization.ErrState))
	_, err = s.Result()
	assert.True(t, errors.Is(err, optimization.ErrState))
	_, err = s.State()
	assert.True(t, errors.Is(err, optimization.ErrState))
}

func TestFailedSolveLeavesNoState(t *testing.T) {
	s := configured(t, NewLatticeSolver(1, Uniform(4)), []float64{0}, []float64{4})
	cause := errors.New("bad region")
	err := s.Solve(context.Background(), func(x []float64) (float64, error) {
		if x[0] > 2 {
			return 0, cause
		}
		return x[0], nil
	}, nil)

	require.Error(t, err)
	assert.True(t, errors.Is(err, optimization.ErrMapper))
	assert.True(t, errors.Is(err, cause))
	var merr *mapper.Error
	require.True(t, errors.As(err, &merr))
	assert.Equal(t, 2, merr.Index)

	_, err = s.Solution()
	assert.True(t, errors.Is(err, optimization.ErrState))
}

func TestTasksGetCellRangesAndCentres(t *testing.T) {
	var mu sync.Mutex
	var made []*stubSolver
	s := NewLatticeSolver(2, BinSpec{2, 3})
	require.NoError(t, s.SetStrictRanges([]float64{0, 0}, []float64{4, 3}))
	s.SetNestedSolver(func(dim int) optimization.NestedSolver {
		p := &stubSolver{}
		mu.Lock()
		made = append(made, p)
		mu.Unlock()
		return p
	})
	require.NoError(t, s.Solve(context.Background(), func(x []float64) (float64, error) { return x[0] + x[1], nil }, neverStop()))

	require.Len(t, made, 6, "one fresh solver per cell")
	st, err := s.State()
	require.NoError(t, err)
	for i, r := range st.Results {
		p := made[i]
		assert.Equal(t, r.Cell.Bounds.Lower, p.min)
		assert.Equal(t, r.Cell.Bounds.Upper, p.max)
		assert.Equal(t, r.Cell.Bounds.Center(), p.x0)
		assert.Equal(t, r.Cell.Bounds.Center(), r.Result.Parameters)
	}
	assert.Equal(t, 0, st.Best.Cell.Ordinal)
	assert.Equal(t, []float64{1, 0.5}, st.Best.Result.Parameters)
}

func TestFreshCriterionPerCell(t *testing.T) {
	var made atomic.Int32
	s := configured(t, NewLatticeSolver(1, Uniform(5)), []float64{0}, []float64{5})
	s.SetMapper(mapper.NewPool(3))
	err := s.Solve(context.Background(), func(x []float64) (float64, error) { return x[0], nil }, func() termination.Criterion {
		made.Add(1)
		return termination.NewNormalizedChangeOverGeneration(1e-3, 2)
	})
	require.NoError(t, err)
	assert.Equal(t, int32(5), made.Load())
}

func TestReductionTieBreaksOnEnumerationOrder(t *testing.T) {
	// Cells 1 and 3 share the minimum; cell 0 is NaN.
	costs := map[float64]float64{0.5: math.NaN(), 1.5: -2, 2.5: 7, 3.5: -2, 4.5: 0}
	objective := func(x []float64) (float64, error) { return costs[x[0]], nil }

	for name, m := range map[string]mapper.Mapper{"serial": mapper.Serial(), "pool": mapper.NewPool(4), "default": nil} {
		t.Run(name, func(t *testing.T) {
			s := configured(t, NewLatticeSolver(1, Uniform(5)), []float64{0}, []float64{5})
			s.SetMapper(m)
			require.NoError(t, s.Solve(context.Background(), objective, nil))

			res, err := s.Result()
			require.NoError(t, err)
			assert.Equal(t, -2.0, res.Cost)
			assert.Equal(t, []float64{1.5}, res.Parameters)

			st, err := s.State()
			require.NoError(t, err)
			assert.Equal(t, 1, st.Best.Cell.Ordinal)
			assert.Len(t, st.Results, 5)
		})
	}
}

func TestBestIndex(t *testing.T) {
	nan := math.NaN()
	tests := []struct {
		name  string
		costs []float64
		want  int
	}{
		{"single", []float64{3}, 0},
		{"first of equals", []float64{1, 1, 1}, 0},
		{"nan first", []float64{nan, 5, 4}, 2},
		{"all nan", []float64{nan, nan}, 0},
		{"negative infinity wins", []float64{0, math.Inf(-1), -1}, 1},
		{"positive infinity loses", []float64{math.Inf(1), 10}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := make([]optimization.SolveResult, len(tt.costs))
			for i, c := range tt.costs {
				results[i].Cost = c
			}
			assert.Equal(t, tt.want, bestIndex(results))
		})
	}
}

func TestStartStrategyIsClampedIntoCell(t *testing.T) {
	s := configured(t, NewLatticeSolver(1, Uniform(2)), []float64{0}, []float64{2})
	s.SetStartStrategy(func(c Cell) []float64 {
		if c.Ordinal == 0 {
			return []float64{-5}
		}
		return nil
	})
	require.NoError(t, s.Solve(context.Background(), func(x []float64) (float64, error) { return x[0], nil }, nil))
	st, err := s.State()
	require.NoError(t, err)
	assert.Equal(t, []float64{0}, st.Results[0].Result.Parameters)
	assert.Equal(t, []float64{1.5}, st.Results[1].Result.Parameters)
}

func TestRandomStartIsOrderIndependent(t *testing.T) {
	cells, err := Partition(SearchSpace{[]float64{0, 0}, []float64{1, 1}}, Uniform(3))
	require.NoError(t, err)
	a, b := RandomStart(42), RandomStart(42)
	for i := len(cells) - 1; i >= 0; i-- {
		p := a(cells[i])
		assert.Equal(t, p, b(cells[i]))
		assert.True(t, cells[i].Bounds.Contains(p))
	}
}

type shift struct{ by float64 }

func (s shift) Apply(x []float64) []float64 {
	out := append([]float64(nil), x...)
	out[0] += s.by
	return out
}

type fixedPenalty float64

func (p fixedPenalty) Evaluate([]float64) float64 { return float64(p) }

func TestConstraintsAndPenaltyCompose(t *testing.T) {
	var seen []float64
	s := configured(t, NewLatticeSolver(1, Uniform(1)), []float64{0}, []float64{2})
	s.SetConstraints(shift{by: 0.5})
	s.SetPenalty(fixedPenalty(100))
	require.NoError(t, s.Solve(context.Background(), func(x []float64) (float64, error) {
		seen = append(seen, x[0])
		return x[0], nil
	}, nil))

	assert.Equal(t, []float64{1.5}, seen, "objective sees the constrained point")
	cost, err := s.BestCost()
	require.NoError(t, err)
	assert.Equal(t, 101.5, cost)
	sol, err := s.Solution()
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5}, sol)
}

// offsetEnforcer pins x1 to x0 + by.
type offsetEnforcer struct{ by float64 }

func (o offsetEnforcer) Apply(x []float64) []float64 {
	out := append([]float64(nil), x...)
	out[1] = out[0] + o.by
	return out
}

func TestConstraintsStayInsideCell(t *testing.T) {
	lower, upper := []float64{0, 0}, []float64{1, 1}
	for _, name := range []string{"powell", "neldermead"} {
		t.Run(name, func(t *testing.T) {
			factory, err := nested.Factory(name)
			require.NoError(t, err)

			var mu sync.Mutex
			calls, outside := 0, 0
			objective := func(x []float64) (float64, error) {
				mu.Lock()
				calls++
				for i, v := range x {
					if v < lower[i] || v > upper[i] {
						outside++
					}
				}
				mu.Unlock()
				return x[0]*x[0] + x[1]*x[1], nil
			}

			s := NewLatticeSolver(2, Uniform(1))
			require.NoError(t, s.SetStrictRanges(lower, upper))
			s.SetNestedSolver(factory)
			s.SetConstraints(offsetEnforcer{by: 10})
			require.NoError(t, s.Solve(context.Background(), objective, termination.NCOG(1e-8, 2)))

			assert.Positive(t, calls)
			assert.Zero(t, outside, "objective evaluated outside the cell")
			sol, err := s.Solution()
			require.NoError(t, err)
			for i, v := range sol {
				assert.GreaterOrEqual(t, v, lower[i])
				assert.LessOrEqual(t, v, upper[i])
			}
			assert.Equal(t, 1.0, sol[1], "enforced coordinate is clamped to the cell face")
		})
	}
}

func TestBuckshot(t *testing.T) {
	objective := func(x []float64) (float64, error) { return x[0]*x[0] + x[1]*x[1], nil }
	run := func(seed int64) State {
		s := configured(t, NewBuckshotSolver(2, 6), []float64{-1, -1}, []float64{1, 1})
		s.SetSeed(seed)
		s.SetMapper(mapper.NewPool(2))
		require.NoError(t, s.Solve(context.Background(), objective, nil))
		st, err := s.State()
		require.NoError(t, err)
		return st
	}

	a, b, c := run(7), run(7), run(8)
	require.Len(t, a.Results, 6)
	for i := range a.Results {
		assert.Equal(t, a.Results[i].Result, b.Results[i].Result)
		assert.Equal(t, []float64{-1, -1}, a.Results[i].Cell.Bounds.Lower)
		assert.Equal(t, []float64{1, 1}, a.Results[i].Cell.Bounds.Upper)
	}
	assert.NotEqual(t, a.Results[0].Result.Parameters, c.Results[0].Result.Parameters)
	for _, r := range a.Results {
		assert.GreaterOrEqual(t, r.Result.Cost, a.Best.Result.Cost)
	}
}

func TestMonitorAndInstrumentation(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	var observed atomic.Int32
	s := configured(t, NewLatticeSolver(2, Uniform(2)), []float64{0, 0}, []float64{1, 1})
	s.SetMapper(mapper.NewPool(2))
	s.SetLogger(zap.New(core))
	s.SetMetrics(m)
	s.SetGenerationMonitor(optimization.MonitorFunc(func(int, []float64, float64) { observed.Add(1) }))
	require.NoError(t, s.Solve(context.Background(), func(x []float64) (float64, error) { return x[0], nil }, nil))

	assert.Equal(t, int32(4), observed.Load())
	assert.Equal(t, 4.0, testutil.ToFloat64(m.CellsTotal.WithLabelValues("MaxIterationsReached")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SolvesTotal.WithLabelValues("lattice", "ok")))
	assert.Equal(t, 1, logs.FilterMessage("ensemble solve started").Len())
	assert.Equal(t, 1, logs.FilterMessage("ensemble solve finished").Len())
}

// polyCost measures how far the quadratic with coefficients c (highest
// degree first) is from 2x^2 - x + 0.5 on 21 points of [-1, 1].
func polyCost(c []float64) (float64, error) {
	target := []float64{2, -1, 0.5}
	eval := func(coeffs []float64, x float64) float64 {
		r := 0.0
		for _, a := range coeffs {
			r = r*x + a
		}
		return r
	}
	sum := 0.0
	for i := 0; i <= 20; i++ {
		x := -1 + 2*float64(i)/20
		d := eval(c, x) - eval(target, x)
		sum += d * d
	}
	return sum, nil
}

func TestPolynomialFitLattice(t *testing.T) {
	lower, upper := []float64{-10, -10, -10}, []float64{10, 10, 10}

	solve := func(m mapper.Mapper) *Solver {
		s := NewLatticeSolver(3, BinSpec{2, 2, 2})
		require.NoError(t, s.SetStrictRanges(lower, upper))
		s.SetNestedSolver(nested.PowellFactory())
		s.SetMapper(m)
		require.NoError(t, s.Solve(context.Background(), polyCost, termination.NCOG(1e-8, 2)))
		return s
	}

	serial := solve(mapper.Serial())
	res, err := serial.Result()
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{2, -1, 0.5}, res.Parameters, 1e-6)
	assert.Less(t, res.Cost, 1e-10)

	st, err := serial.State()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0, 1}, st.Best.Cell.Index)

	t.Run("idempotent", func(t *testing.T) {
		again, err := solve(mapper.Serial()).State()
		require.NoError(t, err)
		assert.Equal(t, st.Results, again.Results)
	})

	t.Run("pool matches serial", func(t *testing.T) {
		pooled, err := solve(mapper.NewPool(4)).State()
		require.NoError(t, err)
		assert.Equal(t, st.Results, pooled.Results)
		assert.Equal(t, st.Best.Cell.Ordinal, pooled.Best.Cell.Ordinal)
	})
}

func g06(x []float64) (float64, error) {
	x0, x1 := x[0], x[1]
	cost := math.Pow(x0-10, 3) + math.Pow(x1-20, 3)
	g1 := (x0-5)*(x0-5) + (x1-5)*(x1-5) - 100
	g2 := (x0-6)*(x0-6) + (x1-5)*(x1-5) - 82.81
	v1, v2 := math.Max(0, -g1), math.Max(0, g2)
	return cost + 1e12*(v1*v1+v2*v2), nil
}

func TestG06LatticeConverges(t *testing.T) {
	const minimum = -6961.81387558015
	for _, bins := range []int{8, 10} {
		s := NewLatticeSolver(2, Uniform(bins))
		require.NoError(t, s.SetStrictRanges([]float64{13, 0}, []float64{100, 100}))
		s.SetNestedSolver(nested.PowellFactory())
		s.SetMapper(mapper.NewPool(0))
		require.NoError(t, s.Solve(context.Background(), g06, termination.NCOG(1e-4, 2)))

		cost, err := s.BestCost()
		require.NoError(t, err)
		rel := math.Abs(cost-minimum) / math.Abs(minimum)
		assert.Less(t, rel, 1e-2, "bins=%d cost=%g", bins, cost)
	}
}
