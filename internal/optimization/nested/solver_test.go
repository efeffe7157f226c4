package nested

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/latticeopt/internal/optimization"
	"github.com/copyleftdev/latticeopt/internal/optimization/termination"
)

func shiftedSphere(center ...float64) optimization.ObjectiveFunction {
	return func(x []float64) (float64, error) {
		sum := 0.0
		for i, v := range x {
			d := v - center[i]
			sum += d * d
		}
		return sum, nil
	}
}

// g06 is the constrained cubic benchmark with its two circle constraints
// folded in as a quadratic penalty.
func g06(x []float64) (float64, error) {
	x0, x1 := x[0], x[1]
	cost := math.Pow(x0-10, 3) + math.Pow(x1-20, 3)
	g1 := (x0-5)*(x0-5) + (x1-5)*(x1-5) - 100
	g2 := (x0-6)*(x0-6) + (x1-5)*(x1-5) - 82.81
	v1 := math.Max(0, -g1)
	v2 := math.Max(0, g2)
	return cost + 1e12*(v1*v1+v2*v2), nil
}

const g06Minimum = -6961.81387558015

func solvers(dim int, opts ...Option) map[string]optimization.NestedSolver {
	return map[string]optimization.NestedSolver{
		"powell":     NewPowell(dim, opts...),
		"neldermead": NewNelderMead(dim, opts...),
	}
}

func TestSolversFindInteriorMinimum(t *testing.T) {
	for name, s := range solvers(3) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.SetStrictRanges([]float64{-5, -5, -5}, []float64{5, 5, 5}))
			require.NoError(t, s.SetInitialPoints([]float64{3, -2, 1}))

			// The simplex can keep its best vertex for several iterations,
			// so stagnation alone must persist for a while.
			criterion := termination.OrFactory(termination.VTRFactory(1e-12), termination.COG(1e-14, 50))()
			require.NoError(t, s.Solve(context.Background(), shiftedSphere(1, 2, -0.5), criterion))

			assert.InDeltaSlice(t, []float64{1, 2, -0.5}, s.Solution(), 1e-4)
			assert.Less(t, s.BestCost(), 1e-8)
			assert.Equal(t, optimization.Converged, s.TerminationReason())
		})
	}
}

func TestStrictRangesAreClamped(t *testing.T) {
	for name, s := range solvers(2) {
		t.Run(name, func(t *testing.T) {
			lower, upper := []float64{0, 0}, []float64{5, 5}
			require.NoError(t, s.SetStrictRanges(lower, upper))

			var mu sync.Mutex
			outside := 0
			objective := func(x []float64) (float64, error) {
				mu.Lock()
				for i, v := range x {
					if v < lower[i] || v > upper[i] {
						outside++
					}
				}
				mu.Unlock()
				return shiftedSphere(10, -3)(x)
			}

			criterion := termination.OrFactory(termination.VTRFactory(34), termination.COG(1e-12, 50))()
			require.NoError(t, s.Solve(context.Background(), objective, criterion))
			assert.Zero(t, outside, "objective evaluated outside the strict ranges")
			assert.InDeltaSlice(t, []float64{5, 0}, s.Solution(), 1e-6)
			assert.InDelta(t, 34.0, s.BestCost(), 1e-6)
		})
	}
}

func TestDefaultStartIsRangeCentre(t *testing.T) {
	s := NewPowell(2)
	require.NoError(t, s.SetStrictRanges([]float64{13, 0}, []float64{100, 100}))

	var first []float64
	objective := func(x []float64) (float64, error) {
		if first == nil {
			first = append([]float64(nil), x...)
		}
		return x[0] + x[1], nil
	}
	require.NoError(t, s.Solve(context.Background(), objective, termination.COG(1e-9, 2)()))
	assert.Equal(t, []float64{56.5, 50}, first)
	assert.InDeltaSlice(t, []float64{13, 0}, s.Solution(), 1e-6)
}

func TestPowellG06(t *testing.T) {
	tests := []struct {
		name  string
		start []float64
	}{
		{"near corner", []float64{15, 2}},
		{"close to optimum", []float64{14.5, 0.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewPowell(2)
			require.NoError(t, s.SetStrictRanges([]float64{13, 0}, []float64{100, 100}))
			require.NoError(t, s.SetInitialPoints(tt.start))
			require.NoError(t, s.Solve(context.Background(), g06, termination.NCOG(1e-4, 2)()))

			rel := math.Abs(s.BestCost()-g06Minimum) / math.Abs(g06Minimum)
			assert.Less(t, rel, 1e-2, "cost %g", s.BestCost())
			assert.InDelta(t, 14.095, s.Solution()[0], 0.05)
			assert.InDelta(t, 0.843, s.Solution()[1], 0.05)
		})
	}
}

func TestNelderMeadLeavesOffCentreStart(t *testing.T) {
	rosenbrock := func(x []float64) (float64, error) {
		a, b := 1-x[0], x[1]-x[0]*x[0]
		return a*a + 100*b*b, nil
	}
	tests := []struct {
		name         string
		objective    optimization.ObjectiveFunction
		lower, upper []float64
		start, want  []float64
	}{
		{"bowl", shiftedSphere(0, 0), []float64{-1, -1}, []float64{1, 1}, []float64{0.5, 0.5}, []float64{0, 0}},
		{"rosenbrock", rosenbrock, []float64{-5, -5}, []float64{10, 10}, []float64{-3, 7}, []float64{1, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewNelderMead(2)
			require.NoError(t, s.SetStrictRanges(tt.lower, tt.upper))
			require.NoError(t, s.SetInitialPoints(tt.start))
			require.NoError(t, s.Solve(context.Background(), tt.objective, termination.NCOG(1e-8, 2)()))

			assert.InDeltaSlice(t, tt.want, s.Solution(), 1e-3)
			assert.Less(t, s.BestCost(), 1e-6)
			assert.Greater(t, s.Iterations(), 2)
		})
	}
}

func TestIterationBudget(t *testing.T) {
	never := termination.NCOG(-1, 1)
	for name, s := range solvers(2, WithMaxIterations(2)) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.SetStrictRanges([]float64{-10, -10}, []float64{10, 10}))
			require.NoError(t, s.SetInitialPoints([]float64{9, 9}))
			err := s.Solve(context.Background(), shiftedSphere(1, 1), never())
			require.NoError(t, err, "non-convergence is not an error")
			assert.Equal(t, optimization.MaxIterationsReached, s.TerminationReason())
			assert.Len(t, s.Solution(), 2)
			assert.False(t, math.IsInf(s.BestCost(), 0))
		})
	}
}

func TestEvaluationBudget(t *testing.T) {
	never := termination.NCOG(-1, 1)
	for name, s := range solvers(2, WithMaxEvaluations(40)) {
		t.Run(name, func(t *testing.T) {
			calls := 0
			objective := func(x []float64) (float64, error) {
				calls++
				return shiftedSphere(1, 1)(x)
			}
			require.NoError(t, s.SetStrictRanges([]float64{-10, -10}, []float64{10, 10}))
			require.NoError(t, s.Solve(context.Background(), objective, never()))
			assert.Equal(t, optimization.MaxEvaluationsReached, s.TerminationReason())
			assert.LessOrEqual(t, calls, 40)
			assert.Less(t, s.BestCost(), 2.0, "best point seen is kept")
		})
	}
}

func TestObjectiveErrorAborts(t *testing.T) {
	cause := errors.New("domain error")
	for name, s := range solvers(2) {
		t.Run(name, func(t *testing.T) {
			calls := 0
			objective := func(x []float64) (float64, error) {
				calls++
				if calls > 5 {
					return 0, cause
				}
				return x[0]*x[0] + x[1]*x[1], nil
			}
			require.NoError(t, s.SetStrictRanges([]float64{-1, -1}, []float64{1, 1}))
			require.NoError(t, s.SetInitialPoints([]float64{0.5, 0.5}))
			err := s.Solve(context.Background(), objective, termination.NCOG(1e-8, 2)())
			require.Error(t, err)
			assert.True(t, errors.Is(err, cause))
			assert.Equal(t, 6, calls, "objective not called after failing")
		})
	}
}

func TestCancelledContext(t *testing.T) {
	for name, s := range solvers(2) {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			err := s.Solve(ctx, shiftedSphere(0, 0), termination.NCOG(1e-8, 2)())
			require.Error(t, err)
			assert.True(t, errors.Is(err, context.Canceled))
			assert.Equal(t, optimization.Cancelled, s.TerminationReason())
		})
	}
}

func TestGenerationMonitor(t *testing.T) {
	s := NewPowell(2)
	require.NoError(t, s.SetStrictRanges([]float64{-5, -5}, []float64{5, 5}))
	require.NoError(t, s.SetInitialPoints([]float64{4, 4}))

	var iterations []int
	var costs []float64
	s.SetGenerationMonitor(optimization.MonitorFunc(func(it int, params []float64, cost float64) {
		iterations = append(iterations, it)
		costs = append(costs, cost)
		params[0] = math.NaN() // monitors receive copies
	}))
	require.NoError(t, s.Solve(context.Background(), shiftedSphere(1, -1), termination.COG(1e-12, 2)()))

	require.NotEmpty(t, iterations)
	assert.Equal(t, 0, iterations[0])
	for i := 1; i < len(iterations); i++ {
		assert.Equal(t, iterations[i-1]+1, iterations[i])
		assert.LessOrEqual(t, costs[i], costs[i-1], "best cost never increases")
	}
	assert.Equal(t, len(iterations)-1, s.Iterations())
	assert.False(t, math.IsNaN(s.Solution()[0]))
}

func TestConfigurationErrors(t *testing.T) {
	s := NewPowell(2)
	assert.True(t, errors.Is(s.SetStrictRanges([]float64{0}, []float64{1, 1}), optimization.ErrConfiguration))
	assert.True(t, errors.Is(s.SetStrictRanges([]float64{2, 0}, []float64{1, 1}), optimization.ErrConfiguration))
	assert.True(t, errors.Is(s.SetInitialPoints([]float64{1, 2, 3}), optimization.ErrConfiguration))
	assert.True(t, errors.Is(s.Solve(context.Background(), nil, termination.NCOG(1e-4, 2)()), optimization.ErrConfiguration))
	assert.True(t, errors.Is(s.Solve(context.Background(), shiftedSphere(0, 0), nil), optimization.ErrConfiguration))
	assert.True(t, math.IsInf(s.BestCost(), 1))
	assert.Empty(t, s.Solution())
}

func TestFactory(t *testing.T) {
	for _, name := range []string{"powell", "Powell", "", "neldermead", "nelder-mead", "simplex"} {
		f, err := Factory(name)
		require.NoError(t, err, name)
		assert.NotNil(t, f(3))
	}
	_, err := Factory("bfgs")
	assert.True(t, errors.Is(err, optimization.ErrConfiguration))

	f, _ := Factory("neldermead")
	_, ok := f(2).(*NelderMead)
	assert.True(t, ok)
}

func TestBracketAndBrent(t *testing.T) {
	f := func(t float64) float64 { return (t - 3.7) * (t - 3.7) }
	a, b, c, fa, fb, fc := bracket(f, 0, 1)
	assert.True(t, fb <= fa && fb <= fc)
	assert.True(t, (a < b && b < c) || (c < b && b < a))

	x, fx := brent(f)
	assert.InDelta(t, 3.7, x, 1e-6)
	assert.InDelta(t, 0, fx, 1e-10)

	x, _ = brent(func(t float64) float64 { return math.Cosh(t + 2) })
	assert.InDelta(t, -2, x, 1e-6)
}
