package nested

import (
	"context"
	"math"

	"gonum.org/v1/gonum/optimize"

	"github.com/copyleftdev/latticeopt/internal/optimization"
	"github.com/copyleftdev/latticeopt/internal/optimization/termination"
)

// NelderMead runs gonum's downhill simplex inside the strict ranges. One
// generation is one gonum major iteration. The termination criterion sees
// the highest cost evaluated during each generation rather than the best
// vertex, which can stay put while the rest of the simplex still moves.
type NelderMead struct {
	base
}

// NewNelderMead returns a simplex solver for a dim-dimensional problem.
func NewNelderMead(dim int, opts ...Option) *NelderMead {
	return &NelderMead{base: newBase(dim, opts)}
}

// NelderMeadFactory returns a factory creating simplex solvers.
func NelderMeadFactory(opts ...Option) optimization.NestedSolverFactory {
	return func(dim int) optimization.NestedSolver {
		return NewNelderMead(dim, opts...)
	}
}

// criterionConverger feeds gonum major iterations into a Criterion.
type criterionConverger struct {
	criterion termination.Criterion
	trials    *evaluator
	history   []float64
}

func (c *criterionConverger) Init(int) {
	c.history = c.history[:0]
	c.trials.takePeak()
}

func (c *criterionConverger) Converged(loc *optimize.Location) optimize.Status {
	v := loc.F
	if peak, ok := c.trials.takePeak(); ok && peak > v {
		v = peak
	}
	c.history = append(c.history, v)
	if c.criterion.ShouldStop(c.history) {
		return optimize.FunctionConvergence
	}
	return optimize.NotTerminated
}

// monitorRecorder forwards major iterations to a Monitor.
type monitorRecorder struct {
	solver *NelderMead
}

func (r monitorRecorder) Init() error { return nil }

func (r monitorRecorder) Record(loc *optimize.Location, op optimize.Operation, stats *optimize.Stats) error {
	if op == optimize.MajorIteration {
		x := clampInto(make([]float64, len(loc.X)), loc.X, r.solver.lower, r.solver.upper)
		r.solver.observe(stats.MajorIterations, x, loc.F)
	}
	return nil
}

// simplexSize scales the initial simplex to a tenth of the mean finite
// range width.
func (nm *NelderMead) simplexSize() float64 {
	sum, n := 0.0, 0
	for i := range nm.lower {
		if w := nm.upper[i] - nm.lower[i]; !math.IsInf(w, 0) && w > 0 {
			sum += w
			n++
		}
	}
	if n == 0 {
		return 0.05
	}
	return 0.1 * sum / float64(n)
}

// Solve minimises objective until criterion stops it or a budget runs out.
func (nm *NelderMead) Solve(ctx context.Context, objective optimization.ObjectiveFunction, criterion termination.Criterion) error {
	x0, err := nm.prepare(objective, criterion != nil)
	if err != nil {
		return err
	}
	maxIter := nm.maxIterations
	if maxIter <= 0 {
		maxIter = 1000 * nm.dim
	}

	e := &evaluator{
		ctx:       ctx,
		objective: objective,
		lower:     nm.lower,
		upper:     nm.upper,
		limit:     nm.maxEvaluations,
	}
	problem := optimize.Problem{
		// eval clamps into a copy; gonum forbids modifying x.
		Func: e.eval,
		Status: func() (optimize.Status, error) {
			if err := e.failure(); err != nil {
				return optimize.Failure, err
			}
			if e.budgetSpent() {
				return optimize.FunctionEvaluationLimit, nil
			}
			return optimize.NotTerminated, nil
		},
	}
	settings := &optimize.Settings{
		Converger:       &criterionConverger{criterion: criterion, trials: e},
		Recorder:        monitorRecorder{solver: nm},
		MajorIterations: maxIter,
	}
	method := &optimize.NelderMead{
		Reflection:  1.0,
		Expansion:   2.0,
		Contraction: 0.5,
		Shrink:      0.5,
		SimplexSize: nm.simplexSize(),
	}

	result, err := optimize.Minimize(problem, x0, settings, method)
	if ferr := e.failure(); ferr != nil {
		err = ferr
	}
	if err != nil {
		x, cost := x0, math.Inf(1)
		iterations := 0
		if result != nil && !math.IsInf(result.F, 1) {
			x = clampInto(make([]float64, nm.dim), result.X, nm.lower, nm.upper)
			cost = result.F
			iterations = result.MajorIterations
		}
		nm.finish("neldermead", x, cost, e.reasonFor(err), iterations, e.evaluations())
		return err
	}

	x := clampInto(make([]float64, nm.dim), result.X, nm.lower, nm.upper)
	nm.finish("neldermead", x, result.F, reasonFromStatus(result.Status), result.MajorIterations, e.evaluations())
	return nil
}

func reasonFromStatus(s optimize.Status) optimization.TerminationReason {
	switch s {
	case optimize.IterationLimit:
		return optimization.MaxIterationsReached
	case optimize.FunctionEvaluationLimit:
		return optimization.MaxEvaluationsReached
	default:
		return optimization.Converged
	}
}
