package ensemble

import (
	"context"
	"math"
	"math/rand"

	"github.com/copyleftdev/latticeopt/internal/optimization"
	"github.com/copyleftdev/latticeopt/internal/optimization/termination"
)

// Penalty adds a non-negative cost for constraint violations.
type Penalty interface {
	Evaluate(x []float64) float64
}

// Constraints maps a candidate onto one satisfying hard constraints. The
// mapped point is clamped back into the cell before the objective sees
// it, so an enforcer can never move a solve out of its cell.
type Constraints interface {
	Apply(x []float64) []float64
}

// StartStrategy picks the start point of the nested solve in a cell. A nil
// return selects the cell centre.
type StartStrategy func(cell Cell) []float64

// RandomStart returns a strategy drawing a uniform point inside each cell.
// The draw depends only on seed and the cell ordinal, never on the order in
// which cells run.
func RandomStart(seed int64) StartStrategy {
	return func(cell Cell) []float64 {
		rng := rand.New(rand.NewSource(seed + int64(cell.Ordinal)))
		return uniformPoint(rng, cell.Bounds)
	}
}

func uniformPoint(rng *rand.Rand, s SearchSpace) []float64 {
	x := make([]float64, s.Dim())
	for i := range x {
		u := rng.Float64()
		v := s.Lower[i]*(1-u) + s.Upper[i]*u
		x[i] = math.Max(s.Lower[i], math.Min(v, s.Upper[i]))
	}
	return x
}

// Task is the unit of work handed to the mapper: one cell and the point
// the nested solver starts from.
type Task struct {
	Cell  Cell
	Start []float64
}

// CellSpec is everything shared by the cell tasks of one solve. All of it
// is read-only while the tasks run.
type CellSpec struct {
	Factory     optimization.NestedSolverFactory
	Termination termination.Factory
	Objective   optimization.ObjectiveFunction
	Monitor     optimization.Monitor
	Constraints Constraints
	Penalty     Penalty
}

type solveStats interface {
	Iterations() int
	Evaluations() int
}

// RunCell runs one fresh nested solver, confined to the task's cell, from
// the task's start point. Non-convergence is reported through the result's
// reason; objective failures and cancellation are errors.
func RunCell(ctx context.Context, task Task, spec CellSpec) (optimization.SolveResult, error) {
	switch {
	case spec.Factory == nil:
		return optimization.SolveResult{}, optimization.ConfigurationErrorf(component, "nested solver not configured")
	case spec.Termination == nil:
		return optimization.SolveResult{}, optimization.ConfigurationErrorf(component, "termination criterion not configured")
	case spec.Objective == nil:
		return optimization.SolveResult{}, optimization.ConfigurationErrorf(component, "objective function is required")
	}

	bounds := task.Cell.Bounds
	solver := spec.Factory(bounds.Dim())
	if solver == nil {
		return optimization.SolveResult{}, optimization.ConfigurationErrorf(component, "nested solver factory returned nil")
	}
	if err := solver.SetStrictRanges(bounds.Lower, bounds.Upper); err != nil {
		return optimization.SolveResult{}, err
	}

	start := task.Start
	if start == nil {
		start = bounds.Center()
	}
	if err := solver.SetInitialPoints(bounds.Clamp(start)); err != nil {
		return optimization.SolveResult{}, err
	}
	if spec.Monitor != nil {
		solver.SetGenerationMonitor(spec.Monitor)
	}

	objective := compose(spec.Objective, spec.Constraints, spec.Penalty, bounds)
	if err := solver.Solve(ctx, objective, spec.Termination()); err != nil {
		return optimization.SolveResult{}, err
	}

	params := solver.Solution()
	if spec.Constraints != nil {
		params = bounds.Clamp(spec.Constraints.Apply(params))
	}
	result := optimization.SolveResult{
		Parameters: params,
		Cost:       solver.BestCost(),
		Reason:     solver.TerminationReason(),
	}
	if st, ok := solver.(solveStats); ok {
		result.Iterations = st.Iterations()
		result.Evaluations = st.Evaluations()
	}
	return result, nil
}

// compose builds penalty(y) + f(y) with y = clamp(constrain(x)) inside
// bounds.
func compose(f optimization.ObjectiveFunction, constraints Constraints, penalty Penalty, bounds SearchSpace) optimization.ObjectiveFunction {
	if constraints == nil && penalty == nil {
		return f
	}
	return func(x []float64) (float64, error) {
		if constraints != nil {
			x = bounds.Clamp(constraints.Apply(x))
		}
		cost, err := f(x)
		if err != nil {
			return 0, err
		}
		if penalty != nil {
			cost += penalty.Evaluate(x)
		}
		return cost, nil
	}
}
