package optimization

import (
	"context"
	"fmt"

	"github.com/copyleftdev/latticeopt/internal/optimization/termination"
)

// ObjectiveFunction defines the function to be minimized.
// It must be pure: concurrent cells evaluate it without coordination.
type ObjectiveFunction func([]float64) (float64, error)

// TerminationReason records why a solve stopped.
type TerminationReason int

const (
	// NotTerminated is the reason reported before a solver has run.
	NotTerminated TerminationReason = iota
	// Converged means the termination criterion signalled a stop.
	Converged
	// MaxIterationsReached means the iteration budget ran out first.
	MaxIterationsReached
	// MaxEvaluationsReached means the evaluation budget ran out first.
	MaxEvaluationsReached
	// Cancelled means the context was cancelled mid-solve.
	Cancelled
)

func (r TerminationReason) String() string {
	switch r {
	case NotTerminated:
		return "NotTerminated"
	case Converged:
		return "Converged"
	case MaxIterationsReached:
		return "MaxIterationsReached"
	case MaxEvaluationsReached:
		return "MaxEvaluationsReached"
	case Cancelled:
		return "Cancelled"
	default:
		return fmt.Sprintf("TerminationReason(%d)", int(r))
	}
}

// MarshalText lets reasons appear by name in JSON and YAML output.
func (r TerminationReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// SolveResult is the terminal outcome of one solve.
type SolveResult struct {
	Parameters  []float64         `json:"parameters"`
	Cost        float64           `json:"cost"`
	Reason      TerminationReason `json:"reason"`
	Iterations  int               `json:"iterations"`
	Evaluations int               `json:"evaluations"`
}

// Monitor receives a callback after every generation of a solver.
// Monitors are purely observational. When a parallel mapper is used the
// same monitor is called from several goroutines.
type Monitor interface {
	Observe(iteration int, params []float64, cost float64)
}

// MonitorFunc adapts a plain function to the Monitor interface.
type MonitorFunc func(iteration int, params []float64, cost float64)

// Observe calls f.
func (f MonitorFunc) Observe(iteration int, params []float64, cost float64) {
	f(iteration, params, cost)
}

// NestedSolver is a local optimizer run independently inside one cell.
type NestedSolver interface {
	// SetStrictRanges restricts every evaluated point to [min, max].
	SetStrictRanges(min, max []float64) error

	// SetInitialPoints sets the starting point.
	SetInitialPoints(x0 []float64) error

	// SetGenerationMonitor installs an optional per-generation monitor.
	SetGenerationMonitor(m Monitor)

	// Solve runs to termination. Non-convergence is not an error.
	Solve(ctx context.Context, objective ObjectiveFunction, criterion termination.Criterion) error

	// Solution returns the best parameters found.
	Solution() []float64

	// BestCost returns the cost at Solution.
	BestCost() float64

	// TerminationReason reports why Solve stopped.
	TerminationReason() TerminationReason
}

// NestedSolverFactory creates a fresh nested solver for a problem of the
// given dimension. It is called once per cell.
type NestedSolverFactory func(dim int) NestedSolver
