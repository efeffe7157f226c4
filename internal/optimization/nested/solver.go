// Package nested holds the local solvers dispatched into lattice cells.
//
// Both solvers enforce strict ranges by clamping: every candidate is moved
// into [min, max] before the objective sees it, and the reported solution
// is the clamped point.
package nested

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/copyleftdev/latticeopt/internal/optimization"
)

const component = "nested"

// Option configures a nested solver.
type Option func(*base)

// WithMaxIterations bounds the number of generations. Zero selects the
// solver's default of 1000 per dimension.
func WithMaxIterations(n int) Option {
	return func(b *base) { b.maxIterations = n }
}

// WithMaxEvaluations bounds the number of objective evaluations. Zero
// means unbounded.
func WithMaxEvaluations(n int) Option {
	return func(b *base) { b.maxEvaluations = n }
}

// WithLogger sets the logger used for per-solve debug output.
func WithLogger(logger *zap.Logger) Option {
	return func(b *base) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// base carries the configuration and outcome shared by every solver.
type base struct {
	dim            int
	lower, upper   []float64
	x0             []float64
	monitor        optimization.Monitor
	maxIterations  int
	maxEvaluations int
	logger         *zap.Logger

	solution    []float64
	cost        float64
	reason      optimization.TerminationReason
	iterations  int
	evaluations int
}

func newBase(dim int, opts []Option) base {
	b := base{
		dim:    dim,
		cost:   math.Inf(1),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// SetStrictRanges restricts evaluated points to [min, max].
func (b *base) SetStrictRanges(min, max []float64) error {
	if len(min) != b.dim || len(max) != b.dim {
		return optimization.ConfigurationErrorf(component, "strict ranges need %d entries, got %d and %d", b.dim, len(min), len(max))
	}
	for i := range min {
		if math.IsNaN(min[i]) || math.IsNaN(max[i]) || min[i] > max[i] {
			return optimization.ConfigurationErrorf(component, "invalid strict range for dimension %d: [%g, %g]", i, min[i], max[i])
		}
	}
	b.lower = append([]float64(nil), min...)
	b.upper = append([]float64(nil), max...)
	return nil
}

// SetInitialPoints sets the start point.
func (b *base) SetInitialPoints(x0 []float64) error {
	if len(x0) != b.dim {
		return optimization.ConfigurationErrorf(component, "initial point needs %d entries, got %d", b.dim, len(x0))
	}
	b.x0 = append([]float64(nil), x0...)
	return nil
}

// SetGenerationMonitor installs a per-generation monitor.
func (b *base) SetGenerationMonitor(m optimization.Monitor) {
	b.monitor = m
}

// Solution returns a copy of the best point found.
func (b *base) Solution() []float64 {
	return append([]float64(nil), b.solution...)
}

// BestCost returns the cost at Solution, or +Inf before a solve.
func (b *base) BestCost() float64 {
	return b.cost
}

// TerminationReason reports why the last solve stopped.
func (b *base) TerminationReason() optimization.TerminationReason {
	return b.reason
}

// Iterations returns the generations completed by the last solve.
func (b *base) Iterations() int {
	return b.iterations
}

// Evaluations returns the objective evaluations made by the last solve.
func (b *base) Evaluations() int {
	return b.evaluations
}

// prepare validates the inputs to Solve and returns the clamped start
// point. Missing ranges mean the unbounded real space.
func (b *base) prepare(objective optimization.ObjectiveFunction, hasCriterion bool) ([]float64, error) {
	if objective == nil {
		return nil, optimization.ConfigurationErrorf(component, "objective function is required")
	}
	if !hasCriterion {
		return nil, optimization.ConfigurationErrorf(component, "termination criterion is required")
	}
	if b.dim < 1 {
		return nil, optimization.ConfigurationErrorf(component, "dimension must be at least 1, got %d", b.dim)
	}
	if b.lower == nil {
		b.lower = make([]float64, b.dim)
		b.upper = make([]float64, b.dim)
		for i := range b.lower {
			b.lower[i], b.upper[i] = math.Inf(-1), math.Inf(1)
		}
	}

	x0 := b.x0
	if x0 == nil {
		x0 = make([]float64, b.dim)
		for i := range x0 {
			lo, hi := b.lower[i], b.upper[i]
			switch {
			case !math.IsInf(lo, 0) && !math.IsInf(hi, 0):
				x0[i] = lo/2 + hi/2
			case !math.IsInf(lo, 0):
				x0[i] = lo
			case !math.IsInf(hi, 0):
				x0[i] = hi
			}
		}
	}

	b.solution = nil
	b.cost = math.Inf(1)
	b.reason = optimization.NotTerminated
	b.iterations = 0
	b.evaluations = 0
	return clampInto(make([]float64, b.dim), x0, b.lower, b.upper), nil
}

func (b *base) observe(iteration int, x []float64, cost float64) {
	if b.monitor != nil {
		b.monitor.Observe(iteration, append([]float64(nil), x...), cost)
	}
}

// finish records the outcome and logs it.
func (b *base) finish(name string, x []float64, cost float64, reason optimization.TerminationReason, iterations, evaluations int) {
	b.solution = append([]float64(nil), x...)
	b.cost = cost
	b.reason = reason
	b.iterations = iterations
	b.evaluations = evaluations
	b.logger.Debug("nested solve finished",
		zap.String("solver", name),
		zap.Float64s("solution", b.solution),
		zap.Float64("cost", cost),
		zap.Stringer("reason", reason),
		zap.Int("iterations", iterations),
		zap.Int("evaluations", evaluations),
	)
}

func clampInto(dst, x, lower, upper []float64) []float64 {
	for i, v := range x {
		dst[i] = math.Max(lower[i], math.Min(v, upper[i]))
	}
	return dst
}

// evaluator wraps the objective with clamping, budget accounting and
// cancellation. Once it has failed every further call returns +Inf
// without touching the objective.
type evaluator struct {
	ctx          context.Context
	objective    optimization.ObjectiveFunction
	lower, upper []float64
	limit        int

	mu        sync.Mutex
	count     int
	exhausted bool
	err       error
	peak      float64
	hasPeak   bool
}

func (e *evaluator) eval(x []float64) float64 {
	e.mu.Lock()
	if e.err != nil || e.exhausted {
		e.mu.Unlock()
		return math.Inf(1)
	}
	if e.limit > 0 && e.count >= e.limit {
		e.exhausted = true
		e.mu.Unlock()
		return math.Inf(1)
	}
	if err := e.ctx.Err(); err != nil {
		e.err = err
		e.mu.Unlock()
		return math.Inf(1)
	}
	e.count++
	e.mu.Unlock()

	v, err := e.objective(clampInto(make([]float64, len(x)), x, e.lower, e.upper))
	if err != nil {
		e.mu.Lock()
		if e.err == nil {
			e.err = fmt.Errorf("evaluating objective: %w", err)
		}
		e.mu.Unlock()
		return math.Inf(1)
	}
	if !math.IsInf(v, 0) && !math.IsNaN(v) {
		e.mu.Lock()
		if !e.hasPeak || v > e.peak {
			e.peak, e.hasPeak = v, true
		}
		e.mu.Unlock()
	}
	return v
}

// takePeak returns the highest finite cost evaluated since the previous
// call and starts a new window.
func (e *evaluator) takePeak() (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	peak, ok := e.peak, e.hasPeak
	e.peak, e.hasPeak = 0, false
	return peak, ok
}

func (e *evaluator) failure() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

func (e *evaluator) budgetSpent() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exhausted || (e.limit > 0 && e.count >= e.limit)
}

func (e *evaluator) evaluations() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.count
}

// reasonFor maps a failure to a termination reason.
func (e *evaluator) reasonFor(err error) optimization.TerminationReason {
	if e.ctx.Err() != nil && err == e.ctx.Err() {
		return optimization.Cancelled
	}
	return optimization.NotTerminated
}

// Factory returns the factory for the named solver: "powell" or
// "neldermead" (also "nelder-mead").
func Factory(name string, opts ...Option) (optimization.NestedSolverFactory, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "powell", "":
		return PowellFactory(opts...), nil
	case "neldermead", "nelder-mead", "simplex":
		return NelderMeadFactory(opts...), nil
	default:
		return nil, optimization.ConfigurationErrorf(component, "unknown nested solver %q", name)
	}
}
