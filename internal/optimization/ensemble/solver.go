// Package ensemble implements the lattice and buckshot meta-solvers.
//
// A Solver splits the search into independent cell tasks, runs one fresh
// nested solver per task through a Mapper and reduces the per-cell results
// to the single lowest-cost result. Equal costs resolve to the earliest
// cell in enumeration order and NaN costs rank after every number, so the
// outcome never depends on the order in which tasks complete.
//
// Constraint enforcers run before the objective on every candidate. The
// enforced point is clamped into the cell, so the objective is only ever
// evaluated inside the cell being solved and the reported parameters lie
// in it too. A cell that cannot satisfy the constraints reports the
// clamped point and whatever penalty it carries.
package ensemble

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/latticeopt/internal/metrics"
	"github.com/copyleftdev/latticeopt/internal/optimization"
	"github.com/copyleftdev/latticeopt/internal/optimization/mapper"
	"github.com/copyleftdev/latticeopt/internal/optimization/termination"
)

// Strategy names how a Solver lays out its tasks.
type Strategy string

const (
	// Lattice runs one task per cell of a regular partition.
	Lattice Strategy = "lattice"
	// Buckshot runs a fixed number of tasks from random start points over
	// the full search space.
	Buckshot Strategy = "buckshot"
)

// DefaultMaxCells caps the number of tasks a single solve may create.
const DefaultMaxCells = 1 << 20

// CellResult pairs a task's cell with its nested-solve outcome.
type CellResult struct {
	Cell   Cell                     `json:"cell"`
	Result optimization.SolveResult `json:"result"`
}

// State is the outcome of one ensemble solve. Results are in cell
// enumeration order; Best points into Results.
type State struct {
	Results []CellResult `json:"results"`
	Best    *CellResult  `json:"best"`
}

// Solver is the ensemble orchestrator. Configure it with the setters, then
// call Solve. A Solver must not run two solves at once.
type Solver struct {
	dim      int
	strategy Strategy
	bins     BinSpec
	npts     int

	factory     optimization.NestedSolverFactory
	mapper      mapper.Mapper
	monitor     optimization.Monitor
	lower       []float64
	upper       []float64
	termination termination.Factory
	start       StartStrategy
	penalty     Penalty
	constraints Constraints
	seed        int64
	maxCells    int

	logger  *zap.Logger
	metrics *metrics.Metrics

	mu    sync.RWMutex
	state *State
}

func newSolver(dim int, strategy Strategy) *Solver {
	return &Solver{
		dim:      dim,
		strategy: strategy,
		maxCells: DefaultMaxCells,
		logger:   zap.NewNop(),
	}
}

// SetNestedSolver sets the factory creating one nested solver per cell.
func (s *Solver) SetNestedSolver(factory optimization.NestedSolverFactory) {
	s.factory = factory
}

// SetMapper sets the execution strategy. A nil mapper runs serially.
func (s *Solver) SetMapper(m mapper.Mapper) {
	s.mapper = m
}

// SetGenerationMonitor installs a monitor on every nested solver. It must
// be safe for concurrent use when the mapper runs tasks in parallel.
func (s *Solver) SetGenerationMonitor(m optimization.Monitor) {
	s.monitor = m
}

// SetStrictRanges sets the search bounds.
func (s *Solver) SetStrictRanges(min, max []float64) error {
	space, err := NewSearchSpace(min, max)
	if err != nil {
		return err
	}
	if space.Dim() != s.dim {
		return optimization.ConfigurationErrorf(component, "strict ranges have %d dimensions, solver has %d", space.Dim(), s.dim)
	}
	s.lower, s.upper = space.Lower, space.Upper
	return nil
}

// SetTermination sets the default criterion factory used when Solve is
// given none.
func (s *Solver) SetTermination(f termination.Factory) {
	s.termination = f
}

// SetBins replaces the lattice bin spec.
func (s *Solver) SetBins(bins BinSpec) {
	s.bins = append(BinSpec(nil), bins...)
}

// SetStartStrategy overrides the cell-centre start point.
func (s *Solver) SetStartStrategy(fn StartStrategy) {
	s.start = fn
}

// SetPenalty adds a penalty term to the objective.
func (s *Solver) SetPenalty(p Penalty) {
	s.penalty = p
}

// SetConstraints applies hard constraints before every evaluation.
func (s *Solver) SetConstraints(c Constraints) {
	s.constraints = c
}

// SetSeed sets the seed for buckshot start points.
func (s *Solver) SetSeed(seed int64) {
	s.seed = seed
}

// SetMaxCells caps the number of tasks per solve.
func (s *Solver) SetMaxCells(n int) {
	s.maxCells = n
}

// SetLogger sets the logger.
func (s *Solver) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s.logger = logger
}

// SetMetrics sets the metrics sink. Nil disables instrumentation.
func (s *Solver) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// Strategy reports the task layout.
func (s *Solver) Strategy() Strategy {
	return s.strategy
}

// tasks builds the task list for the configured layout.
func (s *Solver) tasks() ([]Task, error) {
	space := SearchSpace{Lower: s.lower, Upper: s.upper}
	switch s.strategy {
	case Lattice:
		return s.latticeTasks(space)
	case Buckshot:
		return s.buckshotTasks(space)
	default:
		return nil, optimization.ConfigurationErrorf(component, "unknown strategy %q", s.strategy)
	}
}

// Solve runs one nested solve per task and records the global best. The
// criterion factory may be nil when one was set with SetTermination. On
// failure the previous state, if any, is left untouched.
func (s *Solver) Solve(ctx context.Context, objective optimization.ObjectiveFunction, criterion termination.Factory) error {
	if criterion == nil {
		criterion = s.termination
	}
	switch {
	case s.factory == nil:
		return optimization.ConfigurationErrorf(component, "nested solver not configured")
	case s.lower == nil:
		return optimization.ConfigurationErrorf(component, "strict ranges not configured")
	case criterion == nil:
		return optimization.ConfigurationErrorf(component, "termination criterion not configured")
	case objective == nil:
		return optimization.ConfigurationErrorf(component, "objective function is required")
	}

	tasks, err := s.tasks()
	if err != nil {
		return err
	}

	m := s.mapper
	if m == nil {
		m = mapper.Serial()
	}
	spec := CellSpec{
		Factory:     s.factory,
		Termination: criterion,
		Objective:   objective,
		Monitor:     s.monitor,
		Constraints: s.constraints,
		Penalty:     s.penalty,
	}

	logger := s.logger.With(zap.String("strategy", string(s.strategy)))
	logger.Info("ensemble solve started",
		zap.Int("dimension", s.dim),
		zap.Int("cells", len(tasks)),
		zap.Stringer("mapper", describe(m)),
	)

	begin := time.Now()
	results, err := mapper.Apply(ctx, m, func(ctx context.Context, task Task) (optimization.SolveResult, error) {
		cellStart := time.Now()
		r, err := RunCell(ctx, task, spec)
		if err != nil {
			return r, err
		}
		s.metrics.ObserveCell(r.Reason.String(), time.Since(cellStart))
		return r, nil
	}, tasks)
	elapsed := time.Since(begin)
	if err != nil {
		s.metrics.ObserveSolve(string(s.strategy), "error", elapsed)
		logger.Error("ensemble solve failed", zap.Error(err), zap.Duration("elapsed", elapsed))
		return err
	}

	state := &State{Results: make([]CellResult, len(tasks))}
	for i, r := range results {
		state.Results[i] = CellResult{Cell: tasks[i].Cell, Result: r}
	}
	state.Best = &state.Results[bestIndex(results)]

	s.mu.Lock()
	s.state = state
	s.mu.Unlock()

	s.metrics.ObserveSolve(string(s.strategy), "ok", elapsed)
	logger.Info("ensemble solve finished",
		zap.Stringer("best_cell", state.Best.Cell),
		zap.Float64("best_cost", state.Best.Result.Cost),
		zap.Float64s("solution", state.Best.Result.Parameters),
		zap.Duration("elapsed", elapsed),
	)
	return nil
}

// bestIndex returns the index of the lowest cost. Ties keep the earliest
// index and NaN loses to any number.
func bestIndex(results []optimization.SolveResult) int {
	best := 0
	for i := 1; i < len(results); i++ {
		if better(results[i].Cost, results[best].Cost) {
			best = i
		}
	}
	return best
}

func better(a, b float64) bool {
	if math.IsNaN(a) {
		return false
	}
	return math.IsNaN(b) || a < b
}

func (s *Solver) current() (*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == nil {
		return nil, optimization.NewError(optimization.ErrState, "no completed solve").WithComponent(component)
	}
	return s.state, nil
}

// Solution returns the parameters of the global best.
func (s *Solver) Solution() ([]float64, error) {
	st, err := s.current()
	if err != nil {
		return nil, err
	}
	return append([]float64(nil), st.Best.Result.Parameters...), nil
}

// BestCost returns the cost of the global best.
func (s *Solver) BestCost() (float64, error) {
	st, err := s.current()
	if err != nil {
		return math.NaN(), err
	}
	return st.Best.Result.Cost, nil
}

// Result returns the global best result.
func (s *Solver) Result() (optimization.SolveResult, error) {
	st, err := s.current()
	if err != nil {
		return optimization.SolveResult{}, err
	}
	r := st.Best.Result
	r.Parameters = append([]float64(nil), r.Parameters...)
	return r, nil
}

// State returns a copy of the per-cell results of the last solve.
func (s *Solver) State() (State, error) {
	st, err := s.current()
	if err != nil {
		return State{}, err
	}
	out := State{Results: make([]CellResult, len(st.Results))}
	copy(out.Results, st.Results)
	for i := range st.Results {
		if &st.Results[i] == st.Best {
			out.Best = &out.Results[i]
		}
	}
	return out, nil
}

type stringer string

func (s stringer) String() string { return string(s) }

func describe(m mapper.Mapper) fmt.Stringer {
	if st, ok := m.(fmt.Stringer); ok {
		return st
	}
	return stringer(fmt.Sprintf("%T", m))
}
