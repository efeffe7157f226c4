package problem

import (
	"context"
	"math/rand"
	"strings"

	"go.uber.org/zap"

	"github.com/copyleftdev/latticeopt/internal/metrics"
	"github.com/copyleftdev/latticeopt/internal/models"
	"github.com/copyleftdev/latticeopt/internal/optimization"
	"github.com/copyleftdev/latticeopt/internal/optimization/ensemble"
	"github.com/copyleftdev/latticeopt/internal/optimization/mapper"
	"github.com/copyleftdev/latticeopt/internal/optimization/nested"
	"github.com/copyleftdev/latticeopt/internal/optimization/termination"
	"github.com/copyleftdev/latticeopt/internal/symbolic"
)

// Options carries the collaborators a built solver reports to.
type Options struct {
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Monitor optimization.Monitor
}

// Problem is a definition assembled into a ready-to-run solver.
type Problem struct {
	Definition  Definition
	Solver      *ensemble.Solver
	Objective   optimization.ObjectiveFunction
	Termination termination.Factory
	// Penalty is nil when the definition has no constraints.
	Penalty *symbolic.Penalty
	// Enforcer is nil when the definition has no hard constraints.
	Enforcer *symbolic.Solver
	// Minimum is the best known cost for registered models.
	Minimum *float64
}

// Outcome is the result of running a problem.
type Outcome struct {
	Best      ensemble.CellResult
	Cells     int
	Feasible  bool
	Violation []float64
}

// Build validates def and assembles its solver. def must already carry
// defaults; Build does not consult the environment.
func Build(def Definition, opts Options) (*Problem, error) {
	p := &Problem{Definition: def}

	objective, dim, lower, upper, err := p.objective()
	if err != nil {
		return nil, err
	}
	p.Objective = objective
	def = p.Definition

	space, err := ensemble.NewSearchSpace(lower, upper)
	if err != nil {
		return nil, err
	}

	var solver *ensemble.Solver
	switch strings.ToLower(def.Strategy) {
	case "", "lattice":
		bins, err := def.bins(dim)
		if err != nil {
			return nil, err
		}
		solver = ensemble.NewLatticeSolver(dim, bins)
	case "buckshot":
		if def.Points < 1 {
			return nil, optimization.ConfigurationErrorf(component, "buckshot needs points >= 1, got %d", def.Points)
		}
		solver = ensemble.NewBuckshotSolver(dim, def.Points)
	default:
		return nil, optimization.ConfigurationErrorf(component, "unknown strategy %q", def.Strategy)
	}
	if err := solver.SetStrictRanges(space.Lower, space.Upper); err != nil {
		return nil, err
	}
	solver.SetSeed(def.Seed)
	if def.MaxCells > 0 {
		solver.SetMaxCells(def.MaxCells)
	}

	nestedOpts := []nested.Option{
		nested.WithMaxIterations(def.MaxIterations),
		nested.WithMaxEvaluations(def.MaxEvaluations),
	}
	if opts.Logger != nil {
		nestedOpts = append(nestedOpts, nested.WithLogger(opts.Logger))
	}
	factory, err := nested.Factory(def.Solver, nestedOpts...)
	if err != nil {
		return nil, err
	}
	solver.SetNestedSolver(factory)

	m, err := newMapper(def.Mapper, def.Workers)
	if err != nil {
		return nil, err
	}
	solver.SetMapper(m)

	if p.Termination, err = def.Termination.factory(); err != nil {
		return nil, err
	}
	solver.SetTermination(p.Termination)

	symOpts := []symbolic.Option{symbolic.WithDimension(dim), symbolic.WithTolerance(def.Tolerance)}
	if strings.TrimSpace(def.Constraints) != "" {
		if p.Penalty, err = symbolic.CompilePenalty(def.Constraints, def.Penalty, symOpts...); err != nil {
			return nil, err
		}
		solver.SetPenalty(p.Penalty)
	}
	if strings.TrimSpace(def.Enforce) != "" {
		if p.Enforcer, err = symbolic.CompileSolver(def.Enforce, symOpts...); err != nil {
			return nil, err
		}
		solver.SetConstraints(p.Enforcer)
	}

	if opts.Logger != nil {
		solver.SetLogger(opts.Logger)
	}
	if opts.Metrics != nil {
		solver.SetMetrics(opts.Metrics)
	}
	if opts.Monitor != nil {
		solver.SetGenerationMonitor(opts.Monitor)
	}

	p.Solver = solver
	return p, nil
}

// objective resolves the cost function, dimension and bounds, filling
// model defaults into the definition.
func (p *Problem) objective() (optimization.ObjectiveFunction, int, []float64, []float64, error) {
	def := &p.Definition
	sources := 0
	for _, set := range []bool{def.Model != "", strings.TrimSpace(def.Objective) != "", def.Fit != nil} {
		if set {
			sources++
		}
	}
	if sources != 1 {
		return nil, 0, nil, nil, optimization.ConfigurationErrorf(component, "exactly one of model, objective or fit is required")
	}

	var f optimization.ObjectiveFunction
	switch {
	case def.Model != "":
		m, ok := models.Lookup(def.Model)
		if !ok {
			return nil, 0, nil, nil, optimization.ConfigurationErrorf(component, "unknown model %q (have %s)", def.Model, strings.Join(models.Names(), ", "))
		}
		if def.Dimension == 0 {
			def.Dimension = m.Dim
		}
		if def.Dimension < 1 {
			return nil, 0, nil, nil, optimization.ConfigurationErrorf(component, "model %s needs a dimension", m.Name)
		}
		if def.Lower == nil || def.Upper == nil {
			lower, upper, err := m.Bounds(def.Dimension)
			if err != nil {
				return nil, 0, nil, nil, optimization.WrapError(optimization.ErrConfiguration, err, "model bounds").WithComponent(component)
			}
			if def.Lower == nil {
				def.Lower = lower
			}
			if def.Upper == nil {
				def.Upper = upper
			}
		} else if m.Dim != 0 && m.Dim != def.Dimension {
			return nil, 0, nil, nil, optimization.ConfigurationErrorf(component, "model %s has dimension %d, got %d", m.Name, m.Dim, def.Dimension)
		}
		if def.Constraints == "" {
			def.Constraints = m.Constraints
		}
		minimum := m.Minimum
		p.Minimum = &minimum
		f = m.Objective

	case def.Fit != nil:
		degree := def.Fit.Degree
		if def.Dimension == 0 {
			def.Dimension = degree + 1
		}
		if def.Dimension != degree+1 {
			return nil, 0, nil, nil, optimization.ConfigurationErrorf(component, "fit of degree %d has dimension %d, got %d", degree, degree+1, def.Dimension)
		}
		cost, err := models.PolyFitCost(def.Fit.X, def.Fit.Y, degree)
		if err != nil {
			return nil, 0, nil, nil, optimization.WrapError(optimization.ErrConfiguration, err, "fit data").WithComponent(component)
		}
		f = cost

	default:
		if def.Dimension < 1 {
			return nil, 0, nil, nil, optimization.ConfigurationErrorf(component, "dimension must be at least 1, got %d", def.Dimension)
		}
		cost, err := symbolic.CompileExpression(def.Objective, symbolic.WithDimension(def.Dimension))
		if err != nil {
			return nil, 0, nil, nil, err
		}
		f = cost
	}

	lower, err := broadcast("lower", def.Lower, def.Dimension)
	if err != nil {
		return nil, 0, nil, nil, err
	}
	upper, err := broadcast("upper", def.Upper, def.Dimension)
	if err != nil {
		return nil, 0, nil, nil, err
	}
	return f, def.Dimension, lower, upper, nil
}

func broadcast(name string, v []float64, dim int) ([]float64, error) {
	switch len(v) {
	case dim:
		return append([]float64(nil), v...), nil
	case 1:
		out := make([]float64, dim)
		for i := range out {
			out[i] = v[0]
		}
		return out, nil
	case 0:
		return nil, optimization.ConfigurationErrorf(component, "%s bounds are required", name)
	}
	return nil, optimization.ConfigurationErrorf(component, "%s bounds have %d entries for dimension %d", name, len(v), dim)
}

func (d Definition) bins(dim int) (ensemble.BinSpec, error) {
	if d.TotalBins > 0 {
		if len(d.Bins) > 0 {
			return nil, optimization.ConfigurationErrorf(component, "bins and total_bins are mutually exclusive")
		}
		return ensemble.DistributeBins(d.TotalBins, dim, rand.New(rand.NewSource(d.Seed)))
	}
	if len(d.Bins) == 0 {
		return nil, optimization.ConfigurationErrorf(component, "lattice needs bins or total_bins")
	}
	return ensemble.BinSpec(append([]int(nil), d.Bins...)).Resolve(dim)
}

func newMapper(name string, workers int) (mapper.Mapper, error) {
	switch strings.ToLower(name) {
	case "", "pool":
		return mapper.NewPool(workers), nil
	case "serial":
		return mapper.Serial(), nil
	}
	return nil, optimization.ConfigurationErrorf(component, "unknown mapper %q", name)
}

func (t Termination) factory() (termination.Factory, error) {
	switch strings.ToLower(t.Kind) {
	case "", "ncog":
		if t.Generations < 1 {
			return nil, optimization.ConfigurationErrorf(component, "termination needs generations >= 1, got %d", t.Generations)
		}
		return termination.NCOG(t.Tolerance, t.Generations), nil
	case "cog":
		if t.Generations < 1 {
			return nil, optimization.ConfigurationErrorf(component, "termination needs generations >= 1, got %d", t.Generations)
		}
		return termination.COG(t.Tolerance, t.Generations), nil
	case "vtr":
		if t.Generations < 1 {
			return termination.VTRFactory(t.Target), nil
		}
		return termination.OrFactory(termination.VTRFactory(t.Target), termination.NCOG(t.Tolerance, t.Generations)), nil
	}
	return nil, optimization.ConfigurationErrorf(component, "unknown termination %q", t.Kind)
}

// Run solves the problem and checks the best point against the
// constraints.
func (p *Problem) Run(ctx context.Context) (Outcome, error) {
	if err := p.Solver.Solve(ctx, p.Objective, p.Termination); err != nil {
		return Outcome{}, err
	}
	state, err := p.Solver.State()
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Best: *state.Best, Cells: len(state.Results), Feasible: true}
	if p.Penalty != nil {
		out.Feasible = p.Penalty.Satisfied(out.Best.Result.Parameters)
		out.Violation = p.Penalty.Violations(out.Best.Result.Parameters)
	}
	return out, nil
}
