package symbolic

import (
	"math"

	"github.com/copyleftdev/latticeopt/internal/optimization"
)

// relationSolver rewrites one parameter so that an affine condition holds.
type relationSolver struct {
	cond   Condition
	target int
}

// Solver enforces hard constraints by substitution. Each condition must
// be affine in one of its parameters (its target): "==" conditions always
// set the target, inequalities move it onto the boundary only when they are
// violated. Conditions are applied in order.
type Solver struct {
	relations []relationSolver
	arity     int
}

// NewSolver builds a substitution solver from parsed conditions.
func NewSolver(conditions ConstraintSet) (*Solver, error) {
	s := &Solver{arity: conditions.Arity()}
	targets := make(map[int]int)
	for _, c := range conditions {
		target := -1
		for _, v := range Vars(c.Expr) {
			if c.Expr.degree(v) == 1 {
				target = v
				break
			}
		}
		if target < 0 {
			return nil, optimization.ConfigurationErrorf(component, "line %d: %q is not affine in any parameter", c.Line, c.Text)
		}
		if first, taken := targets[target]; taken {
			return nil, optimization.ConfigurationErrorf(component, "line %d conflicts with line %d: both solve for x%d", c.Line, first, target)
		}
		targets[target] = c.Line
		s.relations = append(s.relations, relationSolver{cond: c, target: target})
	}
	return s, nil
}

// CompileSolver parses text and builds its substitution solver.
func CompileSolver(text string, opts ...Option) (*Solver, error) {
	conditions, err := Parse(text, opts...)
	if err != nil {
		return nil, err
	}
	return NewSolver(conditions)
}

// Targets returns the parameter each condition solves for, in order.
func (s *Solver) Targets() []int {
	out := make([]int, len(s.relations))
	for i, r := range s.relations {
		out[i] = r.target
	}
	return out
}

// Apply returns a copy of x with every condition enforced. A condition
// whose coefficient in its target vanishes at x leaves x unchanged.
func (s *Solver) Apply(x []float64) []float64 {
	out := append([]float64(nil), x...)
	if len(out) < s.arity {
		return out
	}
	for _, r := range s.relations {
		g := r.cond.Expr.Eval(out)
		switch r.cond.Relation {
		case GreaterEqual:
			if g >= 0 {
				continue
			}
		case LessEqual:
			if g <= 0 {
				continue
			}
		}
		if v, ok := r.solve(out); ok {
			out[r.target] = v
		}
	}
	return out
}

// solve finds the target value that zeroes the condition, holding every
// other parameter fixed: g = a*t + b.
func (r relationSolver) solve(x []float64) (float64, bool) {
	trial := append([]float64(nil), x...)
	trial[r.target] = 0
	b := r.cond.Expr.Eval(trial)
	trial[r.target] = 1
	a := r.cond.Expr.Eval(trial) - b
	if a == 0 || math.IsNaN(a) || math.IsNaN(b) || math.IsInf(a, 0) || math.IsInf(b, 0) {
		return 0, false
	}
	return -b / a, true
}
