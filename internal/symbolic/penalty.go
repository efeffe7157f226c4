package symbolic

import (
	"math"

	"github.com/copyleftdev/latticeopt/internal/optimization"
)

// Penalty is a quadratic penalty over a constraint set:
//
//	k * sum(v_i(x)^2)
//
// where v_i is max(0, -g_i) for ">=", max(0, g_i) for "<=" and |g_i| for
// "==". Violations up to the tolerance count as zero.
type Penalty struct {
	conditions ConstraintSet
	k          float64
	tolerance  float64
	arity      int
}

// NewPenalty builds a penalty from parsed conditions.
func NewPenalty(conditions ConstraintSet, k float64, opts ...Option) (*Penalty, error) {
	if k <= 0 || math.IsInf(k, 0) || math.IsNaN(k) {
		return nil, optimization.ConfigurationErrorf(component, "penalty multiplier must be positive and finite, got %g", k)
	}
	o := buildOptions(opts)
	if o.tolerance < 0 || math.IsNaN(o.tolerance) {
		return nil, optimization.ConfigurationErrorf(component, "tolerance must be non-negative, got %g", o.tolerance)
	}
	return &Penalty{
		conditions: append(ConstraintSet(nil), conditions...),
		k:          k,
		tolerance:  o.tolerance,
		arity:      conditions.Arity(),
	}, nil
}

// CompilePenalty parses text and builds its penalty with multiplier k.
func CompilePenalty(text string, k float64, opts ...Option) (*Penalty, error) {
	conditions, err := Parse(text, opts...)
	if err != nil {
		return nil, err
	}
	return NewPenalty(conditions, k, opts...)
}

// Conditions returns the conditions the penalty is built from.
func (p *Penalty) Conditions() ConstraintSet {
	return append(ConstraintSet(nil), p.conditions...)
}

// Multiplier returns k.
func (p *Penalty) Multiplier() float64 {
	return p.k
}

// Evaluate returns the penalty at x. A vector shorter than the highest
// referenced parameter yields +Inf.
func (p *Penalty) Evaluate(x []float64) float64 {
	if len(x) < p.arity {
		return math.Inf(1)
	}
	sum := 0.0
	for _, c := range p.conditions {
		v := c.violation(x)
		if v <= p.tolerance {
			continue
		}
		sum += v * v
	}
	return p.k * sum
}

// Satisfied reports whether every condition holds at x within the
// tolerance.
func (p *Penalty) Satisfied(x []float64) bool {
	if len(x) < p.arity {
		return false
	}
	for _, c := range p.conditions {
		if !(c.violation(x) <= p.tolerance) {
			return false
		}
	}
	return true
}

// Violations returns the violation of each condition at x, in order.
func (p *Penalty) Violations(x []float64) []float64 {
	out := make([]float64, len(p.conditions))
	for i, c := range p.conditions {
		out[i] = c.violation(x)
	}
	return out
}

// Apply returns objective(x) + Evaluate(x).
func (p *Penalty) Apply(objective optimization.ObjectiveFunction) optimization.ObjectiveFunction {
	return func(x []float64) (float64, error) {
		cost, err := objective(x)
		if err != nil {
			return 0, err
		}
		return cost + p.Evaluate(x), nil
	}
}
