package nested

import (
	"context"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/copyleftdev/latticeopt/internal/optimization"
	"github.com/copyleftdev/latticeopt/internal/optimization/termination"
)

// Powell is Powell's conjugate direction method with Brent line searches.
// It needs no gradients. One generation is one sweep over the direction
// set followed by an optional extrapolation step.
type Powell struct {
	base
}

// NewPowell returns a Powell solver for a dim-dimensional problem.
func NewPowell(dim int, opts ...Option) *Powell {
	return &Powell{base: newBase(dim, opts)}
}

// PowellFactory returns a factory creating Powell solvers.
func PowellFactory(opts ...Option) optimization.NestedSolverFactory {
	return func(dim int) optimization.NestedSolver {
		return NewPowell(dim, opts...)
	}
}

// Solve minimises objective until criterion stops it or a budget runs out.
func (p *Powell) Solve(ctx context.Context, objective optimization.ObjectiveFunction, criterion termination.Criterion) error {
	x, err := p.prepare(objective, criterion != nil)
	if err != nil {
		return err
	}
	n := p.dim
	maxIter := p.maxIterations
	if maxIter <= 0 {
		maxIter = 1000 * n
	}

	e := &evaluator{
		ctx:       ctx,
		objective: objective,
		lower:     p.lower,
		upper:     p.upper,
		limit:     p.maxEvaluations,
	}
	along := func(origin, dir []float64) func(float64) float64 {
		pt := make([]float64, n)
		return func(t float64) float64 {
			floats.AddScaledTo(pt, origin, t, dir)
			return e.eval(pt)
		}
	}
	step := func(origin, dir []float64, t float64) []float64 {
		pt := floats.AddScaledTo(make([]float64, n), origin, t, dir)
		return clampInto(pt, pt, p.lower, p.upper)
	}

	fval := e.eval(x)
	if err := e.failure(); err != nil {
		p.finish("powell", x, fval, e.reasonFor(err), 0, e.evaluations())
		return err
	}

	direc := make([][]float64, n)
	for i := range direc {
		direc[i] = make([]float64, n)
		direc[i][i] = 1
	}
	history := []float64{fval}
	p.observe(0, x, fval)

	x1 := append([]float64(nil), x...)
	iter := 0
	reason := optimization.NotTerminated
	for {
		fx := fval
		big := 0
		delta := 0.0
		for i, d := range direc {
			fx2 := fval
			t, _ := brent(along(x, d))
			xn := step(x, d, t)
			fn := e.eval(xn)
			if err := e.failure(); err != nil {
				p.finish("powell", x, fval, e.reasonFor(err), iter, e.evaluations())
				return err
			}
			if fn <= fval {
				x, fval = xn, fn
			}
			if fx2-fval > delta {
				delta = fx2 - fval
				big = i
			}
		}
		iter++
		history = append(history, fval)
		p.observe(iter, x, fval)

		if criterion.ShouldStop(history) {
			reason = optimization.Converged
			break
		}
		if iter >= maxIter {
			reason = optimization.MaxIterationsReached
			break
		}
		if e.budgetSpent() {
			reason = optimization.MaxEvaluationsReached
			break
		}

		// Extrapolate along the net displacement of this generation and
		// replace the direction of largest decrease if it pays off.
		d := floats.SubTo(make([]float64, n), x, x1)
		x2 := make([]float64, n)
		for i := range x2 {
			x2[i] = 2*x[i] - x1[i]
		}
		clampInto(x2, x2, p.lower, p.upper)
		copy(x1, x)
		fx2 := e.eval(x2)
		if err := e.failure(); err != nil {
			p.finish("powell", x, fval, e.reasonFor(err), iter, e.evaluations())
			return err
		}
		if !(fx > fx2) {
			continue
		}
		t := 2 * (fx + fx2 - 2*fval)
		temp := fx - fval - delta
		t *= temp * temp
		temp = fx - fx2
		t -= delta * temp * temp
		if !(t < 0) || floats.Norm(d, math.Inf(1)) == 0 {
			continue
		}
		s, _ := brent(along(x, d))
		xn := step(x, d, s)
		fn := e.eval(xn)
		if err := e.failure(); err != nil {
			p.finish("powell", x, fval, e.reasonFor(err), iter, e.evaluations())
			return err
		}
		if fn <= fval {
			direc[big] = direc[n-1]
			direc[n-1] = floats.SubTo(make([]float64, n), xn, x)
			x, fval = xn, fn
		}
	}

	p.finish("powell", x, fval, reason, iter, e.evaluations())
	return nil
}
