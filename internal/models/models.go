// Package models holds reference cost functions for the lattice solver:
// the Chebyshev-8 coefficient fit, the g06 constrained benchmark, and a few
// unconstrained test functions.
package models

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/optimize/functions"

	"github.com/copyleftdev/latticeopt/internal/optimization"
)

// Chebyshev8Coeffs are the coefficients of the 8th-order Chebyshev
// polynomial T8, highest power first.
var Chebyshev8Coeffs = []float64{128, 0, -256, 0, 160, 0, -32, 0, 1}

// Poly1D evaluates the polynomial with coefficients c (highest power
// first) at x.
func Poly1D(c []float64, x float64) float64 {
	y := 0.0
	for _, v := range c {
		y = y*x + v
	}
	return y
}

// ChebyshevCost returns the Storn-Price Chebyshev fitting cost for target.
// A trial polynomial is charged for every one of m samples on [-1, 1]
// where it leaves the band [-1, 1], and for falling below target at
// x = +-1.2.
func ChebyshevCost(target []float64, m int) optimization.ObjectiveFunction {
	if m < 2 {
		m = 2
	}
	dx := 2.0 / float64(m-1)
	hi := Poly1D(target, 1.2)
	lo := Poly1D(target, -1.2)
	return func(trial []float64) (float64, error) {
		cost := 0.0
		x := -1.0
		for i := 0; i < m; i++ {
			px := Poly1D(trial, x)
			if px < -1 || px > 1 {
				cost += (1 - px) * (1 - px)
			}
			x += dx
		}
		if d := Poly1D(trial, 1.2) - hi; d < 0 {
			cost += d * d
		}
		if d := Poly1D(trial, -1.2) - lo; d < 0 {
			cost += d * d
		}
		return cost, nil
	}
}

// Chebyshev8Cost is ChebyshevCost for T8 sampled at 61 points.
var Chebyshev8Cost = ChebyshevCost(Chebyshev8Coeffs, 61)

// G06Constraints are the two circle constraints of the g06 benchmark.
const G06Constraints = `(x0 - 5)**2 + (x1 - 5)**2 - 100 >= 0
(x0 - 6)**2 + (x1 - 5)**2 - 82.81 <= 0`

// G06Minimum is the best known cost of g06, attained near G06Solution.
const G06Minimum = -6961.81387558015

// G06Solution is the best known g06 point.
var G06Solution = []float64{14.095, 0.84296079}

// G06 is the unconstrained g06 objective (x0-10)^3 + (x1-20)^3. Combine
// it with G06Constraints as a penalty.
func G06(x []float64) (float64, error) {
	if len(x) != 2 {
		return 0, fmt.Errorf("g06 takes 2 parameters, got %d", len(x))
	}
	return math.Pow(x[0]-10, 3) + math.Pow(x[1]-20, 3), nil
}

// Sphere is the sum of squares.
func Sphere(x []float64) (float64, error) {
	sum := 0.0
	for _, v := range x {
		sum += v * v
	}
	return sum, nil
}

// Rosenbrock is the extended Rosenbrock function, minimal at all ones.
func Rosenbrock(x []float64) (float64, error) {
	if len(x) < 2 {
		return 0, fmt.Errorf("rosenbrock needs at least 2 parameters, got %d", len(x))
	}
	return functions.ExtendedRosenbrock{}.Func(x), nil
}

// Model is a named reference problem.
type Model struct {
	Name      string
	Objective optimization.ObjectiveFunction
	// Dim is the fixed dimension, or 0 when any dimension works.
	Dim int
	// Lower and Upper are the default bounds per axis. A single element
	// is broadcast.
	Lower, Upper []float64
	// Constraints is constraint text to compile into a penalty.
	Constraints string
	// Penalty is the multiplier suited to Constraints.
	Penalty float64
	// Tolerance is the constraint violation still counted as met. The
	// published g06 optimum is rounded and misses both circles by about
	// 6.5e-9.
	Tolerance float64
	// Minimum is the best known cost.
	Minimum float64
}

var registry = map[string]Model{
	"chebyshev8": {
		Name:      "chebyshev8",
		Objective: Chebyshev8Cost,
		Dim:       len(Chebyshev8Coeffs),
		Lower:     []float64{-300},
		Upper:     []float64{300},
		Minimum:   0,
	},
	"g06": {
		Name:        "g06",
		Objective:   G06,
		Dim:         2,
		Lower:       []float64{13, 0},
		Upper:       []float64{100, 100},
		Constraints: G06Constraints,
		Penalty:     1e12,
		Tolerance:   1e-8,
		Minimum:     G06Minimum,
	},
	"sphere": {
		Name:      "sphere",
		Objective: Sphere,
		Lower:     []float64{-5.12},
		Upper:     []float64{5.12},
		Minimum:   0,
	},
	"rosenbrock": {
		Name:      "rosenbrock",
		Objective: Rosenbrock,
		Lower:     []float64{-5},
		Upper:     []float64{10},
		Minimum:   0,
	},
}

// Lookup returns the model registered under name.
func Lookup(name string) (Model, bool) {
	m, ok := registry[name]
	return m, ok
}

// Names lists the registered models in alphabetical order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Bounds expands the model's default bounds to dim axes.
func (m Model) Bounds(dim int) (lower, upper []float64, err error) {
	if m.Dim != 0 && dim != m.Dim {
		return nil, nil, fmt.Errorf("model %s has dimension %d, got %d", m.Name, m.Dim, dim)
	}
	expand := func(b []float64) ([]float64, error) {
		switch len(b) {
		case 1:
			out := make([]float64, dim)
			for i := range out {
				out[i] = b[0]
			}
			return out, nil
		case dim:
			return append([]float64(nil), b...), nil
		}
		return nil, fmt.Errorf("model %s bounds have %d entries for dimension %d", m.Name, len(b), dim)
	}
	if lower, err = expand(m.Lower); err != nil {
		return nil, nil, err
	}
	if upper, err = expand(m.Upper); err != nil {
		return nil, nil, err
	}
	return lower, upper, nil
}
