package models

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/latticeopt/internal/optimization"
)

// vandermonde builds the design matrix for a polynomial of the given
// degree, highest power first, matching Poly1D.
func vandermonde(xs []float64, degree int) *mat.Dense {
	v := mat.NewDense(len(xs), degree+1, nil)
	for i, x := range xs {
		p := 1.0
		for j := degree; j >= 0; j-- {
			v.Set(i, j, p)
			p *= x
		}
	}
	return v
}

func checkFitData(xs, ys []float64, degree int) error {
	switch {
	case degree < 0:
		return fmt.Errorf("degree must not be negative, got %d", degree)
	case len(xs) != len(ys):
		return fmt.Errorf("have %d x values and %d y values", len(xs), len(ys))
	case len(xs) < degree+1:
		return fmt.Errorf("degree %d needs at least %d samples, got %d", degree, degree+1, len(xs))
	}
	return nil
}

// PolyFitCost returns the sum of squared residuals of a degree-polynomial
// through the samples (xs, ys). The returned objective takes degree+1
// coefficients, highest power first.
func PolyFitCost(xs, ys []float64, degree int) (optimization.ObjectiveFunction, error) {
	if err := checkFitData(xs, ys, degree); err != nil {
		return nil, err
	}
	v := vandermonde(xs, degree)
	y := mat.NewVecDense(len(ys), append([]float64(nil), ys...))
	return func(c []float64) (float64, error) {
		if len(c) != degree+1 {
			return 0, fmt.Errorf("polynomial of degree %d takes %d coefficients, got %d", degree, degree+1, len(c))
		}
		var r mat.VecDense
		r.MulVec(v, mat.NewVecDense(len(c), append([]float64(nil), c...)))
		r.SubVec(&r, y)
		return mat.Dot(&r, &r), nil
	}, nil
}

// PolyFit returns the least-squares polynomial coefficients, highest power
// first, through the samples.
func PolyFit(xs, ys []float64, degree int) ([]float64, error) {
	if err := checkFitData(xs, ys, degree); err != nil {
		return nil, err
	}
	var qr mat.QR
	qr.Factorize(vandermonde(xs, degree))
	var c mat.VecDense
	if err := qr.SolveVecTo(&c, false, mat.NewVecDense(len(ys), append([]float64(nil), ys...))); err != nil {
		return nil, fmt.Errorf("solving least squares: %w", err)
	}
	return append([]float64(nil), c.RawVector().Data...), nil
}
