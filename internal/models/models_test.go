package models

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoly1D(t *testing.T) {
	tests := []struct {
		name string
		c    []float64
		x    float64
		want float64
	}{
		{"empty", nil, 3, 0},
		{"constant", []float64{4}, 10, 4},
		{"quadratic", []float64{2, -1, 0.5}, 3, 15.5},
		{"T8 at one", Chebyshev8Coeffs, 1, 1},
		{"T8 at zero", Chebyshev8Coeffs, 0, 1},
		{"T8 at cos(pi/8)", Chebyshev8Coeffs, math.Cos(math.Pi / 8), -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Poly1D(tt.c, tt.x), 1e-9)
		})
	}
}

func TestChebyshev8CostAtExactCoefficients(t *testing.T) {
	cost, err := Chebyshev8Cost(Chebyshev8Coeffs)
	require.NoError(t, err)
	assert.InDelta(t, 0, cost, 1e-20)
}

func TestChebyshev8CostPenalisesDeviations(t *testing.T) {
	shifted := append([]float64(nil), Chebyshev8Coeffs...)
	shifted[8] += 1
	cost, err := Chebyshev8Cost(shifted)
	require.NoError(t, err)
	assert.Greater(t, cost, 1.0)

	// Leading coefficient too small: falls below T8 at +-1.2.
	low := append([]float64(nil), Chebyshev8Coeffs...)
	low[0] = 100
	cost, err = Chebyshev8Cost(low)
	require.NoError(t, err)
	assert.Greater(t, cost, 0.0)

	zero, err := Chebyshev8Cost(make([]float64, 9))
	require.NoError(t, err)
	d := Poly1D(Chebyshev8Coeffs, 1.2)
	assert.InDelta(t, 2*d*d, zero, 1e-6)
}

func TestG06(t *testing.T) {
	v, err := G06(G06Solution)
	require.NoError(t, err)
	assert.InDelta(t, -6961.813874716399, v, 1e-9)
	assert.InDelta(t, G06Minimum, v, 1e-3)

	_, err = G06([]float64{1})
	assert.Error(t, err)
}

func TestSphereAndRosenbrock(t *testing.T) {
	v, err := Sphere([]float64{1, -2, 3})
	require.NoError(t, err)
	assert.Equal(t, 14.0, v)

	v, err = Rosenbrock([]float64{1, 1, 1, 1})
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)

	v, err = Rosenbrock([]float64{0, 0})
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	_, err = Rosenbrock([]float64{1})
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{"chebyshev8", "g06", "rosenbrock", "sphere"}, Names())

	m, ok := Lookup("g06")
	require.True(t, ok)
	assert.Equal(t, 2, m.Dim)
	assert.NotEmpty(t, m.Constraints)

	lower, upper, err := m.Bounds(2)
	require.NoError(t, err)
	assert.Equal(t, []float64{13, 0}, lower)
	assert.Equal(t, []float64{100, 100}, upper)

	_, _, err = m.Bounds(3)
	assert.Error(t, err)

	sphere, ok := Lookup("sphere")
	require.True(t, ok)
	lower, upper, err = sphere.Bounds(3)
	require.NoError(t, err)
	assert.Equal(t, []float64{-5.12, -5.12, -5.12}, lower)
	assert.Equal(t, []float64{5.12, 5.12, 5.12}, upper)

	_, ok = Lookup("nope")
	assert.False(t, ok)
}

func TestPolyFit(t *testing.T) {
	want := []float64{2, -1, 0.5}
	xs := []float64{-2, -1, -0.5, 0, 0.5, 1, 2, 3}
	ys := make([]float64, len(xs))
	for i, x := range xs {
		ys[i] = Poly1D(want, x)
	}

	got, err := PolyFit(xs, ys, 2)
	require.NoError(t, err)
	assert.InDeltaSlice(t, want, got, 1e-9)

	cost, err := PolyFitCost(xs, ys, 2)
	require.NoError(t, err)
	v, err := cost(want)
	require.NoError(t, err)
	assert.InDelta(t, 0, v, 1e-18)

	v, err = cost([]float64{2, -1, 1.5})
	require.NoError(t, err)
	assert.InDelta(t, float64(len(xs)), v, 1e-9)

	_, err = cost([]float64{1, 2})
	assert.Error(t, err)
}

func TestPolyFitRejectsBadData(t *testing.T) {
	_, err := PolyFit([]float64{1, 2}, []float64{1}, 1)
	assert.Error(t, err)
	_, err = PolyFit([]float64{1, 2}, []float64{1, 2}, 2)
	assert.Error(t, err)
	_, err = PolyFitCost([]float64{1}, []float64{1}, -1)
	assert.Error(t, err)
}
