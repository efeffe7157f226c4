package ensemble

import (
	"math/rand"

	"github.com/copyleftdev/latticeopt/internal/optimization"
)

// DistributeBins spreads a total cell count over dim dimensions: total is
// factored into primes and the factors are assigned to randomly chosen
// axes, merging factors when there are more of them than axes. The product
// of the returned spec is exactly total. The same rng seed always yields
// the same spec.
func DistributeBins(total, dim int, rng *rand.Rand) (BinSpec, error) {
	if dim < 1 {
		return nil, optimization.ConfigurationErrorf(component, "cannot distribute bins over %d dimensions", dim)
	}
	if total < 1 {
		return nil, optimization.ConfigurationErrorf(component, "total bin count must be at least 1, got %d", total)
	}

	factors := primeFactors(total)
	for len(factors) > dim {
		// Merge two random factors into one.
		i := rng.Intn(len(factors))
		j := rng.Intn(len(factors) - 1)
		if j >= i {
			j++
		}
		factors[i] *= factors[j]
		factors = append(factors[:j], factors[j+1:]...)
	}

	spec := make(BinSpec, dim)
	for i := range spec {
		spec[i] = 1
	}
	for k, axis := range rng.Perm(dim)[:len(factors)] {
		spec[axis] = factors[k]
	}
	return spec, nil
}

func primeFactors(n int) []int {
	var out []int
	for p := 2; p*p <= n; p++ {
		for n%p == 0 {
			out = append(out, p)
			n /= p
		}
	}
	if n > 1 {
		out = append(out, n)
	}
	return out
}
