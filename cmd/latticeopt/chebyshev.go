package main

import (
	"math"

	"github.com/spf13/cobra"

	"github.com/copyleftdev/latticeopt/internal/models"
	"github.com/copyleftdev/latticeopt/internal/problem"
)

type chebyshevFlags struct {
	overrides
	tolerance      float64
	generations    int
	maxIterations  int
	maxEvaluations int
}

// newChebyshevCmd fits the coefficients of the 8th-order Chebyshev
// polynomial over [-300, 300]^9 and compares the fit with the target on
// [-1, 1].
func newChebyshevCmd(g *globals) *cobra.Command {
	f := &chebyshevFlags{}
	cmd := &cobra.Command{
		Use:   "chebyshev",
		Short: "Fit the 8th-order Chebyshev polynomial with a 9-dimensional lattice",
		Long: `Fit the nine coefficients of the 8th-order Chebyshev polynomial.

By default 8 cells are distributed over the nine axes. --bins 8 asks for
8 bins on every axis instead; that layout has 8^9 cells and needs
--max-cells to match.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			def := problem.Definition{
				Name:           "chebyshev8",
				Model:          "chebyshev8",
				TotalBins:      8,
				Solver:         "powell",
				MaxIterations:  f.maxIterations,
				MaxEvaluations: f.maxEvaluations,
				Termination: problem.Termination{
					Kind:        "ncog",
					Tolerance:   f.tolerance,
					Generations: f.generations,
				},
			}
			f.apply(cmd, &def)
			def.ApplyDefaults(g.cfg.Lattice)

			rep, err := solve(cmd, g, def, f.options(g))
			if err != nil {
				return err
			}
			rep.Target = models.Chebyshev8Coeffs
			rep.MaxDeviation = finite(maxDeviation(rep.Parameters, models.Chebyshev8Coeffs, 61))
			return writeReport(cmd.OutOrStdout(), g.output, rep)
		},
	}
	f.register(cmd)
	cmd.Flags().Float64Var(&f.tolerance, "tolerance", 1e-4, "Normalized change over generations that stops a cell")
	cmd.Flags().IntVar(&f.generations, "generations", 30, "Generations the change must stay below tolerance")
	cmd.Flags().IntVar(&f.maxIterations, "max-iterations", 0, "Iteration budget per cell (0 uses 1000 per dimension)")
	cmd.Flags().IntVar(&f.maxEvaluations, "max-evaluations", 0, "Evaluation budget per cell (0 is unbounded)")
	return cmd
}

// maxDeviation is the largest difference between the two polynomials over
// n evenly spaced samples of [-1, 1].
func maxDeviation(got, want []float64, n int) float64 {
	if len(got) != len(want) {
		return math.Inf(1)
	}
	worst := 0.0
	for i := 0; i < n; i++ {
		x := -1 + 2*float64(i)/float64(n-1)
		worst = math.Max(worst, math.Abs(models.Poly1D(got, x)-models.Poly1D(want, x)))
	}
	return worst
}
