// Package termination provides stopping rules for nested solvers.
//
// A Criterion is stateful: it must be fed one generation at a time and
// must never be shared between concurrent solves. Solvers are handed a
// Factory so that every cell gets a fresh instance.
package termination

import (
	"fmt"
	"math"
)

// Criterion decides when a solver should stop iterating.
type Criterion interface {
	// ShouldStop is called once per generation with the best cost of
	// every generation so far. history[0] is the cost at the start point.
	ShouldStop(history []float64) bool
}

// Factory creates a fresh Criterion.
type Factory func() Criterion

// normTiny keeps the normalized change finite when both costs are zero.
const normTiny = 1e-20

// NormalizedChangeOverGeneration stops once the relative change of the
// best cost stays at or below Tolerance for Generations consecutive
// generations.
type NormalizedChangeOverGeneration struct {
	Tolerance   float64
	Generations int

	streak int
	seen   int
}

// NewNormalizedChangeOverGeneration returns a fresh criterion. Generations
// below one are treated as one.
func NewNormalizedChangeOverGeneration(tolerance float64, generations int) *NormalizedChangeOverGeneration {
	if generations < 1 {
		generations = 1
	}
	return &NormalizedChangeOverGeneration{Tolerance: tolerance, Generations: generations}
}

// ShouldStop implements Criterion.
func (c *NormalizedChangeOverGeneration) ShouldStop(history []float64) bool {
	return c.observe(history, func(prev, cur float64) float64 {
		return 2 * math.Abs(prev-cur) / (math.Abs(prev) + math.Abs(cur) + normTiny)
	})
}

// observe advances the streak with the change computed by delta.
func (c *NormalizedChangeOverGeneration) observe(history []float64, delta func(prev, cur float64) float64) bool {
	n := len(history)
	if n <= c.seen {
		// A new run reused this instance; start over.
		c.streak = 0
	}
	c.seen = n
	if n < 2 {
		return false
	}
	if d := delta(history[n-2], history[n-1]); d <= c.Tolerance {
		c.streak++
	} else {
		c.streak = 0
	}
	return c.streak >= c.Generations
}

// Reset clears the convergence history.
func (c *NormalizedChangeOverGeneration) Reset() {
	c.streak = 0
	c.seen = 0
}

func (c *NormalizedChangeOverGeneration) String() string {
	return fmt.Sprintf("NormalizedChangeOverGeneration(tolerance=%g, generations=%d)", c.Tolerance, c.Generations)
}

// ChangeOverGeneration stops once the absolute change of the best cost
// stays at or below Tolerance for Generations consecutive generations.
type ChangeOverGeneration struct {
	NormalizedChangeOverGeneration
}

// NewChangeOverGeneration returns a fresh criterion.
func NewChangeOverGeneration(tolerance float64, generations int) *ChangeOverGeneration {
	return &ChangeOverGeneration{*NewNormalizedChangeOverGeneration(tolerance, generations)}
}

// ShouldStop implements Criterion.
func (c *ChangeOverGeneration) ShouldStop(history []float64) bool {
	return c.observe(history, func(prev, cur float64) float64 {
		return math.Abs(prev - cur)
	})
}

func (c *ChangeOverGeneration) String() string {
	return fmt.Sprintf("ChangeOverGeneration(tolerance=%g, generations=%d)", c.Tolerance, c.Generations)
}

// VTR stops once the best cost reaches Target.
type VTR struct {
	Target float64
}

// ShouldStop implements Criterion.
func (c VTR) ShouldStop(history []float64) bool {
	return len(history) > 0 && history[len(history)-1] <= c.Target
}

func (c VTR) String() string {
	return fmt.Sprintf("VTR(target=%g)", c.Target)
}

// Or stops as soon as any of its criteria does. Every criterion is
// consulted on every generation so each keeps an accurate streak.
type Or []Criterion

// ShouldStop implements Criterion.
func (o Or) ShouldStop(history []float64) bool {
	stop := false
	for _, c := range o {
		if c.ShouldStop(history) {
			stop = true
		}
	}
	return stop
}

// NCOG returns a factory of NormalizedChangeOverGeneration criteria.
func NCOG(tolerance float64, generations int) Factory {
	return func() Criterion {
		return NewNormalizedChangeOverGeneration(tolerance, generations)
	}
}

// COG returns a factory of ChangeOverGeneration criteria.
func COG(tolerance float64, generations int) Factory {
	return func() Criterion {
		return NewChangeOverGeneration(tolerance, generations)
	}
}

// VTRFactory returns a factory of VTR criteria.
func VTRFactory(target float64) Factory {
	return func() Criterion {
		return VTR{Target: target}
	}
}

// OrFactory combines factories; each call builds fresh members.
func OrFactory(factories ...Factory) Factory {
	return func() Criterion {
		o := make(Or, 0, len(factories))
		for _, f := range factories {
			o = append(o, f())
		}
		return o
	}
}
