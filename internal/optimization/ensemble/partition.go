package ensemble

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/copyleftdev/latticeopt/internal/optimization"
)

const component = "ensemble"

// SearchSpace is an axis-aligned box [Lower[i], Upper[i]].
type SearchSpace struct {
	Lower []float64 `json:"lower" yaml:"lower"`
	Upper []float64 `json:"upper" yaml:"upper"`
}

// NewSearchSpace copies and validates the given bounds.
func NewSearchSpace(lower, upper []float64) (SearchSpace, error) {
	s := SearchSpace{
		Lower: append([]float64(nil), lower...),
		Upper: append([]float64(nil), upper...),
	}
	return s, s.Validate()
}

// SearchSpaceFromBounds converts [min, max] pairs into a SearchSpace.
func SearchSpaceFromBounds(bounds [][2]float64) (SearchSpace, error) {
	lower := make([]float64, len(bounds))
	upper := make([]float64, len(bounds))
	for i, b := range bounds {
		lower[i], upper[i] = b[0], b[1]
	}
	return NewSearchSpace(lower, upper)
}

// Dim returns the number of dimensions.
func (s SearchSpace) Dim() int {
	return len(s.Lower)
}

// Validate checks that the space is non-empty, finite and not inverted.
func (s SearchSpace) Validate() error {
	if len(s.Lower) == 0 {
		return optimization.ConfigurationErrorf(component, "search space has no dimensions")
	}
	if len(s.Lower) != len(s.Upper) {
		return optimization.ConfigurationErrorf(component, "bounds length mismatch: %d lower, %d upper", len(s.Lower), len(s.Upper))
	}
	for i := range s.Lower {
		lo, hi := s.Lower[i], s.Upper[i]
		if math.IsNaN(lo) || math.IsNaN(hi) || math.IsInf(lo, 0) || math.IsInf(hi, 0) {
			return optimization.ConfigurationErrorf(component, "bounds of dimension %d are not finite: [%g, %g]", i, lo, hi)
		}
		if lo > hi {
			return optimization.ConfigurationErrorf(component, "bounds of dimension %d are inverted: [%g, %g]", i, lo, hi)
		}
	}
	return nil
}

// Center returns the geometric centre of the space.
func (s SearchSpace) Center() []float64 {
	c := make([]float64, len(s.Lower))
	for i := range c {
		c[i] = s.Lower[i]/2 + s.Upper[i]/2
	}
	return c
}

// Contains reports whether x lies in the closed box.
func (s SearchSpace) Contains(x []float64) bool {
	if len(x) != len(s.Lower) {
		return false
	}
	for i, v := range x {
		if v < s.Lower[i] || v > s.Upper[i] {
			return false
		}
	}
	return true
}

// Clamp returns a copy of x moved into the box.
func (s SearchSpace) Clamp(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = math.Max(s.Lower[i], math.Min(v, s.Upper[i]))
	}
	return out
}

// BinSpec gives the number of bins along each dimension. A single entry
// is broadcast to every dimension.
type BinSpec []int

// Uniform returns a spec with n bins on every dimension.
func Uniform(n int) BinSpec {
	return BinSpec{n}
}

// Resolve broadcasts and validates the spec for a space of dimension dim.
func (b BinSpec) Resolve(dim int) (BinSpec, error) {
	var out BinSpec
	switch {
	case len(b) == 1:
		out = make(BinSpec, dim)
		for i := range out {
			out[i] = b[0]
		}
	case len(b) == dim:
		out = append(BinSpec(nil), b...)
	default:
		return nil, optimization.ConfigurationErrorf(component, "bin spec has %d entries for %d dimensions", len(b), dim)
	}
	for i, n := range out {
		if n < 1 {
			return nil, optimization.ConfigurationErrorf(component, "dimension %d has %d bins, need at least 1", i, n)
		}
	}
	if _, err := out.Cells(); err != nil {
		return nil, err
	}
	return out, nil
}

// Cells returns the product of the bin counts, failing on overflow.
func (b BinSpec) Cells() (int, error) {
	total := uint64(1)
	for _, n := range b {
		hi, lo := bits.Mul64(total, uint64(n))
		if hi != 0 || lo > math.MaxInt {
			return 0, optimization.ConfigurationErrorf(component, "bin spec %v yields too many cells", []int(b))
		}
		total = lo
	}
	return int(total), nil
}

// Cell is one sub-box of a partitioned search space.
type Cell struct {
	// Ordinal is the position in row-major enumeration order.
	Ordinal int `json:"ordinal"`
	// Index holds one bin coordinate per dimension.
	Index []int `json:"index"`
	// Bounds is the closed sub-box; adjacent cells share faces.
	Bounds SearchSpace `json:"bounds"`

	final []bool
}

// Contains reports membership under the lattice's closed-open rule: each
// interval excludes its upper edge unless it is the last one on that axis.
// Every point of the parent space belongs to exactly one cell.
func (c Cell) Contains(x []float64) bool {
	if len(x) != c.Bounds.Dim() {
		return false
	}
	for i, v := range x {
		if v < c.Bounds.Lower[i] || v > c.Bounds.Upper[i] {
			return false
		}
		if v == c.Bounds.Upper[i] && !c.isFinal(i) {
			return false
		}
	}
	return true
}

func (c Cell) isFinal(i int) bool {
	return i < len(c.final) && c.final[i]
}

func (c Cell) String() string {
	return fmt.Sprintf("cell%v", c.Index)
}

// edges returns b+1 boundaries of [lo, hi] split into b equal bins. The
// end edges are lo and hi themselves so the bins reconstruct the interval
// exactly. Interior edges interpolate without forming hi-lo, which
// overflows for bounds near the extremes of float64.
func edges(lo, hi float64, b int) []float64 {
	e := make([]float64, b+1)
	e[0], e[b] = lo, hi
	for j := 1; j < b; j++ {
		t := float64(j) / float64(b)
		v := lo*(1-t) + hi*t
		e[j] = math.Min(math.Max(v, e[j-1]), hi)
	}
	return e
}

// Partition splits space into a lattice of cells. Cells are returned in
// row-major order: the last dimension varies fastest.
func Partition(space SearchSpace, bins BinSpec) ([]Cell, error) {
	if err := space.Validate(); err != nil {
		return nil, err
	}
	dim := space.Dim()
	resolved, err := bins.Resolve(dim)
	if err != nil {
		return nil, err
	}
	total, _ := resolved.Cells()

	axes := make([][]float64, dim)
	for i := range axes {
		axes[i] = edges(space.Lower[i], space.Upper[i], resolved[i])
	}

	cells := make([]Cell, 0, total)
	index := make([]int, dim)
	for ordinal := 0; ordinal < total; ordinal++ {
		c := Cell{
			Ordinal: ordinal,
			Index:   append([]int(nil), index...),
			Bounds: SearchSpace{
				Lower: make([]float64, dim),
				Upper: make([]float64, dim),
			},
			final: make([]bool, dim),
		}
		for i, j := range index {
			c.Bounds.Lower[i] = axes[i][j]
			c.Bounds.Upper[i] = axes[i][j+1]
			c.final[i] = j == resolved[i]-1
		}
		cells = append(cells, c)

		// Advance the odometer, last dimension first.
		for i := dim - 1; i >= 0; i-- {
			index[i]++
			if index[i] < resolved[i] {
				break
			}
			index[i] = 0
		}
	}
	return cells, nil
}
