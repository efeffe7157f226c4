package ensemble

import (
	"math/rand"

	"github.com/copyleftdev/latticeopt/internal/optimization"
)

// NewBuckshotSolver returns a solver that starts npts nested solves from
// random points of the full strict ranges. The points are drawn from the
// seed set with SetSeed.
func NewBuckshotSolver(dim, npts int) *Solver {
	s := newSolver(dim, Buckshot)
	s.npts = npts
	return s
}

// buckshotTasks draws every start point up front from one seeded source,
// so the points do not depend on the mapper. Each task's cell is the whole
// space.
func (s *Solver) buckshotTasks(space SearchSpace) ([]Task, error) {
	if s.npts < 1 {
		return nil, optimization.ConfigurationErrorf(component, "buckshot needs at least one point, got %d", s.npts)
	}
	if s.maxCells > 0 && s.npts > s.maxCells {
		return nil, optimization.ConfigurationErrorf(component, "%d buckshot points exceed the limit of %d", s.npts, s.maxCells)
	}

	rng := rand.New(rand.NewSource(s.seed))
	final := make([]bool, s.dim)
	for i := range final {
		final[i] = true
	}
	tasks := make([]Task, s.npts)
	for i := range tasks {
		tasks[i] = Task{
			Cell: Cell{
				Ordinal: i,
				Index:   []int{i},
				Bounds:  space,
				final:   final,
			},
			Start: uniformPoint(rng, space),
		}
	}
	return tasks, nil
}
