package ensemble

import "github.com/copyleftdev/latticeopt/internal/optimization"

// NewLatticeSolver returns a solver that partitions the strict ranges into
// a lattice of cells with the given bins.
func NewLatticeSolver(dim int, bins BinSpec) *Solver {
	s := newSolver(dim, Lattice)
	s.bins = append(BinSpec(nil), bins...)
	return s
}

func (s *Solver) latticeTasks(space SearchSpace) ([]Task, error) {
	resolved, err := s.bins.Resolve(s.dim)
	if err != nil {
		return nil, err
	}
	total, err := resolved.Cells()
	if err != nil {
		return nil, err
	}
	if s.maxCells > 0 && total > s.maxCells {
		return nil, optimization.ConfigurationErrorf(component, "bin spec %v yields %d cells, limit is %d", []int(resolved), total, s.maxCells)
	}

	cells, err := Partition(space, resolved)
	if err != nil {
		return nil, err
	}
	tasks := make([]Task, len(cells))
	for i, c := range cells {
		tasks[i] = Task{Cell: c}
		if s.start != nil {
			tasks[i].Start = s.start(c)
		}
	}
	return tasks, nil
}
