package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/copyleftdev/latticeopt/internal/problem"
)

// report is the printed result of a solve. Non-finite numbers print as
// null.
type report struct {
	Name         string     `yaml:"name,omitempty" json:"name,omitempty"`
	Strategy     string     `yaml:"strategy" json:"strategy"`
	Solver       string     `yaml:"solver" json:"solver"`
	Cells        int        `yaml:"cells" json:"cells"`
	Cell         []int      `yaml:"cell,flow" json:"cell"`
	Parameters   []float64  `yaml:"parameters,flow" json:"parameters"`
	Cost         *float64   `yaml:"cost" json:"cost"`
	Reason       string     `yaml:"reason" json:"reason"`
	Iterations   int        `yaml:"iterations" json:"iterations"`
	Evaluations  int        `yaml:"evaluations" json:"evaluations"`
	Feasible     bool       `yaml:"feasible" json:"feasible"`
	Violations   []*float64 `yaml:"violations,omitempty,flow" json:"violations,omitempty"`
	KnownMinimum *float64   `yaml:"known_minimum,omitempty" json:"known_minimum,omitempty"`
	Elapsed      string     `yaml:"elapsed" json:"elapsed"`

	// Set by the chebyshev command.
	Target       []float64 `yaml:"target,omitempty,flow" json:"target,omitempty"`
	MaxDeviation *float64  `yaml:"max_deviation,omitempty" json:"max_deviation,omitempty"`
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func newReport(p *problem.Problem, out problem.Outcome, elapsed time.Duration) report {
	r := out.Best.Result
	rep := report{
		Name:         p.Definition.Name,
		Strategy:     string(p.Solver.Strategy()),
		Solver:       p.Definition.Solver,
		Cells:        out.Cells,
		Cell:         out.Best.Cell.Index,
		Parameters:   r.Parameters,
		Cost:         finite(r.Cost),
		Reason:       r.Reason.String(),
		Iterations:   r.Iterations,
		Evaluations:  r.Evaluations,
		Feasible:     out.Feasible,
		KnownMinimum: p.Minimum,
		Elapsed:      elapsed.Round(time.Millisecond).String(),
	}
	for _, v := range out.Violation {
		rep.Violations = append(rep.Violations, finite(v))
	}
	return rep
}

func writeReport(w io.Writer, format string, rep report) error {
	switch strings.ToLower(format) {
	case "", "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rep); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	return fmt.Errorf("unknown output format %q", format)
}
