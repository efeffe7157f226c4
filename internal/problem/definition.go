// Package problem describes optimization problems declaratively and
// assembles them into configured ensemble solvers.
//
// A definition names its objective in one of three ways: a registered
// reference model, an expression over x0, x1, ..., or polynomial fit data.
// Definitions load from YAML files and decode from JSON request bodies.
package problem

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/copyleftdev/latticeopt/internal/config"
	"github.com/copyleftdev/latticeopt/internal/models"
	"github.com/copyleftdev/latticeopt/internal/optimization"
)

const component = "problem"

// Definition is a complete problem description. Zero-valued solver fields
// take the defaults passed to ApplyDefaults.
type Definition struct {
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// Model names a registered reference model.
	Model string `yaml:"model,omitempty" json:"model,omitempty"`
	// Objective is an expression such as "(x0 - 1)**2 + x1**2".
	Objective string `yaml:"objective,omitempty" json:"objective,omitempty"`
	// Fit asks for polynomial coefficients fitting sample data.
	Fit *Fit `yaml:"fit,omitempty" json:"fit,omitempty"`

	Dimension int       `yaml:"dimension,omitempty" json:"dimension,omitempty"`
	Lower     []float64 `yaml:"lower,omitempty" json:"lower,omitempty"`
	Upper     []float64 `yaml:"upper,omitempty" json:"upper,omitempty"`

	// Strategy is "lattice" (default) or "buckshot".
	Strategy string `yaml:"strategy,omitempty" json:"strategy,omitempty"`
	// Bins holds one bin count, broadcast to every axis, or one per axis.
	Bins []int `yaml:"bins,omitempty" json:"bins,omitempty"`
	// TotalBins distributes this many cells randomly over the axes
	// instead of Bins.
	TotalBins int `yaml:"total_bins,omitempty" json:"total_bins,omitempty"`
	// Points is the number of buckshot starts.
	Points   int   `yaml:"points,omitempty" json:"points,omitempty"`
	Seed     int64 `yaml:"seed,omitempty" json:"seed,omitempty"`
	MaxCells int   `yaml:"max_cells,omitempty" json:"max_cells,omitempty"`

	Solver         string `yaml:"solver,omitempty" json:"solver,omitempty"`
	MaxIterations  int    `yaml:"max_iterations,omitempty" json:"max_iterations,omitempty"`
	MaxEvaluations int    `yaml:"max_evaluations,omitempty" json:"max_evaluations,omitempty"`
	Mapper         string `yaml:"mapper,omitempty" json:"mapper,omitempty"`
	Workers        int    `yaml:"workers,omitempty" json:"workers,omitempty"`

	Termination Termination `yaml:"termination,omitempty" json:"termination,omitempty"`

	// Constraints is constraint text compiled into a quadratic penalty.
	Constraints string `yaml:"constraints,omitempty" json:"constraints,omitempty"`
	// Penalty is the penalty multiplier k.
	Penalty float64 `yaml:"penalty,omitempty" json:"penalty,omitempty"`
	// Tolerance treats constraint violations up to this value as met.
	Tolerance float64 `yaml:"tolerance,omitempty" json:"tolerance,omitempty"`
	// Enforce is constraint text solved for hard substitution before each
	// evaluation.
	Enforce string `yaml:"enforce,omitempty" json:"enforce,omitempty"`
}

// Fit is sample data for a polynomial fit. The solved parameters are the
// Degree+1 coefficients, highest power first.
type Fit struct {
	X      []float64 `yaml:"x" json:"x"`
	Y      []float64 `yaml:"y" json:"y"`
	Degree int       `yaml:"degree" json:"degree"`
}

// Termination selects the per-cell stopping rule.
type Termination struct {
	// Kind is "ncog" (default), "cog" or "vtr".
	Kind        string  `yaml:"kind,omitempty" json:"kind,omitempty"`
	Tolerance   float64 `yaml:"tolerance,omitempty" json:"tolerance,omitempty"`
	Generations int     `yaml:"generations,omitempty" json:"generations,omitempty"`
	// Target is the value to reach for "vtr". With Generations set, "vtr"
	// also stops on a normalized change below Tolerance.
	Target float64 `yaml:"target,omitempty" json:"target,omitempty"`
}

// Load reads a definition from a YAML or JSON file.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, optimization.WrapErrorf(optimization.ErrConfiguration, err, "reading problem file %s", path).WithComponent(component)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return DecodeJSON(data)
	}
	return Parse(data)
}

// Parse decodes a YAML definition. Unknown fields are rejected.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return nil, optimization.WrapError(optimization.ErrConfiguration, err, "decoding problem").WithComponent(component)
	}
	return &def, nil
}

// DecodeJSON decodes a JSON definition. Unknown fields are rejected.
func DecodeJSON(data []byte) (*Definition, error) {
	var def Definition
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&def); err != nil {
		return nil, optimization.WrapError(optimization.ErrConfiguration, err, "decoding problem").WithComponent(component)
	}
	return &def, nil
}

// ApplyDefaults fills unset solver fields from the environment defaults.
func (d *Definition) ApplyDefaults(l config.LatticeConfig) {
	if d.Strategy == "" {
		d.Strategy = "lattice"
	}
	if len(d.Bins) == 0 && d.TotalBins == 0 && l.Bins > 0 {
		d.Bins = []int{l.Bins}
	}
	if d.Solver == "" {
		d.Solver = l.Solver
	}
	if d.Mapper == "" {
		d.Mapper = l.Mapper
	}
	if d.Workers == 0 {
		d.Workers = l.Workers
	}
	if d.MaxIterations == 0 {
		d.MaxIterations = l.MaxIterations
	}
	if d.MaxEvaluations == 0 {
		d.MaxEvaluations = l.MaxEvaluations
	}
	if d.MaxCells == 0 {
		d.MaxCells = l.MaxCells
	}
	if d.Penalty == 0 {
		d.Penalty = l.Penalty
		if m, ok := models.Lookup(d.Model); ok && m.Penalty > 0 {
			d.Penalty = m.Penalty
		}
	}
	if d.Tolerance == 0 {
		if m, ok := models.Lookup(d.Model); ok {
			d.Tolerance = m.Tolerance
		}
	}
	if d.Termination.Kind == "" {
		d.Termination.Kind = "ncog"
	}
	if d.Termination.Tolerance == 0 {
		d.Termination.Tolerance = l.Tolerance
	}
	if d.Termination.Generations == 0 {
		d.Termination.Generations = l.Generations
	}
}
