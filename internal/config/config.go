package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Lattice LatticeConfig
}

// LatticeConfig holds the solver defaults applied to problems that leave a
// field unset.
type LatticeConfig struct {
	Bins           int     `env:"LATTICE_BINS" envDefault:"4"`
	Workers        int     `env:"LATTICE_WORKERS" envDefault:"0"`
	Mapper         string  `env:"LATTICE_MAPPER" envDefault:"pool"`
	Solver         string  `env:"LATTICE_SOLVER" envDefault:"powell"`
	Tolerance      float64 `env:"LATTICE_TOLERANCE" envDefault:"1e-4"`
	Generations    int     `env:"LATTICE_GENERATIONS" envDefault:"30"`
	MaxIterations  int     `env:"LATTICE_MAX_ITERATIONS" envDefault:"0"`
	MaxEvaluations int     `env:"LATTICE_MAX_EVALUATIONS" envDefault:"0"`
	Penalty        float64 `env:"LATTICE_PENALTY" envDefault:"1e6"`
	MaxCells       int     `env:"LATTICE_MAX_CELLS" envDefault:"65536"`
	// MaxJobs bounds concurrently running server jobs.
	MaxJobs int `env:"LATTICE_MAX_JOBS" envDefault:"4"`
	// FinishedJobs bounds how many finished jobs the server keeps for
	// status queries; the oldest are evicted first.
	FinishedJobs int `env:"LATTICE_FINISHED_JOBS" envDefault:"1000"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	// Parse environment variables
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects solver defaults that could never produce a valid solve.
func (c *Config) Validate() error {
	switch {
	case c.Lattice.Bins < 1:
		return fmt.Errorf("LATTICE_BINS must be at least 1, got %d", c.Lattice.Bins)
	case c.Lattice.Workers < 0:
		return fmt.Errorf("LATTICE_WORKERS must not be negative, got %d", c.Lattice.Workers)
	case c.Lattice.Tolerance < 0:
		return fmt.Errorf("LATTICE_TOLERANCE must not be negative, got %g", c.Lattice.Tolerance)
	case c.Lattice.Generations < 1:
		return fmt.Errorf("LATTICE_GENERATIONS must be at least 1, got %d", c.Lattice.Generations)
	case c.Lattice.Penalty <= 0:
		return fmt.Errorf("LATTICE_PENALTY must be positive, got %g", c.Lattice.Penalty)
	case c.Lattice.MaxCells < 1:
		return fmt.Errorf("LATTICE_MAX_CELLS must be at least 1, got %d", c.Lattice.MaxCells)
	case c.Lattice.MaxJobs < 1:
		return fmt.Errorf("LATTICE_MAX_JOBS must be at least 1, got %d", c.Lattice.MaxJobs)
	case c.Lattice.FinishedJobs < 0:
		return fmt.Errorf("LATTICE_FINISHED_JOBS must not be negative, got %d", c.Lattice.FinishedJobs)
	}
	return nil
}
