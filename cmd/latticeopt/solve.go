package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/copyleftdev/latticeopt/internal/logging"
	"github.com/copyleftdev/latticeopt/internal/optimization"
	"github.com/copyleftdev/latticeopt/internal/problem"
)

// overrides are solve flags that replace fields of the problem file when
// set.
type overrides struct {
	bins      []int
	totalBins int
	solver    string
	mapper    string
	workers   int
	seed      int64
	maxCells  int
	interval  int
}

func (o *overrides) register(cmd *cobra.Command) {
	cmd.Flags().IntSliceVar(&o.bins, "bins", nil, "Bins per axis (one value is broadcast)")
	cmd.Flags().IntVar(&o.totalBins, "total-bins", 0, "Total number of cells, distributed over the axes")
	cmd.Flags().StringVar(&o.solver, "solver", "", "Nested solver (powell, neldermead)")
	cmd.Flags().StringVar(&o.mapper, "mapper", "", "Cell mapper (pool, serial)")
	cmd.Flags().IntVar(&o.workers, "workers", 0, "Pool workers (0 uses GOMAXPROCS)")
	cmd.Flags().Int64Var(&o.seed, "seed", 0, "Seed for total-bins layouts and buckshot starts")
	cmd.Flags().IntVar(&o.maxCells, "max-cells", 0, "Refuse layouts with more cells than this")
	cmd.Flags().IntVar(&o.interval, "monitor", 0, "Log every n-th generation at debug level (0 disables)")
}

// apply copies the flags the user set onto def.
func (o *overrides) apply(cmd *cobra.Command, def *problem.Definition) {
	flags := cmd.Flags()
	if flags.Changed("bins") {
		def.Bins = o.bins
		def.TotalBins = 0
	}
	if flags.Changed("total-bins") {
		def.TotalBins = o.totalBins
		def.Bins = nil
	}
	if flags.Changed("solver") {
		def.Solver = o.solver
	}
	if flags.Changed("mapper") {
		def.Mapper = o.mapper
	}
	if flags.Changed("workers") {
		def.Workers = o.workers
	}
	if flags.Changed("seed") {
		def.Seed = o.seed
	}
	if flags.Changed("max-cells") {
		def.MaxCells = o.maxCells
	}
}

func (o *overrides) options(g *globals) problem.Options {
	opts := problem.Options{Logger: logging.NewZapLogger(g.logger)}
	if o.interval > 0 {
		opts.Monitor = logging.NewLogMonitor(g.logger, o.interval)
	}
	return opts
}

func newSolveCmd(g *globals) *cobra.Command {
	o := &overrides{}
	cmd := &cobra.Command{
		Use:   "solve PROBLEM_FILE",
		Short: "Solve a problem described in a YAML or JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := problem.Load(args[0])
			if err != nil {
				return err
			}
			o.apply(cmd, def)
			def.ApplyDefaults(g.cfg.Lattice)

			rep, err := solve(cmd, g, *def, o.options(g))
			if err != nil {
				return err
			}
			return writeReport(cmd.OutOrStdout(), g.output, rep)
		},
	}
	o.register(cmd)
	return cmd
}

// solve builds and runs def until it finishes or the process is
// interrupted.
func solve(cmd *cobra.Command, g *globals, def problem.Definition, opts problem.Options) (report, error) {
	p, err := problem.Build(def, opts)
	if err != nil {
		return report{}, err
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	g.logger.Info("Solving", map[string]interface{}{
		"name":      def.Name,
		"dimension": p.Definition.Dimension,
		"strategy":  def.Strategy,
		"solver":    def.Solver,
	})
	start := time.Now()
	out, err := p.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			g.logger.WithError(err).Warn("Solve interrupted")
			return report{}, optimization.WrapError(optimization.ErrState, err, "solve interrupted")
		}
		return report{}, err
	}
	return newReport(p, out, time.Since(start)), nil
}
