package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/copyleftdev/latticeopt/internal/config"
	"github.com/copyleftdev/latticeopt/internal/logging"
)

// globals holds the persistent flags and what PersistentPreRunE builds
// from them.
type globals struct {
	logLevel  string
	logFormat string
	output    string

	cfg    *config.Config
	logger *logging.Logger
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:   "latticeopt",
		Short: "Ensemble global optimization over a lattice of cells",
		Long: `latticeopt partitions a bounded search space into a lattice of cells
and runs a local solver from the center of every cell, reporting the best
local optimum found.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			level := cfg.Logging.Level
			if cmd.Flags().Changed("log-level") {
				level = g.logLevel
			}
			format := cfg.Logging.Format
			if cmd.Flags().Changed("log-format") {
				format = g.logFormat
			}
			logger, err := logging.NewLogger(&logging.Config{
				Level:  level,
				Format: format,
				Output: "stderr",
			})
			if err != nil {
				return err
			}
			g.cfg = cfg
			g.logger = logger.WithFields(map[string]interface{}{"command": cmd.Name()})
			return nil
		},
	}

	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "text", "Log format (json, text)")
	root.PersistentFlags().StringVarP(&g.output, "output", "o", "yaml", "Result format (yaml, json)")

	root.AddCommand(newSolveCmd(g))
	root.AddCommand(newChebyshevCmd(g))
	return root
}

// signalContext is cancelled on SIGINT or SIGTERM so an interrupted solve
// stops at the next cell.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}
