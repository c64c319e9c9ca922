// Package cmd holds the collsim command tree.
package cmd

import (
	"context"
	"fmt"

	"github.com/danmuck/collsim/internal/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// NewRootCmd builds a fresh command tree.
func NewRootCmd() *cobra.Command {
	var logLevel string
	root := &cobra.Command{
		Use:   "collsim",
		Short: "Collective communication pattern simulator",
		Long: `collsim compiles message plans for flat, tree, broadcast-tree and
hypercube collectives, drives every participant through its plan over a
simulated or loopback network, and reports per-run completion times.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if logLevel == "" {
				return nil
			}
			level, ok := logging.ParseLevel(logLevel)
			if !ok {
				return fmt.Errorf("unknown log level %q", logLevel)
			}
			zerolog.SetGlobalLevel(level)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the log level (trace, debug, info, warn, error)")

	root.AddCommand(
		newRunCmd(),
		newPlanCmd(),
		newSweepCmd(),
		newServeCmd(),
		newInitCmd(),
	)
	return root
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}
