package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/danmuck/collsim/internal/admin"
	"github.com/danmuck/collsim/internal/experiment"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	flags := &experimentFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one experiment",
		Long: `Compile the plan for one configuration, drive every participant through
it for the requested number of runs and print per-run timings. With
--admin the report stays available over HTTP until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.resolve(cmd)
			if err != nil {
				return err
			}
			report, err := experiment.Run(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), report)
			if flags.adminAddr == "" {
				return nil
			}
			return serveReports(cmd.Context(), flags.adminAddr, report)
		},
	}
	flags.bind(cmd)
	cmd.Flags().StringVar(&flags.adminAddr, "admin", "", "serve the report over HTTP on this address after the run")
	return cmd
}

func printReport(w io.Writer, report *experiment.Report) {
	fmt.Fprintf(w, "%s n=%d family=%s topology=%s depth=%d steps=%d elapsed=%s\n",
		report.Name, report.Config.N, report.Plan.Family, report.Assignment,
		report.Plan.Depth, report.Plan.Len(), report.Elapsed)
	for _, res := range report.Results {
		fmt.Fprintf(w, "  run %d all_proposals=%s all_done=%s\n",
			res.Run, res.AllProposals-res.Start, res.Duration())
	}
}

func serveReports(ctx context.Context, addr string, reports ...*experiment.Report) error {
	srv := admin.New("collsim", addr, nil, nil)
	for _, report := range reports {
		srv.Record(report)
	}
	return srv.Serve(ctx)
}
