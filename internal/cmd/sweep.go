package cmd

import (
	"context"
	"fmt"
	"runtime"
	"sort"

	"github.com/danmuck/collsim/internal/config"
	"github.com/danmuck/collsim/internal/experiment"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	var (
		parallel  int
		adminAddr string
	)
	cmd := &cobra.Command{
		Use:   "sweep <file>",
		Short: "Run every experiment in a sweep file",
		Long: `Expand a TOML or YAML sweep file into one experiment per entry and size
and run them concurrently. Results are appended per experiment when the
sweep names a results_dir.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sweep, err := config.LoadSweep(args[0])
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("parallel") {
				sweep.Parallel = parallel
			}
			exps, err := config.Experiments(sweep)
			if err != nil {
				return err
			}
			reports, err := runSweep(cmd.Context(), sweep, exps)
			out := cmd.OutOrStdout()
			for _, report := range reports {
				printReport(out, report)
			}
			fmt.Fprintf(out, "sweep %s: %d of %d experiments finished\n", sweep.Name, len(reports), len(exps))
			if err != nil {
				return err
			}
			if adminAddr == "" {
				return nil
			}
			return serveReports(cmd.Context(), adminAddr, reports...)
		},
	}
	cmd.Flags().IntVarP(&parallel, "parallel", "j", 0, "concurrent experiments (overrides the sweep file, 0 means one per CPU)")
	cmd.Flags().StringVar(&adminAddr, "admin", "", "serve finished reports over HTTP on this address")
	return cmd
}

// runSweep runs exps on a bounded pool and returns the finished reports
// ordered by name and size.
func runSweep(ctx context.Context, sweep config.SweepConfig, exps []experiment.Config) ([]*experiment.Report, error) {
	limit := sweep.Parallel
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	log.Info().
		Str("sweep", sweep.Name).
		Int("experiments", len(exps)).
		Int("parallel", limit).
		Msg("sweep starting")

	finished := make([]*experiment.Report, len(exps))
	p := pool.New().WithMaxGoroutines(limit).WithContext(ctx)
	for i, exp := range exps {
		i, exp := i, exp
		p.Go(func(ctx context.Context) error {
			report, err := experiment.Run(ctx, exp)
			if err != nil {
				return fmt.Errorf("%s n=%d: %w", exp.ExperimentName(), exp.N, err)
			}
			finished[i] = report
			return nil
		})
	}
	err := p.Wait()

	reports := make([]*experiment.Report, 0, len(finished))
	for _, report := range finished {
		if report != nil {
			reports = append(reports, report)
		}
	}
	sort.SliceStable(reports, func(i, j int) bool {
		if reports[i].Name != reports[j].Name {
			return reports[i].Name < reports[j].Name
		}
		return reports[i].Config.N < reports[j].Config.N
	})
	return reports, err
}
