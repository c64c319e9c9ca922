package cmd

import (
	"fmt"

	"github.com/danmuck/collsim/internal/experiment"
	"github.com/danmuck/collsim/internal/plan"
	"github.com/spf13/cobra"
)

func newPlanCmd() *cobra.Command {
	flags := &experimentFlags{}
	var participant int
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the compiled message plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.resolve(cmd)
			if err != nil {
				return err
			}
			_, p, err := experiment.Compile(cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if participant < 0 {
				return plan.Dump(out, p)
			}
			if participant >= p.N {
				return plan.Configf("participant", "id %d outside [0,%d)", participant, p.N)
			}
			_, err = fmt.Fprintln(out, plan.DumpParticipant(p, participant))
			return err
		},
	}
	flags.bind(cmd)
	cmd.Flags().IntVarP(&participant, "participant", "p", -1, "print only this participant")
	return cmd
}
