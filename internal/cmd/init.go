package cmd

import (
	"fmt"

	"github.com/danmuck/collsim/internal/config"
	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	var (
		kind  string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a starter run or sweep file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := defaultTemplatePath(kind)
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.WriteTemplate(path, kind, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s template to %s\n", kind, path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", "run", "template kind: run, sweep, sweep-yaml")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func defaultTemplatePath(kind string) string {
	switch kind {
	case "sweep", "sweep-toml":
		return "sweep.toml"
	case "sweep-yaml":
		return "sweep.yaml"
	default:
		return "collsim.toml"
	}
}
