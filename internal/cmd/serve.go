package cmd

import (
	"github.com/danmuck/collsim/internal/admin"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		addr    string
		origins []string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the admin API",
		Long: `Start the admin HTTP server. Experiments submitted with
POST /experiments run in the server process and stay queryable until exit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return admin.New("collsim", addr, origins, nil).Serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:7070", "listen address")
	cmd.Flags().StringSliceVar(&origins, "cors", nil, "allowed CORS origins")
	return cmd
}
