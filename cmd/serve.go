package cmd

import (
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the HTTP API, the task queue worker and the optional schedule",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			app, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			return app.Run(cmd.Context())
		},
	}
}
