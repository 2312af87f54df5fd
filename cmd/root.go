// Package cmd defines the CLI commands for the causelist-crawler executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/causelist-crawler/internal/config"
	"github.com/JakeFAU/causelist-crawler/internal/server"
)

var cfgFile string

type configKeyType string

const configKey configKeyType = "config"

// newApp is a variable so tests can inject a fake application.
var newApp = func(ctx context.Context, cfg *config.Config) (*server.App, error) {
	return server.Build(ctx, cfg)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "causelist-crawler",
		Short: "Searches daily court cause lists for names and cases of interest.",
		Long: `causelist-crawler downloads the published cause lists for a hearing date,
searches every list for the requested terms and cross-references a case's
listing. Searches are queued and run one at a time by a background worker.`,
		SilenceUsage: true,

		// Loads configuration before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKey, &cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env CAUSELIST_* overrides)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newDatesCmd())

	return cmd
}

func resolveConfig(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	return cfg, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
