package main

import (
	"fmt"
	"os"

	"github.com/alxbtnk/duck/internal/config"
	"github.com/alxbtnk/duck/pkg/logger"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, styleError.Render("Error:"), err)
		os.Exit(1)
	}
}

// app carries what every subcommand needs once the config is loaded.
type app struct {
	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	var verbose bool

	root := &cobra.Command{
		Use:   "duckctl",
		Short: "Operate the DUCKHAT backend",
		Long: `duckctl manages the DUCKHAT asset store and admin access.

It reads the same .env and environment variables as the server. Slot
changes made here are picked up by the server on its next start; use
PUT /api/assets/:key for live changes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			level := "warn"
			if verbose {
				level = "debug"
			}
			logger.Init(cfg.Env, level)
			a.cfg = cfg
			return nil
		},
	}

	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log database and cache activity")

	root.AddCommand(
		migrateCmd(a),
		assetsCmd(a),
		tokenCmd(a),
	)
	return root
}
