package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"legalflow/internal/config"
	"legalflow/internal/logging"
	"legalflow/internal/store"
)

type globalOptions struct {
	configFile string
	logLevel   string
}

func newRootCmd(version string) *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:           "legalctl",
		Short:         "Operate a legalflow deployment",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Init(logging.Config{Level: opts.logLevel, Format: "console", Output: cmd.ErrOrStderr()})
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", os.Getenv("LEGALFLOW_CONFIG"), "optional YAML config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newMigrateCmd(opts),
		newUsersCmd(opts),
		newRolesCmd(opts),
		newDivisionsCmd(opts),
		newResolveCmd(opts),
		newEventsCmd(opts),
	)
	return cmd
}

func (o *globalOptions) load() (config.Config, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// openDatabase loads configuration and connects to Postgres. The caller
// closes the returned handle.
func (o *globalOptions) openDatabase(ctx context.Context) (config.Config, *sql.DB, error) {
	cfg, err := o.load()
	if err != nil {
		return config.Config{}, nil, err
	}
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("connect database: %w", err)
	}
	return cfg, db, nil
}
