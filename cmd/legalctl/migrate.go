package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"legalflow/internal/store"
)

func newMigrateCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(newMigrateUpCmd(opts), newMigrateDownCmd(opts), newMigrateStatusCmd(opts))
	return cmd
}

func newMigrateUpCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := opts.openDatabase(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := store.ApplyMigrations(cmd.Context(), db, cfg.MigrationsDir)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
			}
			return nil
		},
	}
}

func newMigrateDownCmd(opts *globalOptions) *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps < 1 {
				return fmt.Errorf("--steps must be at least 1")
			}
			cfg, db, err := opts.openDatabase(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			rolled, err := store.RollbackMigrations(cmd.Context(), db, cfg.MigrationsDir, steps)
			if err != nil {
				return err
			}
			for _, name := range rolled {
				fmt.Fprintf(cmd.OutOrStdout(), "rolled back %s\n", name)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	return cmd
}

func newMigrateStatusCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List migrations and whether they are applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := opts.openDatabase(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			migrations, err := store.ListMigrations(cmd.Context(), db, cfg.MigrationsDir)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tNAME\tSTATE\tROLLBACK")
			for _, m := range migrations {
				state := "pending"
				if m.Applied {
					state = "applied"
				}
				rollback := "yes"
				if m.DownPath == "" {
					rollback = "no"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.Version, m.Name, state, rollback)
			}
			return w.Flush()
		},
	}
}
