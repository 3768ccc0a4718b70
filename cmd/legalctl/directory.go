package main

import (
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"legalflow/internal/directory"
	"legalflow/internal/division"
	"legalflow/internal/rbac"
	"legalflow/internal/store"
)

func newUsersCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage the user directory",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <users.yaml>",
		Short: "Upsert users from a directory export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			users, err := directory.LoadUsers(args[0])
			if err != nil {
				return err
			}
			_, db, err := opts.openDatabase(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			pg := store.NewPostgresStore(db)
			for _, u := range users {
				if err := pg.UpsertUser(cmd.Context(), u); err != nil {
					return fmt.Errorf("import user %s: %w", u.NIK, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d users\n", len(users))
			return nil
		},
	})
	return cmd
}

// roleChange is one proposed role assignment from the job-title backfill.
type roleChange struct {
	NIK      string
	JobTitle string
	From     rbac.Role
	To       rbac.Role
}

// planRoleBackfill classifies users still carrying the default role. Users
// with an explicit role are never downgraded.
func planRoleBackfill(users []directory.User) []roleChange {
	var out []roleChange
	for _, u := range users {
		if u.Role != "" && u.Role != rbac.RoleRequester {
			continue
		}
		role, ok := rbac.ClassifyJobTitle(u.JobTitle)
		if !ok || role == u.Role {
			continue
		}
		out = append(out, roleChange{NIK: u.NIK, JobTitle: u.JobTitle, From: u.Role, To: role})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NIK < out[j].NIK })
	return out
}

func newRolesCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roles",
		Short: "Maintain directory roles",
	}
	var apply bool
	backfill := &cobra.Command{
		Use:   "backfill",
		Short: "Derive roles for REQUESTER users from their job titles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, err := opts.openDatabase(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			pg := store.NewPostgresStore(db)
			users, err := pg.ListUsers(cmd.Context())
			if err != nil {
				return err
			}
			changes := planRoleBackfill(users)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NIK\tJOB TITLE\tFROM\tTO")
			for _, c := range changes {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.NIK, c.JobTitle, c.From, c.To)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if !apply {
				fmt.Fprintf(cmd.OutOrStdout(), "%d changes planned; rerun with --apply to write them\n", len(changes))
				return nil
			}

			updated := 0
			for _, c := range changes {
				ok, err := pg.SetUserRole(cmd.Context(), c.NIK, c.To)
				if err != nil {
					return fmt.Errorf("set role for %s: %w", c.NIK, err)
				}
				if ok {
					updated++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated %d users\n", updated)
			return nil
		},
	}
	backfill.Flags().BoolVar(&apply, "apply", false, "write the planned roles")
	cmd.AddCommand(backfill)
	return cmd
}

func newDivisionsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "divisions",
		Short: "Maintain the division approval registry",
	}
	var (
		fromFile string
		prune    bool
	)
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Rebuild the division registry from the directory or a YAML file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, err := opts.openDatabase(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			pg := store.NewPostgresStore(db)
			now := time.Now().UTC()
			var groups []division.Group
			if fromFile != "" {
				groups, err = division.LoadGroups(fromFile, now)
			} else {
				var users []directory.User
				users, err = pg.ListUsers(cmd.Context())
				if err == nil {
					groups = division.BuildGroups(directory.Members(users), now)
				}
			}
			if err != nil {
				return err
			}
			if err := pg.ReplaceDivisionGroups(cmd.Context(), groups, prune); err != nil {
				return err
			}
			return writeGroups(cmd, groups)
		},
	}
	syncCmd.Flags().StringVar(&fromFile, "file", "", "read groups from a YAML file instead of the user directory")
	syncCmd.Flags().BoolVar(&prune, "prune", false, "delete registry rows for divisions not in the new set")
	cmd.AddCommand(syncCmd)
	return cmd
}

func writeGroups(cmd *cobra.Command, groups []division.Group) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DIVISION\tMANAGER\tSENIOR MANAGER\tGENERAL MANAGER\tDIRECTORATE")
	for _, g := range groups {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", g.DivisionCode, dash(g.ManagerNIK), dash(g.SeniorManagerNIK), dash(g.GeneralManagerNIK), dash(g.Directorate))
	}
	return w.Flush()
}

func dash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}
