package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"legalflow/internal/directory"
	"legalflow/internal/division"
	"legalflow/internal/resolver"
	"legalflow/internal/store"
	"legalflow/internal/workflow"
)

type resolveOptions struct {
	stage         string
	owner         string
	division      string
	directorate   string
	supervisor    string
	director1     string
	director2     string
	usersFile     string
	divisionsFile string
}

type resolveReport struct {
	Request    resolver.Request     `json:"request"`
	Resolution *resolver.Resolution `json:"resolution,omitempty"`
	Candidates []string             `json:"candidates"`
	Error      string               `json:"error,omitempty"`
}

func newResolveCmd(opts *globalOptions) *cobra.Command {
	ro := &resolveOptions{}
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Show who would be asked to approve a stage",
		Long: "resolve runs the approver resolver for one stage. With --users the lookup runs " +
			"offline against exported files; otherwise it reads the live directory.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stage, err := parseStage(ro.stage)
			if err != nil {
				return err
			}
			dir, registry, closeFn, err := ro.sources(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeFn()

			req, err := ro.request(cmd.Context(), dir, stage)
			if err != nil {
				return err
			}
			report := runResolve(cmd.Context(), resolver.New(dir, registry, 0), req)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	f := cmd.Flags()
	f.StringVar(&ro.stage, "stage", "", "approval stage, e.g. SUPERVISOR or DIRECTOR_1")
	f.StringVar(&ro.owner, "owner", "", "NIK of the document or agreement owner")
	f.StringVar(&ro.division, "division", "", "subject division (defaults to the owner's)")
	f.StringVar(&ro.directorate, "directorate", "", "subject directorate (defaults to the owner's)")
	f.StringVar(&ro.supervisor, "supervisor", "", "explicit supervisor NIK")
	f.StringVar(&ro.director1, "director1", "", "director 1 NIK chosen on the agreement")
	f.StringVar(&ro.director2, "director2", "", "director 2 NIK chosen on the agreement")
	f.StringVar(&ro.usersFile, "users", "", "resolve offline against a users YAML export")
	f.StringVar(&ro.divisionsFile, "divisions", "", "division registry YAML used with --users")
	_ = cmd.MarkFlagRequired("stage")
	return cmd
}

func parseStage(value string) (workflow.ApprovalType, error) {
	stage := workflow.ApprovalType(strings.ToUpper(strings.TrimSpace(value)))
	for _, owner := range []workflow.OwnerType{workflow.OwnerDocument, workflow.OwnerAgreement} {
		chain, _ := workflow.ChainFor(owner)
		if _, ok := chain.StageOf(stage); ok {
			return stage, nil
		}
	}
	return "", fmt.Errorf("unknown stage %q", value)
}

func (ro *resolveOptions) sources(ctx context.Context, opts *globalOptions) (directory.Directory, division.Registry, func(), error) {
	if ro.usersFile != "" {
		users, err := directory.LoadUsers(ro.usersFile)
		if err != nil {
			return nil, nil, nil, err
		}
		var groups []division.Group
		if ro.divisionsFile != "" {
			groups, err = division.LoadGroups(ro.divisionsFile, time.Now().UTC())
			if err != nil {
				return nil, nil, nil, err
			}
		}
		return directory.NewMemory(users...), division.NewStatic(groups), func() {}, nil
	}
	_, db, err := opts.openDatabase(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	pg := store.NewPostgresStore(db)
	return pg, pg, func() { _ = db.Close() }, nil
}

// request fills the subject fields the caller left empty from the owner's
// directory entry.
func (ro *resolveOptions) request(ctx context.Context, dir directory.Directory, stage workflow.ApprovalType) (resolver.Request, error) {
	req := resolver.Request{
		Stage:         stage,
		OwnerNIK:      strings.TrimSpace(ro.owner),
		Division:      ro.division,
		Directorate:   ro.directorate,
		SupervisorNIK: ro.supervisor,
		Director1NIK:  ro.director1,
		Director2NIK:  ro.director2,
	}
	if req.OwnerNIK == "" {
		return req, nil
	}
	owner, err := dir.GetUser(ctx, req.OwnerNIK)
	if err != nil {
		return req, fmt.Errorf("look up owner: %w", err)
	}
	if owner == nil {
		return req, fmt.Errorf("owner %s is not in the directory", req.OwnerNIK)
	}
	if req.Division == "" {
		req.Division = owner.Division
	}
	if req.Directorate == "" {
		req.Directorate = owner.Directorate
	}
	if req.SupervisorNIK == "" {
		req.SupervisorNIK = owner.SupervisorNIK
	}
	return req, nil
}

func runResolve(ctx context.Context, r *resolver.Resolver, req resolver.Request) resolveReport {
	report := resolveReport{Request: req, Candidates: []string{}}
	if res, err := r.Resolve(ctx, req); err != nil {
		report.Error = err.Error()
	} else {
		report.Resolution = &res
	}
	if candidates, err := r.Candidates(ctx, req); err == nil && candidates != nil {
		report.Candidates = candidates
	}
	return report
}
