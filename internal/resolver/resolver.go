// Package resolver decides who must act on an approval stage. Resolution is
// a pure read over the directory and the division registry; persisting the
// outcome as an approval row is the caller's job.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"legalflow/internal/directory"
	"legalflow/internal/division"
	"legalflow/internal/logging"
	"legalflow/internal/rbac"
	"legalflow/internal/workflow"
)

type Tier int

const (
	TierExplicit Tier = iota + 1
	TierDirectLink
	TierRoleClass
	TierRegistry
)

func (t Tier) String() string {
	switch t {
	case TierExplicit:
		return "explicit"
	case TierDirectLink:
		return "direct_link"
	case TierRoleClass:
		return "role_class"
	case TierRegistry:
		return "division_registry"
	default:
		return "unknown"
	}
}

const DefaultTimeout = 3 * time.Second

// Request describes the stage to resolve and the subject it belongs to.
type Request struct {
	Stage         workflow.ApprovalType
	OwnerNIK      string
	Division      string
	Directorate   string
	SupervisorNIK string
	Director1NIK  string
	Director2NIK  string
	// PendingApprover is the approver of an existing PENDING row for the
	// stage, if the caller found one.
	PendingApprover string
}

type Resolution struct {
	Stage       workflow.ApprovalType `json:"stage"`
	ApproverNIK string                `json:"approverNik"`
	Tier        Tier                  `json:"-"`
	TierName    string                `json:"tier"`
	Version     string                `json:"eligibilityVersion"`
}

type Resolver struct {
	dir      directory.Directory
	registry division.Registry
	timeout  time.Duration
	log      zerolog.Logger
}

func New(dir directory.Directory, registry division.Registry, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Resolver{dir: dir, registry: registry, timeout: timeout, log: logging.Component("resolver")}
}

// Resolve walks the four tiers in order and returns the first hit. The same
// directory and registry contents always produce the same answer.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Resolution, error) {
	rule, ok := workflow.RuleFor(req.Stage)
	if !ok {
		return Resolution{}, workflow.Validation("unknown approval stage %q", req.Stage)
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if nik := strings.TrimSpace(req.PendingApprover); nik != "" {
		return r.hit(req.Stage, nik, TierExplicit), nil
	}

	nik, err := r.directLink(ctx, rule, req)
	if err != nil {
		return Resolution{}, r.failure(req, err)
	}
	if nik != "" {
		return r.hit(req.Stage, nik, TierDirectLink), nil
	}
	r.log.Debug().Str("stage", string(req.Stage)).Str("division", req.Division).Msg("no direct link, trying role class")

	candidates, err := r.roleClass(ctx, rule, req)
	if err != nil {
		return Resolution{}, r.failure(req, err)
	}
	if len(candidates) > 0 {
		return r.hit(req.Stage, candidates[0], TierRoleClass), nil
	}
	r.log.Debug().Str("stage", string(req.Stage)).Str("division", req.Division).Msg("no role class match, trying division registry")

	nik, err = r.registryLookup(ctx, rule, req)
	if err != nil {
		return Resolution{}, r.failure(req, err)
	}
	if nik != "" {
		return r.hit(req.Stage, nik, TierRegistry), nil
	}
	return Resolution{}, workflow.NoApproverResolved(req.Stage, req.Division, nil)
}

// Candidates lists everyone the first three tiers would accept, used to
// answer "who can act on this now". The registry is not consulted.
func (r *Resolver) Candidates(ctx context.Context, req Request) ([]string, error) {
	rule, ok := workflow.RuleFor(req.Stage)
	if !ok {
		return nil, workflow.Validation("unknown approval stage %q", req.Stage)
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	seen := map[string]bool{}
	out := make([]string, 0)
	add := func(nik string) {
		if nik != "" && !seen[nik] {
			seen[nik] = true
			out = append(out, nik)
		}
	}
	add(strings.TrimSpace(req.PendingApprover))
	nik, err := r.directLink(ctx, rule, req)
	if err != nil {
		return nil, r.failure(req, err)
	}
	add(nik)
	others, err := r.roleClass(ctx, rule, req)
	if err != nil {
		return nil, r.failure(req, err)
	}
	for _, nik := range others {
		add(nik)
	}
	return out, nil
}

func (r *Resolver) hit(stage workflow.ApprovalType, nik string, tier Tier) Resolution {
	r.log.Debug().Str("stage", string(stage)).Str("approver", nik).Str("tier", tier.String()).Msg("approver resolved")
	return Resolution{Stage: stage, ApproverNIK: nik, Tier: tier, TierName: tier.String(), Version: workflow.EligibilityVersion}
}

func (r *Resolver) failure(req Request, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		r.log.Warn().Err(err).Str("stage", string(req.Stage)).Msg("approver lookup timed out")
		return workflow.NoApproverResolved(req.Stage, req.Division, err)
	}
	return fmt.Errorf("resolve %s approver: %w", req.Stage, err)
}

func (r *Resolver) directLink(ctx context.Context, rule workflow.StageRule, req Request) (string, error) {
	if !rule.DirectLink {
		return "", nil
	}
	var nik string
	switch rule.Type {
	case workflow.ApprovalSupervisor:
		nik = req.SupervisorNIK
	case workflow.ApprovalDirector1:
		nik = req.Director1NIK
	case workflow.ApprovalDirector2:
		nik = req.Director2NIK
	}
	return r.active(ctx, nik)
}

func (r *Resolver) roleClass(ctx context.Context, rule workflow.StageRule, req Request) ([]string, error) {
	out := make([]string, 0)
	for _, role := range rule.Roles {
		filter := ""
		if rule.Scope == workflow.ScopeDivision {
			if division.NormalizeCode(req.Division) == "" {
				return out, nil
			}
			filter = req.Division
		}
		users, err := r.dir.ListActiveByRoles(ctx, []rbac.Role{role}, filter)
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			if u.NIK == req.OwnerNIK {
				continue
			}
			if rule.Scope == workflow.ScopeDirectorate && !strings.EqualFold(strings.TrimSpace(u.Directorate), strings.TrimSpace(req.Directorate)) {
				continue
			}
			out = append(out, u.NIK)
		}
	}
	return out, nil
}

func (r *Resolver) registryLookup(ctx context.Context, rule workflow.StageRule, req Request) (string, error) {
	if len(rule.Registry) == 0 || r.registry == nil {
		return "", nil
	}
	code := division.NormalizeCode(req.Division)
	if code == "" {
		return "", nil
	}
	group, err := r.registry.GetGroup(ctx, code)
	if err != nil {
		return "", err
	}
	if group == nil {
		return "", nil
	}
	for _, field := range rule.Registry {
		nik := group.Field(string(field))
		if nik == "" || nik == req.OwnerNIK {
			continue
		}
		active, err := r.active(ctx, nik)
		if err != nil {
			return "", err
		}
		if active != "" {
			return active, nil
		}
	}
	return "", nil
}

// active returns nik when the directory knows it as an active user.
func (r *Resolver) active(ctx context.Context, nik string) (string, error) {
	nik = strings.TrimSpace(nik)
	if nik == "" {
		return "", nil
	}
	user, err := r.dir.GetUser(ctx, nik)
	if err != nil {
		return "", err
	}
	if user == nil || !user.IsActive {
		return "", nil
	}
	return user.NIK, nil
}
