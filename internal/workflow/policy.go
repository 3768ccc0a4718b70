package workflow

import (
	"strings"

	"legalflow/internal/division"
	"legalflow/internal/rbac"
)

// EligibilityVersion identifies the stage eligibility table below. It is
// stamped on materialized approval rows so audits can tell which rules
// picked an approver.
const EligibilityVersion = "2026.10"

// Actor is the caller of a workflow operation, as seen by the directory at
// the time of the call.
type Actor struct {
	NIK         string
	Name        string
	Role        rbac.Role
	Division    string
	Directorate string
	Active      bool
}

type Scope string

const (
	ScopeDivision    Scope = "division"
	ScopeDirectorate Scope = "directorate"
	ScopeGlobal      Scope = "global"
)

type RegistryField string

const (
	RegistryManager        RegistryField = "manager"
	RegistrySeniorManager  RegistryField = "senior_manager"
	RegistryGeneralManager RegistryField = "general_manager"
)

// StageRule lists who may hold a stage. Roles and Registry are in
// preference order.
type StageRule struct {
	Type     ApprovalType
	Roles    []rbac.Role
	Scope    Scope
	Registry []RegistryField
	// DirectLink is set for stages whose approver is named on the subject
	// itself (document supervisor, agreement director slots).
	DirectLink bool
}

var stageRules = map[ApprovalType]StageRule{
	ApprovalSupervisor: {
		Type:       ApprovalSupervisor,
		Roles:      []rbac.Role{rbac.RoleManager, rbac.RoleSeniorManager},
		Scope:      ScopeDivision,
		Registry:   []RegistryField{RegistryManager, RegistrySeniorManager},
		DirectLink: true,
	},
	ApprovalGeneralManager: {
		Type:     ApprovalGeneralManager,
		Roles:    []rbac.Role{rbac.RoleGeneralManager},
		Scope:    ScopeDivision,
		Registry: []RegistryField{RegistryGeneralManager, RegistrySeniorManager},
	},
	ApprovalLegalAdmin: {
		Type:  ApprovalLegalAdmin,
		Roles: []rbac.Role{rbac.RoleAdminLegal},
		Scope: ScopeGlobal,
	},
	ApprovalHead: {
		Type:     ApprovalHead,
		Roles:    []rbac.Role{rbac.RoleSeniorManager, rbac.RoleManager},
		Scope:    ScopeDivision,
		Registry: []RegistryField{RegistrySeniorManager, RegistryManager},
	},
	ApprovalFinance: {
		Type:  ApprovalFinance,
		Roles: []rbac.Role{rbac.RoleFinance},
		Scope: ScopeGlobal,
	},
	ApprovalLegal: {
		Type:  ApprovalLegal,
		Roles: []rbac.Role{rbac.RoleHeadLegal},
		Scope: ScopeGlobal,
	},
	ApprovalDirector1: {
		Type:       ApprovalDirector1,
		Scope:      ScopeDirectorate,
		DirectLink: true,
	},
	ApprovalDirector2: {
		Type:       ApprovalDirector2,
		Scope:      ScopeGlobal,
		DirectLink: true,
	},
}

func RuleFor(approvalType ApprovalType) (StageRule, bool) {
	rule, ok := stageRules[approvalType]
	return rule, ok
}

// Subject is the organisational placement of the document or agreement a
// stage belongs to.
type Subject struct {
	Division    string
	Directorate string
}

// Eligible reports whether role is in the stage's role class.
func (r StageRule) Eligible(role rbac.Role) bool {
	for _, candidate := range r.Roles {
		if candidate == role {
			return true
		}
	}
	return false
}

// Allows reports whether actor satisfies the stage's role class for subject.
// Being the named approver on the row is checked separately by the caller.
func (r StageRule) Allows(actor Actor, subject Subject) bool {
	if !actor.Active || !r.Eligible(actor.Role) {
		return false
	}
	switch r.Scope {
	case ScopeDivision:
		return division.Same(actor.Division, subject.Division)
	case ScopeDirectorate:
		return sameDirectorate(actor.Directorate, subject.Directorate)
	default:
		return true
	}
}

func sameDirectorate(a, b string) bool {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	return a != "" && strings.EqualFold(a, b)
}
