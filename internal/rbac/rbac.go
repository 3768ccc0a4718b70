package rbac

import "strings"

type Role string
type Action string

const (
	RoleRequester      Role = "REQUESTER"
	RoleManager        Role = "MANAGER"
	RoleSeniorManager  Role = "SENIOR_MANAGER"
	RoleGeneralManager Role = "GENERAL_MANAGER"
	RoleDirector       Role = "DIRECTOR"
	RoleLegal          Role = "LEGAL"
	RoleReviewerLegal  Role = "REVIEWER_LEGAL"
	RoleAdminLegal     Role = "ADMIN_LEGAL"
	RoleHeadLegal      Role = "HEAD_LEGAL"
	RoleFinance        Role = "FINANCE"
	RoleAdmin          Role = "ADMIN"
)

const (
	ActionDiscuss         Action = "discuss"
	ActionCloseDiscussion Action = "close_discussion"
	ActionCreateAgreement Action = "create_agreement"
	ActionRediscuss       Action = "rediscuss"
	ActionAdmin           Action = "admin"
)

// Can reports whether a role grants an action regardless of the actor's
// relationship to a particular document. Relationship-based grants (owner,
// prior approver, same-division management) are evaluated by the caller.
func Can(role Role, action Action) bool {
	switch action {
	case ActionDiscuss:
		switch role {
		case RoleHeadLegal, RoleReviewerLegal, RoleAdminLegal, RoleFinance, RoleGeneralManager:
			return true
		}
		return false
	case ActionCloseDiscussion:
		return role == RoleHeadLegal
	case ActionCreateAgreement:
		return IsLegal(role)
	case ActionRediscuss:
		return role == RoleDirector
	case ActionAdmin:
		return role == RoleAdmin
	default:
		return false
	}
}

// Normalize maps free-form role strings onto the closed enum. Unknown
// values fall back to REQUESTER, the least privileged role.
func Normalize(role string) Role {
	value := Role(strings.ToUpper(strings.TrimSpace(role)))
	switch value {
	case RoleRequester, RoleManager, RoleSeniorManager, RoleGeneralManager, RoleDirector,
		RoleLegal, RoleReviewerLegal, RoleAdminLegal, RoleHeadLegal, RoleFinance, RoleAdmin:
		return value
	default:
		return RoleRequester
	}
}

func IsManagement(role Role) bool {
	switch role {
	case RoleManager, RoleSeniorManager, RoleGeneralManager, RoleDirector:
		return true
	}
	return false
}

func IsLegal(role Role) bool {
	switch role {
	case RoleLegal, RoleReviewerLegal, RoleAdminLegal, RoleHeadLegal:
		return true
	}
	return false
}
