package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "head legal closes", role: RoleHeadLegal, action: ActionCloseDiscussion, allow: true},
		{name: "reviewer legal cannot close", role: RoleReviewerLegal, action: ActionCloseDiscussion, allow: false},
		{name: "finance cannot close", role: RoleFinance, action: ActionCloseDiscussion, allow: false},
		{name: "finance discusses", role: RoleFinance, action: ActionDiscuss, allow: true},
		{name: "general manager discusses", role: RoleGeneralManager, action: ActionDiscuss, allow: true},
		{name: "requester has no role grant", role: RoleRequester, action: ActionDiscuss, allow: false},
		{name: "plain legal creates agreement", role: RoleLegal, action: ActionCreateAgreement, allow: true},
		{name: "finance cannot create agreement", role: RoleFinance, action: ActionCreateAgreement, allow: false},
		{name: "director rediscusses", role: RoleDirector, action: ActionRediscuss, allow: true},
		{name: "general manager cannot rediscuss", role: RoleGeneralManager, action: ActionRediscuss, allow: false},
		{name: "admin admin", role: RoleAdmin, action: ActionAdmin, allow: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize(" head_legal "); got != RoleHeadLegal {
		t.Fatalf("Normalize(head_legal) = %q", got)
	}
	if got := Normalize("Programmer"); got != RoleRequester {
		t.Fatalf("Normalize(unknown) = %q, want REQUESTER", got)
	}
}

func TestClassifyJobTitle(t *testing.T) {
	cases := []struct {
		title string
		role  Role
		ok    bool
	}{
		{title: "Head of Legal & Compliance", role: RoleHeadLegal, ok: true},
		{title: "Legal Admin Staff", role: RoleAdminLegal, ok: true},
		{title: "Senior Legal Counsel", role: RoleLegal, ok: true},
		{title: "Finance Controller", role: RoleFinance, ok: true},
		{title: "Director of Operations", role: RoleDirector, ok: true},
		{title: "GM - Network", role: RoleGeneralManager, ok: true},
		{title: "Senior Manager, Procurement", role: RoleSeniorManager, ok: true},
		{title: "Team Lead", role: RoleManager, ok: true},
		{title: "Programmer", ok: false},
		{title: "   ", ok: false},
	}
	for _, tc := range cases {
		t.Run(tc.title, func(t *testing.T) {
			role, ok := ClassifyJobTitle(tc.title)
			if ok != tc.ok || role != tc.role {
				t.Fatalf("ClassifyJobTitle(%q) = (%q, %v), want (%q, %v)", tc.title, role, ok, tc.role, tc.ok)
			}
		})
	}
}
