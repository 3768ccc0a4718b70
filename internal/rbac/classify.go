package rbac

import (
	"strings"
	"unicode"
)

// titleRule maps a set of job-title keywords onto a role. Rules are checked
// in order, so more specific titles must come first.
type titleRule struct {
	role     Role
	keywords []string
}

var titleRules = []titleRule{
	{role: RoleHeadLegal, keywords: []string{"head of legal", "head legal", "chief legal", "legal head"}},
	{role: RoleAdminLegal, keywords: []string{"legal admin", "admin legal", "legal administrator", "legal administration"}},
	{role: RoleReviewerLegal, keywords: []string{"legal reviewer", "reviewer legal", "contract reviewer"}},
	{role: RoleLegal, keywords: []string{"legal", "counsel", "lawyer", "paralegal"}},
	{role: RoleFinance, keywords: []string{"finance", "financial", "accounting", "accountant", "treasury", "tax"}},
	{role: RoleDirector, keywords: []string{"director", "chief", "ceo", "cfo", "coo", "cto"}},
	{role: RoleGeneralManager, keywords: []string{"general manager", "gm", "vice president", "vp"}},
	{role: RoleSeniorManager, keywords: []string{"senior manager", "sr manager", "snr manager", "deputy general manager"}},
	{role: RoleManager, keywords: []string{"manager", "head of", "supervisor", "lead"}},
}

// ClassifyJobTitle guesses a role from an HRIS job title. It only feeds the
// one-time role backfill; approval routing never reads job titles.
func ClassifyJobTitle(title string) (Role, bool) {
	normalized := normalizeTitle(title)
	if normalized == "" {
		return "", false
	}
	for _, rule := range titleRules {
		for _, keyword := range rule.keywords {
			if strings.Contains(normalized, " "+keyword+" ") {
				return rule.role, true
			}
		}
	}
	return "", false
}

// normalizeTitle lower-cases the title, collapses punctuation into single
// spaces and pads both ends so keywords match whole words only.
func normalizeTitle(title string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastSpace = false
			continue
		}
		if !lastSpace {
			b.WriteByte(' ')
			lastSpace = true
		}
	}
	trimmed := strings.TrimSpace(b.String())
	if trimmed == "" {
		return ""
	}
	return " " + trimmed + " "
}
