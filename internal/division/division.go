// Package division models the division approval registry: one row per
// division naming its manager, senior manager and general manager. The
// registry is written by the sync tool and only read by the workflow.
package division

import (
	"context"
	"strings"
	"time"
	"unicode"
)

type Group struct {
	DivisionCode      string    `json:"divisionCode" yaml:"code"`
	DivisionName      string    `json:"divisionName" yaml:"name"`
	ManagerNIK        string    `json:"managerNik,omitempty" yaml:"manager"`
	SeniorManagerNIK  string    `json:"seniorManagerNik,omitempty" yaml:"senior_manager"`
	GeneralManagerNIK string    `json:"generalManagerNik,omitempty" yaml:"general_manager"`
	Directorate       string    `json:"directorate,omitempty" yaml:"directorate"`
	SyncedAt          time.Time `json:"syncedAt" yaml:"-"`
}

// Registry is the read side the resolver depends on. GetGroup returns nil
// without error when the division has no row.
type Registry interface {
	GetGroup(ctx context.Context, divisionCode string) (*Group, error)
}

// Field returns the NIK stored under a registry field name.
func (g Group) Field(name string) string {
	switch name {
	case "manager":
		return g.ManagerNIK
	case "senior_manager":
		return g.SeniorManagerNIK
	case "general_manager":
		return g.GeneralManagerNIK
	default:
		return ""
	}
}

// NormalizeCode turns a division label into its registry key: upper case,
// with every run of non-alphanumerics collapsed to one underscore.
// "Legal & Compliance" and "legal-compliance" share the key LEGAL_COMPLIANCE.
func NormalizeCode(value string) string {
	var b strings.Builder
	pending := false
	for _, r := range strings.ToUpper(strings.TrimSpace(value)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
			pending = false
			continue
		}
		pending = true
	}
	return b.String()
}

// Same reports whether two division labels name the same division.
func Same(a, b string) bool {
	na := NormalizeCode(a)
	return na != "" && na == NormalizeCode(b)
}
