// Package directory is the consumed view of the employee directory. The sync
// job that fills it lives elsewhere; the workflow only reads users by NIK or
// by role.
package directory

import (
	"context"

	"legalflow/internal/rbac"
)

type User struct {
	NIK           string    `json:"nik" yaml:"nik"`
	Name          string    `json:"name" yaml:"name"`
	Role          rbac.Role `json:"role" yaml:"role"`
	JobTitle      string    `json:"jobTitle" yaml:"job_title"`
	Division      string    `json:"division" yaml:"division"`
	Directorate   string    `json:"directorate" yaml:"directorate"`
	SupervisorNIK string    `json:"supervisorNik,omitempty" yaml:"supervisor"`
	IsActive      bool      `json:"isActive" yaml:"active"`
}

// Directory reads identities. GetUser returns nil without error for an
// unknown NIK. ListActiveByRoles returns active users holding any of roles,
// restricted to division when it is non-empty, ordered by NIK.
type Directory interface {
	GetUser(ctx context.Context, nik string) (*User, error)
	ListActiveByRoles(ctx context.Context, roles []rbac.Role, division string) ([]User, error)
}
