package directory

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"legalflow/internal/division"
	"legalflow/internal/rbac"
)

type userFile struct {
	Users []User `yaml:"users"`
}

// LoadUsers reads a directory export in YAML. Roles are folded onto the
// closed enum; an entry without a role keeps REQUESTER.
func LoadUsers(path string) ([]User, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read users file: %w", err)
	}
	var file userFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse users file: %w", err)
	}
	for i := range file.Users {
		u := &file.Users[i]
		u.NIK = strings.TrimSpace(u.NIK)
		if u.NIK == "" {
			return nil, fmt.Errorf("users file: entry %d has no nik", i)
		}
		u.Role = rbac.Normalize(string(u.Role))
	}
	return file.Users, nil
}

// Members projects users onto the registry builder's input.
func Members(users []User) []division.Member {
	out := make([]division.Member, 0, len(users))
	for _, u := range users {
		out = append(out, division.Member{
			NIK:         u.NIK,
			Role:        string(u.Role),
			Division:    u.Division,
			Directorate: u.Directorate,
			Active:      u.IsActive,
		})
	}
	return out
}
