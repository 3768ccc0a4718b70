package workflow

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// DirectorPolicy decides the director slots of a new agreement: director 1
// follows the document's directorate, director 2 is picked by the creator
// from an allow-list.
type DirectorPolicy struct {
	Version               string            `yaml:"version"`
	DirectorByDirectorate map[string]string `yaml:"director1_by_directorate"`
	Director2Allowed      []string          `yaml:"director2_allow_list"`
}

func LoadDirectorPolicy(path string) (DirectorPolicy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return DirectorPolicy{}, fmt.Errorf("read policy file: %w", err)
	}
	return ParseDirectorPolicy(raw)
}

func ParseDirectorPolicy(raw []byte) (DirectorPolicy, error) {
	var policy DirectorPolicy
	if err := yaml.Unmarshal(raw, &policy); err != nil {
		return DirectorPolicy{}, fmt.Errorf("parse policy file: %w", err)
	}
	normalized := make(map[string]string, len(policy.DirectorByDirectorate))
	for directorate, nik := range policy.DirectorByDirectorate {
		key := directorateKey(directorate)
		nik = strings.TrimSpace(nik)
		if key == "" || nik == "" {
			return DirectorPolicy{}, fmt.Errorf("policy file: empty directorate or director in %q", directorate)
		}
		normalized[key] = nik
	}
	policy.DirectorByDirectorate = normalized
	for i, nik := range policy.Director2Allowed {
		policy.Director2Allowed[i] = strings.TrimSpace(nik)
	}
	return policy, nil
}

// Director1For returns the first director for a directorate.
func (p DirectorPolicy) Director1For(directorate string) (string, bool) {
	nik, ok := p.DirectorByDirectorate[directorateKey(directorate)]
	return nik, ok && nik != ""
}

func (p DirectorPolicy) AllowsDirector2(nik string) bool {
	nik = strings.TrimSpace(nik)
	return nik != "" && slices.Contains(p.Director2Allowed, nik)
}

// PickDirectors validates the creator's director 2 choice against the
// directorate's director 1.
func (p DirectorPolicy) PickDirectors(directorate, director2 string) (string, string, error) {
	director1, ok := p.Director1For(directorate)
	if !ok {
		return "", "", NoApproverResolved(ApprovalDirector1, directorate, nil)
	}
	director2 = strings.TrimSpace(director2)
	if !p.AllowsDirector2(director2) {
		return "", "", Validation("director %q is not allowed as second director", director2)
	}
	if director2 == director1 {
		return "", "", Validation("second director must differ from the first director %s", director1)
	}
	return director1, director2, nil
}

func directorateKey(value string) string {
	return strings.ToUpper(strings.Join(strings.Fields(value), " "))
}
