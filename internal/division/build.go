package division

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Member is a directory entry as the registry builder sees it.
type Member struct {
	NIK         string
	Role        string
	Division    string
	Directorate string
	Active      bool
}

// BuildGroups derives one Group per division from directory members. For
// each slot the active holder with the lowest NIK wins, so repeated syncs
// over the same directory produce the same registry.
func BuildGroups(members []Member, now time.Time) []Group {
	sorted := make([]Member, len(members))
	copy(sorted, members)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].NIK < sorted[j].NIK })

	groups := map[string]*Group{}
	for _, m := range sorted {
		code := NormalizeCode(m.Division)
		if code == "" || !m.Active {
			continue
		}
		g, ok := groups[code]
		if !ok {
			g = &Group{DivisionCode: code, DivisionName: strings.TrimSpace(m.Division), SyncedAt: now}
			groups[code] = g
		}
		if g.Directorate == "" {
			g.Directorate = strings.TrimSpace(m.Directorate)
		}
		switch strings.ToUpper(m.Role) {
		case "MANAGER":
			if g.ManagerNIK == "" {
				g.ManagerNIK = m.NIK
			}
		case "SENIOR_MANAGER":
			if g.SeniorManagerNIK == "" {
				g.SeniorManagerNIK = m.NIK
			}
		case "GENERAL_MANAGER":
			if g.GeneralManagerNIK == "" {
				g.GeneralManagerNIK = m.NIK
			}
		}
	}

	out := make([]Group, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DivisionCode < out[j].DivisionCode })
	return out
}

type groupFile struct {
	Divisions []Group `yaml:"divisions"`
}

// LoadGroups reads a registry override file:
//
//	divisions:
//	  - code: legal-compliance
//	    name: Legal & Compliance
//	    manager: "100200"
func LoadGroups(path string, now time.Time) ([]Group, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read division file: %w", err)
	}
	return ParseGroups(raw, now)
}

func ParseGroups(raw []byte, now time.Time) ([]Group, error) {
	var file groupFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse division file: %w", err)
	}
	seen := map[string]bool{}
	out := make([]Group, 0, len(file.Divisions))
	for i, g := range file.Divisions {
		code := NormalizeCode(g.DivisionCode)
		if code == "" {
			code = NormalizeCode(g.DivisionName)
		}
		if code == "" {
			return nil, fmt.Errorf("division %d: code or name is required", i)
		}
		if seen[code] {
			return nil, fmt.Errorf("division %s listed twice", code)
		}
		seen[code] = true
		g.DivisionCode = code
		if g.DivisionName == "" {
			g.DivisionName = code
		}
		g.SyncedAt = now
		out = append(out, g)
	}
	return out, nil
}
