package division

import "context"

// Static is a read-only Registry over a fixed set of groups, used for
// offline resolution against exported files.
type Static map[string]Group

func NewStatic(groups []Group) Static {
	out := make(Static, len(groups))
	for _, g := range groups {
		out[NormalizeCode(g.DivisionCode)] = g
	}
	return out
}

func (s Static) GetGroup(_ context.Context, divisionCode string) (*Group, error) {
	g, ok := s[NormalizeCode(divisionCode)]
	if !ok {
		return nil, nil
	}
	return &g, nil
}
