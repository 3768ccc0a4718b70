package directory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"

	"legalflow/internal/division"
	"legalflow/internal/rbac"
)

// Memory is a Directory held in a map. legalctl uses it for dry runs against
// a YAML export; tests use it as a fixture.
type Memory struct {
	mu    sync.RWMutex
	users map[string]User
}

func NewMemory(users ...User) *Memory {
	m := &Memory{users: make(map[string]User, len(users))}
	for _, u := range users {
		m.users[u.NIK] = u
	}
	return m
}

func (m *Memory) Put(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.NIK] = u
}

func (m *Memory) GetUser(ctx context.Context, nik string) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[strings.TrimSpace(nik)]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *Memory) ListActiveByRoles(ctx context.Context, roles []rbac.Role, div string) ([]User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]User, 0)
	for _, u := range m.users {
		if !u.IsActive || !slices.Contains(roles, u.Role) {
			continue
		}
		if div != "" && !division.Same(u.Division, div) {
			continue
		}
		items = append(items, u)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].NIK < items[j].NIK })
	return items, nil
}

func (m *Memory) All() []User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]User, 0, len(m.users))
	for _, u := range m.users {
		items = append(items, u)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].NIK < items[j].NIK })
	return items
}
