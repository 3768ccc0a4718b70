package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"legalflow/internal/directory"
	"legalflow/internal/division"
	"legalflow/internal/rbac"
	"legalflow/internal/workflow"
)

type fakeRegistry struct {
	groups map[string]division.Group
	delay  time.Duration
}

func (f *fakeRegistry) GetGroup(ctx context.Context, code string) (*division.Group, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	g, ok := f.groups[code]
	if !ok {
		return nil, nil
	}
	return &g, nil
}

func baseDirectory() *directory.Memory {
	return directory.NewMemory(
		directory.User{NIK: "111", Role: rbac.RoleRequester, Division: "Procurement", SupervisorNIK: "222", IsActive: true},
		directory.User{NIK: "222", Role: rbac.RoleManager, Division: "Procurement", IsActive: true},
		directory.User{NIK: "205", Role: rbac.RoleManager, Division: "Procurement", IsActive: true},
		directory.User{NIK: "300", Role: rbac.RoleGeneralManager, Division: "Procurement", IsActive: true},
		directory.User{NIK: "301", Role: rbac.RoleGeneralManager, Division: "IT", IsActive: true},
		directory.User{NIK: "400", Role: rbac.RoleAdminLegal, Division: "Legal", IsActive: true},
		directory.User{NIK: "500", Role: rbac.RoleSeniorManager, Division: "Finance", IsActive: true},
		directory.User{NIK: "900", Role: rbac.RoleDirector, Directorate: "Operations", IsActive: true},
		directory.User{NIK: "901", Role: rbac.RoleDirector, Directorate: "Operations", IsActive: false},
	)
}

func TestResolveTiers(t *testing.T) {
	dir := baseDirectory()
	reg := &fakeRegistry{groups: map[string]division.Group{
		"FINANCE": {DivisionCode: "FINANCE", GeneralManagerNIK: "999", SeniorManagerNIK: "500"},
	}}
	r := New(dir, reg, time.Second)
	ctx := context.Background()

	cases := []struct {
		name string
		req  Request
		nik  string
		tier Tier
	}{
		{
			name: "explicit row wins",
			req:  Request{Stage: workflow.ApprovalSupervisor, Division: "Procurement", SupervisorNIK: "222", PendingApprover: "777"},
			nik:  "777", tier: TierExplicit,
		},
		{
			name: "supervisor direct link",
			req:  Request{Stage: workflow.ApprovalSupervisor, OwnerNIK: "111", Division: "Procurement", SupervisorNIK: "222"},
			nik:  "222", tier: TierDirectLink,
		},
		{
			name: "supervisor falls back to lowest manager nik",
			req:  Request{Stage: workflow.ApprovalSupervisor, OwnerNIK: "111", Division: "procurement"},
			nik:  "205", tier: TierRoleClass,
		},
		{
			name: "general manager scoped to division",
			req:  Request{Stage: workflow.ApprovalGeneralManager, Division: "Procurement"},
			nik:  "300", tier: TierRoleClass,
		},
		{
			name: "legal admin is global",
			req:  Request{Stage: workflow.ApprovalLegalAdmin, Division: "Procurement"},
			nik:  "400", tier: TierRoleClass,
		},
		{
			name: "registry skips unknown general manager",
			req:  Request{Stage: workflow.ApprovalGeneralManager, Division: "Finance"},
			nik:  "500", tier: TierRegistry,
		},
		{
			name: "director slot",
			req:  Request{Stage: workflow.ApprovalDirector1, Directorate: "Operations", Director1NIK: "900"},
			nik:  "900", tier: TierDirectLink,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := r.Resolve(ctx, tc.req)
			require.NoError(t, err)
			assert.Equal(t, tc.nik, res.ApproverNIK)
			assert.Equal(t, tc.tier, res.Tier)
			assert.Equal(t, workflow.EligibilityVersion, res.Version)
		})
	}
}

func TestResolveInactiveSupervisorFallsThrough(t *testing.T) {
	dir := baseDirectory()
	dir.Put(directory.User{NIK: "222", Role: rbac.RoleManager, Division: "Procurement", IsActive: false})
	r := New(dir, nil, time.Second)

	res, err := r.Resolve(context.Background(), Request{Stage: workflow.ApprovalSupervisor, OwnerNIK: "111", Division: "Procurement", SupervisorNIK: "222"})
	require.NoError(t, err)
	assert.Equal(t, "205", res.ApproverNIK)
	assert.Equal(t, TierRoleClass, res.Tier)
}

func TestResolveExhausted(t *testing.T) {
	r := New(baseDirectory(), &fakeRegistry{}, time.Second)
	_, err := r.Resolve(context.Background(), Request{Stage: workflow.ApprovalGeneralManager, Division: "Marketing"})
	require.ErrorIs(t, err, workflow.ErrNoApproverResolved)
	assert.Contains(t, err.Error(), "Marketing")

	_, err = r.Resolve(context.Background(), Request{Stage: workflow.ApprovalDirector2, Director2NIK: "901"})
	require.ErrorIs(t, err, workflow.ErrNoApproverResolved)
}

func TestResolveTimeoutIsNoApprover(t *testing.T) {
	reg := &fakeRegistry{delay: time.Second}
	r := New(directory.NewMemory(), reg, 20*time.Millisecond)
	_, err := r.Resolve(context.Background(), Request{Stage: workflow.ApprovalGeneralManager, Division: "Finance"})
	require.ErrorIs(t, err, workflow.ErrNoApproverResolved)
}

func TestResolveIsDeterministic(t *testing.T) {
	r := New(baseDirectory(), nil, time.Second)
	req := Request{Stage: workflow.ApprovalSupervisor, OwnerNIK: "111", Division: "Procurement"}
	first, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := r.Resolve(context.Background(), req)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestCandidates(t *testing.T) {
	r := New(baseDirectory(), nil, time.Second)
	niks, err := r.Candidates(context.Background(), Request{Stage: workflow.ApprovalSupervisor, OwnerNIK: "111", Division: "Procurement", SupervisorNIK: "222"})
	require.NoError(t, err)
	assert.Equal(t, []string{"222", "205"}, niks)
}
