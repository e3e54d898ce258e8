package membership

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/nivara-labs/identity-core/internal/api"
)

type MockMembershipRepo struct {
	mock.Mock
}

func (m *MockMembershipRepo) AddMembership(ctx context.Context, actorID *uuid.UUID, userID, appID uuid.UUID, roleName string) (*api.Membership, error) {
	args := m.Called(ctx, actorID, userID, appID, roleName)
	ms, _ := args.Get(0).(*api.Membership)
	return ms, args.Error(1)
}

func (m *MockMembershipRepo) RemoveMembership(ctx context.Context, actorID *uuid.UUID, userID, appID uuid.UUID) error {
	return m.Called(ctx, actorID, userID, appID).Error(0)
}

func (m *MockMembershipRepo) ChangeRole(ctx context.Context, actorID *uuid.UUID, userID, appID uuid.UUID, newRoleName string) (*api.Membership, error) {
	args := m.Called(ctx, actorID, userID, appID, newRoleName)
	ms, _ := args.Get(0).(*api.Membership)
	return ms, args.Error(1)
}

func (m *MockMembershipRepo) ChangeMembershipStatus(ctx context.Context, actorID *uuid.UUID, userID, appID uuid.UUID, status api.MembershipStatus) (*api.Membership, error) {
	args := m.Called(ctx, actorID, userID, appID, status)
	ms, _ := args.Get(0).(*api.Membership)
	return ms, args.Error(1)
}

func (m *MockMembershipRepo) GetMembership(ctx context.Context, userID, appID uuid.UUID) (*api.Membership, error) {
	args := m.Called(ctx, userID, appID)
	ms, _ := args.Get(0).(*api.Membership)
	return ms, args.Error(1)
}

func (m *MockMembershipRepo) GetMembershipsForUser(ctx context.Context, userID uuid.UUID) ([]api.Membership, error) {
	args := m.Called(ctx, userID)
	ms, _ := args.Get(0).([]api.Membership)
	return ms, args.Error(1)
}

func (m *MockMembershipRepo) GetRoleForMembership(ctx context.Context, userID, appID uuid.UUID) (*api.Role, error) {
	args := m.Called(ctx, userID, appID)
	role, _ := args.Get(0).(*api.Role)
	return role, args.Error(1)
}

func (m *MockMembershipRepo) AccessibleApps(ctx context.Context, userID uuid.UUID) ([]api.App, error) {
	args := m.Called(ctx, userID)
	apps, _ := args.Get(0).([]api.App)
	return apps, args.Error(1)
}

type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) StatusChanged(ctx context.Context, userID uuid.UUID, from, to api.GlobalStatus) {
	m.Called(ctx, userID, from, to)
}

func (m *MockDispatcher) ContactChanged(ctx context.Context, userID uuid.UUID, field string) {
	m.Called(ctx, userID, field)
}

func (m *MockDispatcher) MembershipRevoked(ctx context.Context, userID, appID uuid.UUID) {
	m.Called(ctx, userID, appID)
}

func (m *MockDispatcher) ReactivationRequested(ctx context.Context, userID uuid.UUID) {
	m.Called(ctx, userID)
}

func (m *MockDispatcher) Close() error {
	return m.Called().Error(0)
}

func newTestMembershipService(repo MembershipRepo, dispatcher *MockDispatcher) *MembershipServiceImpl {
	return NewMembershipService(repo, dispatcher, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPermissionsForRole(t *testing.T) {
	t.Run("super admin yields wildcard regardless of stored list", func(t *testing.T) {
		role := &api.Role{Name: api.RoleSuperAdmin, Permissions: []string{"users.read"}}
		assert.Equal(t, []string{api.PermissionWildcard}, PermissionsForRole(role))
	})

	t.Run("regular role yields deduplicated sorted permissions", func(t *testing.T) {
		role := &api.Role{Name: "Moderator", Permissions: []string{"posts.delete", "users.read", "posts.delete"}}
		assert.Equal(t, []string{"posts.delete", "users.read"}, PermissionsForRole(role))
	})

	t.Run("empty role yields empty set", func(t *testing.T) {
		role := &api.Role{Name: "Guest"}
		assert.Empty(t, PermissionsForRole(role))
	})
}

func TestMembershipService_AddMembership(t *testing.T) {
	ctx := context.Background()
	userID, appID := uuid.New(), uuid.New()

	t.Run("success with explicit role", func(t *testing.T) {
		repo := new(MockMembershipRepo)
		svc := newTestMembershipService(repo, new(MockDispatcher))

		expected := &api.Membership{UserID: userID, AppID: appID, RoleName: "Moderator", Status: api.MembershipActive}
		repo.On("AddMembership", mock.Anything, (*uuid.UUID)(nil), userID, appID, "Moderator").Return(expected, nil)

		m, err := svc.AddMembership(ctx, nil, userID, appID, "Moderator")
		require.NoError(t, err)
		assert.Equal(t, api.MembershipActive, m.Status)
		repo.AssertExpectations(t)
	})

	t.Run("duplicate surfaces AlreadyMember", func(t *testing.T) {
		repo := new(MockMembershipRepo)
		svc := newTestMembershipService(repo, new(MockDispatcher))

		repo.On("AddMembership", mock.Anything, (*uuid.UUID)(nil), userID, appID, "").Return(nil, api.ErrAlreadyMember)

		_, err := svc.AddMembership(ctx, nil, userID, appID, "")
		assert.ErrorIs(t, err, api.ErrAlreadyMember)
	})

	t.Run("missing role surfaces RoleNotFound", func(t *testing.T) {
		repo := new(MockMembershipRepo)
		svc := newTestMembershipService(repo, new(MockDispatcher))

		repo.On("AddMembership", mock.Anything, (*uuid.UUID)(nil), userID, appID, "Overlord").Return(nil, api.ErrRoleNotFound)

		_, err := svc.AddMembership(ctx, nil, userID, appID, "Overlord")
		assert.ErrorIs(t, err, api.ErrRoleNotFound)
	})
}

func TestMembershipService_RemoveMembership(t *testing.T) {
	ctx := context.Background()
	userID, appID := uuid.New(), uuid.New()

	t.Run("success dispatches revocation", func(t *testing.T) {
		repo := new(MockMembershipRepo)
		dispatcher := new(MockDispatcher)
		svc := newTestMembershipService(repo, dispatcher)

		repo.On("RemoveMembership", mock.Anything, (*uuid.UUID)(nil), userID, appID).Return(nil)
		dispatcher.On("MembershipRevoked", mock.Anything, userID, appID).Return()

		err := svc.RemoveMembership(ctx, nil, userID, appID)
		require.NoError(t, err)
		dispatcher.AssertExpectations(t)
	})

	t.Run("last super admin blocks removal and no dispatch", func(t *testing.T) {
		repo := new(MockMembershipRepo)
		dispatcher := new(MockDispatcher)
		svc := newTestMembershipService(repo, dispatcher)

		repo.On("RemoveMembership", mock.Anything, (*uuid.UUID)(nil), userID, appID).Return(api.ErrLastSuperAdmin)

		err := svc.RemoveMembership(ctx, nil, userID, appID)
		assert.ErrorIs(t, err, api.ErrLastSuperAdmin)
		dispatcher.AssertNotCalled(t, "MembershipRevoked", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestMembershipService_ChangeRole(t *testing.T) {
	ctx := context.Background()
	userID, appID := uuid.New(), uuid.New()

	t.Run("empty role name rejected before repo", func(t *testing.T) {
		repo := new(MockMembershipRepo)
		svc := newTestMembershipService(repo, new(MockDispatcher))

		_, err := svc.ChangeRole(ctx, nil, userID, appID, "")
		assert.ErrorIs(t, err, api.ErrValidation)
		repo.AssertNotCalled(t, "ChangeRole", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("demoting sole super admin fails", func(t *testing.T) {
		repo := new(MockMembershipRepo)
		svc := newTestMembershipService(repo, new(MockDispatcher))

		repo.On("ChangeRole", ctx, (*uuid.UUID)(nil), userID, appID, "NormalUser").Return(nil, api.ErrLastSuperAdmin)

		_, err := svc.ChangeRole(ctx, nil, userID, appID, "NormalUser")
		assert.ErrorIs(t, err, api.ErrLastSuperAdmin)
	})

	t.Run("success", func(t *testing.T) {
		repo := new(MockMembershipRepo)
		svc := newTestMembershipService(repo, new(MockDispatcher))

		expected := &api.Membership{UserID: userID, AppID: appID, RoleName: "Moderator"}
		repo.On("ChangeRole", ctx, (*uuid.UUID)(nil), userID, appID, "Moderator").Return(expected, nil)

		m, err := svc.ChangeRole(ctx, nil, userID, appID, "Moderator")
		require.NoError(t, err)
		assert.Equal(t, "Moderator", m.RoleName)
	})
}

func TestMembershipService_ChangeMembershipStatus(t *testing.T) {
	ctx := context.Background()
	userID, appID := uuid.New(), uuid.New()

	t.Run("any valid status is accepted from any other", func(t *testing.T) {
		for _, status := range []api.MembershipStatus{api.MembershipActive, api.MembershipBanned, api.MembershipPending} {
			repo := new(MockMembershipRepo)
			svc := newTestMembershipService(repo, new(MockDispatcher))

			expected := &api.Membership{UserID: userID, AppID: appID, Status: status}
			repo.On("ChangeMembershipStatus", ctx, (*uuid.UUID)(nil), userID, appID, status).Return(expected, nil)

			m, err := svc.ChangeMembershipStatus(ctx, nil, userID, appID, status)
			require.NoError(t, err)
			assert.Equal(t, status, m.Status)
		}
	})

	t.Run("unknown status rejected", func(t *testing.T) {
		repo := new(MockMembershipRepo)
		svc := newTestMembershipService(repo, new(MockDispatcher))

		_, err := svc.ChangeMembershipStatus(ctx, nil, userID, appID, api.MembershipStatus("Suspended"))
		assert.ErrorIs(t, err, api.ErrValidation)
		repo.AssertNotCalled(t, "ChangeMembershipStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestMembershipService_EffectivePermissions(t *testing.T) {
	ctx := context.Background()
	userID, appID := uuid.New(), uuid.New()

	t.Run("super admin membership yields wildcard", func(t *testing.T) {
		repo := new(MockMembershipRepo)
		svc := newTestMembershipService(repo, new(MockDispatcher))

		repo.On("GetRoleForMembership", ctx, userID, appID).
			Return(&api.Role{Name: api.RoleSuperAdmin, Permissions: []string{"users.read"}}, nil)

		perms, err := svc.EffectivePermissions(ctx, userID, appID)
		require.NoError(t, err)
		assert.Equal(t, []string{api.PermissionWildcard}, perms)
	})

	t.Run("no membership yields NotFound", func(t *testing.T) {
		repo := new(MockMembershipRepo)
		svc := newTestMembershipService(repo, new(MockDispatcher))

		repo.On("GetRoleForMembership", ctx, userID, appID).Return(nil, api.ErrNotFound)

		_, err := svc.EffectivePermissions(ctx, userID, appID)
		assert.ErrorIs(t, err, api.ErrNotFound)
	})
}
