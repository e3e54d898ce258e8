package tenant

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

type MockTenantRepo struct {
	mock.Mock
}

func (m *MockTenantRepo) CreateApp(ctx context.Context, actorID *uuid.UUID, name, baseURL string) (*api.App, error) {
	args := m.Called(ctx, actorID, name, baseURL)
	app, _ := args.Get(0).(*api.App)
	return app, args.Error(1)
}

func (m *MockTenantRepo) UpdateApp(ctx context.Context, actorID *uuid.UUID, appID uuid.UUID, baseURL *string, isActive *bool) (*api.App, error) {
	args := m.Called(ctx, actorID, appID, baseURL, isActive)
	app, _ := args.Get(0).(*api.App)
	return app, args.Error(1)
}

func (m *MockTenantRepo) GetApp(ctx context.Context, appID uuid.UUID) (*api.App, error) {
	args := m.Called(ctx, appID)
	app, _ := args.Get(0).(*api.App)
	return app, args.Error(1)
}

func (m *MockTenantRepo) ListApps(ctx context.Context) ([]api.App, error) {
	args := m.Called(ctx)
	apps, _ := args.Get(0).([]api.App)
	return apps, args.Error(1)
}

func (m *MockTenantRepo) CreateRole(ctx context.Context, actorID *uuid.UUID, appID uuid.UUID, name string, permissions []string) (*api.Role, error) {
	args := m.Called(ctx, actorID, appID, name, permissions)
	role, _ := args.Get(0).(*api.Role)
	return role, args.Error(1)
}

func (m *MockTenantRepo) GetRole(ctx context.Context, appID uuid.UUID, name string) (*api.Role, error) {
	args := m.Called(ctx, appID, name)
	role, _ := args.Get(0).(*api.Role)
	return role, args.Error(1)
}

func (m *MockTenantRepo) ListRoles(ctx context.Context, appID uuid.UUID) ([]api.Role, error) {
	args := m.Called(ctx, appID)
	roles, _ := args.Get(0).([]api.Role)
	return roles, args.Error(1)
}

func newTestTenantService(repo TenantRepo) *TenantServiceImpl {
	return NewTenantService(repo, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestTenantService_CreateApp(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		repo := new(MockTenantRepo)
		svc := newTestTenantService(repo)

		expected := &api.App{ID: uuid.New(), Name: "storefront", IsActive: true}
		repo.On("CreateApp", ctx, (*uuid.UUID)(nil), "storefront", "").Return(expected, nil)

		app, err := svc.CreateApp(ctx, nil, "storefront", "")
		require.NoError(t, err)
		assert.True(t, app.IsActive)
	})

	t.Run("empty name rejected", func(t *testing.T) {
		repo := new(MockTenantRepo)
		svc := newTestTenantService(repo)

		_, err := svc.CreateApp(ctx, nil, "", "")
		assert.ErrorIs(t, err, api.ErrValidation)
		repo.AssertNotCalled(t, "CreateApp", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("duplicate name conflicts", func(t *testing.T) {
		repo := new(MockTenantRepo)
		svc := newTestTenantService(repo)

		repo.On("CreateApp", ctx, (*uuid.UUID)(nil), "storefront", "").Return(nil, api.ErrAlreadyExists)

		_, err := svc.CreateApp(ctx, nil, "storefront", "")
		assert.ErrorIs(t, err, api.ErrAlreadyExists)
	})
}

func TestTenantService_UpdateApp(t *testing.T) {
	ctx := context.Background()
	appID := uuid.New()

	t.Run("no changes rejected", func(t *testing.T) {
		repo := new(MockTenantRepo)
		svc := newTestTenantService(repo)

		_, err := svc.UpdateApp(ctx, nil, appID, nil, nil)
		assert.ErrorIs(t, err, api.ErrValidation)
	})

	t.Run("deactivation", func(t *testing.T) {
		repo := new(MockTenantRepo)
		svc := newTestTenantService(repo)

		inactive := false
		expected := &api.App{ID: appID, Name: "storefront", IsActive: false}
		repo.On("UpdateApp", ctx, (*uuid.UUID)(nil), appID, (*string)(nil), &inactive).Return(expected, nil)

		app, err := svc.UpdateApp(ctx, nil, appID, nil, &inactive)
		require.NoError(t, err)
		assert.False(t, app.IsActive)
	})
}

func TestTenantService_CreateRole(t *testing.T) {
	ctx := context.Background()
	appID := uuid.New()

	t.Run("success", func(t *testing.T) {
		repo := new(MockTenantRepo)
		svc := newTestTenantService(repo)

		perms := []string{"users.read"}
		expected := &api.Role{ID: uuid.New(), AppID: appID, Name: "Moderator", Permissions: perms}
		repo.On("CreateRole", ctx, (*uuid.UUID)(nil), appID, "Moderator", perms).Return(expected, nil)

		role, err := svc.CreateRole(ctx, nil, appID, "Moderator", perms)
		require.NoError(t, err)
		assert.Equal(t, perms, role.Permissions)
	})

	t.Run("empty name rejected", func(t *testing.T) {
		repo := new(MockTenantRepo)
		svc := newTestTenantService(repo)

		_, err := svc.CreateRole(ctx, nil, appID, "", nil)
		assert.ErrorIs(t, err, api.ErrValidation)
	})
}
