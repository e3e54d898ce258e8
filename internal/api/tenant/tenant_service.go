package tenant

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/nivara-labs/identity-core/internal/api"
)

var _ TenantService = (*TenantServiceImpl)(nil)

type TenantService interface {
	CreateApp(ctx context.Context, actorID *uuid.UUID, name, baseURL string) (*api.App, error)
	UpdateApp(ctx context.Context, actorID *uuid.UUID, appID uuid.UUID, baseURL *string, isActive *bool) (*api.App, error)
	GetApp(ctx context.Context, appID uuid.UUID) (*api.App, error)
	ListApps(ctx context.Context) ([]api.App, error)

	CreateRole(ctx context.Context, actorID *uuid.UUID, appID uuid.UUID, name string, permissions []string) (*api.Role, error)
	GetRole(ctx context.Context, appID uuid.UUID, name string) (*api.Role, error)
	ListRoles(ctx context.Context, appID uuid.UUID) ([]api.Role, error)
}

type TenantServiceImpl struct {
	logger *slog.Logger
	repo   TenantRepo
}

func NewTenantService(repo TenantRepo, logger *slog.Logger) *TenantServiceImpl {
	return &TenantServiceImpl{
		logger: logger,
		repo:   repo,
	}
}

func (s *TenantServiceImpl) CreateApp(ctx context.Context, actorID *uuid.UUID, name, baseURL string) (*api.App, error) {
	l := s.logger.With(slog.String("method", "CreateApp"), slog.String("name", name))

	if name == "" {
		return nil, fmt.Errorf("app name is required: %w", api.ErrValidation)
	}

	app, err := s.repo.CreateApp(ctx, actorID, name, baseURL)
	if err != nil {
		l.WarnContext(ctx, "Failed to create app", slog.Any("error", err))
		return nil, fmt.Errorf("error creating app: %w", err)
	}

	l.InfoContext(ctx, "App created", slog.String("appID", app.ID.String()))
	return app, nil
}

func (s *TenantServiceImpl) UpdateApp(ctx context.Context, actorID *uuid.UUID, appID uuid.UUID, baseURL *string, isActive *bool) (*api.App, error) {
	l := s.logger.With(slog.String("method", "UpdateApp"), slog.String("appID", appID.String()))

	if baseURL == nil && isActive == nil {
		return nil, fmt.Errorf("nothing to update: %w", api.ErrValidation)
	}

	app, err := s.repo.UpdateApp(ctx, actorID, appID, baseURL, isActive)
	if err != nil {
		l.WarnContext(ctx, "Failed to update app", slog.Any("error", err))
		return nil, fmt.Errorf("error updating app: %w", err)
	}

	l.InfoContext(ctx, "App updated")
	return app, nil
}

func (s *TenantServiceImpl) GetApp(ctx context.Context, appID uuid.UUID) (*api.App, error) {
	app, err := s.repo.GetApp(ctx, appID)
	if err != nil {
		return nil, fmt.Errorf("error fetching app: %w", err)
	}
	return app, nil
}

func (s *TenantServiceImpl) ListApps(ctx context.Context) ([]api.App, error) {
	apps, err := s.repo.ListApps(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing apps: %w", err)
	}
	return apps, nil
}

func (s *TenantServiceImpl) CreateRole(ctx context.Context, actorID *uuid.UUID, appID uuid.UUID, name string, permissions []string) (*api.Role, error) {
	l := s.logger.With(slog.String("method", "CreateRole"),
		slog.String("appID", appID.String()),
		slog.String("name", name))

	if name == "" {
		return nil, fmt.Errorf("role name is required: %w", api.ErrValidation)
	}

	role, err := s.repo.CreateRole(ctx, actorID, appID, name, permissions)
	if err != nil {
		l.WarnContext(ctx, "Failed to create role", slog.Any("error", err))
		return nil, fmt.Errorf("error creating role: %w", err)
	}

	l.InfoContext(ctx, "Role created", slog.String("roleID", role.ID.String()))
	return role, nil
}

func (s *TenantServiceImpl) GetRole(ctx context.Context, appID uuid.UUID, name string) (*api.Role, error) {
	role, err := s.repo.GetRole(ctx, appID, name)
	if err != nil {
		return nil, fmt.Errorf("error fetching role: %w", err)
	}
	return role, nil
}

func (s *TenantServiceImpl) ListRoles(ctx context.Context, appID uuid.UUID) ([]api.Role, error) {
	roles, err := s.repo.ListRoles(ctx, appID)
	if err != nil {
		return nil, fmt.Errorf("error listing roles: %w", err)
	}
	return roles, nil
}
