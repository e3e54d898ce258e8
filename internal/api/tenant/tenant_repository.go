package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nivara-labs/identity-core/internal/api"
	"github.com/nivara-labs/identity-core/internal/api/audit"
)

var _ TenantRepo = (*PostgresTenantRepo)(nil)

// TenantRepo persists apps and their roles. App identity is immutable once
// created; UpdateApp touches only base_url and is_active.
type TenantRepo interface {
	CreateApp(ctx context.Context, actorID *uuid.UUID, name, baseURL string) (*api.App, error)
	UpdateApp(ctx context.Context, actorID *uuid.UUID, appID uuid.UUID, baseURL *string, isActive *bool) (*api.App, error)
	GetApp(ctx context.Context, appID uuid.UUID) (*api.App, error)
	ListApps(ctx context.Context) ([]api.App, error)

	CreateRole(ctx context.Context, actorID *uuid.UUID, appID uuid.UUID, name string, permissions []string) (*api.Role, error)
	GetRole(ctx context.Context, appID uuid.UUID, name string) (*api.Role, error)
	ListRoles(ctx context.Context, appID uuid.UUID) ([]api.Role, error)
}

type PostgresTenantRepo struct {
	logger   *slog.Logger
	pgpool   api.PGXPool
	recorder audit.Recorder
}

func NewPostgresTenantRepo(pgpool api.PGXPool, recorder audit.Recorder, logger *slog.Logger) *PostgresTenantRepo {
	return &PostgresTenantRepo{
		logger:   logger,
		pgpool:   pgpool,
		recorder: recorder,
	}
}

func (r *PostgresTenantRepo) CreateApp(ctx context.Context, actorID *uuid.UUID, name, baseURL string) (*api.App, error) {
	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin app create: %w", api.MapStoreError(err))
	}
	defer tx.Rollback(ctx)

	app := api.App{
		ID:        uuid.New(),
		Name:      name,
		BaseURL:   baseURL,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO apps (id, name, base_url, is_active, created_at) VALUES ($1, $2, $3, $4, $5)`,
		app.ID, app.Name, app.BaseURL, app.IsActive, app.CreatedAt)
	if err != nil {
		if errors.Is(api.MapStoreError(err), api.ErrAlreadyExists) {
			return nil, fmt.Errorf("app %q: %w", name, api.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("insert app: %w", api.MapStoreError(err))
	}

	err = r.recorder.Record(ctx, tx, audit.Entry{
		ActorID:    actorID,
		Action:     audit.ActionAppCreated,
		EntityName: "App",
		EntityID:   app.ID.String(),
		After:      map[string]any{"name": app.Name, "base_url": app.BaseURL},
		AppID:      &app.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("audit app create: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit app create: %w", api.MapStoreError(err))
	}
	return &app, nil
}

func (r *PostgresTenantRepo) UpdateApp(ctx context.Context, actorID *uuid.UUID, appID uuid.UUID, baseURL *string, isActive *bool) (*api.App, error) {
	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin app update: %w", api.MapStoreError(err))
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`SELECT id, name, base_url, is_active, created_at FROM apps WHERE id = $1 FOR UPDATE`, appID)
	var before api.App
	err = row.Scan(&before.ID, &before.Name, &before.BaseURL, &before.IsActive, &before.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("app %s: %w", appID, api.ErrNotFound)
		}
		return nil, fmt.Errorf("lock app: %w", api.MapStoreError(err))
	}

	after := before
	if baseURL != nil {
		after.BaseURL = *baseURL
	}
	if isActive != nil {
		after.IsActive = *isActive
	}

	_, err = tx.Exec(ctx,
		`UPDATE apps SET base_url = $1, is_active = $2 WHERE id = $3`,
		after.BaseURL, after.IsActive, appID)
	if err != nil {
		return nil, fmt.Errorf("update app: %w", api.MapStoreError(err))
	}

	err = r.recorder.Record(ctx, tx, audit.Entry{
		ActorID:    actorID,
		Action:     audit.ActionAppUpdated,
		EntityName: "App",
		EntityID:   appID.String(),
		Before:     &before,
		After:      &after,
		AppID:      &appID,
	})
	if err != nil {
		return nil, fmt.Errorf("audit app update: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit app update: %w", api.MapStoreError(err))
	}
	return &after, nil
}

func (r *PostgresTenantRepo) GetApp(ctx context.Context, appID uuid.UUID) (*api.App, error) {
	row := r.pgpool.QueryRow(ctx,
		`SELECT id, name, base_url, is_active, created_at FROM apps WHERE id = $1`, appID)
	var app api.App
	err := row.Scan(&app.ID, &app.Name, &app.BaseURL, &app.IsActive, &app.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("app %s: %w", appID, api.ErrNotFound)
		}
		return nil, fmt.Errorf("get app: %w", err)
	}
	return &app, nil
}

func (r *PostgresTenantRepo) ListApps(ctx context.Context) ([]api.App, error) {
	rows, err := r.pgpool.Query(ctx,
		`SELECT id, name, base_url, is_active, created_at FROM apps ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list apps: %w", err)
	}
	defer rows.Close()

	var out []api.App
	for rows.Next() {
		var app api.App
		if err := rows.Scan(&app.ID, &app.Name, &app.BaseURL, &app.IsActive, &app.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan app: %w", err)
		}
		out = append(out, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate apps: %w", err)
	}
	return out, nil
}

func (r *PostgresTenantRepo) CreateRole(ctx context.Context, actorID *uuid.UUID, appID uuid.UUID, name string, permissions []string) (*api.Role, error) {
	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin role create: %w", api.MapStoreError(err))
	}
	defer tx.Rollback(ctx)

	role := api.Role{
		ID:          uuid.New(),
		AppID:       appID,
		Name:        name,
		Permissions: permissions,
	}
	if role.Permissions == nil {
		role.Permissions = []string{}
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO roles (id, app_id, name, permissions) VALUES ($1, $2, $3, $4)`,
		role.ID, role.AppID, role.Name, role.Permissions)
	if err != nil {
		if errors.Is(api.MapStoreError(err), api.ErrAlreadyExists) {
			return nil, fmt.Errorf("role %q for app %s: %w", name, appID, api.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("insert role: %w", api.MapStoreError(err))
	}

	err = r.recorder.Record(ctx, tx, audit.Entry{
		ActorID:    actorID,
		Action:     audit.ActionRoleCreated,
		EntityName: "Role",
		EntityID:   role.ID.String(),
		After:      map[string]any{"name": role.Name, "permissions": role.Permissions},
		AppID:      &appID,
	})
	if err != nil {
		return nil, fmt.Errorf("audit role create: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit role create: %w", api.MapStoreError(err))
	}
	return &role, nil
}

func (r *PostgresTenantRepo) GetRole(ctx context.Context, appID uuid.UUID, name string) (*api.Role, error) {
	row := r.pgpool.QueryRow(ctx,
		`SELECT id, app_id, name, permissions, is_sealed FROM roles WHERE app_id = $1 AND name = $2`,
		appID, name)
	var role api.Role
	err := row.Scan(&role.ID, &role.AppID, &role.Name, &role.Permissions, &role.IsSealed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("role %q for app %s: %w", name, appID, api.ErrRoleNotFound)
		}
		return nil, fmt.Errorf("get role: %w", err)
	}
	return &role, nil
}

func (r *PostgresTenantRepo) ListRoles(ctx context.Context, appID uuid.UUID) ([]api.Role, error) {
	rows, err := r.pgpool.Query(ctx,
		`SELECT id, app_id, name, permissions, is_sealed FROM roles WHERE app_id = $1 ORDER BY name`, appID)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()

	var out []api.Role
	for rows.Next() {
		var role api.Role
		if err := rows.Scan(&role.ID, &role.AppID, &role.Name, &role.Permissions, &role.IsSealed); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		out = append(out, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roles: %w", err)
	}
	return out, nil
}
