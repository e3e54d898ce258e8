package membership

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

var _ MembershipRepo = (*PostgresMembershipRepo)(nil)

// MembershipRepo persists app memberships. Every mutation runs in one
// transaction that locks the rows it checks, so the legality check and the
// write are never separated by a concurrent writer. In particular the
// last-SuperAdmin count is taken under FOR UPDATE locks on the app's
// SuperAdmin memberships.
type MembershipRepo interface {
	AddMembership(ctx context.Context, actorID *uuid.UUID, userID, appID uuid.UUID, roleName string) (*api.Membership, error)
	RemoveMembership(ctx context.Context, actorID *uuid.UUID, userID, appID uuid.UUID) error
	ChangeRole(ctx context.Context, actorID *uuid.UUID, userID, appID uuid.UUID, newRoleName string) (*api.Membership, error)
	ChangeMembershipStatus(ctx context.Context, actorID *uuid.UUID, userID, appID uuid.UUID, status api.MembershipStatus) (*api.Membership, error)
	GetMembership(ctx context.Context, userID, appID uuid.UUID) (*api.Membership, error)
	GetMembershipsForUser(ctx context.Context, userID uuid.UUID) ([]api.Membership, error)
	GetRoleForMembership(ctx context.Context, userID, appID uuid.UUID) (*api.Role, error)
	AccessibleApps(ctx context.Context, userID uuid.UUID) ([]api.App, error)
}

type PostgresMembershipRepo struct {
	logger   *slog.Logger
	pgpool   api.PGXPool
	recorder audit.Recorder
}

func NewPostgresMembershipRepo(pgpool api.PGXPool, recorder audit.Recorder, logger *slog.Logger) *PostgresMembershipRepo {
	return &PostgresMembershipRepo{
		logger:   logger,
		pgpool:   pgpool,
		recorder: recorder,
	}
}

const membershipColumns = `m.user_id, m.app_id, m.role_id, r.name, m.status, m.last_login_at, m.created_at`

const membershipQuery = `SELECT ` + membershipColumns + `
	 FROM app_memberships m JOIN roles r ON r.id = m.role_id`

func scanMembership(row pgx.Row) (*api.Membership, error) {
	var m api.Membership
	err := row.Scan(&m.UserID, &m.AppID, &m.RoleID, &m.RoleName, &m.Status, &m.LastLoginAt, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *PostgresMembershipRepo) GetMembership(ctx context.Context, userID, appID uuid.UUID) (*api.Membership, error) {
	row := r.pgpool.QueryRow(ctx,
		membershipQuery+` WHERE m.user_id = $1 AND m.app_id = $2`, userID, appID)
	m, err := scanMembership(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("membership %s/%s: %w", userID, appID, api.ErrNotFound)
		}
		return nil, fmt.Errorf("get membership: %w", err)
	}
	return m, nil
}

func (r *PostgresMembershipRepo) GetMembershipsForUser(ctx context.Context, userID uuid.UUID) ([]api.Membership, error) {
	rows, err := r.pgpool.Query(ctx,
		membershipQuery+` WHERE m.user_id = $1 ORDER BY m.created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()

	var out []api.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memberships: %w", err)
	}
	return out, nil
}

func (r *PostgresMembershipRepo) GetRoleForMembership(ctx context.Context, userID, appID uuid.UUID) (*api.Role, error) {
	row := r.pgpool.QueryRow(ctx,
		`SELECT r.id, r.app_id, r.name, r.permissions, r.is_sealed
		 FROM app_memberships m JOIN roles r ON r.id = m.role_id
		 WHERE m.user_id = $1 AND m.app_id = $2`, userID, appID)
	var role api.Role
	err := row.Scan(&role.ID, &role.AppID, &role.Name, &role.Permissions, &role.IsSealed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("membership %s/%s: %w", userID, appID, api.ErrNotFound)
		}
		return nil, fmt.Errorf("get membership role: %w", err)
	}
	return &role, nil
}

func (r *PostgresMembershipRepo) AccessibleApps(ctx context.Context, userID uuid.UUID) ([]api.App, error) {
	rows, err := r.pgpool.Query(ctx,
		`SELECT a.id, a.name, a.base_url, a.is_active, a.created_at
		 FROM apps a JOIN app_memberships m ON m.app_id = a.id
		 WHERE m.user_id = $1 AND m.status = $2 AND a.is_active = TRUE
		 ORDER BY a.name`, userID, api.MembershipActive)
	if err != nil {
		return nil, fmt.Errorf("list accessible apps: %w", err)
	}
	defer rows.Close()

	var out []api.App
	for rows.Next() {
		var a api.App
		if err := rows.Scan(&a.ID, &a.Name, &a.BaseURL, &a.IsActive, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan app: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate apps: %w", err)
	}
	return out, nil
}

// resolveRole finds the role to attach: the named role when given, otherwise
// the first default role name present for the app.
func resolveRole(ctx context.Context, tx pgx.Tx, appID uuid.UUID, roleName string) (*api.Role, error) {
	candidates := []string{roleName}
	if roleName == "" {
		candidates = api.DefaultRoleNames
	}
	for _, name := range candidates {
		row := tx.QueryRow(ctx,
			`SELECT id, app_id, name, permissions, is_sealed FROM roles WHERE app_id = $1 AND name = $2`,
			appID, name)
		var role api.Role
		err := row.Scan(&role.ID, &role.AppID, &role.Name, &role.Permissions, &role.IsSealed)
		if err == nil {
			return &role, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("resolve role %q: %w", name, api.MapStoreError(err))
		}
	}
	return nil, fmt.Errorf("role %q for app %s: %w", roleName, appID, api.ErrRoleNotFound)
}

// lockApp takes the app row lock. Transactions that count SuperAdmin
// memberships acquire this first so concurrent removals of the last two
// SuperAdmins serialize here instead of deadlocking on each other's
// membership rows.
func lockApp(ctx context.Context, tx pgx.Tx, appID uuid.UUID) error {
	var id uuid.UUID
	err := tx.QueryRow(ctx, `SELECT id FROM apps WHERE id = $1 FOR UPDATE`, appID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("app %s: %w", appID, api.ErrNotFound)
		}
		return fmt.Errorf("lock app: %w", api.MapStoreError(err))
	}
	return nil
}

// lockMembership reads a membership FOR UPDATE, together with its role name.
// Only the membership row is locked; the role row itself stays shared.
func lockMembership(ctx context.Context, tx pgx.Tx, userID, appID uuid.UUID) (*api.Membership, error) {
	row := tx.QueryRow(ctx,
		`SELECT m.user_id, m.app_id, m.role_id, r.name, m.status, m.last_login_at, m.created_at
		 FROM app_memberships m JOIN roles r ON r.id = m.role_id
		 WHERE m.user_id = $1 AND m.app_id = $2 FOR UPDATE OF m`, userID, appID)
	m, err := scanMembership(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("membership %s/%s: %w", userID, appID, api.ErrNotFound)
		}
		return nil, fmt.Errorf("lock membership: %w", api.MapStoreError(err))
	}
	return m, nil
}

// countSuperAdmins counts the app's SuperAdmin memberships while locking them.
// Callers must hold the app lock (lockApp) before reaching here; the loser of
// a concurrent removal then re-reads the committed count and fails with the
// typed invariant error.
func countSuperAdmins(ctx context.Context, tx pgx.Tx, appID uuid.UUID) (int, error) {
	rows, err := tx.Query(ctx,
		`SELECT m.user_id FROM app_memberships m JOIN roles r ON r.id = m.role_id
		 WHERE m.app_id = $1 AND r.name = $2 FOR UPDATE OF m`, appID, api.RoleSuperAdmin)
	if err != nil {
		return 0, fmt.Errorf("lock super admin memberships: %w", api.MapStoreError(err))
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return 0, fmt.Errorf("scan super admin membership: %w", err)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate super admin memberships: %w", err)
	}
	return count, nil
}

func (r *PostgresMembershipRepo) AddMembership(ctx context.Context, actorID *uuid.UUID, userID, appID uuid.UUID, roleName string) (*api.Membership, error) {
	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin add membership: %w", api.MapStoreError(err))
	}
	defer tx.Rollback(ctx)

	role, err := resolveRole(ctx, tx, appID, roleName)
	if err != nil {
		return nil, err
	}

	m := api.Membership{
		UserID:    userID,
		AppID:     appID,
		RoleID:    role.ID,
		RoleName:  role.Name,
		Status:    api.MembershipActive,
		CreatedAt: time.Now().UTC(),
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO app_memberships (user_id, app_id, role_id, status, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		m.UserID, m.AppID, m.RoleID, m.Status, m.CreatedAt)
	if err != nil {
		if errors.Is(api.MapStoreError(err), api.ErrAlreadyExists) {
			return nil, fmt.Errorf("membership %s/%s: %w", userID, appID, api.ErrAlreadyMember)
		}
		return nil, fmt.Errorf("insert membership: %w", api.MapStoreError(err))
	}

	err = r.recorder.Record(ctx, tx, audit.Entry{
		ActorID:    actorID,
		Action:     audit.ActionMembershipAdded,
		EntityName: "UserAppMembership",
		EntityID:   userID.String(),
		After:      map[string]any{"role": role.Name, "status": m.Status},
		UserID:     &userID,
		AppID:      &appID,
	})
	if err != nil {
		return nil, fmt.Errorf("audit membership add: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit add membership: %w", api.MapStoreError(err))
	}
	return &m, nil
}

func (r *PostgresMembershipRepo) RemoveMembership(ctx context.Context, actorID *uuid.UUID, userID, appID uuid.UUID) error {
	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin remove membership: %w", api.MapStoreError(err))
	}
	defer tx.Rollback(ctx)

	// App lock first: it is the serialization point for the SuperAdmin count.
	if err := lockApp(ctx, tx, appID); err != nil {
		return err
	}

	m, err := lockMembership(ctx, tx, userID, appID)
	if err != nil {
		return err
	}

	if m.RoleName == api.RoleSuperAdmin {
		count, err := countSuperAdmins(ctx, tx, appID)
		if err != nil {
			return err
		}
		if count <= 1 {
			return fmt.Errorf("removing sole %s of app %s: %w", api.RoleSuperAdmin, appID, api.ErrLastSuperAdmin)
		}
	}

	_, err = tx.Exec(ctx,
		`DELETE FROM app_memberships WHERE user_id = $1 AND app_id = $2`, userID, appID)
	if err != nil {
		return fmt.Errorf("delete membership: %w", api.MapStoreError(err))
	}

	err = r.recorder.Record(ctx, tx, audit.Entry{
		ActorID:    actorID,
		Action:     audit.ActionMembershipRemoved,
		EntityName: "UserAppMembership",
		EntityID:   userID.String(),
		Before:     map[string]any{"role": m.RoleName, "status": m.Status},
		UserID:     &userID,
		AppID:      &appID,
	})
	if err != nil {
		return fmt.Errorf("audit membership removal: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit remove membership: %w", api.MapStoreError(err))
	}
	return nil
}

func (r *PostgresMembershipRepo) ChangeRole(ctx context.Context, actorID *uuid.UUID, userID, appID uuid.UUID, newRoleName string) (*api.Membership, error) {
	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin change role: %w", api.MapStoreError(err))
	}
	defer tx.Rollback(ctx)

	// App lock first: it is the serialization point for the SuperAdmin count.
	if err := lockApp(ctx, tx, appID); err != nil {
		return nil, err
	}

	m, err := lockMembership(ctx, tx, userID, appID)
	if err != nil {
		return nil, err
	}

	newRole, err := resolveRole(ctx, tx, appID, newRoleName)
	if err != nil {
		return nil, err
	}
	if newRole.ID == m.RoleID {
		// Same role: no state to write, but the operation is still audited.
		err = r.recorder.Record(ctx, tx, audit.Entry{
			ActorID:    actorID,
			Action:     audit.ActionMembershipRoleChanged,
			EntityName: "UserAppMembership",
			EntityID:   userID.String(),
			Before:     map[string]any{"role": m.RoleName},
			After:      map[string]any{"role": newRole.Name},
			UserID:     &userID,
			AppID:      &appID,
		})
		if err != nil {
			return nil, fmt.Errorf("audit role change: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit change role: %w", api.MapStoreError(err))
		}
		return m, nil
	}

	if m.RoleName == api.RoleSuperAdmin && newRole.Name != api.RoleSuperAdmin {
		count, err := countSuperAdmins(ctx, tx, appID)
		if err != nil {
			return nil, err
		}
		if count <= 1 {
			return nil, fmt.Errorf("demoting sole %s of app %s: %w", api.RoleSuperAdmin, appID, api.ErrLastSuperAdmin)
		}
	}

	_, err = tx.Exec(ctx,
		`UPDATE app_memberships SET role_id = $1 WHERE user_id = $2 AND app_id = $3`,
		newRole.ID, userID, appID)
	if err != nil {
		return nil, fmt.Errorf("update membership role: %w", api.MapStoreError(err))
	}

	err = r.recorder.Record(ctx, tx, audit.Entry{
		ActorID:    actorID,
		Action:     audit.ActionMembershipRoleChanged,
		EntityName: "UserAppMembership",
		EntityID:   userID.String(),
		Before:     map[string]any{"role": m.RoleName},
		After:      map[string]any{"role": newRole.Name},
		UserID:     &userID,
		AppID:      &appID,
	})
	if err != nil {
		return nil, fmt.Errorf("audit role change: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit change role: %w", api.MapStoreError(err))
	}

	updated := *m
	updated.RoleID = newRole.ID
	updated.RoleName = newRole.Name
	return &updated, nil
}

func (r *PostgresMembershipRepo) ChangeMembershipStatus(ctx context.Context, actorID *uuid.UUID, userID, appID uuid.UUID, status api.MembershipStatus) (*api.Membership, error) {
	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin change membership status: %w", api.MapStoreError(err))
	}
	defer tx.Rollback(ctx)

	m, err := lockMembership(ctx, tx, userID, appID)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE app_memberships SET status = $1 WHERE user_id = $2 AND app_id = $3`,
		status, userID, appID)
	if err != nil {
		return nil, fmt.Errorf("update membership status: %w", api.MapStoreError(err))
	}

	err = r.recorder.Record(ctx, tx, audit.Entry{
		ActorID:    actorID,
		Action:     audit.ActionMembershipStatusChanged,
		EntityName: "UserAppMembership",
		EntityID:   userID.String(),
		Before:     map[string]any{"status": m.Status},
		After:      map[string]any{"status": status},
		UserID:     &userID,
		AppID:      &appID,
	})
	if err != nil {
		return nil, fmt.Errorf("audit membership status change: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit change membership status: %w", api.MapStoreError(err))
	}

	updated := *m
	updated.Status = status
	return &updated, nil
}
