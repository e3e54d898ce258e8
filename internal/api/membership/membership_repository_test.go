package membership

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nivara-labs/identity-core/internal/api"
	"github.com/nivara-labs/identity-core/internal/api/audit"
)

func newTestMembershipRepo(t *testing.T) (*PostgresMembershipRepo, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := NewPostgresMembershipRepo(mockPool, audit.NewPostgresRecorder(logger), logger)
	return repo, mockPool
}

func expectAppLock(mockPool pgxmock.PgxPoolIface, appID uuid.UUID) {
	mockPool.ExpectQuery(`SELECT id FROM apps WHERE id = \$1 FOR UPDATE`).
		WithArgs(appID).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(appID))
}

func expectMembershipLock(mockPool pgxmock.PgxPoolIface, userID, appID, roleID uuid.UUID, roleName string) {
	mockPool.ExpectQuery(`WHERE m.user_id = \$1 AND m.app_id = \$2 FOR UPDATE OF m`).
		WithArgs(userID, appID).
		WillReturnRows(pgxmock.NewRows([]string{
			"user_id", "app_id", "role_id", "name", "status", "last_login_at", "created_at",
		}).AddRow(userID, appID, roleID, roleName, api.MembershipActive, (*time.Time)(nil), time.Now().UTC()))
}

func expectSuperAdminCount(mockPool pgxmock.PgxPoolIface, appID uuid.UUID, holders ...uuid.UUID) {
	rows := pgxmock.NewRows([]string{"user_id"})
	for _, id := range holders {
		rows.AddRow(id)
	}
	mockPool.ExpectQuery(`SELECT m.user_id FROM app_memberships`).
		WithArgs(appID, api.RoleSuperAdmin).
		WillReturnRows(rows)
}

func expectAuditInsert(mockPool pgxmock.PgxPoolIface, action string) {
	mockPool.ExpectExec("INSERT INTO audit_logs").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), action, "UserAppMembership",
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
}

func TestPostgresMembershipRepo_RemoveMembership(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()
	appID := uuid.New()
	roleID := uuid.New()

	t.Run("sole super admin is rejected with nothing written", func(t *testing.T) {
		repo, mockPool := newTestMembershipRepo(t)

		mockPool.ExpectBegin()
		expectAppLock(mockPool, appID)
		expectMembershipLock(mockPool, userID, appID, roleID, api.RoleSuperAdmin)
		expectSuperAdminCount(mockPool, appID, userID)
		mockPool.ExpectRollback()

		err := repo.RemoveMembership(ctx, nil, userID, appID)
		assert.ErrorIs(t, err, api.ErrLastSuperAdmin)
		assert.NoError(t, mockPool.ExpectationsWereMet(), "no DELETE may run after the count check fails")
	})

	t.Run("removal proceeds when another super admin remains", func(t *testing.T) {
		repo, mockPool := newTestMembershipRepo(t)
		other := uuid.New()

		mockPool.ExpectBegin()
		expectAppLock(mockPool, appID)
		expectMembershipLock(mockPool, userID, appID, roleID, api.RoleSuperAdmin)
		expectSuperAdminCount(mockPool, appID, userID, other)
		mockPool.ExpectExec("DELETE FROM app_memberships").
			WithArgs(userID, appID).
			WillReturnResult(pgxmock.NewResult("DELETE", 1))
		expectAuditInsert(mockPool, audit.ActionMembershipRemoved)
		mockPool.ExpectCommit()

		err := repo.RemoveMembership(ctx, nil, userID, appID)
		require.NoError(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("non super admin removal skips the count", func(t *testing.T) {
		repo, mockPool := newTestMembershipRepo(t)

		mockPool.ExpectBegin()
		expectAppLock(mockPool, appID)
		expectMembershipLock(mockPool, userID, appID, roleID, "User")
		mockPool.ExpectExec("DELETE FROM app_memberships").
			WithArgs(userID, appID).
			WillReturnResult(pgxmock.NewResult("DELETE", 1))
		expectAuditInsert(mockPool, audit.ActionMembershipRemoved)
		mockPool.ExpectCommit()

		err := repo.RemoveMembership(ctx, nil, userID, appID)
		require.NoError(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresMembershipRepo_ChangeRole(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()
	appID := uuid.New()
	superRoleID := uuid.New()

	expectRoleLookup := func(mockPool pgxmock.PgxPoolIface, name string, roleID uuid.UUID) {
		mockPool.ExpectQuery(`FROM roles WHERE app_id = \$1 AND name = \$2`).
			WithArgs(appID, name).
			WillReturnRows(pgxmock.NewRows([]string{"id", "app_id", "name", "permissions", "is_sealed"}).
				AddRow(roleID, appID, name, []string{}, false))
	}

	t.Run("demoting the sole super admin is rejected", func(t *testing.T) {
		repo, mockPool := newTestMembershipRepo(t)

		mockPool.ExpectBegin()
		expectAppLock(mockPool, appID)
		expectMembershipLock(mockPool, userID, appID, superRoleID, api.RoleSuperAdmin)
		expectRoleLookup(mockPool, "User", uuid.New())
		expectSuperAdminCount(mockPool, appID, userID)
		mockPool.ExpectRollback()

		_, err := repo.ChangeRole(ctx, nil, userID, appID, "User")
		assert.ErrorIs(t, err, api.ErrLastSuperAdmin)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("demotion proceeds when another super admin remains", func(t *testing.T) {
		repo, mockPool := newTestMembershipRepo(t)
		userRoleID := uuid.New()

		mockPool.ExpectBegin()
		expectAppLock(mockPool, appID)
		expectMembershipLock(mockPool, userID, appID, superRoleID, api.RoleSuperAdmin)
		expectRoleLookup(mockPool, "User", userRoleID)
		expectSuperAdminCount(mockPool, appID, userID, uuid.New())
		mockPool.ExpectExec("UPDATE app_memberships SET role_id").
			WithArgs(userRoleID, userID, appID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		expectAuditInsert(mockPool, audit.ActionMembershipRoleChanged)
		mockPool.ExpectCommit()

		m, err := repo.ChangeRole(ctx, nil, userID, appID, "User")
		require.NoError(t, err)
		assert.Equal(t, "User", m.RoleName)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("same role writes no state but is audited", func(t *testing.T) {
		repo, mockPool := newTestMembershipRepo(t)
		userRoleID := uuid.New()

		mockPool.ExpectBegin()
		expectAppLock(mockPool, appID)
		expectMembershipLock(mockPool, userID, appID, userRoleID, "User")
		expectRoleLookup(mockPool, "User", userRoleID)
		expectAuditInsert(mockPool, audit.ActionMembershipRoleChanged)
		mockPool.ExpectCommit()

		m, err := repo.ChangeRole(ctx, nil, userID, appID, "User")
		require.NoError(t, err)
		assert.Equal(t, "User", m.RoleName)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}
