package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/markbates/goth"

	"github.com/nivara-labs/identity-core/internal/api"
	"github.com/nivara-labs/identity-core/internal/api/audit"
	"github.com/nivara-labs/identity-core/internal/api/status"
)

var _ AuthRepo = (*PostgresAuthRepo)(nil)

type AuthRepo interface {
	// Register creates the user together with its first app membership and
	// both audit entries in one transaction.
	Register(ctx context.Context, params RegisterParams) (*api.User, error)

	GetUserByEmail(ctx context.Context, email string) (*api.User, error)
	GetCredentials(ctx context.Context, email string) (*Credentials, error)
	GetCredentialsByID(ctx context.Context, userID uuid.UUID) (*Credentials, error)

	// UpdatePassword replaces the stored hash and audits the change.
	UpdatePassword(ctx context.Context, actorID *uuid.UUID, userID uuid.UUID, newHash string) error

	// ResetPassword consumes the reset code and replaces the hash in one
	// transaction.
	ResetPassword(ctx context.Context, userID uuid.UUID, code, newHash string, maxAttempts int) error

	RecordLoginFailure(ctx context.Context, userID uuid.UUID, lockUntil *time.Time) error
	ResetLoginFailures(ctx context.Context, userID uuid.UUID, appID *uuid.UUID) error

	StoreRefreshToken(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) error
	GetRefreshToken(ctx context.Context, token string) (userID uuid.UUID, expiresAt time.Time, revokedAt *time.Time, err error)
	RevokeRefreshToken(ctx context.Context, token string) error
	InvalidateAllUserRefreshTokens(ctx context.Context, userID uuid.UUID) error

	CreateOTP(ctx context.Context, userID uuid.UUID, code, channel, purpose string, expiresAt time.Time) error
	ConsumeOTP(ctx context.Context, userID uuid.UUID, code, channel, purpose string, maxAttempts int) error

	// GetOrCreateUserFromProvider resolves an external provider identity to a
	// local user, linking or creating as needed.
	GetOrCreateUserFromProvider(ctx context.Context, provider string, providerUser goth.User) (*api.User, error)

	// MarkReactivationRequested audits a reactivation request for a
	// soft-deleted user.
	MarkReactivationRequested(ctx context.Context, userID uuid.UUID) error

	// ConfirmReactivation consumes the reactivation code and applies the
	// SoftDeleted -> Active transition in one transaction.
	ConfirmReactivation(ctx context.Context, userID uuid.UUID, code string, maxAttempts int) (*api.User, error)
}

type PostgresAuthRepo struct {
	logger   *slog.Logger
	pgpool   *pgxpool.Pool
	recorder audit.Recorder
}

func NewPostgresAuthRepo(pgpool *pgxpool.Pool, recorder audit.Recorder, logger *slog.Logger) *PostgresAuthRepo {
	return &PostgresAuthRepo{
		logger:   logger,
		pgpool:   pgpool,
		recorder: recorder,
	}
}

const userColumns = `id, email, phone, email_verified, phone_verified, verification_mode,
       global_status, is_sealed, created_at, updated_at`

func scanUser(row pgx.Row) (*api.User, error) {
	var u api.User
	err := row.Scan(&u.ID, &u.Email, &u.Phone, &u.EmailVerified, &u.PhoneVerified,
		&u.VerificationMode, &u.Status, &u.IsSealed, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *PostgresAuthRepo) Register(ctx context.Context, params RegisterParams) (*api.User, error) {
	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin registration: %w", api.MapStoreError(err))
	}
	defer tx.Rollback(ctx)

	mode := params.VerificationMode
	if mode == "" {
		mode = api.VerifyEmail
	}

	now := time.Now().UTC()
	user := api.User{
		ID:               uuid.New(),
		Email:            params.Email,
		Phone:            params.Phone,
		VerificationMode: mode,
		Status:           api.StatusPendingAccountVerification,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO users (id, email, phone, password_hash, verification_mode, global_status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		user.ID, user.Email, user.Phone, params.PasswordHash, user.VerificationMode, user.Status, now)
	if err != nil {
		if errors.Is(api.MapStoreError(err), api.ErrAlreadyExists) {
			return nil, fmt.Errorf("email or phone already registered: %w", api.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("insert user: %w", api.MapStoreError(err))
	}

	err = r.recorder.Record(ctx, tx, audit.Entry{
		Action:     audit.ActionUserRegistered,
		EntityName: "User",
		EntityID:   user.ID.String(),
		After:      map[string]any{"email": user.Email, "global_status": user.Status},
		UserID:     &user.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("audit registration: %w", err)
	}

	// The registering app gets a membership immediately, on the default role
	// unless one was named.
	roleNames := []string{params.RoleName}
	if params.RoleName == "" {
		roleNames = api.DefaultRoleNames
	}
	var roleID uuid.UUID
	var roleName string
	found := false
	for _, name := range roleNames {
		err = tx.QueryRow(ctx,
			`SELECT id, name FROM roles WHERE app_id = $1 AND name = $2`,
			params.AppID, name).Scan(&roleID, &roleName)
		if err == nil {
			found = true
			break
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("resolve registration role: %w", api.MapStoreError(err))
		}
	}
	if !found {
		return nil, fmt.Errorf("role %q for app %s: %w", params.RoleName, params.AppID, api.ErrRoleNotFound)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO app_memberships (user_id, app_id, role_id, status, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		user.ID, params.AppID, roleID, api.MembershipActive, now)
	if err != nil {
		return nil, fmt.Errorf("insert registration membership: %w", api.MapStoreError(err))
	}

	err = r.recorder.Record(ctx, tx, audit.Entry{
		Action:     audit.ActionMembershipAdded,
		EntityName: "UserAppMembership",
		EntityID:   user.ID.String(),
		After:      map[string]any{"role": roleName, "status": api.MembershipActive},
		UserID:     &user.ID,
		AppID:      &params.AppID,
	})
	if err != nil {
		return nil, fmt.Errorf("audit registration membership: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit registration: %w", api.MapStoreError(err))
	}
	return &user, nil
}

func (r *PostgresAuthRepo) GetUserByEmail(ctx context.Context, email string) (*api.User, error) {
	row := r.pgpool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", email, api.ErrNotFound)
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

func (r *PostgresAuthRepo) GetCredentials(ctx context.Context, email string) (*Credentials, error) {
	var rec Credentials
	row := r.pgpool.QueryRow(ctx,
		`SELECT `+userColumns+`, password_hash, access_failed_count, lockout_end
		 FROM users WHERE email = $1`, email)
	err := row.Scan(&rec.User.ID, &rec.User.Email, &rec.User.Phone, &rec.User.EmailVerified,
		&rec.User.PhoneVerified, &rec.User.VerificationMode, &rec.User.Status, &rec.User.IsSealed,
		&rec.User.CreatedAt, &rec.User.UpdatedAt, &rec.PasswordHash, &rec.AccessFailedCount, &rec.LockoutEnd)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", email, api.ErrNotFound)
		}
		return nil, fmt.Errorf("get auth record: %w", err)
	}
	return &rec, nil
}

func (r *PostgresAuthRepo) GetCredentialsByID(ctx context.Context, userID uuid.UUID) (*Credentials, error) {
	var rec Credentials
	row := r.pgpool.QueryRow(ctx,
		`SELECT `+userColumns+`, password_hash, access_failed_count, lockout_end
		 FROM users WHERE id = $1`, userID)
	err := row.Scan(&rec.User.ID, &rec.User.Email, &rec.User.Phone, &rec.User.EmailVerified,
		&rec.User.PhoneVerified, &rec.User.VerificationMode, &rec.User.Status, &rec.User.IsSealed,
		&rec.User.CreatedAt, &rec.User.UpdatedAt, &rec.PasswordHash, &rec.AccessFailedCount, &rec.LockoutEnd)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", userID, api.ErrNotFound)
		}
		return nil, fmt.Errorf("get auth record: %w", err)
	}
	return &rec, nil
}

func updatePasswordTx(ctx context.Context, tx pgx.Tx, recorder audit.Recorder, actorID *uuid.UUID, userID uuid.UUID, newHash, action string) error {
	tag, err := tx.Exec(ctx,
		`UPDATE users SET password_hash = $1, updated_at = $2 WHERE id = $3`,
		newHash, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("update password: %w", api.MapStoreError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", userID, api.ErrNotFound)
	}

	err = recorder.Record(ctx, tx, audit.Entry{
		ActorID:    actorID,
		Action:     action,
		EntityName: "User",
		EntityID:   userID.String(),
		UserID:     &userID,
	})
	if err != nil {
		return fmt.Errorf("audit password change: %w", err)
	}
	return nil
}

func (r *PostgresAuthRepo) UpdatePassword(ctx context.Context, actorID *uuid.UUID, userID uuid.UUID, newHash string) error {
	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin password change: %w", api.MapStoreError(err))
	}
	defer tx.Rollback(ctx)

	if err := updatePasswordTx(ctx, tx, r.recorder, actorID, userID, newHash, audit.ActionPasswordChanged); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit password change: %w", api.MapStoreError(err))
	}
	return nil
}

func (r *PostgresAuthRepo) ResetPassword(ctx context.Context, userID uuid.UUID, code, newHash string, maxAttempts int) error {
	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin password reset: %w", api.MapStoreError(err))
	}
	defer tx.Rollback(ctx)

	if err := consumeOTPTx(ctx, tx, userID, code, "email", OTPPurposePasswordReset, maxAttempts); err != nil {
		return err
	}
	if err := updatePasswordTx(ctx, tx, r.recorder, &userID, userID, newHash, audit.ActionPasswordReset); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit password reset: %w", api.MapStoreError(err))
	}
	return nil
}

func (r *PostgresAuthRepo) RecordLoginFailure(ctx context.Context, userID uuid.UUID, lockUntil *time.Time) error {
	_, err := r.pgpool.Exec(ctx,
		`UPDATE users SET access_failed_count = access_failed_count + 1, lockout_end = COALESCE($1, lockout_end)
		 WHERE id = $2`, lockUntil, userID)
	if err != nil {
		return fmt.Errorf("record login failure: %w", api.MapStoreError(err))
	}
	return nil
}

func (r *PostgresAuthRepo) ResetLoginFailures(ctx context.Context, userID uuid.UUID, appID *uuid.UUID) error {
	now := time.Now().UTC()
	_, err := r.pgpool.Exec(ctx,
		`UPDATE users SET access_failed_count = 0, lockout_end = NULL WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("reset login failures: %w", api.MapStoreError(err))
	}
	if appID != nil {
		_, err = r.pgpool.Exec(ctx,
			`UPDATE app_memberships SET last_login_at = $1 WHERE user_id = $2 AND app_id = $3`,
			now, userID, *appID)
		if err != nil {
			return fmt.Errorf("stamp last login: %w", api.MapStoreError(err))
		}
	}
	return nil
}

func (r *PostgresAuthRepo) StoreRefreshToken(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) error {
	_, err := r.pgpool.Exec(ctx,
		`INSERT INTO refresh_tokens (token, user_id, expires_at) VALUES ($1, $2, $3)`,
		token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("store refresh token: %w", api.MapStoreError(err))
	}
	return nil
}

func (r *PostgresAuthRepo) GetRefreshToken(ctx context.Context, token string) (uuid.UUID, time.Time, *time.Time, error) {
	var userID uuid.UUID
	var expiresAt time.Time
	var revokedAt *time.Time
	err := r.pgpool.QueryRow(ctx,
		`SELECT user_id, expires_at, revoked_at FROM refresh_tokens WHERE token = $1`,
		token).Scan(&userID, &expiresAt, &revokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, time.Time{}, nil, fmt.Errorf("refresh token: %w", api.ErrUnauthenticated)
		}
		return uuid.Nil, time.Time{}, nil, fmt.Errorf("get refresh token: %w", err)
	}
	return userID, expiresAt, revokedAt, nil
}

func (r *PostgresAuthRepo) RevokeRefreshToken(ctx context.Context, token string) error {
	_, err := r.pgpool.Exec(ctx,
		`UPDATE refresh_tokens SET revoked_at = $1 WHERE token = $2 AND revoked_at IS NULL`,
		time.Now().UTC(), token)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", api.MapStoreError(err))
	}
	return nil
}

func (r *PostgresAuthRepo) InvalidateAllUserRefreshTokens(ctx context.Context, userID uuid.UUID) error {
	_, err := r.pgpool.Exec(ctx,
		`UPDATE refresh_tokens SET revoked_at = $1 WHERE user_id = $2 AND revoked_at IS NULL`,
		time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("invalidate refresh tokens: %w", api.MapStoreError(err))
	}
	return nil
}

func (r *PostgresAuthRepo) CreateOTP(ctx context.Context, userID uuid.UUID, code, channel, purpose string, expiresAt time.Time) error {
	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin otp create: %w", api.MapStoreError(err))
	}
	defer tx.Rollback(ctx)

	// A fresh code supersedes any outstanding one for the same channel and
	// purpose.
	_, err = tx.Exec(ctx,
		`UPDATE user_otps SET used = TRUE WHERE user_id = $1 AND channel = $2 AND purpose = $3 AND used = FALSE`,
		userID, channel, purpose)
	if err != nil {
		return fmt.Errorf("supersede previous otp: %w", api.MapStoreError(err))
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO user_otps (user_id, code, channel, purpose, expires_at) VALUES ($1, $2, $3, $4, $5)`,
		userID, code, channel, purpose, expiresAt)
	if err != nil {
		return fmt.Errorf("insert otp: %w", api.MapStoreError(err))
	}
	return tx.Commit(ctx)
}

func consumeOTPTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, code, channel, purpose string, maxAttempts int) error {
	var otpID uuid.UUID
	var storedCode string
	var attempts int
	err := tx.QueryRow(ctx,
		`SELECT id, code, attempts FROM user_otps
		 WHERE user_id = $1 AND channel = $2 AND purpose = $3 AND used = FALSE AND expires_at > NOW()
		 ORDER BY created_at DESC LIMIT 1 FOR UPDATE`,
		userID, channel, purpose).Scan(&otpID, &storedCode, &attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("no valid code outstanding: %w", api.ErrUnauthenticated)
		}
		return fmt.Errorf("load otp: %w", api.MapStoreError(err))
	}

	if storedCode != code {
		attempts++
		used := attempts >= maxAttempts
		_, uerr := tx.Exec(ctx,
			`UPDATE user_otps SET attempts = $1, used = $2 WHERE id = $3`, attempts, used, otpID)
		if uerr != nil {
			return fmt.Errorf("record failed attempt: %w", api.MapStoreError(uerr))
		}
		if cerr := tx.Commit(ctx); cerr != nil {
			return fmt.Errorf("commit failed attempt: %w", api.MapStoreError(cerr))
		}
		return fmt.Errorf("code mismatch: %w", api.ErrUnauthenticated)
	}

	_, err = tx.Exec(ctx, `UPDATE user_otps SET used = TRUE WHERE id = $1`, otpID)
	if err != nil {
		return fmt.Errorf("mark otp used: %w", api.MapStoreError(err))
	}
	return nil
}

func (r *PostgresAuthRepo) ConsumeOTP(ctx context.Context, userID uuid.UUID, code, channel, purpose string, maxAttempts int) error {
	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin otp consume: %w", api.MapStoreError(err))
	}
	defer tx.Rollback(ctx)

	if err := consumeOTPTx(ctx, tx, userID, code, channel, purpose, maxAttempts); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PostgresAuthRepo) GetOrCreateUserFromProvider(ctx context.Context, provider string, providerUser goth.User) (*api.User, error) {
	l := r.logger.With(slog.String("method", "GetOrCreateUserFromProvider"), slog.String("provider", provider))

	row := r.pgpool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users u
		 WHERE u.id = (SELECT user_id FROM linked_providers WHERE provider = $1 AND provider_key = $2)`,
		provider, providerUser.UserID)
	u, err := scanUser(row)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("lookup linked provider: %w", err)
	}

	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin provider link: %w", api.MapStoreError(err))
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	row = tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, providerUser.Email)
	u, err = scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// Provider-asserted email counts as verified, so the account starts
		// Active.
		u = &api.User{
			ID:               uuid.New(),
			Email:            providerUser.Email,
			Phone:            "ext:" + provider + ":" + providerUser.UserID,
			EmailVerified:    true,
			VerificationMode: api.VerifyEmail,
			Status:           api.StatusActive,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO users (id, email, phone, email_verified, verification_mode, global_status, created_at, updated_at)
			 VALUES ($1, $2, $3, TRUE, $4, $5, $6, $6)`,
			u.ID, u.Email, u.Phone, u.VerificationMode, u.Status, now)
		if err != nil {
			return nil, fmt.Errorf("insert provider user: %w", api.MapStoreError(err))
		}
		err = r.recorder.Record(ctx, tx, audit.Entry{
			Action:     audit.ActionUserRegistered,
			EntityName: "User",
			EntityID:   u.ID.String(),
			After:      map[string]any{"email": u.Email, "provider": provider},
			UserID:     &u.ID,
		})
		if err != nil {
			return nil, fmt.Errorf("audit provider registration: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("lookup user by provider email: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO linked_providers (user_id, provider, provider_key) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, provider) DO UPDATE SET provider_key = EXCLUDED.provider_key`,
		u.ID, provider, providerUser.UserID)
	if err != nil {
		return nil, fmt.Errorf("link provider: %w", api.MapStoreError(err))
	}

	err = r.recorder.Record(ctx, tx, audit.Entry{
		Action:     audit.ActionProviderLinked,
		EntityName: "User",
		EntityID:   u.ID.String(),
		After:      map[string]any{"provider": provider},
		UserID:     &u.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("audit provider link: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit provider link: %w", api.MapStoreError(err))
	}
	l.InfoContext(ctx, "Provider identity linked", slog.String("userID", u.ID.String()))
	u.LinkedProviders = append(u.LinkedProviders, provider)
	return u, nil
}

func (r *PostgresAuthRepo) MarkReactivationRequested(ctx context.Context, userID uuid.UUID) error {
	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin reactivation request: %w", api.MapStoreError(err))
	}
	defer tx.Rollback(ctx)

	err = r.recorder.Record(ctx, tx, audit.Entry{
		Action:     audit.ActionReactivationRequested,
		EntityName: "User",
		EntityID:   userID.String(),
		UserID:     &userID,
	})
	if err != nil {
		return fmt.Errorf("audit reactivation request: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *PostgresAuthRepo) ConfirmReactivation(ctx context.Context, userID uuid.UUID, code string, maxAttempts int) (*api.User, error) {
	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin reactivation: %w", api.MapStoreError(err))
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, userID)
	before, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", userID, api.ErrNotFound)
		}
		return nil, fmt.Errorf("lock user row: %w", api.MapStoreError(err))
	}

	if err := consumeOTPTx(ctx, tx, userID, code, "email", OTPPurposeReactivation, maxAttempts); err != nil {
		return nil, err
	}

	// The confirmed code is the evidence that unlocks the direct
	// SoftDeleted -> Active edge.
	ev := status.Evidence{ReactivationConfirmed: true}
	if err := status.Validate(before.Status, api.StatusActive, ev); err != nil {
		return nil, err
	}

	after := *before
	after.Status = api.StatusActive
	after.UpdatedAt = time.Now().UTC()
	_, err = tx.Exec(ctx,
		`UPDATE users SET global_status = $1, updated_at = $2 WHERE id = $3`,
		after.Status, after.UpdatedAt, userID)
	if err != nil {
		return nil, fmt.Errorf("reactivate user: %w", api.MapStoreError(err))
	}

	err = r.recorder.Record(ctx, tx, audit.Entry{
		Action:     audit.ActionReactivationConfirmed,
		EntityName: "User",
		EntityID:   userID.String(),
		Before:     map[string]any{"global_status": before.Status},
		After:      map[string]any{"global_status": after.Status},
		UserID:     &userID,
	})
	if err != nil {
		return nil, fmt.Errorf("audit reactivation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit reactivation: %w", api.MapStoreError(err))
	}
	return &after, nil
}
