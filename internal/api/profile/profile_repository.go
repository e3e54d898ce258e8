package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nivara-labs/identity-core/internal/api"
	"github.com/nivara-labs/identity-core/internal/api/audit"
	"github.com/nivara-labs/identity-core/internal/api/status"
)

var _ ProfileRepo = (*PostgresProfileRepo)(nil)

// ContactField selects which global contact value an update targets.
type ContactField string

const (
	ContactEmail ContactField = "email"
	ContactPhone ContactField = "phone"
)

// UpdateProfileParams is the full replacement payload for an app profile.
// CustomData, when non-nil, replaces the stored payload wholesale; the core
// never merges or inspects its keys.
type UpdateProfileParams struct {
	DisplayName *string         `json:"display_name,omitempty"`
	Bio         *string         `json:"bio,omitempty"`
	AvatarURL   *string         `json:"avatar_url,omitempty"`
	DateOfBirth *time.Time      `json:"date_of_birth,omitempty"`
	Gender      *string         `json:"gender,omitempty"`
	CustomData  json.RawMessage `json:"custom_data,omitempty"`
}

type ProfileRepo interface {
	GetProfile(ctx context.Context, userID, appID uuid.UUID) (*api.UserProfile, error)
	GetResolvedProfile(ctx context.Context, userID, appID uuid.UUID) (*api.ResolvedProfile, error)

	// UpsertProfile writes the app profile and, when the user was sitting in
	// ProfileIncomplete and the saved profile satisfies the minimum, advances
	// the global status to Active in the same transaction. The returned flag
	// reports that advance.
	UpsertProfile(ctx context.Context, actorID *uuid.UUID, userID, appID uuid.UUID, params UpdateProfileParams) (*api.UserProfile, bool, error)

	// UpdateContact replaces the global email or phone. The matching verified
	// flag is cleared and an Active user is forced back into the relevant
	// pending verification state, all in one transaction.
	UpdateContact(ctx context.Context, actorID *uuid.UUID, userID uuid.UUID, field ContactField, value string) (before *api.User, after *api.User, err error)
}

type PostgresProfileRepo struct {
	logger   *slog.Logger
	pgpool   *pgxpool.Pool
	recorder audit.Recorder
}

func NewPostgresProfileRepo(pgpool *pgxpool.Pool, recorder audit.Recorder, logger *slog.Logger) *PostgresProfileRepo {
	return &PostgresProfileRepo{
		logger:   logger,
		pgpool:   pgpool,
		recorder: recorder,
	}
}

const profileColumns = `user_id, app_id, display_name, bio, avatar_url, date_of_birth, gender,
       custom_data, created_at, updated_at`

func scanProfile(row pgx.Row) (*api.UserProfile, error) {
	var p api.UserProfile
	err := row.Scan(&p.UserID, &p.AppID, &p.DisplayName, &p.Bio, &p.AvatarURL,
		&p.DateOfBirth, &p.Gender, &p.CustomData, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PostgresProfileRepo) GetProfile(ctx context.Context, userID, appID uuid.UUID) (*api.UserProfile, error) {
	row := r.pgpool.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM user_profiles WHERE user_id = $1 AND app_id = $2`,
		userID, appID)
	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("profile %s/%s: %w", userID, appID, api.ErrNotFound)
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

// GetResolvedProfile overlays the global identity fields with the app profile.
// Contact and verification state always come from the users table; the app
// row contributes only the app-scoped fields and may be absent entirely.
func (r *PostgresProfileRepo) GetResolvedProfile(ctx context.Context, userID, appID uuid.UUID) (*api.ResolvedProfile, error) {
	row := r.pgpool.QueryRow(ctx,
		`SELECT u.id, u.email, u.phone, u.email_verified, u.phone_verified, u.global_status,
		        p.display_name, p.bio, p.avatar_url, p.date_of_birth, p.gender, p.custom_data
		 FROM users u
		 LEFT JOIN user_profiles p ON p.user_id = u.id AND p.app_id = $2
		 WHERE u.id = $1`, userID, appID)

	var rp api.ResolvedProfile
	err := row.Scan(&rp.UserID, &rp.Email, &rp.Phone, &rp.EmailVerified, &rp.PhoneVerified,
		&rp.GlobalStatus, &rp.DisplayName, &rp.Bio, &rp.AvatarURL, &rp.DateOfBirth,
		&rp.Gender, &rp.CustomData)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", userID, api.ErrNotFound)
		}
		return nil, fmt.Errorf("resolve profile: %w", err)
	}
	rp.AppID = appID
	return &rp, nil
}

const userColumns = `id, email, phone, email_verified, phone_verified, verification_mode,
       global_status, is_sealed, created_at, updated_at`

func lockUser(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*api.User, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, userID)
	var u api.User
	err := row.Scan(&u.ID, &u.Email, &u.Phone, &u.EmailVerified, &u.PhoneVerified,
		&u.VerificationMode, &u.Status, &u.IsSealed, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", userID, api.ErrNotFound)
		}
		return nil, fmt.Errorf("lock user row: %w", api.MapStoreError(err))
	}
	return &u, nil
}

func (r *PostgresProfileRepo) UpsertProfile(ctx context.Context, actorID *uuid.UUID, userID, appID uuid.UUID, params UpdateProfileParams) (*api.UserProfile, bool, error) {
	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin profile upsert: %w", api.MapStoreError(err))
	}
	defer tx.Rollback(ctx)

	user, err := lockUser(ctx, tx, userID)
	if err != nil {
		return nil, false, err
	}

	before, err := r.GetProfileTx(ctx, tx, userID, appID)
	if err != nil && !errors.Is(err, api.ErrNotFound) {
		return nil, false, err
	}

	now := time.Now().UTC()
	row := tx.QueryRow(ctx,
		`INSERT INTO user_profiles (user_id, app_id, display_name, bio, avatar_url, date_of_birth, gender, custom_data, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		 ON CONFLICT (user_id, app_id) DO UPDATE SET
		   display_name = EXCLUDED.display_name,
		   bio = EXCLUDED.bio,
		   avatar_url = EXCLUDED.avatar_url,
		   date_of_birth = EXCLUDED.date_of_birth,
		   gender = EXCLUDED.gender,
		   custom_data = EXCLUDED.custom_data,
		   updated_at = EXCLUDED.updated_at
		 RETURNING `+profileColumns,
		userID, appID, params.DisplayName, params.Bio, params.AvatarURL,
		params.DateOfBirth, params.Gender, params.CustomData, now)
	saved, err := scanProfile(row)
	if err != nil {
		return nil, false, fmt.Errorf("upsert profile: %w", api.MapStoreError(err))
	}

	err = r.recorder.Record(ctx, tx, audit.Entry{
		ActorID:    actorID,
		Action:     audit.ActionProfileUpdated,
		EntityName: "UserProfile",
		EntityID:   userID.String(),
		Before:     before,
		After:      saved,
		UserID:     &userID,
		AppID:      &appID,
	})
	if err != nil {
		return nil, false, fmt.Errorf("audit profile update: %w", err)
	}

	// Saving a minimal profile is the exit condition for ProfileIncomplete.
	advanced := false
	if user.Status == api.StatusProfileIncomplete && saved.DisplayName != nil {
		ev := status.Evidence{ProfileSaved: true}
		if err := status.Validate(user.Status, api.StatusActive, ev); err != nil {
			return nil, false, err
		}
		_, err = tx.Exec(ctx,
			`UPDATE users SET global_status = $1, updated_at = $2 WHERE id = $3`,
			api.StatusActive, now, userID)
		if err != nil {
			return nil, false, fmt.Errorf("advance status after profile save: %w", api.MapStoreError(err))
		}
		err = r.recorder.Record(ctx, tx, audit.Entry{
			ActorID:    actorID,
			Action:     audit.ActionStatusChanged,
			EntityName: "User",
			EntityID:   userID.String(),
			Before:     map[string]any{"global_status": user.Status},
			After:      map[string]any{"global_status": api.StatusActive},
			UserID:     &userID,
		})
		if err != nil {
			return nil, false, fmt.Errorf("audit status advance: %w", err)
		}
		advanced = true
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit profile upsert: %w", api.MapStoreError(err))
	}
	return saved, advanced, nil
}

// GetProfileTx is GetProfile within an existing transaction.
func (r *PostgresProfileRepo) GetProfileTx(ctx context.Context, tx pgx.Tx, userID, appID uuid.UUID) (*api.UserProfile, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM user_profiles WHERE user_id = $1 AND app_id = $2`,
		userID, appID)
	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("profile %s/%s: %w", userID, appID, api.ErrNotFound)
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

func (r *PostgresProfileRepo) UpdateContact(ctx context.Context, actorID *uuid.UUID, userID uuid.UUID, field ContactField, value string) (*api.User, *api.User, error) {
	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin contact update: %w", api.MapStoreError(err))
	}
	defer tx.Rollback(ctx)

	before, err := lockUser(ctx, tx, userID)
	if err != nil {
		return nil, nil, err
	}

	var column string
	var pending api.GlobalStatus
	switch field {
	case ContactEmail:
		column, pending = "email", api.StatusPendingEmailVerification
	case ContactPhone:
		column, pending = "phone", api.StatusPendingMobileVerification
	default:
		return nil, nil, fmt.Errorf("unknown contact field %q: %w", field, api.ErrValidation)
	}

	var taken bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE `+column+` = $1 AND id <> $2)`,
		value, userID).Scan(&taken)
	if err != nil {
		return nil, nil, fmt.Errorf("check contact uniqueness: %w", api.MapStoreError(err))
	}
	if taken {
		return nil, nil, fmt.Errorf("%s %q already in use: %w", column, value, api.ErrValidation)
	}

	after := *before
	after.UpdatedAt = time.Now().UTC()
	switch field {
	case ContactEmail:
		after.Email = value
		after.EmailVerified = false
	case ContactPhone:
		after.Phone = value
		after.PhoneVerified = false
	}
	// A contact change never happens silently: prior verification is
	// invalidated and an Active user re-enters the pending state.
	if before.Status == api.StatusActive {
		after.Status = pending
	}

	_, err = tx.Exec(ctx,
		`UPDATE users SET `+column+` = $1, `+column+`_verified = FALSE, global_status = $2, updated_at = $3
		 WHERE id = $4`,
		value, after.Status, after.UpdatedAt, userID)
	if err != nil {
		if errors.Is(api.MapStoreError(err), api.ErrAlreadyExists) {
			return nil, nil, fmt.Errorf("%s %q already in use: %w", column, value, api.ErrValidation)
		}
		return nil, nil, fmt.Errorf("update contact: %w", api.MapStoreError(err))
	}

	err = r.recorder.Record(ctx, tx, audit.Entry{
		ActorID:    actorID,
		Action:     audit.ActionContactUpdated,
		EntityName: "User",
		EntityID:   userID.String(),
		Before:     map[string]any{column: contactValue(before, field), column + "_verified": contactVerified(before, field)},
		After:      map[string]any{column: value, column + "_verified": false},
		UserID:     &userID,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("audit contact update: %w", err)
	}

	if before.Status != after.Status {
		err = r.recorder.Record(ctx, tx, audit.Entry{
			ActorID:    actorID,
			Action:     audit.ActionStatusChanged,
			EntityName: "User",
			EntityID:   userID.String(),
			Before:     map[string]any{"global_status": before.Status},
			After:      map[string]any{"global_status": after.Status},
			UserID:     &userID,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("audit status change: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit contact update: %w", api.MapStoreError(err))
	}
	return before, &after, nil
}

func contactValue(u *api.User, field ContactField) string {
	if field == ContactEmail {
		return u.Email
	}
	return u.Phone
}

func contactVerified(u *api.User, field ContactField) bool {
	if field == ContactEmail {
		return u.EmailVerified
	}
	return u.PhoneVerified
}
