package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nivara-labs/identity-core/internal/api"
	"github.com/nivara-labs/identity-core/internal/api/audit"
)

var _ StatusRepo = (*PostgresStatusRepo)(nil)

// StatusRepo applies global status transitions. Every mutation locks the user
// row, validates the transition against the machine and appends the audit
// entry inside one transaction, so the check-then-act sequence is never racy
// and an illegal transition leaves the row untouched.
type StatusRepo interface {
	// GetUser retrieves the global identity record, or api.ErrNotFound.
	GetUser(ctx context.Context, userID uuid.UUID) (*api.User, error)

	// SetGlobalStatus applies an admin-requested transition. Returns the
	// previous and updated user on success.
	SetGlobalStatus(ctx context.Context, actorID *uuid.UUID, userID uuid.UUID, to api.GlobalStatus) (before *api.User, after *api.User, err error)

	// MarkContactVerified sets the email or phone verified flag and, when the
	// user's verification mode becomes satisfied in a Pending* state, advances
	// the status in the same transaction.
	MarkContactVerified(ctx context.Context, actorID *uuid.UUID, userID uuid.UUID, channel Channel, requireAdminApproval bool) (*api.User, error)
}

// Channel identifies which contact flag a verification applies to.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPhone Channel = "phone"
)

type PostgresStatusRepo struct {
	logger   *slog.Logger
	pgpool   *pgxpool.Pool
	recorder audit.Recorder
}

func NewPostgresStatusRepo(pgpool *pgxpool.Pool, recorder audit.Recorder, logger *slog.Logger) *PostgresStatusRepo {
	return &PostgresStatusRepo{
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

func (r *PostgresStatusRepo) GetUser(ctx context.Context, userID uuid.UUID) (*api.User, error) {
	row := r.pgpool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", userID, api.ErrNotFound)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	rows, err := r.pgpool.Query(ctx,
		`SELECT provider FROM linked_providers WHERE user_id = $1 ORDER BY provider`, userID)
	if err != nil {
		return nil, fmt.Errorf("get linked providers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan linked provider: %w", err)
		}
		u.LinkedProviders = append(u.LinkedProviders, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate linked providers: %w", err)
	}
	return u, nil
}

// lockUser reads the user row FOR UPDATE within tx.
func lockUser(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*api.User, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, userID)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", userID, api.ErrNotFound)
		}
		return nil, fmt.Errorf("lock user row: %w", api.MapStoreError(err))
	}
	return u, nil
}

func (r *PostgresStatusRepo) SetGlobalStatus(ctx context.Context, actorID *uuid.UUID, userID uuid.UUID, to api.GlobalStatus) (*api.User, *api.User, error) {
	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin status transaction: %w", api.MapStoreError(err))
	}
	defer tx.Rollback(ctx)

	before, err := lockUser(ctx, tx, userID)
	if err != nil {
		return nil, nil, err
	}

	ev := Evidence{
		EmailVerified: before.EmailVerified,
		PhoneVerified: before.PhoneVerified,
		Mode:          before.VerificationMode,
	}
	if before.Status == api.StatusProfileIncomplete {
		// The ProfileIncomplete exit needs proof that a minimal profile was
		// saved for at least one app.
		err = tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM user_profiles WHERE user_id = $1 AND display_name IS NOT NULL)`,
			userID).Scan(&ev.ProfileSaved)
		if err != nil {
			return nil, nil, fmt.Errorf("check profile existence: %w", api.MapStoreError(err))
		}
	}

	if err := Validate(before.Status, to, ev); err != nil {
		// Illegal transition: the row was never touched, rollback is a no-op.
		return nil, nil, err
	}

	after := *before
	after.Status = to
	after.UpdatedAt = time.Now().UTC()

	_, err = tx.Exec(ctx,
		`UPDATE users SET global_status = $1, updated_at = $2 WHERE id = $3`,
		after.Status, after.UpdatedAt, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("update global status: %w", api.MapStoreError(err))
	}

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

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit status transaction: %w", api.MapStoreError(err))
	}
	return before, &after, nil
}

func (r *PostgresStatusRepo) MarkContactVerified(ctx context.Context, actorID *uuid.UUID, userID uuid.UUID, channel Channel, requireAdminApproval bool) (*api.User, error) {
	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin verification transaction: %w", api.MapStoreError(err))
	}
	defer tx.Rollback(ctx)

	before, err := lockUser(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	after := *before
	var column, action string
	switch channel {
	case ChannelEmail:
		after.EmailVerified = true
		column, action = "email_verified", audit.ActionEmailVerified
	case ChannelPhone:
		after.PhoneVerified = true
		column, action = "phone_verified", audit.ActionPhoneVerified
	default:
		return nil, fmt.Errorf("unknown verification channel %q: %w", channel, api.ErrValidation)
	}
	after.UpdatedAt = time.Now().UTC()

	_, err = tx.Exec(ctx,
		`UPDATE users SET `+column+` = TRUE, updated_at = $1 WHERE id = $2`,
		after.UpdatedAt, userID)
	if err != nil {
		return nil, fmt.Errorf("set %s flag: %w", column, api.MapStoreError(err))
	}

	err = r.recorder.Record(ctx, tx, audit.Entry{
		ActorID:    actorID,
		Action:     action,
		EntityName: "User",
		EntityID:   userID.String(),
		Before:     map[string]any{column: false},
		After:      map[string]any{column: true},
		UserID:     &userID,
	})
	if err != nil {
		return nil, fmt.Errorf("audit verification: %w", err)
	}

	// Verification flags are the trigger the machine evaluates for Pending*
	// exits; apply the advance in the same transaction.
	ev := Evidence{
		EmailVerified: after.EmailVerified,
		PhoneVerified: after.PhoneVerified,
		Mode:          after.VerificationMode,
	}
	if next, ok := NextAfterVerification(after.Status, ev, requireAdminApproval); ok {
		if err := Validate(after.Status, next, ev); err != nil {
			return nil, err
		}
		prev := after.Status
		after.Status = next
		_, err = tx.Exec(ctx,
			`UPDATE users SET global_status = $1, updated_at = $2 WHERE id = $3`,
			after.Status, after.UpdatedAt, userID)
		if err != nil {
			return nil, fmt.Errorf("advance status after verification: %w", api.MapStoreError(err))
		}
		err = r.recorder.Record(ctx, tx, audit.Entry{
			ActorID:    actorID,
			Action:     audit.ActionStatusChanged,
			EntityName: "User",
			EntityID:   userID.String(),
			Before:     map[string]any{"global_status": prev},
			After:      map[string]any{"global_status": after.Status},
			UserID:     &userID,
		})
		if err != nil {
			return nil, fmt.Errorf("audit status advance: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit verification transaction: %w", api.MapStoreError(err))
	}
	return &after, nil
}
