package api

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PGXPool is the subset of pgxpool.Pool the repositories need. pgxmock
// satisfies it, which is how repository transaction flows get tested.
type PGXPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres error codes the repositories translate into the core taxonomy.
const (
	pgForeignKeyViolation  = "23503"
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// MapStoreError converts low-level store errors into the typed taxonomy:
// missing rows and broken references become ErrNotFound, duplicate keys
// ErrAlreadyExists, and serialization/deadlock failures ErrConflict. Anything
// else passes through for the caller to wrap.
func MapStoreError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgForeignKeyViolation:
			// A write referencing a missing row (user, app, role) reads the
			// same as the row not being there.
			return ErrNotFound
		case pgUniqueViolation:
			return ErrAlreadyExists
		case pgSerializationFailure, pgDeadlockDetected:
			return ErrConflict
		}
	}
	return err
}
