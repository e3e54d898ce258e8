package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/nivara-labs/identity-core/internal/api"
)

var _ AuditRepo = (*PostgresAuditRepo)(nil)

// ListFilter narrows the audit view. Zero-value fields are ignored.
type ListFilter struct {
	UserID *uuid.UUID
	AppID  *uuid.UUID
	Limit  int
	Offset int
}

// AuditRepo is the read side of the audit log. The table is append-only; the
// recorder is the only writer.
type AuditRepo interface {
	List(ctx context.Context, filter ListFilter) ([]api.AuditLogEntry, error)
}

type PostgresAuditRepo struct {
	logger *slog.Logger
	pgpool api.PGXPool
}

func NewPostgresAuditRepo(pgpool api.PGXPool, logger *slog.Logger) *PostgresAuditRepo {
	return &PostgresAuditRepo{
		logger: logger,
		pgpool: pgpool,
	}
}

// List returns audit entries newest-first, filtered by the correlation fields
// the audit-log views use.
func (r *PostgresAuditRepo) List(ctx context.Context, filter ListFilter) ([]api.AuditLogEntry, error) {
	query := `SELECT id, actor_id, action, entity_name, entity_id, changes, user_id, app_id, created_at
              FROM audit_logs WHERE 1=1`
	args := []any{}
	idx := 1

	if filter.UserID != nil {
		query += fmt.Sprintf(" AND user_id = $%d", idx)
		args = append(args, *filter.UserID)
		idx++
	}
	if filter.AppID != nil {
		query += fmt.Sprintf(" AND app_id = $%d", idx)
		args = append(args, *filter.AppID)
		idx++
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.pgpool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	var entries []api.AuditLogEntry
	for rows.Next() {
		var e api.AuditLogEntry
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.EntityName, &e.EntityID,
			&e.Changes, &e.UserID, &e.AppID, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit log row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit log rows: %w", err)
	}
	return entries, nil
}
