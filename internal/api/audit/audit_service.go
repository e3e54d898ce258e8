package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nivara-labs/identity-core/internal/api"
)

var _ AuditService = (*AuditServiceImpl)(nil)

// AuditService exposes the audit-log views to the admin dashboards.
type AuditService interface {
	ListAuditLogs(ctx context.Context, filter ListFilter) ([]api.AuditLogEntry, error)
}

type AuditServiceImpl struct {
	logger *slog.Logger
	repo   AuditRepo
}

func NewAuditService(repo AuditRepo, logger *slog.Logger) *AuditServiceImpl {
	return &AuditServiceImpl{
		logger: logger,
		repo:   repo,
	}
}

func (s *AuditServiceImpl) ListAuditLogs(ctx context.Context, filter ListFilter) ([]api.AuditLogEntry, error) {
	l := s.logger.With(slog.String("method", "ListAuditLogs"))
	l.DebugContext(ctx, "Listing audit logs")

	entries, err := s.repo.List(ctx, filter)
	if err != nil {
		l.ErrorContext(ctx, "Failed to list audit logs", slog.Any("error", err))
		return nil, fmt.Errorf("error listing audit logs: %w", err)
	}

	l.InfoContext(ctx, "Audit logs listed", slog.Int("count", len(entries)))
	return entries, nil
}
