package audit

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/nivara-labs/identity-core/internal/api"
)

var _ Handler = (*HandlerImpl)(nil)

type Handler interface {
	ListAuditLogs(w http.ResponseWriter, r *http.Request)
}

type HandlerImpl struct {
	auditService AuditService
	logger       *slog.Logger
}

func NewHandlerImpl(auditService AuditService, logger *slog.Logger) *HandlerImpl {
	return &HandlerImpl{
		auditService: auditService,
		logger:       logger,
	}
}

// ListAuditLogs godoc
// @Summary      List Audit Logs
// @Description  Returns audit log entries, optionally filtered by user or app.
// @Tags         Audit
// @Produce      json
// @Param        user_id query string false "Filter by user ID"
// @Param        app_id query string false "Filter by app ID"
// @Param        limit query int false "Page size (default 100)"
// @Param        offset query int false "Page offset"
// @Success      200 {array} api.AuditLogEntry "Audit Entries"
// @Failure      400 {object} api.Response "Invalid Filter"
// @Security     BearerAuth
// @Router       /audit-logs [get]
func (h *HandlerImpl) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("handler", "ListAuditLogs"))

	var filter ListFilter
	if v := r.URL.Query().Get("user_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid user_id filter")
			return
		}
		filter.UserID = &id
	}
	if v := r.URL.Query().Get("app_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid app_id filter")
			return
		}
		filter.AppID = &id
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		filter.Offset, _ = strconv.Atoi(v)
	}

	entries, err := h.auditService.ListAuditLogs(ctx, filter)
	if err != nil {
		l.ErrorContext(ctx, "Failed to list audit logs", slog.Any("error", err))
		api.DomainErrorResponse(w, r, err)
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, entries)
}
