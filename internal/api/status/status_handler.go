package status

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nivara-labs/identity-core/internal/api"
)

var _ Handler = (*HandlerImpl)(nil)

type Handler interface {
	GetUser(w http.ResponseWriter, r *http.Request)
	SetGlobalStatus(w http.ResponseWriter, r *http.Request)
}

type HandlerImpl struct {
	statusService StatusService
	logger        *slog.Logger
}

func NewHandlerImpl(statusService StatusService, logger *slog.Logger) *HandlerImpl {
	return &HandlerImpl{
		statusService: statusService,
		logger:        logger,
	}
}

// SetGlobalStatusRequest is the body of the set-global-status call.
type SetGlobalStatusRequest struct {
	Status api.GlobalStatus `json:"status"`
}

// GetUser godoc
// @Summary      Get User
// @Description  Retrieves a user's global identity record.
// @Tags         Status
// @Produce      json
// @Param        userID path string true "User ID"
// @Success      200 {object} api.User "User"
// @Failure      404 {object} api.Response "User Not Found"
// @Security     BearerAuth
// @Router       /users/{userID} [get]
func (h *HandlerImpl) GetUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("handler", "GetUser"))

	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid user ID format")
		return
	}

	user, err := h.statusService.GetUser(ctx, userID)
	if err != nil {
		l.ErrorContext(ctx, "Failed to get user", slog.Any("error", err))
		api.DomainErrorResponse(w, r, err)
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, user)
}

// SetGlobalStatus godoc
// @Summary      Set Global Status
// @Description  Applies a lifecycle transition to a user's global status.
// @Tags         Status
// @Accept       json
// @Produce      json
// @Param        userID path string true "User ID"
// @Param        body body SetGlobalStatusRequest true "Target Status"
// @Success      200 {object} api.User "Updated User"
// @Failure      400 {object} api.Response "Invalid Input"
// @Failure      422 {object} api.Response "Illegal Transition"
// @Security     BearerAuth
// @Router       /users/{userID}/status [put]
func (h *HandlerImpl) SetGlobalStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("handler", "SetGlobalStatus"))

	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid user ID format")
		return
	}

	var req SetGlobalStatusRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		l.WarnContext(ctx, "Failed to decode request", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	actorID := api.ActorIDFromContext(ctx)
	user, err := h.statusService.SetGlobalStatus(ctx, actorID, userID, req.Status)
	if err != nil {
		l.WarnContext(ctx, "Status transition failed", slog.Any("error", err))
		api.DomainErrorResponse(w, r, err)
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, user)
}
