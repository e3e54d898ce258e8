package profile

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nivara-labs/identity-core/internal/api"
	"github.com/nivara-labs/identity-core/internal/api/auth"
)

var _ Handler = (*HandlerImpl)(nil)

type Handler interface {
	GetResolvedProfile(w http.ResponseWriter, r *http.Request)
	UpdateProfile(w http.ResponseWriter, r *http.Request)
	UpdateContact(w http.ResponseWriter, r *http.Request)
}

type HandlerImpl struct {
	profileService ProfileService
	logger         *slog.Logger
}

func NewHandlerImpl(profileService ProfileService, logger *slog.Logger) *HandlerImpl {
	return &HandlerImpl{
		profileService: profileService,
		logger:         logger,
	}
}

type UpdateContactRequest struct {
	Email *string `json:"email,omitempty"`
	Phone *string `json:"phone,omitempty"`
}

// GetResolvedProfile godoc
// @Summary      Resolved Profile
// @Description  Returns the merged view of global identity and app profile.
// @Tags         Profile
// @Produce      json
// @Param        userID path string true "User ID"
// @Param        appID path string true "App ID"
// @Success      200 {object} api.ResolvedProfile "Resolved Profile"
// @Failure      404 {object} api.Response "User Not Found"
// @Security     BearerAuth
// @Router       /users/{userID}/profiles/{appID} [get]
func (h *HandlerImpl) GetResolvedProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid user ID format")
		return
	}
	appID, err := uuid.Parse(chi.URLParam(r, "appID"))
	if err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid app ID format")
		return
	}

	rp, err := h.profileService.GetResolvedProfile(ctx, userID, appID)
	if err != nil {
		api.DomainErrorResponse(w, r, err)
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, rp)
}

// UpdateProfile godoc
// @Summary      Update Profile
// @Description  Upserts the app-scoped profile; custom_data is replaced wholesale.
// @Tags         Profile
// @Accept       json
// @Produce      json
// @Param        userID path string true "User ID"
// @Param        appID path string true "App ID"
// @Param        body body UpdateProfileParams true "Profile fields"
// @Success      200 {object} api.UserProfile "Stored Profile"
// @Security     BearerAuth
// @Router       /users/{userID}/profiles/{appID} [put]
func (h *HandlerImpl) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("handler", "UpdateProfile"))

	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid user ID format")
		return
	}
	appID, err := uuid.Parse(chi.URLParam(r, "appID"))
	if err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid app ID format")
		return
	}

	var params UpdateProfileParams
	if err := api.DecodeJSONBody(w, r, &params); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	actorID := auth.ActorIDFromContext(ctx)
	saved, err := h.profileService.UpdateProfile(ctx, actorID, userID, appID, params)
	if err != nil {
		l.WarnContext(ctx, "Failed to update profile", slog.Any("error", err))
		api.DomainErrorResponse(w, r, err)
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, saved)
}

// UpdateContact godoc
// @Summary      Update Contact
// @Description  Replaces the global email or phone. Verification is invalidated and an Active user re-enters the pending verification state.
// @Tags         Profile
// @Accept       json
// @Produce      json
// @Param        userID path string true "User ID"
// @Param        body body UpdateContactRequest true "New contact value (exactly one of email, phone)"
// @Success      200 {object} api.User "Updated User"
// @Failure      400 {object} api.Response "Invalid or Duplicate Contact"
// @Security     BearerAuth
// @Router       /users/{userID}/contact [put]
func (h *HandlerImpl) UpdateContact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("handler", "UpdateContact"))

	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid user ID format")
		return
	}

	var req UpdateContactRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	var field ContactField
	var value string
	switch {
	case req.Email != nil && req.Phone != nil:
		api.ErrorResponse(w, r, http.StatusBadRequest, "Provide exactly one of email or phone")
		return
	case req.Email != nil:
		field, value = ContactEmail, *req.Email
	case req.Phone != nil:
		field, value = ContactPhone, *req.Phone
	default:
		api.ErrorResponse(w, r, http.StatusBadRequest, "Provide exactly one of email or phone")
		return
	}

	actorID := auth.ActorIDFromContext(ctx)
	user, err := h.profileService.UpdateContact(ctx, actorID, userID, field, value)
	if err != nil {
		l.WarnContext(ctx, "Failed to update contact", slog.Any("error", err))
		api.DomainErrorResponse(w, r, err)
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, user)
}
