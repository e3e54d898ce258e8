package membership

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
	AddMembership(w http.ResponseWriter, r *http.Request)
	RemoveMembership(w http.ResponseWriter, r *http.Request)
	ChangeRole(w http.ResponseWriter, r *http.Request)
	ChangeMembershipStatus(w http.ResponseWriter, r *http.Request)
	GetMemberships(w http.ResponseWriter, r *http.Request)
	GetEffectivePermissions(w http.ResponseWriter, r *http.Request)
	GetAccessibleApps(w http.ResponseWriter, r *http.Request)
}

type HandlerImpl struct {
	membershipService MembershipService
	logger            *slog.Logger
}

func NewHandlerImpl(membershipService MembershipService, logger *slog.Logger) *HandlerImpl {
	return &HandlerImpl{
		membershipService: membershipService,
		logger:            logger,
	}
}

type AddMembershipRequest struct {
	AppID    uuid.UUID `json:"app_id"`
	RoleName string    `json:"role_name,omitempty"`
}

type ChangeRoleRequest struct {
	RoleName string `json:"role_name"`
}

type ChangeMembershipStatusRequest struct {
	Status api.MembershipStatus `json:"status"`
}

func pathIDs(r *http.Request) (userID, appID uuid.UUID, err error) {
	userID, err = uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	appID, err = uuid.Parse(chi.URLParam(r, "appID"))
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return userID, appID, nil
}

// AddMembership godoc
// @Summary      Add Membership
// @Description  Enrolls a user into an app with a role (default role when omitted).
// @Tags         Membership
// @Accept       json
// @Produce      json
// @Param        userID path string true "User ID"
// @Param        body body AddMembershipRequest true "App and optional role"
// @Success      201 {object} api.Membership "Created Membership"
// @Failure      409 {object} api.Response "Already a Member"
// @Security     BearerAuth
// @Router       /users/{userID}/memberships [post]
func (h *HandlerImpl) AddMembership(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("handler", "AddMembership"))

	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid user ID format")
		return
	}

	var req AddMembershipRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.AppID == uuid.Nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "app_id is required")
		return
	}

	actorID := auth.ActorIDFromContext(ctx)
	m, err := h.membershipService.AddMembership(ctx, actorID, userID, req.AppID, req.RoleName)
	if err != nil {
		l.WarnContext(ctx, "Failed to add membership", slog.Any("error", err))
		api.DomainErrorResponse(w, r, err)
		return
	}

	api.WriteJSONResponse(w, r, http.StatusCreated, m)
}

// RemoveMembership godoc
// @Summary      Remove Membership
// @Description  Revokes a user's membership in an app. The last SuperAdmin of an app cannot be removed.
// @Tags         Membership
// @Produce      json
// @Param        userID path string true "User ID"
// @Param        appID path string true "App ID"
// @Success      200 {object} api.Response "Removed"
// @Failure      422 {object} api.Response "Last SuperAdmin"
// @Security     BearerAuth
// @Router       /users/{userID}/memberships/{appID} [delete]
func (h *HandlerImpl) RemoveMembership(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("handler", "RemoveMembership"))

	userID, appID, err := pathIDs(r)
	if err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid ID format")
		return
	}

	actorID := auth.ActorIDFromContext(ctx)
	if err := h.membershipService.RemoveMembership(ctx, actorID, userID, appID); err != nil {
		l.WarnContext(ctx, "Failed to remove membership", slog.Any("error", err))
		api.DomainErrorResponse(w, r, err)
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, api.Response{Success: true, Message: "Membership removed"})
}

// ChangeRole godoc
// @Summary      Change Role
// @Description  Assigns a different role to an existing membership.
// @Tags         Membership
// @Accept       json
// @Produce      json
// @Param        userID path string true "User ID"
// @Param        appID path string true "App ID"
// @Param        body body ChangeRoleRequest true "New role name"
// @Success      200 {object} api.Membership "Updated Membership"
// @Failure      404 {object} api.Response "Role Not Found"
// @Failure      422 {object} api.Response "Last SuperAdmin"
// @Security     BearerAuth
// @Router       /users/{userID}/memberships/{appID}/role [put]
func (h *HandlerImpl) ChangeRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("handler", "ChangeRole"))

	userID, appID, err := pathIDs(r)
	if err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid ID format")
		return
	}

	var req ChangeRoleRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	actorID := auth.ActorIDFromContext(ctx)
	m, err := h.membershipService.ChangeRole(ctx, actorID, userID, appID, req.RoleName)
	if err != nil {
		l.WarnContext(ctx, "Failed to change role", slog.Any("error", err))
		api.DomainErrorResponse(w, r, err)
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, m)
}

// ChangeMembershipStatus godoc
// @Summary      Change Membership Status
// @Description  Sets the per-app membership status (Active, Banned, Pending).
// @Tags         Membership
// @Accept       json
// @Produce      json
// @Param        userID path string true "User ID"
// @Param        appID path string true "App ID"
// @Param        body body ChangeMembershipStatusRequest true "Target status"
// @Success      200 {object} api.Membership "Updated Membership"
// @Security     BearerAuth
// @Router       /users/{userID}/memberships/{appID}/status [put]
func (h *HandlerImpl) ChangeMembershipStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("handler", "ChangeMembershipStatus"))

	userID, appID, err := pathIDs(r)
	if err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid ID format")
		return
	}

	var req ChangeMembershipStatusRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	actorID := auth.ActorIDFromContext(ctx)
	m, err := h.membershipService.ChangeMembershipStatus(ctx, actorID, userID, appID, req.Status)
	if err != nil {
		l.WarnContext(ctx, "Failed to change membership status", slog.Any("error", err))
		api.DomainErrorResponse(w, r, err)
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, m)
}

// GetMemberships godoc
// @Summary      List Memberships
// @Description  Lists all app memberships for a user.
// @Tags         Membership
// @Produce      json
// @Param        userID path string true "User ID"
// @Success      200 {array} api.Membership "Memberships"
// @Security     BearerAuth
// @Router       /users/{userID}/memberships [get]
func (h *HandlerImpl) GetMemberships(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid user ID format")
		return
	}

	ms, err := h.membershipService.GetMembershipsForUser(ctx, userID)
	if err != nil {
		api.DomainErrorResponse(w, r, err)
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, ms)
}

// GetEffectivePermissions godoc
// @Summary      Effective Permissions
// @Description  Resolves the effective permission set for a user in an app.
// @Tags         Membership
// @Produce      json
// @Param        userID path string true "User ID"
// @Param        appID path string true "App ID"
// @Success      200 {array} string "Permissions"
// @Failure      404 {object} api.Response "No Membership"
// @Security     BearerAuth
// @Router       /users/{userID}/memberships/{appID}/permissions [get]
func (h *HandlerImpl) GetEffectivePermissions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, appID, err := pathIDs(r)
	if err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid ID format")
		return
	}

	perms, err := h.membershipService.EffectivePermissions(ctx, userID, appID)
	if err != nil {
		api.DomainErrorResponse(w, r, err)
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, perms)
}

// GetAccessibleApps godoc
// @Summary      Accessible Apps
// @Description  Lists active apps where the user's membership is Active.
// @Tags         Membership
// @Produce      json
// @Param        userID path string true "User ID"
// @Success      200 {array} api.App "Apps"
// @Security     BearerAuth
// @Router       /users/{userID}/apps [get]
func (h *HandlerImpl) GetAccessibleApps(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid user ID format")
		return
	}

	apps, err := h.membershipService.AccessibleApps(ctx, userID)
	if err != nil {
		api.DomainErrorResponse(w, r, err)
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, apps)
}
