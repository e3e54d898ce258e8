package tenant

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
	CreateApp(w http.ResponseWriter, r *http.Request)
	UpdateApp(w http.ResponseWriter, r *http.Request)
	GetApp(w http.ResponseWriter, r *http.Request)
	ListApps(w http.ResponseWriter, r *http.Request)
	CreateRole(w http.ResponseWriter, r *http.Request)
	GetRole(w http.ResponseWriter, r *http.Request)
	ListRoles(w http.ResponseWriter, r *http.Request)
}

type HandlerImpl struct {
	tenantService TenantService
	logger        *slog.Logger
}

func NewHandlerImpl(tenantService TenantService, logger *slog.Logger) *HandlerImpl {
	return &HandlerImpl{
		tenantService: tenantService,
		logger:        logger,
	}
}

type CreateAppRequest struct {
	Name    string `json:"name"`
	BaseURL string `json:"base_url,omitempty"`
}

type UpdateAppRequest struct {
	BaseURL  *string `json:"base_url,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}

type CreateRoleRequest struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions,omitempty"`
}

// CreateApp godoc
// @Summary      Create App
// @Description  Registers a tenant application.
// @Tags         Tenant
// @Accept       json
// @Produce      json
// @Param        body body CreateAppRequest true "App"
// @Success      201 {object} api.App "Created App"
// @Failure      409 {object} api.Response "Name Taken"
// @Security     BearerAuth
// @Router       /apps [post]
func (h *HandlerImpl) CreateApp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("handler", "CreateApp"))

	var req CreateAppRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	actorID := auth.ActorIDFromContext(ctx)
	app, err := h.tenantService.CreateApp(ctx, actorID, req.Name, req.BaseURL)
	if err != nil {
		l.WarnContext(ctx, "Failed to create app", slog.Any("error", err))
		api.DomainErrorResponse(w, r, err)
		return
	}

	api.WriteJSONResponse(w, r, http.StatusCreated, app)
}

// UpdateApp godoc
// @Summary      Update App
// @Description  Updates an app's base URL or active flag. App identity is immutable.
// @Tags         Tenant
// @Accept       json
// @Produce      json
// @Param        appID path string true "App ID"
// @Param        body body UpdateAppRequest true "Changes"
// @Success      200 {object} api.App "Updated App"
// @Security     BearerAuth
// @Router       /apps/{appID} [put]
func (h *HandlerImpl) UpdateApp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("handler", "UpdateApp"))

	appID, err := uuid.Parse(chi.URLParam(r, "appID"))
	if err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid app ID format")
		return
	}

	var req UpdateAppRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	actorID := auth.ActorIDFromContext(ctx)
	app, err := h.tenantService.UpdateApp(ctx, actorID, appID, req.BaseURL, req.IsActive)
	if err != nil {
		l.WarnContext(ctx, "Failed to update app", slog.Any("error", err))
		api.DomainErrorResponse(w, r, err)
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, app)
}

// GetApp godoc
// @Summary      Get App
// @Tags         Tenant
// @Produce      json
// @Param        appID path string true "App ID"
// @Success      200 {object} api.App "App"
// @Failure      404 {object} api.Response "Not Found"
// @Security     BearerAuth
// @Router       /apps/{appID} [get]
func (h *HandlerImpl) GetApp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	appID, err := uuid.Parse(chi.URLParam(r, "appID"))
	if err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid app ID format")
		return
	}

	app, err := h.tenantService.GetApp(ctx, appID)
	if err != nil {
		api.DomainErrorResponse(w, r, err)
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, app)
}

// ListApps godoc
// @Summary      List Apps
// @Tags         Tenant
// @Produce      json
// @Success      200 {array} api.App "Apps"
// @Security     BearerAuth
// @Router       /apps [get]
func (h *HandlerImpl) ListApps(w http.ResponseWriter, r *http.Request) {
	apps, err := h.tenantService.ListApps(r.Context())
	if err != nil {
		api.DomainErrorResponse(w, r, err)
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, apps)
}

// CreateRole godoc
// @Summary      Create Role
// @Description  Creates a named permission bundle for an app. Names are unique per app.
// @Tags         Tenant
// @Accept       json
// @Produce      json
// @Param        appID path string true "App ID"
// @Param        body body CreateRoleRequest true "Role"
// @Success      201 {object} api.Role "Created Role"
// @Failure      409 {object} api.Response "Name Taken"
// @Security     BearerAuth
// @Router       /apps/{appID}/roles [post]
func (h *HandlerImpl) CreateRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("handler", "CreateRole"))

	appID, err := uuid.Parse(chi.URLParam(r, "appID"))
	if err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid app ID format")
		return
	}

	var req CreateRoleRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	actorID := auth.ActorIDFromContext(ctx)
	role, err := h.tenantService.CreateRole(ctx, actorID, appID, req.Name, req.Permissions)
	if err != nil {
		l.WarnContext(ctx, "Failed to create role", slog.Any("error", err))
		api.DomainErrorResponse(w, r, err)
		return
	}

	api.WriteJSONResponse(w, r, http.StatusCreated, role)
}

// GetRole godoc
// @Summary      Get Role
// @Tags         Tenant
// @Produce      json
// @Param        appID path string true "App ID"
// @Param        roleName path string true "Role Name"
// @Success      200 {object} api.Role "Role"
// @Failure      404 {object} api.Response "Role Not Found"
// @Security     BearerAuth
// @Router       /apps/{appID}/roles/{roleName} [get]
func (h *HandlerImpl) GetRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	appID, err := uuid.Parse(chi.URLParam(r, "appID"))
	if err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid app ID format")
		return
	}
	roleName := chi.URLParam(r, "roleName")

	role, err := h.tenantService.GetRole(ctx, appID, roleName)
	if err != nil {
		api.DomainErrorResponse(w, r, err)
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, role)
}

// ListRoles godoc
// @Summary      List Roles
// @Tags         Tenant
// @Produce      json
// @Param        appID path string true "App ID"
// @Success      200 {array} api.Role "Roles"
// @Security     BearerAuth
// @Router       /apps/{appID}/roles [get]
func (h *HandlerImpl) ListRoles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	appID, err := uuid.Parse(chi.URLParam(r, "appID"))
	if err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid app ID format")
		return
	}

	roles, err := h.tenantService.ListRoles(ctx, appID)
	if err != nil {
		api.DomainErrorResponse(w, r, err)
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, roles)
}
