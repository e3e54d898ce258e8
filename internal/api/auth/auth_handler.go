package auth

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/markbates/goth"

	"github.com/nivara-labs/identity-core/internal/api"
)

var _ Handler = (*HandlerImpl)(nil)

type Handler interface {
	Register(w http.ResponseWriter, r *http.Request)
	Login(w http.ResponseWriter, r *http.Request)
	RefreshToken(w http.ResponseWriter, r *http.Request)
	Logout(w http.ResponseWriter, r *http.Request)
	RequestOTP(w http.ResponseWriter, r *http.Request)
	VerifyOTP(w http.ResponseWriter, r *http.Request)
	ChangePassword(w http.ResponseWriter, r *http.Request)
	ForgotPassword(w http.ResponseWriter, r *http.Request)
	ResetPassword(w http.ResponseWriter, r *http.Request)
	ProviderLogin(w http.ResponseWriter, r *http.Request)
	InitiateReactivation(w http.ResponseWriter, r *http.Request)
	ConfirmReactivation(w http.ResponseWriter, r *http.Request)
}

type HandlerImpl struct {
	authService AuthService
	logger      *slog.Logger
}

func NewHandlerImpl(authService AuthService, logger *slog.Logger) *HandlerImpl {
	return &HandlerImpl{
		authService: authService,
		logger:      logger,
	}
}

// Register godoc
// @Summary      Register
// @Description  Creates a user in PendingAccountVerification together with its first app membership.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body body RegisterRequest true "Registration"
// @Success      201 {object} api.User "Created User"
// @Failure      409 {object} api.Response "Email or Phone Taken"
// @Router       /auth/register [post]
func (h *HandlerImpl) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("handler", "Register"))

	var req RegisterRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.authService.Register(ctx, req)
	if err != nil {
		l.WarnContext(ctx, "Registration failed", slog.Any("error", err))
		api.DomainErrorResponse(w, r, err)
		return
	}

	api.WriteJSONResponse(w, r, http.StatusCreated, user)
}

// Login godoc
// @Summary      Login
// @Description  Exchanges credentials for an access/refresh token pair. Only Active accounts may log in.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body body LoginRequest true "Credentials"
// @Success      200 {object} TokenResponse "Tokens"
// @Failure      401 {object} api.Response "Invalid Credentials"
// @Failure      403 {object} api.Response "Banned or Deactivated"
// @Router       /auth/login [post]
func (h *HandlerImpl) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("handler", "Login"))

	var req LoginRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	tokens, err := h.authService.Login(ctx, req.Email, req.Password, nil)
	if err != nil {
		l.WarnContext(ctx, "Login failed", slog.Any("error", err))
		api.DomainErrorResponse(w, r, err)
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, tokens)
}

// RefreshToken godoc
// @Summary      Refresh Token
// @Description  Rotates a refresh token for a new token pair.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body body RefreshTokenRequest true "Refresh Token"
// @Success      200 {object} TokenResponse "Tokens"
// @Failure      401 {object} api.Response "Invalid Token"
// @Router       /auth/refresh [post]
func (h *HandlerImpl) RefreshToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RefreshTokenRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	tokens, err := h.authService.RefreshToken(ctx, req.RefreshToken)
	if err != nil {
		api.DomainErrorResponse(w, r, err)
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, tokens)
}

// Logout godoc
// @Summary      Logout
// @Description  Revokes a refresh token.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body body LogoutRequest true "Refresh Token"
// @Success      200 {object} api.Response "Logged Out"
// @Router       /auth/logout [post]
func (h *HandlerImpl) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req LogoutRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.authService.Logout(ctx, req.RefreshToken); err != nil {
		api.DomainErrorResponse(w, r, err)
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, api.Response{Success: true, Message: "Logged out"})
}

// RequestOTP godoc
// @Summary      Request OTP
// @Description  Issues a one-time verification code for the user's email or phone.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        userID path string true "User ID"
// @Param        body body RequestOTPRequest true "Channel"
// @Success      200 {object} api.Response "Code Issued"
// @Failure      409 {object} api.Response "Cooldown Active"
// @Router       /auth/users/{userID}/otp [post]
func (h *HandlerImpl) RequestOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("handler", "RequestOTP"))

	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid user ID format")
		return
	}

	var req RequestOTPRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	code, err := h.authService.RequestOTP(ctx, userID, req.Channel)
	if err != nil {
		l.WarnContext(ctx, "Failed to issue code", slog.Any("error", err))
		api.DomainErrorResponse(w, r, err)
		return
	}

	// The code goes out through the delivery channel, never the response.
	l.DebugContext(ctx, "Verification code issued", slog.Int("codeLength", len(code)))
	api.WriteJSONResponse(w, r, http.StatusOK, api.Response{Success: true, Message: "Verification code sent"})
}

// VerifyOTP godoc
// @Summary      Verify OTP
// @Description  Consumes a verification code; success marks the contact verified and may advance the global status.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        userID path string true "User ID"
// @Param        body body VerifyOTPRequest true "Channel and Code"
// @Success      200 {object} api.User "Updated User"
// @Failure      401 {object} api.Response "Invalid Code"
// @Router       /auth/users/{userID}/otp/verify [post]
func (h *HandlerImpl) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("handler", "VerifyOTP"))

	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid user ID format")
		return
	}

	var req VerifyOTPRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.authService.VerifyOTP(ctx, userID, req.Channel, req.Code)
	if err != nil {
		l.WarnContext(ctx, "Code verification failed", slog.Any("error", err))
		api.DomainErrorResponse(w, r, err)
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, user)
}

// ChangePassword godoc
// @Summary      Change Password
// @Description  Replaces the caller's password after verifying the current one. All refresh tokens are revoked.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body body ChangePasswordRequest true "Current and New Password"
// @Success      200 {object} api.Response "Password Changed"
// @Failure      401 {object} api.Response "Wrong Current Password"
// @Security     BearerAuth
// @Router       /auth/password/change [post]
func (h *HandlerImpl) ChangePassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("handler", "ChangePassword"))

	userIDStr, ok := GetUserIDFromContext(ctx)
	if !ok {
		api.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		api.ErrorResponse(w, r, http.StatusUnauthorized, "Invalid token subject")
		return
	}

	var req ChangePasswordRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.authService.ChangePassword(ctx, userID, req.CurrentPassword, req.NewPassword); err != nil {
		l.WarnContext(ctx, "Password change failed", slog.Any("error", err))
		api.DomainErrorResponse(w, r, err)
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, api.Response{Success: true, Message: "Password changed"})
}

// ForgotPassword godoc
// @Summary      Forgot Password
// @Description  Issues a password reset code. Responds identically whether or not the email is registered.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body body ForgotPasswordRequest true "Account Email"
// @Success      200 {object} api.Response "Code Issued"
// @Failure      409 {object} api.Response "Cooldown Active"
// @Router       /auth/password/forgot [post]
func (h *HandlerImpl) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("handler", "ForgotPassword"))

	var req ForgotPasswordRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.authService.ForgotPassword(ctx, req.Email); err != nil {
		l.WarnContext(ctx, "Reset code request failed", slog.Any("error", err))
		api.DomainErrorResponse(w, r, err)
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, api.Response{Success: true, Message: "If the account exists, a reset code was sent"})
}

// ResetPassword godoc
// @Summary      Reset Password
// @Description  Consumes a reset code and stores the new password. All refresh tokens are revoked.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body body ResetPasswordRequest true "Email, Code and New Password"
// @Success      200 {object} api.Response "Password Reset"
// @Failure      401 {object} api.Response "Invalid Code"
// @Router       /auth/password/reset [post]
func (h *HandlerImpl) ResetPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("handler", "ResetPassword"))

	var req ResetPasswordRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.authService.ResetPassword(ctx, req.Email, req.Code, req.NewPassword); err != nil {
		l.WarnContext(ctx, "Password reset failed", slog.Any("error", err))
		api.DomainErrorResponse(w, r, err)
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, api.Response{Success: true, Message: "Password reset"})
}

// ProviderLogin godoc
// @Summary      Provider Login
// @Description  Exchanges a validated external provider identity for local tokens, linking or creating the account.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        provider path string true "Provider Name"
// @Param        body body ProviderLoginRequest true "Provider Identity"
// @Success      200 {object} TokenResponse "Tokens"
// @Router       /auth/provider/{provider} [post]
func (h *HandlerImpl) ProviderLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("handler", "ProviderLogin"))

	provider := chi.URLParam(r, "provider")
	if provider == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Provider is required")
		return
	}

	var req ProviderLoginRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.ProviderKey == "" || req.Email == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "provider_key and email are required")
		return
	}

	providerUser := goth.User{
		Provider:  provider,
		UserID:    req.ProviderKey,
		Email:     req.Email,
		Name:      req.Name,
		AvatarURL: req.AvatarURL,
	}
	tokens, err := h.authService.LoginWithProvider(ctx, provider, providerUser)
	if err != nil {
		l.WarnContext(ctx, "Provider login failed", slog.Any("error", err))
		api.DomainErrorResponse(w, r, err)
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, tokens)
}

// InitiateReactivation godoc
// @Summary      Request Reactivation
// @Description  Issues a reactivation code for a deactivated account.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body body ReactivationRequest true "Account Email"
// @Success      200 {object} api.Response "Code Issued"
// @Failure      422 {object} api.Response "Account Not Deactivated"
// @Router       /auth/reactivate [post]
func (h *HandlerImpl) InitiateReactivation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("handler", "InitiateReactivation"))

	var req ReactivationRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.authService.InitiateReactivation(ctx, req.Email); err != nil {
		l.WarnContext(ctx, "Reactivation request failed", slog.Any("error", err))
		api.DomainErrorResponse(w, r, err)
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, api.Response{Success: true, Message: "Reactivation code sent"})
}

// ConfirmReactivation godoc
// @Summary      Confirm Reactivation
// @Description  Verifies the reactivation code and restores the account to Active.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body body ConfirmReactivationRequest true "Email and Code"
// @Success      200 {object} api.User "Reactivated User"
// @Failure      401 {object} api.Response "Invalid Code"
// @Router       /auth/reactivate/confirm [post]
func (h *HandlerImpl) ConfirmReactivation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("handler", "ConfirmReactivation"))

	var req ConfirmReactivationRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.authService.ConfirmReactivation(ctx, req.Email, req.Code)
	if err != nil {
		l.WarnContext(ctx, "Reactivation confirm failed", slog.Any("error", err))
		api.DomainErrorResponse(w, r, err)
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, user)
}
