package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nivara-labs/identity-core/internal/api"
)

// OTP purposes. Verification codes prove contact ownership, reactivation
// codes unlock the SoftDeleted -> Active path, and reset codes authorize a
// password reset.
const (
	OTPPurposeVerification  = "verification"
	OTPPurposeReactivation  = "reactivation"
	OTPPurposePasswordReset = "password_reset"
)

// Login failure policy.
const (
	maxAccessFailures = 5
	lockoutDuration   = 15 * time.Minute
)

// RegisterRequest is the self-registration body. AppID names the app the
// user registers through; the membership is created alongside the user.
type RegisterRequest struct {
	Email            string               `json:"email"`
	Phone            string               `json:"phone"`
	Password         string               `json:"password"`
	AppID            uuid.UUID            `json:"app_id"`
	RoleName         string               `json:"role_name,omitempty"`
	VerificationMode api.VerificationMode `json:"verification_mode,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type RequestOTPRequest struct {
	Channel string `json:"channel"` // "email" or "phone"
}

type VerifyOTPRequest struct {
	Channel string `json:"channel"`
	Code    string `json:"code"`
}

type ReactivationRequest struct {
	Email string `json:"email"`
}

type ConfirmReactivationRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

type ResetPasswordRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

// ProviderLoginRequest carries the already-validated identity assertion from
// an external provider exchange.
type ProviderLoginRequest struct {
	ProviderKey string `json:"provider_key"`
	Email       string `json:"email"`
	Name        string `json:"name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Claims is the JWT payload minted on login.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Scope  string `json:"scope"`
	jwt.RegisteredClaims
}

// RegisterParams is the repository-level registration payload; the password
// arrives already hashed.
type RegisterParams struct {
	Email            string
	Phone            string
	PasswordHash     string
	AppID            uuid.UUID
	RoleName         string
	VerificationMode api.VerificationMode
}

// Credentials is the credential view of a user row used by login.
type Credentials struct {
	User              api.User
	PasswordHash      string
	AccessFailedCount int
	LockoutEnd        *time.Time
}
