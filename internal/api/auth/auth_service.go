package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/markbates/goth"
	"github.com/patrickmn/go-cache"
	"golang.org/x/crypto/bcrypt"

	"github.com/nivara-labs/identity-core/app/events"
	"github.com/nivara-labs/identity-core/config"
	"github.com/nivara-labs/identity-core/internal/api"
	"github.com/nivara-labs/identity-core/internal/api/status"
)

var _ AuthService = (*AuthServiceImpl)(nil)

// AuthService owns the credential flows: registration, login with lockout,
// token refresh, OTP issue/verify, password change and recovery, external
// provider login and account reactivation.
type AuthService interface {
	Register(ctx context.Context, req RegisterRequest) (*api.User, error)
	Login(ctx context.Context, email, password string, appID *uuid.UUID) (*TokenResponse, error)
	RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error)
	Logout(ctx context.Context, refreshToken string) error

	RequestOTP(ctx context.Context, userID uuid.UUID, channel string) (string, error)
	VerifyOTP(ctx context.Context, userID uuid.UUID, channel, code string) (*api.User, error)

	ChangePassword(ctx context.Context, userID uuid.UUID, currentPassword, newPassword string) error
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, email, code, newPassword string) error

	LoginWithProvider(ctx context.Context, provider string, providerUser goth.User) (*TokenResponse, error)

	InitiateReactivation(ctx context.Context, email string) error
	ConfirmReactivation(ctx context.Context, email, code string) (*api.User, error)
}

type AuthServiceImpl struct {
	logger        *slog.Logger
	repo          AuthRepo
	statusService status.StatusService
	dispatcher    events.Dispatcher
	cfg           *config.Config

	// otpCooldowns throttles code issuing per user and channel.
	otpCooldowns *cache.Cache
}

func NewAuthService(repo AuthRepo, statusService status.StatusService, dispatcher events.Dispatcher, cfg *config.Config, logger *slog.Logger) *AuthServiceImpl {
	return &AuthServiceImpl{
		logger:        logger,
		repo:          repo,
		statusService: statusService,
		dispatcher:    dispatcher,
		cfg:           cfg,
		otpCooldowns:  cache.New(cfg.OTP.Cooldown, 10*time.Minute),
	}
}

func (s *AuthServiceImpl) Register(ctx context.Context, req RegisterRequest) (*api.User, error) {
	l := s.logger.With(slog.String("method", "Register"), slog.String("email", req.Email))

	if req.Email == "" || req.Password == "" || req.AppID == uuid.Nil {
		return nil, fmt.Errorf("email, password and app_id are required: %w", api.ErrValidation)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.repo.Register(ctx, RegisterParams{
		Email:            req.Email,
		Phone:            req.Phone,
		PasswordHash:     string(hash),
		AppID:            req.AppID,
		RoleName:         req.RoleName,
		VerificationMode: req.VerificationMode,
	})
	if err != nil {
		l.WarnContext(ctx, "Registration failed", slog.Any("error", err))
		return nil, fmt.Errorf("error registering user: %w", err)
	}

	l.InfoContext(ctx, "User registered", slog.String("userID", user.ID.String()))
	return user, nil
}

// Login authenticates credentials and applies the status policy: only Active
// users receive tokens.
func (s *AuthServiceImpl) Login(ctx context.Context, email, password string, appID *uuid.UUID) (*TokenResponse, error) {
	l := s.logger.With(slog.String("method", "Login"), slog.String("email", email))

	rec, err := s.repo.GetCredentials(ctx, email)
	if err != nil {
		// Same answer for unknown email and bad password.
		return nil, fmt.Errorf("invalid credentials: %w", api.ErrUnauthenticated)
	}

	if rec.LockoutEnd != nil && rec.LockoutEnd.After(time.Now()) {
		l.WarnContext(ctx, "Login attempt on locked account")
		return nil, fmt.Errorf("account locked until %s: %w", rec.LockoutEnd.Format(time.RFC3339), api.ErrUnauthenticated)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(password)); err != nil {
		var lockUntil *time.Time
		if rec.AccessFailedCount+1 >= maxAccessFailures {
			t := time.Now().Add(lockoutDuration)
			lockUntil = &t
		}
		if ferr := s.repo.RecordLoginFailure(ctx, rec.User.ID, lockUntil); ferr != nil {
			l.ErrorContext(ctx, "Failed to record login failure", slog.Any("error", ferr))
		}
		return nil, fmt.Errorf("invalid credentials: %w", api.ErrUnauthenticated)
	}

	switch rec.User.Status {
	case api.StatusActive:
	case api.StatusBanned:
		return nil, fmt.Errorf("account is banned: %w", api.ErrForbidden)
	case api.StatusSoftDeleted:
		return nil, fmt.Errorf("account is deactivated: %w", api.ErrForbidden)
	default:
		return nil, fmt.Errorf("account is %s: %w", rec.User.Status, api.ErrUnauthenticated)
	}

	tokens, err := s.mintTokens(ctx, &rec.User)
	if err != nil {
		return nil, err
	}

	if err := s.repo.ResetLoginFailures(ctx, rec.User.ID, appID); err != nil {
		l.ErrorContext(ctx, "Failed to reset login failures", slog.Any("error", err))
	}

	l.InfoContext(ctx, "Login succeeded", slog.String("userID", rec.User.ID.String()))
	return tokens, nil
}

func (s *AuthServiceImpl) mintTokens(ctx context.Context, user *api.User) (*TokenResponse, error) {
	now := time.Now()
	claims := Claims{
		UserID: user.ID.String(),
		Email:  user.Email,
		Scope:  "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.JWT.Issuer,
			Audience:  jwt.ClaimStrings{s.cfg.JWT.Audience},
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWT.AccessTokenTTL)),
		},
	}
	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWT.SecretKey))
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	refreshToken := uuid.NewString()
	expiresAt := now.Add(s.cfg.JWT.RefreshTokenTTL)
	if err := s.repo.StoreRefreshToken(ctx, user.ID, refreshToken, expiresAt); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	return &TokenResponse{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

func (s *AuthServiceImpl) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	l := s.logger.With(slog.String("method", "RefreshToken"))

	userID, expiresAt, revokedAt, err := s.repo.GetRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("error validating refresh token: %w", err)
	}
	if time.Now().After(expiresAt) || revokedAt != nil {
		return nil, fmt.Errorf("refresh token expired or revoked: %w", api.ErrUnauthenticated)
	}

	user, err := s.statusService.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error fetching user for refresh: %w", err)
	}
	if user.Status != api.StatusActive {
		return nil, fmt.Errorf("account is %s: %w", user.Status, api.ErrUnauthenticated)
	}

	// Rotate: old token is revoked once the new pair is minted.
	tokens, err := s.mintTokens(ctx, user)
	if err != nil {
		return nil, err
	}
	if err := s.repo.RevokeRefreshToken(ctx, refreshToken); err != nil {
		l.ErrorContext(ctx, "Failed to revoke rotated refresh token", slog.Any("error", err))
	}
	return tokens, nil
}

func (s *AuthServiceImpl) Logout(ctx context.Context, refreshToken string) error {
	if err := s.repo.RevokeRefreshToken(ctx, refreshToken); err != nil {
		return fmt.Errorf("error revoking refresh token: %w", err)
	}
	return nil
}

func generateOTPCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("failed to generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// RequestOTP issues a verification code for the given channel. The code is
// returned to the caller for delivery; issuing is throttled per user and
// channel.
func (s *AuthServiceImpl) RequestOTP(ctx context.Context, userID uuid.UUID, channel string) (string, error) {
	l := s.logger.With(slog.String("method", "RequestOTP"),
		slog.String("userID", userID.String()),
		slog.String("channel", channel))

	if channel != "email" && channel != "phone" {
		return "", fmt.Errorf("unknown channel %q: %w", channel, api.ErrValidation)
	}

	cooldownKey := userID.String() + ":" + channel
	if _, onCooldown := s.otpCooldowns.Get(cooldownKey); onCooldown {
		return "", fmt.Errorf("code recently issued, retry later: %w", api.ErrConflict)
	}

	code, err := generateOTPCode()
	if err != nil {
		return "", err
	}
	expiresAt := time.Now().Add(s.cfg.OTP.TTL)
	if err := s.repo.CreateOTP(ctx, userID, code, channel, OTPPurposeVerification, expiresAt); err != nil {
		l.ErrorContext(ctx, "Failed to store otp", slog.Any("error", err))
		return "", fmt.Errorf("error issuing code: %w", err)
	}

	s.otpCooldowns.Set(cooldownKey, struct{}{}, s.cfg.OTP.Cooldown)
	l.InfoContext(ctx, "Verification code issued")
	return code, nil
}

// VerifyOTP consumes a verification code and marks the matching contact
// verified, which may advance the global status.
func (s *AuthServiceImpl) VerifyOTP(ctx context.Context, userID uuid.UUID, channel, code string) (*api.User, error) {
	l := s.logger.With(slog.String("method", "VerifyOTP"),
		slog.String("userID", userID.String()),
		slog.String("channel", channel))

	if err := s.repo.ConsumeOTP(ctx, userID, code, channel, OTPPurposeVerification, s.cfg.OTP.MaxAttempts); err != nil {
		l.WarnContext(ctx, "Code verification failed", slog.Any("error", err))
		return nil, fmt.Errorf("error verifying code: %w", err)
	}

	switch channel {
	case "email":
		return s.statusService.MarkEmailVerified(ctx, nil, userID)
	case "phone":
		return s.statusService.MarkPhoneVerified(ctx, nil, userID)
	default:
		return nil, fmt.Errorf("unknown channel %q: %w", channel, api.ErrValidation)
	}
}

// ChangePassword verifies the current password before storing a new hash.
// All refresh tokens are revoked so stolen sessions die with the old password.
func (s *AuthServiceImpl) ChangePassword(ctx context.Context, userID uuid.UUID, currentPassword, newPassword string) error {
	l := s.logger.With(slog.String("method", "ChangePassword"), slog.String("userID", userID.String()))

	if newPassword == "" {
		return fmt.Errorf("new password is required: %w", api.ErrValidation)
	}

	rec, err := s.repo.GetCredentialsByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("error locating account: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(currentPassword)); err != nil {
		l.WarnContext(ctx, "Password change with wrong current password")
		return fmt.Errorf("invalid credentials: %w", api.ErrUnauthenticated)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.repo.UpdatePassword(ctx, &userID, userID, string(hash)); err != nil {
		return fmt.Errorf("error updating password: %w", err)
	}

	if err := s.repo.InvalidateAllUserRefreshTokens(ctx, userID); err != nil {
		l.ErrorContext(ctx, "Failed to revoke refresh tokens after password change", slog.Any("error", err))
	}
	l.InfoContext(ctx, "Password changed")
	return nil
}

// ForgotPassword issues a reset code for the account behind the email. An
// unknown email gets the same success answer so the endpoint cannot be used
// to probe which addresses are registered.
func (s *AuthServiceImpl) ForgotPassword(ctx context.Context, email string) error {
	l := s.logger.With(slog.String("method", "ForgotPassword"), slog.String("email", email))

	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		l.InfoContext(ctx, "Reset requested for unknown email")
		return nil
	}

	cooldownKey := user.ID.String() + ":" + OTPPurposePasswordReset
	if _, onCooldown := s.otpCooldowns.Get(cooldownKey); onCooldown {
		return fmt.Errorf("code recently issued, retry later: %w", api.ErrConflict)
	}

	code, err := generateOTPCode()
	if err != nil {
		return err
	}
	expiresAt := time.Now().Add(s.cfg.OTP.TTL)
	if err := s.repo.CreateOTP(ctx, user.ID, code, "email", OTPPurposePasswordReset, expiresAt); err != nil {
		return fmt.Errorf("error issuing reset code: %w", err)
	}

	s.otpCooldowns.Set(cooldownKey, struct{}{}, s.cfg.OTP.Cooldown)
	l.InfoContext(ctx, "Password reset code issued", slog.String("userID", user.ID.String()))
	return nil
}

// ResetPassword consumes the reset code and stores the new hash, revoking all
// outstanding refresh tokens.
func (s *AuthServiceImpl) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	l := s.logger.With(slog.String("method", "ResetPassword"), slog.String("email", email))

	if newPassword == "" {
		return fmt.Errorf("new password is required: %w", api.ErrValidation)
	}

	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		// Same answer as a wrong code.
		return fmt.Errorf("invalid reset code: %w", api.ErrUnauthenticated)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.repo.ResetPassword(ctx, user.ID, code, string(hash), s.cfg.OTP.MaxAttempts); err != nil {
		l.WarnContext(ctx, "Password reset failed", slog.Any("error", err))
		return fmt.Errorf("error resetting password: %w", err)
	}

	if err := s.repo.InvalidateAllUserRefreshTokens(ctx, user.ID); err != nil {
		l.ErrorContext(ctx, "Failed to revoke refresh tokens after password reset", slog.Any("error", err))
	}
	l.InfoContext(ctx, "Password reset", slog.String("userID", user.ID.String()))
	return nil
}

// LoginWithProvider exchanges an external provider identity for local tokens,
// creating and linking the user as needed.
func (s *AuthServiceImpl) LoginWithProvider(ctx context.Context, provider string, providerUser goth.User) (*TokenResponse, error) {
	l := s.logger.With(slog.String("method", "LoginWithProvider"), slog.String("provider", provider))

	user, err := s.repo.GetOrCreateUserFromProvider(ctx, provider, providerUser)
	if err != nil {
		l.ErrorContext(ctx, "Provider login failed", slog.Any("error", err))
		return nil, fmt.Errorf("error resolving provider identity: %w", err)
	}

	switch user.Status {
	case api.StatusActive:
	case api.StatusBanned, api.StatusSoftDeleted:
		return nil, fmt.Errorf("account is %s: %w", user.Status, api.ErrForbidden)
	default:
		return nil, fmt.Errorf("account is %s: %w", user.Status, api.ErrUnauthenticated)
	}

	return s.mintTokens(ctx, user)
}

// InitiateReactivation issues a reactivation code for a soft-deleted account.
// The account stays SoftDeleted until the code is confirmed.
func (s *AuthServiceImpl) InitiateReactivation(ctx context.Context, email string) error {
	l := s.logger.With(slog.String("method", "InitiateReactivation"), slog.String("email", email))

	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("error locating account: %w", err)
	}
	if user.Status != api.StatusSoftDeleted {
		return fmt.Errorf("account is %s, not deactivated: %w", user.Status, api.ErrIllegalTransition)
	}

	code, err := generateOTPCode()
	if err != nil {
		return err
	}
	expiresAt := time.Now().Add(s.cfg.OTP.TTL)
	if err := s.repo.CreateOTP(ctx, user.ID, code, "email", OTPPurposeReactivation, expiresAt); err != nil {
		return fmt.Errorf("error issuing reactivation code: %w", err)
	}
	if err := s.repo.MarkReactivationRequested(ctx, user.ID); err != nil {
		return fmt.Errorf("error recording reactivation request: %w", err)
	}

	l.InfoContext(ctx, "Reactivation requested", slog.String("userID", user.ID.String()))
	s.dispatcher.ReactivationRequested(ctx, user.ID)
	return nil
}

// ConfirmReactivation verifies the reactivation code and restores the account
// to Active.
func (s *AuthServiceImpl) ConfirmReactivation(ctx context.Context, email, code string) (*api.User, error) {
	l := s.logger.With(slog.String("method", "ConfirmReactivation"), slog.String("email", email))

	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("error locating account: %w", err)
	}

	after, err := s.repo.ConfirmReactivation(ctx, user.ID, code, s.cfg.OTP.MaxAttempts)
	if err != nil {
		l.WarnContext(ctx, "Reactivation failed", slog.Any("error", err))
		return nil, fmt.Errorf("error confirming reactivation: %w", err)
	}

	l.InfoContext(ctx, "Account reactivated", slog.String("userID", user.ID.String()))
	s.dispatcher.StatusChanged(ctx, user.ID, user.Status, after.Status)
	return after, nil
}
