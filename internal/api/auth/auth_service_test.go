package auth

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/markbates/goth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/nivara-labs/identity-core/config"
	"github.com/nivara-labs/identity-core/internal/api"
)

type MockAuthRepo struct {
	mock.Mock
}

func (m *MockAuthRepo) Register(ctx context.Context, params RegisterParams) (*api.User, error) {
	args := m.Called(ctx, params)
	u, _ := args.Get(0).(*api.User)
	return u, args.Error(1)
}

func (m *MockAuthRepo) GetUserByEmail(ctx context.Context, email string) (*api.User, error) {
	args := m.Called(ctx, email)
	u, _ := args.Get(0).(*api.User)
	return u, args.Error(1)
}

func (m *MockAuthRepo) GetCredentials(ctx context.Context, email string) (*Credentials, error) {
	args := m.Called(ctx, email)
	c, _ := args.Get(0).(*Credentials)
	return c, args.Error(1)
}

func (m *MockAuthRepo) GetCredentialsByID(ctx context.Context, userID uuid.UUID) (*Credentials, error) {
	args := m.Called(ctx, userID)
	c, _ := args.Get(0).(*Credentials)
	return c, args.Error(1)
}

func (m *MockAuthRepo) UpdatePassword(ctx context.Context, actorID *uuid.UUID, userID uuid.UUID, newHash string) error {
	return m.Called(ctx, actorID, userID, newHash).Error(0)
}

func (m *MockAuthRepo) ResetPassword(ctx context.Context, userID uuid.UUID, code, newHash string, maxAttempts int) error {
	return m.Called(ctx, userID, code, newHash, maxAttempts).Error(0)
}

func (m *MockAuthRepo) RecordLoginFailure(ctx context.Context, userID uuid.UUID, lockUntil *time.Time) error {
	return m.Called(ctx, userID, lockUntil).Error(0)
}

func (m *MockAuthRepo) ResetLoginFailures(ctx context.Context, userID uuid.UUID, appID *uuid.UUID) error {
	return m.Called(ctx, userID, appID).Error(0)
}

func (m *MockAuthRepo) StoreRefreshToken(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) error {
	return m.Called(ctx, userID, token, expiresAt).Error(0)
}

func (m *MockAuthRepo) GetRefreshToken(ctx context.Context, token string) (uuid.UUID, time.Time, *time.Time, error) {
	args := m.Called(ctx, token)
	userID, _ := args.Get(0).(uuid.UUID)
	expiresAt, _ := args.Get(1).(time.Time)
	revokedAt, _ := args.Get(2).(*time.Time)
	return userID, expiresAt, revokedAt, args.Error(3)
}

func (m *MockAuthRepo) RevokeRefreshToken(ctx context.Context, token string) error {
	return m.Called(ctx, token).Error(0)
}

func (m *MockAuthRepo) InvalidateAllUserRefreshTokens(ctx context.Context, userID uuid.UUID) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *MockAuthRepo) CreateOTP(ctx context.Context, userID uuid.UUID, code, channel, purpose string, expiresAt time.Time) error {
	return m.Called(ctx, userID, code, channel, purpose, expiresAt).Error(0)
}

func (m *MockAuthRepo) ConsumeOTP(ctx context.Context, userID uuid.UUID, code, channel, purpose string, maxAttempts int) error {
	return m.Called(ctx, userID, code, channel, purpose, maxAttempts).Error(0)
}

func (m *MockAuthRepo) GetOrCreateUserFromProvider(ctx context.Context, provider string, providerUser goth.User) (*api.User, error) {
	args := m.Called(ctx, provider, providerUser)
	u, _ := args.Get(0).(*api.User)
	return u, args.Error(1)
}

func (m *MockAuthRepo) MarkReactivationRequested(ctx context.Context, userID uuid.UUID) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *MockAuthRepo) ConfirmReactivation(ctx context.Context, userID uuid.UUID, code string, maxAttempts int) (*api.User, error) {
	args := m.Called(ctx, userID, code, maxAttempts)
	u, _ := args.Get(0).(*api.User)
	return u, args.Error(1)
}

type MockStatusService struct {
	mock.Mock
}

func (m *MockStatusService) GetUser(ctx context.Context, userID uuid.UUID) (*api.User, error) {
	args := m.Called(ctx, userID)
	u, _ := args.Get(0).(*api.User)
	return u, args.Error(1)
}

func (m *MockStatusService) SetGlobalStatus(ctx context.Context, actorID *uuid.UUID, userID uuid.UUID, to api.GlobalStatus) (*api.User, error) {
	args := m.Called(ctx, actorID, userID, to)
	u, _ := args.Get(0).(*api.User)
	return u, args.Error(1)
}

func (m *MockStatusService) MarkEmailVerified(ctx context.Context, actorID *uuid.UUID, userID uuid.UUID) (*api.User, error) {
	args := m.Called(ctx, actorID, userID)
	u, _ := args.Get(0).(*api.User)
	return u, args.Error(1)
}

func (m *MockStatusService) MarkPhoneVerified(ctx context.Context, actorID *uuid.UUID, userID uuid.UUID) (*api.User, error) {
	args := m.Called(ctx, actorID, userID)
	u, _ := args.Get(0).(*api.User)
	return u, args.Error(1)
}

type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) StatusChanged(ctx context.Context, userID uuid.UUID, from, to api.GlobalStatus) {
	m.Called(ctx, userID, from, to)
}

func (m *MockDispatcher) ContactChanged(ctx context.Context, userID uuid.UUID, field string) {
	m.Called(ctx, userID, field)
}

func (m *MockDispatcher) MembershipRevoked(ctx context.Context, userID, appID uuid.UUID) {
	m.Called(ctx, userID, appID)
}

func (m *MockDispatcher) ReactivationRequested(ctx context.Context, userID uuid.UUID) {
	m.Called(ctx, userID)
}

func (m *MockDispatcher) Close() error {
	return m.Called().Error(0)
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.JWT = config.JWTConfig{
		SecretKey:        "test-secret",
		RefreshSecretKey: "test-refresh-secret",
		AccessTokenTTL:   15 * time.Minute,
		RefreshTokenTTL:  7 * 24 * time.Hour,
		Issuer:           "identity-core-test",
		Audience:         "identity-core-clients",
	}
	cfg.OTP = config.OTPConfig{
		TTL:         10 * time.Minute,
		Cooldown:    time.Minute,
		MaxAttempts: 5,
	}
	return cfg
}

func newTestAuthService(repo AuthRepo, statusSvc *MockStatusService, dispatcher *MockDispatcher) *AuthServiceImpl {
	return NewAuthService(repo, statusSvc, dispatcher, testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func hashOf(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func TestAuthService_Login(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	t.Run("active user gets token pair", func(t *testing.T) {
		repo := new(MockAuthRepo)
		svc := newTestAuthService(repo, new(MockStatusService), new(MockDispatcher))

		repo.On("GetCredentials", ctx, "jo@example.com").Return(&Credentials{
			User:         api.User{ID: userID, Email: "jo@example.com", Status: api.StatusActive},
			PasswordHash: hashOf(t, "hunter2"),
		}, nil)
		repo.On("StoreRefreshToken", ctx, userID, mock.AnythingOfType("string"), mock.AnythingOfType("time.Time")).Return(nil)
		repo.On("ResetLoginFailures", ctx, userID, (*uuid.UUID)(nil)).Return(nil)

		tokens, err := svc.Login(ctx, "jo@example.com", "hunter2", nil)
		require.NoError(t, err)
		assert.NotEmpty(t, tokens.AccessToken)
		assert.NotEmpty(t, tokens.RefreshToken)
		repo.AssertExpectations(t)
	})

	t.Run("wrong password records failure", func(t *testing.T) {
		repo := new(MockAuthRepo)
		svc := newTestAuthService(repo, new(MockStatusService), new(MockDispatcher))

		repo.On("GetCredentials", ctx, "jo@example.com").Return(&Credentials{
			User:         api.User{ID: userID, Status: api.StatusActive},
			PasswordHash: hashOf(t, "hunter2"),
		}, nil)
		repo.On("RecordLoginFailure", ctx, userID, (*time.Time)(nil)).Return(nil)

		_, err := svc.Login(ctx, "jo@example.com", "wrong", nil)
		assert.ErrorIs(t, err, api.ErrUnauthenticated)
		repo.AssertExpectations(t)
	})

	t.Run("final failure sets lockout", func(t *testing.T) {
		repo := new(MockAuthRepo)
		svc := newTestAuthService(repo, new(MockStatusService), new(MockDispatcher))

		repo.On("GetCredentials", ctx, "jo@example.com").Return(&Credentials{
			User:              api.User{ID: userID, Status: api.StatusActive},
			PasswordHash:      hashOf(t, "hunter2"),
			AccessFailedCount: maxAccessFailures - 1,
		}, nil)
		repo.On("RecordLoginFailure", ctx, userID, mock.MatchedBy(func(lockUntil *time.Time) bool {
			return lockUntil != nil && lockUntil.After(time.Now())
		})).Return(nil)

		_, err := svc.Login(ctx, "jo@example.com", "wrong", nil)
		assert.ErrorIs(t, err, api.ErrUnauthenticated)
		repo.AssertExpectations(t)
	})

	t.Run("locked account rejected before password check", func(t *testing.T) {
		repo := new(MockAuthRepo)
		svc := newTestAuthService(repo, new(MockStatusService), new(MockDispatcher))

		lockUntil := time.Now().Add(10 * time.Minute)
		repo.On("GetCredentials", ctx, "jo@example.com").Return(&Credentials{
			User:         api.User{ID: userID, Status: api.StatusActive},
			PasswordHash: hashOf(t, "hunter2"),
			LockoutEnd:   &lockUntil,
		}, nil)

		_, err := svc.Login(ctx, "jo@example.com", "hunter2", nil)
		assert.ErrorIs(t, err, api.ErrUnauthenticated)
		repo.AssertNotCalled(t, "StoreRefreshToken", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("banned account forbidden", func(t *testing.T) {
		repo := new(MockAuthRepo)
		svc := newTestAuthService(repo, new(MockStatusService), new(MockDispatcher))

		repo.On("GetCredentials", ctx, "jo@example.com").Return(&Credentials{
			User:         api.User{ID: userID, Status: api.StatusBanned},
			PasswordHash: hashOf(t, "hunter2"),
		}, nil)

		_, err := svc.Login(ctx, "jo@example.com", "hunter2", nil)
		assert.ErrorIs(t, err, api.ErrForbidden)
	})

	t.Run("pending account unauthenticated", func(t *testing.T) {
		repo := new(MockAuthRepo)
		svc := newTestAuthService(repo, new(MockStatusService), new(MockDispatcher))

		repo.On("GetCredentials", ctx, "jo@example.com").Return(&Credentials{
			User:         api.User{ID: userID, Status: api.StatusPendingEmailVerification},
			PasswordHash: hashOf(t, "hunter2"),
		}, nil)

		_, err := svc.Login(ctx, "jo@example.com", "hunter2", nil)
		assert.ErrorIs(t, err, api.ErrUnauthenticated)
	})

	t.Run("unknown email indistinguishable from bad password", func(t *testing.T) {
		repo := new(MockAuthRepo)
		svc := newTestAuthService(repo, new(MockStatusService), new(MockDispatcher))

		repo.On("GetCredentials", ctx, "ghost@example.com").Return(nil, api.ErrNotFound)

		_, err := svc.Login(ctx, "ghost@example.com", "whatever", nil)
		assert.ErrorIs(t, err, api.ErrUnauthenticated)
		assert.NotErrorIs(t, err, api.ErrNotFound)
	})
}

func TestAuthService_Register(t *testing.T) {
	ctx := context.Background()
	appID := uuid.New()

	t.Run("missing fields rejected", func(t *testing.T) {
		repo := new(MockAuthRepo)
		svc := newTestAuthService(repo, new(MockStatusService), new(MockDispatcher))

		_, err := svc.Register(ctx, RegisterRequest{Email: "jo@example.com"})
		assert.ErrorIs(t, err, api.ErrValidation)
		repo.AssertNotCalled(t, "Register", mock.Anything, mock.Anything)
	})

	t.Run("hashes password before storing", func(t *testing.T) {
		repo := new(MockAuthRepo)
		svc := newTestAuthService(repo, new(MockStatusService), new(MockDispatcher))

		repo.On("Register", ctx, mock.MatchedBy(func(p RegisterParams) bool {
			return p.PasswordHash != "hunter2" &&
				bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte("hunter2")) == nil
		})).Return(&api.User{ID: uuid.New(), Status: api.StatusPendingAccountVerification}, nil)

		user, err := svc.Register(ctx, RegisterRequest{Email: "jo@example.com", Password: "hunter2", AppID: appID})
		require.NoError(t, err)
		assert.Equal(t, api.StatusPendingAccountVerification, user.Status)
	})
}

func TestAuthService_RequestOTP(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	t.Run("issues code and enforces cooldown", func(t *testing.T) {
		repo := new(MockAuthRepo)
		svc := newTestAuthService(repo, new(MockStatusService), new(MockDispatcher))

		repo.On("CreateOTP", ctx, userID, mock.MatchedBy(func(code string) bool {
			return len(code) == 6
		}), "email", OTPPurposeVerification, mock.AnythingOfType("time.Time")).Return(nil).Once()

		code, err := svc.RequestOTP(ctx, userID, "email")
		require.NoError(t, err)
		assert.Len(t, code, 6)

		_, err = svc.RequestOTP(ctx, userID, "email")
		assert.ErrorIs(t, err, api.ErrConflict)
		repo.AssertNumberOfCalls(t, "CreateOTP", 1)
	})

	t.Run("unknown channel rejected", func(t *testing.T) {
		repo := new(MockAuthRepo)
		svc := newTestAuthService(repo, new(MockStatusService), new(MockDispatcher))

		_, err := svc.RequestOTP(ctx, userID, "carrier-pigeon")
		assert.ErrorIs(t, err, api.ErrValidation)
	})
}

func TestAuthService_VerifyOTP(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	t.Run("valid code marks email verified", func(t *testing.T) {
		repo := new(MockAuthRepo)
		statusSvc := new(MockStatusService)
		svc := newTestAuthService(repo, statusSvc, new(MockDispatcher))

		repo.On("ConsumeOTP", ctx, userID, "123456", "email", OTPPurposeVerification, 5).Return(nil)
		statusSvc.On("MarkEmailVerified", ctx, (*uuid.UUID)(nil), userID).
			Return(&api.User{ID: userID, EmailVerified: true, Status: api.StatusActive}, nil)

		user, err := svc.VerifyOTP(ctx, userID, "email", "123456")
		require.NoError(t, err)
		assert.True(t, user.EmailVerified)
		statusSvc.AssertExpectations(t)
	})

	t.Run("invalid code never touches verification flags", func(t *testing.T) {
		repo := new(MockAuthRepo)
		statusSvc := new(MockStatusService)
		svc := newTestAuthService(repo, statusSvc, new(MockDispatcher))

		repo.On("ConsumeOTP", ctx, userID, "000000", "phone", OTPPurposeVerification, 5).Return(api.ErrUnauthenticated)

		_, err := svc.VerifyOTP(ctx, userID, "phone", "000000")
		assert.ErrorIs(t, err, api.ErrUnauthenticated)
		statusSvc.AssertNotCalled(t, "MarkPhoneVerified", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestAuthService_Reactivation(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	t.Run("initiate requires soft-deleted account", func(t *testing.T) {
		repo := new(MockAuthRepo)
		svc := newTestAuthService(repo, new(MockStatusService), new(MockDispatcher))

		repo.On("GetUserByEmail", ctx, "jo@example.com").
			Return(&api.User{ID: userID, Status: api.StatusActive}, nil)

		err := svc.InitiateReactivation(ctx, "jo@example.com")
		assert.ErrorIs(t, err, api.ErrIllegalTransition)
		repo.AssertNotCalled(t, "CreateOTP", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("initiate issues code and dispatches", func(t *testing.T) {
		repo := new(MockAuthRepo)
		dispatcher := new(MockDispatcher)
		svc := newTestAuthService(repo, new(MockStatusService), dispatcher)

		repo.On("GetUserByEmail", ctx, "jo@example.com").
			Return(&api.User{ID: userID, Status: api.StatusSoftDeleted}, nil)
		repo.On("CreateOTP", ctx, userID, mock.AnythingOfType("string"), "email", OTPPurposeReactivation, mock.AnythingOfType("time.Time")).Return(nil)
		repo.On("MarkReactivationRequested", ctx, userID).Return(nil)
		dispatcher.On("ReactivationRequested", ctx, userID).Return()

		err := svc.InitiateReactivation(ctx, "jo@example.com")
		require.NoError(t, err)
		dispatcher.AssertExpectations(t)
	})

	t.Run("confirm restores account and dispatches status change", func(t *testing.T) {
		repo := new(MockAuthRepo)
		dispatcher := new(MockDispatcher)
		svc := newTestAuthService(repo, new(MockStatusService), dispatcher)

		repo.On("GetUserByEmail", ctx, "jo@example.com").
			Return(&api.User{ID: userID, Status: api.StatusSoftDeleted}, nil)
		repo.On("ConfirmReactivation", ctx, userID, "123456", 5).
			Return(&api.User{ID: userID, Status: api.StatusActive}, nil)
		dispatcher.On("StatusChanged", ctx, userID, api.StatusSoftDeleted, api.StatusActive).Return()

		user, err := svc.ConfirmReactivation(ctx, "jo@example.com", "123456")
		require.NoError(t, err)
		assert.Equal(t, api.StatusActive, user.Status)
		dispatcher.AssertExpectations(t)
	})

	t.Run("confirm with bad code fails without dispatch", func(t *testing.T) {
		repo := new(MockAuthRepo)
		dispatcher := new(MockDispatcher)
		svc := newTestAuthService(repo, new(MockStatusService), dispatcher)

		repo.On("GetUserByEmail", ctx, "jo@example.com").
			Return(&api.User{ID: userID, Status: api.StatusSoftDeleted}, nil)
		repo.On("ConfirmReactivation", ctx, userID, "000000", 5).Return(nil, api.ErrUnauthenticated)

		_, err := svc.ConfirmReactivation(ctx, "jo@example.com", "000000")
		assert.ErrorIs(t, err, api.ErrUnauthenticated)
		dispatcher.AssertNotCalled(t, "StatusChanged", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestAuthService_LoginWithProvider(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()
	providerUser := goth.User{Provider: "google", UserID: "g-123", Email: "jo@example.com"}

	t.Run("active provider user gets tokens", func(t *testing.T) {
		repo := new(MockAuthRepo)
		svc := newTestAuthService(repo, new(MockStatusService), new(MockDispatcher))

		repo.On("GetOrCreateUserFromProvider", ctx, "google", providerUser).
			Return(&api.User{ID: userID, Email: "jo@example.com", Status: api.StatusActive}, nil)
		repo.On("StoreRefreshToken", ctx, userID, mock.AnythingOfType("string"), mock.AnythingOfType("time.Time")).Return(nil)

		tokens, err := svc.LoginWithProvider(ctx, "google", providerUser)
		require.NoError(t, err)
		assert.NotEmpty(t, tokens.AccessToken)
	})

	t.Run("banned provider user forbidden", func(t *testing.T) {
		repo := new(MockAuthRepo)
		svc := newTestAuthService(repo, new(MockStatusService), new(MockDispatcher))

		repo.On("GetOrCreateUserFromProvider", ctx, "google", providerUser).
			Return(&api.User{ID: userID, Status: api.StatusBanned}, nil)

		_, err := svc.LoginWithProvider(ctx, "google", providerUser)
		assert.ErrorIs(t, err, api.ErrForbidden)
	})
}

func TestAuthService_RefreshToken(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	t.Run("rotates valid token", func(t *testing.T) {
		repo := new(MockAuthRepo)
		statusSvc := new(MockStatusService)
		svc := newTestAuthService(repo, statusSvc, new(MockDispatcher))

		repo.On("GetRefreshToken", ctx, "old-token").
			Return(userID, time.Now().Add(time.Hour), (*time.Time)(nil), nil)
		statusSvc.On("GetUser", ctx, userID).
			Return(&api.User{ID: userID, Status: api.StatusActive}, nil)
		repo.On("StoreRefreshToken", ctx, userID, mock.AnythingOfType("string"), mock.AnythingOfType("time.Time")).Return(nil)
		repo.On("RevokeRefreshToken", ctx, "old-token").Return(nil)

		tokens, err := svc.RefreshToken(ctx, "old-token")
		require.NoError(t, err)
		assert.NotEqual(t, "old-token", tokens.RefreshToken)
		repo.AssertExpectations(t)
	})

	t.Run("expired token rejected", func(t *testing.T) {
		repo := new(MockAuthRepo)
		svc := newTestAuthService(repo, new(MockStatusService), new(MockDispatcher))

		repo.On("GetRefreshToken", ctx, "stale").
			Return(userID, time.Now().Add(-time.Hour), (*time.Time)(nil), nil)

		_, err := svc.RefreshToken(ctx, "stale")
		assert.ErrorIs(t, err, api.ErrUnauthenticated)
	})

	t.Run("revoked token rejected", func(t *testing.T) {
		repo := new(MockAuthRepo)
		svc := newTestAuthService(repo, new(MockStatusService), new(MockDispatcher))

		revokedAt := time.Now().Add(-time.Minute)
		repo.On("GetRefreshToken", ctx, "revoked").
			Return(userID, time.Now().Add(time.Hour), &revokedAt, nil)

		_, err := svc.RefreshToken(ctx, "revoked")
		assert.ErrorIs(t, err, api.ErrUnauthenticated)
	})
}

func TestAuthService_ChangePassword(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	t.Run("stores new hash and revokes sessions", func(t *testing.T) {
		repo := new(MockAuthRepo)
		svc := newTestAuthService(repo, new(MockStatusService), new(MockDispatcher))

		repo.On("GetCredentialsByID", ctx, userID).Return(&Credentials{
			User:         api.User{ID: userID, Status: api.StatusActive},
			PasswordHash: hashOf(t, "old-secret"),
		}, nil)
		repo.On("UpdatePassword", ctx, &userID, userID, mock.MatchedBy(func(hash string) bool {
			return bcrypt.CompareHashAndPassword([]byte(hash), []byte("new-secret")) == nil
		})).Return(nil)
		repo.On("InvalidateAllUserRefreshTokens", ctx, userID).Return(nil)

		err := svc.ChangePassword(ctx, userID, "old-secret", "new-secret")
		require.NoError(t, err)
		repo.AssertExpectations(t)
	})

	t.Run("wrong current password writes nothing", func(t *testing.T) {
		repo := new(MockAuthRepo)
		svc := newTestAuthService(repo, new(MockStatusService), new(MockDispatcher))

		repo.On("GetCredentialsByID", ctx, userID).Return(&Credentials{
			User:         api.User{ID: userID},
			PasswordHash: hashOf(t, "old-secret"),
		}, nil)

		err := svc.ChangePassword(ctx, userID, "guess", "new-secret")
		assert.ErrorIs(t, err, api.ErrUnauthenticated)
		repo.AssertNotCalled(t, "UpdatePassword", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		repo.AssertNotCalled(t, "InvalidateAllUserRefreshTokens", mock.Anything, mock.Anything)
	})

	t.Run("empty new password rejected before lookup", func(t *testing.T) {
		repo := new(MockAuthRepo)
		svc := newTestAuthService(repo, new(MockStatusService), new(MockDispatcher))

		err := svc.ChangePassword(ctx, userID, "old-secret", "")
		assert.ErrorIs(t, err, api.ErrValidation)
		repo.AssertNotCalled(t, "GetCredentialsByID", mock.Anything, mock.Anything)
	})
}

func TestAuthService_PasswordReset(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	t.Run("forgot issues a reset code", func(t *testing.T) {
		repo := new(MockAuthRepo)
		svc := newTestAuthService(repo, new(MockStatusService), new(MockDispatcher))

		repo.On("GetUserByEmail", ctx, "jo@example.com").
			Return(&api.User{ID: userID, Email: "jo@example.com", Status: api.StatusActive}, nil)
		repo.On("CreateOTP", ctx, userID, mock.MatchedBy(func(code string) bool {
			return len(code) == 6
		}), "email", OTPPurposePasswordReset, mock.AnythingOfType("time.Time")).Return(nil)

		require.NoError(t, svc.ForgotPassword(ctx, "jo@example.com"))

		// A second request inside the cooldown window is throttled.
		err := svc.ForgotPassword(ctx, "jo@example.com")
		assert.ErrorIs(t, err, api.ErrConflict)
		repo.AssertNumberOfCalls(t, "CreateOTP", 1)
	})

	t.Run("unknown email answers success without issuing", func(t *testing.T) {
		repo := new(MockAuthRepo)
		svc := newTestAuthService(repo, new(MockStatusService), new(MockDispatcher))

		repo.On("GetUserByEmail", ctx, "ghost@example.com").Return(nil, api.ErrNotFound)

		require.NoError(t, svc.ForgotPassword(ctx, "ghost@example.com"))
		repo.AssertNotCalled(t, "CreateOTP", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("reset consumes code and revokes sessions", func(t *testing.T) {
		repo := new(MockAuthRepo)
		svc := newTestAuthService(repo, new(MockStatusService), new(MockDispatcher))

		repo.On("GetUserByEmail", ctx, "jo@example.com").
			Return(&api.User{ID: userID, Email: "jo@example.com", Status: api.StatusActive}, nil)
		repo.On("ResetPassword", ctx, userID, "123456", mock.MatchedBy(func(hash string) bool {
			return bcrypt.CompareHashAndPassword([]byte(hash), []byte("new-secret")) == nil
		}), 5).Return(nil)
		repo.On("InvalidateAllUserRefreshTokens", ctx, userID).Return(nil)

		err := svc.ResetPassword(ctx, "jo@example.com", "123456", "new-secret")
		require.NoError(t, err)
		repo.AssertExpectations(t)
	})

	t.Run("bad code leaves sessions alone", func(t *testing.T) {
		repo := new(MockAuthRepo)
		svc := newTestAuthService(repo, new(MockStatusService), new(MockDispatcher))

		repo.On("GetUserByEmail", ctx, "jo@example.com").
			Return(&api.User{ID: userID, Email: "jo@example.com", Status: api.StatusActive}, nil)
		repo.On("ResetPassword", ctx, userID, "000000", mock.AnythingOfType("string"), 5).
			Return(api.ErrUnauthenticated)

		err := svc.ResetPassword(ctx, "jo@example.com", "000000", "new-secret")
		assert.ErrorIs(t, err, api.ErrUnauthenticated)
		repo.AssertNotCalled(t, "InvalidateAllUserRefreshTokens", mock.Anything, mock.Anything)
	})
}
