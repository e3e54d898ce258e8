package status

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/nivara-labs/identity-core/app/events"
	"github.com/nivara-labs/identity-core/config"
	"github.com/nivara-labs/identity-core/internal/api"
)

type MockStatusRepo struct {
	mock.Mock
}

func (m *MockStatusRepo) GetUser(ctx context.Context, userID uuid.UUID) (*api.User, error) {
	args := m.Called(ctx, userID)
	user, _ := args.Get(0).(*api.User)
	return user, args.Error(1)
}

func (m *MockStatusRepo) SetGlobalStatus(ctx context.Context, actorID *uuid.UUID, userID uuid.UUID, to api.GlobalStatus) (*api.User, *api.User, error) {
	args := m.Called(ctx, actorID, userID, to)
	before, _ := args.Get(0).(*api.User)
	after, _ := args.Get(1).(*api.User)
	return before, after, args.Error(2)
}

func (m *MockStatusRepo) MarkContactVerified(ctx context.Context, actorID *uuid.UUID, userID uuid.UUID, channel Channel, requireAdminApproval bool) (*api.User, error) {
	args := m.Called(ctx, actorID, userID, channel, requireAdminApproval)
	user, _ := args.Get(0).(*api.User)
	return user, args.Error(1)
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

var _ events.Dispatcher = (*MockDispatcher)(nil)

func newTestStatusService(repo StatusRepo, dispatcher events.Dispatcher, requireAdminApproval bool) *StatusServiceImpl {
	cfg := &config.Config{}
	cfg.Identity.RequireAdminApproval = requireAdminApproval
	return NewStatusService(repo, dispatcher, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestStatusService_SetGlobalStatus(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()
	actorID := uuid.New()

	t.Run("success dispatches notification", func(t *testing.T) {
		repo := new(MockStatusRepo)
		dispatcher := new(MockDispatcher)
		svc := newTestStatusService(repo, dispatcher, false)

		before := &api.User{ID: userID, Status: api.StatusActive}
		after := &api.User{ID: userID, Status: api.StatusBanned}
		repo.On("SetGlobalStatus", mock.Anything, &actorID, userID, api.StatusBanned).Return(before, after, nil)
		dispatcher.On("StatusChanged", mock.Anything, userID, api.StatusActive, api.StatusBanned).Return()

		got, err := svc.SetGlobalStatus(ctx, &actorID, userID, api.StatusBanned)
		require.NoError(t, err)
		assert.Equal(t, api.StatusBanned, got.Status)
		repo.AssertExpectations(t)
		dispatcher.AssertExpectations(t)
	})

	t.Run("invalid target status rejected before repo", func(t *testing.T) {
		repo := new(MockStatusRepo)
		dispatcher := new(MockDispatcher)
		svc := newTestStatusService(repo, dispatcher, false)

		_, err := svc.SetGlobalStatus(ctx, &actorID, userID, api.GlobalStatus("Frozen"))
		require.Error(t, err)
		assert.ErrorIs(t, err, api.ErrValidation)
		repo.AssertNotCalled(t, "SetGlobalStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("illegal transition surfaces and no dispatch", func(t *testing.T) {
		repo := new(MockStatusRepo)
		dispatcher := new(MockDispatcher)
		svc := newTestStatusService(repo, dispatcher, false)

		repo.On("SetGlobalStatus", mock.Anything, &actorID, userID, api.StatusActive).
			Return(nil, nil, api.ErrIllegalTransition)

		_, err := svc.SetGlobalStatus(ctx, &actorID, userID, api.StatusActive)
		require.Error(t, err)
		assert.ErrorIs(t, err, api.ErrIllegalTransition)
		dispatcher.AssertNotCalled(t, "StatusChanged", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestStatusService_MarkEmailVerified(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	t.Run("status advance dispatches notification", func(t *testing.T) {
		repo := new(MockStatusRepo)
		dispatcher := new(MockDispatcher)
		svc := newTestStatusService(repo, dispatcher, false)

		repo.On("GetUser", ctx, userID).
			Return(&api.User{ID: userID, Status: api.StatusPendingEmailVerification}, nil)
		repo.On("MarkContactVerified", ctx, (*uuid.UUID)(nil), userID, ChannelEmail, false).
			Return(&api.User{ID: userID, EmailVerified: true, Status: api.StatusActive}, nil)
		dispatcher.On("StatusChanged", ctx, userID, api.StatusPendingEmailVerification, api.StatusActive).Return()

		got, err := svc.MarkEmailVerified(ctx, nil, userID)
		require.NoError(t, err)
		assert.True(t, got.EmailVerified)
		assert.Equal(t, api.StatusActive, got.Status)
		dispatcher.AssertExpectations(t)
	})

	t.Run("no advance means no notification", func(t *testing.T) {
		repo := new(MockStatusRepo)
		dispatcher := new(MockDispatcher)
		svc := newTestStatusService(repo, dispatcher, false)

		// Mode=Both with only email verified: the flag flips but the status
		// stays pending.
		repo.On("GetUser", ctx, userID).
			Return(&api.User{ID: userID, Status: api.StatusPendingAccountVerification, VerificationMode: api.VerifyBoth}, nil)
		repo.On("MarkContactVerified", ctx, (*uuid.UUID)(nil), userID, ChannelEmail, false).
			Return(&api.User{ID: userID, EmailVerified: true, Status: api.StatusPendingAccountVerification, VerificationMode: api.VerifyBoth}, nil)

		got, err := svc.MarkEmailVerified(ctx, nil, userID)
		require.NoError(t, err)
		assert.Equal(t, api.StatusPendingAccountVerification, got.Status)
		dispatcher.AssertNotCalled(t, "StatusChanged", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("admin approval routes through pending approval", func(t *testing.T) {
		repo := new(MockStatusRepo)
		dispatcher := new(MockDispatcher)
		svc := newTestStatusService(repo, dispatcher, true)

		repo.On("GetUser", ctx, userID).
			Return(&api.User{ID: userID, Status: api.StatusPendingEmailVerification}, nil)
		repo.On("MarkContactVerified", ctx, (*uuid.UUID)(nil), userID, ChannelEmail, true).
			Return(&api.User{ID: userID, EmailVerified: true, Status: api.StatusPendingAdminApproval}, nil)
		dispatcher.On("StatusChanged", ctx, userID, api.StatusPendingEmailVerification, api.StatusPendingAdminApproval).Return()

		got, err := svc.MarkEmailVerified(ctx, nil, userID)
		require.NoError(t, err)
		assert.Equal(t, api.StatusPendingAdminApproval, got.Status)
	})

	t.Run("missing user", func(t *testing.T) {
		repo := new(MockStatusRepo)
		dispatcher := new(MockDispatcher)
		svc := newTestStatusService(repo, dispatcher, false)

		repo.On("GetUser", ctx, userID).Return(nil, api.ErrNotFound)

		_, err := svc.MarkEmailVerified(ctx, nil, userID)
		assert.ErrorIs(t, err, api.ErrNotFound)
	})
}

func TestStatusService_GetUser(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	repo := new(MockStatusRepo)
	svc := newTestStatusService(repo, events.NoopDispatcher{}, false)

	expected := &api.User{ID: userID, Email: "jo@example.com", Status: api.StatusActive}
	repo.On("GetUser", ctx, userID).Return(expected, nil)

	got, err := svc.GetUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, expected, got)

	repo.On("GetUser", ctx, mock.AnythingOfType("uuid.UUID")).Return(nil, errors.New("boom"))
	_, err = svc.GetUser(ctx, uuid.New())
	assert.Error(t, err)
}
