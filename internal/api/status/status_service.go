package status

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nivara-labs/identity-core/app/events"
	"github.com/nivara-labs/identity-core/config"
	"github.com/nivara-labs/identity-core/internal/api"
)

var _ StatusService = (*StatusServiceImpl)(nil)

// StatusService is the admin-facing surface of the global lifecycle machine.
type StatusService interface {
	GetUser(ctx context.Context, userID uuid.UUID) (*api.User, error)
	SetGlobalStatus(ctx context.Context, actorID *uuid.UUID, userID uuid.UUID, to api.GlobalStatus) (*api.User, error)
	MarkEmailVerified(ctx context.Context, actorID *uuid.UUID, userID uuid.UUID) (*api.User, error)
	MarkPhoneVerified(ctx context.Context, actorID *uuid.UUID, userID uuid.UUID) (*api.User, error)
}

type StatusServiceImpl struct {
	logger     *slog.Logger
	repo       StatusRepo
	dispatcher events.Dispatcher
	cfg        *config.Config
}

func NewStatusService(repo StatusRepo, dispatcher events.Dispatcher, cfg *config.Config, logger *slog.Logger) *StatusServiceImpl {
	return &StatusServiceImpl{
		logger:     logger,
		repo:       repo,
		dispatcher: dispatcher,
		cfg:        cfg,
	}
}

func (s *StatusServiceImpl) GetUser(ctx context.Context, userID uuid.UUID) (*api.User, error) {
	l := s.logger.With(slog.String("method", "GetUser"), slog.String("userID", userID.String()))
	l.DebugContext(ctx, "Fetching user")

	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		l.ErrorContext(ctx, "Failed to fetch user", slog.Any("error", err))
		return nil, fmt.Errorf("error fetching user: %w", err)
	}
	return user, nil
}

// SetGlobalStatus applies an admin-requested lifecycle transition. Illegal
// transitions are rejected by the machine inside the store transaction and
// surface verbatim; the stored status is left unchanged.
func (s *StatusServiceImpl) SetGlobalStatus(ctx context.Context, actorID *uuid.UUID, userID uuid.UUID, to api.GlobalStatus) (*api.User, error) {
	ctx, span := otel.Tracer("StatusService").Start(ctx, "SetGlobalStatus", trace.WithAttributes(
		attribute.String("user.id", userID.String()),
		attribute.String("status.to", string(to)),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "SetGlobalStatus"),
		slog.String("userID", userID.String()),
		slog.String("to", string(to)))
	l.DebugContext(ctx, "Applying global status transition")

	if !to.Valid() {
		return nil, fmt.Errorf("unknown status %q: %w", to, api.ErrValidation)
	}

	before, after, err := s.repo.SetGlobalStatus(ctx, actorID, userID, to)
	if err != nil {
		l.WarnContext(ctx, "Status transition rejected", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "status transition rejected")
		return nil, fmt.Errorf("error applying status transition: %w", err)
	}

	l.InfoContext(ctx, "Global status changed",
		slog.String("from", string(before.Status)),
		slog.String("to", string(after.Status)))
	span.SetStatus(codes.Ok, "status changed")

	// Best-effort; failure to notify never rolls back the mutation.
	s.dispatcher.StatusChanged(ctx, userID, before.Status, after.Status)
	return after, nil
}

func (s *StatusServiceImpl) MarkEmailVerified(ctx context.Context, actorID *uuid.UUID, userID uuid.UUID) (*api.User, error) {
	return s.markVerified(ctx, actorID, userID, ChannelEmail)
}

func (s *StatusServiceImpl) MarkPhoneVerified(ctx context.Context, actorID *uuid.UUID, userID uuid.UUID) (*api.User, error) {
	return s.markVerified(ctx, actorID, userID, ChannelPhone)
}

func (s *StatusServiceImpl) markVerified(ctx context.Context, actorID *uuid.UUID, userID uuid.UUID, channel Channel) (*api.User, error) {
	l := s.logger.With(slog.String("method", "MarkContactVerified"),
		slog.String("userID", userID.String()),
		slog.String("channel", string(channel)))
	l.DebugContext(ctx, "Marking contact verified")

	before, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error fetching user before verification: %w", err)
	}

	after, err := s.repo.MarkContactVerified(ctx, actorID, userID, channel, s.cfg.Identity.RequireAdminApproval)
	if err != nil {
		l.ErrorContext(ctx, "Failed to mark contact verified", slog.Any("error", err))
		return nil, fmt.Errorf("error marking contact verified: %w", err)
	}

	if before.Status != after.Status {
		l.InfoContext(ctx, "Verification advanced global status",
			slog.String("from", string(before.Status)),
			slog.String("to", string(after.Status)))
		s.dispatcher.StatusChanged(ctx, userID, before.Status, after.Status)
	}
	return after, nil
}
