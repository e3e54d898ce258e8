package profile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nivara-labs/identity-core/app/events"
	"github.com/nivara-labs/identity-core/internal/api"
)

var _ ProfileService = (*ProfileServiceImpl)(nil)

// ProfileService serves the per-app profile overlay and global contact
// updates.
type ProfileService interface {
	GetResolvedProfile(ctx context.Context, userID, appID uuid.UUID) (*api.ResolvedProfile, error)
	UpdateProfile(ctx context.Context, actorID *uuid.UUID, userID, appID uuid.UUID, params UpdateProfileParams) (*api.UserProfile, error)
	UpdateContact(ctx context.Context, actorID *uuid.UUID, userID uuid.UUID, field ContactField, value string) (*api.User, error)
}

type ProfileServiceImpl struct {
	logger     *slog.Logger
	repo       ProfileRepo
	dispatcher events.Dispatcher
}

func NewProfileService(repo ProfileRepo, dispatcher events.Dispatcher, logger *slog.Logger) *ProfileServiceImpl {
	return &ProfileServiceImpl{
		logger:     logger,
		repo:       repo,
		dispatcher: dispatcher,
	}
}

func (s *ProfileServiceImpl) GetResolvedProfile(ctx context.Context, userID, appID uuid.UUID) (*api.ResolvedProfile, error) {
	l := s.logger.With(slog.String("method", "GetResolvedProfile"),
		slog.String("userID", userID.String()),
		slog.String("appID", appID.String()))
	l.DebugContext(ctx, "Resolving profile overlay")

	rp, err := s.repo.GetResolvedProfile(ctx, userID, appID)
	if err != nil {
		l.ErrorContext(ctx, "Failed to resolve profile", slog.Any("error", err))
		return nil, fmt.Errorf("error resolving profile: %w", err)
	}
	return rp, nil
}

func (s *ProfileServiceImpl) UpdateProfile(ctx context.Context, actorID *uuid.UUID, userID, appID uuid.UUID, params UpdateProfileParams) (*api.UserProfile, error) {
	ctx, span := otel.Tracer("ProfileService").Start(ctx, "UpdateProfile", trace.WithAttributes(
		attribute.String("user.id", userID.String()),
		attribute.String("app.id", appID.String()),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "UpdateProfile"),
		slog.String("userID", userID.String()),
		slog.String("appID", appID.String()))

	saved, advanced, err := s.repo.UpsertProfile(ctx, actorID, userID, appID, params)
	if err != nil {
		l.ErrorContext(ctx, "Failed to update profile", slog.Any("error", err))
		return nil, fmt.Errorf("error updating profile: %w", err)
	}

	l.InfoContext(ctx, "Profile updated")
	if advanced {
		l.InfoContext(ctx, "Profile completion activated user")
		s.dispatcher.StatusChanged(ctx, userID, api.StatusProfileIncomplete, api.StatusActive)
	}
	return saved, nil
}

func (s *ProfileServiceImpl) UpdateContact(ctx context.Context, actorID *uuid.UUID, userID uuid.UUID, field ContactField, value string) (*api.User, error) {
	l := s.logger.With(slog.String("method", "UpdateContact"),
		slog.String("userID", userID.String()),
		slog.String("field", string(field)))

	if value == "" {
		return nil, fmt.Errorf("%s value is required: %w", field, api.ErrValidation)
	}

	before, after, err := s.repo.UpdateContact(ctx, actorID, userID, field, value)
	if err != nil {
		l.WarnContext(ctx, "Failed to update contact", slog.Any("error", err))
		return nil, fmt.Errorf("error updating contact: %w", err)
	}

	l.InfoContext(ctx, "Contact updated")
	s.dispatcher.ContactChanged(ctx, userID, string(field))
	if before.Status != after.Status {
		s.dispatcher.StatusChanged(ctx, userID, before.Status, after.Status)
	}
	return after, nil
}
