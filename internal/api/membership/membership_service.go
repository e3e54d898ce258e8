package membership

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/nivara-labs/identity-core/app/events"
	"github.com/nivara-labs/identity-core/app/observability/metrics"
	"github.com/nivara-labs/identity-core/internal/api"
)

var _ MembershipService = (*MembershipServiceImpl)(nil)

// MembershipService manages per-app memberships, roles and the derived
// permission view.
type MembershipService interface {
	AddMembership(ctx context.Context, actorID *uuid.UUID, userID, appID uuid.UUID, roleName string) (*api.Membership, error)
	RemoveMembership(ctx context.Context, actorID *uuid.UUID, userID, appID uuid.UUID) error
	ChangeRole(ctx context.Context, actorID *uuid.UUID, userID, appID uuid.UUID, newRoleName string) (*api.Membership, error)
	ChangeMembershipStatus(ctx context.Context, actorID *uuid.UUID, userID, appID uuid.UUID, status api.MembershipStatus) (*api.Membership, error)
	GetMembership(ctx context.Context, userID, appID uuid.UUID) (*api.Membership, error)
	GetMembershipsForUser(ctx context.Context, userID uuid.UUID) ([]api.Membership, error)
	EffectivePermissions(ctx context.Context, userID, appID uuid.UUID) ([]string, error)
	AccessibleApps(ctx context.Context, userID uuid.UUID) ([]api.App, error)
}

type MembershipServiceImpl struct {
	logger     *slog.Logger
	repo       MembershipRepo
	dispatcher events.Dispatcher
}

func NewMembershipService(repo MembershipRepo, dispatcher events.Dispatcher, logger *slog.Logger) *MembershipServiceImpl {
	return &MembershipServiceImpl{
		logger:     logger,
		repo:       repo,
		dispatcher: dispatcher,
	}
}

// PermissionsForRole is the pure permission resolver: SuperAdmin always
// yields the wildcard token regardless of its stored list; every other role
// yields its stored permissions, deduplicated and sorted.
func PermissionsForRole(role *api.Role) []string {
	if role.Name == api.RoleSuperAdmin {
		return []string{api.PermissionWildcard}
	}
	seen := make(map[string]struct{}, len(role.Permissions))
	out := make([]string, 0, len(role.Permissions))
	for _, p := range role.Permissions {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (s *MembershipServiceImpl) countMutation(ctx context.Context, op string) {
	if m := metrics.Get(); m != nil {
		m.MembershipMutationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
	}
}

func (s *MembershipServiceImpl) AddMembership(ctx context.Context, actorID *uuid.UUID, userID, appID uuid.UUID, roleName string) (*api.Membership, error) {
	ctx, span := otel.Tracer("MembershipService").Start(ctx, "AddMembership")
	defer span.End()

	l := s.logger.With(slog.String("method", "AddMembership"),
		slog.String("userID", userID.String()),
		slog.String("appID", appID.String()))
	l.DebugContext(ctx, "Adding membership", slog.String("role", roleName))

	m, err := s.repo.AddMembership(ctx, actorID, userID, appID, roleName)
	if err != nil {
		l.WarnContext(ctx, "Failed to add membership", slog.Any("error", err))
		return nil, fmt.Errorf("error adding membership: %w", err)
	}

	s.countMutation(ctx, "add")
	l.InfoContext(ctx, "Membership added", slog.String("role", m.RoleName))
	return m, nil
}

func (s *MembershipServiceImpl) RemoveMembership(ctx context.Context, actorID *uuid.UUID, userID, appID uuid.UUID) error {
	ctx, span := otel.Tracer("MembershipService").Start(ctx, "RemoveMembership")
	defer span.End()

	l := s.logger.With(slog.String("method", "RemoveMembership"),
		slog.String("userID", userID.String()),
		slog.String("appID", appID.String()))

	if err := s.repo.RemoveMembership(ctx, actorID, userID, appID); err != nil {
		l.WarnContext(ctx, "Failed to remove membership", slog.Any("error", err))
		return fmt.Errorf("error removing membership: %w", err)
	}

	s.countMutation(ctx, "remove")
	l.InfoContext(ctx, "Membership removed")

	// Best-effort; revocation is already committed.
	s.dispatcher.MembershipRevoked(ctx, userID, appID)
	return nil
}

func (s *MembershipServiceImpl) ChangeRole(ctx context.Context, actorID *uuid.UUID, userID, appID uuid.UUID, newRoleName string) (*api.Membership, error) {
	l := s.logger.With(slog.String("method", "ChangeRole"),
		slog.String("userID", userID.String()),
		slog.String("appID", appID.String()),
		slog.String("newRole", newRoleName))

	if newRoleName == "" {
		return nil, fmt.Errorf("role name is required: %w", api.ErrValidation)
	}

	m, err := s.repo.ChangeRole(ctx, actorID, userID, appID, newRoleName)
	if err != nil {
		l.WarnContext(ctx, "Failed to change role", slog.Any("error", err))
		return nil, fmt.Errorf("error changing role: %w", err)
	}

	s.countMutation(ctx, "change_role")
	l.InfoContext(ctx, "Role changed")
	return m, nil
}

func (s *MembershipServiceImpl) ChangeMembershipStatus(ctx context.Context, actorID *uuid.UUID, userID, appID uuid.UUID, status api.MembershipStatus) (*api.Membership, error) {
	l := s.logger.With(slog.String("method", "ChangeMembershipStatus"),
		slog.String("userID", userID.String()),
		slog.String("appID", appID.String()),
		slog.String("status", string(status)))

	if !status.Valid() {
		return nil, fmt.Errorf("unknown membership status %q: %w", status, api.ErrValidation)
	}

	m, err := s.repo.ChangeMembershipStatus(ctx, actorID, userID, appID, status)
	if err != nil {
		l.WarnContext(ctx, "Failed to change membership status", slog.Any("error", err))
		return nil, fmt.Errorf("error changing membership status: %w", err)
	}

	s.countMutation(ctx, "change_status")
	l.InfoContext(ctx, "Membership status changed")
	return m, nil
}

func (s *MembershipServiceImpl) GetMembership(ctx context.Context, userID, appID uuid.UUID) (*api.Membership, error) {
	m, err := s.repo.GetMembership(ctx, userID, appID)
	if err != nil {
		return nil, fmt.Errorf("error fetching membership: %w", err)
	}
	return m, nil
}

func (s *MembershipServiceImpl) GetMembershipsForUser(ctx context.Context, userID uuid.UUID) ([]api.Membership, error) {
	ms, err := s.repo.GetMembershipsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error listing memberships: %w", err)
	}
	return ms, nil
}

func (s *MembershipServiceImpl) EffectivePermissions(ctx context.Context, userID, appID uuid.UUID) ([]string, error) {
	l := s.logger.With(slog.String("method", "EffectivePermissions"),
		slog.String("userID", userID.String()),
		slog.String("appID", appID.String()))
	l.DebugContext(ctx, "Resolving effective permissions")

	role, err := s.repo.GetRoleForMembership(ctx, userID, appID)
	if err != nil {
		return nil, fmt.Errorf("error resolving permissions: %w", err)
	}
	return PermissionsForRole(role), nil
}

func (s *MembershipServiceImpl) AccessibleApps(ctx context.Context, userID uuid.UUID) ([]api.App, error) {
	apps, err := s.repo.AccessibleApps(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error listing accessible apps: %w", err)
	}
	return apps, nil
}
