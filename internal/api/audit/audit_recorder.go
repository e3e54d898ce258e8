package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nivara-labs/identity-core/internal/api"
)

// Action labels recorded in audit entries, verb+entity per the audit views.
const (
	ActionUserRegistered          = "UserRegistered"
	ActionStatusChanged           = "StatusChanged"
	ActionEmailVerified           = "EmailVerified"
	ActionPhoneVerified           = "PhoneVerified"
	ActionContactUpdated          = "ContactUpdated"
	ActionMembershipAdded         = "MembershipAdded"
	ActionMembershipRemoved       = "MembershipRemoved"
	ActionMembershipRoleChanged   = "MembershipRoleChanged"
	ActionMembershipStatusChanged = "MembershipStatusChanged"
	ActionProfileUpdated          = "ProfileUpdated"
	ActionAppCreated              = "AppCreated"
	ActionAppUpdated              = "AppUpdated"
	ActionRoleCreated             = "RoleCreated"
	ActionPasswordChanged         = "PasswordChanged"
	ActionPasswordReset           = "PasswordReset"
	ActionReactivationRequested   = "ReactivationRequested"
	ActionReactivationConfirmed   = "ReactivationConfirmed"
	ActionProviderLinked          = "ProviderLinked"
)

// Entry describes one mutation to be recorded. Before/After are snapshots of
// the entity (any JSON-marshalable shape, or nil for create/delete sides).
type Entry struct {
	ActorID    *uuid.UUID // nil for system actions
	Action     string
	EntityName string
	EntityID   string
	Before     any
	After      any
	UserID     *uuid.UUID
	AppID      *uuid.UUID
}

// Recorder appends audit entries inside the caller's transaction. A failed
// Record must fail the caller's commit: an unaudited mutation is treated the
// same as a failed mutation.
type Recorder interface {
	Record(ctx context.Context, tx pgx.Tx, e Entry) error
}

var _ Recorder = (*PostgresRecorder)(nil)

// PostgresRecorder writes audit_logs rows via the transaction it is handed.
type PostgresRecorder struct {
	logger *slog.Logger
}

func NewPostgresRecorder(logger *slog.Logger) *PostgresRecorder {
	return &PostgresRecorder{logger: logger}
}

// Record computes the change snapshot and appends one audit_logs row using tx.
func (r *PostgresRecorder) Record(ctx context.Context, tx pgx.Tx, e Entry) error {
	if e.Action == "" || e.EntityName == "" {
		return fmt.Errorf("audit entry missing action or entity name: %w", api.ErrValidation)
	}

	changes := ComputeChanges(e.Before, e.After)

	_, err := tx.Exec(ctx,
		`INSERT INTO audit_logs (id, actor_id, action, entity_name, entity_id, changes, user_id, app_id, created_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		uuid.New(), e.ActorID, e.Action, e.EntityName, e.EntityID, changes, e.UserID, e.AppID, time.Now().UTC())
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to append audit entry",
			slog.String("action", e.Action),
			slog.String("entity", e.EntityName),
			slog.Any("error", err))
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// ComputeChanges produces the changes JSON for an entry: a per-field
// {field: {from, to}} diff when both snapshots marshal to JSON objects, the
// full {"before": ..., "after": ...} pair otherwise.
func ComputeChanges(before, after any) json.RawMessage {
	beforeMap, okB := toObject(before)
	afterMap, okA := toObject(after)
	if !okB || !okA {
		return fullPair(before, after)
	}

	diff := map[string]map[string]any{}
	for k, bv := range beforeMap {
		av, present := afterMap[k]
		if !present || !reflect.DeepEqual(bv, av) {
			diff[k] = map[string]any{"from": bv, "to": av}
		}
	}
	for k, av := range afterMap {
		if _, present := beforeMap[k]; !present {
			diff[k] = map[string]any{"from": nil, "to": av}
		}
	}

	out, err := json.Marshal(diff)
	if err != nil {
		return fullPair(before, after)
	}
	return out
}

// toObject round-trips v through JSON into a generic map. Returns false when
// v is nil or does not marshal to an object.
func toObject(v any) (map[string]any, bool) {
	if v == nil {
		return nil, false
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false
	}
	return m, true
}

func fullPair(before, after any) json.RawMessage {
	out, err := json.Marshal(map[string]any{"before": before, "after": after})
	if err != nil {
		// Last resort: never block the mutation on an unmarshalable snapshot.
		return json.RawMessage(`{}`)
	}
	return out
}
