package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// GlobalStatus is the account-wide lifecycle state of a user. It is owned by
// the core and enforced centrally by the status state machine; callers (UI,
// gateway) are never trusted to only request legal transitions.
type GlobalStatus string

const (
	StatusPendingAccountVerification GlobalStatus = "PendingAccountVerification"
	StatusPendingEmailVerification   GlobalStatus = "PendingEmailVerification"
	StatusPendingMobileVerification  GlobalStatus = "PendingMobileVerification"
	StatusPendingAdminApproval       GlobalStatus = "PendingAdminApproval"
	StatusActive                     GlobalStatus = "Active"
	StatusBanned                     GlobalStatus = "Banned"
	StatusSoftDeleted                GlobalStatus = "SoftDeleted"
	StatusProfileIncomplete          GlobalStatus = "ProfileIncomplete"
)

// IsPendingVerification reports whether s is one of the verification-pending
// entry states a new account moves through.
func (s GlobalStatus) IsPendingVerification() bool {
	switch s {
	case StatusPendingAccountVerification, StatusPendingEmailVerification, StatusPendingMobileVerification:
		return true
	}
	return false
}

// Valid reports whether s is a known status value.
func (s GlobalStatus) Valid() bool {
	switch s {
	case StatusPendingAccountVerification, StatusPendingEmailVerification,
		StatusPendingMobileVerification, StatusPendingAdminApproval,
		StatusActive, StatusBanned, StatusSoftDeleted, StatusProfileIncomplete:
		return true
	}
	return false
}

// MembershipStatus is the per-app status of a membership. Unlike GlobalStatus
// it is a free three-state: any value may be set from any other, since a
// per-app ban is an administrative override rather than a lifecycle.
type MembershipStatus string

const (
	MembershipActive  MembershipStatus = "Active"
	MembershipBanned  MembershipStatus = "Banned"
	MembershipPending MembershipStatus = "Pending"
)

// Valid reports whether m is a known membership status.
func (m MembershipStatus) Valid() bool {
	switch m {
	case MembershipActive, MembershipBanned, MembershipPending:
		return true
	}
	return false
}

// VerificationMode selects which contact verifications a user must complete
// before leaving the Pending* states.
type VerificationMode string

const (
	VerifyEmail VerificationMode = "Email"
	VerifyPhone VerificationMode = "Phone"
	VerifyBoth  VerificationMode = "Both"
)

// RoleSuperAdmin is the protected role name. Its last holder within an app can
// never be removed or demoted, and it implies the full permission set.
const RoleSuperAdmin = "SuperAdmin"

// PermissionWildcard is the "all permissions" token yielded by SuperAdmin.
const PermissionWildcard = "*"

// DefaultRoleNames is the fallback order used by AddMembership when no role
// name is given.
var DefaultRoleNames = []string{"NormalUser", "User"}

// User is the single global identity record. Email and phone are unique
// across the system and never duplicated into per-app profiles. Users are
// never physically deleted; deactivation happens via GlobalStatus.
type User struct {
	ID               uuid.UUID        `json:"id"`
	Email            string           `json:"email"`
	Phone            string           `json:"phone"`
	EmailVerified    bool             `json:"email_verified"`
	PhoneVerified    bool             `json:"phone_verified"`
	VerificationMode VerificationMode `json:"verification_mode"`
	Status           GlobalStatus     `json:"status"`
	LinkedProviders  []string         `json:"linked_providers,omitempty"`
	IsSealed         bool             `json:"is_sealed"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// App is a tenant application. Its identity is immutable once referenced by
// memberships; deactivation is the only retirement path.
type App struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	BaseURL   string    `json:"base_url"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Role is a named permission bundle scoped to one app. Names are unique
// within an app.
type Role struct {
	ID          uuid.UUID `json:"id"`
	AppID       uuid.UUID `json:"app_id"`
	Name        string    `json:"name"`
	Permissions []string  `json:"permissions"`
	IsSealed    bool      `json:"is_sealed"`
}

// Membership binds a user to one app with a role and an independent status.
// At most one membership exists per (user, app) pair.
type Membership struct {
	UserID      uuid.UUID        `json:"user_id"`
	AppID       uuid.UUID        `json:"app_id"`
	RoleID      uuid.UUID        `json:"role_id"`
	RoleName    string           `json:"role_name"`
	Status      MembershipStatus `json:"status"`
	LastLoginAt *time.Time       `json:"last_login_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// UserProfile is the app-scoped extension of a user's identity. It never
// stores email or phone; those always come from the global User record.
// CustomData is an opaque payload owned by the consuming app. The core only
// replaces it wholesale, never merges or interprets its keys.
type UserProfile struct {
	UserID      uuid.UUID       `json:"user_id"`
	AppID       uuid.UUID       `json:"app_id"`
	DisplayName *string         `json:"display_name,omitempty"`
	Bio         *string         `json:"bio,omitempty"`
	AvatarURL   *string         `json:"avatar_url,omitempty"`
	DateOfBirth *time.Time      `json:"date_of_birth,omitempty"`
	Gender      *string         `json:"gender,omitempty"`
	CustomData  json.RawMessage `json:"custom_data,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// ResolvedProfile is the merged view an app or admin sees for one user in one
// app: global contact and verification fields overlaid with the app profile.
type ResolvedProfile struct {
	UserID        uuid.UUID       `json:"user_id"`
	AppID         uuid.UUID       `json:"app_id"`
	Email         string          `json:"email"`
	Phone         string          `json:"phone"`
	EmailVerified bool            `json:"email_verified"`
	PhoneVerified bool            `json:"phone_verified"`
	GlobalStatus  GlobalStatus    `json:"global_status"`
	DisplayName   *string         `json:"display_name,omitempty"`
	Bio           *string         `json:"bio,omitempty"`
	AvatarURL     *string         `json:"avatar_url,omitempty"`
	DateOfBirth   *time.Time      `json:"date_of_birth,omitempty"`
	Gender        *string         `json:"gender,omitempty"`
	CustomData    json.RawMessage `json:"custom_data,omitempty"`
}

// AuditLogEntry is an immutable record of one state-changing operation.
// Append-only; this core never mutates or deletes entries.
type AuditLogEntry struct {
	ID         uuid.UUID       `json:"id"`
	ActorID    *uuid.UUID      `json:"actor_id,omitempty"` // nil for system actions
	Action     string          `json:"action"`
	EntityName string          `json:"entity_name"`
	EntityID   string          `json:"entity_id"`
	Changes    json.RawMessage `json:"changes"`
	UserID     *uuid.UUID      `json:"user_id,omitempty"`
	AppID      *uuid.UUID      `json:"app_id,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Response is the generic API envelope for simple success/error messages.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}
