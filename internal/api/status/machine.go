package status

import (
	"fmt"

	"github.com/nivara-labs/identity-core/internal/api"
)

// Evidence carries the facts a transition guard may need. It is assembled by
// the caller from the user row (and, for reactivation, the token store) inside
// the same transaction that applies the transition, so guards never race with
// the state they inspect.
type Evidence struct {
	EmailVerified bool
	PhoneVerified bool
	Mode          api.VerificationMode

	// ReactivationConfirmed is true only when a reactivation token for this
	// user has been verified. It unlocks the single sanctioned bypass,
	// SoftDeleted -> Active.
	ReactivationConfirmed bool

	// ProfileSaved is true when a minimal profile row exists for the user.
	ProfileSaved bool
}

// VerificationsSatisfied reports whether the user's chosen verification mode
// is fully satisfied by the current flags.
func (e Evidence) VerificationsSatisfied() bool {
	switch e.Mode {
	case api.VerifyEmail:
		return e.EmailVerified
	case api.VerifyPhone:
		return e.PhoneVerified
	case api.VerifyBoth:
		return e.EmailVerified && e.PhoneVerified
	}
	// Unknown mode: require everything rather than nothing.
	return e.EmailVerified && e.PhoneVerified
}

type guard func(Evidence) bool

func guardNone(Evidence) bool         { return true }
func guardVerified(e Evidence) bool   { return e.VerificationsSatisfied() }
func guardReactivate(e Evidence) bool { return e.ReactivationConfirmed }
func guardProfile(e Evidence) bool    { return e.ProfileSaved }

// transitions is the complete directed edge set of the global lifecycle.
// No other edge is ever permitted; in particular a transition to the current
// status is rejected like any other missing edge.
var transitions = map[api.GlobalStatus]map[api.GlobalStatus]guard{
	api.StatusPendingAccountVerification: {
		api.StatusPendingAdminApproval: guardVerified,
		api.StatusActive:               guardVerified,
	},
	api.StatusPendingEmailVerification: {
		api.StatusPendingAdminApproval: guardVerified,
		api.StatusActive:               guardVerified,
	},
	api.StatusPendingMobileVerification: {
		api.StatusPendingAdminApproval: guardVerified,
		api.StatusActive:               guardVerified,
	},
	api.StatusPendingAdminApproval: {
		api.StatusActive: guardNone,
		api.StatusBanned: guardNone,
	},
	api.StatusActive: {
		api.StatusBanned:      guardNone,
		api.StatusSoftDeleted: guardNone,
	},
	api.StatusBanned: {
		api.StatusActive: guardNone,
	},
	api.StatusSoftDeleted: {
		// Reactivation request re-enters the email verification path. The
		// direct jump to Active is only legal once the reactivation token has
		// been confirmed; verification substitutes for the pending step.
		api.StatusPendingEmailVerification: guardNone,
		api.StatusActive:                   guardReactivate,
	},
	api.StatusProfileIncomplete: {
		api.StatusActive: guardProfile,
	},
}

// Validate checks whether the transition from -> to is legal given the
// evidence. It returns nil when the edge exists and its guard passes, and an
// error wrapping api.ErrIllegalTransition otherwise. Validate never mutates
// anything; callers apply the write only after a nil result, inside the same
// transaction the evidence was read in.
func Validate(from, to api.GlobalStatus, ev Evidence) error {
	if !from.Valid() || !to.Valid() {
		return fmt.Errorf("unknown status %q -> %q: %w", from, to, api.ErrIllegalTransition)
	}
	targets, ok := transitions[from]
	if !ok {
		return fmt.Errorf("no transitions from %q: %w", from, api.ErrIllegalTransition)
	}
	g, ok := targets[to]
	if !ok {
		return fmt.Errorf("transition %q -> %q not permitted: %w", from, to, api.ErrIllegalTransition)
	}
	if !g(ev) {
		return fmt.Errorf("transition %q -> %q guard not satisfied: %w", from, to, api.ErrIllegalTransition)
	}
	return nil
}

// NextAfterVerification returns the status a Pending* user should move to once
// their verification mode is satisfied: PendingAdminApproval when the platform
// requires an admin decision, Active otherwise. Returns the zero value when
// the user should stay put.
func NextAfterVerification(current api.GlobalStatus, ev Evidence, requireAdminApproval bool) (api.GlobalStatus, bool) {
	if !current.IsPendingVerification() || !ev.VerificationsSatisfied() {
		return "", false
	}
	if requireAdminApproval {
		return api.StatusPendingAdminApproval, true
	}
	return api.StatusActive, true
}
