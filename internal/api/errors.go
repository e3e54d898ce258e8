package api

import (
	"errors"
	"net/http"
)

// Typed error taxonomy for the identity core. Services and repositories wrap
// these with fmt.Errorf("...: %w", ...) so callers can errors.Is() them;
// handlers translate them to HTTP statuses via StatusForError.
var (
	ErrNotFound          = errors.New("requested resource not found")
	ErrAlreadyExists     = errors.New("resource already exists")
	ErrAlreadyMember     = errors.New("user is already a member of this app")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrRoleNotFound      = errors.New("role not found for app")
	ErrLastSuperAdmin    = errors.New("app must retain at least one SuperAdmin")
	ErrConflict          = errors.New("concurrent modification conflict")
	ErrValidation        = errors.New("validation failed")
	ErrUnauthenticated   = errors.New("authentication required or invalid credentials")
	ErrForbidden         = errors.New("action forbidden")
	ErrUnavailable       = errors.New("service unavailable")
)

// StatusForError maps a core error to the HTTP status the admin UI expects.
// Validation and invariant errors surface verbatim; anything unrecognized is
// treated as an infrastructure failure and reported as unavailable without
// leaking internals.
func StatusForError(err error) int {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrRoleNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrAlreadyMember),
		errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrIllegalTransition), errors.Is(err, ErrLastSuperAdmin):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusServiceUnavailable
	}
}
