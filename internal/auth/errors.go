package auth

import (
	"errors"
	"strings"
)

var (
	// ErrUnauthenticated means no usable credential accompanied the request.
	ErrUnauthenticated = errors.New("auth: unauthenticated")
	// ErrForbidden means the credential is valid but the principal may not act.
	ErrForbidden = errors.New("auth: forbidden")
	// ErrInvalidCredentials covers both an unknown email and a wrong password.
	ErrInvalidCredentials = errors.New("auth: invalid email or password")
	// ErrTokenInvalid is returned for every token verification failure.
	ErrTokenInvalid = errors.New("auth: invalid token")
	// ErrAccountDisabled is returned at login for a principal with isActive=false.
	ErrAccountDisabled = errors.New("auth: account disabled")
	// ErrConflict is returned when the email is already registered.
	ErrConflict = errors.New("auth: already exists")
	// ErrNotFound is a storage miss. It never reaches HTTP clients directly.
	ErrNotFound = errors.New("auth: not found")
	// ErrThrottled is returned when too many logins were attempted.
	ErrThrottled = errors.New("auth: too many attempts")
)

// ValidationError carries user-facing feedback for rejected input.
type ValidationError struct {
	Message  string
	Feedback []string
}

func (e *ValidationError) Error() string {
	if len(e.Feedback) == 0 {
		return "auth: " + e.Message
	}
	return "auth: " + e.Message + ": " + strings.Join(e.Feedback, "; ")
}

// IsValidation reports whether err wraps a *ValidationError and returns it.
func IsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
