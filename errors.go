package secretly

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials is returned for any failed local login. It does not
	// reveal whether the username exists.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUsernameTaken is returned when registering a username that already exists.
	ErrUsernameTaken = errors.New("username is already taken")

	// ErrAuthFailed is returned when a federated login cannot be completed
	// (bad state, code exchange failure, profile fetch failure).
	ErrAuthFailed = errors.New("federated authentication failed")

	// ErrConflict is returned by stores when a write would violate the
	// uniqueness of a username or federated id.
	ErrConflict = errors.New("uniqueness conflict")

	// ErrSessionIntegrity is logged when a session refers to a user that no
	// longer exists.
	ErrSessionIntegrity = errors.New("session refers to a missing user")

	// ErrStoreUnavailable wraps transient store failures (timeouts, connection
	// errors). Callers may retry.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrUserNotFound is returned by stores for lookups that miss.
	ErrUserNotFound = errors.New("user not found")
)

// IsRetryable reports whether err is a transient infrastructure failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// Unavailable wraps a backend error as ErrStoreUnavailable, keeping the cause
// in the chain.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// Error codes reported to forms
const (
	ErrCodeInvalidCreds     = "invalid_credentials"
	ErrCodeUsernameTaken    = "username_taken"
	ErrCodeMissingField     = "missing_field"
	ErrCodeInvalidUsername  = "invalid_username"
	ErrCodeWeakPassword     = "weak_password"
	ErrCodeStoreUnavailable = "store_unavailable"
)

// AuthError is a user-facing failure from a login or registration form.
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
	Field   string `json:"field,omitempty"`
}

func NewAuthError(code, message, field string) *AuthError {
	return &AuthError{Code: code, Message: message, Field: field}
}

func (e *AuthError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s (%s): %s", e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
