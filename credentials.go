package secretly

import (
	"fmt"
	"regexp"
	"strings"
)

// Credentials represents a username/password pair submitted for login or registration
type Credentials struct {
	Username string
	Password string
}

// bcrypt ignores everything after 72 bytes
const maxPasswordBytes = 72

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9._@+-]{3,64}$`)

// Normalize trims the username. Passwords are used verbatim.
func (c *Credentials) Normalize() {
	c.Username = strings.TrimSpace(c.Username)
}

// ValidateRegistration checks the shape of registration credentials
func ValidateRegistration(creds *Credentials) *AuthError {
	if creds.Username == "" {
		return NewAuthError(ErrCodeMissingField, "Username is required", "username")
	}
	if creds.Password == "" {
		return NewAuthError(ErrCodeMissingField, "Password is required", "password")
	}
	if !usernameRegex.MatchString(creds.Username) {
		return NewAuthError(ErrCodeInvalidUsername,
			"Username must be 3-64 characters of letters, numbers and . _ @ + -", "username")
	}
	if len(creds.Password) > maxPasswordBytes {
		return NewAuthError(ErrCodeWeakPassword,
			fmt.Sprintf("Password must be at most %d bytes", maxPasswordBytes), "password")
	}
	return nil
}

// ValidateLogin only checks that both fields are present
func ValidateLogin(creds *Credentials) *AuthError {
	if creds.Username == "" || creds.Password == "" {
		return NewAuthError(ErrCodeMissingField, "username and password required", "username")
	}
	return nil
}
