package secretly

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// User is a single account. A user may have a local credential (Username plus
// a password hash kept by the store), a federated identity (FederatedId), or
// both. Id is the only field every code path may rely on.
type User struct {
	Id          string    `json:"id"`
	Username    string    `json:"username,omitempty"`
	FederatedId string    `json:"federated_id,omitempty"`
	Email       string    `json:"email,omitempty"`
	Name        string    `json:"name,omitempty"`
	Secrets     []string  `json:"secrets,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Profile is what an identity provider tells us about a user
type Profile struct {
	Id      string `json:"id"`
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
}

// NewUserId generates a fresh opaque user id
func NewUserId() string {
	return uuid.NewString()
}

// NewFederatedUser builds the record created on the first login with a
// provider identity.
func NewFederatedUser(federatedId string, profile *Profile) *User {
	now := time.Now().UTC()
	user := &User{
		Id:          NewUserId(),
		FederatedId: federatedId,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if profile != nil {
		user.Email = strings.TrimSpace(profile.Email)
		user.Name = profile.Name
	}
	return user
}

// UserStore is the durable identity store. Implementations must enforce the
// uniqueness of Username and FederatedId when they are non-empty, and must
// wrap transient backend failures with ErrStoreUnavailable.
type UserStore interface {
	// CreateUser inserts a new user. passwordHash may be nil for users
	// without a local credential. Returns ErrConflict on a uniqueness violation.
	CreateUser(ctx context.Context, user *User, passwordHash []byte) error

	// GetUserById returns ErrUserNotFound if no such user exists.
	GetUserById(ctx context.Context, userId string) (*User, error)

	// GetPasswordHash looks up the local credential for a username.
	// Returns ErrUserNotFound if there is no local user with that name.
	GetPasswordHash(ctx context.Context, username string) (userId string, passwordHash []byte, err error)

	// FindOrCreateByFederatedId returns the user owning federatedId, creating
	// it atomically if absent. created reports whether this call inserted it.
	FindOrCreateByFederatedId(ctx context.Context, federatedId string, profile *Profile) (user *User, created bool, err error)

	// SaveUser updates an existing user. Returns ErrConflict on a uniqueness
	// violation and ErrUserNotFound if the user does not exist.
	SaveUser(ctx context.Context, user *User) error

	// AppendSecret adds a secret to the end of the user's list
	AppendSecret(ctx context.Context, userId, secret string) error

	// ListSecrets returns all secrets of all users
	ListSecrets(ctx context.Context) ([]string, error)
}
