//go:build !wasm
// +build !wasm

package gae

import (
	"time"

	"cloud.google.com/go/datastore"
	oa "github.com/panyam/secretly"
)

const (
	kindUser      = "User"
	kindUsername  = "Username"
	kindFederated = "FederatedIdentity"
)

// UserEntity is the Datastore entity for users
type UserEntity struct {
	Key          *datastore.Key `datastore:"__key__"`
	Username     string         `datastore:"username"`
	FederatedId  string         `datastore:"federated_id"`
	PasswordHash []byte         `datastore:"password_hash,noindex"`
	Email        string         `datastore:"email,noindex"`
	Name         string         `datastore:"name,noindex"`
	Secrets      []string       `datastore:"secrets,noindex"`
	CreatedAt    time.Time      `datastore:"created_at"`
	UpdatedAt    time.Time      `datastore:"updated_at"`
	Version      int            `datastore:"version"`
}

// IndexEntity claims a unique username or federated id for a user
type IndexEntity struct {
	Key       *datastore.Key `datastore:"__key__"`
	UserID    string         `datastore:"user_id"`
	CreatedAt time.Time      `datastore:"created_at"`
}

func (e *UserEntity) ToUser() *oa.User {
	secrets := e.Secrets
	if secrets == nil {
		secrets = []string{}
	}
	return &oa.User{
		Id:          e.Key.Name,
		Username:    e.Username,
		FederatedId: e.FederatedId,
		Email:       e.Email,
		Name:        e.Name,
		Secrets:     secrets,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

func UserToEntity(u *oa.User, key *datastore.Key) *UserEntity {
	return &UserEntity{
		Key:         key,
		Username:    u.Username,
		FederatedId: u.FederatedId,
		Email:       u.Email,
		Name:        u.Name,
		Secrets:     u.Secrets,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}
