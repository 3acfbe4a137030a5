//go:build !wasm
// +build !wasm

package gorm

import (
	"time"

	oa "github.com/panyam/secretly"
)

// UserModel is the GORM model for users. Username and FederatedID are
// nullable so the unique indexes only bind users that have them.
type UserModel struct {
	ID           string    `gorm:"primaryKey;size:64"`
	Username     *string   `gorm:"size:64;uniqueIndex"`
	FederatedID  *string   `gorm:"size:255;uniqueIndex"`
	PasswordHash []byte    `gorm:"size:128"`
	Email        string    `gorm:"size:320"`
	Name         string    `gorm:"size:255"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

func (UserModel) TableName() string {
	return "users"
}

// SecretModel is one submitted secret. Rows are only ever inserted, so
// concurrent appends never overwrite each other.
type SecretModel struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	UserID    string    `gorm:"size:64;index;not null"`
	Body      string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (SecretModel) TableName() string {
	return "secrets"
}

func (m *UserModel) ToUser(secrets []string) *oa.User {
	u := &oa.User{
		Id:        m.ID,
		Email:     m.Email,
		Name:      m.Name,
		Secrets:   secrets,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	if m.Username != nil {
		u.Username = *m.Username
	}
	if m.FederatedID != nil {
		u.FederatedId = *m.FederatedID
	}
	return u
}

func UserToModel(u *oa.User, passwordHash []byte) *UserModel {
	return &UserModel{
		ID:           u.Id,
		Username:     nullable(u.Username),
		FederatedID:  nullable(u.FederatedId),
		PasswordHash: passwordHash,
		Email:        u.Email,
		Name:         u.Name,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
