//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	oa "github.com/panyam/secretly"
)

// AutoMigrate runs database migrations for all secretly tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&UserModel{},
		&SecretModel{},
	)
}

// UserStore implements secretly.UserStore using GORM
type UserStore struct {
	db *gorm.DB
}

func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) CreateUser(ctx context.Context, user *oa.User, passwordHash []byte) error {
	if user.Id == "" {
		user.Id = oa.NewUserId()
	}
	model := UserToModel(user, passwordHash)
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return translate("create user", err)
	}
	user.CreatedAt = model.CreatedAt
	user.UpdatedAt = model.UpdatedAt
	return nil
}

func (s *UserStore) GetUserById(ctx context.Context, userId string) (*oa.User, error) {
	db := s.db.WithContext(ctx)
	var model UserModel
	if err := db.First(&model, "id = ?", userId).Error; err != nil {
		return nil, translate("get user", err)
	}
	secrets := []string{}
	if err := db.Model(&SecretModel{}).Where("user_id = ?", userId).Order("id").Pluck("body", &secrets).Error; err != nil {
		return nil, translate("get secrets", err)
	}
	return model.ToUser(secrets), nil
}

func (s *UserStore) GetPasswordHash(ctx context.Context, username string) (string, []byte, error) {
	if username == "" {
		return "", nil, oa.ErrUserNotFound
	}
	var model UserModel
	err := s.db.WithContext(ctx).Select("id", "password_hash").First(&model, "username = ?", username).Error
	if err != nil {
		return "", nil, translate("get password hash", err)
	}
	if len(model.PasswordHash) == 0 {
		return "", nil, oa.ErrUserNotFound
	}
	return model.ID, model.PasswordHash, nil
}

// FindOrCreateByFederatedId inserts with ON CONFLICT DO NOTHING and then
// reads back whichever row won, so concurrent callers converge on one user.
func (s *UserStore) FindOrCreateByFederatedId(ctx context.Context, federatedId string, profile *oa.Profile) (*oa.User, bool, error) {
	if federatedId == "" {
		return nil, false, errors.New("federated id required")
	}
	db := s.db.WithContext(ctx)

	candidate := UserToModel(oa.NewFederatedUser(federatedId, profile), nil)
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(candidate)
	if res.Error != nil {
		return nil, false, translate("find or create user", res.Error)
	}

	var model UserModel
	if err := db.First(&model, "federated_id = ?", federatedId).Error; err != nil {
		return nil, false, translate("find or create user", err)
	}
	created := res.RowsAffected == 1 && model.ID == candidate.ID
	if !created {
		user, err := s.GetUserById(ctx, model.ID)
		return user, false, err
	}
	return model.ToUser([]string{}), true, nil
}

func (s *UserStore) SaveUser(ctx context.Context, user *oa.User) error {
	model := UserToModel(user, nil)
	model.UpdatedAt = time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&UserModel{ID: user.Id}).
		Select("Username", "FederatedID", "Email", "Name", "UpdatedAt").
		Updates(model)
	if res.Error != nil {
		return translate("save user", res.Error)
	}
	if res.RowsAffected == 0 {
		return oa.ErrUserNotFound
	}
	user.UpdatedAt = model.UpdatedAt
	return nil
}

func (s *UserStore) AppendSecret(ctx context.Context, userId, secret string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&UserModel{}).Where("id = ?", userId).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return oa.ErrUserNotFound
		}
		return tx.Create(&SecretModel{UserID: userId, Body: secret}).Error
	})
	if errors.Is(err, oa.ErrUserNotFound) {
		return err
	}
	if err != nil {
		return translate("append secret", err)
	}
	return nil
}

func (s *UserStore) ListSecrets(ctx context.Context) ([]string, error) {
	secrets := []string{}
	err := s.db.WithContext(ctx).Model(&SecretModel{}).Order("id").Pluck("body", &secrets).Error
	if err != nil {
		return nil, translate("list secrets", err)
	}
	return secrets, nil
}

// translate maps GORM and driver errors onto the store error taxonomy
func translate(op string, err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return oa.ErrUserNotFound
	case isDuplicate(err):
		return oa.ErrConflict
	default:
		return oa.Unavailable(op, err)
	}
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// drivers without an error translator
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "duplicate key")
}

var _ oa.UserStore = (*UserStore)(nil)
