//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/iterator"

	oa "github.com/panyam/secretly"
)

// UserStore implements secretly.UserStore using Google Cloud Datastore
type UserStore struct {
	client    *datastore.Client
	namespace string
}

func NewUserStore(client *datastore.Client, namespace string) *UserStore {
	return &UserStore{client: client, namespace: namespace}
}

func (s *UserStore) namespacedKey(kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = s.namespace
	return key
}

func (s *UserStore) CreateUser(ctx context.Context, user *oa.User, passwordHash []byte) error {
	if user.Id == "" {
		user.Id = oa.NewUserId()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		return s.insertTx(tx, user, passwordHash)
	})
	return s.translate("create user", err)
}

// insertTx claims the user's unique keys and writes the user, all or nothing
func (s *UserStore) insertTx(tx *datastore.Transaction, user *oa.User, passwordHash []byte) error {
	var keys []*datastore.Key
	var entities []any
	claim := func(kind, name string) error {
		key := s.namespacedKey(kind, name)
		var existing IndexEntity
		err := tx.Get(key, &existing)
		if err == nil {
			return oa.ErrConflict
		}
		if err != datastore.ErrNoSuchEntity {
			return err
		}
		keys = append(keys, key)
		entities = append(entities, &IndexEntity{UserID: user.Id, CreatedAt: user.CreatedAt})
		return nil
	}
	if user.Username != "" {
		if err := claim(kindUsername, user.Username); err != nil {
			return err
		}
	}
	if user.FederatedId != "" {
		if err := claim(kindFederated, user.FederatedId); err != nil {
			return err
		}
	}

	entity := UserToEntity(user, s.namespacedKey(kindUser, user.Id))
	entity.PasswordHash = passwordHash
	entity.Version = 1
	keys = append(keys, entity.Key)
	entities = append(entities, entity)
	_, err := tx.PutMulti(keys, entities)
	return err
}

func (s *UserStore) GetUserById(ctx context.Context, userId string) (*oa.User, error) {
	entity, err := s.getUser(ctx, userId)
	if err != nil {
		return nil, err
	}
	return entity.ToUser(), nil
}

func (s *UserStore) getUser(ctx context.Context, userId string) (*UserEntity, error) {
	if userId == "" {
		return nil, oa.ErrUserNotFound
	}
	var entity UserEntity
	if err := s.client.Get(ctx, s.namespacedKey(kindUser, userId), &entity); err != nil {
		return nil, s.translate("get user", err)
	}
	return &entity, nil
}

func (s *UserStore) lookup(ctx context.Context, kind, name string) (string, error) {
	if name == "" {
		return "", oa.ErrUserNotFound
	}
	var idx IndexEntity
	if err := s.client.Get(ctx, s.namespacedKey(kind, name), &idx); err != nil {
		return "", s.translate("lookup", err)
	}
	return idx.UserID, nil
}

func (s *UserStore) GetPasswordHash(ctx context.Context, username string) (string, []byte, error) {
	userId, err := s.lookup(ctx, kindUsername, username)
	if err != nil {
		return "", nil, err
	}
	entity, err := s.getUser(ctx, userId)
	if err != nil {
		return "", nil, err
	}
	if len(entity.PasswordHash) == 0 {
		return "", nil, oa.ErrUserNotFound
	}
	return userId, entity.PasswordHash, nil
}

// FindOrCreateByFederatedId runs the lookup and the insert in one
// transaction. Datastore aborts one of two racing transactions and the
// retried one then finds the winner's index entity.
func (s *UserStore) FindOrCreateByFederatedId(ctx context.Context, federatedId string, profile *oa.Profile) (*oa.User, bool, error) {
	if federatedId == "" {
		return nil, false, errors.New("federated id required")
	}
	var user *oa.User
	var created bool
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		user, created = nil, false
		var idx IndexEntity
		err := tx.Get(s.namespacedKey(kindFederated, federatedId), &idx)
		if err == nil {
			var entity UserEntity
			if err := tx.Get(s.namespacedKey(kindUser, idx.UserID), &entity); err != nil {
				return err
			}
			user = entity.ToUser()
			return nil
		}
		if err != datastore.ErrNoSuchEntity {
			return err
		}
		user = oa.NewFederatedUser(federatedId, profile)
		user.Secrets = []string{}
		created = true
		return s.insertTx(tx, user, nil)
	})
	if err != nil {
		return nil, false, s.translate("find or create user", err)
	}
	return user, created, nil
}

func (s *UserStore) SaveUser(ctx context.Context, user *oa.User) error {
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		key := s.namespacedKey(kindUser, user.Id)
		var entity UserEntity
		if err := tx.Get(key, &entity); err != nil {
			return err
		}
		if err := s.moveIndexTx(tx, kindUsername, entity.Username, user.Username, user.Id); err != nil {
			return err
		}
		if err := s.moveIndexTx(tx, kindFederated, entity.FederatedId, user.FederatedId, user.Id); err != nil {
			return err
		}
		entity.Username = user.Username
		entity.FederatedId = user.FederatedId
		entity.Email = user.Email
		entity.Name = user.Name
		entity.UpdatedAt = time.Now().UTC()
		entity.Version++
		_, err := tx.Put(key, &entity)
		return err
	})
	return s.translate("save user", err)
}

func (s *UserStore) moveIndexTx(tx *datastore.Transaction, kind, oldName, newName, userId string) error {
	if oldName == newName {
		return nil
	}
	if newName != "" {
		key := s.namespacedKey(kind, newName)
		var existing IndexEntity
		err := tx.Get(key, &existing)
		if err == nil {
			return oa.ErrConflict
		}
		if err != datastore.ErrNoSuchEntity {
			return err
		}
		if _, err := tx.Put(key, &IndexEntity{UserID: userId, CreatedAt: time.Now().UTC()}); err != nil {
			return err
		}
	}
	if oldName != "" {
		return tx.Delete(s.namespacedKey(kind, oldName))
	}
	return nil
}

func (s *UserStore) AppendSecret(ctx context.Context, userId, secret string) error {
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		key := s.namespacedKey(kindUser, userId)
		var entity UserEntity
		if err := tx.Get(key, &entity); err != nil {
			return err
		}
		entity.Secrets = append(entity.Secrets, secret)
		entity.UpdatedAt = time.Now().UTC()
		entity.Version++
		_, err := tx.Put(key, &entity)
		return err
	})
	return s.translate("append secret", err)
}

func (s *UserStore) ListSecrets(ctx context.Context) ([]string, error) {
	query := datastore.NewQuery(kindUser).Order("created_at")
	if s.namespace != "" {
		query = query.Namespace(s.namespace)
	}

	secrets := []string{}
	it := s.client.Run(ctx, query)
	for {
		var entity UserEntity
		_, err := it.Next(&entity)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, s.translate("list secrets", err)
		}
		secrets = append(secrets, entity.Secrets...)
	}
	return secrets, nil
}

// translate maps Datastore errors onto the store error taxonomy
func (s *UserStore) translate(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, datastore.ErrNoSuchEntity):
		return oa.ErrUserNotFound
	case errors.Is(err, oa.ErrConflict), errors.Is(err, oa.ErrUserNotFound):
		return err
	default:
		// includes ErrConcurrentTransaction after the client's own retries
		return oa.Unavailable(op, err)
	}
}

var _ oa.UserStore = (*UserStore)(nil)
