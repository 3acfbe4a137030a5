// Package fs stores users as JSON files. Uniqueness of usernames and
// federated ids is enforced with index files created by hard link, so the
// store stays correct across goroutines and processes sharing a directory.
// Suitable for development and small single-host deployments.
package fs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	oa "github.com/panyam/secretly"
)

const (
	usersDir     = "users"
	usernamesDir = "usernames"
	federatedDir = "federated"
)

// fsUser is the on-disk record. The password hash lives here but never
// leaves the store except through GetPasswordHash.
type fsUser struct {
	oa.User
	PasswordHash []byte `json:"password_hash,omitempty"`
}

// FSUserStore implements secretly.UserStore on a directory tree
type FSUserStore struct {
	StoragePath string

	// serializes read-modify-write of a single user file within this process
	mu sync.Mutex
}

func NewFSUserStore(storagePath string) *FSUserStore {
	return &FSUserStore{StoragePath: storagePath}
}

func (s *FSUserStore) userPath(userId string) string {
	return filepath.Join(s.StoragePath, usersDir, filepath.Base(userId)+".json")
}

func (s *FSUserStore) indexPath(dir, key string) string {
	return filepath.Join(s.StoragePath, dir, base64.RawURLEncoding.EncodeToString([]byte(key)))
}

func (s *FSUserStore) CreateUser(ctx context.Context, user *oa.User, passwordHash []byte) error {
	if err := ctx.Err(); err != nil {
		return oa.Unavailable("create user", err)
	}
	if user.Id == "" {
		user.Id = oa.NewUserId()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	// user file first, so an index entry never points at a missing file
	if err := s.writeUser(&fsUser{User: *user, PasswordHash: passwordHash}); err != nil {
		return err
	}
	var reserved []string
	release := func() {
		for _, p := range reserved {
			os.Remove(p)
		}
		os.Remove(s.userPath(user.Id))
	}
	if user.Username != "" {
		p := s.indexPath(usernamesDir, user.Username)
		if err := s.reserve(p, user.Id); err != nil {
			release()
			return err
		}
		reserved = append(reserved, p)
	}
	if user.FederatedId != "" {
		p := s.indexPath(federatedDir, user.FederatedId)
		if err := s.reserve(p, user.Id); err != nil {
			release()
			return err
		}
	}
	return nil
}

func (s *FSUserStore) GetUserById(ctx context.Context, userId string) (*oa.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, oa.Unavailable("get user", err)
	}
	rec, err := s.readUser(userId)
	if err != nil {
		return nil, err
	}
	return &rec.User, nil
}

func (s *FSUserStore) GetPasswordHash(ctx context.Context, username string) (string, []byte, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, oa.Unavailable("get password hash", err)
	}
	userId, err := s.lookup(usernamesDir, username)
	if err != nil {
		return "", nil, err
	}
	rec, err := s.readUser(userId)
	if err != nil {
		return "", nil, err
	}
	if len(rec.PasswordHash) == 0 {
		return "", nil, oa.ErrUserNotFound
	}
	return rec.Id, rec.PasswordHash, nil
}

func (s *FSUserStore) FindOrCreateByFederatedId(ctx context.Context, federatedId string, profile *oa.Profile) (*oa.User, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, oa.Unavailable("find or create user", err)
	}
	if federatedId == "" {
		return nil, false, fmt.Errorf("federated id required")
	}
	if userId, err := s.lookup(federatedDir, federatedId); err == nil {
		user, err := s.GetUserById(ctx, userId)
		return user, false, err
	} else if !errors.Is(err, oa.ErrUserNotFound) {
		return nil, false, err
	}

	user := oa.NewFederatedUser(federatedId, profile)
	err := s.CreateUser(ctx, user, nil)
	if err == nil {
		return user, true, nil
	}
	if !errors.Is(err, oa.ErrConflict) {
		return nil, false, err
	}
	// lost the race, the winner's user file was written before its index
	userId, err := s.lookup(federatedDir, federatedId)
	if err != nil {
		return nil, false, err
	}
	existing, err := s.GetUserById(ctx, userId)
	return existing, false, err
}

func (s *FSUserStore) SaveUser(ctx context.Context, user *oa.User) error {
	if err := ctx.Err(); err != nil {
		return oa.Unavailable("save user", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.readUser(user.Id)
	if err != nil {
		return err
	}
	if err := s.moveIndex(usernamesDir, rec.Username, user.Username, user.Id); err != nil {
		return err
	}
	if err := s.moveIndex(federatedDir, rec.FederatedId, user.FederatedId, user.Id); err != nil {
		return err
	}
	user.CreatedAt = rec.CreatedAt
	user.UpdatedAt = time.Now().UTC()
	rec.User = *user
	return s.writeUser(rec)
}

func (s *FSUserStore) AppendSecret(ctx context.Context, userId, secret string) error {
	if err := ctx.Err(); err != nil {
		return oa.Unavailable("append secret", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.readUser(userId)
	if err != nil {
		return err
	}
	rec.Secrets = append(rec.Secrets, secret)
	rec.UpdatedAt = time.Now().UTC()
	return s.writeUser(rec)
}

func (s *FSUserStore) ListSecrets(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, oa.Unavailable("list secrets", err)
	}
	entries, err := os.ReadDir(filepath.Join(s.StoragePath, usersDir))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, oa.Unavailable("list users", err)
	}

	var users []*fsUser
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, oa.Unavailable("list secrets", err)
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		rec, err := s.readUser(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}
		users = append(users, rec)
	}
	sortByCreation(users)

	secrets := []string{}
	for _, u := range users {
		secrets = append(secrets, u.Secrets...)
	}
	return secrets, nil
}

// moveIndex points the index for newKey at userId and releases oldKey
func (s *FSUserStore) moveIndex(dir, oldKey, newKey, userId string) error {
	if oldKey == newKey {
		return nil
	}
	if newKey != "" {
		if err := s.reserve(s.indexPath(dir, newKey), userId); err != nil {
			return err
		}
	}
	if oldKey != "" {
		os.Remove(s.indexPath(dir, oldKey))
	}
	return nil
}

// reserve atomically creates an index file holding userId. The content is
// written to a temp file first and hard linked into place, so readers never
// see an empty index. An existing file means the key is taken.
func (s *FSUserStore) reserve(path, userId string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return oa.Unavailable("reserve", err)
	}
	tmp, err := os.CreateTemp(dir, ".idx-*")
	if err != nil {
		return oa.Unavailable("reserve", err)
	}
	defer os.Remove(tmp.Name())
	_, err = tmp.WriteString(userId)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return oa.Unavailable("reserve", err)
	}
	if err := os.Link(tmp.Name(), path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return oa.ErrConflict
		}
		return oa.Unavailable("reserve", err)
	}
	return nil
}

func (s *FSUserStore) lookup(dir, key string) (string, error) {
	if key == "" {
		return "", oa.ErrUserNotFound
	}
	data, err := os.ReadFile(s.indexPath(dir, key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", oa.ErrUserNotFound
		}
		return "", oa.Unavailable("lookup", err)
	}
	return string(data), nil
}

func (s *FSUserStore) readUser(userId string) (*fsUser, error) {
	if userId == "" {
		return nil, oa.ErrUserNotFound
	}
	data, err := os.ReadFile(s.userPath(userId))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, oa.ErrUserNotFound
		}
		return nil, oa.Unavailable("read user", err)
	}
	var rec fsUser
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("corrupt user file %s: %w", userId, err)
	}
	return &rec, nil
}

func (s *FSUserStore) writeUser(rec *fsUser) error {
	path := s.userPath(rec.Id)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return oa.Unavailable("write user", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	if err := writeAtomicFile(path, data); err != nil {
		return oa.Unavailable("write user", err)
	}
	return nil
}

var _ oa.UserStore = (*FSUserStore)(nil)
