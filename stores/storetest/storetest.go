// Package storetest holds behaviour checks shared by every UserStore backend.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	oa "github.com/panyam/secretly"
)

// Factory returns an empty store for one subtest
type Factory func(t *testing.T) oa.UserStore

// Run exercises a UserStore implementation
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("UsernameConflict", func(t *testing.T) { testUsernameConflict(t, newStore(t)) })
	t.Run("PasswordHash", func(t *testing.T) { testPasswordHash(t, newStore(t)) })
	t.Run("FindOrCreateIsStable", func(t *testing.T) { testFindOrCreateStable(t, newStore(t)) })
	t.Run("FindOrCreateConcurrent", func(t *testing.T) { testFindOrCreateConcurrent(t, newStore(t)) })
	t.Run("AppendAndList", func(t *testing.T) { testAppendAndList(t, newStore(t)) })
	t.Run("AppendMissingUser", func(t *testing.T) { testAppendMissing(t, newStore(t)) })
	t.Run("SaveUser", func(t *testing.T) { testSaveUser(t, newStore(t)) })
}

func newLocalUser(username string) *oa.User {
	return &oa.User{Id: oa.NewUserId(), Username: username}
}

func testCreateAndGet(t *testing.T, s oa.UserStore) {
	ctx := context.Background()
	u := newLocalUser("alice")
	require.NoError(t, s.CreateUser(ctx, u, []byte("hash")))

	got, err := s.GetUserById(ctx, u.Id)
	require.NoError(t, err)
	assert.Equal(t, u.Id, got.Id)
	assert.Equal(t, "alice", got.Username)
	assert.Empty(t, got.Secrets)

	_, err = s.GetUserById(ctx, "no-such-user")
	assert.ErrorIs(t, err, oa.ErrUserNotFound)
}

func testUsernameConflict(t *testing.T, s oa.UserStore) {
	ctx := context.Background()
	require.NoError(t, s.CreateUser(ctx, newLocalUser("alice"), []byte("h1")))

	dup := newLocalUser("alice")
	err := s.CreateUser(ctx, dup, []byte("h2"))
	assert.ErrorIs(t, err, oa.ErrConflict)

	// the loser must not leave a half-created user behind
	_, err = s.GetUserById(ctx, dup.Id)
	assert.ErrorIs(t, err, oa.ErrUserNotFound)

	_, hash, err := s.GetPasswordHash(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []byte("h1"), hash)
}

func testPasswordHash(t *testing.T, s oa.UserStore) {
	ctx := context.Background()
	u := newLocalUser("bob")
	require.NoError(t, s.CreateUser(ctx, u, []byte("bob-hash")))

	id, hash, err := s.GetPasswordHash(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, u.Id, id)
	assert.Equal(t, []byte("bob-hash"), hash)

	_, _, err = s.GetPasswordHash(ctx, "nobody")
	assert.ErrorIs(t, err, oa.ErrUserNotFound)

	// federated users have no local credential
	_, _, err = s.FindOrCreateByFederatedId(ctx, "g-1", &oa.Profile{Id: "g-1"})
	require.NoError(t, err)
	_, _, err = s.GetPasswordHash(ctx, "")
	assert.ErrorIs(t, err, oa.ErrUserNotFound)
}

func testFindOrCreateStable(t *testing.T, s oa.UserStore) {
	ctx := context.Background()
	profile := &oa.Profile{Id: "g-123", Email: "carol@example.com", Name: "Carol"}

	first, created, err := s.FindOrCreateByFederatedId(ctx, "g-123", profile)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "g-123", first.FederatedId)
	assert.Equal(t, "carol@example.com", first.Email)

	second, created, err := s.FindOrCreateByFederatedId(ctx, "g-123", profile)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.Id, second.Id)
}

func testFindOrCreateConcurrent(t *testing.T, s oa.UserStore) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	const n = 8
	ids := make([]string, n)
	errs := make([]error, n)
	var created sync.Map
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, c, err := s.FindOrCreateByFederatedId(ctx, "g-race", &oa.Profile{Id: "g-race"})
			errs[i] = err
			if err == nil {
				ids[i] = u.Id
				if c {
					created.Store(i, true)
				}
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i], "caller %d", i)
		assert.Equal(t, ids[0], ids[i], "caller %d got a different user", i)
	}
	count := 0
	created.Range(func(_, _ any) bool { count++; return true })
	assert.Equal(t, 1, count, "exactly one caller should create the user")
}

func testAppendAndList(t *testing.T, s oa.UserStore) {
	ctx := context.Background()
	a := newLocalUser("alice")
	require.NoError(t, s.CreateUser(ctx, a, []byte("h")))

	secrets, err := s.ListSecrets(ctx)
	require.NoError(t, err)
	assert.Empty(t, secrets)

	require.NoError(t, s.AppendSecret(ctx, a.Id, "first"))
	require.NoError(t, s.AppendSecret(ctx, a.Id, "second"))

	got, err := s.GetUserById(ctx, a.Id)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, got.Secrets)

	// concurrent appends to one user must all land
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.AppendSecret(ctx, a.Id, fmt.Sprintf("c%d", i)))
		}(i)
	}
	wg.Wait()

	secrets, err = s.ListSecrets(ctx)
	require.NoError(t, err)
	assert.Len(t, secrets, 7)
	assert.Equal(t, []string{"first", "second"}, secrets[:2])
}

func testAppendMissing(t *testing.T, s oa.UserStore) {
	err := s.AppendSecret(context.Background(), "ghost", "boo")
	assert.True(t, errors.Is(err, oa.ErrUserNotFound), "got %v", err)
}

func testSaveUser(t *testing.T, s oa.UserStore) {
	ctx := context.Background()
	a := newLocalUser("alice")
	b := newLocalUser("bob")
	require.NoError(t, s.CreateUser(ctx, a, []byte("ha")))
	require.NoError(t, s.CreateUser(ctx, b, []byte("hb")))

	a.Name = "Alice A."
	a.Email = "alice@example.com"
	require.NoError(t, s.SaveUser(ctx, a))
	got, err := s.GetUserById(ctx, a.Id)
	require.NoError(t, err)
	assert.Equal(t, "Alice A.", got.Name)

	// the password hash survives a profile update
	_, hash, err := s.GetPasswordHash(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []byte("ha"), hash)

	b.Username = "alice"
	assert.ErrorIs(t, s.SaveUser(ctx, b), oa.ErrConflict)

	ghost := newLocalUser("ghost")
	assert.ErrorIs(t, s.SaveUser(ctx, ghost), oa.ErrUserNotFound)
}
