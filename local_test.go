package secretly_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	oa "github.com/panyam/secretly"
	"github.com/panyam/secretly/stores/fs"
)

func newLocalAuth(t *testing.T) *oa.LocalAuth {
	return &oa.LocalAuth{Users: fs.NewFSUserStore(t.TempDir()), Cost: bcrypt.MinCost}
}

func TestRegisterThenVerify(t *testing.T) {
	auth := newLocalAuth(t)
	ctx := context.Background()

	user, err := auth.Register(ctx, "alice", "hunter2")
	require.NoError(t, err)
	assert.NotEmpty(t, user.Id)
	assert.Equal(t, "alice", user.Username)

	got, err := auth.Verify(ctx, "alice", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, user.Id, got.Id)

	// surrounding whitespace in the username is ignored
	got, err = auth.Verify(ctx, "  alice ", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, user.Id, got.Id)
}

func TestPasswordStoredHashed(t *testing.T) {
	auth := newLocalAuth(t)
	ctx := context.Background()
	_, err := auth.Register(ctx, "alice", "hunter2")
	require.NoError(t, err)

	_, hash, err := auth.Users.GetPasswordHash(ctx, "alice")
	require.NoError(t, err)
	assert.NotContains(t, string(hash), "hunter2")
	assert.NoError(t, bcrypt.CompareHashAndPassword(hash, []byte("hunter2")))
}

func TestVerifyFailuresAreUniform(t *testing.T) {
	auth := newLocalAuth(t)
	ctx := context.Background()
	_, err := auth.Register(ctx, "alice", "hunter2")
	require.NoError(t, err)

	_, wrongPassword := auth.Verify(ctx, "alice", "hunter3")
	_, unknownUser := auth.Verify(ctx, "mallory", "hunter2")
	_, empty := auth.Verify(ctx, "", "")

	for _, err := range []error{wrongPassword, unknownUser, empty} {
		assert.ErrorIs(t, err, oa.ErrInvalidCredentials)
	}
	assert.Equal(t, wrongPassword.Error(), unknownUser.Error())
}

func TestRegisterDuplicate(t *testing.T) {
	auth := newLocalAuth(t)
	ctx := context.Background()
	first, err := auth.Register(ctx, "alice", "hunter2")
	require.NoError(t, err)

	_, err = auth.Register(ctx, "alice", "different")
	assert.ErrorIs(t, err, oa.ErrUsernameTaken)

	// the original credential still works and the record is unchanged
	got, err := auth.Verify(ctx, "alice", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, first.Id, got.Id)
	_, err = auth.Verify(ctx, "alice", "different")
	assert.ErrorIs(t, err, oa.ErrInvalidCredentials)
}

func TestRegisterValidation(t *testing.T) {
	auth := newLocalAuth(t)
	ctx := context.Background()

	cases := []struct {
		name, username, password, code string
	}{
		{"missing username", "", "pw", oa.ErrCodeMissingField},
		{"missing password", "alice", "", oa.ErrCodeMissingField},
		{"bad username", "a b", "pw", oa.ErrCodeInvalidUsername},
		{"short username", "ab", "pw", oa.ErrCodeInvalidUsername},
		{"long password", "alice", strings.Repeat("x", 73), oa.ErrCodeWeakPassword},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := auth.Register(ctx, tc.username, tc.password)
			var authErr *oa.AuthError
			require.ErrorAs(t, err, &authErr)
			assert.Equal(t, tc.code, authErr.Code)
		})
	}
}

func TestVerifyStoreOutageIsNotInvalidCredentials(t *testing.T) {
	users := newOutageStore(t)
	auth := &oa.LocalAuth{Users: users, Cost: bcrypt.MinCost}
	ctx := context.Background()
	_, err := auth.Register(ctx, "alice", "hunter2")
	require.NoError(t, err)

	users.down.Store(true)
	_, err = auth.Verify(ctx, "alice", "hunter2")
	require.Error(t, err)
	assert.True(t, oa.IsRetryable(err), "got %v", err)
	assert.False(t, errors.Is(err, oa.ErrInvalidCredentials))

	_, err = auth.Register(ctx, "bob", "hunter2")
	assert.True(t, oa.IsRetryable(err), "got %v", err)
	assert.False(t, errors.Is(err, oa.ErrUsernameTaken))
}
