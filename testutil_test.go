package secretly_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/alexedwards/scs/v2"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	oa "github.com/panyam/secretly"
	"github.com/panyam/secretly/stores/fs"
)

type testEnv struct {
	Users    oa.UserStore
	Sessions *oa.Sessions
	App      *oa.App
	Server   *httptest.Server
}

// newTestEnv starts the full handler chain over a temp-dir store
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, fs.NewFSUserStore(t.TempDir()))
}

// newTestEnvWith is newTestEnv over users; configure runs before the server starts
func newTestEnvWith(t *testing.T, users oa.UserStore, configure ...func(*oa.App)) *testEnv {
	t.Helper()
	sessions := &oa.Sessions{
		Manager: oa.NewSessionManager(oa.SessionOptions{}),
		Users:   users,
	}
	app := &oa.App{
		Users:    users,
		Sessions: sessions,
		Local:    &oa.LocalAuth{Users: users, Cost: bcrypt.MinCost},
	}
	for _, f := range configure {
		f(app)
	}
	app.EnsureDefaults()
	server := httptest.NewServer(app.Handler())
	t.Cleanup(server.Close)
	return &testEnv{Users: users, Sessions: sessions, App: app, Server: server}
}

// newClient returns a browser-like client that keeps cookies and does not
// follow redirects, so tests can assert on them.
func (e *testEnv) newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (e *testEnv) postForm(t *testing.T, c *http.Client, path string, values url.Values) *http.Response {
	t.Helper()
	resp, err := c.PostForm(e.Server.URL+path, values)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) get(t *testing.T, c *http.Client, path string) *http.Response {
	t.Helper()
	resp, err := c.Get(e.Server.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) sessionCookie(c *http.Client) *http.Cookie {
	u, _ := url.Parse(e.Server.URL)
	for _, ck := range c.Jar.Cookies(u) {
		if ck.Name == "session" {
			return ck
		}
	}
	return nil
}

func credsForm(username, password string) url.Values {
	return url.Values{"username": {username}, "password": {password}}
}

// loadSession gives a context carrying a fresh scs session
func loadSession(t *testing.T, sm *scs.SessionManager, token string) context.Context {
	t.Helper()
	ctx, err := sm.Load(context.Background(), token)
	require.NoError(t, err)
	return ctx
}

func bodyString(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

// outageStore wraps a store and, while down, fails every call with a
// retryable error the way a timed out backend would.
type outageStore struct {
	oa.UserStore
	down atomic.Bool
}

func newOutageStore(t *testing.T) *outageStore {
	return &outageStore{UserStore: fs.NewFSUserStore(t.TempDir())}
}

func (s *outageStore) fail(op string) error {
	if s.down.Load() {
		return oa.Unavailable(op, errors.New("i/o timeout"))
	}
	return nil
}

func (s *outageStore) CreateUser(ctx context.Context, user *oa.User, hash []byte) error {
	if err := s.fail("create user"); err != nil {
		return err
	}
	return s.UserStore.CreateUser(ctx, user, hash)
}

func (s *outageStore) GetUserById(ctx context.Context, id string) (*oa.User, error) {
	if err := s.fail("get user"); err != nil {
		return nil, err
	}
	return s.UserStore.GetUserById(ctx, id)
}

func (s *outageStore) GetPasswordHash(ctx context.Context, username string) (string, []byte, error) {
	if err := s.fail("get password hash"); err != nil {
		return "", nil, err
	}
	return s.UserStore.GetPasswordHash(ctx, username)
}

func (s *outageStore) AppendSecret(ctx context.Context, userId, secret string) error {
	if err := s.fail("append secret"); err != nil {
		return err
	}
	return s.UserStore.AppendSecret(ctx, userId, secret)
}

func (s *outageStore) ListSecrets(ctx context.Context) ([]string, error) {
	if err := s.fail("list secrets"); err != nil {
		return nil, err
	}
	return s.UserStore.ListSecrets(ctx)
}
