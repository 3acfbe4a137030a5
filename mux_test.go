package secretly_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/alexedwards/scs/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	oa "github.com/panyam/secretly"
)

func TestRegisterLoginSubmitFlow(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient(t)

	resp := env.postForm(t, c, "/register", credsForm("alice", "hunter2"))
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/secrets", resp.Header.Get("Location"))
	cookie := env.sessionCookie(c)
	require.NotNil(t, cookie, "registration should start a session")

	resp = env.get(t, c, "/submit")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.postForm(t, c, "/submit", url.Values{"secret": {"I like pineapple pizza"}})
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/secrets", resp.Header.Get("Location"))

	// secrets are public and anonymous
	anon := env.newClient(t)
	resp = env.get(t, anon, "/secrets")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := bodyString(t, resp)
	assert.Contains(t, body, "I like pineapple pizza")
	assert.NotContains(t, body, "alice")
}

func TestLoginExistingUser(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.App.Local.Register(context.Background(), "alice", "hunter2")
	require.NoError(t, err)

	c := env.newClient(t)
	resp := env.postForm(t, c, "/login", credsForm("alice", "hunter2"))
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/secrets", resp.Header.Get("Location"))
	assert.NotNil(t, env.sessionCookie(c))
}

func TestLoginFailureRendersForm(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.App.Local.Register(context.Background(), "alice", "hunter2")
	require.NoError(t, err)

	c := env.newClient(t)
	wrong := env.postForm(t, c, "/login", credsForm("alice", "nope"))
	unknown := env.postForm(t, c, "/login", credsForm("bob", "hunter2"))

	assert.Equal(t, http.StatusUnauthorized, wrong.StatusCode)
	assert.Equal(t, http.StatusUnauthorized, unknown.StatusCode)
	assert.Nil(t, env.sessionCookie(c), "failed login must not start a session")

	wrongBody := bodyString(t, wrong)
	assert.Contains(t, wrongBody, "Invalid username or password")
	assert.Contains(t, wrongBody, `value="alice"`)
	assert.NotContains(t, wrongBody, "nope")
}

func TestRegisterDuplicateRendersConflict(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient(t)
	env.postForm(t, c, "/register", credsForm("alice", "hunter2"))

	other := env.newClient(t)
	resp := env.postForm(t, other, "/register", credsForm("alice", "other"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, bodyString(t, resp), "already taken")
	assert.Nil(t, env.sessionCookie(other))
}

func TestSubmitRequiresLogin(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient(t)

	resp := env.get(t, c, "/submit")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))

	resp = env.postForm(t, c, "/submit", url.Values{"secret": {"sneaky"}})
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))

	secrets, err := env.Users.ListSecrets(context.Background())
	require.NoError(t, err)
	assert.Empty(t, secrets)
}

func TestSubmitValidation(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient(t)
	env.postForm(t, c, "/register", credsForm("alice", "hunter2"))

	resp := env.postForm(t, c, "/submit", url.Values{"secret": {"   "}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.postForm(t, c, "/submit", url.Values{"secret": {strings.Repeat("x", 1001)}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSecretsAreEscaped(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient(t)
	env.postForm(t, c, "/register", credsForm("alice", "hunter2"))
	env.postForm(t, c, "/submit", url.Values{"secret": {"<script>alert(1)</script>"}})

	body := bodyString(t, env.get(t, c, "/secrets"))
	assert.NotContains(t, body, "<script>alert(1)</script>")
	assert.Contains(t, body, "&lt;script&gt;")
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient(t)
	env.postForm(t, c, "/register", credsForm("alice", "hunter2"))
	before := env.sessionCookie(c)
	require.NotNil(t, before)

	resp := env.get(t, c, "/logout")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))

	resp = env.get(t, c, "/submit")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))

	// replaying the old cookie does not bring the session back
	replay := env.newClient(t)
	req, err := http.NewRequest(http.MethodGet, env.Server.URL+"/submit", nil)
	require.NoError(t, err)
	req.AddCookie(before)
	resp, err = replay.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)

	// logging out twice is harmless
	resp = env.get(t, c, "/logout")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
}

func TestSessionCookieAttributes(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient(t)
	resp := env.postForm(t, c, "/register", credsForm("alice", "hunter2"))

	var session *http.Cookie
	for _, ck := range resp.Cookies() {
		if ck.Name == "session" {
			session = ck
		}
	}
	require.NotNil(t, session)
	assert.True(t, session.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, session.SameSite)
	assert.Equal(t, "/", session.Path)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	resp := env.get(t, env.newClient(t), "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", bodyString(t, resp))
}

func TestNavReflectsLogin(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient(t)
	assert.Contains(t, bodyString(t, env.get(t, c, "/")), `href="/login"`)

	env.postForm(t, c, "/register", credsForm("alice", "hunter2"))
	assert.Contains(t, bodyString(t, env.get(t, c, "/")), `href="/logout"`)
}

func TestLoginDuringStoreOutage(t *testing.T) {
	users := newOutageStore(t)
	env := newTestEnvWith(t, users)
	_, err := env.App.Local.Register(context.Background(), "alice", "hunter2")
	require.NoError(t, err)

	users.down.Store(true)
	c := env.newClient(t)
	resp := env.postForm(t, c, "/login", credsForm("alice", "hunter2"))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	body := bodyString(t, resp)
	assert.Contains(t, body, "temporarily unavailable")
	assert.NotContains(t, body, "Invalid username or password")
	assert.Nil(t, env.sessionCookie(c))
}

func TestLogoutDuringStoreOutage(t *testing.T) {
	users := newOutageStore(t)
	env := newTestEnvWith(t, users)
	c := env.newClient(t)
	env.postForm(t, c, "/register", credsForm("alice", "hunter2"))
	before := env.sessionCookie(c)
	require.NotNil(t, before)
	other := env.newClient(t)
	env.postForm(t, other, "/register", credsForm("bob", "hunter2"))

	users.down.Store(true)
	resp := env.get(t, c, "/logout")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))

	// pages that restore the user report the outage rather than logging out
	resp = env.get(t, other, "/secrets")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	// once the store is back, the old session is gone
	users.down.Store(false)
	replay := env.newClient(t)
	req, err := http.NewRequest(http.MethodGet, env.Server.URL+"/submit", nil)
	require.NoError(t, err)
	req.AddCookie(before)
	resp, err = replay.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))
}

// vanishingStore loses the user between restore and append
type vanishingStore struct{ *outageStore }

func (vanishingStore) AppendSecret(ctx context.Context, userId, secret string) error {
	return oa.ErrUserNotFound
}

// stickySessionStore refuses to delete sessions
type stickySessionStore struct{ scs.Store }

func (stickySessionStore) Delete(token string) error {
	return errors.New("session backend unreachable")
}

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func TestSubmitForVanishedUser(t *testing.T) {
	env := newTestEnvWith(t, vanishingStore{newOutageStore(t)})
	c := env.newClient(t)
	env.postForm(t, c, "/register", credsForm("alice", "hunter2"))
	cookie := env.sessionCookie(c)
	require.NotNil(t, cookie)

	resp := env.postForm(t, c, "/submit", url.Values{"secret": {"gone"}})
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))

	// the session was destroyed, so replaying the cookie is anonymous
	req, err := http.NewRequest(http.MethodGet, env.Server.URL+"/submit", nil)
	require.NoError(t, err)
	req.AddCookie(cookie)
	resp, err = env.newClient(t).Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))
}

func TestSubmitForVanishedUserLogsDestroyFailure(t *testing.T) {
	logs := &syncBuffer{}
	env := newTestEnvWith(t, vanishingStore{newOutageStore(t)}, func(app *oa.App) {
		app.Logger = slog.New(slog.NewTextHandler(logs, nil))
		app.Sessions.Manager.Store = stickySessionStore{app.Sessions.Manager.Store}
	})

	c := env.newClient(t)
	env.postForm(t, c, "/register", credsForm("alice", "hunter2"))
	resp := env.postForm(t, c, "/submit", url.Values{"secret": {"gone"}})
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))
	assert.Contains(t, logs.String(), "error destroying session")
	assert.Contains(t, logs.String(), "session backend unreachable")
}
