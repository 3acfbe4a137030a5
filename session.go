package secretly

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alexedwards/scs/v2"
)

// DefaultUserParamName is the session key holding the logged in user id
const DefaultUserParamName = "loggedInUserId"

// Sessions binds authenticated users to server-side sessions. Only the user id
// is kept in the session; the full User is reloaded from the store on restore.
type Sessions struct {
	Manager *scs.SessionManager
	Users   UserStore

	// Session key for the user id. Defaults to "loggedInUserId".
	UserParamName string

	// Bound on each user store round trip
	StoreTimeout time.Duration

	Logger *slog.Logger
}

// SessionOptions configures NewSessionManager
type SessionOptions struct {
	CookieName   string
	CookieDomain string
	Secure       bool
	IdleTimeout  time.Duration
	Lifetime     time.Duration

	// nil uses scs's in-memory store
	Store scs.Store
}

// NewSessionManager builds an scs manager with HttpOnly, SameSite=Lax cookies
func NewSessionManager(opts SessionOptions) *scs.SessionManager {
	sm := scs.New()
	if opts.CookieName != "" {
		sm.Cookie.Name = opts.CookieName
	}
	sm.Cookie.Domain = opts.CookieDomain
	sm.Cookie.HttpOnly = true
	sm.Cookie.Secure = opts.Secure
	sm.Cookie.SameSite = http.SameSiteLaxMode
	sm.Cookie.Path = "/"
	if opts.IdleTimeout > 0 {
		sm.IdleTimeout = opts.IdleTimeout
	}
	if opts.Lifetime > 0 {
		sm.Lifetime = opts.Lifetime
	}
	if opts.Store != nil {
		sm.Store = opts.Store
	}
	return sm
}

// LoadAndSave loads the session for each request and commits it on the way out
func (s *Sessions) LoadAndSave(next http.Handler) http.Handler {
	return s.Manager.LoadAndSave(next)
}

// Establish binds user to the session in ctx under a freshly generated token.
// Any token the client presented before is discarded.
func (s *Sessions) Establish(ctx context.Context, user *User) (string, error) {
	if user == nil || user.Id == "" {
		return "", fmt.Errorf("cannot establish a session without a user id")
	}
	err := withTimeout(ctx, s.StoreTimeout, "renew session token", func(tctx context.Context) error {
		if err := s.Manager.RenewToken(tctx); err != nil {
			return Unavailable("renew session token", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	s.Manager.Put(ctx, s.userParam(), user.Id)
	return s.Manager.Token(ctx), nil
}

// Restore returns the user bound to the session in ctx, or nil if the session
// is unauthenticated. A session pointing at a deleted user is treated as
// unauthenticated and the stale id is dropped.
func (s *Sessions) Restore(ctx context.Context) (*User, error) {
	userId := s.Manager.GetString(ctx, s.userParam())
	if userId == "" {
		return nil, nil
	}

	var user *User
	err := RetryOnce(ctx, DefaultRetryBackoff, func(ctx context.Context) error {
		return withTimeout(ctx, s.StoreTimeout, "restore user", func(tctx context.Context) (err error) {
			user, err = s.Users.GetUserById(tctx, userId)
			return err
		})
	})
	if errors.Is(err, ErrUserNotFound) {
		s.logger().Warn("dropping session", "err", ErrSessionIntegrity, "user_id", userId)
		s.Manager.Remove(ctx, s.userParam())
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// RestoreToken loads the session identified by token and restores its user.
// The returned context carries the loaded session.
func (s *Sessions) RestoreToken(ctx context.Context, token string) (*User, context.Context, error) {
	loaded, err := s.Manager.Load(ctx, token)
	if err != nil {
		return nil, ctx, Unavailable("load session", err)
	}
	user, err := s.Restore(loaded)
	return user, loaded, err
}

// Destroy removes the session in ctx from the store. Destroying a session
// that does not exist is not an error.
func (s *Sessions) Destroy(ctx context.Context) error {
	return withTimeout(ctx, s.StoreTimeout, "destroy session", func(tctx context.Context) error {
		if err := s.Manager.Destroy(tctx); err != nil {
			return Unavailable("destroy session", err)
		}
		return nil
	})
}

func (s *Sessions) userParam() string {
	if s.UserParamName == "" {
		return DefaultUserParamName
	}
	return s.UserParamName
}

func (s *Sessions) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
