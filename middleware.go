package secretly

import (
	"context"
	"log/slog"
	"net/http"
)

type userContextKey struct{}

// Decision is the outcome of an access check
type Decision struct {
	Allowed    bool
	RedirectTo string
}

// Gate restricts handlers to authenticated users. There are no roles: a
// request is either authenticated or it is not.
type Gate struct {
	Sessions *Sessions

	// Where denied requests are sent. Defaults to "/login".
	LoginURL string

	// Called when restoring the session fails on the store. Defaults to a 503.
	OnStoreError func(err error, w http.ResponseWriter, r *http.Request)

	// Requests for which ExtractUser does not touch the user store
	SkipRestore func(r *http.Request) bool

	Logger *slog.Logger
}

// Authorize allows a request iff a user was restored for it
func (g *Gate) Authorize(user *User) Decision {
	if user != nil && user.Id != "" {
		return Decision{Allowed: true}
	}
	return Decision{RedirectTo: g.loginURL()}
}

// ExtractUser restores the session's user, if any, into the request context.
// It never redirects; use EnsureUser for that.
func (g *Gate) ExtractUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.SkipRestore != nil && g.SkipRestore(r) {
			next.ServeHTTP(w, r)
			return
		}
		user, err := g.Sessions.Restore(r.Context())
		if err != nil {
			g.logger().Error("error restoring session", "err", err)
			if g.OnStoreError != nil {
				g.OnStoreError(err, w, r)
			} else {
				http.Error(w, "Service temporarily unavailable", http.StatusServiceUnavailable)
			}
			return
		}
		next.ServeHTTP(w, WithUser(r, user))
	})
}

// EnsureUser runs next only for authenticated requests. Everyone else is
// redirected to the login page. Must run inside ExtractUser.
func (g *Gate) EnsureUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision := g.Authorize(UserFromContext(r.Context()))
		if !decision.Allowed {
			http.Redirect(w, r, decision.RedirectTo, http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WithUser returns r with user attached to its context
func WithUser(r *http.Request, user *User) *http.Request {
	if user == nil {
		return r
	}
	return r.WithContext(context.WithValue(r.Context(), userContextKey{}, user))
}

// UserFromContext returns the user restored for the current request, or nil
func UserFromContext(ctx context.Context) *User {
	user, _ := ctx.Value(userContextKey{}).(*User)
	return user
}

func (g *Gate) loginURL() string {
	if g.LoginURL == "" {
		return "/login"
	}
	return g.LoginURL
}

func (g *Gate) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}
