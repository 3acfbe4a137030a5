package oauth2

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	googleoauth2 "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"github.com/panyam/secretly"
)

// GoogleOAuth2 is the federated login broker for Google accounts
type GoogleOAuth2 struct {
	*BaseOAuth2

	Users secretly.UserStore

	// Base URL of the userinfo API. Defaults to https://www.googleapis.com/.
	// Can be overridden for testing.
	UserInfoEndpoint string
}

func NewGoogleOAuth2(clientId, clientSecret, callbackUrl string, stateSecret []byte, users secretly.UserStore) *GoogleOAuth2 {
	return &GoogleOAuth2{
		BaseOAuth2: NewBaseOAuth2(clientId, clientSecret, callbackUrl, stateSecret),
		Users:      users,
	}
}

// AuthorizationURL returns the provider URL to send the user to, and sets the
// state cookie that the callback will check.
func (g *GoogleOAuth2) AuthorizationURL(w http.ResponseWriter) (string, error) {
	state, nonce, err := g.state.issue(time.Now())
	if err != nil {
		return "", err
	}
	setStateCookie(w, nonce, g.state.ttl, g.SecureCookies)
	return g.oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOnline), nil
}

// BeginAuthorization redirects to Google's consent screen
func (g *GoogleOAuth2) BeginAuthorization(w http.ResponseWriter, r *http.Request) {
	u, err := g.AuthorizationURL(w)
	if err != nil {
		g.logger().Error("could not start google login", "err", err)
		http.Error(w, "Could not start login", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, u, http.StatusFound)
}

// CompleteAuthorization handles the provider's redirect back to us: it checks
// state, exchanges the code, fetches the profile and finds or creates the
// user. Every failure wraps secretly.ErrAuthFailed. Nothing is retried.
func (g *GoogleOAuth2) CompleteAuthorization(ctx context.Context, r *http.Request) (*secretly.User, error) {
	if e := r.FormValue("error"); e != "" {
		return nil, fmt.Errorf("%w: provider returned %q", secretly.ErrAuthFailed, e)
	}

	var nonce string
	if c, err := r.Cookie(StateCookieName); err == nil {
		nonce = c.Value
	}
	if err := g.state.verify(r.FormValue("state"), nonce); err != nil {
		return nil, fmt.Errorf("%w: %w", secretly.ErrAuthFailed, err)
	}

	code := r.FormValue("code")
	if code == "" {
		return nil, fmt.Errorf("%w: missing code", secretly.ErrAuthFailed)
	}

	profile, err := g.exchangeAndFetch(ctx, code)
	if err != nil {
		g.logger().Info("google login failed", "err", err)
		return nil, fmt.Errorf("%w: %w", secretly.ErrAuthFailed, err)
	}

	sctx, cancel := context.WithTimeout(ctx, g.storeTimeout())
	defer cancel()
	user, created, err := g.Users.FindOrCreateByFederatedId(sctx, profile.Id, profile)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !secretly.IsRetryable(err) {
			err = secretly.Unavailable("find or create user", err)
		}
		return nil, fmt.Errorf("%w: %w", secretly.ErrAuthFailed, err)
	}
	if created {
		g.logger().Info("created federated user", "user_id", user.Id, "provider", "google")
	}
	return user, nil
}

// ClearState removes the state cookie once the callback is done with it
func (g *GoogleOAuth2) ClearState(w http.ResponseWriter) {
	clearStateCookie(w)
}

func (g *GoogleOAuth2) exchangeAndFetch(ctx context.Context, code string) (*secretly.Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, g.exchangeTimeout())
	defer cancel()
	if g.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, g.HTTPClient)
	}

	token, err := g.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("code exchange: %w", err)
	}
	return g.fetchProfile(ctx, token)
}

func (g *GoogleOAuth2) fetchProfile(ctx context.Context, token *oauth2.Token) (*secretly.Profile, error) {
	opts := []option.ClientOption{option.WithHTTPClient(g.oauthConfig.Client(ctx, token))}
	if g.UserInfoEndpoint != "" {
		opts = append(opts, option.WithEndpoint(g.UserInfoEndpoint))
	}
	svc, err := googleoauth2.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("userinfo client: %w", err)
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("userinfo: %w", err)
	}
	id := strings.TrimSpace(info.Id)
	if id == "" {
		return nil, errors.New("userinfo: profile has no id")
	}
	return &secretly.Profile{
		Id:      id,
		Email:   info.Email,
		Name:    info.Name,
		Picture: info.Picture,
	}, nil
}
