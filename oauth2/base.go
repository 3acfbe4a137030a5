// Package oauth2 drives the OAuth2 authorization-code flow against Google and
// turns the resulting profile into a secretly.User.
package oauth2

import (
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/panyam/secretly"
)

// Scopes requested from the provider
var DefaultScopes = []string{"profile", "email"}

// Defaults for network and store bounds
const (
	DefaultExchangeTimeout = 10 * time.Second
	DefaultStoreTimeout    = 5 * time.Second
)

// BaseOAuth2 holds the client configuration shared by providers
type BaseOAuth2 struct {
	ClientId     string
	ClientSecret string
	CallbackURL  string

	// Sets the Secure flag on the state cookie
	SecureCookies bool

	// Bounds for the code exchange + profile fetch, and for the store call
	ExchangeTimeout time.Duration
	StoreTimeout    time.Duration

	// Optional client for provider calls (tests inject one)
	HTTPClient *http.Client

	Logger *slog.Logger

	oauthConfig oauth2.Config
	state       *stateSigner
}

// NewBaseOAuth2 configures a client for Google's endpoints. stateSecret signs
// the state parameter and must be kept private.
func NewBaseOAuth2(clientId, clientSecret, callbackUrl string, stateSecret []byte) *BaseOAuth2 {
	return &BaseOAuth2{
		ClientId:     clientId,
		ClientSecret: clientSecret,
		CallbackURL:  callbackUrl,
		oauthConfig: oauth2.Config{
			ClientID:     clientId,
			ClientSecret: clientSecret,
			RedirectURL:  callbackUrl,
			Scopes:       DefaultScopes,
			Endpoint:     google.Endpoint,
		},
		state: newStateSigner(stateSecret, DefaultStateTTL),
	}
}

// SetEndpoint points the client at a different authorization server
func (b *BaseOAuth2) SetEndpoint(endpoint oauth2.Endpoint) {
	b.oauthConfig.Endpoint = endpoint
}

// Scopes returns the scopes sent with the authorization request
func (b *BaseOAuth2) Scopes() []string {
	return b.oauthConfig.Scopes
}

func (b *BaseOAuth2) exchangeTimeout() time.Duration {
	if b.ExchangeTimeout <= 0 {
		return DefaultExchangeTimeout
	}
	return b.ExchangeTimeout
}

func (b *BaseOAuth2) storeTimeout() time.Duration {
	if b.StoreTimeout <= 0 {
		return DefaultStoreTimeout
	}
	return b.StoreTimeout
}

func (b *BaseOAuth2) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

var _ secretly.FederatedAuth = (*GoogleOAuth2)(nil)
