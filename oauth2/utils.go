package oauth2

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Name of the cookie holding the state nonce between redirect and callback
const StateCookieName = "oauthstate"

// How long a user has to complete the provider's consent screen
const DefaultStateTTL = 10 * time.Minute

const stateIssuer = "secretly-oauth-state"

type stateClaims struct {
	Nonce string `json:"nonce"`
	jwt.RegisteredClaims
}

// stateSigner issues and checks the OAuth2 state parameter. The state is an
// HS256 token carrying a random nonce; the same nonce goes into a cookie, so
// a callback must present both a valid signature and the matching cookie.
type stateSigner struct {
	secret []byte
	ttl    time.Duration
}

func newStateSigner(secret []byte, ttl time.Duration) *stateSigner {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &stateSigner{secret: secret, ttl: ttl}
}

func (s *stateSigner) issue(now time.Time) (state string, nonce string, err error) {
	if len(s.secret) == 0 {
		return "", "", errors.New("state secret not configured")
	}
	nonce, err = generateNonce()
	if err != nil {
		return "", "", err
	}
	claims := stateClaims{
		Nonce: nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    stateIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	state, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", "", fmt.Errorf("failed to sign state: %w", err)
	}
	return state, nonce, nil
}

func (s *stateSigner) verify(state, cookieNonce string) error {
	if state == "" {
		return errors.New("missing state")
	}
	if cookieNonce == "" {
		return errors.New("missing state cookie")
	}
	var claims stateClaims
	_, err := jwt.ParseWithClaims(state, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return fmt.Errorf("invalid state: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(claims.Nonce), []byte(cookieNonce)) != 1 {
		return errors.New("state does not match cookie")
	}
	return nil
}

func generateNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func setStateCookie(w http.ResponseWriter, nonce string, ttl time.Duration, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    nonce,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
	})
}
