package secretly

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// HandleUserFunc is called once a user has been authenticated by any method
type HandleUserFunc func(user *User, w http.ResponseWriter, r *http.Request)

// AuthErrorHandler handles a form failure. Returns true if it wrote a response.
type AuthErrorHandler func(err *AuthError, w http.ResponseWriter, r *http.Request) bool

// LocalAuth is the username/password credential verifier
type LocalAuth struct {
	Users UserStore

	// bcrypt cost, defaults to bcrypt.DefaultCost
	Cost int

	// Bound on each store round trip
	StoreTimeout time.Duration

	// Form field names
	UsernameField string
	PasswordField string

	// Called after a successful login or registration
	HandleUser HandleUserFunc

	// Called on failures. If nil, a JSON error is written.
	OnLoginError  AuthErrorHandler
	OnSignupError AuthErrorHandler

	Logger *slog.Logger

	dummyOnce sync.Once
	dummyHash []byte
}

// Register creates a local user. The password is stored only as a bcrypt hash.
func (a *LocalAuth) Register(ctx context.Context, username, password string) (*User, error) {
	creds := &Credentials{Username: username, Password: password}
	creds.Normalize()
	if authErr := ValidateRegistration(creds); authErr != nil {
		return nil, authErr
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), a.cost())
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now().UTC()
	user := &User{
		Id:        NewUserId(),
		Username:  creds.Username,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = withTimeout(ctx, a.StoreTimeout, "create user", func(ctx context.Context) error {
		return a.Users.CreateUser(ctx, user, hash)
	})
	if errors.Is(err, ErrConflict) {
		return nil, ErrUsernameTaken
	}
	if err != nil {
		return nil, err
	}
	a.logger().Info("registered local user", "user_id", user.Id)
	return user, nil
}

// Verify checks a username/password pair. Unknown usernames and wrong
// passwords both yield ErrInvalidCredentials.
func (a *LocalAuth) Verify(ctx context.Context, username, password string) (*User, error) {
	creds := &Credentials{Username: username, Password: password}
	creds.Normalize()
	if ValidateLogin(creds) != nil {
		return nil, ErrInvalidCredentials
	}

	var userId string
	var hash []byte
	err := RetryOnce(ctx, DefaultRetryBackoff, func(ctx context.Context) error {
		return withTimeout(ctx, a.StoreTimeout, "get password hash", func(ctx context.Context) (err error) {
			userId, hash, err = a.Users.GetPasswordHash(ctx, creds.Username)
			return err
		})
	})
	if errors.Is(err, ErrUserNotFound) {
		// same cost as a real comparison
		bcrypt.CompareHashAndPassword(a.dummy(), []byte(creds.Password))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(creds.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	var user *User
	err = withTimeout(ctx, a.StoreTimeout, "get user", func(ctx context.Context) (err error) {
		user, err = a.Users.GetUserById(ctx, userId)
		return err
	})
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	return user, err
}

// HandleLogin handles POST /login
func (a *LocalAuth) HandleLogin(w http.ResponseWriter, r *http.Request) {
	creds, err := a.parseForm(r)
	if err != nil {
		a.handleLoginError(NewAuthError(ErrCodeMissingField, err.Error(), "username"), w, r)
		return
	}
	if authErr := ValidateLogin(creds); authErr != nil {
		a.handleLoginError(authErr, w, r)
		return
	}

	user, err := a.Verify(r.Context(), creds.Username, creds.Password)
	if err != nil {
		if IsRetryable(err) {
			a.logger().Error("login failed on store", "err", err)
			a.handleLoginError(NewAuthError(ErrCodeStoreUnavailable, "Service temporarily unavailable", ""), w, r)
			return
		}
		if !errors.Is(err, ErrInvalidCredentials) {
			a.logger().Error("login failed", "err", err)
		}
		a.handleLoginError(NewAuthError(ErrCodeInvalidCreds, "Invalid username or password", "password"), w, r)
		return
	}
	a.HandleUser(user, w, r)
}

// HandleRegister handles POST /register
func (a *LocalAuth) HandleRegister(w http.ResponseWriter, r *http.Request) {
	creds, err := a.parseForm(r)
	if err != nil {
		a.handleSignupError(NewAuthError(ErrCodeMissingField, err.Error(), "username"), w, r)
		return
	}

	user, err := a.Register(r.Context(), creds.Username, creds.Password)
	if err != nil {
		var authErr *AuthError
		switch {
		case errors.As(err, &authErr):
		case errors.Is(err, ErrUsernameTaken):
			authErr = NewAuthError(ErrCodeUsernameTaken, "Username is already taken", "username")
		case IsRetryable(err):
			a.logger().Error("registration failed on store", "err", err)
			authErr = NewAuthError(ErrCodeStoreUnavailable, "Service temporarily unavailable", "")
		default:
			a.logger().Error("registration failed", "err", err)
			authErr = NewAuthError("create_failed", "Could not create account", "")
		}
		a.handleSignupError(authErr, w, r)
		return
	}
	a.HandleUser(user, w, r)
}

func (a *LocalAuth) parseForm(r *http.Request) (*Credentials, error) {
	creds := &Credentials{}
	usernameField := a.getUsernameField()
	passwordField := a.getPasswordField()

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var data map[string]any
		if err := json.NewDecoder(r.Body).Decode(&data); err != nil || data == nil {
			return nil, fmt.Errorf("invalid post body")
		}
		creds.Username, _ = data[usernameField].(string)
		creds.Password, _ = data[passwordField].(string)
	} else {
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("error parsing form")
		}
		creds.Username = r.FormValue(usernameField)
		creds.Password = r.FormValue(passwordField)
	}
	creds.Normalize()
	return creds, nil
}

func (a *LocalAuth) getUsernameField() string {
	if a.UsernameField != "" {
		return a.UsernameField
	}
	return "username"
}

func (a *LocalAuth) getPasswordField() string {
	if a.PasswordField != "" {
		return a.PasswordField
	}
	return "password"
}

func (a *LocalAuth) cost() int {
	if a.Cost == 0 {
		return bcrypt.DefaultCost
	}
	return a.Cost
}

func (a *LocalAuth) dummy() []byte {
	a.dummyOnce.Do(func() {
		a.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), a.cost())
	})
	return a.dummyHash
}

func (a *LocalAuth) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

func (a *LocalAuth) handleLoginError(err *AuthError, w http.ResponseWriter, r *http.Request) {
	if a.OnLoginError != nil && a.OnLoginError(err, w, r) {
		return
	}
	statusCode := http.StatusUnauthorized
	switch err.Code {
	case ErrCodeMissingField:
		statusCode = http.StatusBadRequest
	case ErrCodeStoreUnavailable:
		statusCode = http.StatusServiceUnavailable
	}
	writeJSONError(w, statusCode, err)
}

func (a *LocalAuth) handleSignupError(err *AuthError, w http.ResponseWriter, r *http.Request) {
	if a.OnSignupError != nil && a.OnSignupError(err, w, r) {
		return
	}
	statusCode := http.StatusBadRequest
	switch err.Code {
	case ErrCodeUsernameTaken:
		statusCode = http.StatusConflict
	case ErrCodeStoreUnavailable:
		statusCode = http.StatusServiceUnavailable
	}
	writeJSONError(w, statusCode, err)
}

func writeJSONError(w http.ResponseWriter, statusCode int, err *AuthError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(err)
}
