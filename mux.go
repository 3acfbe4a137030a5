package secretly

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Longest secret accepted from the submit form
const MaxSecretLength = 1000

// FederatedAuth is a third-party login provider driving the OAuth2
// authorization-code flow.
type FederatedAuth interface {
	// BeginAuthorization redirects the client to the provider
	BeginAuthorization(w http.ResponseWriter, r *http.Request)

	// CompleteAuthorization handles the provider callback and returns the
	// local user for the federated identity. Failures wrap ErrAuthFailed.
	CompleteAuthorization(ctx context.Context, r *http.Request) (*User, error)

	// ClearState drops any per-login state kept on the client
	ClearState(w http.ResponseWriter)
}

// App wires the authentication components to the HTTP routes
type App struct {
	Users     UserStore
	Sessions  *Sessions
	Gate      *Gate
	Local     *LocalAuth
	Federated FederatedAuth

	// Redirect targets
	LoginURL   string
	SuccessURL string
	LogoutURL  string

	// Path prefix of the federated login routes. Defaults to "/auth/google".
	FederatedPrefix string

	// Backoff before the single retry of a read that hit ErrStoreUnavailable
	RetryBackoff time.Duration
	StoreTimeout time.Duration

	Logger *slog.Logger

	router    *mux.Router
	templates *template.Template
}

type pageData struct {
	User     *User
	Username string
	Error    string
	Secrets  []string
}

// New creates an App over the given store and session manager. Federated
// login is enabled by setting Federated before calling Handler.
func New(users UserStore, sessions *Sessions) *App {
	return (&App{Users: users, Sessions: sessions}).EnsureDefaults()
}

func (a *App) EnsureDefaults() *App {
	if a.LoginURL == "" {
		a.LoginURL = "/login"
	}
	if a.SuccessURL == "" {
		a.SuccessURL = "/secrets"
	}
	if a.LogoutURL == "" {
		a.LogoutURL = "/"
	}
	if a.FederatedPrefix == "" {
		a.FederatedPrefix = "/auth/google"
	}
	if a.RetryBackoff <= 0 {
		a.RetryBackoff = DefaultRetryBackoff
	}
	if a.StoreTimeout <= 0 {
		a.StoreTimeout = DefaultStoreTimeout
	}
	if a.Logger == nil {
		a.Logger = slog.Default()
	}
	if a.Sessions != nil {
		if a.Sessions.Users == nil {
			a.Sessions.Users = a.Users
		}
		if a.Sessions.Logger == nil {
			a.Sessions.Logger = a.Logger
		}
	}
	if a.Gate == nil {
		a.Gate = &Gate{Sessions: a.Sessions, LoginURL: a.LoginURL, Logger: a.Logger}
	}
	if a.Gate.SkipRestore == nil {
		// logout never needs the user, and must work while the user store is down
		a.Gate.SkipRestore = func(r *http.Request) bool {
			return r.URL.Path == "/logout"
		}
	}
	if a.Gate.OnStoreError == nil {
		a.Gate.OnStoreError = func(err error, w http.ResponseWriter, r *http.Request) {
			a.renderError(w, r)
		}
	}
	if a.Local == nil {
		a.Local = &LocalAuth{Users: a.Users, StoreTimeout: a.StoreTimeout, Logger: a.Logger}
	}
	if a.Local.HandleUser == nil {
		a.Local.HandleUser = a.establishAndRedirect
	}
	if a.Local.OnLoginError == nil {
		a.Local.OnLoginError = a.formErrorRenderer("login.html")
	}
	if a.Local.OnSignupError == nil {
		a.Local.OnSignupError = a.formErrorRenderer("register.html")
	}
	if a.templates == nil {
		a.templates = template.Must(template.ParseFS(templatesFS, "templates/*.html"))
	}
	return a
}

// Handler returns the full middleware chain: session load/save, identity
// restore, then routing.
func (a *App) Handler() http.Handler {
	return a.Sessions.LoadAndSave(a.Gate.ExtractUser(a.setupRoutes().router))
}

func (a *App) setupRoutes() *App {
	if a.router != nil {
		return a
	}
	a.EnsureDefaults()
	r := mux.NewRouter()
	r.HandleFunc("/", a.page("home.html")).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	r.HandleFunc("/login", a.page("login.html")).Methods(http.MethodGet)
	r.HandleFunc("/login", a.Local.HandleLogin).Methods(http.MethodPost)
	r.HandleFunc("/register", a.page("register.html")).Methods(http.MethodGet)
	r.HandleFunc("/register", a.Local.HandleRegister).Methods(http.MethodPost)
	r.HandleFunc("/logout", a.onLogout).Methods(http.MethodGet)

	if a.Federated != nil {
		prefix := strings.TrimSuffix(a.FederatedPrefix, "/")
		r.HandleFunc(prefix, a.Federated.BeginAuthorization).Methods(http.MethodGet)
		r.HandleFunc(prefix+"/callback", a.onFederatedCallback).Methods(http.MethodGet)
	}

	r.HandleFunc("/secrets", a.onListSecrets).Methods(http.MethodGet)
	r.Handle("/submit", a.Gate.EnsureUser(a.page("submit.html"))).Methods(http.MethodGet)
	r.Handle("/submit", a.Gate.EnsureUser(http.HandlerFunc(a.onSubmitSecret))).Methods(http.MethodPost)

	a.router = r
	return a
}

// establishAndRedirect starts a session for a freshly authenticated user
func (a *App) establishAndRedirect(user *User, w http.ResponseWriter, r *http.Request) {
	if _, err := a.Sessions.Establish(r.Context(), user); err != nil {
		a.Logger.Error("could not establish session", "err", err, "user_id", user.Id)
		a.renderError(w, r)
		return
	}
	http.Redirect(w, r, a.SuccessURL, http.StatusFound)
}

func (a *App) onFederatedCallback(w http.ResponseWriter, r *http.Request) {
	a.Federated.ClearState(w)
	user, err := a.Federated.CompleteAuthorization(r.Context(), r)
	if err != nil {
		// an outage is not a login outcome, so it gets the error page
		if IsRetryable(err) {
			a.Logger.Error("federated login failed on store", "err", err)
			a.renderError(w, r)
			return
		}
		a.Logger.Info("federated login failed", "err", err)
		http.Redirect(w, r, a.LoginURL, http.StatusFound)
		return
	}
	a.establishAndRedirect(user, w, r)
}

func (a *App) onLogout(w http.ResponseWriter, r *http.Request) {
	if err := a.Sessions.Destroy(r.Context()); err != nil {
		a.Logger.Warn("error destroying session", "err", err)
	}
	http.Redirect(w, r, a.LogoutURL, http.StatusFound)
}

func (a *App) onListSecrets(w http.ResponseWriter, r *http.Request) {
	var secrets []string
	err := RetryOnce(r.Context(), a.RetryBackoff, func(ctx context.Context) error {
		return withTimeout(ctx, a.StoreTimeout, "list secrets", func(ctx context.Context) (err error) {
			secrets, err = a.Users.ListSecrets(ctx)
			return err
		})
	})
	if err != nil {
		a.Logger.Error("could not list secrets", "err", err)
		a.renderError(w, r)
		return
	}
	a.render(w, r, http.StatusOK, "secrets.html", &pageData{Secrets: secrets})
}

// onSubmitSecret appends to the current user's secrets. Appends are not
// retried: a timed out append may already have been applied.
func (a *App) onSubmitSecret(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	secret := strings.TrimSpace(r.FormValue("secret"))
	if secret == "" || len(secret) > MaxSecretLength {
		a.render(w, r, http.StatusBadRequest, "submit.html", &pageData{Error: "Secret must be between 1 and 1000 characters"})
		return
	}

	err := withTimeout(r.Context(), a.StoreTimeout, "append secret", func(ctx context.Context) error {
		return a.Users.AppendSecret(ctx, user.Id, secret)
	})
	if errors.Is(err, ErrUserNotFound) {
		a.Logger.Warn("user vanished during submit", "err", ErrSessionIntegrity, "user_id", user.Id)
		if err := a.Sessions.Destroy(r.Context()); err != nil {
			a.Logger.Warn("error destroying session", "err", err)
		}
		http.Redirect(w, r, a.LoginURL, http.StatusFound)
		return
	}
	if err != nil {
		a.Logger.Error("could not save secret", "err", err, "user_id", user.Id)
		a.renderError(w, r)
		return
	}
	http.Redirect(w, r, a.SuccessURL, http.StatusFound)
}

func (a *App) page(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a.render(w, r, http.StatusOK, name, &pageData{})
	}
}

func (a *App) formErrorRenderer(name string) AuthErrorHandler {
	return func(authErr *AuthError, w http.ResponseWriter, r *http.Request) bool {
		status := http.StatusBadRequest
		switch authErr.Code {
		case ErrCodeInvalidCreds:
			status = http.StatusUnauthorized
		case ErrCodeUsernameTaken:
			status = http.StatusConflict
		case ErrCodeStoreUnavailable:
			status = http.StatusServiceUnavailable
		}
		a.render(w, r, status, name, &pageData{
			Error:    authErr.Message,
			Username: strings.TrimSpace(r.FormValue("username")),
		})
		return true
	}
}

func (a *App) renderError(w http.ResponseWriter, r *http.Request) {
	a.render(w, r, http.StatusServiceUnavailable, "error.html", &pageData{})
}

func (a *App) render(w http.ResponseWriter, r *http.Request, status int, name string, data *pageData) {
	if data.User == nil {
		data.User = UserFromContext(r.Context())
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := a.templates.ExecuteTemplate(w, name, data); err != nil {
		a.Logger.Error("error rendering template", "template", name, "err", err)
	}
}
