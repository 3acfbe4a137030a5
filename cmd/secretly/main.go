// Command secretly serves the secrets board: local and Google login,
// server-side sessions, and the anonymous secrets list.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/alexedwards/scs/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/panyam/secretly"
	"github.com/panyam/secretly/oauth2"
	"github.com/panyam/secretly/stores/fs"
	"github.com/panyam/secretly/stores/gae"
	gormstore "github.com/panyam/secretly/stores/gorm"
	"github.com/panyam/secretly/stores/redisstore"
)

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	lg, err := newLogger(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()
	logger := slogFor(lg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		lg.Fatal("server exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	users, closeUsers, err := openUserStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeUsers()

	sessionStore, closeSessions, err := openSessionStore(cfg)
	if err != nil {
		return err
	}
	defer closeSessions()

	sessions := &secretly.Sessions{
		Manager: secretly.NewSessionManager(secretly.SessionOptions{
			Secure:      cfg.CookieSecure,
			IdleTimeout: cfg.SessionIdleTimeout,
			Lifetime:    cfg.SessionLifetime,
			Store:       sessionStore,
		}),
		Users:        users,
		StoreTimeout: cfg.StoreTimeout,
		Logger:       logger,
	}
	sessions.Manager.ErrorFunc = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error("session store error", "err", err, "path", r.URL.Path)
		http.Error(w, "Service temporarily unavailable", http.StatusServiceUnavailable)
	}

	app := &secretly.App{
		Users:        users,
		Sessions:     sessions,
		StoreTimeout: cfg.StoreTimeout,
		Logger:       logger,
	}
	if cfg.GoogleEnabled() {
		google := oauth2.NewGoogleOAuth2(cfg.GoogleClientId, cfg.GoogleClientSecret, cfg.CallbackURL(), []byte(cfg.SessionSecret), users)
		google.SecureCookies = cfg.CookieSecure
		google.StoreTimeout = cfg.StoreTimeout
		google.Logger = logger
		app.Federated = google
	} else {
		logger.Warn("google login disabled, OAUTH2_GOOGLE_CLIENT_ID not set")
	}
	app.EnsureDefaults()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr, "store", cfg.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openUserStore(ctx context.Context, cfg *Config) (secretly.UserStore, func(), error) {
	switch cfg.Store {
	case "postgres":
		db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{TranslateError: true})
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := gormstore.AutoMigrate(db); err != nil {
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		closer := func() {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		}
		return gormstore.NewUserStore(db), closer, nil
	case "datastore":
		client, err := datastore.NewClient(ctx, cfg.DatastoreProject)
		if err != nil {
			return nil, nil, fmt.Errorf("open datastore: %w", err)
		}
		return gae.NewUserStore(client, cfg.DatastoreNamespace), func() { client.Close() }, nil
	default:
		return fs.NewFSUserStore(cfg.FSPath), func() {}, nil
	}
}

// openSessionStore returns nil (scs's in-memory store) when no Redis is configured
func openSessionStore(cfg *Config) (scs.Store, func(), error) {
	if cfg.RedisURL == "" {
		return nil, func() {}, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse SECRETLY_REDIS_URL: %w", err)
	}
	opts.ReadTimeout = cfg.StoreTimeout
	opts.WriteTimeout = cfg.StoreTimeout
	client := redis.NewClient(opts)
	return redisstore.New(client), func() { client.Close() }, nil
}
