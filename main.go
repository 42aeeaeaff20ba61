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

	cfg "github.com/example/cookieauth/internal/config"
	"github.com/example/cookieauth/internal/credentials"
	"github.com/example/cookieauth/internal/logging"
	"github.com/example/cookieauth/internal/metrics"
	"github.com/example/cookieauth/internal/password"
	"github.com/example/cookieauth/internal/reset"
	"github.com/example/cookieauth/internal/resolver"
	"github.com/example/cookieauth/internal/token"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

type App struct {
	Store    *credentials.Store
	Tokens   *token.Service
	Resolver *resolver.Resolver
	Resets   *reset.Service
	Cookies  resolver.CookiePolicy
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry
	Log      *slog.Logger
}

func main() {
	if err := run(); err != nil {
		logging.LogError(slog.Default(), "cookieauth exited", err)
		os.Exit(1)
	}
}

func run() error {
	c, err := cfg.New()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger := logging.Setup("cookieauth", c.LogFormat, c.LogLevel, os.Stdout)
	slog.SetDefault(logger)

	ctx := context.Background()

	users, err := openCollection(ctx, c, logger)
	if err != nil {
		return err
	}
	defer users.Close()

	var ledger reset.Ledger = reset.NewMemoryLedger()
	if c.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping %s: %w", c.RedisAddr, err)
		}
		ledger = reset.NewRedisLedger(rdb, "")
		logger.Info("reset tokens tracked in redis", "addr", c.RedisAddr)
	}

	app, err := newApp(c, users, ledger, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:      newRouter(app),
		Addr:         ":" + c.Port,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", c.Port, "db_adapter", c.DBAdapter)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-quit:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	logger.Info("server exited properly")
	return nil
}

func openCollection(ctx context.Context, c *cfg.Config, logger *slog.Logger) (credentials.Collection, error) {
	switch c.DBAdapter {
	case "sqlite":
		s, err := credentials.OpenSQLite(c.SQLiteFile)
		if err != nil {
			return nil, fmt.Errorf("sqlite init: %w", err)
		}
		logger.Info("using sqlite database", "path", c.SQLiteFile)
		return s, nil
	case "postgres":
		p, err := credentials.OpenPostgres(ctx, c.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres init: %w", err)
		}
		logger.Info("connected to postgres database")
		return p, nil
	case "memory":
		logger.Warn("using in-memory database (not recommended for production)")
		return credentials.NewMemCollection(), nil
	default:
		return nil, fmt.Errorf("unsupported DB_ADAPTER: %s (supported: postgres, sqlite, memory)", c.DBAdapter)
	}
}

// newApp builds the services over users and ledger.
func newApp(c *cfg.Config, users credentials.Collection, ledger reset.Ledger, logger *slog.Logger) (*App, error) {
	hasher, err := password.NewBcrypt(c.SaltRounds)
	if err != nil {
		return nil, err
	}
	tokens, err := token.NewService(token.Config{
		AccessSecret:  []byte(c.AccessSecret),
		RefreshSecret: []byte(c.RefreshSecret),
		AccessTTL:     c.AccessTTL,
		RefreshTTL:    c.RefreshTTL,
		ResetTTL:      c.ResetTTL,
		Issuer:        c.Issuer,
	})
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	store := credentials.NewStore(users, hasher, logger)
	cookies := resolver.CookiePolicy{Secure: c.Production()}

	return &App{
		Store:    store,
		Tokens:   tokens,
		Resolver: resolver.New(tokens, store, cookies, resolver.WithObserver(m), resolver.WithLogger(logger)),
		Resets:   reset.NewService(tokens, store, ledger, reset.NewLogMailer(logger), c.PublicBaseURL, logger),
		Cookies:  cookies,
		Metrics:  m,
		Registry: reg,
		Log:      logger,
	}, nil
}

func newRouter(app *App) *mux.Router {
	r := mux.NewRouter()

	r.Use(SecurityHeaders)
	r.Use(app.Logging)

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	r.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := app.Store.Ping(r.Context()); err != nil {
			logging.LogError(app.Log, "readiness check failed", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ready": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	users := r.PathPrefix("/users").Subrouter()
	users.Use(app.Authenticate)
	users.HandleFunc("", app.HandleUsers).Methods(http.MethodGet)
	users.HandleFunc("", app.HandleClear).Methods(http.MethodDelete)
	users.HandleFunc("/register", app.HandleRegister).Methods(http.MethodPost)
	users.HandleFunc("/login", app.HandleLogin).Methods(http.MethodPost)
	users.HandleFunc("/logout", app.HandleLogout).Methods(http.MethodPost)
	users.HandleFunc("/introspect", app.HandleTokenIntrospect).Methods(http.MethodPost)
	users.HandleFunc("/validate", app.HandleTokenValidate).Methods(http.MethodGet)
	users.HandleFunc("/revoke", app.HandleRevokeToken).Methods(http.MethodPost)
	users.HandleFunc("/reset", app.HandleResetRequest).Methods(http.MethodPost)
	users.HandleFunc("/reset/{token}", app.HandleResetComplete).Methods(http.MethodPost)

	home := r.PathPrefix("/home").Subrouter()
	home.Use(app.Authenticate)
	home.HandleFunc("", app.HandleHome).Methods(http.MethodGet)
	home.HandleFunc("/protected", app.HandleProtected).Methods(http.MethodGet)
	home.HandleFunc("/newPassword/{token}", app.HandleNewPasswordPage).Methods(http.MethodGet)

	return r
}
