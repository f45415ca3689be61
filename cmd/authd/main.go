// Package main is the entry point for the auth service.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nd-se/auth-service/internal/auth"
	"github.com/nd-se/auth-service/internal/config"
	"github.com/nd-se/auth-service/internal/domain"
	autherrors "github.com/nd-se/auth-service/internal/errors"
	authhttp "github.com/nd-se/auth-service/internal/http"
	"github.com/nd-se/auth-service/internal/metrics"
	"github.com/nd-se/auth-service/internal/oidcclient"
	"github.com/nd-se/auth-service/internal/oidcprovider"
	"github.com/nd-se/auth-service/internal/store/file"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logger
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: parseLogLevel(cfg.LogLevel),
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: parseLogLevel(cfg.LogLevel),
		})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	if cfg.JWTSecretGenerated {
		logger.Warn("AUTH_JWT_SECRET not set, generated an ephemeral secret; tokens will not survive a restart")
	}
	if cfg.DevIdentityFallback {
		logger.Warn("dev identity fallback is enabled; never run this in production")
	}

	// Initialize file store
	st, err := file.NewStore(cfg.DataDir)
	if err != nil {
		logger.Error("failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	logger.Info("initialized file store", "data_dir", cfg.DataDir)

	users := st.Users()

	// Core services
	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	lockout := auth.NewLockoutService(cfg.LockoutMaxAttempts, cfg.LockoutDuration)
	sessions := auth.NewService(users, tokens,
		auth.WithLogger(logger),
		auth.WithLockout(lockout),
	)
	resolver := auth.NewResolver(users, tokens,
		auth.WithResolverLogger(logger),
		auth.WithDevFallback(cfg.DevIdentityFallback),
	)

	if err := bootstrapUsers(context.Background(), cfg, sessions, logger); err != nil {
		logger.Error("failed to bootstrap users", "error", err)
		os.Exit(1)
	}

	// OIDC federation client
	oidc := oidcclient.NewClient(
		oidcclient.Options{
			Enabled:      cfg.OIDCEnabled,
			ClientID:     cfg.OIDCClientID,
			ClientSecret: cfg.OIDCClientSecret,
			DiscoveryURL: cfg.OIDCDiscoveryURL,
			RedirectURI:  cfg.OIDCRedirectURI,
			Scopes:       cfg.ScopeList(),
		},
		oidcclient.NewFlowStore(),
		users,
		oidcclient.WithClientLogger(logger),
		oidcclient.WithClientDevFallback(cfg.DevIdentityFallback),
	)

	// HTTP server
	server := authhttp.NewServer(cfg.Addr(), authhttp.WithLogger(logger))
	router := server.Router()

	router.Use(authhttp.CORSMiddleware([]string{cfg.FrontendURL}))

	health := authhttp.NewHealthHandler(func(r *http.Request) error {
		_, err := users.Count(r.Context())
		return err
	})
	router.Get("/", authhttp.ServiceInfo)
	router.Get("/healthz", health.Healthz)
	router.Get("/readyz", health.Readyz)
	router.Handle("/metrics", metrics.Handler())

	authHandler := authhttp.NewAuthHandler(authhttp.AuthHandlerConfig{
		Sessions:       sessions,
		Resolver:       resolver,
		Users:          users,
		OIDC:           oidc,
		FrontendURL:    cfg.FrontendURL,
		LoginRateLimit: cfg.LoginRateLimit,
		Logger:         logger,
	})
	router.Mount("/api/auth", authHandler.Routes())

	if cfg.DummyOIDCEnabled {
		provider := oidcprovider.NewProvider(
			cfg.DummyOIDCSecret,
			oidcprovider.NewCodeStore(),
			oidcprovider.NewTokenStore(),
			oidcprovider.NewTokenStore(),
			oidcprovider.WithProviderLogger(logger),
		)
		router.Mount("/dummy-oidc", oidcprovider.NewHandler(provider, logger).Routes())
		logger.Warn("dummy OIDC provider enabled; development use only")
	}

	// Start server in goroutine
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("server started", "addr", cfg.Addr(), "oidc_enabled", cfg.OIDCEnabled)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// bootstrapUsers creates the configured initial accounts if absent.
func bootstrapUsers(ctx context.Context, cfg *config.Config, sessions *auth.Service, logger *slog.Logger) error {
	for _, bu := range cfg.ParseBootstrapUsers() {
		user, err := sessions.Register(ctx, bu.Username, bu.Email, bu.Password)
		if err != nil {
			if autherrors.IsCode(err, autherrors.CodeInvalidInput) {
				logger.Info("bootstrap user skipped", "username", bu.Username, "reason", autherrors.Detail(err))
				continue
			}
			return err
		}

		role := domain.Role(bu.Role)
		if role.Valid() && role != domain.RoleUser {
			if err := sessions.SetRole(ctx, user.ID, role); err != nil {
				return err
			}
		}
		logger.Info("bootstrap user created", "username", bu.Username, "role", bu.Role)
	}
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
