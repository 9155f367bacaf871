// Package app wires configuration, the store, services, middleware and
// handlers into a runnable server.
package app

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"keygate/internal/activation"
	"keygate/internal/auth"
	"keygate/internal/config"
	"keygate/internal/guard"
	"keygate/internal/heartbeat"
	"keygate/internal/infrastructure"
	"keygate/internal/middleware"
	"keygate/internal/stats"
	"keygate/internal/store"
	"keygate/internal/tenancy"
	httptransport "keygate/internal/transport/http"
)

// Version is stamped by the build; "dev" otherwise.
var Version = "dev"

// Application owns every long-lived component of the server.
type Application struct {
	Config *config.Config
	Logger *slog.Logger
	Router chi.Router
	Server *http.Server

	store         *store.Store
	guard         *guard.Guard
	otelProviders *infrastructure.OTelProviders

	activationService *activation.Service
	heartbeatService  *heartbeat.Service
	tenancyService    *tenancy.Service
	statsService      *stats.Service
	authService       *auth.Service
	tokenIssuer       *auth.TokenIssuer
}

// NewApplication builds a fully wired application from configuration.
func NewApplication(cfg *config.Config) (*Application, error) {
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	providers, err := infrastructure.InitializeOTel(logger)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry: %w", err)
	}

	st, err := store.Open(store.Config{
		Path:     cfg.Database.Path,
		PoolSize: cfg.Database.PoolSize,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	jwtSecret := cfg.Auth.JWTSecret
	if jwtSecret == "" {
		// An ephemeral secret keeps the server usable out of the box;
		// tokens just won't survive a restart.
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("generate ephemeral JWT secret: %w", err)
		}
		jwtSecret = base64.RawStdEncoding.EncodeToString(buf)
		logger.Warn("no JWT secret configured, using an ephemeral one")
	}

	g := guard.New(guard.NewMemoryStore(), guard.Config{
		MaxFailedAttempts: cfg.Guard.MaxFailedAttempts,
		BlockWindow:       cfg.Guard.BlockWindow,
		NonceTTL:          cfg.Guard.NonceTTL,
		TimestampDrift:    cfg.Guard.TimestampDrift,
	}, logger, guard.WithSecret([]byte(jwtSecret)))

	issuer := auth.NewTokenIssuer([]byte(jwtSecret), cfg.Auth.TokenTTL, nil)

	a := &Application{
		Config:        cfg,
		Logger:        logger,
		store:         st,
		guard:         g,
		otelProviders: providers,

		activationService: activation.NewService(st, g, logger, nil),
		heartbeatService:  heartbeat.NewService(st, logger, nil),
		tenancyService:    tenancy.NewService(st, logger, cfg.Auth.BcryptCost),
		statsService:      stats.NewService(st, logger, nil),
		authService:       auth.NewService(st, issuer, logger, cfg.Auth.BcryptCost),
		tokenIssuer:       issuer,
	}

	if err := a.ensureAdminAccount(context.Background()); err != nil {
		return nil, err
	}

	a.setupRouter()
	a.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      a.Router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return a, nil
}

// ensureAdminAccount creates the root admin on first start. An
// unconfigured password disables creation rather than minting a
// guessable default.
func (a *Application) ensureAdminAccount(ctx context.Context) error {
	_, err := a.store.UserByUsername(ctx, a.Config.Auth.AdminUser)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("look up admin account: %w", err)
	}

	if a.Config.Auth.AdminPass == "" {
		a.Logger.Warn("admin account absent and no admin password configured, skipping bootstrap")
		return nil
	}

	hash, err := auth.HashPassword(a.Config.Auth.AdminPass, a.Config.Auth.BcryptCost)
	if err != nil {
		return err
	}
	admin := &store.User{
		Username:     a.Config.Auth.AdminUser,
		PasswordHash: hash,
		Role:         store.RoleAdmin,
		IsActive:     true,
	}
	if err := a.store.CreateUser(ctx, admin); err != nil {
		return fmt.Errorf("bootstrap admin account: %w", err)
	}
	a.Logger.Info("admin account created", slog.String("username", admin.Username))
	return nil
}

func (a *Application) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.StructuredLogger(a.Logger))
	r.Use(middleware.Recoverer(a.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Timeout(a.Config.Server.RequestTimeout))
	r.Use(middleware.IPBlock(a.guard))
	if a.Config.Security.RateLimit.Enabled {
		perSecond := float64(a.Config.Security.RateLimit.PerMinute) / 60
		burst := a.Config.Security.RateLimit.PerSecond
		limiter := middleware.NewRateLimiter(perSecond, burst, a.guard, a.Logger)
		r.Use(limiter.Handler)
	}

	activationHandler := httptransport.NewActivationHandler(a.activationService, a.guard, a.Logger)
	heartbeatHandler := httptransport.NewHeartbeatHandler(a.heartbeatService, a.Logger)
	authHandler := httptransport.NewAuthHandler(a.authService, a.Logger)
	cardsHandler := httptransport.NewCardsHandler(a.activationService, a.statsService, a.store, a.Logger)
	appsHandler := httptransport.NewApplicationsHandler(a.store, a.Logger)
	agentsHandler := httptransport.NewAgentsHandler(a.tenancyService, a.Logger)
	dashboardHandler := httptransport.NewDashboardHandler(a.statsService, a.Logger)
	healthHandler := httptransport.NewHealthHandler(Version)

	r.Route("/api", func(r chi.Router) {
		// Public protocol surface.
		r.Mount("/health", healthHandler.Routes())
		r.Mount("/cards", activationHandler.Routes())
		r.Mount("/heartbeat", heartbeatHandler.Routes())
		r.Mount("/auth", authHandler.Routes())

		// Administrative surface behind bearer authentication.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(a.tokenIssuer))
			r.Post("/auth/password", authHandler.ChangePassword)
			r.Mount("/admin/cards", cardsHandler.Routes())
			r.Mount("/applications", appsHandler.Routes())
			r.Mount("/agents", agentsHandler.Routes())
			r.Mount("/dashboard", dashboardHandler.Routes())
		})
	})

	r.Handle("/metrics", a.otelProviders.PrometheusHTTP)

	a.Router = r
}

// Stop drains in-flight requests and releases resources.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "server shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := a.otelProviders.Shutdown(shutdownCtx); err != nil {
		a.Logger.ErrorContext(ctx, "telemetry shutdown failed", slog.String("error", err.Error()))
	}
	if err := a.store.Close(); err != nil {
		a.Logger.ErrorContext(ctx, "store close failed", slog.String("error", err.Error()))
	}

	a.Logger.InfoContext(ctx, "server shutdown complete")
	return nil
}

// Run serves until interrupted or until the listener fails, then shuts
// down gracefully.
func (a *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfoContext(ctx, "server starting",
			slog.String("address", a.Server.Addr),
			slog.String("version", Version),
		)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 35*time.Second)
		defer cancel()
		return a.Stop(stopCtx)
	})

	return g.Wait()
}
