package apiapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/gatewaylabs/bffgate/backend/internal/config"
	"github.com/gatewaylabs/bffgate/backend/internal/infra/httpclient"
	"github.com/gatewaylabs/bffgate/backend/internal/infra/provider"
	"github.com/gatewaylabs/bffgate/backend/internal/jobs/cleanup"
	"github.com/gatewaylabs/bffgate/backend/internal/proxy"
	pgrepo "github.com/gatewaylabs/bffgate/backend/internal/repo/postgres"
	redrepo "github.com/gatewaylabs/bffgate/backend/internal/repo/redis"
	authsvc "github.com/gatewaylabs/bffgate/backend/internal/services/auth"
	sessionsvc "github.com/gatewaylabs/bffgate/backend/internal/services/sessions"
	tokensvc "github.com/gatewaylabs/bffgate/backend/internal/services/tokens"
)

type App struct {
	cfg        config.Config
	logger     *zap.Logger
	server     *http.Server
	postgres   *pgxpool.Pool
	redis      *goredis.Client
	cleanupJob *cleanup.Job
	httpRouter http.Handler
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	upstreamURL, err := url.Parse(cfg.Proxy.UpstreamURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}

	pool, err := pgrepo.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres init: %w", err)
	}

	redisClient, err := redrepo.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("redis init: %w", err)
	}

	sessionStore := pgrepo.NewSessionRepo(pool)
	projectionRepo := redrepo.NewSessionCacheRepo(redisClient, cfg.Sessions.ProjectionCacheTTL)

	tokenCache := tokensvc.NewCache(cfg.Sessions.MaxAccessTokenCache, cfg.Sessions.RefreshThreshold)
	revocationTracker := tokensvc.NewTracker(cfg.Sessions.RevocationMarkerTTL)
	hasher := tokensvc.NewHasher(cfg.Sessions.HashSecret)

	sessionService := sessionsvc.New(sessionStore, projectionRepo, tokenCache, revocationTracker, log, sessionsvc.Config{
		IdleActivity:     cfg.Sessions.IdleActivity,
		RetentionHorizon: cfg.Sessions.RetentionHorizon,
	})

	providerClient := provider.NewClient(
		cfg.Provider.TokenURL,
		cfg.Provider.RevocationURL,
		cfg.Provider.ClientID,
		cfg.Provider.ClientSecret,
		httpclient.New(cfg.Provider.Timeout),
	)

	coordinator := tokensvc.NewCoordinator(providerClient, sessionService, tokenCache, hasher, log)
	// Revocations must reach the coordinator's vault, not just the token cache.
	sessionService.AttachTokenInvalidator(coordinator)
	cookieManager := authsvc.NewCookieManager(cfg.Cookie.Name, cfg.Cookie.Secret, cfg.Cookie.TTL, cfg.Cookie.Secure)
	injector := proxy.NewInjector(upstreamURL, revocationTracker, tokenCache, coordinator, sessionService, log)
	cleanupJob := cleanup.New(sessionService, revocationTracker, log, cfg.Sessions.CleanupInterval)

	r := chi.NewRouter()
	ApplyMiddlewares(r, log)
	RegisterRoutes(r, Dependencies{
		Coordinator:    coordinator,
		SessionService: sessionService,
		CookieManager:  cookieManager,
		Injector:       injector,
		Logger:         log,
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	return &App{
		cfg:        cfg,
		logger:     log,
		server:     server,
		postgres:   pool,
		redis:      redisClient,
		cleanupJob: cleanupJob,
		httpRouter: r,
	}, nil
}

func (a *App) Run() error {
	a.logger.Info("bff server started", zap.String("addr", a.cfg.HTTP.Addr))
	err := a.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// RunJobs blocks running the background maintenance loops until ctx ends.
func (a *App) RunJobs(ctx context.Context) {
	a.cleanupJob.Run(ctx)
}

func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error

	if err := a.server.Shutdown(ctx); err != nil {
		shutdownErr = err
	}
	if a.postgres != nil {
		a.postgres.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil && shutdownErr == nil {
			shutdownErr = err
		}
	}

	return shutdownErr
}

func (a *App) Handler() http.Handler {
	return a.httpRouter
}
