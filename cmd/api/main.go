// Package main is the entrypoint for the folio API server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/folio-cms/folio/internal/audit"
	"github.com/folio-cms/folio/internal/auth"
	"github.com/folio-cms/folio/internal/cache"
	"github.com/folio-cms/folio/internal/config"
	"github.com/folio-cms/folio/internal/handler"
	"github.com/folio-cms/folio/internal/metrics"
	"github.com/folio-cms/folio/internal/middleware"
	"github.com/folio-cms/folio/internal/owner"
	"github.com/folio-cms/folio/internal/repository"
	"github.com/folio-cms/folio/internal/server"
	"github.com/folio-cms/folio/internal/service"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", "error", sanitizeError(err, cfg.DatabaseURL, cfg.RedisURL))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	repo, err := repository.New(ctx, cfg.DatabaseURL, repository.WithQueryTimeout(cfg.DBQueryTimeout))
	if err != nil {
		logger.Error(
			"failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		return err
	}
	defer repo.Close()
	logger.Info("connected to database")

	if cfg.MigrateOnStart {
		if err := repo.RunMigrations(ctx); err != nil {
			return err
		}
		logger.Info("database migrations applied")
	}

	cacheClient, err := cache.New(ctx, cfg.RedisURL,
		cache.WithPoolSize(cfg.RedisPoolSize),
		cache.WithTimeouts(cfg.RedisTimeout, cfg.RedisTimeout),
	)
	if err != nil {
		logger.Error(
			"failed to connect to Redis",
			slog.String("error", sanitizeError(err, cfg.RedisURL)),
			slog.String("redis_url", redactURL(cfg.RedisURL)),
		)
		return err
	}
	defer cacheClient.Close()
	logger.Info("connected to Redis")

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewPrometheus(registry)

	codec := auth.NewTokenCodec([]byte(cfg.JWTSecret), cfg.TokenLifetime)
	hasher := auth.NewPasswordHasher(cfg.BcryptCost)
	ownerCache := cache.NewOwnerCache(cacheClient, cfg.OwnerCacheTTL)

	var denylist *cache.TokenDenylist
	if cfg.TokenDenylistEnabled {
		denylist = cache.NewTokenDenylist(cacheClient)
	}

	resolver := owner.NewResolver(owner.Config{
		Codec:      codec,
		OwnerEmail: cfg.OwnerEmail,
		Users:      repo,
		Bindings:   repo,
		Cache:      ownerCache,
		Logger:     logger,
		Metrics:    recorder,
	})

	var publisher *audit.Publisher
	var worker *audit.Worker
	if cfg.AuditEnabled {
		publisher = audit.NewPublisher(cacheClient.Client(), logger, recorder)
		worker = audit.NewWorker(cacheClient.Client(), repository.NewLoginAttemptRepository(repo), logger, audit.NewConsumerID(), recorder)
	}

	authCfg := service.AuthConfig{
		Users:             repo,
		Codec:             codec,
		Hasher:            hasher,
		Metrics:           recorder,
		Logger:            logger,
		MinPasswordLength: cfg.MinPasswordLength,
	}
	if denylist != nil {
		authCfg.Revoker = denylist
	}
	if publisher != nil {
		authCfg.Attempts = publisher
	}
	authService := service.NewAuthService(authCfg)

	adminService := service.NewAdminService(service.AdminConfig{
		Store:    repo,
		Cache:    ownerCache,
		Attempts: repository.NewLoginAttemptRepository(repo),
		Logger:   logger,
	})

	trustedProxies, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return fmt.Errorf("trusted proxies: %w", err)
	}

	authMiddlewareCfg := middleware.AuthConfig{
		Logger:  logger,
		Codec:   codec,
		Metrics: recorder,
	}
	if denylist != nil {
		authMiddlewareCfg.Revocations = denylist
	}

	r := setupRouter(routerDeps{
		cfg:      cfg,
		logger:   logger,
		recorder: recorder,
		metrics:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		root:     handler.New(version, cfg.AppEnv),
		health:   handler.NewHealthHandler(repo, cacheClient, logger),
		auth:     handler.NewAuthHandler(authService, logger),
		admin:    handler.NewAdminHandler(adminService, logger),
		resolver: resolver,
		proxies:  trustedProxies,
		authCfg:  authMiddlewareCfg,
		adminCfg: middleware.AdminConfig{Logger: logger, Users: repo},
		rateLimitCfg: middleware.RateLimitConfig{
			Logger:    logger,
			Limiter:   cacheClient,
			Metrics:   recorder,
			Enabled:   cfg.LoginRateLimitEnabled,
			PerMinute: cfg.LoginRateLimitPerMinute,
			Burst:     cfg.LoginRateLimitBurst,
		},
	})

	srv := server.New(r, server.Options{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		IdleTimeout:     cfg.IdleTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)

	if worker != nil {
		workerCtx, cancelWorker := context.WithCancel(ctx)
		defer cancelWorker()
		go func() {
			if err := worker.Run(workerCtx); err != nil && workerCtx.Err() == nil {
				logger.Error("audit worker stopped", "error", err)
			}
		}()
		// Registered first so it stops last, after the publisher has flushed.
		srv.OnShutdown("audit-worker", worker.Shutdown)
		srv.OnShutdown("audit-publisher", publisher.Flush)
	}

	logger.Info("starting server",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
		"version", version,
		"owner_email_configured", cfg.OwnerEmail != "",
		"token_denylist", cfg.TokenDenylistEnabled,
		"audit", cfg.AuditEnabled,
	)

	return srv.Run(ctx)
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h).With("service", "folio")
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type routerDeps struct {
	cfg          *config.Config
	logger       *slog.Logger
	recorder     metrics.Recorder
	metrics      http.Handler
	root         *handler.Handler
	health       *handler.HealthHandler
	auth         *handler.AuthHandler
	admin        *handler.AdminHandler
	resolver     *owner.Resolver
	proxies      middleware.TrustedProxies
	authCfg      middleware.AuthConfig
	adminCfg     middleware.AdminConfig
	rateLimitCfg middleware.RateLimitConfig
}

// setupRouter configures the chi router with all routes and middleware.
func setupRouter(d routerDeps) *chi.Mux {
	r := chi.NewRouter()

	securityCfg := middleware.DefaultSecurityConfig()
	securityCfg.IsDevelopment = d.cfg.IsDevelopment()

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = d.cfg.GetCORSAllowedOrigins()
	if d.cfg.CORSAllowBoundOrigins {
		corsCfg.Bound = d.resolver
	}

	// Global middleware
	r.Use(middleware.RealIP(d.proxies))
	r.Use(middleware.RequestID)
	r.Use(middleware.LoggerWithMetrics(d.logger, d.recorder))
	r.Use(middleware.Recoverer(d.logger))
	r.Use(middleware.Security(securityCfg))
	r.Use(middleware.CORS(corsCfg))
	r.Use(middleware.MaxBodySize(d.cfg.MaxRequestBodySize))

	r.Get("/healthz", d.health.Healthz)
	r.Get("/readyz", d.health.Readyz)
	r.Get("/", d.root.Hello)
	if d.metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.metrics)
	}

	r.Route("/api/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitLogin(d.rateLimitCfg))
			r.Post("/register", d.auth.Register)
			r.Post("/login", d.auth.Login)
		})

		r.Method(http.MethodGet, "/me", middleware.RequireIdentity(d.authCfg, d.auth.Me))
		r.Method(http.MethodPut, "/password", middleware.RequireIdentity(d.authCfg, d.auth.ChangePassword))
		r.Method(http.MethodPost, "/logout", middleware.RequireIdentity(d.authCfg, d.auth.Logout))
	})

	r.Route("/api/public", func(r chi.Router) {
		r.Use(owner.Middleware(d.resolver, d.logger))
		r.Get("/owner", handler.PublicOwner)
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(middleware.Auth(d.authCfg))
		r.Use(middleware.RequireAdmin(d.adminCfg))

		r.Method(http.MethodGet, "/domains", middleware.WithIdentity(d.admin.ListDomains))
		r.Method(http.MethodPost, "/domains", middleware.WithIdentity(d.admin.CreateDomain))
		r.Method(http.MethodDelete, "/domains/{bindingID}", middleware.WithIdentityParams(d.admin.DeleteDomain))
		r.Method(http.MethodDelete, "/users/{userID}", middleware.WithIdentityParams(d.admin.DeleteUser))
		r.Method(http.MethodGet, "/login-attempts", middleware.WithIdentity(d.admin.LoginAttempts))
	})

	r.NotFound(d.root.NotFound)
	r.MethodNotAllowed(d.root.MethodNotAllowed)

	return r
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s&]+`)

// redactURL drops the password from a connection URL.
func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		if username := parsed.User.Username(); username != "" {
			parsed.User = url.User(username)
		} else {
			parsed.User = url.User("redacted")
		}
	}

	return parsed.String()
}

// sanitizeError replaces connection secrets that drivers echo in errors.
func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
