package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/neogan74/rentguard/internal/audit"
	"github.com/neogan74/rentguard/internal/config"
	"github.com/neogan74/rentguard/internal/handlers"
	"github.com/neogan74/rentguard/internal/identity"
	"github.com/neogan74/rentguard/internal/logger"
	"github.com/neogan74/rentguard/internal/metrics"
	"github.com/neogan74/rentguard/internal/middleware"
	"github.com/neogan74/rentguard/internal/persistence"
	"github.com/neogan74/rentguard/internal/ratelimit"
	"github.com/neogan74/rentguard/internal/rental"
	"github.com/neogan74/rentguard/internal/telemetry"
	"github.com/neogan74/rentguard/internal/token"
)

const shutdownTimeout = 5 * time.Second

// Builder wires RentGuard application dependencies.
type Builder struct {
	cfg     *config.Config
	version string
	logger  logger.Logger

	fiberApp       *fiber.App
	tracerProvider *telemetry.TracerProvider

	codec    *token.Codec
	users    *identity.Users
	resolver *identity.Resolver

	limiter      ratelimit.Limiter
	rateLimitSvc *ratelimit.Service
	redisClient  *redis.Client

	auditManager *audit.Manager
	interceptor  *audit.Interceptor
	cars         *rental.Service

	checks  []handlers.Check
	closers []func()
}

// NewBuilder creates a new application builder.
func NewBuilder(cfg *config.Config, version string) *Builder {
	return &Builder{cfg: cfg, version: version}
}

// WithLogger replaces the logger built from configuration.
func (b *Builder) WithLogger(log logger.Logger) *Builder {
	b.logger = log
	return b
}

// Build assembles the application components. Any error here means the
// process must not start.
func (b *Builder) Build(ctx context.Context) (*App, error) {
	b.initLogger()
	b.recordStartupMetrics()
	b.initFiber()

	steps := []func(context.Context) error{
		b.initTracing,
		b.initIdentity,
		b.initRateLimit,
		b.initAudit,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			b.cleanupOnError()
			return nil, err
		}
	}

	b.initMiddleware()
	b.initHandlers()

	return &App{
		cfg:            b.cfg,
		logger:         b.logger,
		fiberApp:       b.fiberApp,
		tracerProvider: b.tracerProvider,
		auditManager:   b.auditManager,
		closers:        b.closers,
	}, nil
}

func (b *Builder) initLogger() {
	if b.logger == nil {
		b.logger = logger.NewFromConfig(b.cfg.Log.Level, b.cfg.Log.Format)
	}
	logger.SetDefault(b.logger)
}

func (b *Builder) recordStartupMetrics() {
	metrics.BuildInfo.WithLabelValues(b.version, runtime.Version()).Set(1)

	b.logger.Info("Starting RentGuard",
		logger.String("version", b.version),
		logger.String("address", b.cfg.Address()),
		logger.String("log_level", b.cfg.Log.Level),
		logger.String("log_format", b.cfg.Log.Format),
		logger.Bool("rate_limit_enabled", b.cfg.RateLimit.Enabled),
		logger.String("rate_limit_backend", b.cfg.RateLimit.Backend),
		logger.Bool("audit_enabled", b.cfg.Audit.Enabled),
		logger.String("audit_sink", b.cfg.Audit.Sink),
	)
}

func (b *Builder) initFiber() {
	b.fiberApp = fiber.New(fiber.Config{
		AppName:               "rentguard",
		DisableStartupMessage: true,
		// Audit records and rate-limit keys outlive the request.
		Immutable: true,
	})
}

func (b *Builder) initTracing(ctx context.Context) error {
	provider, err := telemetry.InitTracing(ctx, b.cfg.Tracing)
	if err != nil {
		b.logger.Error("Failed to initialize tracing", logger.Error(err))
		return nil
	}

	if provider.Exporting() {
		b.logger.Info("OpenTelemetry tracing initialized",
			logger.String("endpoint", b.cfg.Tracing.Endpoint),
			logger.String("service_name", b.cfg.Tracing.ServiceName),
		)
	}

	b.addCloser(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			b.logger.Error("Failed to shutdown tracer provider", logger.Error(err))
		}
	})

	b.tracerProvider = provider
	return nil
}

func (b *Builder) initIdentity(context.Context) error {
	codec, err := token.NewCodec(b.cfg.Token.Secret, b.cfg.Token.Validity, b.cfg.Token.Issuer)
	if err != nil {
		return fmt.Errorf("failed to initialize token codec: %w", err)
	}

	users, err := identity.ParseUsers(b.cfg.Token.Users)
	if err != nil {
		return fmt.Errorf("failed to parse users: %w", err)
	}
	if users.Len() == 0 {
		b.logger.Warn("No users configured, every login will be rejected")
	}

	b.codec = codec
	b.users = users
	b.resolver = identity.NewResolver(codec, users, b.cfg.Token.ExemptPrefixes, b.logger)

	b.logger.Info("Identity resolution configured",
		logger.Duration("token_validity", b.cfg.Token.Validity),
		logger.Int("users", users.Len()),
	)
	return nil
}

func (b *Builder) policies() (auth, general ratelimit.Policy) {
	auth = ratelimit.Policy{Capacity: b.cfg.RateLimit.AuthCapacity, RefillPerSecond: b.cfg.RateLimit.AuthRefillPerSec}
	general = ratelimit.Policy{Capacity: b.cfg.RateLimit.GeneralCapacity, RefillPerSecond: b.cfg.RateLimit.GeneralRefillPerSec}
	return auth, general
}

func (b *Builder) initRateLimit(ctx context.Context) error {
	if !b.cfg.RateLimit.Enabled {
		return nil
	}
	auth, general := b.policies()

	if b.cfg.RateLimit.Backend == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     b.cfg.Redis.Addr,
			Password: b.cfg.Redis.Password,
			DB:       b.cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return fmt.Errorf("failed to reach redis at %s: %w", b.cfg.Redis.Addr, err)
		}

		limiter, err := ratelimit.NewRedisLimiter(client, map[ratelimit.Class]ratelimit.Policy{
			ratelimit.ClassAuth:    auth,
			ratelimit.ClassGeneral: general,
		}, b.cfg.Redis.Prefix)
		if err != nil {
			client.Close()
			return fmt.Errorf("failed to initialize redis rate limiter: %w", err)
		}

		b.redisClient = client
		b.limiter = limiter
		b.checks = append(b.checks, handlers.Check{
			Name:  "redis",
			Probe: func(ctx context.Context) error { return client.Ping(ctx).Err() },
		})
		b.addCloser(func() {
			if err := client.Close(); err != nil {
				b.logger.Error("Failed to close redis client", logger.Error(err))
			}
		})
	} else {
		svc, err := ratelimit.NewService(ratelimit.Config{
			Enabled:       true,
			Auth:          auth,
			General:       general,
			AuthPrefixes:  b.cfg.RateLimit.AuthPrefixes,
			IdleTTL:       b.cfg.RateLimit.IdleTTL,
			SweepInterval: b.cfg.RateLimit.SweepInterval,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize rate limiter: %w", err)
		}
		b.rateLimitSvc = svc
		b.limiter = svc
		b.addCloser(svc.Close)
	}

	b.logger.Info("Rate limiting enabled",
		logger.String("backend", b.cfg.RateLimit.Backend),
		logger.Int("auth_capacity", auth.Capacity),
		logger.Float64("auth_refill_per_sec", auth.RefillPerSecond),
		logger.Int("general_capacity", general.Capacity),
		logger.Float64("general_refill_per_sec", general.RefillPerSecond),
	)
	return nil
}

func (b *Builder) initAudit(ctx context.Context) error {
	cfg := audit.Config{
		Enabled:       b.cfg.Audit.Enabled,
		Sink:          b.cfg.Audit.Sink,
		FilePath:      b.cfg.Audit.FilePath,
		DataDir:       b.cfg.Audit.DataDir,
		PostgresDSN:   b.cfg.Audit.PostgresDSN,
		BufferSize:    b.cfg.Audit.BufferSize,
		FlushInterval: b.cfg.Audit.FlushInterval,
		DropPolicy:    audit.DropPolicy(b.cfg.Audit.DropPolicy),
		BlockTimeout:  b.cfg.Audit.BlockTimeout,
	}

	var writer audit.Writer
	if cfg.Enabled {
		w, err := persistence.NewAuditWriter(ctx, cfg, b.logger)
		if err != nil {
			return fmt.Errorf("failed to initialize audit sink: %w", err)
		}
		writer = w
		if pinger, ok := w.(interface{ Ping(context.Context) error }); ok {
			b.checks = append(b.checks, handlers.Check{Name: "audit_store", Probe: pinger.Ping})
		}
	}

	manager, err := audit.NewManager(cfg, writer, b.logger)
	if err != nil {
		if writer != nil {
			_ = writer.Close(ctx)
		}
		return fmt.Errorf("failed to initialize audit manager: %w", err)
	}

	b.auditManager = manager
	if manager.Enabled() {
		b.interceptor = audit.NewInterceptor(manager, b.logger)
	} else {
		b.interceptor = audit.NewInterceptor(nil, b.logger)
	}
	b.cars = rental.NewService(rental.NewCatalog(), b.interceptor)
	return nil
}

func (b *Builder) initMiddleware() {
	b.fiberApp.Use(middleware.RequestLogging(b.logger))
	b.fiberApp.Use(middleware.MetricsMiddleware())

	if b.tracerProvider.Exporting() {
		b.fiberApp.Use(middleware.TracingMiddleware(b.cfg.Tracing.ServiceName))
	}

	if b.limiter != nil {
		b.fiberApp.Use(middleware.RateLimit(middleware.RateLimitConfig{
			Limiter:      b.limiter,
			Classifier:   ratelimit.NewClassifier(b.cfg.RateLimit.AuthPrefixes),
			Backend:      b.cfg.RateLimit.Backend,
			SkipPrefixes: []string{"/metrics", "/health"},
		}))
	}

	b.fiberApp.Use(middleware.Identity(middleware.IdentityConfig{Resolver: b.resolver}))
	b.fiberApp.Use(middleware.AuditRequestContext())
}

func (b *Builder) initHandlers() {
	authHandler := handlers.NewAuthHandler(b.codec, b.users)
	carHandler := handlers.NewCarHandler(b.cars)
	auditHandler := handlers.NewAuditHandler(b.auditManager)
	healthHandler := handlers.NewHealthHandler(b.version, b.checks...)
	docsHandler := handlers.NewDocsHandler(b.version)
	admin := middleware.RequireAuthority("ROLE_ADMIN")

	b.fiberApp.Post("/api/auth/login", authHandler.Login)
	b.fiberApp.Get("/api/me", authHandler.Me)

	b.fiberApp.Get("/api/cars", carHandler.List)
	b.fiberApp.Get("/api/cars/:id", carHandler.Get)
	b.fiberApp.Post("/api/cars", admin, carHandler.Create)
	b.fiberApp.Put("/api/cars/:id/price", admin, carHandler.UpdatePrice)
	b.fiberApp.Delete("/api/cars/:id", admin, carHandler.Delete)

	b.fiberApp.Get("/api/audit", admin, auditHandler.Query)

	if b.rateLimitSvc != nil {
		rl := handlers.NewRateLimitHandler(b.rateLimitSvc, b.logger)
		group := b.fiberApp.Group("/api/admin/ratelimit", admin)
		group.Get("/stats", rl.GetStats)
		group.Get("/config", rl.GetConfig)
		group.Get("/clients", rl.GetActiveClients)
		group.Get("/client/:identifier", rl.GetClientStatus)
		group.Post("/reset/:class/:identifier", rl.ResetClient)
		group.Post("/reset", rl.ResetAll)
	}

	b.fiberApp.Get("/health", healthHandler.Check)
	b.fiberApp.Get("/health/live", healthHandler.Liveness)
	b.fiberApp.Get("/health/ready", healthHandler.Readiness)

	b.fiberApp.Get("/api/docs", docsHandler.Index)
	b.fiberApp.Get("/api/test/ping", docsHandler.Ping)

	b.fiberApp.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}

func (b *Builder) addCloser(closer func()) {
	b.closers = append(b.closers, closer)
}

func (b *Builder) cleanupOnError() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// App represents a configured RentGuard application ready to run.
type App struct {
	cfg            *config.Config
	logger         logger.Logger
	fiberApp       *fiber.App
	tracerProvider *telemetry.TracerProvider
	auditManager   *audit.Manager
	closers        []func()
	closeOnce      sync.Once
}

// Fiber exposes the HTTP application, mainly for tests.
func (a *App) Fiber() *fiber.App {
	return a.fiberApp
}

// Run starts the server and handles graceful shutdown.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)

	go func() {
		if a.cfg.Server.TLS.Enabled {
			a.logger.Info("Server starting with TLS",
				logger.String("address", a.cfg.Address()),
				logger.String("cert", a.cfg.Server.TLS.CertFile))
			serverErr <- a.fiberApp.ListenTLS(a.cfg.Address(), a.cfg.Server.TLS.CertFile, a.cfg.Server.TLS.KeyFile)
		} else {
			a.logger.Info("Server starting", logger.String("address", a.cfg.Address()))
			serverErr <- a.fiberApp.Listen(a.cfg.Address())
		}
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			a.logger.Error("Failed to start server", logger.Error(err))
			a.Close()
			return err
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down server...")

	if err := a.fiberApp.ShutdownWithTimeout(shutdownTimeout); err != nil {
		a.logger.Error("Server forced to shutdown", logger.Error(err))
	}

	a.Close()

	if err := <-serverErr; err != nil {
		return err
	}

	a.logger.Info("Server exited gracefully")
	return nil
}

// Close drains the audit buffer and releases every resource. It is called by
// Run; tests that never start the listener call it directly.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.auditManager.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("Failed to drain audit buffer", logger.Error(err))
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			a.closers[i]()
		}
	})
}
