package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/upb/audit-query/config"
	"github.com/upb/audit-query/internal/observability"
	"github.com/upb/audit-query/middleware"
	"github.com/upb/audit-query/repositories"
	"github.com/upb/audit-query/repositories/blob"
	"github.com/upb/audit-query/repositories/sqlstore"
	"github.com/upb/audit-query/services/query"
	"go.uber.org/zap"
)

const cursorCacheCleanupInterval = time.Minute

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config   *config.Config
	DB       *sqlstore.DB
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Metrics  *observability.Metrics

	// Repository Factory
	RepoFactory *sqlstore.RepositoryFactory

	// Repositories
	Events   repositories.EventIndex
	Writer   repositories.EventWriter
	Pool     repositories.HandlePool
	Payloads repositories.PayloadReader

	// Query engine
	CursorCache  query.CursorCache
	QueryService *query.Service

	// Auth, nil when no JWT secret is configured
	AuthMiddleware *middleware.AuthMiddleware

	redis       *redis.Client
	stopCleanup chan struct{}
}

// OpenStore opens the metadata store and makes sure its schema exists
func OpenStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*sqlstore.RepositoryFactory, error) {
	factory, err := sqlstore.NewRepositoryFactory(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create repository factory: %w", err)
	}

	if err := factory.GetDB().PingContext(ctx); err != nil {
		_ = factory.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	if err := factory.InitSchema(ctx); err != nil {
		_ = factory.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("database connection established",
		zap.String("driver", cfg.Database.Driver),
		zap.String("connection", cfg.Database.LogString()))
	return factory, nil
}

// NewDependencies creates and wires up all application dependencies.
// The payload file must already exist; run the seeder first.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:   cfg,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
	}
	deps.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	deps.Metrics = observability.NewMetricsWithRegistry(deps.Registry)

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := deps.initPayloads(cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize payload store: %w", err)
	}

	deps.initCursorCache(ctx, cfg)

	if err := deps.initQueryService(cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize query service: %w", err)
	}

	deps.initAuth(cfg)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase opens the store and creates the repositories and handle pool
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	factory, err := OpenStore(ctx, cfg, d.Logger)
	if err != nil {
		return err
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()

	repos := factory.NewRepositories()
	d.Events = repos.Events
	d.Writer = repos.Writer
	d.Pool = factory.NewHandlePool()

	d.Logger.Info("repositories initialized")
	return nil
}

func (d *Dependencies) initPayloads(cfg *config.Config) error {
	payloads, err := blob.Open(cfg.Payload.File, cfg.Payload.Mmap, d.Logger)
	if err != nil {
		return err
	}
	d.Payloads = payloads
	return nil
}

// initCursorCache selects the cursor memo backend. An unreachable Redis is
// logged and kept: lookups then miss and the resolver falls back to seeking.
func (d *Dependencies) initCursorCache(ctx context.Context, cfg *config.Config) {
	cc := cfg.CursorCache

	switch cc.Backend {
	case config.CursorCacheRedis:
		d.redis = redis.NewClient(&redis.Options{
			Addr: cc.RedisAddr,
			DB:   cc.RedisDB,
		})
		cache := query.NewRedisCursorCache(d.redis, cc.KeyPrefix, cc.TTL, d.Logger)
		if err := cache.Ping(ctx); err != nil {
			d.Logger.Warn("redis cursor cache unreachable, continuing without memoized cursors",
				zap.String("addr", cc.RedisAddr),
				zap.Error(err))
		}
		d.CursorCache = cache

	case config.CursorCacheNone:
		d.CursorCache = query.NoopCursorCache{}

	default:
		cache := query.NewMemoryCursorCache(cc.MaxSize, cc.TTL)
		d.stopCleanup = make(chan struct{})
		go cache.StartCleanupWorker(cursorCacheCleanupInterval, d.stopCleanup)
		d.CursorCache = cache
	}

	d.Logger.Info("cursor cache initialized", zap.String("backend", d.CursorCache.Stats().Backend))
}

func (d *Dependencies) initQueryService(cfg *config.Config) error {
	d.QueryService = query.NewService(
		d.Pool,
		d.Events,
		d.Payloads,
		d.CursorCache,
		d.Metrics,
		d.Logger,
		query.Config{
			Workers:     cfg.Query.Workers,
			QueueSize:   cfg.Query.QueueSize,
			MaxPageSize: cfg.Query.MaxPageSize,
		},
	)
	return d.QueryService.Start()
}

func (d *Dependencies) initAuth(cfg *config.Config) {
	if cfg.Auth.JWTSecret == "" {
		d.Logger.Warn("auth JWT secret not configured, audit endpoints are unauthenticated")
		return
	}
	validator := middleware.NewJWTValidator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Logger)
	d.Logger.Info("auth middleware initialized", zap.String("required_role", cfg.Auth.RequiredRole))
}

// RedisCache returns the Redis cursor cache when that backend is active
func (d *Dependencies) RedisCache() (*query.RedisCursorCache, bool) {
	c, ok := d.CursorCache.(*query.RedisCursorCache)
	return c, ok
}

// Close gracefully shuts down all dependencies in reverse order of creation
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.QueryService != nil {
		timeout := d.Config.Server.ShutdownTimeout
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := d.QueryService.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop query service: %w", err))
		}
	}

	if d.stopCleanup != nil {
		close(d.stopCleanup)
		d.stopCleanup = nil
	}

	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis client: %w", err))
		}
	}

	if d.Pool != nil {
		if err := d.Pool.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close handle pool: %w", err))
		}
	}

	if d.Payloads != nil {
		if err := d.Payloads.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close payload store: %w", err))
		}
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
