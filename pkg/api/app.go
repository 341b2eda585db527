package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/adminboard/pkg/audit"
	"github.com/platinummonkey/adminboard/pkg/auth"
	"github.com/platinummonkey/adminboard/pkg/calendar"
	"github.com/platinummonkey/adminboard/pkg/claims"
	"github.com/platinummonkey/adminboard/pkg/config"
	"github.com/platinummonkey/adminboard/pkg/docstore"
	"github.com/platinummonkey/adminboard/pkg/jobs"
	"github.com/platinummonkey/adminboard/pkg/kanban"
	"github.com/platinummonkey/adminboard/pkg/middleware"
	"github.com/platinummonkey/adminboard/pkg/observability"
	"github.com/platinummonkey/adminboard/pkg/proxy"
	"github.com/platinummonkey/adminboard/pkg/rbac"
	"github.com/platinummonkey/adminboard/pkg/realtime"
	"github.com/platinummonkey/adminboard/pkg/storage"
	"github.com/platinummonkey/adminboard/pkg/storage/s3blob"
	"github.com/platinummonkey/adminboard/pkg/storage/sqldb"
	"github.com/platinummonkey/adminboard/pkg/users"
)

// App is a fully wired adminboard instance
type App struct {
	Server     *Server
	HTTP       *http.Server
	Shutdown   *observability.ShutdownManager
	Scheduler  *jobs.Scheduler
	Registry   *rbac.Registry
	DB         *sqldb.DB
	Blobs      storage.BlobStore
	Redis      *redis.Client
	Hub        *realtime.Hub
	Board      *kanban.Service
	Calendar   *calendar.Service
	Users      *users.Service
	Verifier   auth.Verifier
	cancelBack context.CancelFunc
}

// Build connects every backend named by cfg and assembles the server.
// Background work (bridge, seed watcher, rate limiter cleanup) stops when
// the shutdown manager runs.
func Build(ctx context.Context, cfg *config.Config, version string, logger *observability.Logger, reg *prometheus.Registry) (*App, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	app := &App{}
	backCtx, cancel := context.WithCancel(context.Background())
	app.cancelBack = cancel

	fail := func(err error) (*App, error) {
		cancel()
		if app.DB != nil {
			app.DB.Close()
		}
		if app.Redis != nil {
			app.Redis.Close()
		}
		return nil, err
	}

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled && reg != nil {
		metrics = observability.NewMetrics(reg)
	}

	db, err := sqldb.Open(ctx, cfg.Storage)
	if err != nil {
		return fail(err)
	}
	app.DB = db
	if err := db.Migrate(ctx); err != nil {
		return fail(err)
	}
	logger.WithField("driver", string(db.Dialect)).Info("database ready")

	blobs, err := openBlobStore(ctx, cfg.Storage, metrics)
	if err != nil {
		return fail(err)
	}
	app.Blobs = blobs

	if cfg.Storage.RedisURL != "" {
		client, err := openRedis(ctx, cfg.Storage)
		if err != nil {
			return fail(err)
		}
		app.Redis = client
	}

	hub := realtime.NewHub(metrics, logger)
	app.Hub = hub
	bridge, err := openBridge(ctx, cfg, app.Redis)
	if err != nil {
		return fail(err)
	}
	if bridge != nil {
		hub.AttachBridge(backCtx, bridge)
		logger.WithField("backend", cfg.Realtime.Backend).Info("realtime bridge attached")
	}

	roles := rbac.DefaultRoles()
	if cfg.Roles.SeedFile != "" {
		roles, err = rbac.LoadSeedFile(cfg.Roles.SeedFile)
		if err != nil {
			return fail(err)
		}
	}
	registry := rbac.NewRegistry(roles)
	registry.SetMetrics(metrics)
	app.Registry = registry

	dbAudit, err := audit.NewDBLogger(db)
	if err != nil {
		return fail(err)
	}
	auditLogger := audit.NewMultiLogger(audit.NewLogSink(logger), dbAudit)

	var roleStore rbac.RoleStore
	if cfg.Roles.Persist {
		roleStore = rbac.NewSQLStore(db)
	}
	admin := rbac.NewAdmin(registry, roleStore, auditLogger, logger)
	if err := admin.Reload(ctx); err != nil {
		return fail(err)
	}
	if cfg.Roles.SeedFile != "" && cfg.Roles.Watch {
		if err := rbac.WatchSeedFile(backCtx, cfg.Roles.SeedFile, registry, logger); err != nil {
			return fail(err)
		}
	}

	store := docstore.NewSQLStore(db, metrics)
	claimStore := claims.NewSQLStore(db)

	var usersSvc *users.Service
	profiles := auth.NewCachedProfileSource(auth.ProfileSourceFunc(func(ctx context.Context, uid string) (*auth.Profile, error) {
		return usersSvc.GetProfile(ctx, uid)
	}), cfg.Auth.ProfileCacheSize, cfg.Auth.ProfileCacheTTL)
	usersSvc = users.NewService(users.Options{
		Store:    store,
		Hub:      hub,
		Registry: registry,
		Blobs:    blobs,
		Audit:    auditLogger,
		Cache:    profiles,
		Claims:   claimStore,
		Metrics:  metrics,
		Logger:   logger,
	})
	app.Users = usersSvc

	verifier, err := openVerifier(ctx, cfg.Auth)
	if err != nil {
		return fail(err)
	}
	app.Verifier = verifier
	resolver := auth.NewResolver(auth.ResolverOptions{
		Verifier: verifier,
		Roles:    registry,
		Profiles: profiles,
		Claims:   claimStore,
		Logger:   logger,
	})

	app.Board = kanban.NewService(kanban.Options{
		Store:       store,
		Hub:         hub,
		Blobs:       blobs,
		Metrics:     metrics,
		Logger:      logger,
		BoardID:     cfg.Board.BoardID,
		MaxAttempts: cfg.Board.ConflictRetries,
	})
	app.Calendar = calendar.NewService(calendar.Options{
		Store:   store,
		Hub:     hub,
		Blobs:   blobs,
		Audit:   auditLogger,
		Metrics: metrics,
		Logger:  logger,
	})
	fn := claims.NewFunction(claims.Options{
		Store:  claimStore,
		Roles:  registry,
		Users:  usersSvc,
		Audit:  auditLogger,
		Logger: logger,
	})
	blobProxy := proxy.New(proxy.Options{
		Store:    blobs,
		BasePath: proxyBasePath(cfg.Storage.PublicBaseURL),
		Logger:   logger,
	})

	deps := Deps{
		Logger:         logger,
		Metrics:        metrics,
		Health:         observability.NewHealthChecker(db.DB, app.Redis, blobs, version),
		Resolver:       middleware.TokenResolver{Resolver: resolver},
		Audit:          auditLogger,
		AuditSearch:    dbAudit,
		Store:          store,
		Hub:            hub,
		Admin:          admin,
		Users:          usersSvc,
		Board:          app.Board,
		Calendar:       app.Calendar,
		Claims:         fn,
		Proxy:          blobProxy,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Tracing:        cfg.Observability.OTelEnabled,
	}
	if metrics != nil {
		deps.Gatherer = reg
	}
	if cfg.RateLimit.Enabled {
		deps.MutationLimiter = newLimiter(backCtx, app.Redis, cfg.RateLimit.MutationRequests, cfg, "mutations")
		deps.FunctionLimiter = newLimiter(backCtx, app.Redis, cfg.RateLimit.FunctionRequests, cfg, "functions")
	}
	app.Server = NewServer(deps)

	app.Scheduler = jobs.NewScheduler(logger)
	for _, job := range []jobs.Job{
		jobs.ConsistencyJob(cfg.Jobs.ConsistencySchedule, app.Board, logger),
		jobs.RoleRefreshJob(cfg.Jobs.RoleRefreshSchedule, admin),
	} {
		if err := app.Scheduler.Add(job); err != nil {
			return fail(err)
		}
	}

	app.HTTP = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      app.Server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	app.Shutdown = observability.NewShutdownManager(logger, app.HTTP, cfg.Server.ShutdownTimeout)
	app.Shutdown.Register("jobs", func(ctx context.Context) error {
		select {
		case <-app.Scheduler.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	app.Shutdown.Register("background", func(context.Context) error {
		cancel()
		if bridge != nil {
			return bridge.Close()
		}
		return nil
	})
	app.Shutdown.Register("audit", func(context.Context) error {
		return auditLogger.Close()
	})
	app.Shutdown.Register("database", func(context.Context) error {
		return db.Close()
	})
	if app.Redis != nil {
		app.Shutdown.Register("redis", func(context.Context) error {
			return app.Redis.Close()
		})
	}

	return app, nil
}

// Close releases backends without going through the shutdown manager.
// Used when the server never started.
func (a *App) Close() {
	a.cancelBack()
	if a.DB != nil {
		a.DB.Close()
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
}

func openBlobStore(ctx context.Context, cfg storage.Config, metrics *observability.Metrics) (storage.BlobStore, error) {
	switch strings.ToLower(cfg.BlobType) {
	case "s3":
		return s3blob.New(ctx, cfg, metrics)
	case "filesystem", "":
		return storage.NewFilesystemBlobStore(cfg.FilesystemRoot, cfg.S3Bucket, cfg.PublicBaseURL)
	case "memory":
		return storage.NewMemoryBlobStore(cfg.S3Bucket, cfg.PublicBaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported blob type: %s", cfg.BlobType)
	}
}

func openRedis(ctx context.Context, cfg storage.Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}
	if cfg.RedisDB > 0 {
		opts.DB = cfg.RedisDB
	}
	opts.MaxRetries = cfg.RedisMaxRetries
	opts.PoolSize = cfg.RedisPoolSize

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

func openBridge(ctx context.Context, cfg *config.Config, client *redis.Client) (realtime.Bridge, error) {
	switch cfg.Realtime.Backend {
	case "memory", "":
		return nil, nil
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("realtime backend redis requires a redis url")
		}
		return realtime.NewRedisBridge(client, cfg.Realtime.Channel), nil
	case "postgres":
		return realtime.NewPostgresBridge(ctx, cfg.Storage.DatabaseURL, cfg.Realtime.Channel)
	default:
		return nil, fmt.Errorf("unsupported realtime backend: %s", cfg.Realtime.Backend)
	}
}

func openVerifier(ctx context.Context, cfg config.AuthConfig) (auth.Verifier, error) {
	if cfg.Mode == "oidc" {
		return auth.NewOIDCVerifier(ctx, cfg.Issuer, cfg.Audience, cfg.RoleClaim)
	}
	return auth.NewHMACVerifier(cfg.HMACSecret, cfg.Issuer, cfg.Audience, cfg.RoleClaim), nil
}

// newLimiter shares counters across instances when redis is available
func newLimiter(ctx context.Context, client *redis.Client, requests int, cfg *config.Config, name string) middleware.Limiter {
	rl := &middleware.RateLimitConfig{
		RequestsPerWindow: requests,
		WindowDuration:    cfg.RateLimit.Window,
	}
	if client != nil {
		return middleware.NewDistributedRateLimiter(client, rl, "adminboard:ratelimit:"+name)
	}
	limiter := middleware.NewRateLimiter(rl)
	limiter.StartCleanup(ctx)
	return limiter
}

// proxyBasePath is the path part of the public blob URL, e.g. "/blobs"
func proxyBasePath(publicBaseURL string) string {
	u, err := url.Parse(publicBaseURL)
	if err != nil {
		return ""
	}
	return strings.TrimSuffix(u.Path, "/")
}
