// Package app assembles the notification pipeline for one process. Both entry
// points build a single App, call Init once at startup (or Lambda cold start)
// and Shutdown on exit.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"dinerbell/internal/api/handlers"
	"dinerbell/internal/auth"
	"dinerbell/internal/config"
	"dinerbell/internal/core"
	"dinerbell/internal/db"
	"dinerbell/internal/external"
	"dinerbell/internal/notifications/audience"
	ncore "dinerbell/internal/notifications/core"
	"dinerbell/internal/notifications/dispatch"
	"dinerbell/internal/scheduler"
	"dinerbell/internal/types"
)

// Metrics backends accepted by METRICS_BACKEND.
const (
	MetricsPrometheus = "prometheus"
	MetricsCloudWatch = "cloudwatch"
	MetricsNone       = "none"
)

// App owns the connections and pipeline services of one process.
type App struct {
	Config *config.Config
	Logger *slog.Logger
	Clock  types.Clock

	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Gateway external.PushGateway

	Metrics    ncore.PipelineMetrics
	Prometheus *core.PrometheusMetrics

	Scheduled  *db.ScheduledNotificationRepository
	Tokens     *db.PushTokenRepository
	JobLocks   *db.JobLockRepository
	JobHistory *db.JobHistoryRepository

	Deliverer     *dispatch.Deliverer
	Producer      *scheduler.Producer
	Processor     *scheduler.Processor
	Retention     *scheduler.RetentionService
	Authenticator *auth.KeyAuthenticator

	// Seams for tests; production uses the package functions.
	connectDB    func(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error)
	newGateway   func(ctx context.Context, cfg config.PushConfig, logger *slog.Logger) (external.PushGateway, error)
	loadCWClient func(ctx context.Context, cfg config.AWSConfig) (ncore.CloudWatchClient, error)
}

// New returns an App that still needs Init.
func New(cfg *config.Config, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		Config:       cfg,
		Logger:       logger,
		Clock:        types.RealClock{},
		connectDB:    connectDB,
		newGateway:   newGateway,
		loadCWClient: loadCloudWatchClient,
	}
}

// Init connects to PostgreSQL (and Redis when configured), applies the
// schema, selects the push gateway and metrics backend, and wires the
// pipeline services.
func (a *App) Init(ctx context.Context) error {
	if a.Config == nil {
		return errors.New("app: config must not be nil")
	}

	pool, err := a.connectDB(ctx, a.Config.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	a.Pool = pool

	if err := db.ApplySchema(ctx, pool); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}

	if a.Config.Redis.URL.IsSet() {
		opts, err := redis.ParseURL(a.Config.Redis.URL.Unmask())
		if err != nil {
			return fmt.Errorf("parsing REDIS_URL: %w", err)
		}
		a.Redis = redis.NewClient(opts)
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
	}

	metrics, err := a.pipelineMetrics(ctx)
	if err != nil {
		return err
	}

	gw, err := a.newGateway(ctx, a.Config.Push, a.Logger)
	if err != nil {
		return fmt.Errorf("creating %s push gateway: %w", a.Config.Push.Provider, err)
	}

	if err := a.wire(pool, gw, metrics); err != nil {
		return err
	}

	a.Logger.InfoContext(ctx, "app initialized",
		"push_provider", gw.Name(),
		"metrics_backend", a.Config.Observability.MetricsBackend,
		"redis", a.Redis != nil,
		"quiet_hours_mode", a.Config.Pipeline.QuietHoursMode,
	)
	return nil
}

// wire builds the repositories and services on top of conn and gw.
func (a *App) wire(conn db.DBTX, gw external.PushGateway, metrics ncore.PipelineMetrics) error {
	cfg := a.Config.Pipeline
	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("loading restaurant timezone %q: %w", cfg.Timezone, err)
	}
	gate, err := ncore.NewQuietHoursGate(loc, cfg.QuietHoursStart, cfg.QuietHoursEnd)
	if err != nil {
		return fmt.Errorf("configuring quiet hours: %w", err)
	}
	if metrics == nil {
		metrics = ncore.NoopMetrics{}
	}

	a.Gateway = gw
	a.Metrics = metrics
	a.Scheduled = db.NewScheduledNotificationRepository(conn)
	a.Tokens = db.NewPushTokenRepository(conn)
	a.JobLocks = db.NewJobLockRepository(conn)
	a.JobHistory = db.NewJobHistoryRepository(conn)
	history := db.NewNotificationHistoryRepository(conn)
	failures := db.NewDeliveryFailureRepository(conn)
	catalog := db.NewCatalogRepository(conn)

	dispatcher := dispatch.NewDispatcher(gw, dispatch.DispatcherConfig{
		BatchSize:     a.Config.Push.BatchSize,
		RatePerSecond: a.Config.Push.RatePerSecond,
	}, a.Clock, metrics, a.Logger)
	recorder := dispatch.NewRecorder(history, failures, a.Clock, a.Logger)
	a.Deliverer = dispatch.NewDeliverer(audience.NewResolver(a.Tokens), gate, dispatcher, recorder, a.Clock, metrics, a.Logger)

	a.Producer = scheduler.NewProducer(a.Scheduled, catalog, scheduler.ProducerConfig{
		Location:           loc,
		WeeklyOfferWeekday: time.Weekday(cfg.WeeklyOfferWeekday),
		WeeklyOfferHour:    cfg.WeeklyOfferHour,
		EventReminderHour:  cfg.EventReminderHour,
		EventLookaheadDays: cfg.EventLookaheadDays,
	}, a.Clock, metrics, a.Logger)

	a.Retention = scheduler.NewRetentionService(a.Scheduled, failures, cfg.Retention, a.Logger)

	a.Processor = scheduler.NewProcessor(scheduler.ProcessorConfig{
		Store:      a.Scheduled,
		Deliverer:  a.Deliverer,
		Cleaner:    a.Retention,
		Clock:      a.Clock,
		Metrics:    metrics,
		Logger:     a.Logger,
		BatchLimit: cfg.DueBatchLimit,
		Lease:      cfg.ClaimLease,
		Staleness:  cfg.Staleness,
		QuietMode:  scheduler.QuietMode(cfg.QuietHoursMode),
		Retry: ncore.RetryPolicy{
			MaxAttempts:   cfg.MaxAttempts,
			BaseDelay:     cfg.RetryBaseDelay,
			MaxDelay:      cfg.RetryMaxDelay,
			BackoffFactor: ncore.DefaultRetryPolicy.BackoffFactor,
		},
	})

	a.Authenticator = auth.NewKeyAuthenticator(auth.KeyAuthenticatorConfig{
		ServiceKeyHash: a.Config.Security.ServiceKeyHash.Unmask(),
		CronKeyHash:    a.Config.Security.CronKeyHash.Unmask(),
		Logger:         a.Logger,
	})
	return nil
}

// pipelineMetrics selects the backend named by METRICS_BACKEND.
func (a *App) pipelineMetrics(ctx context.Context) (ncore.PipelineMetrics, error) {
	obs := a.Config.Observability
	switch obs.MetricsBackend {
	case MetricsPrometheus:
		a.Prometheus = core.NewPrometheusMetrics(obs.MetricNamespace)
		return a.Prometheus, nil
	case MetricsCloudWatch:
		client, err := a.loadCWClient(ctx, a.Config.AWS)
		if err != nil {
			return nil, err
		}
		return ncore.NewCloudWatchPipelineMetrics(client, obs.MetricNamespace, types.NewSlogLogger(a.Logger)), nil
	case MetricsNone, "":
		return ncore.NoopMetrics{}, nil
	default:
		return nil, fmt.Errorf("unknown metrics backend %q", obs.MetricsBackend)
	}
}

// NewServer builds the HTTP API on top of the initialized services.
func (a *App) NewServer() (*core.Server, error) {
	if a.Deliverer == nil {
		return nil, errors.New("app: Init must run before NewServer")
	}

	srv, err := core.NewServer(a.Config, a.Logger)
	if err != nil {
		return nil, err
	}
	srv.Authenticator = a.Authenticator

	if a.Redis != nil {
		srv.RateLimitStore = core.NewRedisRateLimitStore(a.Redis)
		srv.IdempotencyStore = core.NewRedisIdempotencyStore(a.Redis, a.Config.Redis.IdempotencyTTL)
	} else {
		srv.RateLimitStore = core.NewMemoryRateLimitStore()
		srv.IdempotencyStore = core.NewMemoryIdempotencyStore(a.Config.Redis.IdempotencyTTL)
	}

	if a.Prometheus != nil {
		srv.Metrics = a.Prometheus
		srv.MetricsHandler = a.Prometheus.Handler()
	}

	if a.Pool != nil {
		srv.HealthProbes = append(srv.HealthProbes, core.NewPingProbe("database", a.Pool.Ping))
	}
	if a.Redis != nil {
		rdb := a.Redis
		srv.HealthProbes = append(srv.HealthProbes, core.NewPingProbe("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}))
	}

	notificationsH := handlers.NewNotificationHandler(a.Deliverer, a.Producer, srv.Validator, a.Logger)
	cronH := handlers.NewCronHandler(a.Processor, a.Logger)
	tokensH := handlers.NewTokenHandler(a.Tokens, srv.Validator, a.Logger)
	scheduledH := handlers.NewScheduledHandler(a.Scheduled, a.Clock, a.Logger)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		func(r chi.Router) { notificationsH.RegisterRoutes(r, srv.RequireScope) },
		func(r chi.Router) { cronH.RegisterRoutes(r, srv.RequireScope) },
		func(r chi.Router) { tokensH.RegisterRoutes(r, srv.RequireScope) },
		func(r chi.Router) { scheduledH.RegisterRoutes(r, srv.RequireScope) },
	)
	srv.MountRoutes()
	return srv, nil
}

// Shutdown closes Redis and the database pool. It is safe to call after a
// failed Init.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing redis: %w", err))
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
	a.Logger.InfoContext(ctx, "app shutdown complete")
	return errors.Join(errs...)
}

func connectDB(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.AcquireTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

func newGateway(ctx context.Context, cfg config.PushConfig, logger *slog.Logger) (external.PushGateway, error) {
	switch cfg.Provider {
	case "fcm":
		return external.NewFCMGateway(ctx, cfg.FirebaseCredentialsFile, logger)
	case "expo", "":
		retry := external.DefaultRetryPolicy()
		retry.MaxRetries = cfg.MaxRetries
		base := external.NewBaseClient(
			&http.Client{Timeout: cfg.HTTPTimeout},
			"expo-push",
			retry,
			cfg.UserAgent,
			external.WithLogger(logger),
		)
		return external.NewExpoGateway(base, external.ExpoConfig{
			URL:         cfg.ExpoURL,
			AccessToken: cfg.ExpoAccessToken.Unmask(),
			Logger:      logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown push provider %q", cfg.Provider)
	}
}

func loadCloudWatchClient(ctx context.Context, cfg config.AWSConfig) (ncore.CloudWatchClient, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config for CloudWatch (region=%s): %w", cfg.Region, err)
	}
	return cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		}
	}), nil
}
