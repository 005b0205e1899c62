// Package config defines the process configuration for the notification
// pipeline. Configuration is loaded once at startup (or Lambda cold start) and
// is immutable afterwards.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// A missing required value or invalid format fails startup.
package config

import (
	"time"

	"dinerbell/internal/types"
)

// SecretString is an alias for types.SecretString.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the section they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"dinerbell"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	AWS           AWSConfig
	Push          PushConfig
	Pipeline      PipelineConfig
	Security      SecurityConfig
	Observability ObservabilityConfig

	// Injected via ldflags, not Env.
	Build BuildInfo
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"1"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// RedisConfig configures the optional Redis used for idempotency keys and
// rate limiting. With an empty URL both fall back to in-process stores.
// AuthFailuresPerMinute caps rejected bearer keys per client IP; further
// requests from that IP get 429 before any hash comparison.
type RedisConfig struct {
	URL                   SecretString  `envconfig:"REDIS_URL"`
	IdempotencyTTL        time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`
	RateLimitPerMinute    int           `envconfig:"RATE_LIMIT_PER_MINUTE" default:"120" validate:"min=1"`
	AuthFailuresPerMinute int           `envconfig:"AUTH_FAILURES_PER_MINUTE" default:"10" validate:"min=1"`
}

// AWSConfig holds regional configuration for SSM and CloudWatch.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"eu-central-1"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// PushConfig selects and tunes the push gateway.
type PushConfig struct {
	Provider string `envconfig:"PUSH_PROVIDER" default:"expo" validate:"oneof=expo fcm"`

	ExpoURL         string       `envconfig:"EXPO_PUSH_URL" default:"https://exp.host/--/api/v2/push/send" validate:"required,url"`
	ExpoAccessToken SecretString `envconfig:"EXPO_ACCESS_TOKEN"`

	FirebaseCredentialsFile string `envconfig:"FIREBASE_CREDENTIALS_FILE" validate:"required_if=Provider fcm"`

	// Batches above 100 are rejected by the Expo gateway.
	BatchSize     int           `envconfig:"PUSH_BATCH_SIZE" default:"100" validate:"min=1,max=100"`
	RatePerSecond float64       `envconfig:"PUSH_RATE_PER_SECOND" default:"600" validate:"gt=0"`
	HTTPTimeout   time.Duration `envconfig:"PUSH_HTTP_TIMEOUT" default:"15s"`
	MaxRetries    int           `envconfig:"PUSH_MAX_RETRIES" default:"3" validate:"min=0,max=10"`
	UserAgent     string        `envconfig:"PUSH_USER_AGENT" default:"dinerbell-push/1.0"`
}

// PipelineConfig holds the scheduling and delivery policy knobs.
type PipelineConfig struct {
	Timezone        string `envconfig:"RESTAURANT_TIMEZONE" default:"Europe/Berlin" validate:"required,timezone"`
	QuietHoursStart int    `envconfig:"QUIET_HOURS_START" default:"21" validate:"min=0,max=23"`
	QuietHoursEnd   int    `envconfig:"QUIET_HOURS_END" default:"11" validate:"min=0,max=23"`
	// QuietHoursMode is "skip" (gated rows become skipped) or "defer"
	// (gated rows are released and retried after the window).
	QuietHoursMode string `envconfig:"QUIET_HOURS_MODE" default:"skip" validate:"oneof=skip defer"`

	DueBatchLimit  int           `envconfig:"DUE_BATCH_LIMIT" default:"50" validate:"min=1,max=500"`
	Staleness      time.Duration `envconfig:"STALENESS_WINDOW" default:"24h"`
	ClaimLease     time.Duration `envconfig:"CLAIM_LEASE" default:"10m"`
	MaxAttempts    int           `envconfig:"DISPATCH_MAX_ATTEMPTS" default:"3" validate:"min=1,max=10"`
	RetryBaseDelay time.Duration `envconfig:"RETRY_BASE_DELAY" default:"5m"`
	RetryMaxDelay  time.Duration `envconfig:"RETRY_MAX_DELAY" default:"2h"`
	Retention      time.Duration `envconfig:"RETENTION_WINDOW" default:"2160h"`

	WeeklyOfferWeekday int `envconfig:"WEEKLY_OFFER_WEEKDAY" default:"1" validate:"min=0,max=6"`
	WeeklyOfferHour    int `envconfig:"WEEKLY_OFFER_HOUR" default:"10" validate:"min=0,max=23"`
	EventReminderHour  int `envconfig:"EVENT_REMINDER_HOUR" default:"18" validate:"min=0,max=23"`
	EventLookaheadDays int `envconfig:"EVENT_LOOKAHEAD_DAYS" default:"30" validate:"min=1"`
}

// SecurityConfig holds API key hashes and CORS settings.
type SecurityConfig struct {
	// bcrypt hashes of the bearer keys; plaintext keys never reach config.
	ServiceKeyHash     SecretString `envconfig:"SERVICE_API_KEY_HASH" validate:"required"`
	CronKeyHash        SecretString `envconfig:"CRON_API_KEY_HASH" validate:"required"`
	CorsAllowedOrigins []string     `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"Dinerbell"`
	// MetricsBackend selects where pipeline metrics go.
	MetricsBackend string `envconfig:"METRICS_BACKEND" default:"prometheus" validate:"oneof=prometheus cloudwatch none"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrMissingEnv    ConfigErrorType = "MISSING_ENV"
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	ErrValidation    ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing       ConfigErrorType = "PARSING_FAILED"
)

// Location loads the restaurant's IANA timezone.
func (p PipelineConfig) Location() (*time.Location, error) {
	return time.LoadLocation(p.Timezone)
}
