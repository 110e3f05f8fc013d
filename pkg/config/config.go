package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	GCS          GCSConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Outbox       OutboxConfig
	Square       SquareConfig
	Stripe       StripeConfig
	Billing      BillingConfig
	Cron         CronConfig
	RateLimit    RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"BILLING_APP_ENV" required:"true"`
	Port         string `envconfig:"BILLING_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"BILLING_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"BILLING_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"BILLING_LOG_WARN_STACK" default:"false"`
	// PublicBaseURL is used to build return URLs handed to hosted checkouts.
	PublicBaseURL string `envconfig:"BILLING_PUBLIC_BASE_URL" default:"http://localhost:8080"`
	// CORSAllowedOrigins is a comma separated list.
	CORSAllowedOrigins []string `envconfig:"BILLING_CORS_ALLOWED_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"BILLING_DB_DSN"`
	Driver string `envconfig:"BILLING_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"BILLING_DB_HOST"`
	LegacyPort     int    `envconfig:"BILLING_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"BILLING_DB_USER"`
	LegacyPassword string `envconfig:"BILLING_DB_PASSWORD"`
	LegacyName     string `envconfig:"BILLING_DB_NAME"`
	LegacySSLMode  string `envconfig:"BILLING_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"BILLING_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BILLING_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BILLING_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BILLING_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"BILLING_DB_SLOW_QUERY_THRESHOLD" default:"200ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"BILLING_REDIS_URL" required:"true"`
	Address      string        `envconfig:"BILLING_REDIS_ADDR"`
	Password     string        `envconfig:"BILLING_REDIS_PASSWORD"`
	DB           int           `envconfig:"BILLING_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BILLING_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BILLING_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BILLING_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BILLING_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BILLING_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"BILLING_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"BILLING_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"BILLING_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"BILLING_AUTO_MIGRATE" default:"false"`
	// EnableSquare and EnableStripe bind the hosted checkout providers.
	EnableSquare bool `envconfig:"BILLING_ENABLE_SQUARE" default:"false"`
	EnableStripe bool `envconfig:"BILLING_ENABLE_STRIPE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"BILLING_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"BILLING_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"BILLING_GOOGLE_APPLICATION_CREDENTIALS"`
}

type GCSConfig struct {
	BucketName     string        `envconfig:"BILLING_GCS_BUCKET_NAME" required:"true"`
	ProofURLExpiry time.Duration `envconfig:"BILLING_GCS_PROOF_URL_EXPIRY" default:"15m"`
	MaxProofMB     int           `envconfig:"BILLING_GCS_MAX_PROOF_MB" default:"10"`
}

type PubSubConfig struct {
	BillingTopic    string `envconfig:"BILLING_PUBSUB_BILLING_TOPIC" required:"true"`
	BillingDLQTopic string `envconfig:"BILLING_PUBSUB_BILLING_DLQ_TOPIC"`
	// AnalyticsSubscription is the billing topic subscription read by the analytics worker.
	AnalyticsSubscription string `envconfig:"BILLING_PUBSUB_ANALYTICS_SUBSCRIPTION" default:"billing-analytics"`
}

type BigQueryConfig struct {
	Dataset            string `envconfig:"BILLING_BIGQUERY_DATASET" default:"billing"`
	BillingEventsTable string `envconfig:"BILLING_BIGQUERY_BILLING_EVENTS_TABLE" default:"billing_events"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"BILLING_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"BILLING_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"BILLING_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"BILLING_OUTBOX_RETENTION" default:"720h"`
}

type SquareConfig struct {
	AccessToken     string `envconfig:"BILLING_SQUARE_ACCESS_TOKEN"`
	Env             string `envconfig:"BILLING_SQUARE_ENV" default:"sandbox"`
	LocationID      string `envconfig:"BILLING_SQUARE_LOCATION_ID"`
	SignatureKey    string `envconfig:"BILLING_SQUARE_WEBHOOK_SIGNATURE_KEY"`
	NotificationURL string `envconfig:"BILLING_SQUARE_WEBHOOK_NOTIFICATION_URL"`
}

// BaseURL returns the Square API host for the configured environment.
func (s SquareConfig) BaseURL() string {
	if strings.EqualFold(strings.TrimSpace(s.Env), "production") {
		return "https://connect.squareup.com"
	}
	return "https://connect.squareupsandbox.com"
}

type StripeConfig struct {
	APIKey string `envconfig:"BILLING_STRIPE_API_KEY"`
	Secret string `envconfig:"BILLING_STRIPE_SECRET"`
	Env    string `envconfig:"BILLING_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type BillingConfig struct {
	Currency        string        `envconfig:"BILLING_CURRENCY" default:"USD"`
	GatewayTimeout  time.Duration `envconfig:"BILLING_GATEWAY_TIMEOUT" default:"10s"`
	SuccessURL      string        `envconfig:"BILLING_CHECKOUT_SUCCESS_URL" default:"http://localhost:3000/billing/success"`
	FailureURL      string        `envconfig:"BILLING_CHECKOUT_FAILURE_URL" default:"http://localhost:3000/billing/failed"`
	IdempotencyTTL  time.Duration `envconfig:"BILLING_CALLBACK_IDEMPOTENCY_TTL" default:"168h"`
	ExpiryLeadTime  time.Duration `envconfig:"BILLING_EXPIRY_WARNING_LEAD" default:"168h"`
	LowBalance      int64         `envconfig:"BILLING_LOW_BALANCE_THRESHOLD" default:"50"`
	PendingMaxAge   time.Duration `envconfig:"BILLING_PENDING_PAYMENT_MAX_AGE" default:"30m"`
	InvoiceCompany  string        `envconfig:"BILLING_INVOICE_COMPANY_NAME"`
	InvoiceTaxID    string        `envconfig:"BILLING_INVOICE_TAX_ID"`
	SweepBatchLimit int           `envconfig:"BILLING_SWEEP_BATCH_LIMIT" default:"200"`
}

type CronConfig struct {
	Schedule string        `envconfig:"BILLING_CRON_SCHEDULE" default:"@every 1m"`
	LockTTL  time.Duration `envconfig:"BILLING_CRON_LOCK_TTL" default:"5m"`
}

type RateLimitConfig struct {
	Window              time.Duration `envconfig:"BILLING_RATE_LIMIT_WINDOW" default:"1m"`
	PurchaseIPLimit     int           `envconfig:"BILLING_RATE_LIMIT_PURCHASE_IP" default:"30"`
	PurchaseTenantLimit int           `envconfig:"BILLING_RATE_LIMIT_PURCHASE_TENANT" default:"10"`
	CallbackIPLimit     int           `envconfig:"BILLING_RATE_LIMIT_CALLBACK_IP" default:"600"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
