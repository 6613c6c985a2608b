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
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	CORS         CORSConfig
	FeatureFlags FeatureFlagsConfig
	Payments     PaymentsConfig
	Toss         TossConfig
	PayPal       PayPalConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Outbox       OutboxConfig
	Cron         CronConfig
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
	Env          string `envconfig:"EVENTPAY_APP_ENV" required:"true"`
	Port         string `envconfig:"EVENTPAY_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"EVENTPAY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"EVENTPAY_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"EVENTPAY_LOG_FORMAT" default:"json"`
	PublicURL    string `envconfig:"EVENTPAY_PUBLIC_URL" default:"http://localhost:5173"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"EVENTPAY_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"EVENTPAY_DB_DSN"`
	Driver string `envconfig:"EVENTPAY_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"EVENTPAY_DB_HOST"`
	Port     int    `envconfig:"EVENTPAY_DB_PORT" default:"5432"`
	User     string `envconfig:"EVENTPAY_DB_USER"`
	Password string `envconfig:"EVENTPAY_DB_PASSWORD"`
	Name     string `envconfig:"EVENTPAY_DB_NAME"`
	SSLMode  string `envconfig:"EVENTPAY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"EVENTPAY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"EVENTPAY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"EVENTPAY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"EVENTPAY_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// SlowQueryThreshold logs statements slower than this at warn. Zero disables it.
	SlowQueryThreshold time.Duration `envconfig:"EVENTPAY_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
}

// IsSQLite reports whether the configured driver is the embedded sqlite driver.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"EVENTPAY_REDIS_URL" required:"true"`
	Address      string        `envconfig:"EVENTPAY_REDIS_ADDR"`
	Password     string        `envconfig:"EVENTPAY_REDIS_PASSWORD"`
	DB           int           `envconfig:"EVENTPAY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"EVENTPAY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"EVENTPAY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"EVENTPAY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"EVENTPAY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"EVENTPAY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"EVENTPAY_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"EVENTPAY_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"EVENTPAY_JWT_EXPIRATION_MINUTES" default:"60"`
	// ClockSkew is tolerated on exp/iat when the registration app's clock drifts.
	ClockSkew time.Duration `envconfig:"EVENTPAY_JWT_CLOCK_SKEW" default:"30s"`
}

type CORSConfig struct {
	AllowedOrigins []string `envconfig:"EVENTPAY_CORS_ALLOWED_ORIGINS" default:"http://localhost:5173"`
}

type FeatureFlagsConfig struct {
	AutoMigrate        bool `envconfig:"EVENTPAY_AUTO_MIGRATE" default:"false"`
	PayPalEnabled      bool `envconfig:"EVENTPAY_FEATURE_PAYPAL" default:"true"`
	ConfirmRateLimit   bool `envconfig:"EVENTPAY_FEATURE_CONFIRM_RATE_LIMIT" default:"true"`
	BigQueryMirror     bool `envconfig:"EVENTPAY_FEATURE_BIGQUERY_MIRROR" default:"false"`
	RedisTokenCache    bool `envconfig:"EVENTPAY_FEATURE_PAYPAL_TOKEN_CACHE" default:"true"`
	DistributedLocking bool `envconfig:"EVENTPAY_FEATURE_DISTRIBUTED_LOCKS" default:"true"`
}

type PaymentsConfig struct {
	IntentTTL           time.Duration `envconfig:"EVENTPAY_PAYMENTS_INTENT_TTL" default:"30m"`
	ExpiryBatchSize     int           `envconfig:"EVENTPAY_PAYMENTS_EXPIRY_BATCH_SIZE" default:"200"`
	OrderLockTTL        time.Duration `envconfig:"EVENTPAY_PAYMENTS_ORDER_LOCK_TTL" default:"60s"`
	OrderLockWait       time.Duration `envconfig:"EVENTPAY_PAYMENTS_ORDER_LOCK_WAIT" default:"10s"`
	DefaultCancelReason string        `envconfig:"EVENTPAY_PAYMENTS_DEFAULT_CANCEL_REASON" default:"관리자 취소"`
	ConfirmWindow       time.Duration `envconfig:"EVENTPAY_PAYMENTS_CONFIRM_RATE_WINDOW" default:"1m"`
	ConfirmLimit        int64         `envconfig:"EVENTPAY_PAYMENTS_CONFIRM_RATE_LIMIT" default:"20"`
	GatewayTimeout      time.Duration `envconfig:"EVENTPAY_PAYMENTS_GATEWAY_TIMEOUT" default:"30s"`
}

type TossConfig struct {
	ClientKey   string `envconfig:"EVENTPAY_TOSS_CLIENT_KEY"`
	SecretKey   string `envconfig:"EVENTPAY_TOSS_SECRET_KEY"`
	BaseURL     string `envconfig:"EVENTPAY_TOSS_BASE_URL" default:"https://api.tosspayments.com"`
	SuccessPath string `envconfig:"EVENTPAY_TOSS_SUCCESS_PATH" default:"/payment/success"`
	FailPath    string `envconfig:"EVENTPAY_TOSS_FAIL_PATH" default:"/payment/fail"`
}

type PayPalConfig struct {
	ClientID     string `envconfig:"EVENTPAY_PAYPAL_CLIENT_ID"`
	ClientSecret string `envconfig:"EVENTPAY_PAYPAL_CLIENT_SECRET"`
	Env          string `envconfig:"EVENTPAY_PAYPAL_ENV" default:"sandbox"`
	Currency     string `envconfig:"EVENTPAY_PAYPAL_CURRENCY" default:"USD"`
	BrandName    string `envconfig:"EVENTPAY_PAYPAL_BRAND_NAME"`
}

// Environment returns the normalized PayPal environment (sandbox/live).
func (p PayPalConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(p.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type EventingConfig struct {
	WebhookIdempotencyTTL time.Duration `envconfig:"EVENTPAY_EVENTING_WEBHOOK_IDEMPOTENCY_TTL" default:"720h"`
	MirrorIdempotencyTTL  time.Duration `envconfig:"EVENTPAY_EVENTING_MIRROR_IDEMPOTENCY_TTL" default:"168h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"EVENTPAY_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"EVENTPAY_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"EVENTPAY_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	DomainTopic string `envconfig:"EVENTPAY_PUBSUB_DOMAIN_TOPIC" default:"eventpay-payment-events"`
}

type BigQueryConfig struct {
	Dataset            string `envconfig:"EVENTPAY_BIGQUERY_DATASET" default:"eventpay"`
	PaymentEventsTable string `envconfig:"EVENTPAY_BIGQUERY_PAYMENT_EVENTS_TABLE" default:"payment_events"`
	// CreateTable provisions a missing payment events table instead of failing startup.
	CreateTable bool `envconfig:"EVENTPAY_BIGQUERY_CREATE_TABLE" default:"false"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"EVENTPAY_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"EVENTPAY_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"EVENTPAY_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"EVENTPAY_OUTBOX_RETENTION_DAYS" default:"30"`
	// DLQRetentionDays keeps parked rows longer so operators can replay them.
	DLQRetentionDays int `envconfig:"EVENTPAY_OUTBOX_DLQ_RETENTION_DAYS" default:"90"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"EVENTPAY_CRON_INTERVAL" default:"1m"`
	LockTTL  time.Duration `envconfig:"EVENTPAY_CRON_LOCK_TTL" default:"5m"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		db.DSN = "file:eventpay.db?cache=shared"
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range discreteDBEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
