package config

// EnvPrefix is handed to envconfig; every field carries its full EVENTPAY_* name so the
// prefix only matters for fields without an explicit tag.
const EnvPrefix = "EVENTPAY"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const (
	EnvAppEnv    = "EVENTPAY_APP_ENV"
	EnvPort      = "EVENTPAY_APP_PORT"
	EnvLogLevel  = "EVENTPAY_LOG_LEVEL"
	EnvDBDSN     = "EVENTPAY_DB_DSN"
	EnvDBDriver  = "EVENTPAY_DB_DRIVER"
	EnvDBHost    = "EVENTPAY_DB_HOST"
	EnvDBUser    = "EVENTPAY_DB_USER"
	EnvDBName    = "EVENTPAY_DB_NAME"
	EnvRedisURL  = "EVENTPAY_REDIS_URL"
	EnvJWTSecret = "EVENTPAY_JWT_SECRET"
	EnvJWTIssuer = "EVENTPAY_JWT_ISSUER"

	EnvIntentTTL     = "EVENTPAY_PAYMENTS_INTENT_TTL"
	EnvTossSecretKey = "EVENTPAY_TOSS_SECRET_KEY"
	EnvPayPalEnv     = "EVENTPAY_PAYPAL_ENV"
	EnvCORSOrigins   = "EVENTPAY_CORS_ALLOWED_ORIGINS"
)

var discreteDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
