package config

const (
	EnvPrefix = "BILLING"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv  = "BILLING_APP_ENV"
	EnvPort    = "BILLING_APP_PORT"
	EnvDBDSN   = "BILLING_DB_DSN"
	EnvDBHost  = "BILLING_DB_HOST"
	EnvDBUser  = "BILLING_DB_USER"
	EnvDBName  = "BILLING_DB_NAME"
	EnvDBPort  = "BILLING_DB_PORT"
	EnvDBPass  = "BILLING_DB_PASSWORD"
	EnvDBSSL   = "BILLING_DB_SSLMODE"
	EnvRedis   = "BILLING_REDIS_URL"
	EnvJWTKey  = "BILLING_JWT_SECRET"
	EnvJWTIss  = "BILLING_JWT_ISSUER"
	EnvGCPProj = "BILLING_GCP_PROJECT_ID"
	EnvBucket  = "BILLING_GCS_BUCKET_NAME"
	EnvTopic   = "BILLING_PUBSUB_BILLING_TOPIC"

	EnvLowBalance = "BILLING_LOW_BALANCE_THRESHOLD"
	EnvCronSpec   = "BILLING_CRON_SCHEDULE"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
