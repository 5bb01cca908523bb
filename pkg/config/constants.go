package config

const (
	EnvPrefix = "ORDERFLOW"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "ORDERFLOW_APP_ENV"
	EnvPort     = "ORDERFLOW_APP_PORT"
	EnvLogLevel = "ORDERFLOW_LOG_LEVEL"

	EnvDBDSN  = "ORDERFLOW_DB_DSN"
	EnvDBHost = "ORDERFLOW_DB_HOST"
	EnvDBUser = "ORDERFLOW_DB_USER"
	EnvDBName = "ORDERFLOW_DB_NAME"

	EnvRedisURL = "ORDERFLOW_REDIS_URL"

	EnvJWTSecret = "ORDERFLOW_JWT_SECRET"
	EnvJWTIssuer = "ORDERFLOW_JWT_ISSUER"

	EnvStripeSecretKey     = "ORDERFLOW_STRIPE_SECRET_KEY"
	EnvStripeWebhookSecret = "ORDERFLOW_STRIPE_WEBHOOK_SECRET"

	EnvCommissionDefaultRate = "ORDERFLOW_COMMISSION_DEFAULT_RATE"

	EnvGCPProjectID      = "ORDERFLOW_GCP_PROJECT_ID"
	EnvPubSubOrdersTopic = "ORDERFLOW_PUBSUB_ORDERS_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
