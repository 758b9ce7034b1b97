package config

// EnvPrefix is passed to envconfig; every field carries an explicit env tag.
const EnvPrefix = "PHARMALINK"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "PHARMALINK_APP_ENV"
	EnvPort     = "PHARMALINK_APP_PORT"
	EnvLogLevel = "PHARMALINK_LOG_LEVEL"

	EnvDBDSN  = "PHARMALINK_DB_DSN"
	EnvDBHost = "PHARMALINK_DB_HOST"
	EnvDBUser = "PHARMALINK_DB_USER"
	EnvDBName = "PHARMALINK_DB_NAME"

	EnvRedisURL  = "PHARMALINK_REDIS_URL"
	EnvJWTSecret = "PHARMALINK_JWT_SECRET"
	EnvJWTIssuer = "PHARMALINK_JWT_ISSUER"

	EnvGCPProjectID      = "PHARMALINK_GCP_PROJECT_ID"
	EnvPubSubOrdersTopic = "PHARMALINK_PUBSUB_ORDERS_TOPIC"

	EnvOrderRetentionDays      = "PHARMALINK_ORDER_RETENTION_DAYS"
	EnvOrderRetentionBatchSize = "PHARMALINK_ORDER_RETENTION_BATCH_SIZE"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
