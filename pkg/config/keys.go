package config

// EnvPrefix is handed to envconfig; every field carries its full key in the tag.
const EnvPrefix = "CATALOG"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	BrokerKindRabbitMQ = "rabbitmq"
	BrokerKindPubSub   = "pubsub"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"
)

const (
	EnvAppEnv   = "CATALOG_APP_ENV"
	EnvPort     = "CATALOG_APP_PORT"
	EnvLogLevel = "CATALOG_LOG_LEVEL"

	EnvDBDSN  = "CATALOG_DB_DSN"
	EnvDBHost = "CATALOG_DB_HOST"
	EnvDBUser = "CATALOG_DB_USER"
	EnvDBName = "CATALOG_DB_NAME"

	EnvRedisURL = "CATALOG_REDIS_URL"

	EnvGenreServiceURL  = "CATALOG_GENRE_SERVICE_URL"
	EnvAuthorServiceURL = "CATALOG_AUTHOR_SERVICE_URL"
	EnvBookServiceURL   = "CATALOG_BOOK_SERVICE_URL"

	EnvOutboxMaxRetries = "CATALOG_OUTBOX_MAX_RETRIES"
	EnvOutboxPollMS     = "CATALOG_OUTBOX_PUBLISH_POLL_MS"

	EnvBrokerKind = "CATALOG_BROKER_KIND"
	EnvSagaTTL    = "CATALOG_SAGA_INSTANCE_TTL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
