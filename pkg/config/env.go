package config

const (
	EnvPrefix = "SHIPSPLIT"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"

	EnvAppEnv             = "SHIPSPLIT_APP_ENV"
	EnvPort               = "SHIPSPLIT_APP_PORT"
	EnvDBDSN              = "SHIPSPLIT_DB_DSN"
	EnvDBDriver           = "SHIPSPLIT_DB_DRIVER"
	EnvDBHost             = "SHIPSPLIT_DB_HOST"
	EnvDBUser             = "SHIPSPLIT_DB_USER"
	EnvDBPassword         = "SHIPSPLIT_DB_PASSWORD"
	EnvDBName             = "SHIPSPLIT_DB_NAME"
	EnvRedisURL           = "SHIPSPLIT_REDIS_URL"
	EnvJWTSecret          = "SHIPSPLIT_JWT_SECRET"
	EnvJWTIssuer          = "SHIPSPLIT_JWT_ISSUER"
	EnvPlatformFeePercent = "SHIPSPLIT_PLATFORM_FEE_PERCENT"
	EnvHouseVendorID      = "SHIPSPLIT_HOUSE_VENDOR_ID"
	EnvStripeSessionTTL   = "SHIPSPLIT_STRIPE_SESSION_TTL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
