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
	GoogleMaps   GoogleMapsConfig
	Store        StoreConfig
	Stripe       StripeConfig
	Settlement   SettlementConfig
	Webhooks     WebhooksConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
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
	if err := cfg.Settlement.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SHIPSPLIT_APP_ENV" required:"true"`
	Port         string `envconfig:"SHIPSPLIT_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"SHIPSPLIT_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"SHIPSPLIT_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"SHIPSPLIT_LOG_WARN_STACK" default:"false"`

	CORSOrigins []string `envconfig:"SHIPSPLIT_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"SHIPSPLIT_DB_DSN"`
	Driver string `envconfig:"SHIPSPLIT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SHIPSPLIT_DB_HOST"`
	LegacyPort     int    `envconfig:"SHIPSPLIT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SHIPSPLIT_DB_USER"`
	LegacyPassword string `envconfig:"SHIPSPLIT_DB_PASSWORD"`
	LegacyName     string `envconfig:"SHIPSPLIT_DB_NAME"`
	LegacySSLMode  string `envconfig:"SHIPSPLIT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SHIPSPLIT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SHIPSPLIT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SHIPSPLIT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SHIPSPLIT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// IsSQLite reports whether the local sqlite driver was selected.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DBDriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"SHIPSPLIT_REDIS_URL"`
	Address      string        `envconfig:"SHIPSPLIT_REDIS_ADDR"`
	Password     string        `envconfig:"SHIPSPLIT_REDIS_PASSWORD"`
	DB           int           `envconfig:"SHIPSPLIT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SHIPSPLIT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SHIPSPLIT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SHIPSPLIT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SHIPSPLIT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SHIPSPLIT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig verifies tokens minted by the identity service.
type JWTConfig struct {
	Secret string `envconfig:"SHIPSPLIT_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"SHIPSPLIT_JWT_ISSUER" required:"true"`
}

// RateLimitConfig throttles unauthenticated surfaces that call paid APIs.
type RateLimitConfig struct {
	QuoteWindow  time.Duration `envconfig:"SHIPSPLIT_RATE_LIMIT_QUOTE_WINDOW" default:"1m"`
	QuoteIPLimit int           `envconfig:"SHIPSPLIT_RATE_LIMIT_QUOTE_IP_LIMIT" default:"30"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"SHIPSPLIT_AUTO_MIGRATE" default:"false"`
}

type GoogleMapsConfig struct {
	APIKey string `envconfig:"SHIPSPLIT_GOOGLE_MAPS_API_KEY"`
}

// StoreConfig is the fixed pickup origin used for delivery distance pricing.
type StoreConfig struct {
	Latitude  float64 `envconfig:"SHIPSPLIT_STORE_LAT" default:"40.7128"`
	Longitude float64 `envconfig:"SHIPSPLIT_STORE_LNG" default:"-74.0060"`
	Street    string  `envconfig:"SHIPSPLIT_STORE_STREET"`
	City      string  `envconfig:"SHIPSPLIT_STORE_CITY"`
	State     string  `envconfig:"SHIPSPLIT_STORE_STATE"`
	Zip       string  `envconfig:"SHIPSPLIT_STORE_ZIP"`
}

type StripeConfig struct {
	APIKey     string        `envconfig:"SHIPSPLIT_STRIPE_API_KEY"`
	Secret     string        `envconfig:"SHIPSPLIT_STRIPE_SECRET"`
	Env        string        `envconfig:"SHIPSPLIT_STRIPE_ENV" default:"test"`
	Currency   string        `envconfig:"SHIPSPLIT_STRIPE_CURRENCY" default:"usd"`
	SuccessURL string        `envconfig:"SHIPSPLIT_STRIPE_SUCCESS_URL" default:"http://localhost:3000/checkout/success"`
	CancelURL  string        `envconfig:"SHIPSPLIT_STRIPE_CANCEL_URL" default:"http://localhost:3000/checkout/cancel"`
	SessionTTL time.Duration `envconfig:"SHIPSPLIT_STRIPE_SESSION_TTL" default:"30m"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type SettlementConfig struct {
	PlatformFeePercent int64         `envconfig:"SHIPSPLIT_PLATFORM_FEE_PERCENT" default:"10"`
	HouseVendorID      string        `envconfig:"SHIPSPLIT_HOUSE_VENDOR_ID"`
	StaleAfter         time.Duration `envconfig:"SHIPSPLIT_SETTLEMENT_STALE_AFTER" default:"15m"`
}

func (s SettlementConfig) validate() error {
	if s.PlatformFeePercent < 0 || s.PlatformFeePercent > 100 {
		return fmt.Errorf("%s must be between 0 and 100", EnvPlatformFeePercent)
	}
	return nil
}

type WebhooksConfig struct {
	IdempotencyTTL time.Duration `envconfig:"SHIPSPLIT_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"SHIPSPLIT_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	DomainTopic  string `envconfig:"SHIPSPLIT_PUBSUB_DOMAIN_TOPIC" default:"shipsplit-domain-events"`
	PayoutsTopic string `envconfig:"SHIPSPLIT_PUBSUB_PAYOUTS_TOPIC" default:"shipsplit-payout-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"SHIPSPLIT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"SHIPSPLIT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"SHIPSPLIT_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type CronConfig struct {
	Interval     time.Duration `envconfig:"SHIPSPLIT_CRON_INTERVAL" default:"10m"`
	LockKey      string        `envconfig:"SHIPSPLIT_CRON_LOCK_KEY" default:"shipsplit:cron:lock"`
	LockTTL      time.Duration `envconfig:"SHIPSPLIT_CRON_LOCK_TTL" default:"9m"`
	SessionGrace time.Duration `envconfig:"SHIPSPLIT_CRON_SESSION_GRACE" default:"15m"`
	RefundResume time.Duration `envconfig:"SHIPSPLIT_CRON_REFUND_RESUME_AFTER" default:"15m"`
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
