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
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Orders       OrdersConfig
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
	if err := cfg.Orders.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"PHARMALINK_APP_ENV" required:"true"`
	Port         string `envconfig:"PHARMALINK_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"PHARMALINK_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PHARMALINK_LOG_WARN_STACK" default:"false"`
	// CORSAllowedOrigins is a comma separated list of browser origins.
	CORSAllowedOrigins []string `envconfig:"PHARMALINK_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"PHARMALINK_SERVICE_KIND" default:"api"`
	// MetricsAddr is where background workers expose /metrics. Empty disables it.
	MetricsAddr string `envconfig:"PHARMALINK_METRICS_ADDR"`
}

type DBConfig struct {
	DSN    string `envconfig:"PHARMALINK_DB_DSN"`
	Driver string `envconfig:"PHARMALINK_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PHARMALINK_DB_HOST"`
	LegacyPort     int    `envconfig:"PHARMALINK_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PHARMALINK_DB_USER"`
	LegacyPassword string `envconfig:"PHARMALINK_DB_PASSWORD"`
	LegacyName     string `envconfig:"PHARMALINK_DB_NAME"`
	LegacySSLMode  string `envconfig:"PHARMALINK_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PHARMALINK_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PHARMALINK_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PHARMALINK_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PHARMALINK_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// SlowQueryThreshold logs statements slower than this at warn. Zero disables it.
	SlowQueryThreshold time.Duration `envconfig:"PHARMALINK_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PHARMALINK_REDIS_URL"`
	Address      string        `envconfig:"PHARMALINK_REDIS_ADDR"`
	Password     string        `envconfig:"PHARMALINK_REDIS_PASSWORD"`
	DB           int           `envconfig:"PHARMALINK_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PHARMALINK_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PHARMALINK_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PHARMALINK_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PHARMALINK_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PHARMALINK_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig verifies access tokens minted by the identity service.
type JWTConfig struct {
	Secret string `envconfig:"PHARMALINK_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"PHARMALINK_JWT_ISSUER" required:"true"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"PHARMALINK_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL  time.Duration `envconfig:"PHARMALINK_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	RequestIdempotencyTTL time.Duration `envconfig:"PHARMALINK_REQUEST_IDEMPOTENCY_TTL" default:"24h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"PHARMALINK_GCP_PROJECT_ID"`
	ApplicationCredentials string `envconfig:"PHARMALINK_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic              string `envconfig:"PHARMALINK_PUBSUB_ORDERS_TOPIC" default:"pl-order-events"`
	NotificationSubscription string `envconfig:"PHARMALINK_PUBSUB_NOTIFICATION_SUBSCRIPTION" default:"pl-order-notifications"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"PHARMALINK_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"PHARMALINK_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"PHARMALINK_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

// OrdersConfig tunes order placement and the retention sweep.
type OrdersConfig struct {
	RetentionDays        int    `envconfig:"PHARMALINK_ORDER_RETENTION_DAYS" default:"365"`
	RetentionBatchSize   int    `envconfig:"PHARMALINK_ORDER_RETENTION_BATCH_SIZE" default:"200"`
	DefaultPaymentMethod string `envconfig:"PHARMALINK_ORDER_DEFAULT_PAYMENT_METHOD" default:"cash"`
}

// RetentionWindow returns how long terminal orders are kept.
func (o OrdersConfig) RetentionWindow() time.Duration {
	return time.Duration(o.RetentionDays) * 24 * time.Hour
}

func (o OrdersConfig) validate() error {
	if o.RetentionDays <= 0 {
		return fmt.Errorf("%s must be positive", EnvOrderRetentionDays)
	}
	if o.RetentionBatchSize <= 0 {
		return fmt.Errorf("%s must be positive", EnvOrderRetentionBatchSize)
	}
	return nil
}

type CronConfig struct {
	Interval time.Duration `envconfig:"PHARMALINK_CRON_INTERVAL" default:"1h"`
	LockTTL  time.Duration `envconfig:"PHARMALINK_CRON_LOCK_TTL" default:"10m"`
	// NotificationRetentionDays bounds how long read notifications are kept.
	NotificationRetentionDays int `envconfig:"PHARMALINK_NOTIFICATION_RETENTION_DAYS" default:"90"`
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
