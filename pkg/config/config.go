package config

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/multierr"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Escrow       EscrowConfig
	Stripe       StripeConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Cron         CronConfig
}

// Load reads the INSPECTBID_* environment. Every rule violation is
// reported at once so a broken deploy shows its whole config diff.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	err := multierr.Combine(
		cfg.DB.resolveDSN(),
		cfg.Escrow.validate(),
		cfg.Stripe.validate(),
	)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"INSPECTBID_APP_ENV" required:"true"`
	Port         string `envconfig:"INSPECTBID_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"INSPECTBID_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"INSPECTBID_LOG_WARN_STACK" default:"false"`

	CORSAllowedOrigins []string `envconfig:"INSPECTBID_CORS_ALLOWED_ORIGINS"`
	// RateLimit is "<limit>-<S|M|H>" per caller; empty disables throttling.
	RateLimit string `envconfig:"INSPECTBID_RATE_LIMIT" default:"300-M"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"INSPECTBID_DB_DSN"`
	Driver string `envconfig:"INSPECTBID_DB_DRIVER" default:"postgres"`

	// Parts build a postgres DSN when DSN is unset.
	Host     string `envconfig:"INSPECTBID_DB_HOST"`
	Port     int    `envconfig:"INSPECTBID_DB_PORT" default:"5432"`
	User     string `envconfig:"INSPECTBID_DB_USER"`
	Password string `envconfig:"INSPECTBID_DB_PASSWORD"`
	Name     string `envconfig:"INSPECTBID_DB_NAME"`
	SSLMode  string `envconfig:"INSPECTBID_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"INSPECTBID_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"INSPECTBID_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"INSPECTBID_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"INSPECTBID_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// SlowQuery logs statements slower than this at warn. Zero disables it.
	SlowQuery time.Duration `envconfig:"INSPECTBID_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"INSPECTBID_REDIS_URL" required:"true"`
	Address      string        `envconfig:"INSPECTBID_REDIS_ADDR"`
	Password     string        `envconfig:"INSPECTBID_REDIS_PASSWORD"`
	DB           int           `envconfig:"INSPECTBID_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"INSPECTBID_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"INSPECTBID_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"INSPECTBID_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"INSPECTBID_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"INSPECTBID_REDIS_WRITE_TIMEOUT" default:"5s"`

	IdempotencyTTL time.Duration `envconfig:"INSPECTBID_IDEMPOTENCY_TTL" default:"24h"`
}

// JWTConfig holds the verification settings for tokens minted by the identity service.
type JWTConfig struct {
	Secret string `envconfig:"INSPECTBID_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"INSPECTBID_JWT_ISSUER" required:"true"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"INSPECTBID_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"INSPECTBID_AUTO_MIGRATE" default:"false"`
}

// EscrowConfig carries the marketplace money rules.
type EscrowConfig struct {
	// FeeBasisPoints is the platform cut; 1000 = 10%.
	FeeBasisPoints       int64  `envconfig:"INSPECTBID_ESCROW_FEE_BPS" default:"1000"`
	Currency             string `envconfig:"INSPECTBID_ESCROW_CURRENCY" default:"usd"`
	CheckoutSuccessURL   string `envconfig:"INSPECTBID_CHECKOUT_SUCCESS_URL" required:"true"`
	CheckoutCancelURL    string `envconfig:"INSPECTBID_CHECKOUT_CANCEL_URL" required:"true"`
	OnboardingReturnURL  string `envconfig:"INSPECTBID_ONBOARDING_RETURN_URL" required:"true"`
	OnboardingRefreshURL string `envconfig:"INSPECTBID_ONBOARDING_REFRESH_URL" required:"true"`
}

func (e EscrowConfig) validate() error {
	if e.FeeBasisPoints < 0 || e.FeeBasisPoints > 10000 {
		return fmt.Errorf("%s must be between 0 and 10000", EnvEscrowFeeBPS)
	}
	if strings.TrimSpace(e.Currency) == "" {
		return fmt.Errorf("%s is required", EnvEscrowCurrency)
	}
	return nil
}

type StripeConfig struct {
	APIKey string `envconfig:"INSPECTBID_STRIPE_API_KEY"`
	Secret string `envconfig:"INSPECTBID_STRIPE_SECRET"`
	Env    string `envconfig:"INSPECTBID_STRIPE_ENV" default:"test"`
}

func (s StripeConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(s.Env)) {
	case "", "test", "live":
		return nil
	}
	return fmt.Errorf("%s must be test or live, got %q", EnvStripeEnv, s.Env)
}

type GCPConfig struct {
	ProjectID              string `envconfig:"INSPECTBID_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"INSPECTBID_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"INSPECTBID_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	EscrowTopic string `envconfig:"INSPECTBID_PUBSUB_ESCROW_TOPIC" default:"inspectbid-escrow-events"`
	// CreateTopic lets dev and emulator setups boot against an empty project.
	CreateTopic bool `envconfig:"INSPECTBID_PUBSUB_CREATE_TOPIC" default:"false"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"INSPECTBID_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"INSPECTBID_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"INSPECTBID_OUTBOX_MAX_ATTEMPTS" default:"10"`
	// Retention is how long delivered rows are kept for replay and audits.
	Retention time.Duration `envconfig:"INSPECTBID_OUTBOX_RETENTION" default:"336h"`
	MaxLag    time.Duration `envconfig:"INSPECTBID_OUTBOX_MAX_LAG" default:"15m"`
}

type CronConfig struct {
	Interval        time.Duration `envconfig:"INSPECTBID_CRON_INTERVAL" default:"5m"`
	LockTTL         time.Duration `envconfig:"INSPECTBID_CRON_LOCK_TTL" default:"4m"`
	JobTimeout      time.Duration `envconfig:"INSPECTBID_CRON_JOB_TIMEOUT" default:"3m"`
	OpenJobMaxAge   time.Duration `envconfig:"INSPECTBID_CRON_OPEN_JOB_MAX_AGE" default:"720h"`
	PayoutBatchSize int           `envconfig:"INSPECTBID_CRON_PAYOUT_BATCH_SIZE" default:"25"`
	RefundBatchSize int           `envconfig:"INSPECTBID_CRON_REFUND_BATCH_SIZE" default:"25"`

	NotificationReadRetention   time.Duration `envconfig:"INSPECTBID_CRON_NOTIFICATION_READ_RETENTION" default:"720h"`
	NotificationUnreadRetention time.Duration `envconfig:"INSPECTBID_CRON_NOTIFICATION_UNREAD_RETENTION" default:"4320h"`
}

func (db *DBConfig) resolveDSN() error {
	switch {
	case db.DSN != "":
		return nil
	case strings.EqualFold(db.Driver, DBDriverSQLite):
		db.DSN = "inspectbid.db"
		return nil
	}
	var missing []string
	for name, value := range map[string]string{EnvDBHost: db.Host, EnvDBUser: db.User, EnvDBName: db.Name} {
		if value == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%s is unset and so are %s", EnvDBDSN, strings.Join(missing, ", "))
	}

	dsn := url.URL{
		Scheme: "postgres",
		User:   url.User(db.User),
		Host:   net.JoinHostPort(db.Host, strconv.Itoa(db.Port)),
		Path:   db.Name,
	}
	if db.Password != "" {
		dsn.User = url.UserPassword(db.User, db.Password)
	}
	if db.SSLMode != "" {
		dsn.RawQuery = url.Values{"sslmode": {db.SSLMode}}.Encode()
	}
	db.DSN = dsn.String()
	return nil
}
