package config

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/multierr"
)

const (
	EnvPrefix = "WAVESTUDIO"

	EnvAppEnv            = "WAVESTUDIO_APP_ENV"
	EnvPort              = "WAVESTUDIO_APP_PORT"
	EnvDBDSN             = "WAVESTUDIO_DB_DSN"
	EnvDBHost            = "WAVESTUDIO_DB_HOST"
	EnvDBUser            = "WAVESTUDIO_DB_USER"
	EnvDBName            = "WAVESTUDIO_DB_NAME"
	EnvRedisURL          = "WAVESTUDIO_REDIS_URL"
	EnvWebhookSecret     = "WAVESTUDIO_PAYMENTS_WEBHOOK_SECRET"
	EnvWellhubCredits    = "WAVESTUDIO_CORPORATE_WELLHUB_CREDITS"
	EnvTotalpassCredits  = "WAVESTUDIO_CORPORATE_TOTALPASS_CREDITS"
	EnvCancelWindowMins  = "WAVESTUDIO_BOOKING_CANCEL_WINDOW_MIN"
	EnvCronInterval      = "WAVESTUDIO_CRON_INTERVAL"
	EnvPaymentsProvider  = "WAVESTUDIO_PAYMENTS_PROVIDER"
	EnvDeliveryGuardTTL  = "WAVESTUDIO_PAYMENTS_DELIVERY_TTL"
	EnvSignatureMaxSkew  = "WAVESTUDIO_PAYMENTS_SIGNATURE_MAX_SKEW"
	EnvAutoMigrate       = "WAVESTUDIO_AUTO_MIGRATE"
	EnvRequireSignatures = "WAVESTUDIO_PAYMENTS_REQUIRE_SIGNATURE"

	AppEnvDev     = "dev"
	AppEnvStaging = "staging"
	AppEnvProd    = "prod"
	AppEnvTest    = "test"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	Payments     PaymentsConfig
	Booking      BookingConfig
	Corporate    CorporateConfig
	Cron         CronConfig
	HTTP         HTTPConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// fieldValidator reports failures by env var name rather than Go field.
var fieldValidator = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("envconfig"); name != "" {
			return name
		}
		return f.Name
	})
	return v
}()

// validate checks field tags and the cross-field rules. Every failure is
// reported, not only the first.
func (c *Config) validate() error {
	var errs error
	if err := fieldValidator.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("validating config: %w", err)
		}
		for _, fe := range fieldErrs {
			errs = multierr.Append(errs, fieldError(fe))
		}
	}
	if c.Payments.RequireSignature && strings.TrimSpace(c.Payments.WebhookSecret) == "" {
		errs = multierr.Append(errs, fmt.Errorf("%s is required while signatures are enforced", EnvWebhookSecret))
	}
	if c.Cron.LockTTL > 0 && c.Cron.LockTTL < time.Minute {
		errs = multierr.Append(errs, errors.New("WAVESTUDIO_CRON_LOCK_TTL must be at least 1m"))
	}
	return errs
}

func fieldError(fe validator.FieldError) error {
	if fe.Param() == "" {
		return fmt.Errorf("%s failed %s", fe.Field(), fe.Tag())
	}
	return fmt.Errorf("%s must satisfy %s=%s, got %v", fe.Field(), fe.Tag(), fe.Param(), fe.Value())
}

type AppConfig struct {
	Env          string `envconfig:"WAVESTUDIO_APP_ENV" required:"true" validate:"oneof=dev staging prod test"`
	Port         string `envconfig:"WAVESTUDIO_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"WAVESTUDIO_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"WAVESTUDIO_LOG_FORMAT" default:"json" validate:"oneof=json console"`
	LogWarnStack bool   `envconfig:"WAVESTUDIO_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"WAVESTUDIO_DB_DSN"`
	Driver string `envconfig:"WAVESTUDIO_DB_DRIVER" default:"postgres" validate:"oneof=postgres"`

	LegacyHost     string `envconfig:"WAVESTUDIO_DB_HOST"`
	LegacyPort     int    `envconfig:"WAVESTUDIO_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"WAVESTUDIO_DB_USER"`
	LegacyPassword string `envconfig:"WAVESTUDIO_DB_PASSWORD"`
	LegacyName     string `envconfig:"WAVESTUDIO_DB_NAME"`
	LegacySSLMode  string `envconfig:"WAVESTUDIO_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"WAVESTUDIO_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"WAVESTUDIO_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"WAVESTUDIO_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"WAVESTUDIO_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// SlowQueryThreshold logs statements slower than this; zero disables.
	SlowQueryThreshold time.Duration `envconfig:"WAVESTUDIO_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"WAVESTUDIO_REDIS_URL"`
	Address      string        `envconfig:"WAVESTUDIO_REDIS_ADDR"`
	Password     string        `envconfig:"WAVESTUDIO_REDIS_PASSWORD"`
	DB           int           `envconfig:"WAVESTUDIO_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"WAVESTUDIO_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"WAVESTUDIO_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"WAVESTUDIO_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"WAVESTUDIO_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"WAVESTUDIO_REDIS_WRITE_TIMEOUT" default:"5s"`
	// Namespace prefixes every key so environments can share one instance.
	Namespace string `envconfig:"WAVESTUDIO_REDIS_NAMESPACE" default:"ws"`
}

// Enabled reports whether any redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return r.URL != "" || r.Address != ""
}

type PaymentsConfig struct {
	Provider         string        `envconfig:"WAVESTUDIO_PAYMENTS_PROVIDER" default:"mercadopago" validate:"required"`
	WebhookSecret    string        `envconfig:"WAVESTUDIO_PAYMENTS_WEBHOOK_SECRET"`
	RequireSignature bool          `envconfig:"WAVESTUDIO_PAYMENTS_REQUIRE_SIGNATURE" default:"true"`
	SignatureMaxSkew time.Duration `envconfig:"WAVESTUDIO_PAYMENTS_SIGNATURE_MAX_SKEW" default:"0s"`
	DeliveryGuardTTL time.Duration `envconfig:"WAVESTUDIO_PAYMENTS_DELIVERY_TTL" default:"10m"`
	Currency         string        `envconfig:"WAVESTUDIO_PAYMENTS_CURRENCY" default:"MXN" validate:"len=3,uppercase"`
}

type BookingConfig struct {
	CancelWindowMinutes int `envconfig:"WAVESTUDIO_BOOKING_CANCEL_WINDOW_MIN" default:"240" validate:"min=0"`
}

// CancelWindow returns the fallback cancellation window.
func (b BookingConfig) CancelWindow() time.Duration {
	return time.Duration(b.CancelWindowMinutes) * time.Minute
}

type CorporateConfig struct {
	WellhubCredits   int `envconfig:"WAVESTUDIO_CORPORATE_WELLHUB_CREDITS" default:"8" validate:"min=1"`
	TotalpassCredits int `envconfig:"WAVESTUDIO_CORPORATE_TOTALPASS_CREDITS" default:"8" validate:"min=1"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"WAVESTUDIO_CRON_INTERVAL" default:"1h" validate:"min=1m"`
	LockKey  string        `envconfig:"WAVESTUDIO_CRON_LOCK_KEY" default:"cron" validate:"required"`
	LockTTL  time.Duration `envconfig:"WAVESTUDIO_CRON_LOCK_TTL" default:"50m"`
	// MetricsAddr serves /metrics for the worker; empty disables it.
	MetricsAddr string `envconfig:"WAVESTUDIO_CRON_METRICS_ADDR" default:":9091"`
}

type HTTPConfig struct {
	CORSOrigins       []string      `envconfig:"WAVESTUDIO_CORS_ORIGINS" default:"http://localhost:3000"`
	BookingRateWindow time.Duration `envconfig:"WAVESTUDIO_RATE_LIMIT_BOOKING_WINDOW" default:"1m"`
	BookingRateLimit  int           `envconfig:"WAVESTUDIO_RATE_LIMIT_BOOKING" default:"20" validate:"min=0"`
	ReadTimeout       time.Duration `envconfig:"WAVESTUDIO_HTTP_READ_TIMEOUT" default:"15s"`
	WriteTimeout      time.Duration `envconfig:"WAVESTUDIO_HTTP_WRITE_TIMEOUT" default:"15s"`
	ShutdownTimeout   time.Duration `envconfig:"WAVESTUDIO_HTTP_SHUTDOWN_TIMEOUT" default:"10s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"WAVESTUDIO_AUTO_MIGRATE" default:"false"`
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
