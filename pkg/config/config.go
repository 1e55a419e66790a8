package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App       AppConfig
	Service   ServiceConfig
	DB        DBConfig
	Redis     RedisConfig
	Supabase  SupabaseConfig
	Coupons   CouponsConfig
	Abuse     AbuseConfig
	RateLimit RateLimitConfig
	Cron      CronConfig
	Payments  PaymentsConfig
	Stripe    StripeConfig
	Turnstile TurnstileConfig
	UserCore  UserCoreConfig
	Affiliate AffiliateConfig
	Features  FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Affiliate.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"SNOWSKILL_APP_ENV" required:"true"`
	Port         string   `envconfig:"SNOWSKILL_APP_PORT" default:"8080"`
	LogLevel     string   `envconfig:"SNOWSKILL_LOG_LEVEL" default:"info"`
	LogFormat    string   `envconfig:"SNOWSKILL_LOG_FORMAT" default:"json"`
	LogWarnStack bool     `envconfig:"SNOWSKILL_LOG_WARN_STACK" default:"false"`
	CORSOrigins  []string `envconfig:"SNOWSKILL_CORS_ORIGINS" default:"http://localhost:3000,https://www.snowskill.app"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"SNOWSKILL_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"SNOWSKILL_DB_DSN"`
	Driver string `envconfig:"SNOWSKILL_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SNOWSKILL_DB_HOST"`
	LegacyPort     int    `envconfig:"SNOWSKILL_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SNOWSKILL_DB_USER"`
	LegacyPassword string `envconfig:"SNOWSKILL_DB_PASSWORD"`
	LegacyName     string `envconfig:"SNOWSKILL_DB_NAME"`
	LegacySSLMode  string `envconfig:"SNOWSKILL_DB_SSLMODE" default:"require"`

	MaxOpenConns    int           `envconfig:"SNOWSKILL_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SNOWSKILL_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SNOWSKILL_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SNOWSKILL_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"SNOWSKILL_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SNOWSKILL_REDIS_URL"`
	Address      string        `envconfig:"SNOWSKILL_REDIS_ADDR"`
	Password     string        `envconfig:"SNOWSKILL_REDIS_PASSWORD"`
	DB           int           `envconfig:"SNOWSKILL_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SNOWSKILL_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SNOWSKILL_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SNOWSKILL_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SNOWSKILL_REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"SNOWSKILL_REDIS_WRITE_TIMEOUT" default:"3s"`
}

// Enabled reports whether any Redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type SupabaseConfig struct {
	URL        string `envconfig:"SNOWSKILL_SUPABASE_URL" required:"true"`
	ServiceKey string `envconfig:"SNOWSKILL_SUPABASE_SERVICE_ROLE_KEY" required:"true"`
	JWTSecret  string `envconfig:"SNOWSKILL_SUPABASE_JWT_SECRET"`
}

type CouponsConfig struct {
	TrialPlanID       string        `envconfig:"SNOWSKILL_TRIAL_PLAN_ID" default:"pass_7"`
	TrialPlanLabel    string        `envconfig:"SNOWSKILL_TRIAL_PLAN_LABEL" default:"7天 PASS"`
	TrialDurationDays int           `envconfig:"SNOWSKILL_TRIAL_DURATION_DAYS" default:"7"`
	IPWindow          time.Duration `envconfig:"SNOWSKILL_TRIAL_IP_WINDOW" default:"24h"`
	IPLimit           int           `envconfig:"SNOWSKILL_TRIAL_IP_LIMIT" default:"3"`
	BlockedDomains    []string      `envconfig:"SNOWSKILL_TRIAL_EMAIL_DOMAIN_BLACKLIST"`
	RecordTrialPay    bool          `envconfig:"SNOWSKILL_TRIAL_RECORD_PAYMENT" default:"true"`
}

// TrialDuration converts the configured day count into a duration.
func (c CouponsConfig) TrialDuration() time.Duration {
	if c.TrialDurationDays <= 0 {
		return 0
	}
	return time.Duration(c.TrialDurationDays) * 24 * time.Hour
}

type AbuseConfig struct {
	EmailAliasLimit     int           `envconfig:"SNOWSKILL_ABUSE_EMAIL_ALIAS_LIMIT" default:"3"`
	IPActivationWindow  time.Duration `envconfig:"SNOWSKILL_ABUSE_IP_ACTIVATION_WINDOW" default:"168h"`
	IPActivationLimit   int           `envconfig:"SNOWSKILL_ABUSE_IP_ACTIVATION_LIMIT" default:"5"`
	MinAccountAge       time.Duration `envconfig:"SNOWSKILL_ABUSE_MIN_ACCOUNT_AGE" default:"5m"`
	SkipAccountAgeCheck bool          `envconfig:"SNOWSKILL_ABUSE_SKIP_ACCOUNT_AGE" default:"false"`
}

type RateLimitConfig struct {
	Enabled bool          `envconfig:"SNOWSKILL_RATE_LIMIT_ENABLED" default:"true"`
	Window  time.Duration `envconfig:"SNOWSKILL_RATE_LIMIT_WINDOW" default:"60s"`
	Max     int           `envconfig:"SNOWSKILL_RATE_LIMIT_MAX" default:"100"`
}

type CronConfig struct {
	Secret   string        `envconfig:"SNOWSKILL_CRON_SECRET"`
	Interval time.Duration `envconfig:"SNOWSKILL_CRON_INTERVAL" default:"1h"`
	LockTTL  time.Duration `envconfig:"SNOWSKILL_CRON_LOCK_TTL" default:"50m"`

	// MetricsAddr serves /metrics from the worker when set, e.g. ":9102".
	MetricsAddr string `envconfig:"SNOWSKILL_CRON_METRICS_ADDR"`
}

type PaymentsConfig struct {
	Provider      string `envconfig:"SNOWSKILL_PAYMENT_PROVIDER" default:"mock"`
	Currency      string `envconfig:"SNOWSKILL_PAYMENT_CURRENCY" default:"TWD"`
	WebhookSecret string `envconfig:"SNOWSKILL_PAYMENT_WEBHOOK_SECRET"`
	SuccessURL    string `envconfig:"SNOWSKILL_PAYMENT_SUCCESS_URL" default:"https://www.snowskill.app/payment/success"`
	CancelURL     string `envconfig:"SNOWSKILL_PAYMENT_CANCEL_URL" default:"https://www.snowskill.app/pricing"`
	MockBaseURL   string `envconfig:"SNOWSKILL_PAYMENT_MOCK_URL" default:"http://localhost:3000/payment/mock"`
}

// ProviderName returns the normalized payment provider key.
func (p PaymentsConfig) ProviderName() string {
	name := strings.TrimSpace(strings.ToLower(p.Provider))
	if name == "" {
		return PaymentProviderMock
	}
	return name
}

type StripeConfig struct {
	APIKey        string        `envconfig:"SNOWSKILL_STRIPE_API_KEY"`
	WebhookSecret string        `envconfig:"SNOWSKILL_STRIPE_WEBHOOK_SECRET"`
	Env           string        `envconfig:"SNOWSKILL_STRIPE_ENV" default:"test"`
	IdempotentTTL time.Duration `envconfig:"SNOWSKILL_STRIPE_IDEMPOTENCY_TTL" default:"72h"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type TurnstileConfig struct {
	SecretKey string        `envconfig:"SNOWSKILL_TURNSTILE_SECRET_KEY"`
	VerifyURL string        `envconfig:"SNOWSKILL_TURNSTILE_VERIFY_URL" default:"https://challenges.cloudflare.com/turnstile/v0/siteverify"`
	Timeout   time.Duration `envconfig:"SNOWSKILL_TURNSTILE_TIMEOUT" default:"5s"`
}

type UserCoreConfig struct {
	BaseURL string        `envconfig:"SNOWSKILL_USERCORE_BASE_URL" default:"https://user-core.zeabur.app"`
	Timeout time.Duration `envconfig:"SNOWSKILL_USERCORE_TIMEOUT" default:"3s"`
}

type AffiliateConfig struct {
	DefaultRate       string `envconfig:"SNOWSKILL_AFFILIATE_DEFAULT_RATE" default:"0.15"`
	MinRate           string `envconfig:"SNOWSKILL_AFFILIATE_MIN_RATE" default:"0.05"`
	MaxRate           string `envconfig:"SNOWSKILL_AFFILIATE_MAX_RATE" default:"0.30"`
	ReferralLinkBase  string `envconfig:"SNOWSKILL_AFFILIATE_REFERRAL_BASE" default:"https://www.snowskill.app/pricing?coupon="`
	PartnerCouponUses int    `envconfig:"SNOWSKILL_AFFILIATE_COUPON_MAX_USES" default:"1000"`
}

// Rates parses the configured commission bounds.
func (a AffiliateConfig) Rates() (def, lower, upper decimal.Decimal, err error) {
	if def, err = decimal.NewFromString(a.DefaultRate); err != nil {
		return def, lower, upper, fmt.Errorf("%s: %w", EnvAffiliateDefaultRate, err)
	}
	if lower, err = decimal.NewFromString(a.MinRate); err != nil {
		return def, lower, upper, fmt.Errorf("%s: %w", EnvAffiliateMinRate, err)
	}
	if upper, err = decimal.NewFromString(a.MaxRate); err != nil {
		return def, lower, upper, fmt.Errorf("%s: %w", EnvAffiliateMaxRate, err)
	}
	return def, lower, upper, nil
}

func (a AffiliateConfig) validate() error {
	def, lower, upper, err := a.Rates()
	if err != nil {
		return err
	}
	if lower.GreaterThan(upper) || def.LessThan(lower) || def.GreaterThan(upper) {
		return fmt.Errorf("affiliate rates out of order: min=%s default=%s max=%s", lower, def, upper)
	}
	return nil
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"SNOWSKILL_AUTO_MIGRATE" default:"false"`
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
