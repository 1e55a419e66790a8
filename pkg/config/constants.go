package config

const (
	EnvPrefix = "SNOWSKILL"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv      = "SNOWSKILL_APP_ENV"
	EnvPort        = "SNOWSKILL_APP_PORT"
	EnvLogLevel    = "SNOWSKILL_LOG_LEVEL"
	EnvDBDSN       = "SNOWSKILL_DB_DSN"
	EnvDBHost      = "SNOWSKILL_DB_HOST"
	EnvDBUser      = "SNOWSKILL_DB_USER"
	EnvDBName      = "SNOWSKILL_DB_NAME"
	EnvDBPassword  = "SNOWSKILL_DB_PASSWORD"
	EnvRedisURL    = "SNOWSKILL_REDIS_URL"
	EnvSupabaseURL = "SNOWSKILL_SUPABASE_URL"
	EnvSupabaseKey = "SNOWSKILL_SUPABASE_SERVICE_ROLE_KEY"
	EnvCronSecret  = "SNOWSKILL_CRON_SECRET"

	EnvTrialBlockedDomains = "SNOWSKILL_TRIAL_EMAIL_DOMAIN_BLACKLIST"
	EnvRateLimitWindow     = "SNOWSKILL_RATE_LIMIT_WINDOW"

	EnvAffiliateDefaultRate = "SNOWSKILL_AFFILIATE_DEFAULT_RATE"
	EnvAffiliateMinRate     = "SNOWSKILL_AFFILIATE_MIN_RATE"
	EnvAffiliateMaxRate     = "SNOWSKILL_AFFILIATE_MAX_RATE"
)

const (
	PaymentProviderMock   = "mock"
	PaymentProviderStripe = "stripe"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
