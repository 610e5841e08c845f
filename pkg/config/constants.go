package config

const (
	EnvPrefix = "INSPECTBID"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"

	EnvAppEnv = "INSPECTBID_APP_ENV"
	EnvPort   = "INSPECTBID_APP_PORT"

	EnvDBDSN  = "INSPECTBID_DB_DSN"
	EnvDBHost = "INSPECTBID_DB_HOST"
	EnvDBUser = "INSPECTBID_DB_USER"
	EnvDBName = "INSPECTBID_DB_NAME"

	EnvRedisURL = "INSPECTBID_REDIS_URL"

	EnvJWTSecret = "INSPECTBID_JWT_SECRET"
	EnvJWTIssuer = "INSPECTBID_JWT_ISSUER"

	EnvEscrowFeeBPS       = "INSPECTBID_ESCROW_FEE_BPS"
	EnvEscrowCurrency     = "INSPECTBID_ESCROW_CURRENCY"
	EnvCheckoutSuccessURL = "INSPECTBID_CHECKOUT_SUCCESS_URL"
	EnvCheckoutCancelURL  = "INSPECTBID_CHECKOUT_CANCEL_URL"
	EnvOnboardingReturn   = "INSPECTBID_ONBOARDING_RETURN_URL"
	EnvOnboardingRefresh  = "INSPECTBID_ONBOARDING_REFRESH_URL"

	EnvStripeEnv = "INSPECTBID_STRIPE_ENV"
)
