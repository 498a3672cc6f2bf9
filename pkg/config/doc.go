// Package config provides application configuration management from environment variables.
//
// # Required settings
//
//	GATEHOUSE_DATABASE_URL="postgres://gatehouse@db/erp?sslmode=require"
//	GATEHOUSE_SESSION_HASH_KEY="<at least 32 bytes>"
//	GATEHOUSE_CRON_SECRET="<shared secret for /api/cron/ callers>"
//	GATEHOUSE_UPSTREAM_URL="http://app:3000"
//
// # Optional settings
//
//	GATEHOUSE_SESSION_BLOCK_KEY="<16, 24 or 32 bytes>"   # enables cookie encryption
//	GATEHOUSE_SESSION_COOKIE="gh_session"
//	GATEHOUSE_RATE_LIMIT_REDIS_URL="redis://redis:6379/0"  # absent: no rate limiting
//	GATEHOUSE_RATE_LIMIT_BACKEND="redis"                   # redis, memory, none
//	GATEHOUSE_ENV="production"                             # development relaxes CSP
//	GATEHOUSE_CSP_REPORT_ONLY="false"
//	GATEHOUSE_CSP_REPORT_URI="/api/csp-report"
//	GATEHOUSE_CSP_CONNECT_SRC="https://api.example.com,wss://realtime.example.com"
//	GATEHOUSE_ADMIN_ALLOWLIST="ops@example.com"
//	GATEHOUSE_ADMIN_ALLOWLIST_SUNSET="2027-01-31"
//	GATEHOUSE_ROUTES_FILE="/etc/gatehouse/routes.yaml"
//	GATEHOUSE_ROLE_CACHE_TTL="30s"
//	GATEHOUSE_LOG_LEVEL="info"                             # debug, info, warn, error
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		logger.WithError(err).Error("invalid configuration")
//		os.Exit(1)
//	}
package config
