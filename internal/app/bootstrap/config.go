// internal/app/bootstrap/config.go
package bootstrap

import (
	"fmt"
	"strings"
	"time"

	"github.com/dalemusser/waffle/config"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.uber.org/zap"
)

const devJWTSecret = "dev-only-change-me-please-0123456789ABCDEF"

// appConfigKeys defines the configuration keys for classroll. They load from
// config files (mongo_uri), environment variables (CLASSROLL_MONGO_URI) and
// flags (--mongo_uri).
var appConfigKeys = []config.AppKey{
	{Name: "mongo_uri", Default: "mongodb://localhost:27017", Desc: "MongoDB connection URI"},
	{Name: "mongo_database", Default: "classroll", Desc: "MongoDB database name"},
	{Name: "mongo_max_pool_size", Default: 100, Desc: "MongoDB max connection pool size"},
	{Name: "mongo_min_pool_size", Default: 5, Desc: "MongoDB min connection pool size"},

	{Name: "jwt_secret", Default: devJWTSecret, Desc: "Secret for signing session tokens (must be strong in production)"},
	{Name: "cookie_domain", Default: "", Desc: "Cookie domain (blank means current host)"},
	{Name: "cors_origins", Default: "http://localhost:5173", Desc: "Comma-separated origins allowed to call the API with cookies"},

	// Email/SMTP configuration
	{Name: "mail_smtp_host", Default: "", Desc: "SMTP server host (blank logs mail instead of sending)"},
	{Name: "mail_smtp_port", Default: 587, Desc: "SMTP server port"},
	{Name: "mail_smtp_user", Default: "", Desc: "SMTP username"},
	{Name: "mail_smtp_pass", Default: "", Desc: "SMTP password"},
	{Name: "mail_tls", Default: "mandatory", Desc: "SMTP TLS policy: mandatory, opportunistic or none"},
	{Name: "mail_from", Default: "noreply@classroll.local", Desc: "From email address"},
	{Name: "mail_from_name", Default: "Classroll", Desc: "From display name"},
	{Name: "site_name", Default: "Classroll", Desc: "Site name used in emails"},

	{Name: "email_verify_expiry", Default: "10m", Desc: "Emailed code lifetime (e.g., 10m, 1h)"},
	{Name: "signup_pending_ttl", Default: "24h", Desc: "How long an unverified signup is kept"},
	{Name: "join_code_ttl", Default: "168h", Desc: "Lifetime of a rotated classroom join code"},
	{Name: "pending_sweep_interval", Default: "15m", Desc: "How often lapsed signups are swept"},

	{Name: "redis_addr", Default: "", Desc: "Redis address for shared rate limits (blank keeps them in memory)"},
	{Name: "redis_password", Default: "", Desc: "Redis password"},
	{Name: "redis_db", Default: 0, Desc: "Redis database number"},

	// Audit logging settings
	{Name: "audit_log_auth", Default: "all", Desc: "Account event logging: 'all' (db+log), 'db', 'log', or 'off'"},
	{Name: "audit_log_admin", Default: "all", Desc: "Roster admin event logging: 'all' (db+log), 'db', 'log', or 'off'"},
}

// LoadConfig loads WAFFLE core config and app-specific config.
//
// WAFFLE's config.LoadWithAppConfig reads .env files, config files,
// environment variables (WAFFLE_* for core, CLASSROLL_* for the app) and
// flags, with precedence flags > env > files > defaults.
func LoadConfig(logger *zap.Logger) (*config.CoreConfig, AppConfig, error) {
	coreCfg, appValues, err := config.LoadWithAppConfig(logger, "CLASSROLL", appConfigKeys)
	if err != nil {
		return nil, AppConfig{}, err
	}

	appCfg := AppConfig{
		MongoURI:         appValues.String("mongo_uri"),
		MongoDatabase:    appValues.String("mongo_database"),
		MongoMaxPoolSize: uint64(appValues.Int("mongo_max_pool_size")),
		MongoMinPoolSize: uint64(appValues.Int("mongo_min_pool_size")),

		JWTSecret:    appValues.String("jwt_secret"),
		CookieDomain: appValues.String("cookie_domain"),
		CORSOrigins:  splitList(appValues.String("cors_origins")),

		MailSMTPHost: appValues.String("mail_smtp_host"),
		MailSMTPPort: appValues.Int("mail_smtp_port"),
		MailSMTPUser: appValues.String("mail_smtp_user"),
		MailSMTPPass: appValues.String("mail_smtp_pass"),
		MailTLS:      appValues.String("mail_tls"),
		MailFrom:     appValues.String("mail_from"),
		MailFromName: appValues.String("mail_from_name"),
		SiteName:     appValues.String("site_name"),

		EmailVerifyExpiry:    appValues.Duration("email_verify_expiry", 10*time.Minute),
		SignupPendingTTL:     appValues.Duration("signup_pending_ttl", 24*time.Hour),
		JoinCodeTTL:          appValues.Duration("join_code_ttl", 7*24*time.Hour),
		PendingSweepInterval: appValues.Duration("pending_sweep_interval", 15*time.Minute),

		RedisAddr:     appValues.String("redis_addr"),
		RedisPassword: appValues.String("redis_password"),
		RedisDB:       appValues.Int("redis_db"),

		AuditLogAuth:  appValues.String("audit_log_auth"),
		AuditLogAdmin: appValues.String("audit_log_admin"),
	}

	return coreCfg, appCfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var auditModes = map[string]bool{"all": true, "db": true, "log": true, "off": true}

// ValidateConfig rejects configurations that would fail later or run
// insecurely in production.
func ValidateConfig(coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) error {
	if err := wafflemongo.ValidateURI(appCfg.MongoURI); err != nil {
		logger.Error("invalid MongoDB URI", zap.Error(err))
		return fmt.Errorf("invalid MongoDB URI: %w", err)
	}

	if appCfg.JWTSecret == "" {
		return fmt.Errorf("jwt_secret is required")
	}
	if coreCfg.Env == "prod" && (appCfg.JWTSecret == devJWTSecret || len(appCfg.JWTSecret) < 32) {
		return fmt.Errorf("jwt_secret must be a private value of at least 32 characters in production")
	}

	for name, d := range map[string]time.Duration{
		"email_verify_expiry":    appCfg.EmailVerifyExpiry,
		"signup_pending_ttl":     appCfg.SignupPendingTTL,
		"join_code_ttl":          appCfg.JoinCodeTTL,
		"pending_sweep_interval": appCfg.PendingSweepInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive (got %s)", name, d)
		}
	}
	if appCfg.SignupPendingTTL < appCfg.EmailVerifyExpiry {
		logger.Warn("signup_pending_ttl is shorter than email_verify_expiry; it will be raised to match",
			zap.Duration("signup_pending_ttl", appCfg.SignupPendingTTL),
			zap.Duration("email_verify_expiry", appCfg.EmailVerifyExpiry))
	}

	for name, v := range map[string]string{"audit_log_auth": appCfg.AuditLogAuth, "audit_log_admin": appCfg.AuditLogAdmin} {
		if !auditModes[v] {
			return fmt.Errorf("%s must be one of all, db, log, off (got %q)", name, v)
		}
	}

	if len(appCfg.CORSOrigins) == 0 {
		logger.Warn("cors_origins is empty; browsers on other origins cannot call the API")
	}
	return nil
}
