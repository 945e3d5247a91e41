// internal/app/bootstrap/appconfig.go
package bootstrap

import "time"

// AppConfig holds service-specific configuration for this WAFFLE app.
//
// These values come from environment variables (CLASSROLL_*), configuration
// files, or command-line flags, loaded in LoadConfig. WAFFLE's CoreConfig
// covers the framework-level settings: ports, TLS, log level and request
// limits.
type AppConfig struct {
	// MongoDB connection configuration
	MongoURI         string
	MongoDatabase    string
	MongoMaxPoolSize uint64
	MongoMinPoolSize uint64

	// Session tokens
	JWTSecret    string   // HMAC secret for the jwt and pending_login cookies (32+ chars)
	CookieDomain string   // blank means current host
	CORSOrigins  []string // SPA origins allowed to send credentialed requests

	// Email/SMTP configuration. An empty host logs mail instead of sending it.
	MailSMTPHost string
	MailSMTPPort int
	MailSMTPUser string
	MailSMTPPass string
	MailTLS      string // mandatory | opportunistic | none
	MailFrom     string
	MailFromName string
	SiteName     string // shown in email subjects and bodies

	// Signup and join windows
	EmailVerifyExpiry    time.Duration // lifetime of an emailed code
	SignupPendingTTL     time.Duration // how long an unverified signup is kept
	JoinCodeTTL          time.Duration // lifetime of a rotated join code
	PendingSweepInterval time.Duration

	// Optional Redis for rate limit counters shared across instances
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Audit logging: all | db | log | off
	AuditLogAuth  string
	AuditLogAdmin string
}
