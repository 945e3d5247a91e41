// internal/app/bootstrap/routes.go
package bootstrap

import (
	"net/http"
	"time"

	accountfeature "github.com/dalemusser/classroll/internal/app/features/account"
	healthfeature "github.com/dalemusser/classroll/internal/app/features/health"
	loginfeature "github.com/dalemusser/classroll/internal/app/features/login"
	passwordfeature "github.com/dalemusser/classroll/internal/app/features/password"
	rosterfeature "github.com/dalemusser/classroll/internal/app/features/roster"
	signupfeature "github.com/dalemusser/classroll/internal/app/features/signup"
	"github.com/dalemusser/classroll/internal/app/store/audit"
	"github.com/dalemusser/classroll/internal/app/system/auditlog"
	"github.com/dalemusser/classroll/internal/app/system/auth"
	"github.com/dalemusser/classroll/internal/app/system/enrollment"
	"github.com/dalemusser/classroll/internal/app/system/mailer"
	"github.com/dalemusser/classroll/internal/app/system/ratelimit"
	signupsvc "github.com/dalemusser/classroll/internal/app/system/signup"
	"github.com/dalemusser/waffle/config"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// BuildHandler constructs the root HTTP handler for classroll.
//
// WAFFLE calls this after configuration, DB connections, schema setup and
// Startup have completed. Services are built once here and shared by the
// feature handlers; the SPA talks to the API with credentialed CORS requests.
func BuildHandler(coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) (http.Handler, error) {
	db := deps.MongoDatabase
	m := sharedMetrics()

	secure := coreCfg.Env == "prod"
	tokens, err := auth.NewManager(appCfg.JWTSecret, appCfg.CookieDomain, secure, logger)
	if err != nil {
		logger.Error("token manager init failed", zap.Error(err))
		return nil, err
	}

	sender, err := buildSender(appCfg, logger)
	if err != nil {
		logger.Error("mailer init failed", zap.Error(err))
		return nil, err
	}

	auditLogger := auditlog.New(audit.New(db), logger, auditlog.Config{
		Auth:  appCfg.AuditLogAuth,
		Admin: appCfg.AuditLogAdmin,
	})

	enroll := enrollment.New(deps.MongoClient, db, logger, m)
	accounts := signupsvc.New(db, enroll, sender, signupsvc.BcryptHasher{}, signupsvc.Config{
		SiteName:   appCfg.SiteName,
		CodeTTL:    appCfg.EmailVerifyExpiry,
		PendingTTL: appCfg.SignupPendingTTL,
	}, logger, m)

	loginGuard := trackGuard(ratelimit.NewGuard("login", deps.Redis, ratelimit.LoginIP, ratelimit.LoginEmail, logger))
	mailGuard := trackGuard(ratelimit.NewGuard("mail", deps.Redis, ratelimit.MailIP, ratelimit.MailEmail, logger))

	signupHandler := signupfeature.NewHandler(accounts, enroll, auditLogger, mailGuard, logger)
	loginHandler := loginfeature.NewHandler(db, accounts, tokens, loginGuard, auditLogger, logger)
	passwordHandler := passwordfeature.NewHandler(accounts, mailGuard, auditLogger, logger)
	accountHandler := accountfeature.NewHandler(accounts, enroll, tokens, auditLogger, logger)
	rosterHandler := rosterfeature.NewHandler(db, enroll, auditLogger, appCfg.JoinCodeTTL, logger)
	healthHandler := healthfeature.NewHandler(deps.MongoClient, deps.Redis, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   appCfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(m.Middleware)

	r.Mount("/health", healthfeature.Routes(healthHandler))
	r.Method(http.MethodGet, "/metrics", m.Handler())

	r.Route("/auth", func(ar chi.Router) {
		signupfeature.Register(ar, signupHandler)
		loginfeature.Register(ar, loginHandler, tokens.RequireAuth)
		passwordfeature.Register(ar, passwordHandler)
	})
	r.Mount("/users", accountfeature.Routes(accountHandler, tokens.RequireAuth))
	r.Mount("/classes", rosterfeature.Routes(rosterHandler, tokens))

	return r, nil
}

// buildSender picks SMTP delivery when a host is configured and logs mail
// otherwise.
func buildSender(appCfg AppConfig, logger *zap.Logger) (mailer.Sender, error) {
	if appCfg.MailSMTPHost == "" {
		logger.Warn("mail_smtp_host not set; emails will be logged, not sent")
		return mailer.LogSender{Log: logger}, nil
	}
	return mailer.New(mailer.Config{
		Host:     appCfg.MailSMTPHost,
		Port:     appCfg.MailSMTPPort,
		Username: appCfg.MailSMTPUser,
		Password: appCfg.MailSMTPPass,
		From:     appCfg.MailFrom,
		FromName: appCfg.MailFromName,
		TLS:      appCfg.MailTLS,
		Timeout:  15 * time.Second,
	}, logger)
}
