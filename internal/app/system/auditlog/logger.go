// internal/app/system/auditlog/logger.go
package auditlog

import (
	"context"
	"net/http"

	"github.com/dalemusser/classroll/internal/app/store/audit"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Config holds audit logging configuration.
type Config struct {
	// Auth controls logging for account and enrollment events (signup,
	// verification, login, seat claims, leaving a class).
	// Values: "all" (MongoDB + zap), "db" (MongoDB only), "log" (zap only), "off" (disabled)
	Auth string
	// Admin controls logging for roster management by classroom admins.
	// Values: "all" (MongoDB + zap), "db" (MongoDB only), "log" (zap only), "off" (disabled)
	Admin string
}

// Logger records audit events to MongoDB (via audit.Store) and zap.
type Logger struct {
	store  *audit.Store
	zapLog *zap.Logger
	config Config
}

// New creates a new audit Logger.
func New(store *audit.Store, zapLog *zap.Logger, config Config) *Logger {
	return &Logger{
		store:  store,
		zapLog: zapLog,
		config: config,
	}
}

// clientIP extracts the client IP from the request.
func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}

func userAgent(r *http.Request) string {
	if r == nil {
		return ""
	}
	return r.UserAgent()
}

func (l *Logger) logToZap(event audit.Event) {
	fields := []zap.Field{
		zap.Bool("audit", true),
		zap.String("category", event.Category),
		zap.String("event_type", event.EventType),
		zap.Bool("success", event.Success),
		zap.String("ip", event.IP),
	}
	if event.UserID != nil {
		fields = append(fields, zap.String("user_id", event.UserID.Hex()))
	}
	if event.ActorID != nil {
		fields = append(fields, zap.String("actor_id", event.ActorID.Hex()))
	}
	if event.ClassID != nil {
		fields = append(fields, zap.String("class_id", event.ClassID.Hex()))
	}
	if event.FailureReason != "" {
		fields = append(fields, zap.String("failure_reason", event.FailureReason))
	}
	for k, v := range event.Details {
		fields = append(fields, zap.String("detail_"+k, v))
	}

	if event.Success {
		l.zapLog.Info("audit event", fields...)
	} else {
		l.zapLog.Warn("audit event", fields...)
	}
}

func (l *Logger) setting(category string) string {
	switch category {
	case audit.CategoryAuth, audit.CategoryEnrollment:
		return l.config.Auth
	case audit.CategoryAdmin:
		return l.config.Admin
	default:
		return "all"
	}
}

// Log records an audit event based on configuration.
// A nil Logger is a no-op so tests can pass nil.
func (l *Logger) Log(ctx context.Context, event audit.Event) {
	if l == nil {
		return
	}

	setting := l.setting(event.Category)
	if setting == "off" {
		return
	}
	if (setting == "all" || setting == "log") && l.zapLog != nil {
		l.logToZap(event)
	}
	if (setting == "all" || setting == "db") && l.store != nil {
		if err := l.store.Log(ctx, event); err != nil && l.zapLog != nil {
			l.zapLog.Error("failed to store audit event",
				zap.Error(err),
				zap.String("event_type", event.EventType),
			)
		}
	}
}

func idPtr(id primitive.ObjectID) *primitive.ObjectID {
	if id.IsZero() {
		return nil
	}
	return &id
}

// Auth records an account event for userID.
func (l *Logger) Auth(ctx context.Context, r *http.Request, eventType string, userID primitive.ObjectID, success bool, reason string, details map[string]string) {
	l.Log(ctx, audit.Event{
		Category:      audit.CategoryAuth,
		EventType:     eventType,
		UserID:        idPtr(userID),
		IP:            clientIP(r),
		UserAgent:     userAgent(r),
		Success:       success,
		FailureReason: reason,
		Details:       details,
	})
}

// Enrollment records a seat or membership change for userID in classID.
func (l *Logger) Enrollment(ctx context.Context, r *http.Request, eventType string, userID, classID primitive.ObjectID, success bool, reason string) {
	l.Log(ctx, audit.Event{
		Category:      audit.CategoryEnrollment,
		EventType:     eventType,
		UserID:        idPtr(userID),
		ClassID:       idPtr(classID),
		IP:            clientIP(r),
		UserAgent:     userAgent(r),
		Success:       success,
		FailureReason: reason,
	})
}

// Admin records a roster management action by actorID on classID.
// targetID is the affected user, if any.
func (l *Logger) Admin(ctx context.Context, r *http.Request, eventType string, actorID, classID, targetID primitive.ObjectID, details map[string]string) {
	l.Log(ctx, audit.Event{
		Category:  audit.CategoryAdmin,
		EventType: eventType,
		ActorID:   idPtr(actorID),
		ClassID:   idPtr(classID),
		UserID:    idPtr(targetID),
		IP:        clientIP(r),
		UserAgent: userAgent(r),
		Success:   true,
		Details:   details,
	})
}

// LoginSuccess logs a successful credential check.
func (l *Logger) LoginSuccess(ctx context.Context, r *http.Request, userID primitive.ObjectID, email string) {
	l.Auth(ctx, r, audit.EventLoginSuccess, userID, true, "", map[string]string{"email": email})
}

// LoginFailed logs a rejected login. userID is zero when no account matched.
func (l *Logger) LoginFailed(ctx context.Context, r *http.Request, userID primitive.ObjectID, email, reason string) {
	l.Auth(ctx, r, audit.EventLoginFailed, userID, false, reason, map[string]string{"email": email})
}

// Logout logs a logout. userIDHex may be empty when no session was present.
func (l *Logger) Logout(ctx context.Context, r *http.Request, userIDHex string) {
	id, _ := primitive.ObjectIDFromHex(userIDHex)
	l.Auth(ctx, r, audit.EventLogout, id, true, "", nil)
}
