// Package roster serves the teacher-facing classroom administration
// endpoints: the seat list, CSV import, join codes and repertoires.
//
// Every route is scoped to the classroom named in the session token; an
// admin of one classroom cannot reach another through the URL.
package roster

import (
	"net/http"
	"time"

	"github.com/dalemusser/classroll/internal/app/features/shared/bind"
	"github.com/dalemusser/classroll/internal/app/store/audit"
	classroomstore "github.com/dalemusser/classroll/internal/app/store/classrooms"
	userstore "github.com/dalemusser/classroll/internal/app/store/users"
	"github.com/dalemusser/classroll/internal/app/system/apierr"
	"github.com/dalemusser/classroll/internal/app/system/auditlog"
	"github.com/dalemusser/classroll/internal/app/system/auth"
	"github.com/dalemusser/classroll/internal/app/system/enrollment"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// DefaultCodeTTL is how long a rotated join code stays valid.
const DefaultCodeTTL = 7 * 24 * time.Hour

type Handler struct {
	Classes  *classroomstore.Store
	Users    *userstore.Store
	Enroll   *enrollment.Service
	Audit    *audit.Store
	AuditLog *auditlog.Logger
	Log      *zap.Logger

	CodeTTL time.Duration
	now     func() time.Time
}

func NewHandler(db *mongo.Database, enroll *enrollment.Service, auditLog *auditlog.Logger, codeTTL time.Duration, logger *zap.Logger) *Handler {
	if codeTTL <= 0 {
		codeTTL = DefaultCodeTTL
	}
	return &Handler{
		Classes:  classroomstore.New(db),
		Users:    userstore.New(db),
		Enroll:   enroll,
		Audit:    audit.New(db),
		AuditLog: auditLog,
		Log:      logger,
		CodeTTL:  codeTTL,
		now:      time.Now,
	}
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	apierr.Write(w, h.Log, enrollment.Translate(err))
}

// classID returns the {classID} URL parameter.
func classID(r *http.Request) primitive.ObjectID {
	id, _ := primitive.ObjectIDFromHex(chi.URLParam(r, "classID"))
	return id
}

// actorID returns the session user's id; zero when the token is malformed.
func actorID(r *http.Request) primitive.ObjectID {
	c, ok := auth.CurrentUser(r)
	if !ok {
		return primitive.NilObjectID
	}
	id, _ := primitive.ObjectIDFromHex(c.UserID)
	return id
}

// sameClass rejects requests whose {classID} is not the session classroom.
// It must run after RequireAuth.
func sameClass(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, ok := auth.CurrentUser(r)
			if !ok {
				apierr.Write(w, log, apierr.NewAuth("unauthorized"))
				return
			}
			if _, err := bind.ObjectID("classID", chi.URLParam(r, "classID")); err != nil {
				apierr.Write(w, log, err)
				return
			}
			if chi.URLParam(r, "classID") != c.ClassID {
				apierr.Write(w, log, apierr.NewForbidden("class not authorized"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// repertoireSlug feeds RequireScopedAdmin.
func repertoireSlug(r *http.Request) (string, error) {
	return chi.URLParam(r, "slug"), nil
}
