// internal/app/features/login/handler.go
package login

import (
	"context"
	"errors"
	"net/http"

	"github.com/dalemusser/classroll/internal/app/features/shared/bind"
	"github.com/dalemusser/classroll/internal/app/store/audit"
	classroomstore "github.com/dalemusser/classroll/internal/app/store/classrooms"
	userstore "github.com/dalemusser/classroll/internal/app/store/users"
	"github.com/dalemusser/classroll/internal/app/system/apierr"
	"github.com/dalemusser/classroll/internal/app/system/auditlog"
	"github.com/dalemusser/classroll/internal/app/system/auth"
	"github.com/dalemusser/classroll/internal/app/system/ratelimit"
	signupsvc "github.com/dalemusser/classroll/internal/app/system/signup"
	"github.com/dalemusser/classroll/internal/app/system/timeouts"
	"github.com/dalemusser/classroll/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

type Handler struct {
	Accounts *signupsvc.Service
	Users    *userstore.Store
	Classes  *classroomstore.Store
	Tokens   auth.Tokens
	Guard    *ratelimit.Guard // nil disables limiting
	AuditLog *auditlog.Logger
	Log      *zap.Logger
}

func NewHandler(db *mongo.Database, accounts *signupsvc.Service, tokens auth.Tokens, guard *ratelimit.Guard, audit *auditlog.Logger, logger *zap.Logger) *Handler {
	return &Handler{
		Accounts: accounts,
		Users:    userstore.New(db),
		Classes:  classroomstore.New(db),
		Tokens:   tokens,
		Guard:    guard,
		AuditLog: audit,
		Log:      logger,
	}
}

/*─────────────────────────────────────────────────────────────────────────────*
| Response shapes                                                              |
*─────────────────────────────────────────────────────────────────────────────*/

type classItem struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type loginResponse struct {
	Message         string      `json:"message"`
	TeachersClasses []classItem `json:"teachersClasses"`
	FollowedClasses []classItem `json:"followedClasses"`
}

type sessionResponse struct {
	Message string `json:"message"`
	Email   string `json:"email"`
	Nom     string `json:"nom"`
	Prenom  string `json:"prenom"`
	Role    string `json:"role"`
	ClassID string `json:"classId"`
	Name    string `json:"name"`
}

/*─────────────────────────────────────────────────────────────────────────────*
| POST /auth/login                                                             |
*─────────────────────────────────────────────────────────────────────────────*/

type loginInput struct {
	Email    string `json:"email" validate:"required,email" label:"Email"`
	Password string `json:"password" validate:"required,max=128" label:"Password"`
}

// Login checks the password and lists the classrooms the account can open.
// Choosing one happens in SelectClass, authorised by the pending_login cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var in loginInput
	if err := bind.JSON(w, r, &in); err != nil {
		apierr.Write(w, h.Log, err)
		return
	}

	if h.Guard != nil {
		if ok, msg := h.Guard.Check(r, in.Email); !ok {
			h.AuditLog.Auth(r.Context(), r, audit.EventLoginRateLimited, primitive.NilObjectID, false, "rate limited", map[string]string{"email": in.Email})
			apierr.Write(w, h.Log, apierr.NewRateLimited(msg))
			return
		}
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "login")
	defer cancel()

	u, err := h.Accounts.Authenticate(ctx, in.Email, in.Password)
	if err != nil {
		if apierr.Is(err, apierr.Auth) {
			h.AuditLog.LoginFailed(ctx, r, primitive.NilObjectID, in.Email, "bad credentials")
		}
		apierr.Write(w, h.Log, err)
		return
	}
	if h.Guard != nil {
		h.Guard.ResetEmail(r, in.Email)
	}

	teaching, following, err := h.classLists(ctx, u)
	if err != nil {
		apierr.Write(w, h.Log, apierr.NewInternal(err))
		return
	}

	h.AuditLog.LoginSuccess(ctx, r, u.ID, u.Email)

	if len(teaching) == 0 && len(following) == 0 {
		h.Tokens.ClearPendingCookie(w)
		apierr.WriteJSON(w, http.StatusOK, loginResponse{
			Message:         "login successful; you are not enrolled in any active classroom",
			TeachersClasses: teaching,
			FollowedClasses: following,
		})
		return
	}

	tok, err := h.Tokens.IssuePending(u.ID.Hex(), u.Email)
	if err != nil {
		apierr.Write(w, h.Log, apierr.NewInternal(err))
		return
	}
	h.Tokens.SetPendingCookie(w, tok)
	apierr.WriteJSON(w, http.StatusOK, loginResponse{
		Message:         "login successful; choose a classroom",
		TeachersClasses: teaching,
		FollowedClasses: following,
	})
}

// classLists splits u's enrollments into administered and followed active
// classrooms. A classroom administered by u is never listed as followed.
func (h *Handler) classLists(ctx context.Context, u *models.User) (teaching, following []classItem, err error) {
	adminIDs, userIDs := models.SplitEnrollments(u.Follow)
	active, err := h.Classes.ListActiveByIDs(ctx, append(append([]primitive.ObjectID{}, adminIDs...), userIDs...))
	if err != nil {
		return nil, nil, err
	}
	pick := func(ids []primitive.ObjectID) []classItem {
		out := make([]classItem, 0, len(ids))
		for _, id := range ids {
			if c, ok := active[id]; ok {
				out = append(out, classItem{ID: id.Hex(), Name: c.PublicName})
			}
		}
		return out
	}
	return pick(adminIDs), pick(userIDs), nil
}

/*─────────────────────────────────────────────────────────────────────────────*
| POST /auth/login/select-class                                                |
*─────────────────────────────────────────────────────────────────────────────*/

type selectInput struct {
	ClassID string `json:"classId" validate:"required,objectid" label:"Class"`
}

// SelectClass swaps the pending_login cookie for a session scoped to one
// classroom and the role the account holds there.
func (h *Handler) SelectClass(w http.ResponseWriter, r *http.Request) {
	pending, err := h.Tokens.ParsePending(r)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrTokenExpired):
		h.Tokens.ClearPendingCookie(w)
		apierr.Write(w, h.Log, apierr.NewAuth("login expired; sign in again"))
		return
	case errors.Is(err, auth.ErrWrongPurpose):
		apierr.Write(w, h.Log, apierr.NewForbidden("invalid login token"))
		return
	default:
		apierr.Write(w, h.Log, apierr.NewAuth("no login in progress"))
		return
	}

	var in selectInput
	if err := bind.JSON(w, r, &in); err != nil {
		apierr.Write(w, h.Log, err)
		return
	}
	classID, err := bind.ObjectID("classId", in.ClassID)
	if err != nil {
		apierr.Write(w, h.Log, err)
		return
	}
	userID, err := primitive.ObjectIDFromHex(pending.UserID)
	if err != nil {
		apierr.Write(w, h.Log, apierr.NewAuth("invalid login token"))
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "select class")
	defer cancel()

	u, err := h.Users.GetByID(ctx, userID)
	if errors.Is(err, userstore.ErrNotFound) || (err == nil && (!u.IsVerified || !u.Active)) {
		apierr.Write(w, h.Log, apierr.NewAuth("account does not exist or is not verified"))
		return
	}
	if err != nil {
		apierr.Write(w, h.Log, apierr.NewInternal(err))
		return
	}

	enr, ok := u.EnrollmentFor(classID)
	if !ok {
		apierr.Write(w, h.Log, apierr.NewForbidden("class not authorized"))
		return
	}

	c, err := h.Classes.GetByID(ctx, classID)
	if errors.Is(err, classroomstore.ErrNotFound) || (err == nil && !c.Active) {
		apierr.Write(w, h.Log, apierr.NewNotFound("classroom not found"))
		return
	}
	if err != nil {
		apierr.Write(w, h.Log, apierr.NewInternal(err))
		return
	}

	claims := auth.Claims{
		UserID:           u.ID.Hex(),
		Email:            u.Email,
		Nom:              u.Nom,
		Prenom:           u.Prenom,
		Role:             enr.Role,
		ClassID:          c.ID.Hex(),
		ClassName:        c.PublicName,
		AdminRepertoires: repertoiresTaughtBy(c, u.ID),
	}
	tok, err := h.Tokens.IssueSession(claims)
	if err != nil {
		apierr.Write(w, h.Log, apierr.NewInternal(err))
		return
	}
	h.Tokens.SetSessionCookie(w, tok)
	h.Tokens.ClearPendingCookie(w)

	h.AuditLog.Enrollment(ctx, r, audit.EventClassSelected, u.ID, c.ID, true, "")
	apierr.WriteJSON(w, http.StatusOK, sessionResponse{
		Message: "classroom selected",
		Email:   u.Email,
		Nom:     u.Nom,
		Prenom:  u.Prenom,
		Role:    enr.Role,
		ClassID: c.ID.Hex(),
		Name:    c.PublicName,
	})
}

func repertoiresTaughtBy(c *models.Classroom, userID primitive.ObjectID) []string {
	var slugs []string
	for _, rep := range c.Repertoires {
		if rep.HasTeacher(userID) {
			slugs = append(slugs, rep.Slug)
		}
	}
	return slugs
}

/*─────────────────────────────────────────────────────────────────────────────*
| POST /auth/logout, GET /auth/me                                              |
*─────────────────────────────────────────────────────────────────────────────*/

// Logout clears both cookies. It succeeds without a session.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if c, err := h.Tokens.ParseSession(r); err == nil {
		h.AuditLog.Logout(r.Context(), r, c.UserID)
	}
	h.Tokens.ClearCookies(w)
	apierr.WriteJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

type meUser struct {
	Email  string `json:"email"`
	Nom    string `json:"nom"`
	Prenom string `json:"prenom"`
	Role   string `json:"role"`
}

// Me returns the session identity.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	c, ok := auth.CurrentUser(r)
	if !ok {
		apierr.Write(w, h.Log, apierr.NewAuth("unauthorized"))
		return
	}
	apierr.WriteJSON(w, http.StatusOK, map[string]meUser{
		"user": {Email: c.Email, Nom: c.Nom, Prenom: c.Prenom, Role: c.Role},
	})
}
