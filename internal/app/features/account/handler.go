// Package account serves the signed-in user's own account endpoints.
package account

import (
	"net/http"

	"github.com/dalemusser/classroll/internal/app/features/shared/bind"
	"github.com/dalemusser/classroll/internal/app/store/audit"
	"github.com/dalemusser/classroll/internal/app/system/apierr"
	"github.com/dalemusser/classroll/internal/app/system/auditlog"
	"github.com/dalemusser/classroll/internal/app/system/auth"
	"github.com/dalemusser/classroll/internal/app/system/enrollment"
	signupsvc "github.com/dalemusser/classroll/internal/app/system/signup"
	"github.com/dalemusser/classroll/internal/app/system/timeouts"
	"github.com/dalemusser/classroll/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type Handler struct {
	Accounts *signupsvc.Service
	Enroll   *enrollment.Service
	Tokens   auth.Tokens
	AuditLog *auditlog.Logger
	Log      *zap.Logger
}

func NewHandler(accounts *signupsvc.Service, enroll *enrollment.Service, tokens auth.Tokens, audit *auditlog.Logger, logger *zap.Logger) *Handler {
	return &Handler{Accounts: accounts, Enroll: enroll, Tokens: tokens, AuditLog: audit, Log: logger}
}

// session returns the claims and the user id they name. RequireAuth has
// already run, so a failure here is a malformed token.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*auth.Claims, primitive.ObjectID, bool) {
	c, ok := auth.CurrentUser(r)
	if !ok {
		apierr.Write(w, h.Log, apierr.NewAuth("unauthorized"))
		return nil, primitive.NilObjectID, false
	}
	id, err := primitive.ObjectIDFromHex(c.UserID)
	if err != nil {
		apierr.Write(w, h.Log, apierr.NewAuth("invalid token"))
		return nil, primitive.NilObjectID, false
	}
	return c, id, true
}

// Me returns the session identity.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	c, _, ok := h.session(w, r)
	if !ok {
		return
	}
	apierr.WriteJSON(w, http.StatusOK, map[string]string{
		"email":  c.Email,
		"nom":    c.Nom,
		"prenom": c.Prenom,
		"role":   c.Role,
	})
}

type changePasswordInput struct {
	NewPassword string `json:"newPassword" validate:"required,password,max=128" label:"New password"`
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := h.session(w, r)
	if !ok {
		return
	}
	var in changePasswordInput
	if err := bind.JSON(w, r, &in); err != nil {
		apierr.Write(w, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "change password")
	defer cancel()

	if err := h.Accounts.ChangePassword(ctx, userID, in.NewPassword); err != nil {
		apierr.Write(w, h.Log, err)
		return
	}
	h.AuditLog.Auth(ctx, r, audit.EventPasswordChanged, userID, true, "", nil)
	apierr.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "message": "password updated"})
}

type leaveInput struct {
	ClassID string `json:"classId" validate:"required,objectid" label:"Class"`
}

// LeaveClass releases the user's seat and enrollment in a classroom.
func (h *Handler) LeaveClass(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := h.session(w, r)
	if !ok {
		return
	}
	var in leaveInput
	if err := bind.JSON(w, r, &in); err != nil {
		apierr.Write(w, h.Log, err)
		return
	}
	classID, err := bind.ObjectID("classId", in.ClassID)
	if err != nil {
		apierr.Write(w, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "leave class")
	defer cancel()

	if err := h.Enroll.Leave(ctx, userID, classID); err != nil {
		apierr.Write(w, h.Log, err)
		return
	}
	h.AuditLog.Enrollment(ctx, r, audit.EventUnenrolled, userID, classID, true, enrollment.TriggerLeave)
	apierr.WriteJSON(w, http.StatusOK, map[string]string{"message": "you have left the classroom"})
}

// DeleteAccount removes a student account and signs it out.
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	c, userID, ok := h.session(w, r)
	if !ok {
		return
	}
	if c.Role == models.RoleAdmin {
		apierr.Write(w, h.Log, apierr.NewForbidden("a teacher account cannot be deleted from here"))
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Long(), h.Log, "delete account")
	defer cancel()

	if err := h.Enroll.DeleteAccount(ctx, userID); err != nil {
		apierr.Write(w, h.Log, err)
		return
	}
	h.AuditLog.Auth(ctx, r, audit.EventAccountDeleted, userID, true, "", nil)
	h.Tokens.ClearCookies(w)
	apierr.WriteJSON(w, http.StatusOK, map[string]string{"message": "account deleted"})
}
