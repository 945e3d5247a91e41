// Package password serves the forgotten-password flow: request a code by
// email, then trade it for a new password.
package password

import (
	"net/http"

	"github.com/dalemusser/classroll/internal/app/features/shared/bind"
	"github.com/dalemusser/classroll/internal/app/store/audit"
	"github.com/dalemusser/classroll/internal/app/system/apierr"
	"github.com/dalemusser/classroll/internal/app/system/auditlog"
	"github.com/dalemusser/classroll/internal/app/system/ratelimit"
	signupsvc "github.com/dalemusser/classroll/internal/app/system/signup"
	"github.com/dalemusser/classroll/internal/app/system/timeouts"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type Handler struct {
	Accounts *signupsvc.Service
	Mail     *ratelimit.Guard
	AuditLog *auditlog.Logger
	Log      *zap.Logger
}

func NewHandler(accounts *signupsvc.Service, mailGuard *ratelimit.Guard, audit *auditlog.Logger, logger *zap.Logger) *Handler {
	return &Handler{Accounts: accounts, Mail: mailGuard, AuditLog: audit, Log: logger}
}

type emailInput struct {
	Email string `json:"email" validate:"required,email" label:"Email"`
}

func (h *Handler) sendCode(w http.ResponseWriter, r *http.Request) (signupsvc.Outcome, bool) {
	var in emailInput
	if err := bind.JSON(w, r, &in); err != nil {
		apierr.Write(w, h.Log, err)
		return signupsvc.Outcome{}, false
	}
	if h.Mail != nil {
		if ok, msg := h.Mail.Check(r, in.Email); !ok {
			apierr.Write(w, h.Log, apierr.NewRateLimited(msg))
			return signupsvc.Outcome{}, false
		}
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Long(), h.Log, "password reset code")
	defer cancel()

	out, err := h.Accounts.ForgotPassword(ctx, in.Email)
	if err != nil {
		apierr.Write(w, h.Log, err)
		return signupsvc.Outcome{}, false
	}
	h.AuditLog.Auth(ctx, r, audit.EventPasswordResetRequested, out.UserID, out.Notified, "", nil)
	return out, true
}

// Forgot emails a reset code to a verified account.
func (h *Handler) Forgot(w http.ResponseWriter, r *http.Request) {
	out, ok := h.sendCode(w, r)
	if !ok {
		return
	}
	apierr.WriteJSON(w, http.StatusCreated, map[string]any{
		"sendMail": out.Notified,
		"email":    out.Email,
		"infoMail": out.MessageID,
	})
}

// ResendForgot replaces the reset code with a new one.
func (h *Handler) ResendForgot(w http.ResponseWriter, r *http.Request) {
	out, ok := h.sendCode(w, r)
	if !ok {
		return
	}
	apierr.WriteJSON(w, http.StatusOK, map[string]any{
		"resend":  out.Notified,
		"message": "a new code has been emailed",
	})
}

type resetInput struct {
	Email       string `json:"email" validate:"required,email" label:"Email"`
	Code        string `json:"code" validate:"required,max=16" label:"Code"`
	NewPassword string `json:"newPassword" validate:"required,password,max=128" label:"New password"`
}

// Reset sets a new password when the code matches.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	var in resetInput
	if err := bind.JSON(w, r, &in); err != nil {
		apierr.Write(w, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "reset password")
	defer cancel()

	if err := h.Accounts.ResetPassword(ctx, in.Email, in.Code, in.NewPassword); err != nil {
		h.AuditLog.Auth(ctx, r, audit.EventVerificationCodeFailed, primitive.NilObjectID, false, err.Error(), map[string]string{"email": in.Email})
		apierr.Write(w, h.Log, err)
		return
	}
	h.AuditLog.Auth(ctx, r, audit.EventPasswordChanged, primitive.NilObjectID, true, "reset", map[string]string{"email": in.Email})
	apierr.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "password updated",
	})
}
