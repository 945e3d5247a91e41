package signup

import (
	"net/http"

	"github.com/dalemusser/classroll/internal/app/features/shared/bind"
	"github.com/dalemusser/classroll/internal/app/store/audit"
	"github.com/dalemusser/classroll/internal/app/system/apierr"
	"github.com/dalemusser/classroll/internal/app/system/auditlog"
	"github.com/dalemusser/classroll/internal/app/system/enrollment"
	"github.com/dalemusser/classroll/internal/app/system/ratelimit"
	signupsvc "github.com/dalemusser/classroll/internal/app/system/signup"
	"github.com/dalemusser/classroll/internal/app/system/timeouts"
	"github.com/dalemusser/classroll/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Handler serves the signup, verification and class-join endpoints.
type Handler struct {
	Signup   *signupsvc.Service
	Enroll   *enrollment.Service
	AuditLog *auditlog.Logger
	Mail     *ratelimit.Guard // nil disables limiting
	Log      *zap.Logger
}

func NewHandler(svc *signupsvc.Service, enroll *enrollment.Service, audit *auditlog.Logger, mailGuard *ratelimit.Guard, logger *zap.Logger) *Handler {
	return &Handler{
		Signup:   svc,
		Enroll:   enroll,
		AuditLog: audit,
		Mail:     mailGuard,
		Log:      logger,
	}
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	apierr.Write(w, h.Log, err)
}

// limited applies the mail guard and writes 429 when it trips.
func (h *Handler) limited(w http.ResponseWriter, r *http.Request, email string) bool {
	if h.Mail == nil {
		return false
	}
	if ok, msg := h.Mail.Check(r, email); !ok {
		h.fail(w, apierr.NewRateLimited(msg))
		return true
	}
	return false
}

/*─────────────────────────────────────────────────────────────────────────────*
| POST /auth/signup/validate-teacher-code                                      |
*─────────────────────────────────────────────────────────────────────────────*/

type codeInput struct {
	Code string `json:"code" validate:"required,max=32" label:"Code"`
}

type seatView struct {
	ID     string `json:"id,omitempty"`
	Nom    string `json:"nom"`
	Prenom string `json:"prenom"`
}

type codeResponse struct {
	ClassID  string     `json:"classId"`
	Name     string     `json:"name"`
	Students []seatView `json:"students"`
}

func seatViews(seats []models.Seat) []seatView {
	out := make([]seatView, 0, len(seats))
	for _, s := range seats {
		v := seatView{Nom: s.Nom, Prenom: s.Prenom}
		if s.HasStableID() {
			v.ID = s.ID.Hex()
		}
		out = append(out, v)
	}
	return out
}

// ValidateTeacherCode resolves a join code to its classroom and lists the
// seats still free.
func (h *Handler) ValidateTeacherCode(w http.ResponseWriter, r *http.Request) {
	var in codeInput
	if err := bind.JSON(w, r, &in); err != nil {
		h.fail(w, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "resolve join code")
	defer cancel()

	c, free, err := h.Enroll.ResolveCode(ctx, in.Code)
	if err != nil {
		h.fail(w, err)
		return
	}
	apierr.WriteJSON(w, http.StatusOK, codeResponse{
		ClassID:  c.ID.Hex(),
		Name:     c.PublicName,
		Students: seatViews(free),
	})
}

/*─────────────────────────────────────────────────────────────────────────────*
| POST /auth/signup/check-student                                              |
*─────────────────────────────────────────────────────────────────────────────*/

type seatInput struct {
	ClassID string `json:"classId" validate:"required,objectid" label:"Class"`
	Nom     string `json:"nom" validate:"required,min=2,max=64,personname" label:"Surname"`
	Prenom  string `json:"prenom" validate:"required,min=2,max=64,personname" label:"Given name"`
}

// CheckStudent confirms the names match a free seat. An unknown name pair
// answers 400 with redirect=true so the client returns to the code step.
func (h *Handler) CheckStudent(w http.ResponseWriter, r *http.Request) {
	var in struct {
		seatInput
		Email string `json:"email" validate:"omitempty,email" label:"Email"`
	}
	if err := bind.JSON(w, r, &in); err != nil {
		h.fail(w, err)
		return
	}
	classID, err := bind.ObjectID("classId", in.ClassID)
	if err != nil {
		h.fail(w, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "check seat")
	defer cancel()

	if err := h.Enroll.CheckSeat(ctx, classID, in.Nom, in.Prenom); err != nil {
		h.fail(w, err)
		return
	}
	apierr.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

/*─────────────────────────────────────────────────────────────────────────────*
| POST /auth/signup/create  (and the legacy POST /auth/signup)                 |
*─────────────────────────────────────────────────────────────────────────────*/

type createInput struct {
	Nom             string `json:"nom" validate:"required,min=2,max=64,personname" label:"Surname"`
	Prenom          string `json:"prenom" validate:"required,min=2,max=64,personname" label:"Given name"`
	Email           string `json:"email" validate:"required,email,max=254" label:"Email"`
	Password        string `json:"password" validate:"required,password,max=128" label:"Password"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=Password" label:"Password confirmation"`
	ClassID         string `json:"classId" validate:"omitempty,objectid" label:"Class"`
}

type mailResponse struct {
	SendMail bool   `json:"sendMail"`
	Email    string `json:"email"`
	InfoMail string `json:"infoMail,omitempty"`
}

// optionalJoin returns the join context for an optional classId.
func optionalJoin(classID string) (*signupsvc.JoinContext, error) {
	if classID == "" {
		return nil, nil
	}
	id, err := bind.ObjectID("classId", classID)
	if err != nil {
		return nil, err
	}
	return &signupsvc.JoinContext{ClassID: id}, nil
}

// Create registers an unverified account and emails its code. The seat, if
// any, is checked here and claimed at verification.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var in createInput
	if err := bind.JSON(w, r, &in); err != nil {
		h.fail(w, err)
		return
	}
	join, err := optionalJoin(in.ClassID)
	if err != nil {
		h.fail(w, err)
		return
	}
	if h.limited(w, r, in.Email) {
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Long(), h.Log, "signup create")
	defer cancel()

	out, err := h.Signup.Register(ctx, signupsvc.Registration{
		Nom:      in.Nom,
		Prenom:   in.Prenom,
		Email:    in.Email,
		Password: in.Password,
	}, join)
	if err != nil {
		h.fail(w, err)
		return
	}

	h.AuditLog.Auth(ctx, r, audit.EventSignupCreated, out.UserID, true, "", nil)
	if !out.Notified {
		h.AuditLog.Auth(ctx, r, audit.EventNotificationFailed, out.UserID, false, "verification email not sent", nil)
	}
	apierr.WriteJSON(w, http.StatusCreated, mailResponse{SendMail: out.Notified, Email: out.Email, InfoMail: out.MessageID})
}

/*─────────────────────────────────────────────────────────────────────────────*
| POST /auth/verifmail                                                         |
*─────────────────────────────────────────────────────────────────────────────*/

type verifyInput struct {
	Email   string `json:"email" validate:"required,email" label:"Email"`
	Code    string `json:"code" validate:"required,max=16" label:"Code"`
	ClassID string `json:"classId" validate:"omitempty,objectid" label:"Class"`
}

// VerifyEmail checks the code and, with a classId, completes the class join.
func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var in verifyInput
	if err := bind.JSON(w, r, &in); err != nil {
		h.fail(w, err)
		return
	}
	join, err := optionalJoin(in.ClassID)
	if err != nil {
		h.fail(w, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "verify email")
	defer cancel()

	res, err := h.Signup.Verify(ctx, in.Email, in.Code, join)
	if err != nil {
		h.AuditLog.Auth(ctx, r, audit.EventVerificationCodeFailed, primitive.NilObjectID, false, err.Error(), map[string]string{"email": in.Email})
		h.fail(w, err)
		return
	}

	h.AuditLog.Auth(ctx, r, audit.EventEmailVerified, res.UserID, true, "", nil)
	if res.Join != nil {
		h.AuditLog.Enrollment(ctx, r, audit.EventSeatClaimed, res.UserID, res.Join.ClassID, true, "")
	}
	apierr.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "email verified",
	})
}

/*─────────────────────────────────────────────────────────────────────────────*
| POST /auth/resend-code                                                       |
*─────────────────────────────────────────────────────────────────────────────*/

type emailInput struct {
	Email string `json:"email" validate:"required,email" label:"Email"`
}

// ResendCode issues a new verification code.
func (h *Handler) ResendCode(w http.ResponseWriter, r *http.Request) {
	var in emailInput
	if err := bind.JSON(w, r, &in); err != nil {
		h.fail(w, err)
		return
	}
	if h.limited(w, r, in.Email) {
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Long(), h.Log, "resend code")
	defer cancel()

	out, err := h.Signup.Resend(ctx, in.Email)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.AuditLog.Auth(ctx, r, audit.EventVerificationCodeSent, out.UserID, out.Notified, "", nil)
	apierr.WriteJSON(w, http.StatusOK, map[string]any{
		"resend":  out.Notified,
		"message": "a new code has been emailed",
	})
}

/*─────────────────────────────────────────────────────────────────────────────*
| POST /auth/signup/cancel                                                     |
*─────────────────────────────────────────────────────────────────────────────*/

type credentialsInput struct {
	Email    string `json:"email" validate:"required,email" label:"Email"`
	Password string `json:"password" validate:"required,max=128" label:"Password"`
}

// Cancel deletes a pending signup.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	var in credentialsInput
	if err := bind.JSON(w, r, &in); err != nil {
		h.fail(w, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "cancel signup")
	defer cancel()

	if err := h.Signup.Cancel(ctx, in.Email, in.Password); err != nil {
		h.fail(w, err)
		return
	}
	h.AuditLog.Auth(ctx, r, audit.EventSignupCancelled, primitive.NilObjectID, true, "", map[string]string{"email": in.Email})
	apierr.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "message": "signup cancelled"})
}

/*─────────────────────────────────────────────────────────────────────────────*
| POST /auth/signup/join-existing                                              |
*─────────────────────────────────────────────────────────────────────────────*/

// JoinExisting claims a seat for an account that already exists.
func (h *Handler) JoinExisting(w http.ResponseWriter, r *http.Request) {
	var in struct {
		seatInput
		credentialsInput
	}
	if err := bind.JSON(w, r, &in); err != nil {
		h.fail(w, err)
		return
	}
	classID, err := bind.ObjectID("classId", in.ClassID)
	if err != nil {
		h.fail(w, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "join existing")
	defer cancel()

	res, err := h.Signup.JoinExisting(ctx, in.Email, in.Password, signupsvc.JoinContext{
		ClassID: classID,
		Nom:     in.Nom,
		Prenom:  in.Prenom,
	})
	if err != nil {
		if apierr.Is(err, apierr.Conflict) {
			h.AuditLog.Enrollment(ctx, r, audit.EventSeatClaimConflict, res.UserID, classID, false, err.Error())
		}
		h.fail(w, err)
		return
	}

	h.AuditLog.Enrollment(ctx, r, audit.EventSeatClaimed, res.UserID, classID, true, "")
	apierr.WriteJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"message":      "classroom joined",
		"classId":      classID.Hex(),
		"alreadyOwned": res.AlreadyOwned,
	})
}
