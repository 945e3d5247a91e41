package roster

import (
	"net/http"

	"github.com/dalemusser/classroll/internal/app/features/shared/bind"
	"github.com/dalemusser/classroll/internal/app/store/audit"
	"github.com/dalemusser/classroll/internal/app/system/apierr"
	"github.com/dalemusser/classroll/internal/app/system/htmlsanitize"
	"github.com/dalemusser/classroll/internal/app/system/timeouts"
	"github.com/dalemusser/classroll/internal/domain/models"
	"github.com/go-chi/chi/v5"
)

type repertoireInput struct {
	Name string `json:"name" validate:"required,max=80" label:"Name"`
}

// AddRepertoire creates a repertoire. Markup in the name is stripped.
func (h *Handler) AddRepertoire(w http.ResponseWriter, r *http.Request) {
	var in repertoireInput
	if err := bind.JSON(w, r, &in); err != nil {
		apierr.Write(w, h.Log, err)
		return
	}
	name := htmlsanitize.PlainText(in.Name)
	if models.Slug(name) == "" {
		apierr.Write(w, h.Log, apierr.ValidationFields([]apierr.FieldError{{Field: "name", Message: "Name must contain letters or digits."}}))
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "add repertoire")
	defer cancel()

	rep, err := h.Classes.AddRepertoire(ctx, classID(r), name)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.AuditLog.Admin(ctx, r, audit.EventRepertoireAdded, actorID(r), classID(r), actorID(r), map[string]string{"slug": rep.Slug})
	apierr.WriteJSON(w, http.StatusCreated, rep)
}

// AssignTeacher adds a teacher to a repertoire and enrolls them in the
// classroom so they can select it at login.
func (h *Handler) AssignTeacher(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	teacherID, err := bind.ObjectID("userID", chi.URLParam(r, "userID"))
	if err != nil {
		apierr.Write(w, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "assign repertoire teacher")
	defer cancel()

	u, err := h.Users.GetByID(ctx, teacherID)
	if err != nil {
		h.fail(w, err)
		return
	}
	if !u.IsVerified {
		apierr.Write(w, h.Log, apierr.NewValidation("this account has not been verified"))
		return
	}
	if err := h.Classes.AssignTeacher(ctx, classID(r), slug, teacherID); err != nil {
		h.fail(w, err)
		return
	}
	if _, err := h.Users.AddEnrollment(ctx, teacherID, classID(r)); err != nil {
		h.fail(w, err)
		return
	}
	h.AuditLog.Admin(ctx, r, audit.EventTeacherAssigned, actorID(r), classID(r), teacherID, map[string]string{"slug": slug})
	apierr.WriteJSON(w, http.StatusOK, map[string]string{"message": "teacher assigned"})
}

// UnassignTeacher removes a teacher from a repertoire. Their classroom
// enrollment is left in place.
func (h *Handler) UnassignTeacher(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	teacherID, err := bind.ObjectID("userID", chi.URLParam(r, "userID"))
	if err != nil {
		apierr.Write(w, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "unassign repertoire teacher")
	defer cancel()

	if err := h.Classes.UnassignTeacher(ctx, classID(r), slug, teacherID); err != nil {
		h.fail(w, err)
		return
	}
	h.AuditLog.Admin(ctx, r, audit.EventTeacherUnassigned, actorID(r), classID(r), teacherID, map[string]string{"slug": slug})
	apierr.WriteJSON(w, http.StatusOK, map[string]string{"message": "teacher unassigned"})
}
