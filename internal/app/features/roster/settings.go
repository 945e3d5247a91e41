package roster

import (
	"net/http"
	"time"

	"github.com/dalemusser/classroll/internal/app/features/shared/bind"
	"github.com/dalemusser/classroll/internal/app/store/audit"
	"github.com/dalemusser/classroll/internal/app/system/apierr"
	"github.com/dalemusser/classroll/internal/app/system/codes"
	"github.com/dalemusser/classroll/internal/app/system/timeouts"
	"github.com/go-chi/chi/v5"
)

const timeFormat = time.RFC3339

type rotateInput struct {
	// Optional; defaults to the configured TTL.
	TTLHours int `json:"ttlHours" validate:"omitempty,min=1,max=2160" label:"Validity"`
}

// RotateCode issues a new join code. The previous code stops working at once.
func (h *Handler) RotateCode(w http.ResponseWriter, r *http.Request) {
	var in rotateInput
	if r.ContentLength != 0 {
		if err := bind.JSON(w, r, &in); err != nil {
			apierr.Write(w, h.Log, err)
			return
		}
	}
	ttl := h.CodeTTL
	if in.TTLHours > 0 {
		ttl = time.Duration(in.TTLHours) * time.Hour
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "rotate join code")
	defer cancel()

	code := codes.Join()
	expires := h.now().Add(ttl).UTC()
	if err := h.Classes.RotateCode(ctx, classID(r), code, expires); err != nil {
		h.fail(w, err)
		return
	}
	h.AuditLog.Admin(ctx, r, audit.EventCodeRotated, actorID(r), classID(r), actorID(r), map[string]string{
		"expires": expires.Format(timeFormat),
	})
	apierr.WriteJSON(w, http.StatusOK, map[string]string{
		"code":        code,
		"codeExpires": expires.Format(timeFormat),
	})
}

type activeInput struct {
	Active *bool `json:"active" validate:"required" label:"Active"`
}

// SetActive opens or closes the classroom to logins and joins.
func (h *Handler) SetActive(w http.ResponseWriter, r *http.Request) {
	var in activeInput
	if err := bind.JSON(w, r, &in); err != nil {
		apierr.Write(w, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "set classroom active")
	defer cancel()

	if err := h.Classes.SetActive(ctx, classID(r), *in.Active); err != nil {
		h.fail(w, err)
		return
	}
	event := audit.EventClassDeactivated
	if *in.Active {
		event = audit.EventClassActivated
	}
	h.AuditLog.Admin(ctx, r, event, actorID(r), classID(r), actorID(r), nil)
	apierr.WriteJSON(w, http.StatusOK, map[string]bool{"active": *in.Active})
}

// GrantVisibility and RevokeVisibility maintain the list of accounts that
// see the classroom without holding a seat.
func (h *Handler) GrantVisibility(w http.ResponseWriter, r *http.Request) {
	h.visibility(w, r, true)
}

func (h *Handler) RevokeVisibility(w http.ResponseWriter, r *http.Request) {
	h.visibility(w, r, false)
}

func (h *Handler) visibility(w http.ResponseWriter, r *http.Request, grant bool) {
	userID, err := bind.ObjectID("userID", chi.URLParam(r, "userID"))
	if err != nil {
		apierr.Write(w, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "classroom visibility")
	defer cancel()

	event := audit.EventVisibilityRevoked
	if grant {
		if _, err := h.Users.GetByID(ctx, userID); err != nil {
			h.fail(w, err)
			return
		}
		err = h.Classes.GrantVisibility(ctx, classID(r), userID)
		event = audit.EventVisibilityGranted
	} else {
		err = h.Classes.RevokeVisibility(ctx, classID(r), userID)
	}
	if err != nil {
		h.fail(w, err)
		return
	}
	h.AuditLog.Admin(ctx, r, event, actorID(r), classID(r), userID, nil)
	apierr.WriteJSON(w, http.StatusOK, map[string]bool{"visible": grant})
}

// GrantAdmin makes a verified account a co-administrator of the classroom.
// An account holding a seat in the same roster is refused until the seat is
// removed, since one account cannot be both.
func (h *Handler) GrantAdmin(w http.ResponseWriter, r *http.Request) {
	userID, err := bind.ObjectID("userID", chi.URLParam(r, "userID"))
	if err != nil {
		apierr.Write(w, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "grant classroom admin")
	defer cancel()

	u, err := h.Users.GetByID(ctx, userID)
	if err != nil {
		h.fail(w, err)
		return
	}
	if !u.IsVerified {
		apierr.Write(w, h.Log, apierr.NewValidation("this account has not been verified"))
		return
	}
	owns, err := h.Enroll.OwnsSeat(ctx, classID(r), userID)
	if err != nil {
		h.fail(w, err)
		return
	}
	if owns {
		apierr.Write(w, h.Log, apierr.NewConflict("this account holds a seat in the classroom; remove the seat first", nil))
		return
	}
	if err := h.Users.SetAdmin(ctx, userID, classID(r)); err != nil {
		h.fail(w, err)
		return
	}
	h.AuditLog.Admin(ctx, r, audit.EventAdminGranted, actorID(r), classID(r), userID, nil)
	apierr.WriteJSON(w, http.StatusOK, map[string]bool{"admin": true})
}
