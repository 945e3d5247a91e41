package roster

import (
	"net/http"
	"time"

	"github.com/dalemusser/classroll/internal/app/store/audit"
	"github.com/dalemusser/classroll/internal/app/system/apierr"
	"github.com/dalemusser/classroll/internal/app/system/paging"
	"github.com/dalemusser/classroll/internal/app/system/timeouts"
	"github.com/dalemusser/waffle/pantry/query"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const dateFormat = "2006-01-02"

type eventView struct {
	ID            string            `json:"id"`
	Timestamp     string            `json:"timestamp"`
	Category      string            `json:"category"`
	EventType     string            `json:"eventType"`
	UserID        string            `json:"userId,omitempty"`
	ActorID       string            `json:"actorId,omitempty"`
	Success       bool              `json:"success"`
	FailureReason string            `json:"failureReason,omitempty"`
	Details       map[string]string `json:"details,omitempty"`
}

func hexOrEmpty(id *primitive.ObjectID) string {
	if id == nil {
		return ""
	}
	return id.Hex()
}

// History handles GET /classes/{classID}/history: the classroom's audit
// trail, newest first. Optional filters are category, type, and from/to
// dates (YYYY-MM-DD, inclusive).
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	cid := classID(r)
	page := paging.FromRequest(r)
	filter := audit.QueryFilter{
		ClassID:   &cid,
		Category:  query.Get(r, "category"),
		EventType: query.Get(r, "type"),
		Limit:     page.LimitPlusOne(),
		Offset:    page.Skip(),
	}

	var bad []apierr.FieldError
	if s := query.Get(r, "from"); s != "" {
		if t, err := time.Parse(dateFormat, s); err == nil {
			filter.StartTime = &t
		} else {
			bad = append(bad, apierr.FieldError{Field: "from", Message: "From must be a date (YYYY-MM-DD)."})
		}
	}
	if s := query.Get(r, "to"); s != "" {
		if t, err := time.Parse(dateFormat, s); err == nil {
			end := t.Add(24*time.Hour - time.Nanosecond)
			filter.EndTime = &end
		} else {
			bad = append(bad, apierr.FieldError{Field: "to", Message: "To must be a date (YYYY-MM-DD)."})
		}
	}
	if len(bad) > 0 {
		apierr.Write(w, h.Log, apierr.ValidationFields(bad))
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Long(), h.Log, "classroom history")
	defer cancel()

	events, err := h.Audit.Query(ctx, filter)
	if err != nil {
		apierr.Write(w, h.Log, apierr.NewInternal(err))
		return
	}
	res := paging.Trim(&events, page)

	out := make([]eventView, 0, len(events))
	for _, e := range events {
		out = append(out, eventView{
			ID:            e.ID.Hex(),
			Timestamp:     e.Timestamp.UTC().Format(timeFormat),
			Category:      e.Category,
			EventType:     e.EventType,
			UserID:        hexOrEmpty(e.UserID),
			ActorID:       hexOrEmpty(e.ActorID),
			Success:       e.Success,
			FailureReason: e.FailureReason,
			Details:       e.Details,
		})
	}
	apierr.WriteJSON(w, http.StatusOK, struct {
		Events []eventView `json:"events"`
		paging.Result
	}{out, res})
}
