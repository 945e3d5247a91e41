package roster

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/dalemusser/classroll/internal/app/features/shared/bind"
	"github.com/dalemusser/classroll/internal/app/store/audit"
	"github.com/dalemusser/classroll/internal/app/system/apierr"
	"github.com/dalemusser/classroll/internal/app/system/csvutil"
	"github.com/dalemusser/classroll/internal/app/system/timeouts"
	"github.com/dalemusser/classroll/internal/domain/models"
	"github.com/dalemusser/classroll/internal/domain/roster"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type seatView struct {
	ID     string `json:"id,omitempty"`
	Index  int    `json:"index"`
	Nom    string `json:"nom"`
	Prenom string `json:"prenom"`
	Email  string `json:"email,omitempty"`
	Free   bool   `json:"free"`
	UserID string `json:"userId,omitempty"`
}

func viewSeat(i int, s models.Seat) seatView {
	v := seatView{Index: i, Nom: s.Nom, Prenom: s.Prenom, Email: s.Email, Free: s.IsFree()}
	if s.HasStableID() {
		v.ID = s.ID.Hex()
	}
	if s.UserID != nil {
		v.UserID = s.UserID.Hex()
	}
	return v
}

type rosterView struct {
	ClassID     string              `json:"classId"`
	Name        string              `json:"name"`
	Active      bool                `json:"active"`
	Code        string              `json:"code,omitempty"`
	CodeExpires string              `json:"codeExpires,omitempty"`
	Students    []seatView          `json:"students"`
	Repertoires []models.Repertoire `json:"repertoires"`
	VisibleTo   []string            `json:"visibleTo"`
}

// List returns the full roster, including claimed seats and the join code.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "list roster")
	defer cancel()

	c, err := h.Classes.GetByID(ctx, classID(r))
	if err != nil {
		h.fail(w, err)
		return
	}

	out := rosterView{
		ClassID:     c.ID.Hex(),
		Name:        c.PublicName,
		Active:      c.Active,
		Code:        c.Code,
		Students:    make([]seatView, 0, len(c.Students)),
		Repertoires: c.Repertoires,
		VisibleTo:   make([]string, 0, len(c.VisibleTo)),
	}
	if out.Repertoires == nil {
		out.Repertoires = []models.Repertoire{}
	}
	if c.CodeExpires != nil {
		out.CodeExpires = c.CodeExpires.UTC().Format(timeFormat)
	}
	for i, s := range c.Students {
		out.Students = append(out.Students, viewSeat(i, s))
	}
	for _, id := range c.VisibleTo {
		out.VisibleTo = append(out.VisibleTo, id.Hex())
	}
	apierr.WriteJSON(w, http.StatusOK, out)
}

type seatInput struct {
	Nom    string `json:"nom" validate:"required,min=2,max=64,personname" label:"Surname"`
	Prenom string `json:"prenom" validate:"required,min=2,max=64,personname" label:"Given name"`
	Email  string `json:"email" validate:"omitempty,email" label:"Email"`
}

// AddSeat appends one named seat.
func (h *Handler) AddSeat(w http.ResponseWriter, r *http.Request) {
	var in seatInput
	if err := bind.JSON(w, r, &in); err != nil {
		apierr.Write(w, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "add seat")
	defer cancel()

	seat, err := h.Classes.AddSeat(ctx, classID(r), models.Seat{Nom: in.Nom, Prenom: in.Prenom, Email: in.Email})
	if err != nil {
		h.fail(w, err)
		return
	}
	h.AuditLog.Admin(ctx, r, audit.EventSeatAdded, actorID(r), classID(r), seat.ID, map[string]string{
		"nom": seat.Nom, "prenom": seat.Prenom,
	})
	apierr.WriteJSON(w, http.StatusCreated, viewSeat(-1, seat))
}

type importResponse struct {
	Added   int        `json:"added"`
	Skipped []seatView `json:"skipped"`
}

// Import adds the seats listed in a CSV file. The file arrives either as the
// multipart field "file" or as a text/csv body. Any invalid row rejects the
// whole file.
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, csvutil.MaxUploadSize)

	body := r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		file, _, err := r.FormFile("file")
		if err != nil {
			msg := "a CSV file is required"
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				msg = "the CSV file is too large (1 MB maximum)"
			}
			apierr.Write(w, h.Log, apierr.NewValidation(msg))
			return
		}
		defer file.Close()
		body = file
	}

	parsed, err := csvutil.ParseRoster(body, csvutil.DefaultParseOptions())
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			apierr.Write(w, h.Log, apierr.NewValidation("the CSV file is too large (1 MB maximum)"))
		case errors.Is(err, csvutil.ErrTooManyRows):
			apierr.Write(w, h.Log, apierr.NewValidation("the CSV file has more than "+strconv.Itoa(csvutil.MaxRows)+" rows"))
		default:
			apierr.Write(w, h.Log, apierr.NewValidation("the CSV file could not be read: "+err.Error()))
		}
		return
	}
	if parsed.HasErrors() {
		fields := make([]apierr.FieldError, 0, len(parsed.Errors))
		for _, re := range parsed.Errors {
			fields = append(fields, apierr.FieldError{Field: "line " + strconv.Itoa(re.Line), Message: re.Reason})
		}
		e := apierr.ValidationFields(fields)
		e.Message = parsed.Summary(5)
		apierr.Write(w, h.Log, e)
		return
	}
	if len(parsed.Rows) == 0 {
		apierr.Write(w, h.Log, apierr.NewValidation("the CSV file has no rows"))
		return
	}

	seats := make([]models.Seat, 0, len(parsed.Rows))
	for _, row := range parsed.Rows {
		seats = append(seats, models.Seat{Nom: row.Nom, Prenom: row.Prenom, Email: row.Email})
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Batch(), h.Log, "import roster")
	defer cancel()

	res, err := h.Classes.ImportSeats(ctx, classID(r), seats)
	if err != nil {
		h.fail(w, err)
		return
	}

	out := importResponse{Added: len(res.Added), Skipped: make([]seatView, 0, len(res.Skipped))}
	for _, s := range res.Skipped {
		out.Skipped = append(out.Skipped, viewSeat(-1, s))
	}
	h.AuditLog.Admin(ctx, r, audit.EventRosterImported, actorID(r), classID(r), actorID(r), map[string]string{
		"added":   strconv.Itoa(out.Added),
		"skipped": strconv.Itoa(len(out.Skipped)),
	})
	h.Log.Info("roster imported",
		zap.String("class_id", classID(r).Hex()),
		zap.Int("added", out.Added),
		zap.Int("skipped", len(out.Skipped)))
	apierr.WriteJSON(w, http.StatusOK, out)
}

type removeInput struct {
	Index  *int   `json:"index" validate:"required,min=0" label:"Seat position"`
	Nom    string `json:"nom" validate:"required" label:"Surname"`
	Prenom string `json:"prenom" validate:"required" label:"Given name"`
}

// RemoveSeat deletes a seat addressed by its stable id.
func (h *Handler) RemoveSeat(w http.ResponseWriter, r *http.Request) {
	seatID, err := bind.ObjectID("seatID", chi.URLParam(r, "seatID"))
	if err != nil {
		apierr.Write(w, h.Log, err)
		return
	}
	h.removeSeat(w, r, roster.SeatRef{ID: seatID})
}

// RemoveSeatAt deletes a legacy seat without an id. The names stored at the
// index must match, so a roster edited concurrently is not mis-addressed.
func (h *Handler) RemoveSeatAt(w http.ResponseWriter, r *http.Request) {
	var in removeInput
	if err := bind.JSON(w, r, &in); err != nil {
		apierr.Write(w, h.Log, err)
		return
	}
	h.removeSeat(w, r, roster.SeatRef{Index: *in.Index, Nom: in.Nom, Prenom: in.Prenom})
}

func (h *Handler) removeSeat(w http.ResponseWriter, r *http.Request, ref roster.SeatRef) {
	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "remove seat")
	defer cancel()

	seat, err := h.Enroll.RemoveSeat(ctx, classID(r), ref)
	if err != nil {
		apierr.Write(w, h.Log, err)
		return
	}

	details := map[string]string{"nom": seat.Nom, "prenom": seat.Prenom}
	if seat.UserID != nil {
		details["user_id"] = seat.UserID.Hex()
	}
	h.AuditLog.Admin(ctx, r, audit.EventSeatRemoved, actorID(r), classID(r), seat.ID, details)
	apierr.WriteJSON(w, http.StatusOK, map[string]any{
		"message":    "seat removed",
		"unenrolled": seat.Claimed(),
	})
}
