package roster

import (
	"github.com/dalemusser/classroll/internal/app/system/auth"
	"github.com/go-chi/chi/v5"
)

// Routes mounts under /classes.
func Routes(h *Handler, tokens *auth.Manager) chi.Router {
	r := chi.NewRouter()
	r.Use(tokens.RequireAuth)

	r.Route("/{classID}", func(r chi.Router) {
		r.Use(sameClass(h.Log))

		r.Group(func(r chi.Router) {
			r.Use(tokens.RequireClassAdmin)
			r.Get("/roster", h.List)
			r.Get("/history", h.History)
			r.Post("/seats", h.AddSeat)
			r.Post("/seats/import", h.Import)
			r.Post("/seats/remove", h.RemoveSeatAt)
			r.Delete("/seats/{seatID}", h.RemoveSeat)
			r.Post("/code", h.RotateCode)
			r.Post("/active", h.SetActive)
			r.Post("/visibility/{userID}", h.GrantVisibility)
			r.Delete("/visibility/{userID}", h.RevokeVisibility)
			r.Post("/repertoires", h.AddRepertoire)
			r.Post("/admins/{userID}", h.GrantAdmin)
		})

		r.With(tokens.RequireScopedAdmin(repertoireSlug)).
			Post("/repertoires/{slug}/teachers/{userID}", h.AssignTeacher)
		r.With(tokens.RequireScopedAdmin(repertoireSlug)).
			Delete("/repertoires/{slug}/teachers/{userID}", h.UnassignTeacher)
	})
	return r
}
