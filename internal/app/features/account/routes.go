package account

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes mounts under /users; every route requires a session.
func Routes(h *Handler, requireAuth func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(requireAuth)
	r.Get("/me", h.Me)
	r.Post("/change-password", h.ChangePassword)
	r.Post("/leave-class", h.LeaveClass)
	r.Delete("/delete-account", h.DeleteAccount)
	r.Post("/delete-account", h.DeleteAccount)
	return r
}
