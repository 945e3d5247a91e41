// internal/app/features/login/routes.go
package login

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Register adds the login endpoints to r, which is mounted at /auth.
// requireAuth guards /me.
func Register(r chi.Router, h *Handler, requireAuth func(http.Handler) http.Handler) {
	r.Post("/login", h.Login)
	r.Post("/login/select-class", h.SelectClass)
	r.Post("/logout", h.Logout)
	r.With(requireAuth).Get("/me", h.Me)
}

func Routes(h *Handler, requireAuth func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	Register(r, h, requireAuth)
	return r
}
