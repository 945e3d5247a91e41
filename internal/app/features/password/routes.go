package password

import "github.com/go-chi/chi/v5"

// Register adds the password reset endpoints to r, which is mounted at /auth.
func Register(r chi.Router, h *Handler) {
	r.Post("/forgot", h.Forgot)
	r.Post("/resend-forgot", h.ResendForgot)
	r.Post("/reset-password", h.Reset)
}

func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	Register(r, h)
	return r
}
