package signup

import "github.com/go-chi/chi/v5"

// Register adds the signup endpoints to r, which is mounted at /auth.
func Register(r chi.Router, h *Handler) {
	r.Post("/signup", h.Create)
	r.Post("/signup/validate-teacher-code", h.ValidateTeacherCode)
	r.Post("/signup/check-student", h.CheckStudent)
	r.Post("/signup/create", h.Create)
	r.Post("/signup/cancel", h.Cancel)
	r.Post("/signup/join-existing", h.JoinExisting)
	r.Post("/verifmail", h.VerifyEmail)
	r.Post("/resend-code", h.ResendCode)
}

// Routes returns the endpoints on their own router.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	Register(r, h)
	return r
}
