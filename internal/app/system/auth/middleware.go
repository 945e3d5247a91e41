package auth

import (
	"errors"
	"net/http"

	"github.com/dalemusser/classroll/internal/app/system/apierr"
	"go.uber.org/zap"
)

// RequireAuth rejects requests without a valid session cookie with 401 and
// puts the claims in the request context.
func (m *Manager) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := m.ParseSession(r)
		if err != nil {
			apierr.Write(w, m.log, sessionError(err))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), c)))
	})
}

func sessionError(err error) error {
	switch {
	case errors.Is(err, ErrTokenMissing):
		return apierr.NewAuth("unauthorized: token missing")
	case errors.Is(err, ErrTokenExpired):
		return apierr.NewAuth("session expired")
	default:
		return apierr.NewAuth("invalid token")
	}
}

// RequireClassAdmin allows only sessions holding the admin role for their
// classroom. It must run after RequireAuth.
func (m *Manager) RequireClassAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := CurrentUser(r)
		if !ok {
			apierr.Write(w, m.log, apierr.NewAuth("unauthorized"))
			return
		}
		if !c.IsAdmin() {
			apierr.Write(w, m.log, apierr.NewForbidden("reserved for administrators"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireScopedAdmin allows classroom admins and sessions whose
// adminRepertoires list the slug returned by repertoire.
func (m *Manager) RequireScopedAdmin(repertoire func(*http.Request) (string, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, ok := CurrentUser(r)
			if !ok {
				apierr.Write(w, m.log, apierr.NewAuth("unauthorized"))
				return
			}
			if c.IsAdmin() {
				next.ServeHTTP(w, r)
				return
			}
			slug, err := repertoire(r)
			if err != nil {
				m.log.Error("resolve repertoire for scoped admin", zap.Error(err))
				apierr.Write(w, m.log, err)
				return
			}
			if !c.AdminOf(slug) {
				apierr.Write(w, m.log, apierr.NewForbidden("reserved access"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
