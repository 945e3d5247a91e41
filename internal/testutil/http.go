package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dalemusser/classroll/internal/app/system/auth"
	"github.com/dalemusser/classroll/internal/domain/models"
	"go.uber.org/zap"
)

// JWTSecret is the signing secret used by TokenManager.
const JWTSecret = "test-jwt-secret-must-be-32-chars-long"

// TokenManager returns an auth.Manager for handler tests (insecure cookies).
func TokenManager(t *testing.T) *auth.Manager {
	t.Helper()
	m, err := auth.NewManager(JWTSecret, "", false, zap.NewNop())
	if err != nil {
		t.Fatalf("auth manager: %v", err)
	}
	return m
}

// SessionFor builds session claims for u in classroom c with role.
func SessionFor(u models.User, c models.Classroom, role string) auth.Claims {
	return auth.Claims{
		UserID:    u.ID.Hex(),
		Email:     u.Email,
		Nom:       u.Nom,
		Prenom:    u.Prenom,
		Role:      role,
		ClassID:   c.ID.Hex(),
		ClassName: c.PublicName,
	}
}

// WithSession puts claims in the request context, as RequireAuth would.
func WithSession(r *http.Request, c auth.Claims) *http.Request {
	return r.WithContext(auth.WithClaims(r.Context(), &c))
}

// JSONRequest builds a request with a JSON body.
func JSONRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	r := httptest.NewRequest(method, target, &buf)
	r.Header.Set("Content-Type", "application/json")
	return r
}

// ResponseRecorder wraps httptest.ResponseRecorder with assertions.
type ResponseRecorder struct {
	*httptest.ResponseRecorder
}

func NewRecorder() *ResponseRecorder {
	return &ResponseRecorder{httptest.NewRecorder()}
}

func (r *ResponseRecorder) AssertStatus(t testing.TB, expected int) {
	t.Helper()
	if r.Code != expected {
		t.Errorf("expected status %d, got %d; body: %s", expected, r.Code, r.Body.String())
	}
}

func (r *ResponseRecorder) AssertContains(t testing.TB, expected string) {
	t.Helper()
	if !strings.Contains(r.Body.String(), expected) {
		t.Errorf("expected body to contain %q, got %q", expected, r.Body.String())
	}
}

// DecodeJSON decodes the response body into v.
func (r *ResponseRecorder) DecodeJSON(t testing.TB, v any) {
	t.Helper()
	if err := json.Unmarshal(r.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response: %v; body: %s", err, r.Body.String())
	}
}

// Cookie returns the named Set-Cookie from the response, or nil.
func (r *ResponseRecorder) Cookie(name string) *http.Cookie {
	for _, c := range r.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
