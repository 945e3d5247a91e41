package auth_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dalemusser/classroll/internal/app/system/auth"
	"go.uber.org/zap"
)

const testSecret = "test-jwt-secret-must-be-32-chars-long"

func newTestManager(t *testing.T, secure bool) *auth.Manager {
	t.Helper()
	m, err := auth.NewManager(testSecret, "", secure, zap.NewNop())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func sessionRequest(t *testing.T, m *auth.Manager, c auth.Claims) *http.Request {
	t.Helper()
	tok, err := m.IssueSession(c)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	req := httptest.NewRequest("GET", "/users/me", nil)
	req.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: tok})
	return req
}

func TestNewManager_EmptySecret(t *testing.T) {
	if _, err := auth.NewManager("", "", false, zap.NewNop()); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestIssueAndParse(t *testing.T) {
	m := newTestManager(t, false)
	tok, err := m.IssueSession(auth.Claims{UserID: "u1", Email: "a@b.c", Role: "admin", ClassID: "c1"})
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	c, err := m.Parse(tok)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.UserID != "u1" || c.Role != "admin" || c.ClassID != "c1" || c.Subject != "u1" {
		t.Errorf("unexpected claims: %+v", c)
	}
}

func TestParse_WrongSecret(t *testing.T) {
	m := newTestManager(t, false)
	other, _ := auth.NewManager("another-secret-that-is-32-chars-long!", "", false, zap.NewNop())
	tok, _ := other.IssuePending("u1", "a@b.c")
	if _, err := m.Parse(tok); err == nil {
		t.Fatal("expected error for foreign signature")
	}
}

func TestRequireAuth(t *testing.T) {
	m := newTestManager(t, false)
	pending, _ := m.IssuePending("u1", "a@b.c")

	tests := []struct {
		name   string
		cookie string
		want   int
		body   string
	}{
		{"missing", "", http.StatusUnauthorized, "token missing"},
		{"garbage", "not-a-token", http.StatusUnauthorized, "invalid token"},
		{"pending token is not a session", pending, http.StatusUnauthorized, "invalid token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/users/me", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: tt.cookie})
			}
			rec := httptest.NewRecorder()
			m.RequireAuth(okHandler()).ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if !strings.Contains(rec.Body.String(), tt.body) {
				t.Errorf("body = %q, want substring %q", rec.Body.String(), tt.body)
			}
		})
	}
}

func TestRequireAuth_SetsUser(t *testing.T) {
	m := newTestManager(t, false)
	req := sessionRequest(t, m, auth.Claims{UserID: "u1", Email: "a@b.c", Role: "user"})

	var got *auth.Claims
	h := m.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = auth.CurrentUser(r)
	}))
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got == nil || got.UserID != "u1" {
		t.Fatalf("CurrentUser = %+v", got)
	}
}

func TestRequireClassAdmin(t *testing.T) {
	m := newTestManager(t, false)
	for _, tt := range []struct {
		role string
		want int
	}{
		{"admin", http.StatusOK},
		{"user", http.StatusForbidden},
	} {
		t.Run(tt.role, func(t *testing.T) {
			req := sessionRequest(t, m, auth.Claims{UserID: "u1", Role: tt.role})
			rec := httptest.NewRecorder()
			m.RequireAuth(m.RequireClassAdmin(okHandler())).ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestRequireScopedAdmin(t *testing.T) {
	m := newTestManager(t, false)
	slug := func(*http.Request) (string, error) { return "fractions", nil }

	tests := []struct {
		name   string
		claims auth.Claims
		want   int
	}{
		{"class admin", auth.Claims{UserID: "u1", Role: "admin"}, http.StatusOK},
		{"repertoire admin", auth.Claims{UserID: "u1", Role: "user", AdminRepertoires: []string{"fractions"}}, http.StatusOK},
		{"other repertoire", auth.Claims{UserID: "u1", Role: "user", AdminRepertoires: []string{"geometrie"}}, http.StatusForbidden},
		{"plain user", auth.Claims{UserID: "u1", Role: "user"}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := sessionRequest(t, m, tt.claims)
			rec := httptest.NewRecorder()
			m.RequireAuth(m.RequireScopedAdmin(slug)(okHandler())).ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestParsePending_Purpose(t *testing.T) {
	m := newTestManager(t, false)
	session, _ := m.IssueSession(auth.Claims{UserID: "u1"})

	req := httptest.NewRequest("POST", "/auth/login/select-class", nil)
	req.AddCookie(&http.Cookie{Name: auth.PendingCookie, Value: session})
	if _, err := m.ParsePending(req); !errors.Is(err, auth.ErrWrongPurpose) {
		t.Fatalf("session token as pending: err = %v, want ErrWrongPurpose", err)
	}

	pending, _ := m.IssuePending("u1", "a@b.c")
	req = httptest.NewRequest("POST", "/auth/login/select-class", nil)
	req.AddCookie(&http.Cookie{Name: auth.PendingCookie, Value: pending})
	c, err := m.ParsePending(req)
	if err != nil || c.UserID != "u1" {
		t.Fatalf("ParsePending = %+v, %v", c, err)
	}
}

func TestCookies_SameSite(t *testing.T) {
	for _, tt := range []struct {
		secure bool
		want   http.SameSite
	}{
		{true, http.SameSiteNoneMode},
		{false, http.SameSiteLaxMode},
	} {
		m := newTestManager(t, tt.secure)
		rec := httptest.NewRecorder()
		m.SetPendingCookie(rec, "tok")
		cookies := rec.Result().Cookies()
		if len(cookies) != 1 {
			t.Fatalf("got %d cookies", len(cookies))
		}
		ck := cookies[0]
		if ck.SameSite != tt.want || ck.Secure != tt.secure || !ck.HttpOnly {
			t.Errorf("secure=%v: cookie = %+v", tt.secure, ck)
		}
		if ck.MaxAge != int(auth.PendingTTL/time.Second) {
			t.Errorf("MaxAge = %d", ck.MaxAge)
		}
	}
}

func TestClearCookies(t *testing.T) {
	m := newTestManager(t, false)
	rec := httptest.NewRecorder()
	m.ClearCookies(rec)
	names := map[string]bool{}
	for _, ck := range rec.Result().Cookies() {
		if ck.MaxAge >= 0 {
			t.Errorf("cookie %s not expired", ck.Name)
		}
		names[ck.Name] = true
	}
	if !names[auth.SessionCookie] || !names[auth.PendingCookie] {
		t.Errorf("cleared = %v", names)
	}
}
