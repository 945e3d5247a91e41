// Package auth issues and checks the JWT cookies that carry a login.
//
// A login is two steps. The password check sets a short-lived pending_login
// token whose only purpose is class selection; choosing a classroom swaps it
// for the jwt session token scoped to that classroom and role.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	SessionCookie = "jwt"
	PendingCookie = "pending_login"

	PurposeClassSelection = "class_selection"

	PendingTTL = 10 * time.Minute
	SessionTTL = time.Hour

	issuer = "classroll"
)

var (
	ErrTokenMissing = errors.New("auth: token missing")
	ErrTokenExpired = errors.New("auth: token expired")
	ErrTokenInvalid = errors.New("auth: token invalid")
	ErrWrongPurpose = errors.New("auth: token not issued for this step")
)

// Claims is the payload of both cookies. Pending tokens only carry UserID,
// Email and Purpose.
type Claims struct {
	UserID           string   `json:"userId"`
	Email            string   `json:"email"`
	Nom              string   `json:"nom,omitempty"`
	Prenom           string   `json:"prenom,omitempty"`
	Role             string   `json:"role,omitempty"`
	ClassID          string   `json:"classId,omitempty"`
	ClassName        string   `json:"name,omitempty"`
	AdminRepertoires []string `json:"adminRepertoires,omitempty"`
	Purpose          string   `json:"purpose,omitempty"`
	jwt.RegisteredClaims
}

// IsAdmin reports whether the session carries the classroom admin role.
func (c *Claims) IsAdmin() bool { return c.Role == "admin" }

// AdminOf reports whether the session may administer repertoire slug.
func (c *Claims) AdminOf(slug string) bool {
	if c.IsAdmin() {
		return true
	}
	if slug == "" {
		return false
	}
	for _, s := range c.AdminRepertoires {
		if s == slug {
			return true
		}
	}
	return false
}

// Tokens is what the login and account handlers need from a Manager.
type Tokens interface {
	IssuePending(userID, email string) (string, error)
	IssueSession(c Claims) (string, error)
	ParsePending(r *http.Request) (*Claims, error)
	ParseSession(r *http.Request) (*Claims, error)
	SetPendingCookie(w http.ResponseWriter, token string)
	SetSessionCookie(w http.ResponseWriter, token string)
	ClearPendingCookie(w http.ResponseWriter)
	ClearCookies(w http.ResponseWriter)
}

// Manager signs tokens with an HMAC secret and writes them as cookies.
type Manager struct {
	secret []byte
	domain string
	secure bool
	log    *zap.Logger
	now    func() time.Time
}

// NewManager builds a Manager. In production (secure=true) cookies are Secure
// with SameSite=None so the SPA can send them cross-site; in local dev over
// http they are Lax.
func NewManager(secret, domain string, secure bool, log *zap.Logger) (*Manager, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret is empty; provide 32+ random chars")
	}
	if len(secret) < 32 {
		log.Warn("jwt secret is short; 32+ chars recommended", zap.Int("length", len(secret)))
	}
	return &Manager{
		secret: []byte(secret),
		domain: domain,
		secure: secure,
		log:    log,
		now:    time.Now,
	}, nil
}

func (m *Manager) sign(c Claims, ttl time.Duration) (string, error) {
	now := m.now().UTC()
	c.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   c.UserID,
		Issuer:    issuer,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := tok.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// IssuePending returns the class-selection token.
func (m *Manager) IssuePending(userID, email string) (string, error) {
	return m.sign(Claims{UserID: userID, Email: email, Purpose: PurposeClassSelection}, PendingTTL)
}

// IssueSession returns a session token for the classroom in c.
func (m *Manager) IssueSession(c Claims) (string, error) {
	c.Purpose = ""
	return m.sign(c, SessionTTL)
}

// Parse validates signature and expiry.
func (m *Manager) Parse(raw string) (*Claims, error) {
	if raw == "" {
		return nil, ErrTokenMissing
	}
	tok, err := jwt.ParseWithClaims(raw, &Claims{}, func(*jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	c, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid || c.UserID == "" {
		return nil, ErrTokenInvalid
	}
	return c, nil
}

// ParsePending reads the pending_login cookie and checks its purpose.
func (m *Manager) ParsePending(r *http.Request) (*Claims, error) {
	c, err := m.Parse(cookieValue(r, PendingCookie))
	if err != nil {
		return nil, err
	}
	if c.Purpose != PurposeClassSelection {
		return nil, ErrWrongPurpose
	}
	return c, nil
}

// ParseSession reads the jwt cookie. Pending tokens are rejected.
func (m *Manager) ParseSession(r *http.Request) (*Claims, error) {
	c, err := m.Parse(cookieValue(r, SessionCookie))
	if err != nil {
		return nil, err
	}
	if c.Purpose != "" {
		return nil, ErrTokenInvalid
	}
	return c, nil
}

func cookieValue(r *http.Request, name string) string {
	ck, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return ck.Value
}

func (m *Manager) cookie(name, value string, maxAge int) *http.Cookie {
	ck := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   m.domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
	if m.secure {
		ck.SameSite = http.SameSiteNoneMode
	}
	return ck
}

func (m *Manager) SetPendingCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, m.cookie(PendingCookie, token, int(PendingTTL/time.Second)))
}

// SetSessionCookie writes the jwt cookie as a browser-session cookie; the
// token itself expires after SessionTTL.
func (m *Manager) SetSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, m.cookie(SessionCookie, token, 0))
}

func (m *Manager) ClearPendingCookie(w http.ResponseWriter) {
	http.SetCookie(w, m.cookie(PendingCookie, "", -1))
}

// ClearCookies removes both cookies.
func (m *Manager) ClearCookies(w http.ResponseWriter) {
	http.SetCookie(w, m.cookie(SessionCookie, "", -1))
	m.ClearPendingCookie(w)
}

type ctxKey struct{}

// WithClaims returns a context carrying c.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// CurrentUser returns the session claims placed by RequireAuth.
func CurrentUser(r *http.Request) (*Claims, bool) {
	c, ok := r.Context().Value(ctxKey{}).(*Claims)
	return c, ok && c != nil
}
