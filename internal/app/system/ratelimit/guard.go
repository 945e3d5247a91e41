package ratelimit

import (
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Rule is a limit for one dimension of a Guard.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Guard limits an action per client IP and per account email. It fails open
// when the backing store errors.
type Guard struct {
	name    string
	byIP    Counter
	byEmail Counter
	log     *zap.Logger
}

// Login defaults: 10 per IP per minute, 5 per email per 5 minutes.
var (
	LoginIP    = Rule{Limit: 10, Window: time.Minute}
	LoginEmail = Rule{Limit: 5, Window: 5 * time.Minute}
	// Signup, resend and forgot-password all send mail.
	MailIP    = Rule{Limit: 20, Window: 10 * time.Minute}
	MailEmail = Rule{Limit: 3, Window: 10 * time.Minute}
)

// NewGuard builds a Guard for action name. With rdb nil counters are kept
// in memory.
func NewGuard(name string, rdb *redis.Client, ip, email Rule, log *zap.Logger) *Guard {
	g := &Guard{name: name, log: log}
	if rdb != nil {
		g.byIP = NewRedis(rdb, "classroll:rl:"+name+":ip:", ip.Limit, ip.Window)
		g.byEmail = NewRedis(rdb, "classroll:rl:"+name+":email:", email.Limit, email.Window)
	} else {
		g.byIP = New(ip.Limit, ip.Window)
		g.byEmail = New(email.Limit, email.Window)
	}
	return g
}

// Check reports whether the attempt may proceed and, if not, a message for
// the client.
func (g *Guard) Check(r *http.Request, email string) (bool, string) {
	ctx := r.Context()
	if ok, err := g.byIP.Allow(ctx, ClientIP(r)); err != nil {
		g.log.Warn("rate limit backend error", zap.String("action", g.name), zap.Error(err))
	} else if !ok {
		return false, "Too many attempts. Please wait a minute before trying again."
	}

	if key := emailKey(email); key != "" {
		if ok, err := g.byEmail.Allow(ctx, key); err != nil {
			g.log.Warn("rate limit backend error", zap.String("action", g.name), zap.Error(err))
		} else if !ok {
			return false, "Too many attempts for this account. Please wait a few minutes."
		}
	}
	return true, ""
}

// ResetEmail clears the per-email window after a success.
func (g *Guard) ResetEmail(r *http.Request, email string) {
	if key := emailKey(email); key != "" {
		if err := g.byEmail.Reset(r.Context(), key); err != nil {
			g.log.Warn("rate limit reset failed", zap.String("action", g.name), zap.Error(err))
		}
	}
}

// Stop releases in-memory cleanup goroutines.
func (g *Guard) Stop() {
	for _, c := range []Counter{g.byIP, g.byEmail} {
		if l, ok := c.(*Limiter); ok {
			l.Stop()
		}
	}
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
