// Package mailer delivers transactional email over SMTP.
package mailer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// Email is a message with plain-text and HTML bodies.
type Email struct {
	To       string
	Subject  string
	TextBody string
	HTMLBody string
}

// Sender delivers an Email and returns its Message-ID.
type Sender interface {
	Send(ctx context.Context, e Email) (string, error)
}

// Config configures the SMTP transport.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	// TLS is "mandatory", "opportunistic" or "none".
	TLS     string
	Timeout time.Duration
}

// Mailer sends through an SMTP relay. A fresh connection is dialed per
// message; volume is a handful of verification codes.
type Mailer struct {
	cfg    Config
	log    *zap.Logger
	client *mail.Client
}

// New builds a Mailer. It does not connect.
func New(cfg Config, log *zap.Logger) (*Mailer, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("mail host is empty")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("mail from address is empty")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(cfg.Timeout),
		mail.WithTLSPolicy(tlsPolicy(cfg.TLS)),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	c, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return &Mailer{cfg: cfg, log: log, client: c}, nil
}

func tlsPolicy(s string) mail.TLSPolicy {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mandatory":
		return mail.TLSMandatory
	case "none":
		return mail.NoTLS
	default:
		return mail.TLSOpportunistic
	}
}

// Send delivers e.
func (m *Mailer) Send(ctx context.Context, e Email) (string, error) {
	msg, id, err := m.build(e)
	if err != nil {
		return "", err
	}
	if err := m.client.DialAndSendWithContext(ctx, msg); err != nil {
		return "", fmt.Errorf("send mail: %w", err)
	}
	m.log.Debug("mail sent", zap.String("to", e.To), zap.String("message_id", id))
	return id, nil
}

func (m *Mailer) build(e Email) (*mail.Msg, string, error) {
	msg := mail.NewMsg()
	if m.cfg.FromName != "" {
		if err := msg.FromFormat(m.cfg.FromName, m.cfg.From); err != nil {
			return nil, "", fmt.Errorf("from address: %w", err)
		}
	} else if err := msg.From(m.cfg.From); err != nil {
		return nil, "", fmt.Errorf("from address: %w", err)
	}
	if err := msg.To(e.To); err != nil {
		return nil, "", fmt.Errorf("recipient: %w", err)
	}
	id := messageID(m.cfg.From)
	msg.SetMessageIDWithValue(id)
	msg.Subject(e.Subject)
	msg.SetBodyString(mail.TypeTextPlain, e.TextBody)
	if e.HTMLBody != "" {
		msg.AddAlternativeString(mail.TypeTextHTML, e.HTMLBody)
	}
	return msg, id, nil
}

func messageID(from string) string {
	domain := "localhost"
	if at := strings.LastIndex(from, "@"); at >= 0 && at < len(from)-1 {
		domain = from[at+1:]
	}
	return uuid.NewString() + "@" + domain
}

// LogSender writes messages to the log instead of sending them. Used in
// development when no SMTP host is configured.
type LogSender struct {
	Log *zap.Logger
}

func (s LogSender) Send(_ context.Context, e Email) (string, error) {
	id := messageID("dev@localhost")
	s.Log.Info("mail not sent (no smtp host configured)",
		zap.String("to", e.To),
		zap.String("subject", e.Subject),
		zap.String("message_id", id),
		zap.String("body", e.TextBody),
	)
	return id, nil
}
