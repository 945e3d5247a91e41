package mailer

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestBuildVerificationEmail(t *testing.T) {
	e := BuildVerificationEmail("elodie@test.com", CodeEmailData{
		SiteName:  "Classroll",
		Prenom:    "elodie",
		Code:      "AB12",
		ExpiresIn: "10 minutes",
	})
	if e.To != "elodie@test.com" {
		t.Errorf("To = %q", e.To)
	}
	if !strings.Contains(e.Subject, "verify") {
		t.Errorf("Subject = %q", e.Subject)
	}
	for _, body := range []string{e.TextBody, e.HTMLBody} {
		if !strings.Contains(body, "AB12") || !strings.Contains(body, "10 minutes") || !strings.Contains(body, "elodie") {
			t.Errorf("body missing fields:\n%s", body)
		}
	}
}

func TestBuildPasswordResetEmail_EscapesName(t *testing.T) {
	e := BuildPasswordResetEmail("x@test.com", CodeEmailData{SiteName: "Classroll", Prenom: "<b>x</b>", Code: "ZZ99", ExpiresIn: "10 minutes"})
	if strings.Contains(e.HTMLBody, "<b>x</b>") {
		t.Error("name not escaped in HTML body")
	}
	if !strings.Contains(e.Subject, "password") {
		t.Errorf("Subject = %q", e.Subject)
	}
}

func TestFormatExpiry(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{10 * time.Minute, "10 minutes"},
		{time.Minute, "1 minute"},
		{time.Hour, "1 hour"},
		{90 * time.Minute, "90 minutes"},
		{48 * time.Hour, "48 hours"},
		{30 * time.Second, "30 seconds"},
	}
	for _, tt := range tests {
		if got := FormatExpiry(tt.d); got != tt.want {
			t.Errorf("FormatExpiry(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestNew_RequiresHostAndFrom(t *testing.T) {
	if _, err := New(Config{From: "a@b.c"}, zap.NewNop()); err == nil {
		t.Error("expected error for empty host")
	}
	if _, err := New(Config{Host: "smtp.test"}, zap.NewNop()); err == nil {
		t.Error("expected error for empty from")
	}
}

func TestMailer_Build(t *testing.T) {
	m, err := New(Config{Host: "smtp.test", From: "noreply@classroll.test", FromName: "Classroll"}, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, id, err := m.build(Email{To: "a@b.c", Subject: "s", TextBody: "t", HTMLBody: "<p>h</p>"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !strings.HasSuffix(id, "@classroll.test") {
		t.Errorf("message id = %q", id)
	}
	if _, _, err := m.build(Email{To: "not an address"}); err == nil {
		t.Error("expected error for bad recipient")
	}
}

func TestLogSender(t *testing.T) {
	id, err := LogSender{Log: zap.NewNop()}.Send(context.Background(), Email{To: "a@b.c"})
	if err != nil || id == "" {
		t.Fatalf("Send = %q, %v", id, err)
	}
}
