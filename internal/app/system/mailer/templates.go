package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	texttemplate "text/template"
	"time"
)

// CodeEmailData fills the verification and password-reset emails.
type CodeEmailData struct {
	SiteName  string
	Prenom    string
	Code      string
	ExpiresIn string
}

// BuildVerificationEmail is sent after signup and on resend.
func BuildVerificationEmail(to string, d CodeEmailData) Email {
	return buildCodeEmail(to, fmt.Sprintf("%s - verify your email address", d.SiteName),
		"Use this code to confirm your email address:", d)
}

// BuildPasswordResetEmail is sent by the forgot-password flow.
func BuildPasswordResetEmail(to string, d CodeEmailData) Email {
	return buildCodeEmail(to, fmt.Sprintf("%s - password reset code", d.SiteName),
		"Use this code to choose a new password:", d)
}

func buildCodeEmail(to, subject, lead string, d CodeEmailData) Email {
	view := codeView{CodeEmailData: d, Lead: lead}
	return Email{
		To:       to,
		Subject:  subject,
		TextBody: render(codeText, view),
		HTMLBody: render(codeHTML, view),
	}
}

type codeView struct {
	CodeEmailData
	Lead string
}

// FormatExpiry renders d as "10 minutes" or "1 hour".
func FormatExpiry(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d >= time.Minute:
		return plural(int(d/time.Minute), "minute")
	default:
		return plural(int(d/time.Second), "second")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

type executor interface {
	Execute(w io.Writer, data any) error
}

func render(t executor, v any) string {
	var buf bytes.Buffer
	if err := t.Execute(&buf, v); err != nil {
		return ""
	}
	return buf.String()
}

var codeText = texttemplate.Must(texttemplate.New("code.txt").Parse(`Hello{{if .Prenom}} {{.Prenom}}{{end}},

{{.Lead}} {{.Code}}

The code is case sensitive and expires in {{.ExpiresIn}}.

If you did not ask for this, ignore this email.
`))

var codeHTML = template.Must(template.New("code.html").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>{{.SiteName}}</title></head>
<body style="margin:0;padding:0;font-family:Arial,sans-serif;background-color:#f3f4f6;">
  <table role="presentation" width="100%" cellspacing="0" cellpadding="0">
    <tr>
      <td align="center" style="padding:40px 20px;">
        <table role="presentation" width="100%" cellspacing="0" cellpadding="0" style="max-width:480px;background-color:#ffffff;border-radius:8px;">
          <tr>
            <td style="padding:32px;font-size:16px;line-height:1.6;color:#374151;">
              <p style="margin:0 0 16px;">Hello{{if .Prenom}} {{.Prenom}}{{end}},</p>
              <p style="margin:0 0 16px;">{{.Lead}}</p>
              <div style="background-color:#f3f4f6;border-radius:8px;padding:24px;text-align:center;margin-bottom:16px;">
                <span style="font-size:28px;font-weight:700;letter-spacing:6px;font-family:'Courier New',monospace;">{{.Code}}</span>
              </div>
              <p style="margin:0;font-size:14px;color:#6b7280;">The code is case sensitive and expires in {{.ExpiresIn}}.</p>
            </td>
          </tr>
          <tr>
            <td style="padding:16px 32px;font-size:12px;color:#9ca3af;border-top:1px solid #e5e7eb;">{{.SiteName}}</td>
          </tr>
        </table>
      </td>
    </tr>
  </table>
</body>
</html>
`))
