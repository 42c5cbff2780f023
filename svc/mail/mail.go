package mail

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/pkg/errors"

	"linkvault/cfg"
	"linkvault/svc/util"
)

// Mailer delivers account emails. Handlers never block on delivery failures
// beyond logging; tokens stay valid so the user can retry.
type Mailer interface {
	SendVerification(to, token string) error
	SendPasswordReset(to, token string) error
}

// SMTP sends through a plain AUTH relay.
type SMTP struct {
	host    string
	port    int
	from    string
	auth    smtp.Auth
	baseURL string
}

func NewSMTP(cfg *cfg.Cfg) *SMTP {
	var auth smtp.Auth
	if cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", cfg.SMTPUsername, cfg.SMTPPassword.Value(), cfg.SMTPHost)
	}
	return &SMTP{
		host:    cfg.SMTPHost,
		port:    cfg.SMTPPort,
		from:    cfg.SMTPFrom,
		auth:    auth,
		baseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
	}
}

func (s *SMTP) SendVerification(to, token string) error {
	link := fmt.Sprintf("%s/api/auth/verify-email?token=%s", s.baseURL, token)
	body := "Welcome to LinkVault.\r\n\r\nVerify your email by opening:\r\n" + link + "\r\n"
	return s.send(to, "Verify your email", body)
}

func (s *SMTP) SendPasswordReset(to, token string) error {
	link := fmt.Sprintf("%s/reset-password?token=%s", s.baseURL, token)
	body := "A password reset was requested for your account.\r\n\r\n" +
		"Reset it within one hour by opening:\r\n" + link + "\r\n\r\n" +
		"If you did not request this, ignore this message.\r\n"
	return s.send(to, "Reset your password", body)
}

func (s *SMTP) send(to, subject, body string) error {
	msg := strings.Join([]string{
		"From: " + s.from,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
	}, "\r\n")
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	if err := smtp.SendMail(addr, s.auth, s.from, []string{to}, []byte(msg)); err != nil {
		return errors.Wrap(err, "smtp send")
	}
	return nil
}

// LogOnly is used when no SMTP relay is configured. It logs the redacted
// recipient so operators can see that delivery was skipped, not dropped.
type LogOnly struct{}

func (LogOnly) SendVerification(to, token string) error {
	util.Info().Str("to", util.RedactEmail(to)).Msg("mail disabled, skipping verification email")
	return nil
}

func (LogOnly) SendPasswordReset(to, token string) error {
	util.Info().Str("to", util.RedactEmail(to)).Msg("mail disabled, skipping password reset email")
	return nil
}
