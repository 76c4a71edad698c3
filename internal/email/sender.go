// Package email sends transactional mail (verification and password reset)
// over SMTP.
package email

import (
	"bytes"
	"context"
	"fmt"
	"net/smtp"
	"strconv"
	"time"

	"github.com/shelter/internal/config"
)

// Mailer delivers one HTML message. Handlers depend on this interface so
// tests can capture outgoing mail.
type Mailer interface {
	Send(ctx context.Context, to, subject, html string) error
}

type Sender struct {
	cfg *config.SMTPConfig
}

func NewSender(cfg *config.SMTPConfig) *Sender {
	return &Sender{cfg: cfg}
}

// Send delivers a single HTML message. Blocks until the SMTP exchange
// finishes or ctx is done.
func (s *Sender) Send(ctx context.Context, to, subject, html string) error {
	if s.cfg.Username == "" || s.cfg.Password == "" {
		return fmt.Errorf("email: SMTP is not configured")
	}
	from := s.cfg.FromEmail
	if from == "" {
		from = s.cfg.Username
	}
	var buf bytes.Buffer
	buf.WriteString("From: " + s.cfg.FromName + " <" + from + ">\r\n")
	buf.WriteString("To: " + to + "\r\n")
	buf.WriteString("Subject: " + subject + "\r\n")
	buf.WriteString("Date: " + time.Now().Format(time.RFC1123Z) + "\r\n")
	buf.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
	buf.WriteString(html)
	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)
	auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	done := make(chan error, 1)
	go func() { done <- smtp.SendMail(addr, auth, from, []string{to}, buf.Bytes()) }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}
