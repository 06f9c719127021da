package mail

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/gofiber/fiber/v2/log"

	"github.com/hauntedempire/paycore/internal/pkg/config"
)

var ErrNotConfigured = errors.New("smtp is not configured")

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Mailer sends plain text emails via SMTP.
type Mailer struct {
	host     string
	port     string
	username string
	password string
	sender   string
	send     sendFunc
}

// NewMailer returns a mailer for cfg. A mailer without host reports
// ErrNotConfigured on every send.
func NewMailer(cfg config.SMTP) *Mailer {
	sender := cfg.Sender
	if sender == "" {
		sender = "no-reply@localhost"
	}
	return &Mailer{
		host:     cfg.Host,
		port:     cfg.Port,
		username: cfg.Username,
		password: cfg.Password,
		sender:   sender,
		send:     smtp.SendMail,
	}
}

// Configured reports whether an SMTP host is set.
func (m *Mailer) Configured() bool {
	return m != nil && m.host != ""
}

// SendMail delivers one message. net/smtp has no context support, so ctx is only
// checked before dialing.
func (m *Mailer) SendMail(ctx context.Context, to, subject, body string) error {
	if !m.Configured() {
		return ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	to = strings.TrimSpace(to)
	if to == "" || strings.ContainsAny(to, "\r\n") || strings.ContainsAny(subject, "\r\n") {
		return fmt.Errorf("invalid recipient or subject")
	}

	var auth smtp.Auth
	if m.username != "" && m.password != "" {
		auth = smtp.PlainAuth("", m.username, m.password, m.host)
	}

	addr := fmt.Sprintf("%s:%s", m.host, m.port)
	msg := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", m.sender, to, subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/plain; charset=UTF-8\r\n\r\n" +
			body,
	)

	if err := m.send(addr, auth, m.sender, []string{to}, msg); err != nil {
		log.Errorf("[Mail] SMTP send to %s failed: %v", to, err)
		return err
	}
	log.Infof("[Mail] Email sent to %s via %s", to, addr)
	return nil
}
