package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hauntedempire/paycore/internal/pkg/mail"
)

var ErrSkipped = errors.New("channel skipped")

// DiscordChannel posts messages to a Discord incoming webhook.
type DiscordChannel struct {
	WebhookURL string
	HTTPClient *http.Client
}

func NewDiscordChannel(webhookURL string, timeout time.Duration) *DiscordChannel {
	if strings.TrimSpace(webhookURL) == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DiscordChannel{
		WebhookURL: webhookURL,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

func (d *DiscordChannel) Name() string { return "discord" }

func (d *DiscordChannel) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(map[string]string{"content": msg.Text})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("discord webhook failed: status=%d body=%s", resp.StatusCode, string(snippet))
	}
	return nil
}

// EmailChannel mails messages that carry a recipient.
type EmailChannel struct {
	Mailer *mail.Mailer
}

func NewEmailChannel(m *mail.Mailer) *EmailChannel {
	if !m.Configured() {
		return nil
	}
	return &EmailChannel{Mailer: m}
}

func (e *EmailChannel) Name() string { return "email" }

func (e *EmailChannel) Send(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.Email) == "" {
		return ErrSkipped
	}
	subject := msg.Subject
	if subject == "" {
		subject = "Haunted Empire notification"
	}
	return e.Mailer.SendMail(ctx, msg.Email, subject, msg.Text)
}
