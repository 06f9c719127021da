// Package promotion forwards payment events to the ad/promotion service.
package promotion

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
)

var ErrDisabled = errors.New("promotion service is not configured")

// Event is the body posted to the promotion service.
type Event struct {
	Kind      string `json:"kind"`
	UserID    string `json:"user_id,omitempty"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency,omitempty"`
	Reference string `json:"reference,omitempty"`
}

type Client struct {
	URL        string
	HTTPClient *http.Client
}

func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		URL:        strings.TrimSpace(url),
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// Promote posts ev. Any non-2xx answer is an error.
func (c *Client) Promote(ctx context.Context, ev Event) error {
	if c == nil || c.URL == "" {
		return ErrDisabled
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("promotion post failed: status=%d body=%s", resp.StatusCode, string(snippet))
	}
	return nil
}
