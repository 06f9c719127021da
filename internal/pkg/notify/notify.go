// Package notify fans a message out to best-effort notification channels.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"
)

// Message kinds used by the payment core.
const (
	KindPurchase       = "purchase"
	KindPaymentSuccess = "payment_success"
	KindRefund         = "refund"
	KindAccount        = "account"
	KindLimit          = "limit"
	KindReview         = "review"
	KindLoreDrop       = "lore_drop"
)

type Message struct {
	Kind    string `json:"kind"`
	Text    string `json:"text"`
	Email   string `json:"email,omitempty"`
	Subject string `json:"subject,omitempty"`
}

// Channel delivers a message to one destination. ErrSkipped means the channel
// does not apply to the message.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

type ChannelFailure struct {
	Channel string
	Err     error
}

// Result is the outcome of one fan-out. A delivery is OK when no channel failed
// and partial when some channels failed while others delivered.
type Result struct {
	Delivered []string
	Skipped   []string
	Failures  []ChannelFailure
}

func (r Result) OK() bool {
	return len(r.Failures) == 0
}

func (r Result) Partial() bool {
	return len(r.Failures) > 0 && len(r.Delivered) > 0
}

// AllFailed reports whether every attempted channel failed.
func (r Result) AllFailed() bool {
	return len(r.Failures) > 0 && len(r.Delivered) == 0
}

func (r Result) Error() string {
	parts := make([]string, 0, len(r.Failures))
	for _, f := range r.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Channel, f.Err))
	}
	return strings.Join(parts, "; ")
}

// Notifier sends every message to all of its channels.
type Notifier struct {
	channels []Channel
}

func NewNotifier(channels ...Channel) *Notifier {
	var active []Channel
	for _, ch := range channels {
		if ch != nil {
			active = append(active, ch)
		}
	}
	return &Notifier{channels: active}
}

// Send tries every channel and never fails as a whole. A failing channel does
// not stop the remaining ones.
func (n *Notifier) Send(ctx context.Context, msg Message) Result {
	var res Result
	for _, ch := range n.channels {
		err := ch.Send(ctx, msg)
		switch {
		case err == nil:
			res.Delivered = append(res.Delivered, ch.Name())
		case err == ErrSkipped:
			res.Skipped = append(res.Skipped, ch.Name())
		default:
			log.Warnf("[Notify] Channel %s failed for %s message: %v", ch.Name(), msg.Kind, err)
			res.Failures = append(res.Failures, ChannelFailure{Channel: ch.Name(), Err: err})
		}
	}
	return res
}
