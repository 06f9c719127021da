package jobqueue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// JobType defines the type of job
type JobType string

const (
	JobTypePromotion JobType = "promotion"
	JobTypeDBUpdate  JobType = "db_update"
	JobTypeNotify    JobType = "notify"
)

// JobStatus defines the status of a job. pending is the only non-terminal state.
type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusDone    JobStatus = "done"
	JobStatusError   JobStatus = "error"
)

// AccountAction selects the tier transition of a db_update job.
type AccountAction string

const (
	ActionUpgrade   AccountAction = "upgrade"
	ActionDowngrade AccountAction = "downgrade"
)

var (
	ErrUnknownJobType   = errors.New("unknown job type")
	ErrUnknownAction    = errors.New("unknown account action")
	ErrJobNotReplayable = errors.New("job is not pending")
	ErrInvalidPayload   = errors.New("invalid job payload")
)

// Payload is implemented only by the payload types of this package, so the set
// of job types is closed.
type Payload interface {
	JobType() JobType
	validate() error
}

// PromotionPayload forwards a payment or refund to the promotion service.
type PromotionPayload struct {
	Kind      string `json:"kind"`
	UserID    string `json:"user_id,omitempty"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency,omitempty"`
	Reference string `json:"reference,omitempty"`
}

func (PromotionPayload) JobType() JobType { return JobTypePromotion }

func (p PromotionPayload) validate() error {
	if strings.TrimSpace(p.Kind) == "" {
		return fmt.Errorf("%w: promotion kind is required", ErrInvalidPayload)
	}
	return nil
}

// AccountUpdatePayload changes a user's tier. With Notify set, a notify job is
// enqueued after the update succeeds.
type AccountUpdatePayload struct {
	Action    AccountAction `json:"action"`
	UserID    string        `json:"user_id"`
	Reference string        `json:"reference,omitempty"`
	Amount    int64         `json:"amount"`
	Currency  string        `json:"currency,omitempty"`
	Notify    bool          `json:"notify"`
}

func (AccountUpdatePayload) JobType() JobType { return JobTypeDBUpdate }

func (p AccountUpdatePayload) validate() error {
	switch p.Action {
	case ActionUpgrade, ActionDowngrade:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, p.Action)
	}
	if strings.TrimSpace(p.UserID) == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidPayload)
	}
	return nil
}

// NotifyPayload is a message for the notification channels.
type NotifyPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Email   string `json:"email,omitempty"`
	Subject string `json:"subject,omitempty"`
}

func (NotifyPayload) JobType() JobType { return JobTypeNotify }

func (p NotifyPayload) validate() error {
	if strings.TrimSpace(p.Message) == "" {
		return fmt.Errorf("%w: notify message is required", ErrInvalidPayload)
	}
	return nil
}

// decodePayload restores the typed payload of a stored job.
func decodePayload(jobType string, raw string) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch JobType(jobType) {
	case JobTypePromotion:
		var v PromotionPayload
		err = json.Unmarshal([]byte(raw), &v)
		p = v
	case JobTypeDBUpdate:
		var v AccountUpdatePayload
		err = json.Unmarshal([]byte(raw), &v)
		p = v
	case JobTypeNotify:
		var v NotifyPayload
		err = json.Unmarshal([]byte(raw), &v)
		p = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobType, jobType)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return p, nil
}
