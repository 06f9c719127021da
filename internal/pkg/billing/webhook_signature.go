package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrVerification wraps every reason a webhook is rejected at the boundary.
	ErrVerification             = errors.New("webhook verification failed")
	ErrMalformedSignatureHeader = fmt.Errorf("%w: malformed signature header", ErrVerification)
	ErrInvalidSignature         = fmt.Errorf("%w: invalid signature", ErrVerification)
	ErrStaleTimestamp           = fmt.Errorf("%w: timestamp outside tolerance", ErrVerification)
	ErrInvalidPayload           = errors.New("invalid webhook payload")
)

const signatureScheme = "v1"

// WebhookVerifier checks provider-signed payloads against a shared secret and a
// replay window.
type WebhookVerifier struct {
	Secret    string
	Tolerance time.Duration
	Now       func() time.Time
}

// NewWebhookVerifier creates a verifier using the wall clock.
func NewWebhookVerifier(secret string, tolerance time.Duration) *WebhookVerifier {
	return &WebhookVerifier{Secret: secret, Tolerance: tolerance, Now: time.Now}
}

// Verify authenticates rawBody against signatureHeader ("t=<unix>,v1=<hex>[,v1=...]")
// and decodes it. rawBody must be the unmodified request body.
func (v *WebhookVerifier) Verify(rawBody []byte, signatureHeader string) (*Event, error) {
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	return VerifyStripeWebhook(rawBody, signatureHeader, v.Secret, v.Tolerance, now())
}

// VerifyStripeWebhook is the functional form of WebhookVerifier.Verify. A zero
// tolerance disables the replay window check.
func VerifyStripeWebhook(rawBody []byte, signatureHeader, secret string, tolerance time.Duration, now time.Time) (*Event, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("%w: no webhook secret configured", ErrInvalidSignature)
	}

	timestamp, signatures, err := parseSignatureHeader(signatureHeader)
	if err != nil {
		return nil, err
	}

	expected := computeSignature(timestamp, rawBody, secret)
	// Compare against every candidate so timing does not reveal which one matched.
	matched := false
	for _, sig := range signatures {
		if hmac.Equal(expected, sig) {
			matched = true
		}
	}
	if !matched {
		return nil, ErrInvalidSignature
	}

	if tolerance > 0 {
		age := now.Sub(time.Unix(timestamp, 0))
		if age < 0 {
			age = -age
		}
		if age > tolerance {
			return nil, ErrStaleTimestamp
		}
	}

	return ParseEvent(rawBody)
}

func computeSignature(timestamp int64, payload []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}

// SignPayload renders a signature header for payload. Used for outbound test
// fixtures and local tooling.
func SignPayload(payload []byte, secret string, at time.Time) string {
	sig := computeSignature(at.Unix(), payload, secret)
	return fmt.Sprintf("t=%d,%s=%s", at.Unix(), signatureScheme, hex.EncodeToString(sig))
}

func parseSignatureHeader(header string) (int64, [][]byte, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, nil, ErrMalformedSignatureHeader
	}

	var (
		timestamp    int64
		hasTimestamp bool
		signatures   [][]byte
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "t":
			ts, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
			if err != nil {
				return 0, nil, ErrMalformedSignatureHeader
			}
			timestamp = ts
			hasTimestamp = true
		case signatureScheme:
			sig, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(value)))
			if err != nil {
				continue
			}
			signatures = append(signatures, sig)
		}
	}

	if !hasTimestamp {
		return 0, nil, ErrMalformedSignatureHeader
	}
	if len(signatures) == 0 {
		return 0, nil, ErrInvalidSignature
	}
	return timestamp, signatures, nil
}
