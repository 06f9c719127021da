// Package integrity binds purchase line items to a short tamper-evidence token.
//
// The token is computed when a checkout session is created, travels through the
// payment provider as opaque metadata and is recomputed from the line items the
// provider reports back.
package integrity

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strconv"
	"strings"
)

const (
	SingleItemTokenLength = 16
	MultiItemTokenLength  = 24

	itemDelimiter = "|"
)

// Item is the part of a line item covered by the token.
type Item struct {
	ProductID  string
	Quantity   int64
	UnitAmount int64
}

// Canonical renders items in presentation order, e.g. "a x2:500|b x1:1000".
func Canonical(items []Item) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, it.ProductID+" x"+strconv.FormatInt(it.Quantity, 10)+":"+strconv.FormatInt(it.UnitAmount, 10))
	}
	return strings.Join(parts, itemDelimiter)
}

// ComputeToken hashes the canonical form and truncates it. Bulk purchases get the
// longer token.
func ComputeToken(items []Item) string {
	sum := sha256.Sum256([]byte(Canonical(items)))
	full := hex.EncodeToString(sum[:])
	if len(items) > 1 {
		return full[:MultiItemTokenLength]
	}
	return full[:SingleItemTokenLength]
}

// Verify recomputes the token for items and compares it with token.
func Verify(token string, items []Item) bool {
	if token == "" || len(items) == 0 {
		return false
	}
	expected := ComputeToken(items)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(token)))) == 1
}
