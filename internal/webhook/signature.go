// Package webhook verifies and deduplicates inbound tracker webhooks.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// Header names set by GitHub on every delivery.
const (
	SignatureHeader = "X-Hub-Signature-256"
	EventHeader     = "X-GitHub-Event"
	DeliveryHeader  = "X-GitHub-Delivery"
)

const signaturePrefix = "sha256="

// VerifySignature reports whether header is "sha256=" followed by the hex
// HMAC-SHA256 of body keyed by secret. It fails closed on a missing header,
// an empty secret, an unknown scheme, or a digest that is not the lowercase
// hex encoding.
func VerifySignature(header string, body []byte, secret string) bool {
	if header == "" || secret == "" {
		return false
	}
	if !strings.HasPrefix(header, signaturePrefix) {
		return false
	}

	supplied := header[len(signaturePrefix):]
	if len(supplied) != hex.EncodedLen(sha256.Size) {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	// GitHub sends lowercase hex; any other spelling is rejected.
	return subtle.ConstantTimeCompare([]byte(supplied), []byte(expected)) == 1
}

// Sign returns the signature header value for body. It is used by tests and
// by the CLI when replaying payloads.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}
