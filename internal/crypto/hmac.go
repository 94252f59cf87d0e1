package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// SignaturePrefix precedes the hex digest in webhook signature headers, as
// in "sha256=<hex>".
const SignaturePrefix = "sha256="

// ErrBadSignature is returned when a webhook signature does not verify.
var ErrBadSignature = errors.New("crypto: bad webhook signature")

// WebhookSecret signs and verifies comment webhook payloads with
// HMAC-SHA256.
type WebhookSecret struct {
	secret []byte
}

// NewWebhookSecret wraps secret. An empty secret disables verification.
func NewWebhookSecret(secret string) *WebhookSecret {
	return &WebhookSecret{secret: []byte(secret)}
}

// Enabled reports whether a secret is configured.
func (w *WebhookSecret) Enabled() bool {
	return len(w.secret) > 0
}

// Sign returns the signature header value for body.
func (w *WebhookSecret) Sign(body []byte) string {
	return SignaturePrefix + hex.EncodeToString(w.mac(body))
}

// Verify checks header against body in constant time. It always succeeds
// when no secret is configured.
func (w *WebhookSecret) Verify(body []byte, header string) error {
	if !w.Enabled() {
		return nil
	}
	if !strings.HasPrefix(header, SignaturePrefix) {
		return fmt.Errorf("%w: missing %q prefix", ErrBadSignature, SignaturePrefix)
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, SignaturePrefix))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if !hmac.Equal(got, w.mac(body)) {
		return ErrBadSignature
	}
	return nil
}

// String redacts the secret.
func (w *WebhookSecret) String() string {
	if !w.Enabled() {
		return "WebhookSecret{disabled}"
	}
	return "WebhookSecret{****}"
}

func (w *WebhookSecret) mac(body []byte) []byte {
	m := hmac.New(sha256.New, w.secret)
	m.Write(body)
	return m.Sum(nil)
}
