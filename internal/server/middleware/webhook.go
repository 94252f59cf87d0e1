package middleware

import (
	"bytes"
	"io"
	"net/http"

	"github.com/alanyoungcy/bountypool/internal/crypto"
)

// SignatureHeader carries the HMAC-SHA256 of a webhook body.
const SignatureHeader = "X-Signature-256"

// maxWebhookBody bounds the body read for signature verification.
const maxWebhookBody = 1 << 20

// WebhookSignature rejects requests whose body does not match the
// SignatureHeader under secret. A disabled secret passes everything.
func WebhookSignature(secret *crypto.WebhookSecret) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == nil || !secret.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid_input", "unreadable request body")
				return
			}
			if len(body) > maxWebhookBody {
				writeJSONError(w, http.StatusRequestEntityTooLarge, "invalid_input", "request body too large")
				return
			}
			if err := secret.Verify(body, r.Header.Get(SignatureHeader)); err != nil {
				writeUnauthorized(w, "invalid webhook signature")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}
