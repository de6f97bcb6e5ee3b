// Package webhook authenticates and unpacks upstream webhook deliveries.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// SignatureHeader carries "sha256=<hex>" computed over the raw body.
const SignatureHeader = "X-Hub-Signature-256"

const signaturePrefix = "sha256="

var (
	ErrMissingSecret     = errors.New("webhook secret not configured")
	ErrMissingSignature  = errors.New("missing webhook signature")
	ErrSignatureMismatch = errors.New("webhook signature mismatch")
)

// Verifier checks HMAC-SHA256 signatures with the app secret.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify must run against the exact bytes received, before any parsing.
func (v *Verifier) Verify(body []byte, header string) error {
	if len(v.secret) == 0 {
		return ErrMissingSecret
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return ErrMissingSignature
	}
	if !strings.HasPrefix(strings.ToLower(header), signaturePrefix) {
		return ErrSignatureMismatch
	}
	got, err := hex.DecodeString(header[len(signaturePrefix):])
	if err != nil {
		return ErrSignatureMismatch
	}
	if !hmac.Equal(got, v.sum(body)) {
		return ErrSignatureMismatch
	}
	return nil
}

func (v *Verifier) sum(body []byte) []byte {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return mac.Sum(nil)
}

// Sign returns the header value the platform would send for body.
func Sign(secret string, body []byte) string {
	return signaturePrefix + hex.EncodeToString(NewVerifier(secret).sum(body))
}
