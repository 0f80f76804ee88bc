package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// SignatureHeader carries the hex HMAC for yampi and appmax deliveries.
// Stripe uses its own Stripe-Signature scheme.
const SignatureHeader = "X-Webhook-Signature"

var (
	ErrMissingSignature = errors.New("missing webhook signature")
	ErrBadSignature     = errors.New("invalid webhook signature")
)

// VerifyHMAC checks a hex-encoded HMAC-SHA256 of the raw body against the
// shared secret. Comparison is constant time.
func VerifyHMAC(body []byte, signature, secret string) error {
	if signature == "" {
		return ErrMissingSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}

// SignHMAC produces the signature VerifyHMAC expects. Exported for tests and
// for the local webhook simulator.
func SignHMAC(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyStripe validates a Stripe-Signature header and returns the parsed
// event. API version drift between stripe-go and the dashboard is tolerated.
func VerifyStripe(body []byte, signatureHeader, secret string) (stripe.Event, error) {
	if signatureHeader == "" {
		return stripe.Event{}, ErrMissingSignature
	}
	event, err := webhook.ConstructEventWithOptions(body, signatureHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, ErrBadSignature
	}
	return event, nil
}
