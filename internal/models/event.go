package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/uptrace/bun"
)

// OrderEvent is the append-only log of inbound provider events. EventHash is
// unique and is the webhook replay-protection mechanism: inserting the same
// event twice fails on the constraint and the ingestor treats that as
// "already processed".
type OrderEvent struct {
	bun.BaseModel `bun:"table:order_events"`

	ID         string    `bun:"id,pk" json:"id"`
	EventHash  string    `bun:"event_hash,unique" json:"event_hash"`
	Provider   string    `bun:"provider" json:"provider"`
	EventType  string    `bun:"event_type" json:"event_type"`
	Reference  string    `bun:"reference" json:"reference"`
	Payload    string    `bun:"payload" json:"payload"`
	OrderID    string    `bun:"order_id" json:"order_id,omitempty"`
	ReceivedAt time.Time `bun:"received_at" json:"received_at"`
}

// EventHash derives the deduplication key from the event type, the
// provider-side order reference and the raw payload.
func EventHash(eventType, reference string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(eventType))
	h.Write([]byte("|"))
	h.Write([]byte(reference))
	h.Write([]byte("|"))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// ProviderEvent is the normalized view of a provider's webhook envelope after
// signature verification and parsing.
type ProviderEvent struct {
	Provider      string
	Type          string
	Reference     string
	OrderID       string
	TransactionID string
	AmountCents   int64
	Raw           []byte
}
