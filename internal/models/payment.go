package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Payment is one row per authorized/captured transaction. The unique
// (provider, transaction_id) pair makes webhook and reconciliation
// inserts idempotent.
type Payment struct {
	bun.BaseModel `bun:"table:payments"`

	ID            string    `bun:"id,pk" json:"payment_id"`
	OrderID       string    `bun:"order_id" json:"order_id"`
	Provider      string    `bun:"provider,unique:payments_provider_txn" json:"provider"`
	TransactionID string    `bun:"transaction_id,unique:payments_provider_txn" json:"transaction_id"`
	AmountCents   int64     `bun:"amount_cents" json:"amount_cents"`
	Status        string    `bun:"status" json:"status"`
	CreatedAt     time.Time `bun:"created_at" json:"created_at"`
}
