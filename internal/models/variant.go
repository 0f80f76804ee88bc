package models

import "github.com/uptrace/bun"

// ProductVariant carries the stock counter for the inventory ledger.
// StockQuantity is only ever mutated through the ledger's conditional
// update, never by read-modify-write from application code.
type ProductVariant struct {
	bun.BaseModel `bun:"table:product_variants"`

	VariantID     string `bun:"variant_id,pk" json:"variant_id"`
	SKU           string `bun:"sku" json:"sku"`
	PriceCents    int64  `bun:"price_cents" json:"price_cents"`
	StockQuantity int    `bun:"stock_quantity" json:"stock_quantity"`
}
