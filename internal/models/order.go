package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Order statuses. Transition rules live in the order package.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusPaid       = "paid"
	StatusShipped    = "shipped"
	StatusDelivered  = "delivered"
	StatusCancelled  = "cancelled"
)

// Payment providers.
const (
	ProviderStripe = "stripe"
	ProviderYampi  = "yampi"
	ProviderAppmax = "appmax"
	ProviderNone   = "none"
)

type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ID             string `bun:"id,pk" json:"order_id"`
	OrderNumber    string `bun:"order_number,unique" json:"order_number"`
	IdempotencyKey string `bun:"idempotency_key,unique" json:"idempotency_key"`
	Status         string `bun:"status" json:"status"`
	Provider       string `bun:"provider" json:"provider"`
	TransactionID  string `bun:"transaction_id" json:"transaction_id,omitempty"`

	SubtotalCents int64 `bun:"subtotal_cents" json:"subtotal_cents"`
	ShippingCents int64 `bun:"shipping_cents" json:"shipping_cents"`
	DiscountCents int64 `bun:"discount_cents" json:"discount_cents"`
	TotalCents    int64 `bun:"total_cents" json:"total_cents"`

	CouponCode    string `bun:"coupon_code" json:"coupon_code,omitempty"`
	CustomerEmail string `bun:"customer_email" json:"customer_email"`

	ShippingName    string `bun:"shipping_name" json:"shipping_name,omitempty"`
	ShippingStreet  string `bun:"shipping_street" json:"shipping_street,omitempty"`
	ShippingCity    string `bun:"shipping_city" json:"shipping_city,omitempty"`
	ShippingState   string `bun:"shipping_state" json:"shipping_state,omitempty"`
	ShippingZip     string `bun:"shipping_zip" json:"shipping_zip,omitempty"`
	ShippingCountry string `bun:"shipping_country" json:"shipping_country,omitempty"`

	LastWebhookEvent string    `bun:"last_webhook_event" json:"last_webhook_event,omitempty"`
	CreatedAt        time.Time `bun:"created_at" json:"created_at"`
	UpdatedAt        time.Time `bun:"updated_at" json:"updated_at"`
}

type OrderItem struct {
	bun.BaseModel `bun:"table:order_items"`

	ID             string `bun:"id,pk" json:"id"`
	OrderID        string `bun:"order_id" json:"order_id"`
	VariantID      string `bun:"variant_id" json:"variant_id"`
	Quantity       int    `bun:"quantity" json:"quantity"`
	UnitPriceCents int64  `bun:"unit_price_cents" json:"unit_price_cents"`
	TotalCents     int64  `bun:"total_cents" json:"total_cents"`
}
