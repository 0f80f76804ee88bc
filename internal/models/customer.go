package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Customer aggregates are bumped once per successful payment, keyed by email.
type Customer struct {
	bun.BaseModel `bun:"table:customers"`

	Email           string    `bun:"email,pk" json:"email"`
	OrdersCount     int       `bun:"orders_count" json:"orders_count"`
	TotalSpentCents int64     `bun:"total_spent_cents" json:"total_spent_cents"`
	CreatedAt       time.Time `bun:"created_at" json:"created_at"`
	UpdatedAt       time.Time `bun:"updated_at" json:"updated_at"`
}

type Coupon struct {
	bun.BaseModel `bun:"table:coupons"`

	Code       string `bun:"code,pk" json:"code"`
	UsageCount int    `bun:"usage_count" json:"usage_count"`
}
