package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Payment channels and UI experiences.
const (
	ChannelInternal = "internal"
	ChannelExternal = "external"

	ExperienceTransparent = "transparent"
	ExperienceNative      = "native"
)

// CheckoutSettings is a singleton row (id = 1). Every process reads the same
// source of truth; changes go through the router's settings-update operation
// which appends one audit row per mutation.
type CheckoutSettings struct {
	bun.BaseModel `bun:"table:checkout_settings"`

	ID             int64     `bun:"id,pk" json:"-"`
	ActiveProvider string    `bun:"active_provider" json:"active_provider"`
	Channel        string    `bun:"channel" json:"channel"`
	Experience     string    `bun:"experience" json:"experience"`
	Environment    string    `bun:"environment" json:"environment"`
	Version        int64     `bun:"version" json:"version"`
	UpdatedAt      time.Time `bun:"updated_at" json:"updated_at"`
}

type CheckoutSettingsAudit struct {
	bun.BaseModel `bun:"table:checkout_settings_audit"`

	ID            string    `bun:"id,pk" json:"id"`
	OldProvider   string    `bun:"old_provider" json:"old_provider"`
	NewProvider   string    `bun:"new_provider" json:"new_provider"`
	OldChannel    string    `bun:"old_channel" json:"old_channel"`
	NewChannel    string    `bun:"new_channel" json:"new_channel"`
	OldExperience string    `bun:"old_experience" json:"old_experience"`
	NewExperience string    `bun:"new_experience" json:"new_experience"`
	Actor         string    `bun:"actor" json:"actor"`
	Reason        string    `bun:"reason" json:"reason,omitempty"`
	RequestID     string    `bun:"request_id" json:"request_id,omitempty"`
	ChangedAt     time.Time `bun:"changed_at" json:"changed_at"`
}
