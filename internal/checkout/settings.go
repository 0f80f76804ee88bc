package checkout

import (
	"context"
	"fmt"
	"time"

	"ms-checkout/internal/models"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ValidateCombination enforces the provider/channel/experience compatibility
// table: Stripe is embedded-only, Yampi is hosted-only, Appmax supports both
// channels, and the transparent experience only makes sense embedded.
func ValidateCombination(provider, channel, experience string) error {
	switch provider {
	case models.ProviderStripe:
		if channel == models.ChannelExternal {
			return &ValidationError{Msg: "stripe does not support the external channel"}
		}
	case models.ProviderYampi:
		if channel != models.ChannelExternal {
			return &ValidationError{Msg: "yampi only supports the external channel"}
		}
	case models.ProviderAppmax:
		// Both channels are valid.
	default:
		return &ValidationError{Msg: fmt.Sprintf("unknown provider %q", provider)}
	}

	switch channel {
	case models.ChannelInternal, models.ChannelExternal:
	default:
		return &ValidationError{Msg: fmt.Sprintf("unknown channel %q", channel)}
	}

	switch experience {
	case models.ExperienceTransparent:
		if channel != models.ChannelInternal {
			return &ValidationError{Msg: "transparent experience requires the internal channel"}
		}
	case models.ExperienceNative:
	default:
		return &ValidationError{Msg: fmt.Sprintf("unknown experience %q", experience)}
	}

	return nil
}

// SettingsDB persists the checkout settings singleton and its audit trail.
type SettingsDB struct {
	Bun *bun.DB
}

func NewSettingsDB(db *bun.DB) *SettingsDB {
	return &SettingsDB{Bun: db}
}

// Get reads the singleton row, seeding a default when none exists yet.
func (s *SettingsDB) Get(ctx context.Context) (*models.CheckoutSettings, error) {
	var settings models.CheckoutSettings
	err := s.Bun.NewSelect().
		Model(&settings).
		Where("id = 1").
		Limit(1).
		Scan(ctx)
	if err == nil {
		return &settings, nil
	}

	settings = models.CheckoutSettings{
		ID:             1,
		ActiveProvider: models.ProviderStripe,
		Channel:        models.ChannelInternal,
		Experience:     models.ExperienceTransparent,
		Environment:    "production",
		Version:        1,
		UpdatedAt:      time.Now().UTC(),
	}
	if _, insertErr := s.Bun.NewInsert().
		Model(&settings).
		On("CONFLICT (id) DO NOTHING").
		Exec(ctx); insertErr != nil {
		return nil, fmt.Errorf("seed checkout settings: %w", insertErr)
	}
	return &settings, nil
}

// Update persists the singleton and appends one audit row, both in a single
// transaction so the trail never misses a change.
func (s *SettingsDB) Update(ctx context.Context, req models.SettingsUpdateRequest, actor string) (*models.CheckoutSettings, error) {
	current, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}

	updated := *current
	updated.ActiveProvider = req.ActiveProvider
	updated.Channel = req.Channel
	updated.Experience = req.Experience
	if req.Environment != "" {
		updated.Environment = req.Environment
	}
	updated.Version = current.Version + 1
	updated.UpdatedAt = time.Now().UTC()

	audit := models.CheckoutSettingsAudit{
		ID:            uuid.NewString(),
		OldProvider:   current.ActiveProvider,
		NewProvider:   updated.ActiveProvider,
		OldChannel:    current.Channel,
		NewChannel:    updated.Channel,
		OldExperience: current.Experience,
		NewExperience: updated.Experience,
		Actor:         actor,
		Reason:        req.ChangeReason,
		RequestID:     req.RequestID,
		ChangedAt:     updated.UpdatedAt,
	}

	err = s.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model(&updated).
			Column("active_provider", "channel", "experience", "environment", "version", "updated_at").
			Where("id = 1").
			Where("version = ?", current.Version).
			Exec(ctx)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("checkout settings changed concurrently, retry")
		}
		if _, err := tx.NewInsert().Model(&audit).Exec(ctx); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update checkout settings: %w", err)
	}
	return &updated, nil
}
