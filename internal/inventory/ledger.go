package inventory

import (
	"context"
	"fmt"
	"ms-checkout/internal/models"

	"github.com/uptrace/bun"
)

// Ledger is the sole mutation path for variant stock. Reserve pushes the
// check-then-decrement into a single conditional UPDATE so that under N
// concurrent callers against stock = k, exactly k reservations succeed.
type Ledger struct {
	Bun *bun.DB
}

func NewLedger(db *bun.DB) *Ledger {
	return &Ledger{Bun: db}
}

// Reserve decrements stock_quantity by qty only if enough stock remains.
// Returns false (no error) when the variant is missing or stock is short.
func (l *Ledger) Reserve(ctx context.Context, variantID string, qty int) (bool, error) {
	if qty <= 0 {
		return false, fmt.Errorf("reserve quantity must be positive, got %d", qty)
	}

	res, err := l.Bun.NewUpdate().
		Model((*models.ProductVariant)(nil)).
		Set("stock_quantity = stock_quantity - ?", qty).
		Where("variant_id = ?", variantID).
		Where("stock_quantity >= ?", qty).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("reserve %s: %w", variantID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// Release returns qty units to the variant. Callers are responsible for
// releasing exactly what they reserved; the ledger does not deduplicate.
func (l *Ledger) Release(ctx context.Context, variantID string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("release quantity must be positive, got %d", qty)
	}

	res, err := l.Bun.NewUpdate().
		Model((*models.ProductVariant)(nil)).
		Set("stock_quantity = stock_quantity + ?", qty).
		Where("variant_id = ?", variantID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("release %s: %w", variantID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("release %s: variant not found", variantID)
	}
	return nil
}

// Stock reads the current stock level for a variant.
func (l *Ledger) Stock(ctx context.Context, variantID string) (int, error) {
	var variant models.ProductVariant
	err := l.Bun.NewSelect().
		Model(&variant).
		Where("variant_id = ?", variantID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return 0, err
	}
	return variant.StockQuantity, nil
}

// GetVariants loads pricing data for the requested variant ids.
func (l *Ledger) GetVariants(ctx context.Context, variantIDs []string) ([]models.ProductVariant, error) {
	var variants []models.ProductVariant
	err := l.Bun.NewSelect().
		Model(&variants).
		Where("variant_id IN (?)", bun.In(variantIDs)).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return variants, nil
}
