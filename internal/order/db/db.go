package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"ms-checkout/internal/models"

	"github.com/lib/pq"
	"github.com/uptrace/bun"
)

var (
	// ErrDuplicateKey signals the idempotency-key uniqueness constraint fired.
	// Callers treat this as "order already exists" and fetch the existing row.
	ErrDuplicateKey = errors.New("order with this idempotency key already exists")

	// ErrDuplicateEvent signals the event_hash uniqueness constraint fired:
	// the exact webhook event was already processed.
	ErrDuplicateEvent = errors.New("event already recorded")
)

type DB struct {
	Bun *bun.DB
}

// isUniqueViolation matches Postgres (23505) and sqlite constraint errors so
// the same store works in production and in-memory tests.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed")
}

// ---------------- ORDERS ----------------

// CreateOrder inserts the order and its items in one transaction. A unique
// violation on idempotency_key rolls everything back and returns
// ErrDuplicateKey.
func (d *DB) CreateOrder(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	err := d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(order).Exec(ctx); err != nil {
			return err
		}
		if len(items) > 0 {
			if _, err := tx.NewInsert().Model(&items).Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

func (d *DB) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := d.Bun.NewSelect().
		Model(&order).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (d *DB) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	err := d.Bun.NewSelect().
		Model(&order).
		Where("idempotency_key = ?", key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (d *DB) GetItemsByOrder(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := d.Bun.NewSelect().
		Model(&items).
		Where("order_id = ?", orderID).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return items, nil
}

// TransitionStatus applies a monotonic status change as a single conditional
// UPDATE: the row only moves if its current status is in allowedFrom. A
// false return means the transition lost the race or would regress, and the
// caller must treat it as a no-op.
func (d *DB) TransitionStatus(ctx context.Context, orderID, newStatus string, allowedFrom []string) (bool, error) {
	if len(allowedFrom) == 0 {
		return false, nil
	}

	res, err := d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("status = ?", newStatus).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", orderID).
		Where("status IN (?)", bun.In(allowedFrom)).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("transition order %s to %s: %w", orderID, newStatus, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// UpdatePaymentRef stamps the provider transaction id and the last webhook
// event note on the order.
func (d *DB) UpdatePaymentRef(ctx context.Context, orderID, transactionID, lastEvent string) error {
	q := d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("last_webhook_event = ?", lastEvent).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", orderID)
	if transactionID != "" {
		q = q.Set("transaction_id = ?", transactionID)
	}
	_, err := q.Exec(ctx)
	return err
}

// ListStalePending returns pending orders created before the cutoff.
func (d *DB) ListStalePending(ctx context.Context, olderThan time.Time) ([]models.Order, error) {
	var orders []models.Order
	err := d.Bun.NewSelect().
		Model(&orders).
		Where("status = ?", models.StatusPending).
		Where("created_at < ?", olderThan).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// DeleteOrderCascade removes the order with its items and payments and
// returns the removed items so the caller can compensate reservations.
// Test tooling only.
func (d *DB) DeleteOrderCascade(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	items, err := d.GetItemsByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	err = d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().
			Model((*models.Payment)(nil)).
			Where("order_id = ?", orderID).
			Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewDelete().
			Model((*models.OrderItem)(nil)).
			Where("order_id = ?", orderID).
			Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewDelete().
			Model((*models.Order)(nil)).
			Where("id = ?", orderID).
			Exec(ctx); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("delete order %s: %w", orderID, err)
	}
	return items, nil
}

// ---------------- PAYMENTS ----------------

// UpsertPayment inserts the payment unless a row with the same
// (provider, transaction_id) already exists. Reports whether a new row was
// written, so callers apply one-time side effects exactly once.
func (d *DB) UpsertPayment(ctx context.Context, payment *models.Payment) (bool, error) {
	res, err := d.Bun.NewInsert().
		Model(payment).
		On("CONFLICT (provider, transaction_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("upsert payment %s/%s: %w", payment.Provider, payment.TransactionID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (d *DB) GetPaymentsByOrder(ctx context.Context, orderID string) ([]models.Payment, error) {
	var payments []models.Payment
	err := d.Bun.NewSelect().
		Model(&payments).
		Where("order_id = ?", orderID).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return payments, nil
}

// ---------------- EVENTS ----------------

// InsertEvent appends to the order event log. The unique event_hash turns a
// webhook replay into ErrDuplicateEvent.
func (d *DB) InsertEvent(ctx context.Context, event *models.OrderEvent) error {
	_, err := d.Bun.NewInsert().Model(event).Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("insert order event: %w", err)
	}
	return nil
}

// ---------------- CUSTOMERS & COUPONS ----------------

// BumpCustomerStats find-or-creates the customer row and applies one order
// worth of aggregates in a single statement.
func (d *DB) BumpCustomerStats(ctx context.Context, email string, amountCents int64) error {
	now := time.Now().UTC()
	customer := models.Customer{
		Email:           email,
		OrdersCount:     1,
		TotalSpentCents: amountCents,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	_, err := d.Bun.NewInsert().
		Model(&customer).
		On("CONFLICT (email) DO UPDATE").
		Set("orders_count = customer.orders_count + 1").
		Set("total_spent_cents = customer.total_spent_cents + EXCLUDED.total_spent_cents").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("bump customer stats for %s: %w", email, err)
	}
	return nil
}

func (d *DB) IncrementCouponUsage(ctx context.Context, code string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Coupon)(nil)).
		Set("usage_count = usage_count + 1").
		Where("code = ?", code).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("increment coupon %s: %w", code, err)
	}
	return nil
}
