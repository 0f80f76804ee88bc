package db_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"ms-checkout/internal/models"
	"ms-checkout/internal/order"
	"ms-checkout/internal/order/db"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"
)

func setupTestDB(t *testing.T) (*db.DB, *bun.DB) {
	sqldb, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to connect to in-memory database: %v", err)
	}
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())

	for _, model := range []interface{}{
		(*models.Order)(nil),
		(*models.OrderItem)(nil),
		(*models.Payment)(nil),
		(*models.OrderEvent)(nil),
		(*models.Customer)(nil),
		(*models.Coupon)(nil),
	} {
		_, err = bunDB.NewCreateTable().Model(model).Exec(context.Background())
		if err != nil {
			t.Fatalf("Failed to create table: %v", err)
		}
	}

	return &db.DB{Bun: bunDB}, bunDB
}

func testOrder(key string) *models.Order {
	now := time.Now()
	return &models.Order{
		ID:             uuid.NewString(),
		OrderNumber:    "CHK-" + uuid.NewString()[:8],
		IdempotencyKey: key,
		Status:         models.StatusPending,
		Provider:       models.ProviderStripe,
		SubtotalCents:  5000,
		TotalCents:     5000,
		CustomerEmail:  "buyer@example.com",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestCreateOrderWithItems(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	o := testOrder("cart-1")
	items := []models.OrderItem{
		{ID: uuid.NewString(), OrderID: o.ID, VariantID: "v1", Quantity: 2, UnitPriceCents: 2500, TotalCents: 5000},
	}

	err := store.CreateOrder(ctx, o, items)
	assert.NoError(t, err)

	got, err := store.GetOrderByID(ctx, o.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)

	gotItems, err := store.GetItemsByOrder(ctx, o.ID)
	assert.NoError(t, err)
	assert.Len(t, gotItems, 1)
}

func TestCreateOrderDuplicateIdempotencyKey(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	first := testOrder("cart-dup")
	assert.NoError(t, store.CreateOrder(ctx, first, nil))

	second := testOrder("cart-dup")
	err := store.CreateOrder(ctx, second, nil)
	assert.ErrorIs(t, err, db.ErrDuplicateKey)

	// The conflicting caller resolves to the existing order.
	existing, err := store.GetOrderByIdempotencyKey(ctx, "cart-dup")
	assert.NoError(t, err)
	assert.Equal(t, first.ID, existing.ID)
}

func TestCreateOrderConcurrentSameKey(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	const attempts = 8
	var wg sync.WaitGroup
	errs := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- store.CreateOrder(ctx, testOrder("cart-race"), nil)
		}()
	}
	wg.Wait()
	close(errs)

	created := 0
	for err := range errs {
		if err == nil {
			created++
		} else {
			assert.ErrorIs(t, err, db.ErrDuplicateKey)
		}
	}
	assert.Equal(t, 1, created)

	count, err := bunDB.NewSelect().
		Model((*models.Order)(nil)).
		Where("idempotency_key = ?", "cart-race").
		Count(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestTransitionStatusMonotonic(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	o := testOrder("cart-status")
	assert.NoError(t, store.CreateOrder(ctx, o, nil))

	ok, err := store.TransitionStatus(ctx, o.ID, models.StatusPaid, order.AllowedFrom(models.StatusPaid))
	assert.NoError(t, err)
	assert.True(t, ok)

	// A late "processing" event must not regress a paid order.
	ok, err = store.TransitionStatus(ctx, o.ID, models.StatusProcessing, order.AllowedFrom(models.StatusProcessing))
	assert.NoError(t, err)
	assert.False(t, ok)

	got, _ := store.GetOrderByID(ctx, o.ID)
	assert.Equal(t, models.StatusPaid, got.Status)

	// Cancellation is not allowed once the order is paid.
	ok, err = store.TransitionStatus(ctx, o.ID, models.StatusCancelled, order.AllowedFrom(models.StatusCancelled))
	assert.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.TransitionStatus(ctx, o.ID, models.StatusShipped, order.AllowedFrom(models.StatusShipped))
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestTransitionStatusCancelFromPending(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	o := testOrder("cart-cancel")
	assert.NoError(t, store.CreateOrder(ctx, o, nil))

	ok, err := store.TransitionStatus(ctx, o.ID, models.StatusCancelled, order.AllowedFrom(models.StatusCancelled))
	assert.NoError(t, err)
	assert.True(t, ok)

	// Repeat is a no-op: cancelled is terminal.
	ok, err = store.TransitionStatus(ctx, o.ID, models.StatusCancelled, order.AllowedFrom(models.StatusCancelled))
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestUpsertPaymentIdempotent(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	payment := &models.Payment{
		ID:            uuid.NewString(),
		OrderID:       "o1",
		Provider:      models.ProviderAppmax,
		TransactionID: "txn-1",
		AmountCents:   9900,
		Status:        "approved",
		CreatedAt:     time.Now(),
	}

	inserted, err := store.UpsertPayment(ctx, payment)
	assert.NoError(t, err)
	assert.True(t, inserted)

	replay := *payment
	replay.ID = uuid.NewString()
	inserted, err = store.UpsertPayment(ctx, &replay)
	assert.NoError(t, err)
	assert.False(t, inserted)

	payments, err := store.GetPaymentsByOrder(ctx, "o1")
	assert.NoError(t, err)
	assert.Len(t, payments, 1)
}

func TestInsertEventDeduplicates(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	payload := []byte(`{"event":"OrderApproved","order_id":"o1"}`)
	hash := models.EventHash("OrderApproved", "o1", payload)

	event := &models.OrderEvent{
		ID:         uuid.NewString(),
		EventHash:  hash,
		Provider:   models.ProviderAppmax,
		EventType:  "OrderApproved",
		Reference:  "o1",
		Payload:    string(payload),
		ReceivedAt: time.Now(),
	}
	assert.NoError(t, store.InsertEvent(ctx, event))

	replay := *event
	replay.ID = uuid.NewString()
	err := store.InsertEvent(ctx, &replay)
	assert.True(t, errors.Is(err, db.ErrDuplicateEvent))
}

func TestBumpCustomerStats(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	assert.NoError(t, store.BumpCustomerStats(ctx, "repeat@example.com", 1000))
	assert.NoError(t, store.BumpCustomerStats(ctx, "repeat@example.com", 2500))

	var customer models.Customer
	err := bunDB.NewSelect().
		Model(&customer).
		Where("email = ?", "repeat@example.com").
		Scan(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 2, customer.OrdersCount)
	assert.Equal(t, int64(3500), customer.TotalSpentCents)
}

func TestIncrementCouponUsage(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	coupon := models.Coupon{Code: "WELCOME10", UsageCount: 0}
	_, err := bunDB.NewInsert().Model(&coupon).Exec(ctx)
	assert.NoError(t, err)

	assert.NoError(t, store.IncrementCouponUsage(ctx, "WELCOME10"))
	assert.NoError(t, store.IncrementCouponUsage(ctx, "WELCOME10"))

	var got models.Coupon
	err = bunDB.NewSelect().Model(&got).Where("code = ?", "WELCOME10").Scan(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 2, got.UsageCount)
}

func TestListStalePending(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	stale := testOrder("cart-old")
	stale.CreatedAt = time.Now().Add(-30 * time.Minute)
	assert.NoError(t, store.CreateOrder(ctx, stale, nil))

	fresh := testOrder("cart-new")
	assert.NoError(t, store.CreateOrder(ctx, fresh, nil))

	paidOld := testOrder("cart-paid")
	paidOld.CreatedAt = time.Now().Add(-30 * time.Minute)
	paidOld.Status = models.StatusPaid
	assert.NoError(t, store.CreateOrder(ctx, paidOld, nil))

	orders, err := store.ListStalePending(ctx, time.Now().Add(-15*time.Minute))
	assert.NoError(t, err)
	assert.Len(t, orders, 1)
	assert.Equal(t, stale.ID, orders[0].ID)
}

func TestDeleteOrderCascade(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	o := testOrder("cart-del")
	items := []models.OrderItem{
		{ID: uuid.NewString(), OrderID: o.ID, VariantID: "v1", Quantity: 1, UnitPriceCents: 100, TotalCents: 100},
	}
	assert.NoError(t, store.CreateOrder(ctx, o, items))

	_, err := store.UpsertPayment(ctx, &models.Payment{
		ID: uuid.NewString(), OrderID: o.ID, Provider: models.ProviderStripe,
		TransactionID: "pi_del", AmountCents: 100, Status: "succeeded", CreatedAt: time.Now(),
	})
	assert.NoError(t, err)

	removed, err := store.DeleteOrderCascade(ctx, o.ID)
	assert.NoError(t, err)
	assert.Len(t, removed, 1)

	_, err = store.GetOrderByID(ctx, o.ID)
	assert.Error(t, err)

	payments, err := store.GetPaymentsByOrder(ctx, o.ID)
	assert.NoError(t, err)
	assert.Empty(t, payments)
}
