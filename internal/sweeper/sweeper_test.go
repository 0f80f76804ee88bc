package sweeper_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"ms-checkout/internal/inventory"
	"ms-checkout/internal/kafka"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
	"ms-checkout/internal/order"
	"ms-checkout/internal/order/db"
	"ms-checkout/internal/sweeper"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"
)

type noopHolds struct{}

func (noopHolds) HoldOrder(ctx context.Context, orderID string) error   { return nil }
func (noopHolds) ReleaseHold(ctx context.Context, orderID string) error { return nil }

type recordingCanceller struct {
	cancelled []string
}

func (c *recordingCanceller) CancelSession(ctx context.Context, ord *models.Order) error {
	c.cancelled = append(c.cancelled, ord.TransactionID)
	return nil
}

func setupSweeper(t *testing.T, ttl time.Duration) (*sweeper.Sweeper, *db.DB, *bun.DB, *recordingCanceller) {
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
		(*models.ProductVariant)(nil),
	} {
		if _, err := bunDB.NewCreateTable().Model(model).Exec(context.Background()); err != nil {
			t.Fatalf("Failed to create table: %v", err)
		}
	}

	log := logger.NewTestLogger()
	dbl := &db.DB{Bun: bunDB}
	orders := order.NewOrderService(dbl, inventory.NewLedger(bunDB), noopHolds{}, kafka.NoopPublisher{}, log)
	canceller := &recordingCanceller{}
	cancellers := map[string]sweeper.UpstreamCanceller{
		models.ProviderAppmax: canceller,
	}
	return sweeper.NewSweeper(orders, cancellers, ttl, log), dbl, bunDB, canceller
}

func seedOrderAt(t *testing.T, dbl *db.DB, bunDB *bun.DB, createdAt time.Time, txnID string) *models.Order {
	ctx := context.Background()
	ord := &models.Order{
		ID:             uuid.NewString(),
		OrderNumber:    "CHK-" + uuid.NewString()[:8],
		IdempotencyKey: uuid.NewString(),
		Status:         models.StatusPending,
		Provider:       models.ProviderAppmax,
		TransactionID:  txnID,
		SubtotalCents:  5000,
		TotalCents:     5000,
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}
	items := []models.OrderItem{{
		ID: uuid.NewString(), VariantID: "v1", Quantity: 2, UnitPriceCents: 2500, TotalCents: 5000,
	}}
	items[0].OrderID = ord.ID
	if err := dbl.CreateOrder(ctx, ord, items); err != nil {
		t.Fatalf("Failed to seed order: %v", err)
	}
	return ord
}

func seedStock(t *testing.T, bunDB *bun.DB, qty int) {
	_, err := bunDB.NewInsert().Model(&models.ProductVariant{
		VariantID: "v1", SKU: "SKU-v1", PriceCents: 2500, StockQuantity: qty,
	}).Exec(context.Background())
	if err != nil {
		t.Fatalf("Failed to seed variant: %v", err)
	}
}

func TestSweepReleasesExpiredReservation(t *testing.T) {
	sw, dbl, bunDB, canceller := setupSweeper(t, 15*time.Minute)
	ctx := context.Background()

	seedStock(t, bunDB, 3) // 2 already reserved by the stale order
	stale := seedOrderAt(t, dbl, bunDB, time.Now().UTC().Add(-30*time.Minute), "txn-stale")

	swept, err := sw.Run(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, swept)

	updated, err := dbl.GetOrderByID(ctx, stale.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, updated.Status)

	stock, err := inventory.NewLedger(bunDB).Stock(ctx, "v1")
	assert.NoError(t, err)
	assert.Equal(t, 5, stock)

	assert.Equal(t, []string{"txn-stale"}, canceller.cancelled)
}

func TestSweepRepeatIsNoOp(t *testing.T) {
	sw, dbl, bunDB, _ := setupSweeper(t, 15*time.Minute)
	ctx := context.Background()

	seedStock(t, bunDB, 3)
	seedOrderAt(t, dbl, bunDB, time.Now().UTC().Add(-30*time.Minute), "txn-1")

	swept, err := sw.Run(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, swept)

	swept, err = sw.Run(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 0, swept)

	// Stock was restored exactly once.
	stock, err := inventory.NewLedger(bunDB).Stock(ctx, "v1")
	assert.NoError(t, err)
	assert.Equal(t, 5, stock)
}

func TestSweepLeavesFreshOrdersAlone(t *testing.T) {
	sw, dbl, bunDB, canceller := setupSweeper(t, 15*time.Minute)
	ctx := context.Background()

	seedStock(t, bunDB, 3)
	fresh := seedOrderAt(t, dbl, bunDB, time.Now().UTC().Add(-2*time.Minute), "txn-fresh")

	swept, err := sw.Run(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 0, swept)

	updated, err := dbl.GetOrderByID(ctx, fresh.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.StatusPending, updated.Status)
	assert.Empty(t, canceller.cancelled)
}

func TestSweepOrderHandlesExpiryNotification(t *testing.T) {
	sw, dbl, bunDB, _ := setupSweeper(t, 15*time.Minute)
	ctx := context.Background()

	seedStock(t, bunDB, 3)
	stale := seedOrderAt(t, dbl, bunDB, time.Now().UTC().Add(-30*time.Minute), "txn-1")

	changed, err := sw.SweepOrder(ctx, stale.ID)
	assert.NoError(t, err)
	assert.True(t, changed)

	changed, err = sw.SweepOrder(ctx, stale.ID)
	assert.NoError(t, err)
	assert.False(t, changed)
}

func TestSweepOrderSkipsSettledOrders(t *testing.T) {
	sw, dbl, bunDB, canceller := setupSweeper(t, 15*time.Minute)
	ctx := context.Background()

	seedStock(t, bunDB, 3)
	paid := seedOrderAt(t, dbl, bunDB, time.Now().UTC().Add(-30*time.Minute), "txn-paid")
	_, err := bunDB.NewUpdate().Model((*models.Order)(nil)).
		Set("status = ?", models.StatusPaid).
		Where("id = ?", paid.ID).
		Exec(ctx)
	assert.NoError(t, err)

	changed, err := sw.SweepOrder(ctx, paid.ID)
	assert.NoError(t, err)
	assert.False(t, changed)
	assert.Empty(t, canceller.cancelled)
}
