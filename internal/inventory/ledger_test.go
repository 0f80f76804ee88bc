package inventory_test

import (
	"context"
	"database/sql"
	"ms-checkout/internal/inventory"
	"ms-checkout/internal/models"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"
)

func setupTestDB(t *testing.T) (*inventory.Ledger, *bun.DB) {
	sqldb, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to connect to in-memory database: %v", err)
	}
	// A single connection keeps every goroutine on the same in-memory DB.
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())

	_, err = bunDB.NewCreateTable().Model((*models.ProductVariant)(nil)).Exec(context.Background())
	if err != nil {
		t.Fatalf("Failed to create product_variants table: %v", err)
	}

	return inventory.NewLedger(bunDB), bunDB
}

func seedVariant(t *testing.T, bunDB *bun.DB, variantID string, stock int) {
	variant := models.ProductVariant{
		VariantID:     variantID,
		SKU:           "SKU-" + variantID,
		PriceCents:    2500,
		StockQuantity: stock,
	}
	_, err := bunDB.NewInsert().Model(&variant).Exec(context.Background())
	assert.NoError(t, err)
}

func TestReserveAndRelease(t *testing.T) {
	ledger, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	seedVariant(t, bunDB, "v1", 3)

	ok, err := ledger.Reserve(ctx, "v1", 2)
	assert.NoError(t, err)
	assert.True(t, ok)

	stock, err := ledger.Stock(ctx, "v1")
	assert.NoError(t, err)
	assert.Equal(t, 1, stock)

	// Not enough stock left: reservation fails without error.
	ok, err = ledger.Reserve(ctx, "v1", 2)
	assert.NoError(t, err)
	assert.False(t, ok)

	stock, _ = ledger.Stock(ctx, "v1")
	assert.Equal(t, 1, stock)

	err = ledger.Release(ctx, "v1", 2)
	assert.NoError(t, err)

	stock, _ = ledger.Stock(ctx, "v1")
	assert.Equal(t, 3, stock)
}

func TestReserveUnknownVariant(t *testing.T) {
	ledger, bunDB := setupTestDB(t)
	defer bunDB.Close()

	ok, err := ledger.Reserve(context.Background(), "missing", 1)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestReserveRejectsNonPositiveQuantity(t *testing.T) {
	ledger, bunDB := setupTestDB(t)
	defer bunDB.Close()

	_, err := ledger.Reserve(context.Background(), "v1", 0)
	assert.Error(t, err)

	err = ledger.Release(context.Background(), "v1", -1)
	assert.Error(t, err)
}

func TestConcurrentReserveNoOversell(t *testing.T) {
	ledger, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	const stock = 5
	const callers = 20
	seedVariant(t, bunDB, "hot", stock)

	var wg sync.WaitGroup
	results := make(chan bool, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := ledger.Reserve(ctx, "hot", 1)
			assert.NoError(t, err)
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for ok := range results {
		if ok {
			succeeded++
		}
	}

	assert.Equal(t, stock, succeeded)

	final, err := ledger.Stock(ctx, "hot")
	assert.NoError(t, err)
	assert.Equal(t, 0, final)
}

func TestGetVariants(t *testing.T) {
	ledger, bunDB := setupTestDB(t)
	defer bunDB.Close()

	seedVariant(t, bunDB, "a", 1)
	seedVariant(t, bunDB, "b", 2)

	variants, err := ledger.GetVariants(context.Background(), []string{"a", "b", "missing"})
	assert.NoError(t, err)
	assert.Len(t, variants, 2)
}
