package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-checkout/internal/database/migrations"
	"ms-checkout/internal/models"
)

func main() {
	var (
		down = flag.Bool("down", false, "roll back all migrations")
		seed = flag.Bool("seed", false, "insert sample catalog data after migrating")
		dir  = flag.String("dir", "./migrations", "directory containing migration files")
	)
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN not set")
	}

	sqldb, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("Failed to open PostgreSQL: %v", err)
	}
	defer sqldb.Close()

	if err := sqldb.Ping(); err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}

	db := bun.NewDB(sqldb, pgdialect.New())

	runner := migrations.NewRunner(db, migrations.MigrateOptions{MigrationsDir: *dir})
	defer runner.Close()

	if *down {
		log.Println("Rolling back migrations...")
		if err := runner.MigrateDown(); err != nil {
			log.Fatalf("Migration down failed: %v", err)
		}
		log.Println("✅ Rollback complete.")
		return
	}

	log.Println("Applying migrations...")
	if err := runner.MigrateUp(); err != nil {
		log.Fatalf("Migration up failed: %v", err)
	}
	log.Println("✅ Schema up to date.")

	if *seed {
		log.Println("Seeding sample catalog data...")
		if err := seedCatalog(context.Background(), db); err != nil {
			log.Fatalf("Seeding failed: %v", err)
		}
		log.Println("✅ Done.")
	}
}

func seedCatalog(ctx context.Context, db *bun.DB) error {
	variants := []models.ProductVariant{
		{VariantID: "var-tee-black-m", SKU: "TEE-BLK-M", PriceCents: 4990, StockQuantity: 120},
		{VariantID: "var-tee-black-l", SKU: "TEE-BLK-L", PriceCents: 4990, StockQuantity: 80},
		{VariantID: "var-hoodie-grey-m", SKU: "HOD-GRY-M", PriceCents: 12990, StockQuantity: 35},
		{VariantID: "var-cap-navy", SKU: "CAP-NVY", PriceCents: 2990, StockQuantity: 200},
	}
	if _, err := db.NewInsert().Model(&variants).On("CONFLICT (variant_id) DO NOTHING").Exec(ctx); err != nil {
		return err
	}

	coupons := []models.Coupon{
		{Code: "WELCOME10", UsageCount: 0},
		{Code: "FREESHIP", UsageCount: 0},
	}
	if _, err := db.NewInsert().Model(&coupons).On("CONFLICT (code) DO NOTHING").Exec(ctx); err != nil {
		return err
	}

	settings := models.CheckoutSettings{
		ID:             1,
		ActiveProvider: models.ProviderStripe,
		Channel:        models.ChannelInternal,
		Experience:     models.ExperienceTransparent,
		Environment:    "production",
		Version:        1,
		UpdatedAt:      time.Now().UTC(),
	}
	_, err := db.NewInsert().Model(&settings).On("CONFLICT (id) DO NOTHING").Exec(ctx)
	return err
}
