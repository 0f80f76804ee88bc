package checkout_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"ms-checkout/internal/checkout"
	"ms-checkout/internal/config"
	"ms-checkout/internal/inventory"
	"ms-checkout/internal/kafka"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
	"ms-checkout/internal/order"
	"ms-checkout/internal/order/db"

	"github.com/stretchr/testify/assert"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"
)

type fakeGateway struct {
	session *models.GatewaySession
	err     error
	calls   int
}

func (g *fakeGateway) CreateSession(ctx context.Context, ord *models.Order, settings *models.CheckoutSettings) (*models.GatewaySession, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return g.session, nil
}

type noopHolds struct{}

func (noopHolds) HoldOrder(ctx context.Context, orderID string) error   { return nil }
func (noopHolds) ReleaseHold(ctx context.Context, orderID string) error { return nil }

func setupService(t *testing.T, gateway checkout.SessionCreator) (*checkout.Service, *bun.DB) {
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
		(*models.CheckoutSettings)(nil),
		(*models.CheckoutSettingsAudit)(nil),
	} {
		if _, err := bunDB.NewCreateTable().Model(model).Exec(context.Background()); err != nil {
			t.Fatalf("Failed to create table: %v", err)
		}
	}

	log := logger.NewTestLogger()
	orders := order.NewOrderService(&db.DB{Bun: bunDB}, inventory.NewLedger(bunDB), noopHolds{}, kafka.NoopPublisher{}, log)
	gateways := map[string]checkout.SessionCreator{
		models.ProviderStripe: gateway,
		models.ProviderAppmax: gateway,
	}
	cfg := config.CheckoutConfig{
		RequestTimeout: 5 * time.Second,
		TokenSecret:    "test-secret",
		TokenTTL:       30 * time.Minute,
	}
	return checkout.NewService(orders, checkout.NewSettingsDB(bunDB), gateways, cfg, log), bunDB
}

func seedVariant(t *testing.T, bunDB *bun.DB, id string, priceCents int64, stock int) {
	_, err := bunDB.NewInsert().Model(&models.ProductVariant{
		VariantID:     id,
		SKU:           "SKU-" + id,
		PriceCents:    priceCents,
		StockQuantity: stock,
	}).Exec(context.Background())
	if err != nil {
		t.Fatalf("Failed to seed variant: %v", err)
	}
}

func TestStartCreatesOrderAndSession(t *testing.T) {
	gateway := &fakeGateway{session: &models.GatewaySession{
		Action:       models.ActionRender,
		ClientSecret: "pi_secret_123",
	}}
	svc, bunDB := setupService(t, gateway)
	seedVariant(t, bunDB, "v1", 2500, 10)

	resp, err := svc.Handle(context.Background(), models.CheckoutRequest{
		Route:  checkout.RouteStart,
		CartID: "cart-1",
		Items:  []models.CheckoutItem{{VariantID: "v1", Quantity: 2}},
		Email:  "buyer@example.com",
	})
	assert.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, models.ActionRender, resp.Action)
	assert.Equal(t, "pi_secret_123", resp.ClientSecret)
	assert.Equal(t, models.StatusPending, resp.Status)
	assert.NotEmpty(t, resp.OrderAccessToken)
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, 1, gateway.calls)

	// Stock was reserved.
	ledger := inventory.NewLedger(bunDB)
	stock, err := ledger.Stock(context.Background(), "v1")
	assert.NoError(t, err)
	assert.Equal(t, 8, stock)
}

func TestStartRejectsClientSuppliedUnitPrice(t *testing.T) {
	gateway := &fakeGateway{session: &models.GatewaySession{Action: models.ActionRender}}
	svc, bunDB := setupService(t, gateway)
	seedVariant(t, bunDB, "v1", 2500, 10)

	price := int64(1)
	_, err := svc.Handle(context.Background(), models.CheckoutRequest{
		Route:  checkout.RouteStart,
		CartID: "cart-1",
		Items:  []models.CheckoutItem{{VariantID: "v1", Quantity: 1, UnitPrice: &price}},
	})

	var validationErr *checkout.ValidationError
	assert.ErrorAs(t, err, &validationErr)
	assert.Equal(t, 0, gateway.calls)
}

func TestStartReplaySameCartReturnsSameOrder(t *testing.T) {
	gateway := &fakeGateway{session: &models.GatewaySession{Action: models.ActionRender}}
	svc, bunDB := setupService(t, gateway)
	seedVariant(t, bunDB, "v1", 2500, 10)

	req := models.CheckoutRequest{
		Route:  checkout.RouteStart,
		CartID: "cart-replay",
		Items:  []models.CheckoutItem{{VariantID: "v1", Quantity: 3}},
	}
	first, err := svc.Handle(context.Background(), req)
	assert.NoError(t, err)
	second, err := svc.Handle(context.Background(), req)
	assert.NoError(t, err)
	assert.Equal(t, first.OrderID, second.OrderID)

	// Replay released its own reservation: only one attempt holds stock.
	ledger := inventory.NewLedger(bunDB)
	stock, err := ledger.Stock(context.Background(), "v1")
	assert.NoError(t, err)
	assert.Equal(t, 7, stock)
}

func TestStartReplayAfterPaymentSkipsSession(t *testing.T) {
	gateway := &fakeGateway{session: &models.GatewaySession{Action: models.ActionRender}}
	svc, bunDB := setupService(t, gateway)
	seedVariant(t, bunDB, "v1", 2500, 10)

	req := models.CheckoutRequest{
		Route:  checkout.RouteStart,
		CartID: "cart-paid-replay",
		Items:  []models.CheckoutItem{{VariantID: "v1", Quantity: 1}},
	}
	first, err := svc.Handle(context.Background(), req)
	assert.NoError(t, err)

	_, err = bunDB.NewUpdate().Model((*models.Order)(nil)).
		Set("status = ?", models.StatusPaid).
		Where("id = ?", first.OrderID).
		Exec(context.Background())
	assert.NoError(t, err)

	second, err := svc.Handle(context.Background(), req)
	assert.NoError(t, err)
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, models.StatusPaid, second.Status)
	assert.Empty(t, second.Action)
	assert.Equal(t, 1, gateway.calls)
}

func TestStartInsufficientStock(t *testing.T) {
	gateway := &fakeGateway{session: &models.GatewaySession{Action: models.ActionRender}}
	svc, bunDB := setupService(t, gateway)
	seedVariant(t, bunDB, "v1", 2500, 2)

	_, err := svc.Handle(context.Background(), models.CheckoutRequest{
		Route:  checkout.RouteStart,
		CartID: "cart-1",
		Items:  []models.CheckoutItem{{VariantID: "v1", Quantity: 5}},
	})
	assert.ErrorIs(t, err, order.ErrInsufficientStock)
}

func TestResolveReturnsOrderState(t *testing.T) {
	gateway := &fakeGateway{session: &models.GatewaySession{Action: models.ActionRender}}
	svc, bunDB := setupService(t, gateway)
	seedVariant(t, bunDB, "v1", 2500, 10)

	created, err := svc.Handle(context.Background(), models.CheckoutRequest{
		Route:  checkout.RouteStart,
		CartID: "cart-resolve",
		Items:  []models.CheckoutItem{{VariantID: "v1", Quantity: 1}},
	})
	assert.NoError(t, err)

	resolved, err := svc.Handle(context.Background(), models.CheckoutRequest{
		Route:  checkout.RouteResolve,
		CartID: "cart-resolve",
	})
	assert.NoError(t, err)
	assert.Equal(t, created.OrderID, resolved.OrderID)
	assert.Equal(t, models.StatusPending, resolved.Status)
	assert.NotEmpty(t, resolved.OrderAccessToken)
}

func TestResolveUnknownCart(t *testing.T) {
	gateway := &fakeGateway{session: &models.GatewaySession{Action: models.ActionRender}}
	svc, _ := setupService(t, gateway)

	_, err := svc.Handle(context.Background(), models.CheckoutRequest{
		Route:  checkout.RouteResolve,
		CartID: "no-such-cart",
	})
	var validationErr *checkout.ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestCreateGatewaySessionForPendingOrder(t *testing.T) {
	gateway := &fakeGateway{session: &models.GatewaySession{
		Action:      models.ActionRedirect,
		RedirectURL: "https://pay.example.com/s/abc",
	}}
	svc, bunDB := setupService(t, gateway)
	seedVariant(t, bunDB, "v1", 2500, 10)

	created, err := svc.Handle(context.Background(), models.CheckoutRequest{
		Route:  checkout.RouteStart,
		CartID: "cart-session",
		Items:  []models.CheckoutItem{{VariantID: "v1", Quantity: 1}},
	})
	assert.NoError(t, err)

	resp, err := svc.Handle(context.Background(), models.CheckoutRequest{
		Route:   checkout.RouteCreateGatewaySession,
		OrderID: created.OrderID,
	})
	assert.NoError(t, err)
	assert.Equal(t, models.ActionRedirect, resp.Action)
	assert.Equal(t, "https://pay.example.com/s/abc", resp.RedirectURL)
	assert.Equal(t, 2, gateway.calls)
}

func TestCreateGatewaySessionRejectsPaidOrder(t *testing.T) {
	gateway := &fakeGateway{session: &models.GatewaySession{Action: models.ActionRender}}
	svc, bunDB := setupService(t, gateway)
	seedVariant(t, bunDB, "v1", 2500, 10)

	created, err := svc.Handle(context.Background(), models.CheckoutRequest{
		Route:  checkout.RouteStart,
		CartID: "cart-paid",
		Items:  []models.CheckoutItem{{VariantID: "v1", Quantity: 1}},
	})
	assert.NoError(t, err)

	_, err = bunDB.NewUpdate().Model((*models.Order)(nil)).
		Set("status = ?", models.StatusPaid).
		Where("id = ?", created.OrderID).
		Exec(context.Background())
	assert.NoError(t, err)

	_, err = svc.Handle(context.Background(), models.CheckoutRequest{
		Route:   checkout.RouteCreateGatewaySession,
		OrderID: created.OrderID,
	})
	var validationErr *checkout.ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestUnknownRoute(t *testing.T) {
	gateway := &fakeGateway{}
	svc, _ := setupService(t, gateway)

	_, err := svc.Handle(context.Background(), models.CheckoutRequest{Route: "refund"})
	var validationErr *checkout.ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestGatewayFailureSurfacesUpstreamError(t *testing.T) {
	gateway := &fakeGateway{err: &checkout.UpstreamError{
		Provider: models.ProviderStripe,
		Err:      errors.New("connection refused"),
	}}
	svc, bunDB := setupService(t, gateway)
	seedVariant(t, bunDB, "v1", 2500, 10)

	_, err := svc.Handle(context.Background(), models.CheckoutRequest{
		Route:  checkout.RouteStart,
		CartID: "cart-down",
		Items:  []models.CheckoutItem{{VariantID: "v1", Quantity: 1}},
	})
	var upstreamErr *checkout.UpstreamError
	assert.ErrorAs(t, err, &upstreamErr)
	assert.Equal(t, models.ProviderStripe, upstreamErr.Provider)
}

func TestUpdateSettingsRejectsIncompatibleCombination(t *testing.T) {
	gateway := &fakeGateway{}
	svc, _ := setupService(t, gateway)

	_, err := svc.UpdateSettings(context.Background(), models.SettingsUpdateRequest{
		ActiveProvider: models.ProviderStripe,
		Channel:        models.ChannelExternal,
		Experience:     models.ExperienceNative,
	}, "admin-1")
	var validationErr *checkout.ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestUpdateSettingsRejectsUnconfiguredGateway(t *testing.T) {
	gateway := &fakeGateway{}
	svc, _ := setupService(t, gateway)

	// Only stripe and appmax gateways are wired in the test service.
	_, err := svc.UpdateSettings(context.Background(), models.SettingsUpdateRequest{
		ActiveProvider: models.ProviderYampi,
		Channel:        models.ChannelExternal,
		Experience:     models.ExperienceNative,
	}, "admin-1")
	var validationErr *checkout.ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestOrderAccessTokenRoundTrip(t *testing.T) {
	secret := []byte("test-secret")
	token, err := checkout.OrderAccessToken("ord-1", secret, time.Minute)
	assert.NoError(t, err)

	orderID, err := checkout.VerifyOrderAccessToken(token, secret)
	assert.NoError(t, err)
	assert.Equal(t, "ord-1", orderID)

	_, err = checkout.VerifyOrderAccessToken(token, []byte("wrong-secret"))
	assert.Error(t, err)
}
