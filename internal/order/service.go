package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
	"ms-checkout/internal/order/db"

	"github.com/google/uuid"
)

var (
	// ErrInsufficientStock is an expected outcome, not a crash: one or more
	// items could not be reserved and the order was not created.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrUnknownVariant means the request referenced a variant that does not
	// exist in the catalog.
	ErrUnknownVariant = errors.New("unknown product variant")
)

type DBLayer interface {
	CreateOrder(ctx context.Context, order *models.Order, items []models.OrderItem) error
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	GetItemsByOrder(ctx context.Context, orderID string) ([]models.OrderItem, error)
	TransitionStatus(ctx context.Context, orderID, newStatus string, allowedFrom []string) (bool, error)
	UpdatePaymentRef(ctx context.Context, orderID, transactionID, lastEvent string) error
	UpsertPayment(ctx context.Context, payment *models.Payment) (bool, error)
	BumpCustomerStats(ctx context.Context, email string, amountCents int64) error
	IncrementCouponUsage(ctx context.Context, code string) error
	ListStalePending(ctx context.Context, olderThan time.Time) ([]models.Order, error)
	DeleteOrderCascade(ctx context.Context, orderID string) ([]models.OrderItem, error)
}

type Ledger interface {
	Reserve(ctx context.Context, variantID string, qty int) (bool, error)
	Release(ctx context.Context, variantID string, qty int) error
	GetVariants(ctx context.Context, variantIDs []string) ([]models.ProductVariant, error)
}

type HoldStore interface {
	HoldOrder(ctx context.Context, orderID string) error
	ReleaseHold(ctx context.Context, orderID string) error
}

type KafkaPublisher interface {
	PublishOrderCreated(order models.Order) error
	PublishOrderPaid(order models.Order) error
	PublishOrderCancelled(order models.Order) error
}

type OrderService struct {
	DB     DBLayer
	Ledger Ledger
	Holds  HoldStore
	Kafka  KafkaPublisher
	Logger *logger.Logger
}

func NewOrderService(dbLayer DBLayer, ledger Ledger, holds HoldStore, kafka KafkaPublisher, log *logger.Logger) *OrderService {
	return &OrderService{DB: dbLayer, Ledger: ledger, Holds: holds, Kafka: kafka, Logger: log}
}

// CreateRequest carries only what the client may influence. Unit prices are
// re-derived from the variant catalog.
type CreateRequest struct {
	CartID         string
	Provider       string
	Items          []ItemRequest
	DiscountCents  int64
	ShippingCents  int64
	CouponCode     string
	Email          string
	ShippingName   string
	ShippingStreet string
	ShippingCity   string
	ShippingState  string
	ShippingZip    string
	Country        string
}

type ItemRequest struct {
	VariantID string
	Quantity  int
}

// Create reserves stock for every item and inserts the order atomically.
// The cart id doubles as the idempotency key: on a uniqueness conflict the
// reservations taken by this attempt are released and the existing order is
// returned with alreadyExists = true.
func (s *OrderService) Create(ctx context.Context, req CreateRequest) (*models.Order, bool, error) {
	variants, err := s.Ledger.GetVariants(ctx, variantIDs(req.Items))
	if err != nil {
		return nil, false, fmt.Errorf("load variants: %w", err)
	}
	priceByVariant := make(map[string]int64, len(variants))
	for _, v := range variants {
		priceByVariant[v.VariantID] = v.PriceCents
	}

	var subtotal int64
	items := make([]models.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		price, ok := priceByVariant[item.VariantID]
		if !ok {
			return nil, false, fmt.Errorf("%w: %s", ErrUnknownVariant, item.VariantID)
		}
		lineTotal := price * int64(item.Quantity)
		subtotal += lineTotal
		items = append(items, models.OrderItem{
			ID:             uuid.NewString(),
			VariantID:      item.VariantID,
			Quantity:       item.Quantity,
			UnitPriceCents: price,
			TotalCents:     lineTotal,
		})
	}

	// Reserve item by item; on any failure release what this attempt took.
	reserved := make([]models.OrderItem, 0, len(items))
	for _, item := range items {
		ok, err := s.Ledger.Reserve(ctx, item.VariantID, item.Quantity)
		if err != nil {
			s.releaseItems(ctx, reserved)
			return nil, false, fmt.Errorf("reserve %s: %w", item.VariantID, err)
		}
		if !ok {
			s.releaseItems(ctx, reserved)
			return nil, false, fmt.Errorf("%w for variant %s", ErrInsufficientStock, item.VariantID)
		}
		reserved = append(reserved, item)
	}

	now := time.Now().UTC()
	order := &models.Order{
		ID:              uuid.NewString(),
		OrderNumber:     fmt.Sprintf("CHK-%d", now.UnixMilli()),
		IdempotencyKey:  req.CartID,
		Status:          models.StatusPending,
		Provider:        req.Provider,
		SubtotalCents:   subtotal,
		ShippingCents:   req.ShippingCents,
		DiscountCents:   req.DiscountCents,
		TotalCents:      subtotal + req.ShippingCents - req.DiscountCents,
		CouponCode:      req.CouponCode,
		CustomerEmail:   req.Email,
		ShippingName:    req.ShippingName,
		ShippingStreet:  req.ShippingStreet,
		ShippingCity:    req.ShippingCity,
		ShippingState:   req.ShippingState,
		ShippingZip:     req.ShippingZip,
		ShippingCountry: req.Country,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for i := range items {
		items[i].OrderID = order.ID
	}

	if err := s.DB.CreateOrder(ctx, order, items); err != nil {
		s.releaseItems(ctx, reserved)
		if errors.Is(err, db.ErrDuplicateKey) {
			existing, lookupErr := s.DB.GetOrderByIdempotencyKey(ctx, req.CartID)
			if lookupErr != nil {
				return nil, false, fmt.Errorf("fetch existing order for cart %s: %w", req.CartID, lookupErr)
			}
			s.Logger.LogOrder("CREATE", existing.ID, "idempotency key collision, returning existing order")
			return existing, true, nil
		}
		return nil, false, err
	}

	if err := s.Holds.HoldOrder(ctx, order.ID); err != nil {
		s.Logger.Warn("ORDER", fmt.Sprintf("Failed to set hold key for order %s: %v", order.ID, err))
	}

	if err := s.Kafka.PublishOrderCreated(*order); err != nil {
		s.Logger.Warn("KAFKA", fmt.Sprintf("Failed to publish order created event: %v", err))
	}

	s.Logger.LogOrder("CREATE", order.ID, fmt.Sprintf("order %s created for cart %s", order.OrderNumber, req.CartID))
	return order, false, nil
}

func (s *OrderService) Get(ctx context.Context, id string) (*models.Order, error) {
	return s.DB.GetOrderByID(ctx, id)
}

func (s *OrderService) GetByCart(ctx context.Context, cartID string) (*models.Order, error) {
	return s.DB.GetOrderByIdempotencyKey(ctx, cartID)
}

// PaidResult reports which effects of MarkPaid actually landed.
type PaidResult struct {
	StatusChanged   bool
	PaymentInserted bool
}

// MarkPaid applies the success-event effects: monotonic status transition,
// payment upsert, customer aggregates and coupon counter. Every step is
// idempotent, so replays and reconciliation reruns are safe.
func (s *OrderService) MarkPaid(ctx context.Context, orderID, provider, transactionID string, amountCents int64, eventNote, targetStatus string) (PaidResult, error) {
	var result PaidResult

	order, err := s.DB.GetOrderByID(ctx, orderID)
	if err != nil {
		return result, fmt.Errorf("order %s not found: %w", orderID, err)
	}

	changed, err := s.DB.TransitionStatus(ctx, orderID, targetStatus, AllowedFrom(targetStatus))
	if err != nil {
		return result, err
	}
	result.StatusChanged = changed

	if err := s.DB.UpdatePaymentRef(ctx, orderID, transactionID, eventNote); err != nil {
		return result, err
	}

	if amountCents == 0 {
		amountCents = order.TotalCents
	}
	inserted, err := s.DB.UpsertPayment(ctx, &models.Payment{
		ID:            uuid.NewString(),
		OrderID:       orderID,
		Provider:      provider,
		TransactionID: transactionID,
		AmountCents:   amountCents,
		Status:        targetStatus,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		return result, err
	}
	result.PaymentInserted = inserted

	// One-time side effects ride on the payment insert, not the transition:
	// a reconciler run after a webhook must not double-count.
	if inserted {
		if order.CustomerEmail != "" {
			if err := s.DB.BumpCustomerStats(ctx, order.CustomerEmail, amountCents); err != nil {
				s.Logger.Error("ORDER", fmt.Sprintf("Failed to bump customer stats for %s: %v", order.CustomerEmail, err))
			}
		}
		if order.CouponCode != "" {
			if err := s.DB.IncrementCouponUsage(ctx, order.CouponCode); err != nil {
				s.Logger.Error("ORDER", fmt.Sprintf("Failed to increment coupon %s: %v", order.CouponCode, err))
			}
		}
	}

	if changed {
		order.Status = targetStatus
		if err := s.Holds.ReleaseHold(ctx, orderID); err != nil {
			s.Logger.Warn("ORDER", fmt.Sprintf("Failed to release hold for order %s: %v", orderID, err))
		}
		if err := s.Kafka.PublishOrderPaid(*order); err != nil {
			s.Logger.Warn("KAFKA", fmt.Sprintf("Failed to publish order paid event: %v", err))
		}
		s.Logger.LogOrder("PAID", orderID, fmt.Sprintf("status advanced to %s via %s", targetStatus, provider))
	}

	return result, nil
}

// MarkFailed cancels the order and compensates its reservations. The status
// transition is the serialization point: inventory is released only by the
// caller that actually moved the order into cancelled.
func (s *OrderService) MarkFailed(ctx context.Context, orderID, note string) (bool, error) {
	changed, err := s.DB.TransitionStatus(ctx, orderID, models.StatusCancelled, AllowedFrom(models.StatusCancelled))
	if err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}

	if err := s.DB.UpdatePaymentRef(ctx, orderID, "", note); err != nil {
		s.Logger.Error("ORDER", fmt.Sprintf("Failed to record failure note on order %s: %v", orderID, err))
	}

	items, err := s.DB.GetItemsByOrder(ctx, orderID)
	if err != nil {
		return true, fmt.Errorf("load items for cancelled order %s: %w", orderID, err)
	}
	s.releaseItems(ctx, items)

	if err := s.Holds.ReleaseHold(ctx, orderID); err != nil {
		s.Logger.Warn("ORDER", fmt.Sprintf("Failed to release hold for order %s: %v", orderID, err))
	}

	order, err := s.DB.GetOrderByID(ctx, orderID)
	if err == nil {
		if err := s.Kafka.PublishOrderCancelled(*order); err != nil {
			s.Logger.Warn("KAFKA", fmt.Sprintf("Failed to publish order cancelled event: %v", err))
		}
	}

	s.Logger.LogOrder("CANCEL", orderID, note)
	return true, nil
}

// Advance applies a pure status transition (shipping/delivery events).
func (s *OrderService) Advance(ctx context.Context, orderID, targetStatus, note string) (bool, error) {
	if !ValidStatus(targetStatus) {
		return false, fmt.Errorf("unknown status %q", targetStatus)
	}
	changed, err := s.DB.TransitionStatus(ctx, orderID, targetStatus, AllowedFrom(targetStatus))
	if err != nil {
		return false, err
	}
	if changed && note != "" {
		if err := s.DB.UpdatePaymentRef(ctx, orderID, "", note); err != nil {
			s.Logger.Error("ORDER", fmt.Sprintf("Failed to record event note on order %s: %v", orderID, err))
		}
	}
	return changed, nil
}

// DeleteOrderTest is the test-only compensating delete: stock goes back,
// then the order with its items and payments is removed.
func (s *OrderService) DeleteOrderTest(ctx context.Context, orderID string) error {
	items, err := s.DB.DeleteOrderCascade(ctx, orderID)
	if err != nil {
		return err
	}
	s.releaseItems(ctx, items)
	if err := s.Holds.ReleaseHold(ctx, orderID); err != nil {
		s.Logger.Warn("ORDER", fmt.Sprintf("Failed to release hold for deleted order %s: %v", orderID, err))
	}
	s.Logger.LogOrder("DELETE", orderID, "order removed and reservations compensated (test tooling)")
	return nil
}

func (s *OrderService) releaseItems(ctx context.Context, items []models.OrderItem) {
	for _, item := range items {
		if err := s.Ledger.Release(ctx, item.VariantID, item.Quantity); err != nil {
			s.Logger.Error("INVENTORY", fmt.Sprintf("Failed to release %d x %s: %v", item.Quantity, item.VariantID, err))
		}
	}
}

func variantIDs(items []ItemRequest) []string {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.VariantID
	}
	return ids
}
