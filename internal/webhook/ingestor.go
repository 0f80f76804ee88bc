package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
	"ms-checkout/internal/order"
	"ms-checkout/internal/order/db"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
)

// WebhookError distinguishes client problems (bad payloads, unknown orders)
// from processing failures so the handler can pick the right status code.
type WebhookError struct {
	Code    int
	Message string
}

func (e *WebhookError) Error() string {
	return e.Message
}

// EventStore is the slice of the order db layer the ingestor needs.
type EventStore interface {
	InsertEvent(ctx context.Context, event *models.OrderEvent) error
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
}

// Ingestor applies verified provider events to orders. Deduplication by event
// hash happens before any mutation, so redelivered events are pure no-ops.
type Ingestor struct {
	Events EventStore
	Orders *order.OrderService
	Logger *logger.Logger
}

func NewIngestor(events EventStore, orders *order.OrderService, log *logger.Logger) *Ingestor {
	return &Ingestor{Events: events, Orders: orders, Logger: log}
}

// Result reports what a single delivery did.
type Result struct {
	Duplicate       bool   `json:"duplicate,omitempty"`
	OrderID         string `json:"order_id,omitempty"`
	Status          string `json:"status,omitempty"`
	StatusChanged   bool   `json:"status_changed"`
	PaymentInserted bool   `json:"payment_inserted,omitempty"`
	Ignored         bool   `json:"ignored,omitempty"`
}

// statusForEvent maps a normalized provider event type onto a target order
// status. Unknown types map to "" and are acknowledged without effect.
func statusForEvent(provider, eventType string) string {
	switch provider {
	case models.ProviderStripe:
		switch eventType {
		case "payment_intent.processing":
			return models.StatusProcessing
		case "payment_intent.succeeded":
			return models.StatusPaid
		case "payment_intent.payment_failed", "payment_intent.canceled":
			return models.StatusCancelled
		}
	case models.ProviderYampi:
		switch eventType {
		case "order.paid":
			return models.StatusPaid
		case "order.created":
			return models.StatusProcessing
		case "order.cancelled", "order.refused":
			return models.StatusCancelled
		case "order.shipped":
			return models.StatusShipped
		case "order.delivered":
			return models.StatusDelivered
		}
	case models.ProviderAppmax:
		switch eventType {
		case "OrderApproved", "OrderPaid", "OrderPaidByPix":
			return models.StatusPaid
		case "OrderAuthorized", "PendingIntegration":
			return models.StatusProcessing
		case "PaymentNotAuthorized", "OrderRefund", "ChargebackDispute":
			// Declined or reversed: cancel and hand the reservation back.
			// ChargebackWon is deliberately unmapped; a dispute resolved in
			// the merchant's favor leaves the payment standing.
			return models.StatusCancelled
		}
	}
	return ""
}

// Ingest deduplicates and applies one normalized event.
func (i *Ingestor) Ingest(ctx context.Context, event models.ProviderEvent) (*Result, error) {
	record := &models.OrderEvent{
		ID:         uuid.NewString(),
		EventHash:  models.EventHash(event.Type, event.Reference, event.Raw),
		Provider:   event.Provider,
		EventType:  event.Type,
		Reference:  event.Reference,
		Payload:    string(event.Raw),
		OrderID:    event.OrderID,
		ReceivedAt: time.Now().UTC(),
	}
	if err := i.Events.InsertEvent(ctx, record); err != nil {
		if errors.Is(err, db.ErrDuplicateEvent) {
			i.Logger.LogWebhook(event.Provider, event.Type, "duplicate delivery ignored")
			return &Result{Duplicate: true}, nil
		}
		return nil, err
	}

	target := statusForEvent(event.Provider, event.Type)
	if target == "" {
		i.Logger.LogWebhook(event.Provider, event.Type, "unmapped event type acknowledged")
		return &Result{Ignored: true}, nil
	}

	ord, err := i.resolveOrder(ctx, event)
	if err != nil {
		return nil, err
	}

	note := fmt.Sprintf("%s:%s", event.Provider, event.Type)
	switch target {
	case models.StatusCancelled:
		changed, err := i.Orders.MarkFailed(ctx, ord.ID, note)
		if err != nil {
			return nil, err
		}
		return &Result{OrderID: ord.ID, Status: target, StatusChanged: changed}, nil
	case models.StatusProcessing, models.StatusPaid:
		res, err := i.Orders.MarkPaid(ctx, ord.ID, event.Provider, event.TransactionID, event.AmountCents, note, target)
		if err != nil {
			return nil, err
		}
		return &Result{
			OrderID:         ord.ID,
			Status:          target,
			StatusChanged:   res.StatusChanged,
			PaymentInserted: res.PaymentInserted,
		}, nil
	default:
		changed, err := i.Orders.Advance(ctx, ord.ID, target, note)
		if err != nil {
			return nil, err
		}
		return &Result{OrderID: ord.ID, Status: target, StatusChanged: changed}, nil
	}
}

func (i *Ingestor) resolveOrder(ctx context.Context, event models.ProviderEvent) (*models.Order, error) {
	if event.OrderID != "" {
		if ord, err := i.Events.GetOrderByID(ctx, event.OrderID); err == nil {
			return ord, nil
		}
	}
	return nil, &WebhookError{Code: 404, Message: fmt.Sprintf("no order for %s event %s (reference %s)", event.Provider, event.Type, event.Reference)}
}

// ---------------- PER-PROVIDER PARSING ----------------

// ParseStripe extracts the normalized event from a verified stripe event. The
// order id rides in the payment intent metadata set at session creation.
func ParseStripe(event stripe.Event) (models.ProviderEvent, error) {
	var intent struct {
		ID       string `json:"id"`
		Amount   int64  `json:"amount"`
		Metadata struct {
			OrderID string `json:"order_id"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return models.ProviderEvent{}, &WebhookError{Code: 400, Message: "malformed stripe event payload"}
	}
	return models.ProviderEvent{
		Provider:      models.ProviderStripe,
		Type:          string(event.Type),
		Reference:     intent.ID,
		OrderID:       intent.Metadata.OrderID,
		TransactionID: intent.ID,
		AmountCents:   intent.Amount,
		Raw:           event.Data.Raw,
	}, nil
}

// ParseYampi handles Yampi's envelope: the merchant reference we set at
// session creation comes back as resource.reference.
func ParseYampi(body []byte) (models.ProviderEvent, error) {
	var envelope struct {
		Event    string `json:"event"`
		Resource struct {
			Reference     string `json:"reference"`
			TransactionID string `json:"transaction_id"`
			TotalCents    int64  `json:"total_cents"`
		} `json:"resource"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Event == "" {
		return models.ProviderEvent{}, &WebhookError{Code: 400, Message: "malformed yampi event payload"}
	}
	return models.ProviderEvent{
		Provider:      models.ProviderYampi,
		Type:          envelope.Event,
		Reference:     envelope.Resource.Reference,
		OrderID:       envelope.Resource.Reference,
		TransactionID: envelope.Resource.TransactionID,
		AmountCents:   envelope.Resource.TotalCents,
		Raw:           body,
	}, nil
}

// ParseAppmax handles Appmax's envelope: external_id carries our order id,
// data.id the Appmax-side transaction.
func ParseAppmax(body []byte) (models.ProviderEvent, error) {
	var envelope struct {
		Event string `json:"event"`
		Data  struct {
			ID         string  `json:"id"`
			ExternalID string  `json:"external_id"`
			Total      float64 `json:"total"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Event == "" {
		return models.ProviderEvent{}, &WebhookError{Code: 400, Message: "malformed appmax event payload"}
	}
	return models.ProviderEvent{
		Provider:      models.ProviderAppmax,
		Type:          envelope.Event,
		Reference:     envelope.Data.ID,
		OrderID:       envelope.Data.ExternalID,
		TransactionID: envelope.Data.ID,
		AmountCents:   int64(envelope.Data.Total),
		Raw:           body,
	}, nil
}
