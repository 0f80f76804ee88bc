package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
	"ms-checkout/internal/order"
)

var (
	// ErrUnsupported marks orders whose provider has no queryable
	// order-of-record API.
	ErrUnsupported = errors.New("provider does not support reconciliation")

	// ErrNoTransaction marks orders that never reached the provider: there is
	// nothing to reconcile against.
	ErrNoTransaction = errors.New("order has no provider transaction id")
)

// StatusFetcher queries the provider of record for a transaction's current
// status.
type StatusFetcher interface {
	FetchStatus(ctx context.Context, transactionID string) (string, error)
}

// Result is what a reconciliation run observed and did.
type Result struct {
	OrderID        string `json:"order_id"`
	PreviousStatus string `json:"previous_status"`
	NewStatus      string `json:"new_status"`
	ProviderStatus string `json:"provider_status"`
	PaymentSynced  bool   `json:"payment_synced"`
}

// Reconciler replays the provider's view of a payment onto the local order.
// All effects go through the same idempotent order-service paths as webhooks,
// so running it after (or racing with) a webhook changes nothing twice.
type Reconciler struct {
	Orders  *order.OrderService
	Fetcher StatusFetcher
	Logger  *logger.Logger
}

func NewReconciler(orders *order.OrderService, fetcher StatusFetcher, log *logger.Logger) *Reconciler {
	return &Reconciler{Orders: orders, Fetcher: fetcher, Logger: log}
}

// Reconcile queries the provider of record for one order and converges the
// local status. Appmax is the only provider with a queryable order API.
func (r *Reconciler) Reconcile(ctx context.Context, orderID string) (*Result, error) {
	ord, err := r.Orders.Get(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("order %s not found: %w", orderID, err)
	}
	if ord.Provider != models.ProviderAppmax {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, ord.Provider)
	}
	if ord.TransactionID == "" {
		return nil, ErrNoTransaction
	}

	providerStatus, err := r.Fetcher.FetchStatus(ctx, ord.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("fetch provider status for %s: %w", ord.TransactionID, err)
	}

	result := &Result{
		OrderID:        ord.ID,
		PreviousStatus: ord.Status,
		NewStatus:      ord.Status,
		ProviderStatus: providerStatus,
	}

	switch strings.ToLower(providerStatus) {
	case "aprovado", "approved", "pago", "paid":
		res, err := r.Orders.MarkPaid(ctx, ord.ID, models.ProviderAppmax, ord.TransactionID, 0, "reconcile:"+providerStatus, models.StatusPaid)
		if err != nil {
			return nil, err
		}
		result.PaymentSynced = res.PaymentInserted
		if res.StatusChanged {
			result.NewStatus = models.StatusPaid
		}
	case "cancelado", "cancelled", "canceled", "estornado", "refunded":
		changed, err := r.Orders.MarkFailed(ctx, ord.ID, "reconcile:"+providerStatus)
		if err != nil {
			return nil, err
		}
		if changed {
			result.NewStatus = models.StatusCancelled
		}
	default:
		// Pending on the provider side too; observe, don't mutate.
	}

	r.Logger.LogOrder("RECONCILE", ord.ID, fmt.Sprintf("provider=%s status=%s local %s -> %s", ord.Provider, providerStatus, result.PreviousStatus, result.NewStatus))
	return result, nil
}

// AppmaxClient fetches order status from the Appmax API.
type AppmaxClient struct {
	APIURL string
	APIKey string
	Client *http.Client
}

func (c *AppmaxClient) FetchStatus(ctx context.Context, transactionID string) (string, error) {
	body, _ := json.Marshal(map[string]string{"access-token": c.APIKey})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIURL+"/order/"+transactionID, bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("appmax order lookup returned status %d", resp.StatusCode)
	}

	var payload struct {
		Data struct {
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	return payload.Data.Status, nil
}
