package sweeper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
	"ms-checkout/internal/order"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
)

// UpstreamCanceller voids the provider-side payment session for an expired
// order. Failures are logged and never block the sweep: the conditional
// cancel transition is the source of truth, the provider call is courtesy.
type UpstreamCanceller interface {
	CancelSession(ctx context.Context, ord *models.Order) error
}

// Sweeper reclaims reservations held by stale pending orders.
type Sweeper struct {
	Orders     *order.OrderService
	Cancellers map[string]UpstreamCanceller
	TTL        time.Duration
	Logger     *logger.Logger
}

func NewSweeper(orders *order.OrderService, cancellers map[string]UpstreamCanceller, ttl time.Duration, log *logger.Logger) *Sweeper {
	return &Sweeper{Orders: orders, Cancellers: cancellers, TTL: ttl, Logger: log}
}

// Run scans for pending orders older than the reservation TTL and sweeps each
// one. Concurrent runs are safe: the cancel transition is conditional, so only
// one sweeper actually releases a given order's stock.
func (s *Sweeper) Run(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.TTL)
	stale, err := s.Orders.DB.ListStalePending(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stale pending orders: %w", err)
	}

	swept := 0
	for i := range stale {
		ok, err := s.sweep(ctx, &stale[i])
		if err != nil {
			s.Logger.Error("SWEEPER", fmt.Sprintf("Failed to sweep order %s: %v", stale[i].ID, err))
			continue
		}
		if ok {
			swept++
		}
	}

	if swept > 0 {
		s.Logger.Info("SWEEPER", fmt.Sprintf("released reservations for %d expired order(s)", swept))
	}
	return swept, nil
}

// SweepOrder handles a single hold expiry notification.
func (s *Sweeper) SweepOrder(ctx context.Context, orderID string) (bool, error) {
	ord, err := s.Orders.Get(ctx, orderID)
	if err != nil {
		return false, fmt.Errorf("order %s not found: %w", orderID, err)
	}
	if ord.Status != models.StatusPending {
		return false, nil
	}
	return s.sweep(ctx, ord)
}

func (s *Sweeper) sweep(ctx context.Context, ord *models.Order) (bool, error) {
	if canceller, ok := s.Cancellers[ord.Provider]; ok && ord.TransactionID != "" {
		if err := canceller.CancelSession(ctx, ord); err != nil {
			s.Logger.Warn("SWEEPER", fmt.Sprintf("Upstream cancel failed for order %s (%s): %v", ord.ID, ord.Provider, err))
		}
	}

	changed, err := s.Orders.MarkFailed(ctx, ord.ID, "reservation hold expired")
	if err != nil {
		return false, err
	}
	return changed, nil
}

// Start runs the periodic safety-net scan until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Run(ctx); err != nil {
				s.Logger.Error("SWEEPER", fmt.Sprintf("Sweep run failed: %v", err))
			}
		}
	}
}

// ---------------- UPSTREAM CANCELLERS ----------------

// StripeCanceller voids the payment intent created at session time.
type StripeCanceller struct{}

func (StripeCanceller) CancelSession(ctx context.Context, ord *models.Order) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	_, err := paymentintent.Cancel(ord.TransactionID, params)
	return err
}

// AppmaxCanceller cancels the Appmax-side order over HTTP.
type AppmaxCanceller struct {
	APIURL string
	APIKey string
	Client *http.Client
}

func (c *AppmaxCanceller) CancelSession(ctx context.Context, ord *models.Order) error {
	body, _ := json.Marshal(map[string]string{
		"access-token": c.APIKey,
		"order_id":     ord.TransactionID,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIURL+"/refund", bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("appmax cancel returned status %d", resp.StatusCode)
	}
	return nil
}
