package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ms-checkout/internal/logger"
	"ms-checkout/internal/order"
	"ms-checkout/internal/reconcile"
	"ms-checkout/internal/sweeper"
)

// Commerce actions accepted by the admin endpoint.
const (
	ActionReleaseReservations = "release_reservations"
	ActionReconcileStale      = "reconcile_stale"
	ActionDeleteOrderTest     = "delete_order_test"
)

// Handler bundles the operational actions behind one admin-gated endpoint.
type Handler struct {
	Orders     *order.OrderService
	Sweeper    *sweeper.Sweeper
	Reconciler *reconcile.Reconciler
	Logger     *logger.Logger
}

func NewHandler(orders *order.OrderService, sw *sweeper.Sweeper, rec *reconcile.Reconciler, log *logger.Logger) *Handler {
	return &Handler{Orders: orders, Sweeper: sw, Reconciler: rec, Logger: log}
}

type commerceRequest struct {
	Action  string `json:"action"`
	OrderID string `json:"order_id,omitempty"`
}

// Commerce handles POST /api/admin/commerce.
func (h *Handler) Commerce(w http.ResponseWriter, r *http.Request) {
	var req commerceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "invalid request body"})
		return
	}

	switch req.Action {
	case ActionReleaseReservations:
		h.releaseReservations(w, r)
	case ActionReconcileStale:
		h.reconcileStale(w, r)
	case ActionDeleteOrderTest:
		h.deleteOrderTest(w, r, req.OrderID)
	default:
		h.writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": fmt.Sprintf("unknown action %q", req.Action)})
	}
}

func (h *Handler) releaseReservations(w http.ResponseWriter, r *http.Request) {
	swept, err := h.Sweeper.Run(r.Context())
	if err != nil {
		h.Logger.Error("ADMIN", fmt.Sprintf("release_reservations failed: %v", err))
		h.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": "sweep failed"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"released": swept,
	})
}

// reconcileStale walks every stale pending order that reached a provider and
// asks the provider of record where it ended up.
func (h *Handler) reconcileStale(w http.ResponseWriter, r *http.Request) {
	cutoff := time.Now().UTC().Add(-h.Sweeper.TTL)
	stale, err := h.Orders.DB.ListStalePending(r.Context(), cutoff)
	if err != nil {
		h.Logger.Error("ADMIN", fmt.Sprintf("reconcile_stale listing failed: %v", err))
		h.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": "listing stale orders failed"})
		return
	}

	reconciled, failed, skipped := 0, 0, 0
	for _, ord := range stale {
		if ord.TransactionID == "" {
			skipped++
			continue
		}
		if _, err := h.Reconciler.Reconcile(r.Context(), ord.ID); err != nil {
			h.Logger.Warn("ADMIN", fmt.Sprintf("reconcile_stale: order %s: %v", ord.ID, err))
			failed++
			continue
		}
		reconciled++
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"reconciled": reconciled,
		"failed":     failed,
		"skipped":    skipped,
	})
}

func (h *Handler) deleteOrderTest(w http.ResponseWriter, r *http.Request, orderID string) {
	if orderID == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "delete_order_test requires order_id"})
		return
	}
	if err := h.Orders.DeleteOrderTest(r.Context(), orderID); err != nil {
		h.Logger.Error("ADMIN", fmt.Sprintf("delete_order_test failed for %s: %v", orderID, err))
		h.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": "delete failed"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"order_id": orderID,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.Logger.Error("ADMIN", fmt.Sprintf("Failed to encode response: %v", err))
	}
}
