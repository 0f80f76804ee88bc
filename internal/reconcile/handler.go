package reconcile

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"ms-checkout/internal/logger"

	"github.com/google/uuid"
)

// Handler exposes on-demand reconciliation over HTTP. The route sits behind
// the auth middleware; service tokens and admin users both qualify.
type Handler struct {
	Reconciler *Reconciler
	Logger     *logger.Logger
}

func NewHandler(reconciler *Reconciler, log *logger.Logger) *Handler {
	return &Handler{Reconciler: reconciler, Logger: log}
}

// Reconcile handles POST /api/reconcile.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	correlationID := uuid.NewString()

	var req struct {
		OrderID string `json:"order_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderID == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"ok":             false,
			"error":          "order_id is required",
			"correlation_id": correlationID,
		})
		return
	}

	result, err := h.Reconciler.Reconcile(r.Context(), req.OrderID)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, ErrUnsupported), errors.Is(err, ErrNoTransaction):
			status = http.StatusUnprocessableEntity
		}
		h.Logger.Error("RECONCILE", fmt.Sprintf("[%s] order %s: %v", correlationID, req.OrderID, err))
		h.writeJSON(w, status, map[string]interface{}{
			"ok":             false,
			"error":          err.Error(),
			"correlation_id": correlationID,
		})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":              true,
		"order_id":        result.OrderID,
		"previous_status": result.PreviousStatus,
		"new_status":      result.NewStatus,
		"provider_status": result.ProviderStatus,
		"payment_synced":  result.PaymentSynced,
		"correlation_id":  correlationID,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.Logger.Error("RECONCILE", fmt.Sprintf("Failed to encode response: %v", err))
	}
}
