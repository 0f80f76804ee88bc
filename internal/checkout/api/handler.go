package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"ms-checkout/internal/auth"
	"ms-checkout/internal/checkout"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
	"ms-checkout/internal/order"

	"github.com/google/uuid"
)

// Handler exposes the checkout router over HTTP.
type Handler struct {
	Service *checkout.Service
	Logger  *logger.Logger
}

func NewHandler(service *checkout.Service, log *logger.Logger) *Handler {
	return &Handler{Service: service, Logger: log}
}

// Checkout handles POST /api/checkout. The body carries a route discriminator
// and the handler maps domain errors onto HTTP statuses.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req models.CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}

	resp, err := h.Service.Handle(r.Context(), req)
	if err != nil {
		h.mapError(w, err, req.RequestID)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// UpdateSettings handles POST /api/checkout/settings (admin only).
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req models.SettingsUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}

	actor := auth.UserID(r.Context())
	if actor == "" {
		actor = "unknown"
	}

	settings, err := h.Service.UpdateSettings(r.Context(), req, actor)
	if err != nil {
		h.mapError(w, err, req.RequestID)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"settings": settings,
	})
}

// GetSettings handles GET /api/checkout/settings (admin only).
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.Service.Settings.Get(r.Context())
	if err != nil {
		h.mapError(w, err, "")
		return
	}
	h.writeJSON(w, http.StatusOK, settings)
}

func (h *Handler) mapError(w http.ResponseWriter, err error, requestID string) {
	var validationErr *checkout.ValidationError
	var upstreamErr *checkout.UpstreamError

	switch {
	case errors.As(err, &validationErr):
		h.writeError(w, http.StatusBadRequest, validationErr.Msg, requestID)
	case errors.Is(err, order.ErrInsufficientStock):
		h.writeError(w, http.StatusConflict, err.Error(), requestID)
	case errors.Is(err, order.ErrUnknownVariant):
		h.writeError(w, http.StatusBadRequest, err.Error(), requestID)
	case errors.As(err, &upstreamErr):
		h.Logger.Error("CHECKOUT", fmt.Sprintf("upstream %s failure: %v", upstreamErr.Provider, upstreamErr.Err))
		h.writeError(w, http.StatusBadGateway, fmt.Sprintf("payment provider %s is unavailable", upstreamErr.Provider), requestID)
	case errors.Is(err, context.DeadlineExceeded):
		h.writeError(w, http.StatusGatewayTimeout, "checkout timed out", requestID)
	default:
		correlationID := uuid.NewString()
		h.Logger.Error("CHECKOUT", fmt.Sprintf("internal error [%s]: %v", correlationID, err))
		h.writeError(w, http.StatusInternalServerError, fmt.Sprintf("internal error, correlation id %s", correlationID), requestID)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, requestID string) {
	h.writeJSON(w, status, models.CheckoutResponse{
		Success:   false,
		Error:     message,
		RequestID: requestID,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.Logger.Error("CHECKOUT", fmt.Sprintf("Failed to encode response: %v", err))
	}
}
