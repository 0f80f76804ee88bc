package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"ms-checkout/internal/config"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"

	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 20

// Handler terminates provider webhook deliveries: verify signature, parse,
// then hand off to the ingestor.
type Handler struct {
	Ingestor  *Ingestor
	Providers config.ProviderConfig
	Logger    *logger.Logger
}

func NewHandler(ingestor *Ingestor, providers config.ProviderConfig, log *logger.Logger) *Handler {
	return &Handler{Ingestor: ingestor, Providers: providers, Logger: log}
}

// Receive handles POST /api/webhooks/{provider}.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	if !knownProvider(provider) {
		h.writeJSON(w, http.StatusNotFound, map[string]interface{}{"error": fmt.Sprintf("unknown provider %q", provider)})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "unreadable body"})
		return
	}

	secret := h.Providers.WebhookSecret(provider)
	if secret == "" {
		// Fail closed: with no secret configured nothing can be verified.
		h.Logger.LogSecurity("WEBHOOK", fmt.Sprintf("no webhook secret configured for provider %q, rejecting delivery", provider))
		h.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": "webhook secret not configured"})
		return
	}

	event, err := h.verifyAndParse(r, provider, body, secret)
	if err != nil {
		var webhookErr *WebhookError
		switch {
		case errors.Is(err, ErrMissingSignature), errors.Is(err, ErrBadSignature):
			h.Logger.LogSecurity("WEBHOOK", fmt.Sprintf("rejected %s delivery: %v", provider, err))
			h.writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "invalid signature"})
		case errors.As(err, &webhookErr):
			h.writeJSON(w, webhookErr.Code, map[string]interface{}{"error": webhookErr.Message})
		default:
			h.writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": err.Error()})
		}
		return
	}

	result, err := h.Ingestor.Ingest(r.Context(), event)
	if err != nil {
		var webhookErr *WebhookError
		if errors.As(err, &webhookErr) {
			h.writeJSON(w, webhookErr.Code, map[string]interface{}{"error": webhookErr.Message})
			return
		}
		h.Logger.Error("WEBHOOK", fmt.Sprintf("Failed to process %s event %s: %v", provider, event.Type, err))
		h.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": "processing failed"})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"received": true,
		"result":   result,
	})
}

func (h *Handler) verifyAndParse(r *http.Request, provider string, body []byte, secret string) (models.ProviderEvent, error) {
	switch provider {
	case models.ProviderStripe:
		stripeEvent, err := VerifyStripe(body, r.Header.Get("Stripe-Signature"), secret)
		if err != nil {
			return models.ProviderEvent{}, err
		}
		return ParseStripe(stripeEvent)
	case models.ProviderYampi:
		if err := VerifyHMAC(body, r.Header.Get(SignatureHeader), secret); err != nil {
			return models.ProviderEvent{}, err
		}
		return ParseYampi(body)
	case models.ProviderAppmax:
		if err := VerifyHMAC(body, r.Header.Get(SignatureHeader), secret); err != nil {
			return models.ProviderEvent{}, err
		}
		return ParseAppmax(body)
	default:
		return models.ProviderEvent{}, &WebhookError{Code: 404, Message: fmt.Sprintf("unknown provider %q", provider)}
	}
}

func knownProvider(provider string) bool {
	switch provider {
	case models.ProviderStripe, models.ProviderYampi, models.ProviderAppmax:
		return true
	}
	return false
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.Logger.Error("WEBHOOK", fmt.Sprintf("Failed to encode response: %v", err))
	}
}
