package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"ms-checkout/internal/models"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
)

// SessionCreator turns an order into a provider payment session. The unified
// result tells the client whether to render an embedded form or redirect to a
// provider-hosted page.
type SessionCreator interface {
	CreateSession(ctx context.Context, order *models.Order, settings *models.CheckoutSettings) (*models.GatewaySession, error)
}

// ---------------- STRIPE ----------------

// InitStripe wires the API key into the stripe-go package globals.
func InitStripe(secretKey string) {
	stripe.Key = secretKey
}

// StripeGateway creates embedded payment intents. Stripe is internal-channel
// only, so the action is always render.
type StripeGateway struct{}

func (g *StripeGateway) CreateSession(ctx context.Context, order *models.Order, settings *models.CheckoutSettings) (*models.GatewaySession, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(order.TotalCents),
		Currency: stripe.String("brl"),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata("order_id", order.ID)

	intent, err := paymentintent.New(params)
	if err != nil {
		return nil, &UpstreamError{Provider: models.ProviderStripe, Err: err}
	}

	return &models.GatewaySession{
		Action:        models.ActionRender,
		ClientSecret:  intent.ClientSecret,
		TransactionID: intent.ID,
	}, nil
}

// ---------------- YAMPI ----------------

// YampiGateway creates hosted checkout sessions: the client is redirected to
// a Yampi-owned page.
type YampiGateway struct {
	APIURL string
	Secret string
	Client *http.Client
}

type yampiSessionResponse struct {
	CheckoutURL   string `json:"checkout_url"`
	TransactionID string `json:"transaction_id"`
}

func (g *YampiGateway) CreateSession(ctx context.Context, order *models.Order, settings *models.CheckoutSettings) (*models.GatewaySession, error) {
	body, _ := json.Marshal(map[string]interface{}{
		"reference":    order.ID,
		"order_number": order.OrderNumber,
		"amount_cents": order.TotalCents,
		"email":        order.CustomerEmail,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.APIURL+"/checkout/sessions", bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.Secret)

	resp, err := g.Client.Do(req)
	if err != nil {
		return nil, &UpstreamError{Provider: models.ProviderYampi, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, &UpstreamError{Provider: models.ProviderYampi, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var session yampiSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, &UpstreamError{Provider: models.ProviderYampi, Err: err}
	}

	return &models.GatewaySession{
		Action:        models.ActionRedirect,
		RedirectURL:   session.CheckoutURL,
		TransactionID: session.TransactionID,
	}, nil
}

// ---------------- APPMAX ----------------

// AppmaxGateway supports both channels: internal renders a transparent form
// against the created Appmax order, external redirects to the hosted page.
type AppmaxGateway struct {
	APIURL string
	APIKey string
	Client *http.Client
}

type appmaxOrderResponse struct {
	Data struct {
		ID          string `json:"id"`
		PaymentURL  string `json:"payment_url"`
		AccessToken string `json:"access_token"`
	} `json:"data"`
}

func (g *AppmaxGateway) CreateSession(ctx context.Context, order *models.Order, settings *models.CheckoutSettings) (*models.GatewaySession, error) {
	body, _ := json.Marshal(map[string]interface{}{
		"access-token": g.APIKey,
		"external_id":  order.ID,
		"total":        order.TotalCents,
		"customer": map[string]string{
			"email": order.CustomerEmail,
		},
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.APIURL+"/order", bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.Client.Do(req)
	if err != nil {
		return nil, &UpstreamError{Provider: models.ProviderAppmax, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, &UpstreamError{Provider: models.ProviderAppmax, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var created appmaxOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, &UpstreamError{Provider: models.ProviderAppmax, Err: err}
	}

	session := &models.GatewaySession{TransactionID: created.Data.ID}
	if settings.Channel == models.ChannelExternal {
		session.Action = models.ActionRedirect
		session.RedirectURL = created.Data.PaymentURL
	} else {
		session.Action = models.ActionRender
		session.ClientSecret = created.Data.AccessToken
	}
	return session, nil
}
