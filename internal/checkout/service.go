package checkout

import (
	"context"
	"fmt"
	"time"

	"ms-checkout/internal/config"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
	"ms-checkout/internal/order"

	"github.com/google/uuid"
)

// Routes accepted by the checkout endpoint.
const (
	RouteStart                = "start"
	RouteResolve              = "resolve"
	RouteCreateGatewaySession = "create_gateway_session"
)

// SettingsStore abstracts the singleton settings row so the service can be
// tested without a database.
type SettingsStore interface {
	Get(ctx context.Context) (*models.CheckoutSettings, error)
	Update(ctx context.Context, req models.SettingsUpdateRequest, actor string) (*models.CheckoutSettings, error)
}

// Service is the checkout router: it resolves the active provider settings,
// creates orders through the order service and hands the order to the right
// gateway for session creation.
type Service struct {
	Orders   *order.OrderService
	Settings SettingsStore
	Gateways map[string]SessionCreator
	Logger   *logger.Logger

	tokenSecret    []byte
	tokenTTL       time.Duration
	requestTimeout time.Duration
}

func NewService(orders *order.OrderService, settings SettingsStore, gateways map[string]SessionCreator, cfg config.CheckoutConfig, log *logger.Logger) *Service {
	return &Service{
		Orders:         orders,
		Settings:       settings,
		Gateways:       gateways,
		Logger:         log,
		tokenSecret:    []byte(cfg.TokenSecret),
		tokenTTL:       cfg.TokenTTL,
		requestTimeout: cfg.RequestTimeout,
	}
}

// Handle dispatches on the route discriminator. Every call runs under the
// router's request timeout so a slow provider cannot pin a connection.
func (s *Service) Handle(ctx context.Context, req models.CheckoutRequest) (*models.CheckoutResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()

	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	switch req.Route {
	case RouteStart:
		return s.start(ctx, req)
	case RouteResolve:
		return s.resolve(ctx, req)
	case RouteCreateGatewaySession:
		return s.createGatewaySession(ctx, req)
	default:
		return nil, &ValidationError{Msg: fmt.Sprintf("unknown route %q", req.Route)}
	}
}

// start creates the order under the active provider and immediately opens a
// gateway session for it, so a single round trip gets the client from cart to
// payable order.
func (s *Service) start(ctx context.Context, req models.CheckoutRequest) (*models.CheckoutResponse, error) {
	if err := validateStart(req); err != nil {
		return nil, err
	}

	settings, err := s.Settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load checkout settings: %w", err)
	}

	ord, existed, err := s.Orders.Create(ctx, toCreateRequest(req, settings.ActiveProvider))
	if err != nil {
		return nil, err
	}
	if existed {
		s.Logger.LogOrder("ROUTER", ord.ID, fmt.Sprintf("start replay for cart %s, request %s", req.CartID, req.RequestID))
		if ord.Status != models.StatusPending {
			// The order already moved past checkout; report state instead of
			// opening another payment session.
			token, err := OrderAccessToken(ord.ID, s.tokenSecret, s.tokenTTL)
			if err != nil {
				return nil, fmt.Errorf("mint order access token: %w", err)
			}
			return &models.CheckoutResponse{
				Success:          true,
				OrderID:          ord.ID,
				OrderNumber:      ord.OrderNumber,
				Status:           ord.Status,
				Provider:         ord.Provider,
				OrderAccessToken: token,
				RequestID:        req.RequestID,
			}, nil
		}
	}

	resp, err := s.sessionResponse(ctx, ord, settings)
	if err != nil {
		return nil, err
	}
	resp.RequestID = req.RequestID
	return resp, nil
}

// resolve returns the current state of the order behind a cart id without
// creating anything. Clients poll this after returning from a redirect.
func (s *Service) resolve(ctx context.Context, req models.CheckoutRequest) (*models.CheckoutResponse, error) {
	if req.CartID == "" && req.OrderID == "" {
		return nil, &ValidationError{Msg: "resolve requires cart_id or order_id"}
	}

	var (
		ord *models.Order
		err error
	)
	if req.OrderID != "" {
		ord, err = s.Orders.Get(ctx, req.OrderID)
	} else {
		ord, err = s.Orders.GetByCart(ctx, req.CartID)
	}
	if err != nil {
		return nil, &ValidationError{Msg: "order not found"}
	}

	token, err := OrderAccessToken(ord.ID, s.tokenSecret, s.tokenTTL)
	if err != nil {
		return nil, fmt.Errorf("mint order access token: %w", err)
	}

	return &models.CheckoutResponse{
		Success:          true,
		OrderID:          ord.ID,
		OrderNumber:      ord.OrderNumber,
		Status:           ord.Status,
		Provider:         ord.Provider,
		OrderAccessToken: token,
		RequestID:        req.RequestID,
	}, nil
}

// createGatewaySession opens a fresh provider session for an existing pending
// order, e.g. after the client abandoned the first payment form.
func (s *Service) createGatewaySession(ctx context.Context, req models.CheckoutRequest) (*models.CheckoutResponse, error) {
	if req.OrderID == "" {
		return nil, &ValidationError{Msg: "create_gateway_session requires order_id"}
	}

	ord, err := s.Orders.Get(ctx, req.OrderID)
	if err != nil {
		return nil, &ValidationError{Msg: "order not found"}
	}
	if ord.Status != models.StatusPending {
		return nil, &ValidationError{Msg: fmt.Sprintf("order %s is %s, sessions can only be created for pending orders", ord.ID, ord.Status)}
	}

	settings, err := s.Settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load checkout settings: %w", err)
	}

	resp, err := s.sessionResponse(ctx, ord, settings)
	if err != nil {
		return nil, err
	}
	resp.RequestID = req.RequestID
	return resp, nil
}

// UpdateSettings validates the provider/channel/experience combination and
// applies it through the audited singleton update.
func (s *Service) UpdateSettings(ctx context.Context, req models.SettingsUpdateRequest, actor string) (*models.CheckoutSettings, error) {
	if err := ValidateCombination(req.ActiveProvider, req.Channel, req.Experience); err != nil {
		return nil, err
	}
	if _, ok := s.Gateways[req.ActiveProvider]; !ok {
		return nil, &ValidationError{Msg: fmt.Sprintf("no gateway configured for provider %q", req.ActiveProvider)}
	}

	settings, err := s.Settings.Update(ctx, req, actor)
	if err != nil {
		return nil, err
	}
	s.Logger.LogSecurity("SETTINGS", fmt.Sprintf("checkout settings changed to %s/%s/%s by %s", settings.ActiveProvider, settings.Channel, settings.Experience, actor))
	return settings, nil
}

func (s *Service) sessionResponse(ctx context.Context, ord *models.Order, settings *models.CheckoutSettings) (*models.CheckoutResponse, error) {
	gateway, ok := s.Gateways[ord.Provider]
	if !ok {
		return nil, &ValidationError{Msg: fmt.Sprintf("no gateway configured for provider %q", ord.Provider)}
	}

	session, err := gateway.CreateSession(ctx, ord, settings)
	if err != nil {
		return nil, err
	}

	token, err := OrderAccessToken(ord.ID, s.tokenSecret, s.tokenTTL)
	if err != nil {
		return nil, fmt.Errorf("mint order access token: %w", err)
	}

	s.Logger.LogOrder("SESSION", ord.ID, fmt.Sprintf("%s session created, action=%s", ord.Provider, session.Action))
	return &models.CheckoutResponse{
		Success:          true,
		Action:           session.Action,
		OrderID:          ord.ID,
		OrderNumber:      ord.OrderNumber,
		Status:           ord.Status,
		Provider:         ord.Provider,
		OrderAccessToken: token,
		ClientSecret:     session.ClientSecret,
		RedirectURL:      session.RedirectURL,
	}, nil
}

func validateStart(req models.CheckoutRequest) error {
	if req.CartID == "" {
		return &ValidationError{Msg: "start requires cart_id"}
	}
	if len(req.Items) == 0 {
		return &ValidationError{Msg: "start requires at least one item"}
	}
	for _, item := range req.Items {
		if item.UnitPrice != nil {
			return &ValidationError{Msg: "unit_price is derived server-side and must not be supplied"}
		}
		if item.VariantID == "" {
			return &ValidationError{Msg: "every item requires a variant_id"}
		}
		if item.Quantity <= 0 {
			return &ValidationError{Msg: fmt.Sprintf("invalid quantity %d for variant %s", item.Quantity, item.VariantID)}
		}
	}
	if req.DiscountAmount < 0 || req.ShippingCost < 0 {
		return &ValidationError{Msg: "discount_amount and shipping_cost must not be negative"}
	}
	return nil
}

func toCreateRequest(req models.CheckoutRequest, provider string) order.CreateRequest {
	items := make([]order.ItemRequest, len(req.Items))
	for i, item := range req.Items {
		items[i] = order.ItemRequest{VariantID: item.VariantID, Quantity: item.Quantity}
	}
	return order.CreateRequest{
		CartID:         req.CartID,
		Provider:       provider,
		Items:          items,
		DiscountCents:  req.DiscountAmount,
		ShippingCents:  req.ShippingCost,
		CouponCode:     req.CouponCode,
		Email:          req.Email,
		ShippingName:   req.ShippingName,
		ShippingStreet: req.ShippingStreet,
		ShippingCity:   req.ShippingCity,
		ShippingState:  req.ShippingState,
		ShippingZip:    req.ShippingZip,
		Country:        req.ShippingCountry,
	}
}
