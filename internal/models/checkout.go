package models

// Checkout router actions returned to the client.
const (
	ActionRender   = "render"
	ActionRedirect = "redirect"
)

// CheckoutItem deliberately decodes unit_price so the router can reject
// requests that try to supply one: prices are always re-derived server-side.
type CheckoutItem struct {
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice *int64 `json:"unit_price,omitempty"`
}

type CheckoutRequest struct {
	Route          string         `json:"route"`
	CartID         string         `json:"cart_id"`
	OrderID        string         `json:"order_id,omitempty"`
	Items          []CheckoutItem `json:"items"`
	DiscountAmount int64          `json:"discount_amount,omitempty"`
	ShippingCost   int64          `json:"shipping_cost,omitempty"`
	CouponCode     string         `json:"coupon_code,omitempty"`
	Email          string         `json:"email,omitempty"`
	RequestID      string         `json:"request_id,omitempty"`

	ShippingName    string `json:"shipping_name,omitempty"`
	ShippingStreet  string `json:"shipping_street,omitempty"`
	ShippingCity    string `json:"shipping_city,omitempty"`
	ShippingState   string `json:"shipping_state,omitempty"`
	ShippingZip     string `json:"shipping_zip,omitempty"`
	ShippingCountry string `json:"shipping_country,omitempty"`
}

type CheckoutResponse struct {
	Success          bool   `json:"success"`
	Action           string `json:"action,omitempty"`
	OrderID          string `json:"order_id,omitempty"`
	OrderNumber      string `json:"order_number,omitempty"`
	Status           string `json:"status,omitempty"`
	Provider         string `json:"provider,omitempty"`
	OrderAccessToken string `json:"order_access_token,omitempty"`
	ClientSecret     string `json:"client_secret,omitempty"`
	RedirectURL      string `json:"redirect_url,omitempty"`
	RequestID        string `json:"request_id,omitempty"`
	Error            string `json:"error,omitempty"`
}

// GatewaySession is the unified result of provider-specific session creation.
type GatewaySession struct {
	Action        string
	ClientSecret  string
	RedirectURL   string
	TransactionID string
}

type SettingsUpdateRequest struct {
	ActiveProvider string `json:"active_provider"`
	Channel        string `json:"channel"`
	Experience     string `json:"experience"`
	Environment    string `json:"environment,omitempty"`
	ChangeReason   string `json:"change_reason,omitempty"`
	RequestID      string `json:"request_id,omitempty"`
}
