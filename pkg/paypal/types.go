package paypal

// Order and capture statuses used by the platform.
const (
	OrderStatusCreated   = "CREATED"
	OrderStatusApproved  = "APPROVED"
	OrderStatusCompleted = "COMPLETED"

	CaptureStatusCompleted = "COMPLETED"
	CaptureStatusPending   = "PENDING"
	CaptureStatusDeclined  = "DECLINED"

	RefundStatusCompleted = "COMPLETED"
	RefundStatusPending   = "PENDING"
)

type Money struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type Link struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method,omitempty"`
}

type Capture struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount Money  `json:"amount"`
}

type PaymentCollection struct {
	Captures []Capture `json:"captures,omitempty"`
}

type PurchaseUnit struct {
	ReferenceID string             `json:"reference_id,omitempty"`
	CustomID    string             `json:"custom_id,omitempty"`
	InvoiceID   string             `json:"invoice_id,omitempty"`
	Description string             `json:"description,omitempty"`
	Amount      *Money             `json:"amount,omitempty"`
	Payments    *PaymentCollection `json:"payments,omitempty"`
}

type Order struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	PurchaseUnits []PurchaseUnit `json:"purchase_units,omitempty"`
	Links         []Link         `json:"links,omitempty"`
}

// ApproveURL returns the buyer approval link, if any.
func (o *Order) ApproveURL() string {
	if o == nil {
		return ""
	}
	for _, link := range o.Links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			return link.Href
		}
	}
	return ""
}

// FirstCapture returns the first capture of the first purchase unit.
func (o *Order) FirstCapture() *Capture {
	if o == nil {
		return nil
	}
	for _, unit := range o.PurchaseUnits {
		if unit.Payments != nil && len(unit.Payments.Captures) > 0 {
			c := unit.Payments.Captures[0]
			return &c
		}
	}
	return nil
}

type Refund struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount Money  `json:"amount"`
}

// CreateOrderRequest describes a single-purchase-unit CAPTURE order.
type CreateOrderRequest struct {
	// OrderID is the platform order id; it becomes reference, custom and invoice id.
	OrderID     string
	Amount      int64
	Currency    string
	Description string
	ReturnURL   string
	CancelURL   string
}

type RefundRequest struct {
	Amount    int64
	Currency  string
	Note      string
	RequestID string
}

type createOrderBody struct {
	Intent        string         `json:"intent"`
	PurchaseUnits []PurchaseUnit `json:"purchase_units"`
	Context       *appContext    `json:"application_context,omitempty"`
}

type appContext struct {
	BrandName          string `json:"brand_name,omitempty"`
	ReturnURL          string `json:"return_url,omitempty"`
	CancelURL          string `json:"cancel_url,omitempty"`
	ShippingPreference string `json:"shipping_preference,omitempty"`
	UserAction         string `json:"user_action,omitempty"`
}

type refundBody struct {
	Amount      *Money `json:"amount,omitempty"`
	NoteToPayer string `json:"note_to_payer,omitempty"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// APIError is the error body returned by the PayPal REST API.
type APIError struct {
	StatusCode int           `json:"-"`
	Name       string        `json:"name"`
	Message    string        `json:"message"`
	DebugID    string        `json:"debug_id"`
	Details    []ErrorDetail `json:"details,omitempty"`
}

type ErrorDetail struct {
	Issue       string `json:"issue"`
	Description string `json:"description"`
}

func (e *APIError) Error() string {
	msg := "paypal " + e.Name + ": " + e.Message
	if len(e.Details) > 0 {
		msg += " (" + e.Details[0].Issue + ")"
	}
	return msg
}

// Issue returns the first detail issue code (for example INSTRUMENT_DECLINED).
func (e *APIError) Issue() string {
	if e == nil || len(e.Details) == 0 {
		return ""
	}
	return e.Details[0].Issue
}
