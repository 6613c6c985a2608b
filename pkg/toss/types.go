package toss

import "time"

// Payment statuses reported by the Toss payments API.
const (
	StatusReady             = "READY"
	StatusInProgress        = "IN_PROGRESS"
	StatusWaitingForDeposit = "WAITING_FOR_DEPOSIT"
	StatusDone              = "DONE"
	StatusCanceled          = "CANCELED"
	StatusPartialCanceled   = "PARTIAL_CANCELED"
	StatusAborted           = "ABORTED"
	StatusExpired           = "EXPIRED"
)

// Checkout constants handed to the browser SDK.
const (
	AnonymousCustomerKey = "ANONYMOUS"
	MethodCard           = "CARD"
	MethodVirtualAccount = "VIRTUAL_ACCOUNT"
	CurrencyKRW          = "KRW"
)

// CardOptions are the fixed card checkout options used for every card payment.
type CardOptions struct {
	UseEscrow      bool   `json:"useEscrow"`
	FlowMode       string `json:"flowMode"`
	UseCardPoint   bool   `json:"useCardPoint"`
	UseAppCardOnly bool   `json:"useAppCardOnly"`
}

// DefaultCardOptions disables escrow, card points and app-card-only mode on the default flow.
func DefaultCardOptions() CardOptions {
	return CardOptions{FlowMode: "DEFAULT"}
}

type ConfirmRequest struct {
	PaymentKey string `json:"paymentKey"`
	OrderID    string `json:"orderId"`
	Amount     int64  `json:"amount"`
}

type CancelRequest struct {
	CancelReason string `json:"cancelReason"`
	// CancelAmount is omitted for a full cancel.
	CancelAmount   *int64 `json:"cancelAmount,omitempty"`
	TaxFreeAmount  *int64 `json:"taxFreeAmount,omitempty"`
	IdempotencyKey string `json:"-"`
}

// Payment is the subset of the Toss payment object the platform relies on.
type Payment struct {
	PaymentKey     string          `json:"paymentKey"`
	OrderID        string          `json:"orderId"`
	OrderName      string          `json:"orderName"`
	Status         string          `json:"status"`
	Method         string          `json:"method"`
	Currency       string          `json:"currency"`
	TotalAmount    int64           `json:"totalAmount"`
	BalanceAmount  int64           `json:"balanceAmount"`
	SuppliedAmount int64           `json:"suppliedAmount"`
	VAT            int64           `json:"vat"`
	TaxFreeAmount  int64           `json:"taxFreeAmount"`
	RequestedAt    *time.Time      `json:"requestedAt"`
	ApprovedAt     *time.Time      `json:"approvedAt"`
	Secret         string          `json:"secret,omitempty"`
	Receipt        *Receipt        `json:"receipt,omitempty"`
	Card           *Card           `json:"card,omitempty"`
	VirtualAccount *VirtualAccount `json:"virtualAccount,omitempty"`
	Cancels        []Cancel        `json:"cancels,omitempty"`
}

type Receipt struct {
	URL string `json:"url"`
}

type Card struct {
	IssuerCode            string `json:"issuerCode"`
	Number                string `json:"number"`
	InstallmentPlanMonths int    `json:"installmentPlanMonths"`
	ApproveNo             string `json:"approveNo"`
	CardType              string `json:"cardType"`
}

type VirtualAccount struct {
	AccountNumber string     `json:"accountNumber"`
	BankCode      string     `json:"bankCode"`
	CustomerName  string     `json:"customerName"`
	DueDate       *time.Time `json:"dueDate"`
}

type Cancel struct {
	TransactionKey string     `json:"transactionKey"`
	CancelReason   string     `json:"cancelReason"`
	CancelAmount   int64      `json:"cancelAmount"`
	CanceledAt     *time.Time `json:"canceledAt"`
}

// CanceledTotal sums every cancel transaction on the payment.
func (p *Payment) CanceledTotal() int64 {
	if p == nil {
		return 0
	}
	var total int64
	for _, c := range p.Cancels {
		total += c.CancelAmount
	}
	return total
}

// ReceiptURL returns the card receipt link when Toss issued one.
func (p *Payment) ReceiptURL() string {
	if p == nil || p.Receipt == nil {
		return ""
	}
	return p.Receipt.URL
}

// DepositCallback is the body Toss posts when a virtual-account deposit status changes.
type DepositCallback struct {
	CreatedAt      string `json:"createdAt"`
	Secret         string `json:"secret"`
	Status         string `json:"status"`
	TransactionKey string `json:"transactionKey"`
	OrderID        string `json:"orderId"`
}

// APIError is the error body returned by Toss.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return "toss " + e.Code + ": " + e.Message
}
