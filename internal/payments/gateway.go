package payments

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/angelmondragon/eventpay-backend/pkg/db/models"
	"github.com/angelmondragon/eventpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/eventpay-backend/pkg/errors"
	"github.com/angelmondragon/eventpay-backend/pkg/toss"
)

// Gateway is one external payment provider, normalized to the shapes the ledger consumes.
type Gateway interface {
	Provider() enums.PaymentProvider
	CreateOrder(ctx context.Context, intent *models.PaymentIntent) (*Checkout, error)
	CaptureOrder(ctx context.Context, req CaptureRequest) (*CaptureResult, error)
	CancelOrder(ctx context.Context, req CancelRequest) (*CancelResult, error)
}

// Checkout is what the browser needs to drive the provider's checkout window.
type Checkout struct {
	Provider        enums.PaymentProvider `json:"provider"`
	OrderID         string                `json:"orderId"`
	ProviderOrderID string                `json:"providerOrderId"`
	Amount          int64                 `json:"amount"`
	Currency        enums.Currency        `json:"currency"`
	OrderName       string                `json:"orderName"`
	ClientKey       string                `json:"clientKey,omitempty"`
	CustomerKey     string                `json:"customerKey,omitempty"`
	Method          string                `json:"method,omitempty"`
	SuccessURL      string                `json:"successUrl,omitempty"`
	FailURL         string                `json:"failUrl,omitempty"`
	Card            *toss.CardOptions     `json:"card,omitempty"`
	ApproveURL      string                `json:"approveUrl,omitempty"`
}

type CaptureRequest struct {
	OrderID         string
	ProviderOrderID string
	// PaymentKey is the key the provider handed the browser on approval (Toss only).
	PaymentKey     string
	ExpectedAmount int64
	Currency       enums.Currency
}

type CaptureStatus string

const (
	CaptureCaptured        CaptureStatus = "captured"
	CaptureAwaitingDeposit CaptureStatus = "awaiting_deposit"
)

type CaptureResult struct {
	Status            CaptureStatus
	CapturedAmount    int64
	ProviderReference string
	ReceiptURL        string
	// DepositSecret is the raw per-payment secret Toss echoes on deposit callbacks.
	DepositSecret string
	ApprovedAt    *time.Time
}

type CancelRequest struct {
	OrderID           string
	ProviderReference string
	Amount            int64
	Full              bool
	Reason            string
	Currency          enums.Currency
	IdempotencyKey    string
}

type CancelResult struct {
	RefundedAmount   int64
	ProviderRefundID string
}

// Gateways resolves the gateway serving each payment type.
type Gateways struct {
	byType map[enums.PaymentType]Gateway
}

func NewGateways(entries map[enums.PaymentType]Gateway) *Gateways {
	byType := make(map[enums.PaymentType]Gateway, len(entries))
	for pt, gw := range entries {
		if gw != nil {
			byType[pt] = gw
		}
	}
	return &Gateways{byType: byType}
}

func (g *Gateways) For(pt enums.PaymentType) (Gateway, error) {
	if g != nil {
		if gw, ok := g.byType[pt]; ok {
			return gw, nil
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("payment type %s is not available", pt))
}

// Supports reports whether a gateway is configured for the payment type.
func (g *Gateways) Supports(pt enums.PaymentType) bool {
	_, err := g.For(pt)
	return err == nil
}

// GatewayFactory builds a gateway on first use. It may be called again after a failure.
type GatewayFactory func(ctx context.Context) (Gateway, error)

// lazyGateway initializes its underlying gateway once, on the first call that needs it.
// Concurrent first callers wait on the same initialization; a failed initialization is not
// cached so a later call can retry.
type lazyGateway struct {
	provider enums.PaymentProvider
	factory  GatewayFactory

	mu    sync.Mutex
	ready atomic.Pointer[gatewayHandle]
}

type gatewayHandle struct {
	gw Gateway
}

// Lazy wraps factory in a Gateway that builds the real one on first use.
func Lazy(provider enums.PaymentProvider, factory GatewayFactory) Gateway {
	return &lazyGateway{provider: provider, factory: factory}
}

func (l *lazyGateway) get(ctx context.Context) (Gateway, error) {
	if h := l.ready.Load(); h != nil {
		return h.gw, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if h := l.ready.Load(); h != nil {
		return h.gw, nil
	}
	gw, err := l.factory(ctx)
	if err != nil {
		return nil, GatewayError(l.provider, "initialize", err)
	}
	if gw == nil {
		return nil, GatewayError(l.provider, "initialize", fmt.Errorf("factory returned no gateway"))
	}
	l.ready.Store(&gatewayHandle{gw: gw})
	return gw, nil
}

func (l *lazyGateway) Provider() enums.PaymentProvider {
	return l.provider
}

func (l *lazyGateway) CreateOrder(ctx context.Context, intent *models.PaymentIntent) (*Checkout, error) {
	gw, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return gw.CreateOrder(ctx, intent)
}

func (l *lazyGateway) CaptureOrder(ctx context.Context, req CaptureRequest) (*CaptureResult, error) {
	gw, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return gw.CaptureOrder(ctx, req)
}

func (l *lazyGateway) CancelOrder(ctx context.Context, req CancelRequest) (*CancelResult, error) {
	gw, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return gw.CancelOrder(ctx, req)
}
