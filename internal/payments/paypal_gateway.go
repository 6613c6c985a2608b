package payments

import (
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/eventpay-backend/pkg/db/models"
	"github.com/angelmondragon/eventpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/eventpay-backend/pkg/errors"
	"github.com/angelmondragon/eventpay-backend/pkg/paypal"
)

const (
	paypalReturnPath = "/payment/paypal/return"
	paypalCancelPath = "/payment/paypal/cancel"
)

type paypalAPI interface {
	CreateOrder(ctx context.Context, req paypal.CreateOrderRequest) (*paypal.Order, error)
	CaptureOrder(ctx context.Context, paypalOrderID, requestID string) (*paypal.Order, error)
	RefundCapture(ctx context.Context, captureID string, req paypal.RefundRequest) (*paypal.Refund, error)
}

// PayPalGateway serves international wallet payments with a create, approve, capture flow.
type PayPalGateway struct {
	api       paypalAPI
	returnURL string
	cancelURL string
}

func NewPayPalGateway(api paypalAPI, publicURL string) *PayPalGateway {
	base := strings.TrimRight(publicURL, "/")
	return &PayPalGateway{
		api:       api,
		returnURL: base + paypalReturnPath,
		cancelURL: base + paypalCancelPath,
	}
}

func (g *PayPalGateway) Provider() enums.PaymentProvider {
	return enums.PaymentProviderPayPal
}

func (g *PayPalGateway) CreateOrder(ctx context.Context, intent *models.PaymentIntent) (*Checkout, error) {
	if intent.PaymentType != enums.PaymentTypeInternationalWallet {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("paypal does not serve %s", intent.PaymentType))
	}
	order, err := g.api.CreateOrder(ctx, paypal.CreateOrderRequest{
		OrderID:     intent.OrderID,
		Amount:      intent.Amount,
		Currency:    intent.Currency.String(),
		Description: intent.OrderName,
		ReturnURL:   g.returnURL,
		CancelURL:   g.cancelURL,
	})
	if err != nil {
		return nil, GatewayError(enums.PaymentProviderPayPal, "create order", err)
	}
	return &Checkout{
		Provider:        enums.PaymentProviderPayPal,
		OrderID:         intent.OrderID,
		ProviderOrderID: order.ID,
		Amount:          intent.Amount,
		Currency:        intent.Currency,
		OrderName:       intent.OrderName,
		ApproveURL:      order.ApproveURL(),
	}, nil
}

// CaptureOrder captures an order the buyer approved. A PENDING capture (held for review by
// PayPal) counts as captured: the buyer's funds are committed and PayPal settles or reverses it.
func (g *PayPalGateway) CaptureOrder(ctx context.Context, req CaptureRequest) (*CaptureResult, error) {
	if strings.TrimSpace(req.ProviderOrderID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "paypal order id is required")
	}
	order, err := g.api.CaptureOrder(ctx, req.ProviderOrderID, "capture-"+req.OrderID)
	if err != nil {
		return nil, GatewayError(enums.PaymentProviderPayPal, "capture", err)
	}
	capture := order.FirstCapture()
	if capture == nil {
		return nil, GatewayError(enums.PaymentProviderPayPal, "capture", fmt.Errorf("order %s has no capture", order.ID))
	}
	switch capture.Status {
	case paypal.CaptureStatusCompleted, paypal.CaptureStatusPending:
	default:
		return nil, GatewayError(enums.PaymentProviderPayPal, "capture", fmt.Errorf("capture %s is %s", capture.ID, capture.Status))
	}
	if req.Currency != "" && !strings.EqualFold(capture.Amount.CurrencyCode, req.Currency.String()) {
		return nil, GatewayError(enums.PaymentProviderPayPal, "capture",
			fmt.Errorf("captured currency %s, expected %s", capture.Amount.CurrencyCode, req.Currency))
	}
	captured, err := paypal.ParseAmount(capture.Amount.Value, capture.Amount.CurrencyCode)
	if err != nil {
		return nil, GatewayError(enums.PaymentProviderPayPal, "capture", err)
	}
	if captured != req.ExpectedAmount {
		return nil, AmountMismatchError(req.OrderID, req.ExpectedAmount, captured)
	}
	return &CaptureResult{
		Status:            CaptureCaptured,
		CapturedAmount:    captured,
		ProviderReference: capture.ID,
	}, nil
}

func (g *PayPalGateway) CancelOrder(ctx context.Context, req CancelRequest) (*CancelResult, error) {
	refund, err := g.api.RefundCapture(ctx, req.ProviderReference, paypal.RefundRequest{
		Amount:    req.Amount,
		Currency:  req.Currency.String(),
		Note:      req.Reason,
		RequestID: req.IdempotencyKey,
	})
	if err != nil {
		return nil, GatewayError(enums.PaymentProviderPayPal, "refund", err)
	}
	result := &CancelResult{RefundedAmount: req.Amount, ProviderRefundID: refund.ID}
	if refund.Amount.Value != "" {
		if amount, err := paypal.ParseAmount(refund.Amount.Value, refund.Amount.CurrencyCode); err == nil {
			result.RefundedAmount = amount
		}
	}
	return result, nil
}
