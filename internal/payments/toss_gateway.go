package payments

import (
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/eventpay-backend/pkg/config"
	"github.com/angelmondragon/eventpay-backend/pkg/db/models"
	"github.com/angelmondragon/eventpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/eventpay-backend/pkg/errors"
	"github.com/angelmondragon/eventpay-backend/pkg/toss"
)

type tossAPI interface {
	ClientKey() string
	ConfirmPayment(ctx context.Context, req toss.ConfirmRequest) (*toss.Payment, error)
	CancelPayment(ctx context.Context, paymentKey string, req toss.CancelRequest) (*toss.Payment, error)
	GetPayment(ctx context.Context, paymentKey string) (*toss.Payment, error)
}

// TossGateway serves domestic card and bank-transfer payments through Toss Payments.
// Toss creates its order inside the browser widget, so CreateOrder only shapes the widget call.
type TossGateway struct {
	api        tossAPI
	successURL string
	failURL    string
}

func NewTossGateway(api tossAPI, cfg config.TossConfig, publicURL string) *TossGateway {
	base := strings.TrimRight(publicURL, "/")
	return &TossGateway{
		api:        api,
		successURL: base + cfg.SuccessPath,
		failURL:    base + cfg.FailPath,
	}
}

func (g *TossGateway) Provider() enums.PaymentProvider {
	return enums.PaymentProviderToss
}

func (g *TossGateway) CreateOrder(_ context.Context, intent *models.PaymentIntent) (*Checkout, error) {
	checkout := &Checkout{
		Provider:        enums.PaymentProviderToss,
		OrderID:         intent.OrderID,
		ProviderOrderID: intent.OrderID,
		Amount:          intent.Amount,
		Currency:        intent.Currency,
		OrderName:       intent.OrderName,
		ClientKey:       g.api.ClientKey(),
		CustomerKey:     toss.AnonymousCustomerKey,
		SuccessURL:      g.successURL,
		FailURL:         g.failURL,
	}
	switch intent.PaymentType {
	case enums.PaymentTypeDomesticCard:
		opts := toss.DefaultCardOptions()
		checkout.Method = toss.MethodCard
		checkout.Card = &opts
	case enums.PaymentTypeBankTransfer:
		checkout.Method = toss.MethodVirtualAccount
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("toss does not serve %s", intent.PaymentType))
	}
	return checkout, nil
}

func (g *TossGateway) CaptureOrder(ctx context.Context, req CaptureRequest) (*CaptureResult, error) {
	if strings.TrimSpace(req.PaymentKey) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "paymentKey is required")
	}
	payment, err := g.api.ConfirmPayment(ctx, toss.ConfirmRequest{
		PaymentKey: req.PaymentKey,
		OrderID:    req.OrderID,
		Amount:     req.ExpectedAmount,
	})
	if err != nil {
		if toss.ProviderCode(err) != toss.CodeAlreadyProcessed {
			return nil, GatewayError(enums.PaymentProviderToss, "confirm", err)
		}
		// The first confirm succeeded but its answer was lost; read the payment back.
		payment, err = g.api.GetPayment(ctx, req.PaymentKey)
		if err != nil {
			return nil, GatewayError(enums.PaymentProviderToss, "confirm", err)
		}
	}
	if payment.OrderID != req.OrderID {
		return nil, GatewayError(enums.PaymentProviderToss, "confirm",
			fmt.Errorf("payment belongs to order %q, not %q", payment.OrderID, req.OrderID))
	}
	if payment.TotalAmount != req.ExpectedAmount {
		return nil, AmountMismatchError(req.OrderID, req.ExpectedAmount, payment.TotalAmount)
	}

	result := &CaptureResult{
		CapturedAmount:    payment.TotalAmount,
		ProviderReference: payment.PaymentKey,
		ReceiptURL:        payment.ReceiptURL(),
		ApprovedAt:        payment.ApprovedAt,
	}
	switch payment.Status {
	case toss.StatusDone:
		result.Status = CaptureCaptured
	case toss.StatusWaitingForDeposit:
		result.Status = CaptureAwaitingDeposit
		result.DepositSecret = payment.Secret
	default:
		return nil, GatewayError(enums.PaymentProviderToss, "confirm",
			fmt.Errorf("unexpected payment status %s", payment.Status))
	}
	if result.ProviderReference == "" {
		result.ProviderReference = req.PaymentKey
	}
	return result, nil
}

func (g *TossGateway) CancelOrder(ctx context.Context, req CancelRequest) (*CancelResult, error) {
	body := toss.CancelRequest{
		CancelReason:   req.Reason,
		IdempotencyKey: req.IdempotencyKey,
	}
	if !req.Full {
		amount := req.Amount
		body.CancelAmount = &amount
	}
	payment, err := g.api.CancelPayment(ctx, req.ProviderReference, body)
	if err != nil {
		return nil, GatewayError(enums.PaymentProviderToss, "cancel", err)
	}
	result := &CancelResult{RefundedAmount: req.Amount}
	if n := len(payment.Cancels); n > 0 {
		last := payment.Cancels[n-1]
		result.ProviderRefundID = last.TransactionKey
		if last.CancelAmount > 0 {
			result.RefundedAmount = last.CancelAmount
		}
	}
	return result, nil
}
