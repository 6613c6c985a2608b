package payments

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/eventpay-backend/pkg/db/models"
	"github.com/angelmondragon/eventpay-backend/pkg/enums"
)

// ManualGateway backs payments an admin collected outside any provider (on-site card
// terminal, direct transfer). Nothing leaves the process; refunds are settled offline.
type ManualGateway struct{}

func NewManualGateway() *ManualGateway {
	return &ManualGateway{}
}

func (ManualGateway) Provider() enums.PaymentProvider {
	return enums.PaymentProviderManual
}

func (ManualGateway) CreateOrder(_ context.Context, intent *models.PaymentIntent) (*Checkout, error) {
	return &Checkout{
		Provider:        enums.PaymentProviderManual,
		OrderID:         intent.OrderID,
		ProviderOrderID: "manual-" + uuid.NewString(),
		Amount:          intent.Amount,
		Currency:        intent.Currency,
		OrderName:       intent.OrderName,
	}, nil
}

func (ManualGateway) CaptureOrder(_ context.Context, req CaptureRequest) (*CaptureResult, error) {
	return &CaptureResult{
		Status:            CaptureCaptured,
		CapturedAmount:    req.ExpectedAmount,
		ProviderReference: req.ProviderOrderID,
	}, nil
}

func (ManualGateway) CancelOrder(_ context.Context, req CancelRequest) (*CancelResult, error) {
	return &CancelResult{RefundedAmount: req.Amount}, nil
}
