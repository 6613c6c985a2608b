package payments

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/eventpay-backend/pkg/db/models"
	"github.com/angelmondragon/eventpay-backend/pkg/enums"
)

// Actor identifies who asked for a change; it is journaled with every transition.
type Actor struct {
	UserID *uuid.UUID
	Role   string
}

type OpenIntentInput struct {
	NewIntentInput
	Actor Actor
}

// CheckoutResult pairs the persisted intent with what the browser needs to pay it.
type CheckoutResult struct {
	Intent   *models.PaymentIntent `json:"intent"`
	Checkout *Checkout             `json:"checkout"`
}

type ConfirmInput struct {
	OrderID string
	// Amount is the amount the client claims was approved. When nil the stored amount is
	// used and only the provider's captured amount is checked.
	Amount *int64
	// PaymentKey is the Toss key from the success redirect; unused by other providers.
	PaymentKey string
	Actor      Actor
}

type AbortInput struct {
	OrderID string
	Code    string
	Message string
	Actor   Actor
}

type CancelInput struct {
	OrderID string
	Reason  string
	Partial bool
	Amount  int64
	Actor   Actor
}

// ManualCardDetails is what an admin copies from an on-site card terminal slip.
type ManualCardDetails struct {
	CardType       string `json:"card_type"`
	CardNumber     string `json:"card_number"`
	ApprovalNumber string `json:"approval_number"`
	Installment    int    `json:"installment"`
}

// ManualTransferDetails is what an admin copies from a bank statement.
type ManualTransferDetails struct {
	TransactionDatetime    time.Time `json:"transaction_datetime"`
	TransactionDescription string    `json:"transaction_description"`
}

type ManualPaymentInput struct {
	RegistrationID uuid.UUID
	EventID        uuid.UUID
	UserID         *uuid.UUID
	Amount         int64
	TaxFreeAmount  int64
	// SuppliedAmount and VAT override the computed split when the receipt shows other values.
	SuppliedAmount *int64
	VAT            *int64
	Method         enums.ManualMethod
	Card           *ManualCardDetails
	Transfer       *ManualTransferDetails
	OrderName      string
	Note           string
	Actor          Actor
}

type DepositCallbackInput struct {
	OrderID        string
	Secret         string
	Status         string
	TransactionKey string
}
