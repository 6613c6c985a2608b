package payments

import (
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/eventpay-backend/pkg/db/models"
	"github.com/angelmondragon/eventpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/eventpay-backend/pkg/errors"
)

// transitions lists every forward edge of the payment state machine.
var transitions = map[enums.PaymentStatus][]enums.PaymentStatus{
	enums.PaymentStatusReady: {
		enums.PaymentStatusRequested,
		enums.PaymentStatusExpired,
	},
	enums.PaymentStatusRequested: {
		enums.PaymentStatusInProgress,
		enums.PaymentStatusWaitingForDeposit,
		enums.PaymentStatusDone,
		enums.PaymentStatusAborted,
		enums.PaymentStatusExpired,
	},
	enums.PaymentStatusInProgress: {
		enums.PaymentStatusWaitingForDeposit,
		enums.PaymentStatusDone,
		enums.PaymentStatusAborted,
		enums.PaymentStatusExpired,
	},
	enums.PaymentStatusWaitingForDeposit: {
		enums.PaymentStatusDone,
		enums.PaymentStatusExpired,
	},
	enums.PaymentStatusDone: {
		enums.PaymentStatusPartialCanceled,
		enums.PaymentStatusCanceled,
	},
	enums.PaymentStatusPartialCanceled: {
		enums.PaymentStatusPartialCanceled,
		enums.PaymentStatusCanceled,
	},
}

// CanTransition reports whether the state machine has an edge from -> to.
func CanTransition(from, to enums.PaymentStatus) bool {
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// NewIntentInput carries what the ledger needs to open an intent.
type NewIntentInput struct {
	RegistrationID uuid.UUID
	EventID        uuid.UUID
	UserID         *uuid.UUID
	Amount         int64
	TaxFreeAmount  int64
	PaymentType    enums.PaymentType
	Currency       enums.Currency
	OrderName      string
}

// NewIntent builds a READY intent with a fresh order id and the VAT split.
func NewIntent(in NewIntentInput, now time.Time, rnd io.Reader) (*models.PaymentIntent, error) {
	if in.RegistrationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "registration id is required")
	}
	if !in.PaymentType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment type")
	}
	currency := in.Currency
	if currency == "" {
		currency = enums.CurrencyKRW
	}
	if !currency.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid currency")
	}
	supplied, vat, err := SplitAmount(in.Amount, in.TaxFreeAmount)
	if err != nil {
		return nil, err
	}
	orderID, err := NewOrderID(now, rnd)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate order id")
	}
	name := strings.TrimSpace(in.OrderName)
	if name == "" {
		name = "Registration " + in.RegistrationID.String()[:8]
	}

	return &models.PaymentIntent{
		OrderID:        orderID,
		RegistrationID: in.RegistrationID,
		EventID:        in.EventID,
		UserID:         in.UserID,
		PaymentType:    in.PaymentType,
		Provider:       in.PaymentType.Provider(),
		Status:         enums.PaymentStatusReady,
		Currency:       currency,
		Amount:         in.Amount,
		TaxFreeAmount:  in.TaxFreeAmount,
		SuppliedAmount: supplied,
		VAT:            vat,
		OrderName:      name,
	}, nil
}

// MarkRequested records the provider order and moves READY -> REQUESTED.
func MarkRequested(p *models.PaymentIntent, providerReference string, now time.Time) error {
	if p.Status != enums.PaymentStatusReady {
		return InvalidStateError("markRequested", p.OrderID, p.Status)
	}
	if strings.TrimSpace(providerReference) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "provider reference is required")
	}
	ref := providerReference
	p.ProviderOrderID = &ref
	p.ProviderReference = &ref
	p.RequestedAt = &now
	p.Status = enums.PaymentStatusRequested
	return nil
}

// BeginCapture moves an approved checkout to IN_PROGRESS. It is a no-op when already there.
func BeginCapture(p *models.PaymentIntent) error {
	switch p.Status {
	case enums.PaymentStatusInProgress:
		return nil
	case enums.PaymentStatusRequested:
		p.Status = enums.PaymentStatusInProgress
		return nil
	default:
		return InvalidStateError("markApproved", p.OrderID, p.Status)
	}
}

// CheckConfirm runs the confirm preconditions without mutating the intent.
// done is true when the intent was already confirmed with the same amount, in which
// case the caller must return the stored record untouched.
func CheckConfirm(p *models.PaymentIntent, reportedAmount int64) (done bool, err error) {
	if reportedAmount != p.Amount {
		return false, AmountMismatchError(p.OrderID, p.Amount, reportedAmount)
	}
	switch p.Status {
	case enums.PaymentStatusRequested, enums.PaymentStatusInProgress:
		return false, nil
	case enums.PaymentStatusDone, enums.PaymentStatusPartialCanceled, enums.PaymentStatusWaitingForDeposit:
		return true, nil
	default:
		return false, InvalidStateError("confirm", p.OrderID, p.Status)
	}
}

// Confirm records a captured payment and moves the intent to DONE.
func Confirm(p *models.PaymentIntent, capturedAmount int64, providerReference string, now time.Time) error {
	if p.Status != enums.PaymentStatusRequested && p.Status != enums.PaymentStatusInProgress {
		return InvalidStateError("confirm", p.OrderID, p.Status)
	}
	if capturedAmount != p.Amount {
		return AmountMismatchError(p.OrderID, p.Amount, capturedAmount)
	}
	setReference(p, providerReference)
	p.ApprovedAt = &now
	p.Status = enums.PaymentStatusDone
	return nil
}

// AwaitDeposit records an issued virtual account and moves the intent to WAITING_FOR_DEPOSIT.
func AwaitDeposit(p *models.PaymentIntent, amount int64, providerReference string) error {
	if p.Status != enums.PaymentStatusRequested && p.Status != enums.PaymentStatusInProgress {
		return InvalidStateError("confirm", p.OrderID, p.Status)
	}
	if amount != p.Amount {
		return AmountMismatchError(p.OrderID, p.Amount, amount)
	}
	setReference(p, providerReference)
	p.Status = enums.PaymentStatusWaitingForDeposit
	return nil
}

// SettleDeposit marks a virtual-account deposit as received.
func SettleDeposit(p *models.PaymentIntent, now time.Time) error {
	if p.Status != enums.PaymentStatusWaitingForDeposit {
		return InvalidStateError("settleDeposit", p.OrderID, p.Status)
	}
	p.ApprovedAt = &now
	p.Status = enums.PaymentStatusDone
	return nil
}

// CloseDeposit ends a virtual account that was canceled or ran past its due date.
func CloseDeposit(p *models.PaymentIntent, now time.Time) error {
	if p.Status != enums.PaymentStatusWaitingForDeposit {
		return InvalidStateError("closeDeposit", p.OrderID, p.Status)
	}
	p.ClosedAt = &now
	p.Status = enums.PaymentStatusExpired
	return nil
}

// Abort records a checkout the user abandoned or the provider rejected.
func Abort(p *models.PaymentIntent, now time.Time) error {
	if p.Status != enums.PaymentStatusRequested && p.Status != enums.PaymentStatusInProgress {
		return InvalidStateError("abort", p.OrderID, p.Status)
	}
	p.ClosedAt = &now
	p.Status = enums.PaymentStatusAborted
	return nil
}

// Expire closes an intent whose checkout was never completed.
func Expire(p *models.PaymentIntent, now time.Time) error {
	switch p.Status {
	case enums.PaymentStatusReady, enums.PaymentStatusRequested, enums.PaymentStatusInProgress:
	default:
		return InvalidStateError("expire", p.OrderID, p.Status)
	}
	p.ClosedAt = &now
	p.Status = enums.PaymentStatusExpired
	return nil
}

// CancelPlan is the validated outcome of a cancel request, computed before any provider call.
type CancelPlan struct {
	Refund int64
	Target enums.PaymentStatus
	Full   bool
}

// PlanCancel validates a cancel request. A full cancel refunds whatever remains; a partial
// cancel that reaches the remaining amount becomes a full one.
func PlanCancel(p *models.PaymentIntent, partial bool, amount int64) (CancelPlan, error) {
	if !p.Status.IsPaid() {
		return CancelPlan{}, InvalidStateError("cancel", p.OrderID, p.Status)
	}
	remaining := p.RemainingAmount()
	if !partial {
		return CancelPlan{Refund: remaining, Target: enums.PaymentStatusCanceled, Full: true}, nil
	}
	if amount <= 0 {
		return CancelPlan{}, pkgerrors.New(pkgerrors.CodeValidation, "cancel amount must be positive")
	}
	if amount > remaining {
		return CancelPlan{}, OverRefundError(p.OrderID, p.Amount, p.RefundedAmount, amount)
	}
	if amount == remaining {
		return CancelPlan{Refund: amount, Target: enums.PaymentStatusCanceled, Full: p.RefundedAmount == 0}, nil
	}
	return CancelPlan{Refund: amount, Target: enums.PaymentStatusPartialCanceled}, nil
}

// ApplyCancel commits a plan returned by PlanCancel.
func ApplyCancel(p *models.PaymentIntent, plan CancelPlan, reason string, now time.Time) error {
	if !CanTransition(p.Status, plan.Target) {
		return InvalidStateError("cancel", p.OrderID, p.Status)
	}
	if p.RefundedAmount+plan.Refund > p.Amount {
		return OverRefundError(p.OrderID, p.Amount, p.RefundedAmount, plan.Refund)
	}
	p.RefundedAmount += plan.Refund
	r := reason
	p.CancelReason = &r
	p.CanceledAt = &now
	p.Status = plan.Target
	if plan.Target == enums.PaymentStatusCanceled {
		p.ClosedAt = &now
	}
	return nil
}

func setReference(p *models.PaymentIntent, providerReference string) {
	if strings.TrimSpace(providerReference) == "" {
		return
	}
	ref := providerReference
	p.ProviderReference = &ref
}
