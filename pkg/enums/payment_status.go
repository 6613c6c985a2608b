package enums

import "slices"

// PaymentStatus tracks the lifecycle of a payment intent.
type PaymentStatus string

const (
	PaymentStatusReady             PaymentStatus = "READY"
	PaymentStatusRequested         PaymentStatus = "REQUESTED"
	PaymentStatusInProgress        PaymentStatus = "IN_PROGRESS"
	PaymentStatusWaitingForDeposit PaymentStatus = "WAITING_FOR_DEPOSIT"
	PaymentStatusDone              PaymentStatus = "DONE"
	PaymentStatusPartialCanceled   PaymentStatus = "PARTIAL_CANCELED"
	PaymentStatusCanceled          PaymentStatus = "CANCELED"
	PaymentStatusAborted           PaymentStatus = "ABORTED"
	PaymentStatusExpired           PaymentStatus = "EXPIRED"
)

var validPaymentStatuses = []PaymentStatus{
	PaymentStatusReady,
	PaymentStatusRequested,
	PaymentStatusInProgress,
	PaymentStatusWaitingForDeposit,
	PaymentStatusDone,
	PaymentStatusPartialCanceled,
	PaymentStatusCanceled,
	PaymentStatusAborted,
	PaymentStatusExpired,
}

// ActivePaymentStatuses lists the statuses that block a second intent for the same registration.
var ActivePaymentStatuses = []PaymentStatus{
	PaymentStatusReady,
	PaymentStatusRequested,
	PaymentStatusInProgress,
	PaymentStatusWaitingForDeposit,
}

// String implements fmt.Stringer.
func (p PaymentStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentStatus.
func (p PaymentStatus) IsValid() bool {
	return slices.Contains(validPaymentStatuses, p)
}

// IsActive reports whether the intent still occupies its registration's single active slot.
func (p PaymentStatus) IsActive() bool {
	return slices.Contains(ActivePaymentStatuses, p)
}

// IsPaid reports whether money has been captured (possibly partially refunded since).
func (p PaymentStatus) IsPaid() bool {
	return p == PaymentStatusDone || p == PaymentStatusPartialCanceled
}

// IsTerminal reports whether no forward transition exists out of the status.
// DONE and PARTIAL_CANCELED are not terminal because they still accept refunds.
func (p PaymentStatus) IsTerminal() bool {
	switch p {
	case PaymentStatusCanceled, PaymentStatusAborted, PaymentStatusExpired:
		return true
	default:
		return false
	}
}

// ParsePaymentStatus converts raw input into a PaymentStatus.
func ParsePaymentStatus(value string) (PaymentStatus, error) {
	return parseEnum("payment status", validPaymentStatuses, value)
}
