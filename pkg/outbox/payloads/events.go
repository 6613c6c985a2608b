package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/eventpay-backend/pkg/enums"
)

// PaymentEvent is the payload shared by every payment lifecycle event. Fields that
// do not apply to a given transition are omitted.
type PaymentEvent struct {
	PaymentIntentID uuid.UUID             `json:"payment_intent_id"`
	OrderID         string                `json:"order_id"`
	RegistrationID  uuid.UUID             `json:"registration_id"`
	EventID         uuid.UUID             `json:"event_id"`
	PaymentType     enums.PaymentType     `json:"payment_type"`
	Provider        enums.PaymentProvider `json:"provider"`
	Status          enums.PaymentStatus   `json:"status"`
	PreviousStatus  enums.PaymentStatus   `json:"previous_status,omitempty"`
	Currency        enums.Currency        `json:"currency"`
	Amount          int64                 `json:"amount"`
	RefundedAmount  int64                 `json:"refunded_amount"`
	DeltaAmount     int64                 `json:"delta_amount,omitempty"`
	CancelReason    string                `json:"cancel_reason,omitempty"`
	OccurredAt      time.Time             `json:"occurred_at"`
}
