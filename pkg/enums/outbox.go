package enums

import "slices"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregatePaymentIntent OutboxAggregateType = "payment_intent"
	AggregateLedgerEvent   OutboxAggregateType = "ledger_event"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregatePaymentIntent,
	AggregateLedgerEvent,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	return slices.Contains(validAggregateTypes, a)
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	return parseEnum("aggregate type", validAggregateTypes, value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventPaymentIntentOpened   OutboxEventType = "payment_intent_opened"
	EventPaymentRequested      OutboxEventType = "payment_requested"
	EventPaymentApproved       OutboxEventType = "payment_approved"
	EventPaymentConfirmed      OutboxEventType = "payment_confirmed"
	EventPaymentDepositPending OutboxEventType = "payment_deposit_pending"
	EventPaymentCanceled       OutboxEventType = "payment_canceled"
	EventPaymentAborted        OutboxEventType = "payment_aborted"
	EventPaymentExpired        OutboxEventType = "payment_expired"
	EventPaymentNoteUpdated    OutboxEventType = "payment_note_updated"
)

var validOutboxEventTypes = []OutboxEventType{
	EventPaymentIntentOpened,
	EventPaymentRequested,
	EventPaymentApproved,
	EventPaymentConfirmed,
	EventPaymentDepositPending,
	EventPaymentCanceled,
	EventPaymentAborted,
	EventPaymentExpired,
	EventPaymentNoteUpdated,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	return slices.Contains(validOutboxEventTypes, e)
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return parseEnum("event type", validOutboxEventTypes, value)
}
