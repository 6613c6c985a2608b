package enums

import "slices"

// LedgerEventType maps to the ledger_event_type_enum enum in Postgres.
type LedgerEventType string

const (
	LedgerEventTypeIntentOpened   LedgerEventType = "intent_opened"
	LedgerEventTypeRequested      LedgerEventType = "requested"
	LedgerEventTypeApproved       LedgerEventType = "approved"
	LedgerEventTypeCaptured       LedgerEventType = "captured"
	LedgerEventTypeDepositPending LedgerEventType = "deposit_pending"
	LedgerEventTypeDepositSettled LedgerEventType = "deposit_settled"
	LedgerEventTypeRefunded       LedgerEventType = "refunded"
	LedgerEventTypeExpired        LedgerEventType = "expired"
	LedgerEventTypeAborted        LedgerEventType = "aborted"
	LedgerEventTypeNoteUpdated    LedgerEventType = "note_updated"
)

var validLedgerEventTypes = []LedgerEventType{
	LedgerEventTypeIntentOpened,
	LedgerEventTypeRequested,
	LedgerEventTypeApproved,
	LedgerEventTypeCaptured,
	LedgerEventTypeDepositPending,
	LedgerEventTypeDepositSettled,
	LedgerEventTypeRefunded,
	LedgerEventTypeExpired,
	LedgerEventTypeAborted,
	LedgerEventTypeNoteUpdated,
}

// String implements fmt.Stringer.
func (t LedgerEventType) String() string {
	return string(t)
}

// IsValid reports whether the value matches the canonical ledger event enum.
func (t LedgerEventType) IsValid() bool {
	return slices.Contains(validLedgerEventTypes, t)
}

// ParseLedgerEventType converts raw input into LedgerEventType.
func ParseLedgerEventType(value string) (LedgerEventType, error) {
	return parseEnum("ledger event type", validLedgerEventTypes, value)
}
