package bigquery

import (
	"time"

	"cloud.google.com/go/bigquery"
)

// PaymentEventRow is one payment lifecycle event as stored in the analytics table.
type PaymentEventRow struct {
	EventID        string              `bigquery:"event_id"`
	EventType      string              `bigquery:"event_type"`
	OrderID        string              `bigquery:"order_id"`
	RegistrationID string              `bigquery:"registration_id"`
	EventRefID     string              `bigquery:"event_ref_id"`
	PaymentType    string              `bigquery:"payment_type"`
	Provider       string              `bigquery:"provider"`
	Status         string              `bigquery:"status"`
	PreviousStatus bigquery.NullString `bigquery:"previous_status"`
	Currency       string              `bigquery:"currency"`
	Amount         int64               `bigquery:"amount"`
	RefundedAmount int64               `bigquery:"refunded_amount"`
	DeltaAmount    bigquery.NullInt64  `bigquery:"delta_amount"`
	ActorRole      bigquery.NullString `bigquery:"actor_role"`
	OccurredAt     time.Time           `bigquery:"occurred_at"`
}

func (r *PaymentEventRow) saver() *bigquery.StructSaver {
	return &bigquery.StructSaver{Struct: r, InsertID: r.EventID}
}
