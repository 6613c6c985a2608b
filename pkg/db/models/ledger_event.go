package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/eventpay-backend/pkg/enums"
)

// LedgerEvent records an immutable money lifecycle event tied to a payment intent.
type LedgerEvent struct {
	ID              uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	PaymentIntentID uuid.UUID             `gorm:"column:payment_intent_id;type:uuid;not null;index"`
	OrderID         string                `gorm:"column:order_id;not null;index"`
	ActorUserID     *uuid.UUID            `gorm:"column:actor_user_id;type:uuid"`
	Type            enums.LedgerEventType `gorm:"column:type;type:ledger_event_type_enum;not null"`
	Amount          int64                 `gorm:"column:amount;not null"`
	FromStatus      *enums.PaymentStatus  `gorm:"column:from_status"`
	ToStatus        enums.PaymentStatus   `gorm:"column:to_status;not null"`
	Metadata        json.RawMessage       `gorm:"column:metadata;type:jsonb"`
	CreatedAt       time.Time             `gorm:"column:created_at;autoCreateTime"`
}

func (LedgerEvent) TableName() string { return "ledger_events" }

func (e *LedgerEvent) BeforeCreate(*gorm.DB) error {
	assignID(&e.ID)
	return nil
}
