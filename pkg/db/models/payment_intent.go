package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/eventpay-backend/pkg/enums"
)

// PaymentIntent is one attempt to collect money for a registration.
type PaymentIntent struct {
	ID                uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	OrderID           string                `gorm:"column:order_id;not null;uniqueIndex"`
	RegistrationID    uuid.UUID             `gorm:"column:registration_id;type:uuid;not null;index"`
	EventID           uuid.UUID             `gorm:"column:event_id;type:uuid;not null;index"`
	UserID            *uuid.UUID            `gorm:"column:user_id;type:uuid"`
	PaymentType       enums.PaymentType     `gorm:"column:payment_type;type:payment_type;not null"`
	Provider          enums.PaymentProvider `gorm:"column:provider;type:payment_provider;not null"`
	Status            enums.PaymentStatus   `gorm:"column:status;type:payment_status;not null;default:'READY'"`
	Currency          enums.Currency        `gorm:"column:currency;not null;default:'KRW'"`
	Amount            int64                 `gorm:"column:amount;not null"`
	TaxFreeAmount     int64                 `gorm:"column:tax_free_amount;not null;default:0"`
	SuppliedAmount    int64                 `gorm:"column:supplied_amount;not null"`
	VAT               int64                 `gorm:"column:vat;not null"`
	RefundedAmount    int64                 `gorm:"column:refunded_amount;not null;default:0"`
	OrderName         string                `gorm:"column:order_name;not null"`
	ProviderOrderID   *string               `gorm:"column:provider_order_id;index"`
	ProviderReference *string               `gorm:"column:provider_reference"`
	CancelReason      *string               `gorm:"column:cancel_reason"`
	ReceiptURL        *string               `gorm:"column:receipt_url"`
	DepositSecret     *string               `gorm:"column:deposit_secret"`
	Note              *string               `gorm:"column:note"`
	ManualDetails     json.RawMessage       `gorm:"column:manual_details;type:jsonb"`
	RequestedAt       *time.Time            `gorm:"column:requested_at"`
	ApprovedAt        *time.Time            `gorm:"column:approved_at"`
	CanceledAt        *time.Time            `gorm:"column:canceled_at"`
	ClosedAt          *time.Time            `gorm:"column:closed_at"`
	CreatedAt         time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (PaymentIntent) TableName() string { return "payment_intents" }

func (p *PaymentIntent) BeforeCreate(*gorm.DB) error {
	assignID(&p.ID)
	return nil
}

// RemainingAmount returns the captured amount that has not been refunded yet.
func (p *PaymentIntent) RemainingAmount() int64 {
	return p.Amount - p.RefundedAmount
}
