package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/eventpay-backend/pkg/db/models"
	"github.com/angelmondragon/eventpay-backend/pkg/enums"
)

// Service defines operations that record ledger events.
type Service interface {
	WithTx(tx *gorm.DB) Service
	RecordEvent(ctx context.Context, input RecordLedgerEventInput) (*models.LedgerEvent, error)
	ListByOrderID(ctx context.Context, orderID string) ([]models.LedgerEvent, error)
	RefundedTotal(ctx context.Context, orderID string) (int64, error)
	HasEvent(ctx context.Context, orderID string, eventType enums.LedgerEventType) (bool, error)
}

type service struct {
	repo Repository
}

// RecordLedgerEventInput captures the immutable data a ledger event requires.
type RecordLedgerEventInput struct {
	PaymentIntentID uuid.UUID             `json:"payment_intent_id"`
	OrderID         string                `json:"order_id"`
	ActorUserID     *uuid.UUID            `json:"actor_user_id,omitempty"`
	Type            enums.LedgerEventType `json:"type"`
	Amount          int64                 `json:"amount"`
	FromStatus      *enums.PaymentStatus  `json:"from_status,omitempty"`
	ToStatus        enums.PaymentStatus   `json:"to_status"`
	Metadata        json.RawMessage       `json:"metadata,omitempty"`
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	if tx == nil {
		return s
	}
	return &service{repo: s.repo.WithTx(tx)}
}

func (s *service) RecordEvent(ctx context.Context, input RecordLedgerEventInput) (*models.LedgerEvent, error) {
	if input.PaymentIntentID == uuid.Nil {
		return nil, fmt.Errorf("payment intent id is required")
	}
	if strings.TrimSpace(input.OrderID) == "" {
		return nil, fmt.Errorf("order id is required")
	}
	if !input.Type.IsValid() {
		return nil, fmt.Errorf("invalid ledger event type %q", input.Type)
	}
	if !input.ToStatus.IsValid() {
		return nil, fmt.Errorf("invalid payment status %q", input.ToStatus)
	}
	if input.Amount < 0 {
		return nil, fmt.Errorf("ledger amount must not be negative")
	}

	event := &models.LedgerEvent{
		PaymentIntentID: input.PaymentIntentID,
		OrderID:         input.OrderID,
		ActorUserID:     input.ActorUserID,
		Type:            input.Type,
		Amount:          input.Amount,
		FromStatus:      input.FromStatus,
		ToStatus:        input.ToStatus,
		Metadata:        input.Metadata,
	}

	if err := s.repo.Create(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

func (s *service) ListByOrderID(ctx context.Context, orderID string) ([]models.LedgerEvent, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, fmt.Errorf("order id is required")
	}
	return s.repo.ListByOrderID(ctx, orderID)
}

// RefundedTotal sums every refund journaled for the order.
func (s *service) RefundedTotal(ctx context.Context, orderID string) (int64, error) {
	if strings.TrimSpace(orderID) == "" {
		return 0, fmt.Errorf("order id is required")
	}
	summary, err := s.repo.Summarize(ctx, orderID)
	if err != nil {
		return 0, err
	}
	return summary[enums.LedgerEventTypeRefunded].Amount, nil
}

func (s *service) HasEvent(ctx context.Context, orderID string, eventType enums.LedgerEventType) (bool, error) {
	if strings.TrimSpace(orderID) == "" {
		return false, fmt.Errorf("order id is required")
	}
	if !eventType.IsValid() {
		return false, fmt.Errorf("invalid ledger event type %q", eventType)
	}

	summary, err := s.repo.Summarize(ctx, orderID)
	if err != nil {
		return false, err
	}
	return summary[eventType].Count > 0, nil
}
