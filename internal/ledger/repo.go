package ledger

import (
	"context"

	"gorm.io/gorm"

	"github.com/angelmondragon/eventpay-backend/pkg/db/models"
	"github.com/angelmondragon/eventpay-backend/pkg/enums"
)

// TypeSummary aggregates the journal entries of one type for an order.
type TypeSummary struct {
	Count  int64
	Amount int64
}

// Repository is append-only: ledger rows are never updated or deleted.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, event *models.LedgerEvent) error
	ListByOrderID(ctx context.Context, orderID string) ([]models.LedgerEvent, error)
	Summarize(ctx context.Context, orderID string) (map[enums.LedgerEventType]TypeSummary, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) scoped(ctx context.Context, orderID string) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.LedgerEvent{}).Where("order_id = ?", orderID)
}

func (r *repository) Create(ctx context.Context, event *models.LedgerEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// ListByOrderID returns the journal oldest first. Rows written in the same instant keep a
// stable order through the id tiebreak.
func (r *repository) ListByOrderID(ctx context.Context, orderID string) ([]models.LedgerEvent, error) {
	var events []models.LedgerEvent
	err := r.scoped(ctx, orderID).Order("created_at ASC").Order("id ASC").Find(&events).Error
	return events, err
}

func (r *repository) Summarize(ctx context.Context, orderID string) (map[enums.LedgerEventType]TypeSummary, error) {
	var rows []struct {
		Type   enums.LedgerEventType
		Count  int64
		Amount int64
	}
	err := r.scoped(ctx, orderID).
		Select("type, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS amount").
		Group("type").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[enums.LedgerEventType]TypeSummary, len(rows))
	for _, row := range rows {
		out[row.Type] = TypeSummary{Count: row.Count, Amount: row.Amount}
	}
	return out, nil
}
