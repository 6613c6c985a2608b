package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/eventpay-backend/internal/repo"
	"github.com/angelmondragon/eventpay-backend/pkg/db/models"
	"github.com/angelmondragon/eventpay-backend/pkg/enums"
	"github.com/angelmondragon/eventpay-backend/pkg/pagination"
)

// Repository persists payment intents.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, intent *models.PaymentIntent) error
	Update(ctx context.Context, intent *models.PaymentIntent) error
	FindByOrderID(ctx context.Context, orderID string) (*models.PaymentIntent, error)
	FindByOrderIDForUpdate(ctx context.Context, orderID string) (*models.PaymentIntent, error)
	FindByProviderOrderID(ctx context.Context, providerOrderID string) (*models.PaymentIntent, error)
	FindActiveByRegistration(ctx context.Context, registrationID uuid.UUID) (*models.PaymentIntent, error)
	FindLatestByRegistration(ctx context.Context, registrationID uuid.UUID) (*models.PaymentIntent, error)
	ListByUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (*IntentList, error)
	ListByEvent(ctx context.Context, eventID uuid.UUID, params pagination.Params, filters EventFilters) (*IntentList, error)
	ListStaleActive(ctx context.Context, cutoff time.Time, limit int) ([]models.PaymentIntent, error)
}

// EventFilters narrows the admin listing of an event's payments.
type EventFilters struct {
	Status      *enums.PaymentStatus
	PaymentType *enums.PaymentType
}

// IntentList is one page of intents, newest first.
type IntentList struct {
	Items      []models.PaymentIntent `json:"items"`
	NextCursor string                 `json:"nextCursor,omitempty"`
}

type repository struct {
	base repo.Base
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{base: r.base.WithTx(tx)}
}

func (r *repository) Create(ctx context.Context, intent *models.PaymentIntent) error {
	return r.base.DB(ctx).Create(intent).Error
}

func (r *repository) Update(ctx context.Context, intent *models.PaymentIntent) error {
	return r.base.DB(ctx).Save(intent).Error
}

func (r *repository) FindByOrderID(ctx context.Context, orderID string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	if err := r.base.DB(ctx).Where("order_id = ?", orderID).First(&intent).Error; err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *repository) FindByOrderIDForUpdate(ctx context.Context, orderID string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	if err := r.base.ForUpdate(ctx).Where("order_id = ?", orderID).First(&intent).Error; err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *repository) FindByProviderOrderID(ctx context.Context, providerOrderID string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	if err := r.base.DB(ctx).Where("provider_order_id = ?", providerOrderID).First(&intent).Error; err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *repository) FindActiveByRegistration(ctx context.Context, registrationID uuid.UUID) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	if err := r.base.DB(ctx).
		Where("registration_id = ? AND status IN ?", registrationID, enums.ActivePaymentStatuses).
		Order("created_at DESC").
		First(&intent).Error; err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *repository) FindLatestByRegistration(ctx context.Context, registrationID uuid.UUID) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	if err := r.base.DB(ctx).
		Where("registration_id = ?", registrationID).
		Order("created_at DESC, id DESC").
		First(&intent).Error; err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (*IntentList, error) {
	q := r.base.DB(ctx).Model(&models.PaymentIntent{}).Where("user_id = ?", userID)
	return r.page(q, params)
}

func (r *repository) ListByEvent(ctx context.Context, eventID uuid.UUID, params pagination.Params, filters EventFilters) (*IntentList, error) {
	q := r.base.DB(ctx).Model(&models.PaymentIntent{}).Where("event_id = ?", eventID)
	if filters.Status != nil {
		q = q.Where("status = ?", *filters.Status)
	}
	if filters.PaymentType != nil {
		q = q.Where("payment_type = ?", *filters.PaymentType)
	}
	return r.page(q, params)
}

// ListStaleActive returns intents still waiting on checkout that were opened before cutoff.
// WAITING_FOR_DEPOSIT is excluded: the provider closes those through the deposit callback.
func (r *repository) ListStaleActive(ctx context.Context, cutoff time.Time, limit int) ([]models.PaymentIntent, error) {
	var intents []models.PaymentIntent
	q := r.base.DB(ctx).
		Where("status IN ? AND created_at < ?", []enums.PaymentStatus{
			enums.PaymentStatusReady,
			enums.PaymentStatusRequested,
			enums.PaymentStatusInProgress,
		}, cutoff).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&intents).Error; err != nil {
		return nil, err
	}
	return intents, nil
}

func (r *repository) page(q *gorm.DB, params pagination.Params) (*IntentList, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}
	limit := pagination.NormalizeLimit(params.Limit)

	var rows []models.PaymentIntent
	if err := repo.AfterCursor(q, cursor).
		Order("created_at DESC, id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit)).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	list := &IntentList{Items: rows}
	if len(rows) > limit {
		last := rows[limit-1]
		list.Items = rows[:limit]
		list.NextCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return list, nil
}
