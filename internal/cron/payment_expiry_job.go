package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/eventpay-backend/internal/payments"
	"github.com/angelmondragon/eventpay-backend/pkg/db/models"
	"github.com/angelmondragon/eventpay-backend/pkg/logger"
)

const (
	defaultIntentTTL       = 30 * time.Minute
	defaultExpiryBatchSize = 200
)

type paymentExpirer interface {
	ListStaleActive(ctx context.Context, cutoff time.Time, limit int) ([]models.PaymentIntent, error)
	TryExpire(ctx context.Context, orderID string) (*models.PaymentIntent, error)
}

type PaymentExpiryJobParams struct {
	Logger    *logger.Logger
	Payments  paymentExpirer
	IntentTTL time.Duration
	BatchSize int
}

// NewPaymentExpiryJob expires checkouts that were opened but never finished, which frees the
// registration for a new attempt.
func NewPaymentExpiryJob(params PaymentExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments service required")
	}
	job := &paymentExpiryJob{
		logg:      params.Logger,
		payments:  params.Payments,
		ttl:       params.IntentTTL,
		batchSize: params.BatchSize,
		now:       time.Now,
	}
	if job.ttl <= 0 {
		job.ttl = defaultIntentTTL
	}
	if job.batchSize <= 0 {
		job.batchSize = defaultExpiryBatchSize
	}
	return job, nil
}

type paymentExpiryJob struct {
	logg      *logger.Logger
	payments  paymentExpirer
	ttl       time.Duration
	batchSize int
	now       func() time.Time
}

func (j *paymentExpiryJob) Name() string { return "payment-expiry" }

func (j *paymentExpiryJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.ttl)
	stale, err := j.payments.ListStaleActive(ctx, cutoff, j.batchSize)
	if err != nil {
		return fmt.Errorf("list stale payments: %w", err)
	}

	var (
		errs    error
		expired int
		skipped int
	)
	for _, intent := range stale {
		if ctx.Err() != nil {
			return multierr.Append(errs, ctx.Err())
		}
		_, err := j.payments.TryExpire(ctx, intent.OrderID)
		switch {
		case err == nil:
			expired++
		case errors.Is(err, payments.ErrLocked), payments.IsInvalidState(err):
			// a live request owns it or it moved on since the listing; next cycle will see.
			skipped++
		default:
			errs = multierr.Append(errs, fmt.Errorf("expire %s: %w", intent.OrderID, err))
		}
	}

	if len(stale) > 0 {
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"cutoff":  cutoff,
			"stale":   len(stale),
			"expired": expired,
			"skipped": skipped,
		}), "stale payments processed")
	}
	return errs
}
