package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/angelmondragon/eventpay-backend/internal/payments"
	"github.com/angelmondragon/eventpay-backend/pkg/db/models"
	"github.com/angelmondragon/eventpay-backend/pkg/enums"
	"github.com/angelmondragon/eventpay-backend/pkg/logger"
)

type fakeExpirer struct {
	stale      []models.PaymentIntent
	listErr    error
	failures   map[string]error
	expired    []string
	lastCutoff time.Time
	lastLimit  int
}

func (f *fakeExpirer) ListStaleActive(_ context.Context, cutoff time.Time, limit int) ([]models.PaymentIntent, error) {
	f.lastCutoff = cutoff
	f.lastLimit = limit
	return f.stale, f.listErr
}

func (f *fakeExpirer) TryExpire(_ context.Context, orderID string) (*models.PaymentIntent, error) {
	if err := f.failures[orderID]; err != nil {
		return nil, err
	}
	f.expired = append(f.expired, orderID)
	return &models.PaymentIntent{OrderID: orderID, Status: enums.PaymentStatusExpired}, nil
}

func newPaymentExpiryJob(t *testing.T, expirer *fakeExpirer, ttl time.Duration) *paymentExpiryJob {
	t.Helper()
	jobIface, err := NewPaymentExpiryJob(PaymentExpiryJobParams{
		Logger:    logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Payments:  expirer,
		IntentTTL: ttl,
		BatchSize: 50,
	})
	if err != nil {
		t.Fatalf("NewPaymentExpiryJob: %v", err)
	}
	return jobIface.(*paymentExpiryJob)
}

func TestPaymentExpiryJobExpiresStaleIntents(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expirer := &fakeExpirer{stale: []models.PaymentIntent{{OrderID: "a"}, {OrderID: "b"}}}
	job := newPaymentExpiryJob(t, expirer, 45*time.Minute)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if want := now.Add(-45 * time.Minute); !expirer.lastCutoff.Equal(want) {
		t.Fatalf("expected cutoff %s, got %s", want, expirer.lastCutoff)
	}
	if expirer.lastLimit != 50 {
		t.Fatalf("expected limit 50, got %d", expirer.lastLimit)
	}
	if len(expirer.expired) != 2 {
		t.Fatalf("expected 2 expirations, got %v", expirer.expired)
	}
}

func TestPaymentExpiryJobSkipsLockedAndMovedIntents(t *testing.T) {
	expirer := &fakeExpirer{
		stale: []models.PaymentIntent{{OrderID: "locked"}, {OrderID: "paid"}, {OrderID: "ok"}},
		failures: map[string]error{
			"locked": payments.ErrLocked,
			"paid":   payments.InvalidStateError("expire", "paid", enums.PaymentStatusDone),
		},
	}
	job := newPaymentExpiryJob(t, expirer, 0)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(expirer.expired) != 1 || expirer.expired[0] != "ok" {
		t.Fatalf("expected only ok expired, got %v", expirer.expired)
	}
}

func TestPaymentExpiryJobAggregatesFailures(t *testing.T) {
	expirer := &fakeExpirer{
		stale: []models.PaymentIntent{{OrderID: "x"}, {OrderID: "y"}, {OrderID: "z"}},
		failures: map[string]error{
			"x": errors.New("db down"),
			"z": errors.New("db still down"),
		},
	}
	job := newPaymentExpiryJob(t, expirer, 0)

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("expected aggregated error")
	}
	if len(expirer.expired) != 1 || expirer.expired[0] != "y" {
		t.Fatalf("expected y to still expire, got %v", expirer.expired)
	}
}

func TestPaymentExpiryJobListFailure(t *testing.T) {
	job := newPaymentExpiryJob(t, &fakeExpirer{listErr: errors.New("boom")}, 0)
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
