package payments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/eventpay-backend/internal/ledger"
	"github.com/angelmondragon/eventpay-backend/pkg/config"
	"github.com/angelmondragon/eventpay-backend/pkg/db"
	"github.com/angelmondragon/eventpay-backend/pkg/db/models"
	"github.com/angelmondragon/eventpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/eventpay-backend/pkg/errors"
	"github.com/angelmondragon/eventpay-backend/pkg/logger"
	"github.com/angelmondragon/eventpay-backend/pkg/metrics"
	"github.com/angelmondragon/eventpay-backend/pkg/outbox"
	"github.com/angelmondragon/eventpay-backend/pkg/pagination"
	"github.com/angelmondragon/eventpay-backend/pkg/toss"
)

type fakeGateway struct {
	mu sync.Mutex

	createErr  error
	captureErr error
	cancelErr  error
	// captured overrides the amount the provider reports on capture.
	captured      *int64
	awaitDeposit  bool
	depositSecret string

	creates    int
	captures   int
	cancels    int
	cancelReqs []CancelRequest
}

func (f *fakeGateway) Provider() enums.PaymentProvider { return enums.PaymentProviderToss }

func (f *fakeGateway) CreateOrder(_ context.Context, intent *models.PaymentIntent) (*Checkout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &Checkout{Provider: enums.PaymentProviderToss, OrderID: intent.OrderID, ProviderOrderID: "prov-" + intent.OrderID, Amount: intent.Amount}, nil
}

func (f *fakeGateway) CaptureOrder(_ context.Context, req CaptureRequest) (*CaptureResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captures++
	if f.captureErr != nil {
		return nil, f.captureErr
	}
	amount := req.ExpectedAmount
	if f.captured != nil {
		amount = *f.captured
	}
	if amount != req.ExpectedAmount {
		return nil, AmountMismatchError(req.OrderID, req.ExpectedAmount, amount)
	}
	result := &CaptureResult{
		Status:            CaptureCaptured,
		CapturedAmount:    amount,
		ProviderReference: "pk-" + req.OrderID,
		ReceiptURL:        "https://receipts.example/" + req.OrderID,
	}
	if f.awaitDeposit {
		result.Status = CaptureAwaitingDeposit
		result.DepositSecret = f.depositSecret
		result.ReceiptURL = ""
	}
	return result, nil
}

func (f *fakeGateway) CancelOrder(_ context.Context, req CancelRequest) (*CancelResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	f.cancelReqs = append(f.cancelReqs, req)
	return &CancelResult{RefundedAmount: req.Amount, ProviderRefundID: fmt.Sprintf("tx-%d", f.cancels)}, nil
}

type harness struct {
	db      *gorm.DB
	svc     Service
	gw      *fakeGateway
	locker  *LocalLocker
	metrics *metrics.PaymentMetrics
	reg     *prometheus.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithRandom(t, nil)
}

func newHarnessWithRandom(t *testing.T, rnd io.Reader) *harness {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, conn.AutoMigrate(&models.PaymentIntent{}, &models.LedgerEvent{}, &models.OutboxEvent{}))

	logg := logger.New(logger.Options{ServiceName: "payments-test", Output: io.Discard})
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	require.NoError(t, err)

	gw := &fakeGateway{}
	reg := prometheus.NewRegistry()
	m := metrics.NewPaymentMetrics(reg)
	locker := NewLocalLocker(5 * time.Second)
	svc, err := NewService(ServiceParams{
		Repo:   NewRepository(conn),
		Tx:     db.NewFromConn(conn),
		Ledger: ledgerSvc,
		Outbox: outbox.NewService(outbox.NewRepository(conn), logg, "payments-test"),
		Gateways: NewGateways(map[enums.PaymentType]Gateway{
			enums.PaymentTypeDomesticCard:        gw,
			enums.PaymentTypeBankTransfer:        gw,
			enums.PaymentTypeInternationalWallet: gw,
			enums.PaymentTypeManual:              NewManualGateway(),
		}),
		Locker:  locker,
		Metrics: m,
		Logger:  logg,
		Config: config.PaymentsConfig{
			DefaultCancelReason: "admin cancel",
			GatewayTimeout:      5 * time.Second,
		},
		Random: rnd,
	})
	require.NoError(t, err)
	return &harness{db: conn, svc: svc, gw: gw, locker: locker, metrics: m, reg: reg}
}

func (h *harness) requested(t *testing.T, amount int64) *models.PaymentIntent {
	t.Helper()
	res, err := h.svc.RequestCheckout(context.Background(), OpenIntentInput{NewIntentInput: NewIntentInput{
		RegistrationID: uuid.New(),
		EventID:        uuid.New(),
		Amount:         amount,
		PaymentType:    enums.PaymentTypeDomesticCard,
	}})
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusRequested, res.Intent.Status)
	return res.Intent
}

func (h *harness) paid(t *testing.T, amount int64) *models.PaymentIntent {
	t.Helper()
	intent := h.requested(t, amount)
	done, err := h.svc.Confirm(context.Background(), ConfirmInput{OrderID: intent.OrderID, PaymentKey: "pk"})
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusDone, done.Status)
	return done
}

func (h *harness) countRows(t *testing.T, model any, where string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.db.Model(model).Where(where, args...).Count(&n).Error)
	return n
}

func ptr[T any](v T) *T { return &v }

func TestOpenIntentComputesSplit(t *testing.T) {
	h := newHarness(t)
	intent, err := h.svc.OpenIntent(context.Background(), OpenIntentInput{NewIntentInput: NewIntentInput{
		RegistrationID: uuid.New(),
		EventID:        uuid.New(),
		Amount:         110000,
		PaymentType:    enums.PaymentTypeDomesticCard,
	}})
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusReady, intent.Status)
	require.Equal(t, int64(10000), intent.VAT)
	require.Equal(t, int64(100000), intent.SuppliedAmount)
	require.Regexp(t, `^[0-9]{6}[0-9a-z]{8}$`, intent.OrderID)

	require.Equal(t, int64(1), h.countRows(t, &models.LedgerEvent{}, "order_id = ?", intent.OrderID))
	require.Equal(t, int64(1), h.countRows(t, &models.OutboxEvent{}, "aggregate_id = ?", intent.ID))
}

func TestOpenIntentConflictsWithActiveIntent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	input := OpenIntentInput{NewIntentInput: NewIntentInput{
		RegistrationID: uuid.New(),
		EventID:        uuid.New(),
		Amount:         50000,
		PaymentType:    enums.PaymentTypeDomesticCard,
	}}
	first, err := h.svc.OpenIntent(ctx, input)
	require.NoError(t, err)

	_, err = h.svc.OpenIntent(ctx, input)
	require.True(t, IsConflict(err), "expected conflict, got %v", err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, first.OrderID, typed.Details().(map[string]any)["orderId"])

	_, err = h.svc.Expire(ctx, first.OrderID, Actor{Role: "system"})
	require.NoError(t, err)
	second, err := h.svc.OpenIntent(ctx, input)
	require.NoError(t, err)
	require.NotEqual(t, first.OrderID, second.OrderID)

	latest, err := h.svc.GetByRegistration(ctx, input.RegistrationID)
	require.NoError(t, err)
	require.Equal(t, second.OrderID, latest.OrderID)
}

// sameReader always yields the same bytes, so every generated order id collides.
type sameReader struct{}

func (sameReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 7
	}
	return len(p), nil
}

func TestOpenIntentRetriesOrderIDCollision(t *testing.T) {
	fixed := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	h := newHarnessWithRandom(t, sameReader{})
	h.svc.(*service).now = func() time.Time { return fixed }
	ctx := context.Background()

	open := func() error {
		_, err := h.svc.OpenIntent(ctx, OpenIntentInput{NewIntentInput: NewIntentInput{
			RegistrationID: uuid.New(),
			EventID:        uuid.New(),
			Amount:         1000,
			PaymentType:    enums.PaymentTypeDomesticCard,
		}})
		return err
	}
	require.NoError(t, open())
	err := open()
	require.Error(t, err)
	require.True(t, db.IsUniqueViolation(err, "order_id"), "expected unique violation after retries, got %v", err)
	require.Equal(t, int64(1), h.countRows(t, &models.PaymentIntent{}, "1 = 1"))
}

func TestRequestCheckoutRejectsManual(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.RequestCheckout(context.Background(), OpenIntentInput{NewIntentInput: NewIntentInput{
		RegistrationID: uuid.New(),
		Amount:         1000,
		PaymentType:    enums.PaymentTypeManual,
	}})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func checkoutInput(regID uuid.UUID, userID *uuid.UUID) OpenIntentInput {
	return OpenIntentInput{
		NewIntentInput: NewIntentInput{
			RegistrationID: regID,
			UserID:         userID,
			Amount:         1000,
			PaymentType:    enums.PaymentTypeDomesticCard,
		},
		Actor: Actor{UserID: userID, Role: "attendee"},
	}
}

func TestRequestCheckoutRetriesAfterGatewayFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	regID := uuid.New()
	h.gw.createErr = errors.New("connection reset")

	_, err := h.svc.RequestCheckout(ctx, checkoutInput(regID, nil))
	require.True(t, IsGateway(err), "expected gateway error, got %v", err)
	failed, err := h.svc.GetByRegistration(ctx, regID)
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusExpired, failed.Status)

	h.gw.createErr = nil
	res, err := h.svc.RequestCheckout(ctx, checkoutInput(regID, nil))
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusRequested, res.Intent.Status)
	require.NotEqual(t, failed.OrderID, res.Intent.OrderID)
}

func TestRequestCheckoutReplacesAbandonedCheckout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	regID, userID := uuid.New(), uuid.New()

	first, err := h.svc.RequestCheckout(ctx, checkoutInput(regID, &userID))
	require.NoError(t, err)
	second, err := h.svc.RequestCheckout(ctx, checkoutInput(regID, &userID))
	require.NoError(t, err)
	require.NotEqual(t, first.Intent.OrderID, second.Intent.OrderID)

	old, err := h.svc.Get(ctx, first.Intent.OrderID)
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusExpired, old.Status)
	require.Equal(t, int64(1), h.countRows(t, &models.LedgerEvent{}, "order_id = ? AND type = ?", old.OrderID, enums.LedgerEventTypeExpired))

	latest, err := h.svc.GetByRegistration(ctx, regID)
	require.NoError(t, err)
	require.Equal(t, second.Intent.OrderID, latest.OrderID)

	_, err = h.svc.Confirm(ctx, ConfirmInput{OrderID: old.OrderID, PaymentKey: "pk"})
	require.True(t, IsInvalidState(err), "expected invalid state, got %v", err)
}

func TestRequestCheckoutKeepsIntentsItCannotReplace(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner, other := uuid.New(), uuid.New()

	// another user's checkout
	regID := uuid.New()
	first, err := h.svc.RequestCheckout(ctx, checkoutInput(regID, &owner))
	require.NoError(t, err)
	_, err = h.svc.RequestCheckout(ctx, checkoutInput(regID, &other))
	require.True(t, IsConflict(err), "expected conflict, got %v", err)

	// capture already under way
	_, err = h.svc.MarkApproved(ctx, first.Intent.OrderID, Actor{})
	require.NoError(t, err)
	_, err = h.svc.RequestCheckout(ctx, checkoutInput(regID, &owner))
	require.True(t, IsConflict(err), "expected conflict, got %v", err)

	// another operation holds the order
	busyReg := uuid.New()
	busy, err := h.svc.RequestCheckout(ctx, checkoutInput(busyReg, &owner))
	require.NoError(t, err)
	release, err := h.locker.Acquire(ctx, orderLockKey(busy.Intent.OrderID))
	require.NoError(t, err)
	_, err = h.svc.RequestCheckout(ctx, checkoutInput(busyReg, &owner))
	release()
	require.True(t, IsConflict(err), "expected conflict, got %v", err)

	for orderID, want := range map[string]enums.PaymentStatus{
		first.Intent.OrderID: enums.PaymentStatusInProgress,
		busy.Intent.OrderID:  enums.PaymentStatusRequested,
	} {
		stored, err := h.svc.Get(ctx, orderID)
		require.NoError(t, err)
		require.Equal(t, want, stored.Status)
	}
}

func TestRequestCheckoutDefaultsWalletToUSD(t *testing.T) {
	h := newHarness(t)
	res, err := h.svc.RequestCheckout(context.Background(), OpenIntentInput{NewIntentInput: NewIntentInput{
		RegistrationID: uuid.New(),
		Amount:         2500,
		PaymentType:    enums.PaymentTypeInternationalWallet,
	}})
	require.NoError(t, err)
	require.Equal(t, enums.CurrencyUSD, res.Intent.Currency)
	require.Equal(t, "prov-"+res.Intent.OrderID, res.Checkout.ProviderOrderID)
	require.Equal(t, "prov-"+res.Intent.OrderID, *res.Intent.ProviderOrderID)

	found, err := h.svc.GetByProviderOrderID(context.Background(), res.Checkout.ProviderOrderID)
	require.NoError(t, err)
	require.Equal(t, res.Intent.OrderID, found.OrderID)
}

func TestConfirmIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	intent := h.requested(t, 50000)

	first, err := h.svc.Confirm(ctx, ConfirmInput{OrderID: intent.OrderID, Amount: ptr(int64(50000)), PaymentKey: "pk"})
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusDone, first.Status)
	require.Equal(t, "https://receipts.example/"+intent.OrderID, *first.ReceiptURL)

	second, err := h.svc.Confirm(ctx, ConfirmInput{OrderID: intent.OrderID, Amount: ptr(int64(50000)), PaymentKey: "pk"})
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusDone, second.Status)
	require.Equal(t, first.ID, second.ID)

	require.Equal(t, 1, h.gw.captures)
	require.Equal(t, int64(1), h.countRows(t, &models.LedgerEvent{}, "order_id = ? AND type = ?", intent.OrderID, enums.LedgerEventTypeCaptured))
	require.Equal(t, int64(1), h.countRows(t, &models.OutboxEvent{}, "aggregate_id = ? AND event_type = ?", intent.ID, enums.EventPaymentConfirmed))

	receipt, err := h.svc.Receipt(ctx, intent.OrderID)
	require.NoError(t, err)
	require.Contains(t, receipt, intent.OrderID)

	require.Equal(t, float64(1), h.transitions(t, "toss", "REQUESTED", "DONE"))
}

func (h *harness) transitions(t *testing.T, provider, from, to string) float64 {
	t.Helper()
	families, err := h.reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "eventpay_payment_transitions_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["provider"] == provider && labels["from"] == from && labels["to"] == to {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestConfirmClientAmountMismatchLeavesStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	intent := h.requested(t, 100000)

	_, err := h.svc.Confirm(ctx, ConfirmInput{OrderID: intent.OrderID, Amount: ptr(int64(99999)), PaymentKey: "pk"})
	require.True(t, IsAmountMismatch(err), "expected amount mismatch, got %v", err)
	require.Equal(t, 0, h.gw.captures)

	stored, err := h.svc.Get(ctx, intent.OrderID)
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusRequested, stored.Status)
	require.Equal(t, int64(0), h.countRows(t, &models.LedgerEvent{}, "order_id = ? AND type IN ?", intent.OrderID,
		[]enums.LedgerEventType{enums.LedgerEventTypeApproved, enums.LedgerEventTypeCaptured}))
}

func TestConfirmProviderAmountMismatchLeavesStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	intent := h.requested(t, 100000)
	h.gw.captured = ptr(int64(1000))

	_, err := h.svc.Confirm(ctx, ConfirmInput{OrderID: intent.OrderID, PaymentKey: "pk"})
	require.True(t, IsAmountMismatch(err), "expected amount mismatch, got %v", err)

	stored, err := h.svc.Get(ctx, intent.OrderID)
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusRequested, stored.Status)
}

func TestConfirmGatewayFailureThenRetry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	intent := h.requested(t, 20000)
	h.gw.captureErr = errors.New("card declined")

	_, err := h.svc.Confirm(ctx, ConfirmInput{OrderID: intent.OrderID, PaymentKey: "pk"})
	require.True(t, IsGateway(err), "expected gateway error, got %v", err)
	stored, err := h.svc.Get(ctx, intent.OrderID)
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusRequested, stored.Status)

	h.gw.captureErr = nil
	done, err := h.svc.Confirm(ctx, ConfirmInput{OrderID: intent.OrderID, PaymentKey: "pk"})
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusDone, done.Status)
}

func TestConfirmConcurrentCallersCaptureOnce(t *testing.T) {
	h := newHarness(t)
	intent := h.requested(t, 30000)

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := h.svc.Confirm(context.Background(), ConfirmInput{OrderID: intent.OrderID, PaymentKey: "pk"})
			if err == nil && got.Status != enums.PaymentStatusDone {
				err = fmt.Errorf("unexpected status %s", got.Status)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, 1, h.gw.captures)
	require.Equal(t, int64(1), h.countRows(t, &models.LedgerEvent{}, "order_id = ? AND type = ?", intent.OrderID, enums.LedgerEventTypeCaptured))
}

func TestConfirmRejectsClosedIntent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	intent := h.requested(t, 1000)
	_, err := h.svc.Abort(ctx, AbortInput{OrderID: intent.OrderID, Code: "USER_CANCEL"})
	require.NoError(t, err)

	_, err = h.svc.Confirm(ctx, ConfirmInput{OrderID: intent.OrderID, PaymentKey: "pk"})
	require.True(t, IsInvalidState(err), "expected invalid state, got %v", err)

	again, err := h.svc.Abort(ctx, AbortInput{OrderID: intent.OrderID})
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusAborted, again.Status)
}

func TestMarkApprovedThenConfirm(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	intent := h.requested(t, 4000)

	approved, err := h.svc.MarkApproved(ctx, intent.OrderID, Actor{})
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusInProgress, approved.Status)
	_, err = h.svc.MarkApproved(ctx, intent.OrderID, Actor{})
	require.NoError(t, err)
	require.Equal(t, int64(1), h.countRows(t, &models.LedgerEvent{}, "order_id = ? AND type = ?", intent.OrderID, enums.LedgerEventTypeApproved))

	done, err := h.svc.Confirm(ctx, ConfirmInput{OrderID: intent.OrderID, PaymentKey: "pk"})
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusDone, done.Status)
}

func TestPartialCancelSequenceThroughService(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	intent := h.paid(t, 50000)

	got, err := h.svc.Cancel(ctx, CancelInput{OrderID: intent.OrderID, Partial: true, Amount: 20000, Reason: "one seat"})
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusPartialCanceled, got.Status)
	require.Equal(t, int64(20000), got.RefundedAmount)

	_, err = h.svc.Cancel(ctx, CancelInput{OrderID: intent.OrderID, Partial: true, Amount: 40000})
	require.True(t, IsOverRefund(err), "expected over refund, got %v", err)
	stored, err := h.svc.Get(ctx, intent.OrderID)
	require.NoError(t, err)
	require.Equal(t, int64(20000), stored.RefundedAmount)
	require.Equal(t, 1, h.gw.cancels)

	got, err = h.svc.Cancel(ctx, CancelInput{OrderID: intent.OrderID, Partial: true, Amount: 30000})
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusCanceled, got.Status)
	require.Equal(t, int64(50000), got.RefundedAmount)
	require.Equal(t, "admin cancel", *got.CancelReason)

	require.Len(t, h.gw.cancelReqs, 2)
	require.Equal(t, "cancel-"+intent.OrderID+"-0", h.gw.cancelReqs[0].IdempotencyKey)
	require.Equal(t, "cancel-"+intent.OrderID+"-20000", h.gw.cancelReqs[1].IdempotencyKey)
	require.False(t, h.gw.cancelReqs[1].Full)

	history, err := h.svc.History(ctx, intent.OrderID)
	require.NoError(t, err)
	var refunded int64
	for _, ev := range history {
		if ev.Type == enums.LedgerEventTypeRefunded {
			refunded += ev.Amount
		}
	}
	require.Equal(t, int64(50000), refunded)
}

func TestCancelGatewayFailureLeavesStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	intent := h.paid(t, 10000)
	h.gw.cancelErr = errors.New("provider timeout")

	_, err := h.svc.Cancel(ctx, CancelInput{OrderID: intent.OrderID})
	require.True(t, IsGateway(err), "expected gateway error, got %v", err)

	stored, err := h.svc.Get(ctx, intent.OrderID)
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusDone, stored.Status)
	require.Zero(t, stored.RefundedAmount)
	require.Equal(t, int64(0), h.countRows(t, &models.LedgerEvent{}, "order_id = ? AND type = ?", intent.OrderID, enums.LedgerEventTypeRefunded))
}

func TestCancelBeforePaymentIsInvalid(t *testing.T) {
	h := newHarness(t)
	intent := h.requested(t, 10000)
	_, err := h.svc.Cancel(context.Background(), CancelInput{OrderID: intent.OrderID})
	require.True(t, IsInvalidState(err), "expected invalid state, got %v", err)
	require.Equal(t, 0, h.gw.cancels)
}

func TestDepositCallbackFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.gw.awaitDeposit = true
	h.gw.depositSecret = "dep-secret"
	res, err := h.svc.RequestCheckout(ctx, OpenIntentInput{NewIntentInput: NewIntentInput{
		RegistrationID: uuid.New(),
		Amount:         33000,
		PaymentType:    enums.PaymentTypeBankTransfer,
	}})
	require.NoError(t, err)

	waiting, err := h.svc.Confirm(ctx, ConfirmInput{OrderID: res.Intent.OrderID, PaymentKey: "pk"})
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusWaitingForDeposit, waiting.Status)
	require.NotNil(t, waiting.DepositSecret)
	require.NotEqual(t, "dep-secret", *waiting.DepositSecret)

	_, err = h.svc.HandleDepositCallback(ctx, DepositCallbackInput{OrderID: res.Intent.OrderID, Secret: "wrong", Status: toss.StatusDone})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden), "expected forbidden, got %v", err)

	same, err := h.svc.HandleDepositCallback(ctx, DepositCallbackInput{OrderID: res.Intent.OrderID, Secret: "dep-secret", Status: toss.StatusWaitingForDeposit})
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusWaitingForDeposit, same.Status)

	done, err := h.svc.HandleDepositCallback(ctx, DepositCallbackInput{OrderID: res.Intent.OrderID, Secret: "dep-secret", Status: toss.StatusDone, TransactionKey: "tx-1"})
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusDone, done.Status)

	again, err := h.svc.HandleDepositCallback(ctx, DepositCallbackInput{OrderID: res.Intent.OrderID, Secret: "dep-secret", Status: toss.StatusDone})
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusDone, again.Status)
	require.Equal(t, int64(1), h.countRows(t, &models.LedgerEvent{}, "order_id = ? AND type = ?", res.Intent.OrderID, enums.LedgerEventTypeDepositSettled))
}

func TestDepositCallbackCanceledClosesIntent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.gw.awaitDeposit = true
	h.gw.depositSecret = "s"
	intent := h.requested(t, 5000)
	_, err := h.svc.Confirm(ctx, ConfirmInput{OrderID: intent.OrderID, PaymentKey: "pk"})
	require.NoError(t, err)

	closed, err := h.svc.HandleDepositCallback(ctx, DepositCallbackInput{OrderID: intent.OrderID, Secret: "s", Status: toss.StatusCanceled})
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusExpired, closed.Status)

	_, err = h.svc.OpenIntent(ctx, OpenIntentInput{NewIntentInput: NewIntentInput{
		RegistrationID: intent.RegistrationID,
		Amount:         5000,
		PaymentType:    enums.PaymentTypeBankTransfer,
	}})
	require.NoError(t, err)
}

func TestRecordManualPayment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	admin := uuid.New()

	intent, err := h.svc.RecordManualPayment(ctx, ManualPaymentInput{
		RegistrationID: uuid.New(),
		EventID:        uuid.New(),
		Amount:         110000,
		SuppliedAmount: ptr(int64(100001)),
		VAT:            ptr(int64(9999)),
		Method:         enums.ManualMethodCard,
		Card: &ManualCardDetails{
			CardType:       "VISA",
			CardNumber:     "4111-1111-1111-1234",
			ApprovalNumber: "00981234",
		},
		Note:  "paid at the door",
		Actor: Actor{UserID: &admin, Role: "admin"},
	})
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusDone, intent.Status)
	require.Equal(t, enums.PaymentProviderManual, intent.Provider)
	require.Equal(t, int64(9999), intent.VAT)
	require.Contains(t, string(intent.ManualDetails), "************1234")
	require.NotContains(t, string(intent.ManualDetails), "4111")
	require.Equal(t, "paid at the door", *intent.Note)
	require.True(t, strings.HasPrefix(*intent.ProviderOrderID, "manual-"))

	stored, err := h.svc.Get(ctx, intent.OrderID)
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusDone, stored.Status)

	cancelled, err := h.svc.Cancel(ctx, CancelInput{OrderID: intent.OrderID, Reason: "refunded in cash"})
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusCanceled, cancelled.Status)
	require.Equal(t, 0, h.gw.cancels)
}

func TestRecordManualPaymentValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	base := ManualPaymentInput{RegistrationID: uuid.New(), Amount: 10000, Method: enums.ManualMethodTransfer}

	_, err := h.svc.RecordManualPayment(ctx, base)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	bad := base
	bad.Transfer = &ManualTransferDetails{TransactionDatetime: time.Now(), TransactionDescription: "KIM"}
	bad.SuppliedAmount, bad.VAT = ptr(int64(9000)), ptr(int64(900))
	_, err = h.svc.RecordManualPayment(ctx, bad)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "split must add up, got %v", err)
	require.Equal(t, int64(0), h.countRows(t, &models.PaymentIntent{}, "registration_id = ?", base.RegistrationID))

	bad.SuppliedAmount, bad.VAT = nil, nil
	intent, err := h.svc.RecordManualPayment(ctx, bad)
	require.NoError(t, err)
	require.Equal(t, int64(909), intent.VAT)
}

func TestTryExpireSkipsLockedIntent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	intent := h.requested(t, 1000)

	release, err := h.locker.Acquire(ctx, orderLockKey(intent.OrderID))
	require.NoError(t, err)
	_, err = h.svc.TryExpire(ctx, intent.OrderID)
	require.ErrorIs(t, err, ErrLocked)
	release()

	expired, err := h.svc.TryExpire(ctx, intent.OrderID)
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusExpired, expired.Status)

	_, err = h.svc.TryExpire(ctx, intent.OrderID)
	require.True(t, IsInvalidState(err))
}

func TestListStaleActive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	stale := h.requested(t, 1000)
	h.paid(t, 2000)

	intents, err := h.svc.ListStaleActive(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, intents, 1)
	require.Equal(t, stale.OrderID, intents[0].OrderID)

	intents, err = h.svc.ListStaleActive(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Empty(t, intents)
}

func TestListForUserPages(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := uuid.New()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		intent, err := h.svc.OpenIntent(ctx, OpenIntentInput{NewIntentInput: NewIntentInput{
			RegistrationID: uuid.New(),
			UserID:         &user,
			Amount:         1000,
			PaymentType:    enums.PaymentTypeDomesticCard,
		}})
		require.NoError(t, err)
		require.NoError(t, h.db.Model(&models.PaymentIntent{}).Where("id = ?", intent.ID).
			Update("created_at", base.Add(time.Duration(i)*time.Minute)).Error)
	}

	page, err := h.svc.ListForUser(ctx, user, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)

	rest, err := h.svc.ListForUser(ctx, user, pagination.Params{Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, rest.Items, 1)
	require.Empty(t, rest.NextCursor)

	_, err = h.svc.ListForUser(ctx, user, pagination.Params{Cursor: "!!"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestUpdateNote(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	intent := h.paid(t, 1000)

	got, err := h.svc.UpdateNote(ctx, intent.OrderID, "  called the attendee  ", Actor{Role: "admin"})
	require.NoError(t, err)
	require.Equal(t, "called the attendee", *got.Note)
	require.Equal(t, enums.PaymentStatusDone, got.Status)

	_, err = h.svc.UpdateNote(ctx, intent.OrderID, strings.Repeat("가", maxNoteLength+1), Actor{})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	cleared, err := h.svc.UpdateNote(ctx, intent.OrderID, "", Actor{})
	require.NoError(t, err)
	require.Nil(t, cleared.Note)
}

func TestGetUnknownOrder(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Get(context.Background(), "000000unknown0")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}
