package payments

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/eventpay-backend/pkg/config"
	"github.com/angelmondragon/eventpay-backend/pkg/db/models"
	"github.com/angelmondragon/eventpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/eventpay-backend/pkg/errors"
	"github.com/angelmondragon/eventpay-backend/pkg/paypal"
	"github.com/angelmondragon/eventpay-backend/pkg/toss"
)

func TestGatewaysRegistry(t *testing.T) {
	gws := NewGateways(map[enums.PaymentType]Gateway{
		enums.PaymentTypeManual:       NewManualGateway(),
		enums.PaymentTypeDomesticCard: nil,
	})
	require.True(t, gws.Supports(enums.PaymentTypeManual))
	require.False(t, gws.Supports(enums.PaymentTypeDomesticCard))
	_, err := gws.For(enums.PaymentTypeInternationalWallet)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestLazyGatewayInitializesOnce(t *testing.T) {
	var builds atomic.Int32
	release := make(chan struct{})
	gw := Lazy(enums.PaymentProviderManual, func(context.Context) (Gateway, error) {
		builds.Add(1)
		<-release
		return NewManualGateway(), nil
	})
	require.Equal(t, enums.PaymentProviderManual, gw.Provider())
	require.Zero(t, builds.Load(), "factory must not run before first use")

	const callers = 16
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := gw.CaptureOrder(context.Background(), CaptureRequest{OrderID: "o", ExpectedAmount: 10})
			errs <- err
		}()
	}
	close(release)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), builds.Load())
}

func TestLazyGatewayRetriesAfterFailure(t *testing.T) {
	var builds int
	gw := Lazy(enums.PaymentProviderPayPal, func(context.Context) (Gateway, error) {
		builds++
		if builds == 1 {
			return nil, errors.New("credentials rejected")
		}
		return NewManualGateway(), nil
	})

	_, err := gw.CancelOrder(context.Background(), CancelRequest{Amount: 5})
	require.True(t, IsGateway(err), "expected gateway error, got %v", err)

	res, err := gw.CancelOrder(context.Background(), CancelRequest{Amount: 5})
	require.NoError(t, err)
	require.Equal(t, int64(5), res.RefundedAmount)

	_, err = gw.CreateOrder(context.Background(), &models.PaymentIntent{OrderID: "o"})
	require.NoError(t, err)
	require.Equal(t, 2, builds)
}

type fakeTossAPI struct {
	confirmErr error
	payment    *toss.Payment
	confirms   []toss.ConfirmRequest
	gets       int
	cancels    []toss.CancelRequest
	cancelKey  string
}

func (f *fakeTossAPI) ClientKey() string { return "test_ck" }

func (f *fakeTossAPI) ConfirmPayment(_ context.Context, req toss.ConfirmRequest) (*toss.Payment, error) {
	f.confirms = append(f.confirms, req)
	if f.confirmErr != nil {
		return nil, f.confirmErr
	}
	return f.payment, nil
}

func (f *fakeTossAPI) CancelPayment(_ context.Context, paymentKey string, req toss.CancelRequest) (*toss.Payment, error) {
	f.cancelKey = paymentKey
	f.cancels = append(f.cancels, req)
	amount := f.payment.TotalAmount
	if req.CancelAmount != nil {
		amount = *req.CancelAmount
	}
	p := *f.payment
	p.Cancels = append(p.Cancels, toss.Cancel{TransactionKey: "tx-cancel", CancelAmount: amount})
	return &p, nil
}

func (f *fakeTossAPI) GetPayment(context.Context, string) (*toss.Payment, error) {
	f.gets++
	return f.payment, nil
}

func newTossGateway(api *fakeTossAPI) *TossGateway {
	return NewTossGateway(api, config.TossConfig{SuccessPath: "/payment/success", FailPath: "/payment/fail"}, "https://events.example/")
}

func TestTossCreateOrderShapesWidget(t *testing.T) {
	gw := newTossGateway(&fakeTossAPI{})
	intent := &models.PaymentIntent{OrderID: "101010abcdefgh", Amount: 50000, Currency: enums.CurrencyKRW, OrderName: "Spring Summit", PaymentType: enums.PaymentTypeDomesticCard}

	checkout, err := gw.CreateOrder(context.Background(), intent)
	require.NoError(t, err)
	require.Equal(t, toss.MethodCard, checkout.Method)
	require.Equal(t, "test_ck", checkout.ClientKey)
	require.Equal(t, toss.AnonymousCustomerKey, checkout.CustomerKey)
	require.Equal(t, "https://events.example/payment/success", checkout.SuccessURL)
	require.NotNil(t, checkout.Card)
	require.False(t, checkout.Card.UseEscrow)

	intent.PaymentType = enums.PaymentTypeBankTransfer
	checkout, err = gw.CreateOrder(context.Background(), intent)
	require.NoError(t, err)
	require.Equal(t, toss.MethodVirtualAccount, checkout.Method)
	require.Nil(t, checkout.Card)

	intent.PaymentType = enums.PaymentTypeInternationalWallet
	_, err = gw.CreateOrder(context.Background(), intent)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestTossCaptureDone(t *testing.T) {
	api := &fakeTossAPI{payment: &toss.Payment{
		PaymentKey:  "pk_1",
		OrderID:     "o-1",
		Status:      toss.StatusDone,
		TotalAmount: 50000,
		Receipt:     &toss.Receipt{URL: "https://receipt"},
	}}
	res, err := newTossGateway(api).CaptureOrder(context.Background(), CaptureRequest{OrderID: "o-1", PaymentKey: "pk_1", ExpectedAmount: 50000})
	require.NoError(t, err)
	require.Equal(t, CaptureCaptured, res.Status)
	require.Equal(t, "pk_1", res.ProviderReference)
	require.Equal(t, "https://receipt", res.ReceiptURL)
	require.Equal(t, int64(50000), api.confirms[0].Amount)
}

func TestTossCaptureVirtualAccount(t *testing.T) {
	api := &fakeTossAPI{payment: &toss.Payment{
		PaymentKey:  "pk_2",
		OrderID:     "o-2",
		Status:      toss.StatusWaitingForDeposit,
		TotalAmount: 30000,
		Secret:      "ps_secret",
	}}
	res, err := newTossGateway(api).CaptureOrder(context.Background(), CaptureRequest{OrderID: "o-2", PaymentKey: "pk_2", ExpectedAmount: 30000})
	require.NoError(t, err)
	require.Equal(t, CaptureAwaitingDeposit, res.Status)
	require.Equal(t, "ps_secret", res.DepositSecret)
}

func TestTossCaptureAmountMismatch(t *testing.T) {
	api := &fakeTossAPI{payment: &toss.Payment{PaymentKey: "pk", OrderID: "o", Status: toss.StatusDone, TotalAmount: 100}}
	_, err := newTossGateway(api).CaptureOrder(context.Background(), CaptureRequest{OrderID: "o", PaymentKey: "pk", ExpectedAmount: 99})
	require.True(t, IsAmountMismatch(err), "expected amount mismatch, got %v", err)
}

func TestTossCaptureAlreadyProcessedReadsBack(t *testing.T) {
	api := &fakeTossAPI{
		confirmErr: &toss.APIError{StatusCode: 400, Code: toss.CodeAlreadyProcessed, Message: "already processed"},
		payment:    &toss.Payment{PaymentKey: "pk", OrderID: "o", Status: toss.StatusDone, TotalAmount: 700},
	}
	res, err := newTossGateway(api).CaptureOrder(context.Background(), CaptureRequest{OrderID: "o", PaymentKey: "pk", ExpectedAmount: 700})
	require.NoError(t, err)
	require.Equal(t, CaptureCaptured, res.Status)
	require.Equal(t, 1, api.gets)
}

func TestTossCaptureDeclined(t *testing.T) {
	api := &fakeTossAPI{confirmErr: &toss.APIError{StatusCode: 400, Code: "REJECT_CARD_COMPANY", Message: "declined"}}
	_, err := newTossGateway(api).CaptureOrder(context.Background(), CaptureRequest{OrderID: "o", PaymentKey: "pk", ExpectedAmount: 1})
	require.True(t, IsGateway(err), "expected gateway error, got %v", err)
	require.Equal(t, "REJECT_CARD_COMPANY", toss.ProviderCode(err))

	_, err = newTossGateway(api).CaptureOrder(context.Background(), CaptureRequest{OrderID: "o", ExpectedAmount: 1})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestTossCancelPartialAndFull(t *testing.T) {
	api := &fakeTossAPI{payment: &toss.Payment{PaymentKey: "pk", OrderID: "o", Status: toss.StatusDone, TotalAmount: 50000}}
	gw := newTossGateway(api)

	res, err := gw.CancelOrder(context.Background(), CancelRequest{ProviderReference: "pk", Amount: 20000, Reason: "seat", IdempotencyKey: "cancel-o-0"})
	require.NoError(t, err)
	require.Equal(t, int64(20000), res.RefundedAmount)
	require.Equal(t, "tx-cancel", res.ProviderRefundID)
	require.Equal(t, "pk", api.cancelKey)
	require.Equal(t, int64(20000), *api.cancels[0].CancelAmount)
	require.Equal(t, "cancel-o-0", api.cancels[0].IdempotencyKey)

	_, err = gw.CancelOrder(context.Background(), CancelRequest{ProviderReference: "pk", Amount: 50000, Full: true})
	require.NoError(t, err)
	require.Nil(t, api.cancels[1].CancelAmount)
}

type fakePayPalAPI struct {
	order      *paypal.Order
	captureErr error
	created    []paypal.CreateOrderRequest
	requestIDs []string
	refunds    []paypal.RefundRequest
}

func (f *fakePayPalAPI) CreateOrder(_ context.Context, req paypal.CreateOrderRequest) (*paypal.Order, error) {
	f.created = append(f.created, req)
	return &paypal.Order{
		ID:     "PP-" + req.OrderID,
		Status: paypal.OrderStatusCreated,
		Links:  []paypal.Link{{Rel: "approve", Href: "https://paypal.example/approve"}},
	}, nil
}

func (f *fakePayPalAPI) CaptureOrder(_ context.Context, _ string, requestID string) (*paypal.Order, error) {
	f.requestIDs = append(f.requestIDs, requestID)
	if f.captureErr != nil {
		return nil, f.captureErr
	}
	return f.order, nil
}

func (f *fakePayPalAPI) RefundCapture(_ context.Context, captureID string, req paypal.RefundRequest) (*paypal.Refund, error) {
	f.refunds = append(f.refunds, req)
	return &paypal.Refund{ID: "R-" + captureID, Status: paypal.RefundStatusCompleted, Amount: paypal.Money{CurrencyCode: req.Currency, Value: paypal.FormatAmount(req.Amount, req.Currency)}}, nil
}

func capturedOrder(status, value string) *paypal.Order {
	return &paypal.Order{
		ID:     "PP-1",
		Status: paypal.OrderStatusCompleted,
		PurchaseUnits: []paypal.PurchaseUnit{{
			Payments: &paypal.PaymentCollection{Captures: []paypal.Capture{{
				ID:     "CAP-1",
				Status: status,
				Amount: paypal.Money{CurrencyCode: "USD", Value: value},
			}}},
		}},
	}
}

func TestPayPalCreateOrder(t *testing.T) {
	api := &fakePayPalAPI{}
	gw := NewPayPalGateway(api, "https://events.example")
	intent := &models.PaymentIntent{ID: uuid.New(), OrderID: "o-9", Amount: 2500, Currency: enums.CurrencyUSD, OrderName: "Workshop", PaymentType: enums.PaymentTypeInternationalWallet}

	checkout, err := gw.CreateOrder(context.Background(), intent)
	require.NoError(t, err)
	require.Equal(t, "PP-o-9", checkout.ProviderOrderID)
	require.Equal(t, "https://paypal.example/approve", checkout.ApproveURL)
	require.Equal(t, "https://events.example/payment/paypal/return", api.created[0].ReturnURL)
	require.Equal(t, "USD", api.created[0].Currency)
}

func TestPayPalCapture(t *testing.T) {
	for _, status := range []string{paypal.CaptureStatusCompleted, paypal.CaptureStatusPending} {
		api := &fakePayPalAPI{order: capturedOrder(status, "25.00")}
		res, err := NewPayPalGateway(api, "").CaptureOrder(context.Background(), CaptureRequest{
			OrderID: "o-9", ProviderOrderID: "PP-1", ExpectedAmount: 2500, Currency: enums.CurrencyUSD,
		})
		require.NoError(t, err, status)
		require.Equal(t, int64(2500), res.CapturedAmount)
		require.Equal(t, "CAP-1", res.ProviderReference)
		require.Equal(t, "capture-o-9", api.requestIDs[0])
	}
}

func TestPayPalCaptureRejections(t *testing.T) {
	ctx := context.Background()
	req := CaptureRequest{OrderID: "o", ProviderOrderID: "PP-1", ExpectedAmount: 2500, Currency: enums.CurrencyUSD}

	_, err := NewPayPalGateway(&fakePayPalAPI{order: capturedOrder(paypal.CaptureStatusCompleted, "24.99")}, "").CaptureOrder(ctx, req)
	require.True(t, IsAmountMismatch(err), "expected amount mismatch, got %v", err)

	_, err = NewPayPalGateway(&fakePayPalAPI{order: capturedOrder(paypal.CaptureStatusDeclined, "25.00")}, "").CaptureOrder(ctx, req)
	require.True(t, IsGateway(err), "expected gateway error, got %v", err)

	_, err = NewPayPalGateway(&fakePayPalAPI{captureErr: errors.New("boom")}, "").CaptureOrder(ctx, req)
	require.True(t, IsGateway(err))

	req.Currency = enums.CurrencyKRW
	_, err = NewPayPalGateway(&fakePayPalAPI{order: capturedOrder(paypal.CaptureStatusCompleted, "25.00")}, "").CaptureOrder(ctx, req)
	require.True(t, IsGateway(err), "currency drift must fail, got %v", err)
}

func TestPayPalRefund(t *testing.T) {
	api := &fakePayPalAPI{}
	res, err := NewPayPalGateway(api, "").CancelOrder(context.Background(), CancelRequest{
		ProviderReference: "CAP-1", Amount: 1000, Currency: enums.CurrencyUSD, Reason: "duplicate", IdempotencyKey: "cancel-o-0",
	})
	require.NoError(t, err)
	require.Equal(t, int64(1000), res.RefundedAmount)
	require.Equal(t, "R-CAP-1", res.ProviderRefundID)
	require.Equal(t, "cancel-o-0", api.refunds[0].RequestID)
}
