package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
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
	"github.com/angelmondragon/eventpay-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/eventpay-backend/pkg/pagination"
	"github.com/angelmondragon/eventpay-backend/pkg/security"
	"github.com/angelmondragon/eventpay-backend/pkg/toss"
)

const (
	maxOrderIDAttempts = 3
	orderIDConstraint  = "order_id"
	activeConstraint   = "active_registration"
	maxNoteLength      = 2000
)

var systemActor = Actor{Role: "system"}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service is the only mutation surface for payment intents.
type Service interface {
	OpenIntent(ctx context.Context, input OpenIntentInput) (*models.PaymentIntent, error)
	RequestCheckout(ctx context.Context, input OpenIntentInput) (*CheckoutResult, error)
	MarkRequested(ctx context.Context, orderID, providerReference string, actor Actor) (*models.PaymentIntent, error)
	MarkApproved(ctx context.Context, orderID string, actor Actor) (*models.PaymentIntent, error)
	Confirm(ctx context.Context, input ConfirmInput) (*models.PaymentIntent, error)
	Abort(ctx context.Context, input AbortInput) (*models.PaymentIntent, error)
	Cancel(ctx context.Context, input CancelInput) (*models.PaymentIntent, error)
	Expire(ctx context.Context, orderID string, actor Actor) (*models.PaymentIntent, error)
	TryExpire(ctx context.Context, orderID string) (*models.PaymentIntent, error)
	RecordManualPayment(ctx context.Context, input ManualPaymentInput) (*models.PaymentIntent, error)
	UpdateNote(ctx context.Context, orderID, note string, actor Actor) (*models.PaymentIntent, error)
	HandleDepositCallback(ctx context.Context, input DepositCallbackInput) (*models.PaymentIntent, error)

	Get(ctx context.Context, orderID string) (*models.PaymentIntent, error)
	GetByProviderOrderID(ctx context.Context, providerOrderID string) (*models.PaymentIntent, error)
	GetByRegistration(ctx context.Context, registrationID uuid.UUID) (*models.PaymentIntent, error)
	ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (*IntentList, error)
	ListForEvent(ctx context.Context, eventID uuid.UUID, params pagination.Params, filters EventFilters) (*IntentList, error)
	ListStaleActive(ctx context.Context, cutoff time.Time, limit int) ([]models.PaymentIntent, error)
	Receipt(ctx context.Context, orderID string) (string, error)
	History(ctx context.Context, orderID string) ([]models.LedgerEvent, error)
}

// ServiceParams wires a payment service.
type ServiceParams struct {
	Repo     Repository
	Tx       txRunner
	Ledger   ledger.Service
	Outbox   outboxPublisher
	Gateways *Gateways
	Locker   Locker
	Metrics  *metrics.PaymentMetrics
	Logger   *logger.Logger
	Config   config.PaymentsConfig
	// Clock and Random default to time.Now and crypto/rand.
	Clock  func() time.Time
	Random io.Reader
}

type service struct {
	repo     Repository
	tx       txRunner
	ledger   ledger.Service
	outbox   outboxPublisher
	gateways *Gateways
	locker   Locker
	metrics  *metrics.PaymentMetrics
	logg     *logger.Logger
	cfg      config.PaymentsConfig
	now      func() time.Time
	rnd      io.Reader
}

func NewService(p ServiceParams) (Service, error) {
	if p.Repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if p.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if p.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if p.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if p.Gateways == nil {
		return nil, fmt.Errorf("gateways required")
	}
	if p.Locker == nil {
		return nil, fmt.Errorf("locker required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	clock := p.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{
		repo:     p.Repo,
		tx:       p.Tx,
		ledger:   p.Ledger,
		outbox:   p.Outbox,
		gateways: p.Gateways,
		locker:   p.Locker,
		metrics:  p.Metrics,
		logg:     p.Logger,
		cfg:      p.Config,
		now:      clock,
		rnd:      p.Random,
	}, nil
}

// change is one journaled transition: a ledger row and an outbox event written in the
// same transaction as the intent update.
type change struct {
	from     *enums.PaymentStatus
	entry    enums.LedgerEventType
	amount   int64
	event    enums.OutboxEventType
	actor    Actor
	delta    int64
	metadata map[string]any
}

func (s *service) OpenIntent(ctx context.Context, input OpenIntentInput) (*models.PaymentIntent, error) {
	release, err := s.locker.Acquire(ctx, registrationLockKey(input.RegistrationID))
	if err != nil {
		return nil, err
	}
	defer release()
	return s.openIntent(ctx, input)
}

// openIntent expects the registration lock to be held.
func (s *service) openIntent(ctx context.Context, input OpenIntentInput) (*models.PaymentIntent, error) {
	var intent *models.PaymentIntent
	err := s.createIntent(ctx, func(tx *gorm.DB) error {
		created, err := s.openIntentTx(ctx, tx, input.NewIntentInput, input.Actor)
		intent = created
		return err
	})
	if err != nil {
		s.reject("open", err)
		return nil, err
	}
	s.metrics.IncTransition(intent.Provider.String(), "", intent.Status.String())
	s.logg.Info(s.logg.WithPayment(ctx, intent.OrderID, intent.RegistrationID.String(), intent.Status.String()), "payment intent opened")
	return intent, nil
}

// RequestCheckout opens an intent, creates the provider order and moves the intent to
// REQUESTED. A checkout the same user started earlier and never paid (READY or REQUESTED)
// is expired and replaced. When the provider refuses the order the new intent is expired
// so the registration can retry at once.
func (s *service) RequestCheckout(ctx context.Context, input OpenIntentInput) (*CheckoutResult, error) {
	if input.PaymentType == enums.PaymentTypeManual {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "manual payments are recorded by an admin")
	}
	gw, err := s.gateways.For(input.PaymentType)
	if err != nil {
		return nil, err
	}
	if input.PaymentType == enums.PaymentTypeInternationalWallet && input.Currency == "" {
		input.Currency = enums.CurrencyUSD
	}

	releaseRegistration, err := s.locker.Acquire(ctx, registrationLockKey(input.RegistrationID))
	if err != nil {
		return nil, err
	}
	defer releaseRegistration()

	if err := s.supersedeAbandoned(ctx, input); err != nil {
		return nil, err
	}
	intent, err := s.openIntent(ctx, input)
	if err != nil {
		return nil, err
	}

	release, err := s.locker.Acquire(ctx, orderLockKey(intent.OrderID))
	if err != nil {
		return nil, err
	}
	defer release()

	checkout, err := s.createOrder(ctx, gw, intent)
	if err != nil {
		if _, expireErr := s.expire(ctx, intent.OrderID, systemActor); expireErr != nil {
			s.logg.Error(s.logg.WithOrderID(ctx, intent.OrderID), "expire intent after failed provider order", expireErr)
		}
		return nil, err
	}
	updated, err := s.markRequested(ctx, intent.OrderID, checkout.ProviderOrderID, input.Actor)
	if err != nil {
		return nil, err
	}
	return &CheckoutResult{Intent: updated, Checkout: checkout}, nil
}

// supersedeAbandoned expires the registration's active intent when it is an unpaid
// checkout of the same user. Anything further along, or owned by someone else, keeps the
// ConflictError. The caller holds the registration lock.
func (s *service) supersedeAbandoned(ctx context.Context, input OpenIntentInput) error {
	active, err := s.repo.FindActiveByRegistration(ctx, input.RegistrationID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check active payment")
	}
	conflict := ConflictError(input.RegistrationID.String(), active.OrderID)
	if !supersedable(active, input.UserID) {
		return conflict
	}

	release, err := s.locker.TryAcquire(ctx, orderLockKey(active.OrderID))
	if errors.Is(err, ErrLocked) {
		return conflict
	}
	if err != nil {
		return err
	}
	defer release()

	_, err = s.mutate(ctx, active.OrderID, "supersede", func(intent *models.PaymentIntent) (*change, error) {
		if !supersedable(intent, input.UserID) {
			return nil, conflict
		}
		from := intent.Status
		if err := Expire(intent, s.now()); err != nil {
			return nil, err
		}
		return &change{
			from:     &from,
			entry:    enums.LedgerEventTypeExpired,
			event:    enums.EventPaymentExpired,
			actor:    input.Actor,
			metadata: map[string]any{"reason": "superseded"},
		}, nil
	})
	return err
}

func supersedable(intent *models.PaymentIntent, userID *uuid.UUID) bool {
	if intent.Status != enums.PaymentStatusReady && intent.Status != enums.PaymentStatusRequested {
		return false
	}
	if intent.UserID == nil || userID == nil {
		return intent.UserID == nil && userID == nil
	}
	return *intent.UserID == *userID
}

func (s *service) MarkRequested(ctx context.Context, orderID, providerReference string, actor Actor) (*models.PaymentIntent, error) {
	release, err := s.locker.Acquire(ctx, orderLockKey(orderID))
	if err != nil {
		return nil, err
	}
	defer release()
	return s.markRequested(ctx, orderID, providerReference, actor)
}

func (s *service) markRequested(ctx context.Context, orderID, providerReference string, actor Actor) (*models.PaymentIntent, error) {
	return s.mutate(ctx, orderID, "markRequested", func(intent *models.PaymentIntent) (*change, error) {
		from := intent.Status
		if err := MarkRequested(intent, providerReference, s.now()); err != nil {
			return nil, err
		}
		return &change{
			from:     &from,
			entry:    enums.LedgerEventTypeRequested,
			event:    enums.EventPaymentRequested,
			actor:    actor,
			metadata: map[string]any{"provider_order_id": providerReference},
		}, nil
	})
}

// Confirm captures an approved payment. The authoritative amount is the stored one: a
// differing client amount is rejected before the provider is contacted. The intent is
// only written after the provider reports the capture.
func (s *service) Confirm(ctx context.Context, input ConfirmInput) (*models.PaymentIntent, error) {
	if strings.TrimSpace(input.OrderID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "orderId is required")
	}
	release, err := s.locker.Acquire(ctx, orderLockKey(input.OrderID))
	if err != nil {
		return nil, err
	}
	defer release()

	intent, err := s.load(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	reported := intent.Amount
	if input.Amount != nil {
		reported = *input.Amount
	}
	done, err := CheckConfirm(intent, reported)
	if err != nil {
		s.reject("confirm", err)
		return nil, err
	}
	if done {
		return intent, nil
	}

	gw, err := s.gateways.For(intent.PaymentType)
	if err != nil {
		return nil, err
	}
	result, err := s.capture(ctx, gw, CaptureRequest{
		OrderID:         intent.OrderID,
		ProviderOrderID: deref(intent.ProviderOrderID),
		PaymentKey:      input.PaymentKey,
		ExpectedAmount:  intent.Amount,
		Currency:        intent.Currency,
	})
	if err != nil {
		s.reject("confirm", err)
		s.logg.Warn(s.logg.WithFields(s.logg.WithOrderID(ctx, intent.OrderID), map[string]any{"error": err.Error()}), "payment capture failed")
		return nil, err
	}

	var depositHash *string
	if result.Status == CaptureAwaitingDeposit && result.DepositSecret != "" {
		hashed, err := security.HashSecret(result.DepositSecret, security.SecretParams)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash deposit secret")
		}
		depositHash = &hashed
	}

	return s.mutate(ctx, input.OrderID, "confirm", func(intent *models.PaymentIntent) (*change, error) {
		from := intent.Status
		now := s.now()
		if result.Status == CaptureAwaitingDeposit {
			if err := AwaitDeposit(intent, result.CapturedAmount, result.ProviderReference); err != nil {
				return nil, err
			}
			intent.DepositSecret = depositHash
			return &change{
				from:   &from,
				entry:  enums.LedgerEventTypeDepositPending,
				amount: result.CapturedAmount,
				event:  enums.EventPaymentDepositPending,
				actor:  input.Actor,
			}, nil
		}
		if err := Confirm(intent, result.CapturedAmount, result.ProviderReference, now); err != nil {
			return nil, err
		}
		if result.ApprovedAt != nil {
			approved := *result.ApprovedAt
			intent.ApprovedAt = &approved
		}
		if result.ReceiptURL != "" {
			receipt := result.ReceiptURL
			intent.ReceiptURL = &receipt
		}
		return &change{
			from:     &from,
			entry:    enums.LedgerEventTypeCaptured,
			amount:   result.CapturedAmount,
			event:    enums.EventPaymentConfirmed,
			actor:    input.Actor,
			delta:    result.CapturedAmount,
			metadata: map[string]any{"provider_reference": result.ProviderReference},
		}, nil
	})
}

// MarkApproved records that the buyer approved the payment at the provider and the
// capture is about to run. Repeating it is a no-op.
func (s *service) MarkApproved(ctx context.Context, orderID string, actor Actor) (*models.PaymentIntent, error) {
	release, err := s.locker.Acquire(ctx, orderLockKey(orderID))
	if err != nil {
		return nil, err
	}
	defer release()

	current, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if current.Status == enums.PaymentStatusInProgress {
		return current, nil
	}
	return s.mutate(ctx, orderID, "markApproved", func(intent *models.PaymentIntent) (*change, error) {
		from := intent.Status
		if err := BeginCapture(intent); err != nil {
			return nil, err
		}
		return &change{
			from:  &from,
			entry: enums.LedgerEventTypeApproved,
			event: enums.EventPaymentApproved,
			actor: actor,
		}, nil
	})
}

// Abort records a checkout the provider rejected or the user left. Repeating it is a no-op.
func (s *service) Abort(ctx context.Context, input AbortInput) (*models.PaymentIntent, error) {
	release, err := s.locker.Acquire(ctx, orderLockKey(input.OrderID))
	if err != nil {
		return nil, err
	}
	defer release()

	current, err := s.load(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if current.Status == enums.PaymentStatusAborted {
		return current, nil
	}
	return s.mutate(ctx, input.OrderID, "abort", func(intent *models.PaymentIntent) (*change, error) {
		from := intent.Status
		if err := Abort(intent, s.now()); err != nil {
			return nil, err
		}
		return &change{
			from:  &from,
			entry: enums.LedgerEventTypeAborted,
			event: enums.EventPaymentAborted,
			actor: input.Actor,
			metadata: map[string]any{
				"code":    input.Code,
				"message": input.Message,
			},
		}, nil
	})
}

// Cancel refunds all or part of a paid intent. The provider is called first; the intent
// changes only after the provider confirms the refund.
func (s *service) Cancel(ctx context.Context, input CancelInput) (*models.PaymentIntent, error) {
	release, err := s.locker.Acquire(ctx, orderLockKey(input.OrderID))
	if err != nil {
		return nil, err
	}
	defer release()

	intent, err := s.load(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	plan, err := PlanCancel(intent, input.Partial, input.Amount)
	if err != nil {
		s.reject("cancel", err)
		return nil, err
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		reason = s.cfg.DefaultCancelReason
	}
	gw, err := s.gateways.For(intent.PaymentType)
	if err != nil {
		return nil, err
	}

	result, err := s.cancelOrder(ctx, gw, CancelRequest{
		OrderID:           intent.OrderID,
		ProviderReference: deref(intent.ProviderReference),
		Amount:            plan.Refund,
		Full:              plan.Full,
		Reason:            reason,
		Currency:          intent.Currency,
		// Stable per refund step, so a retry after a lost response is deduplicated upstream.
		IdempotencyKey: fmt.Sprintf("cancel-%s-%d", intent.OrderID, intent.RefundedAmount),
	})
	if err != nil {
		s.reject("cancel", err)
		return nil, err
	}
	if result.RefundedAmount != plan.Refund {
		s.logg.Warn(s.logg.WithFields(s.logg.WithOrderID(ctx, intent.OrderID), map[string]any{
			"planned":  plan.Refund,
			"refunded": result.RefundedAmount,
		}), "provider refunded a different amount than requested")
	}

	return s.mutate(ctx, input.OrderID, "cancel", func(intent *models.PaymentIntent) (*change, error) {
		from := intent.Status
		if err := ApplyCancel(intent, plan, reason, s.now()); err != nil {
			return nil, err
		}
		return &change{
			from:   &from,
			entry:  enums.LedgerEventTypeRefunded,
			amount: plan.Refund,
			event:  enums.EventPaymentCanceled,
			actor:  input.Actor,
			delta:  plan.Refund,
			metadata: map[string]any{
				"reason":             reason,
				"partial":            input.Partial,
				"provider_refund_id": result.ProviderRefundID,
			},
		}, nil
	})
}

func (s *service) Expire(ctx context.Context, orderID string, actor Actor) (*models.PaymentIntent, error) {
	release, err := s.locker.Acquire(ctx, orderLockKey(orderID))
	if err != nil {
		return nil, err
	}
	defer release()
	return s.expire(ctx, orderID, actor)
}

// TryExpire expires an intent unless another operation holds its lock, in which case it
// returns ErrLocked so sweepers can skip it.
func (s *service) TryExpire(ctx context.Context, orderID string) (*models.PaymentIntent, error) {
	release, err := s.locker.TryAcquire(ctx, orderLockKey(orderID))
	if err != nil {
		return nil, err
	}
	defer release()
	return s.expire(ctx, orderID, systemActor)
}

func (s *service) expire(ctx context.Context, orderID string, actor Actor) (*models.PaymentIntent, error) {
	return s.mutate(ctx, orderID, "expire", func(intent *models.PaymentIntent) (*change, error) {
		from := intent.Status
		if err := Expire(intent, s.now()); err != nil {
			return nil, err
		}
		return &change{
			from:  &from,
			entry: enums.LedgerEventTypeExpired,
			event: enums.EventPaymentExpired,
			actor: actor,
		}, nil
	})
}

// RecordManualPayment books a payment an admin collected outside the providers. The intent
// is opened and confirmed in a single transaction.
func (s *service) RecordManualPayment(ctx context.Context, input ManualPaymentInput) (*models.PaymentIntent, error) {
	details, err := manualDetails(input)
	if err != nil {
		return nil, err
	}
	gw, err := s.gateways.For(enums.PaymentTypeManual)
	if err != nil {
		return nil, err
	}

	release, err := s.locker.Acquire(ctx, registrationLockKey(input.RegistrationID))
	if err != nil {
		return nil, err
	}
	defer release()

	var intent *models.PaymentIntent
	err = s.createIntent(ctx, func(tx *gorm.DB) error {
		created, err := s.openIntentTx(ctx, tx, NewIntentInput{
			RegistrationID: input.RegistrationID,
			EventID:        input.EventID,
			UserID:         input.UserID,
			Amount:         input.Amount,
			TaxFreeAmount:  input.TaxFreeAmount,
			PaymentType:    enums.PaymentTypeManual,
			Currency:       enums.CurrencyKRW,
			OrderName:      input.OrderName,
		}, input.Actor)
		if err != nil {
			return err
		}
		if input.SuppliedAmount != nil && input.VAT != nil {
			if err := ValidateManualSplit(created.Amount, *input.SuppliedAmount, *input.VAT); err != nil {
				return err
			}
			created.SuppliedAmount, created.VAT = *input.SuppliedAmount, *input.VAT
		}
		created.ManualDetails = details
		if note := strings.TrimSpace(input.Note); note != "" {
			created.Note = &note
		}

		checkout, err := gw.CreateOrder(ctx, created)
		if err != nil {
			return err
		}
		now := s.now()
		if err := MarkRequested(created, checkout.ProviderOrderID, now); err != nil {
			return err
		}
		result, err := gw.CaptureOrder(ctx, CaptureRequest{
			OrderID:         created.OrderID,
			ProviderOrderID: checkout.ProviderOrderID,
			ExpectedAmount:  created.Amount,
			Currency:        created.Currency,
		})
		if err != nil {
			return err
		}
		if err := Confirm(created, result.CapturedAmount, result.ProviderReference, now); err != nil {
			return err
		}
		if err := s.repo.WithTx(tx).Update(ctx, created); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record manual payment")
		}
		ready := enums.PaymentStatusReady
		if err := s.record(ctx, tx, created, change{
			from:     &ready,
			entry:    enums.LedgerEventTypeCaptured,
			amount:   created.Amount,
			event:    enums.EventPaymentConfirmed,
			actor:    input.Actor,
			delta:    created.Amount,
			metadata: map[string]any{"method": input.Method},
		}); err != nil {
			return err
		}
		intent = created
		return nil
	})
	if err != nil {
		s.reject("manual", err)
		return nil, err
	}
	s.metrics.IncTransition(intent.Provider.String(), "", intent.Status.String())
	s.logg.Info(s.logg.WithPayment(ctx, intent.OrderID, intent.RegistrationID.String(), intent.Status.String()), "manual payment recorded")
	return intent, nil
}

func (s *service) UpdateNote(ctx context.Context, orderID, note string, actor Actor) (*models.PaymentIntent, error) {
	note = strings.TrimSpace(note)
	if utf8.RuneCountInString(note) > maxNoteLength {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("note must be at most %d characters", maxNoteLength))
	}
	release, err := s.locker.Acquire(ctx, orderLockKey(orderID))
	if err != nil {
		return nil, err
	}
	defer release()

	return s.mutate(ctx, orderID, "updateNote", func(intent *models.PaymentIntent) (*change, error) {
		if note == "" {
			intent.Note = nil
		} else {
			intent.Note = &note
		}
		return &change{
			entry: enums.LedgerEventTypeNoteUpdated,
			event: enums.EventPaymentNoteUpdated,
			actor: actor,
		}, nil
	})
}

// HandleDepositCallback applies a Toss virtual-account deposit notification. The callback
// is trusted only when its secret matches the one stored at confirm time.
func (s *service) HandleDepositCallback(ctx context.Context, input DepositCallbackInput) (*models.PaymentIntent, error) {
	if strings.TrimSpace(input.OrderID) == "" || strings.TrimSpace(input.Secret) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "orderId and secret are required")
	}
	release, err := s.locker.Acquire(ctx, orderLockKey(input.OrderID))
	if err != nil {
		return nil, err
	}
	defer release()

	current, err := s.load(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if current.DepositSecret == nil {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "payment has no deposit secret")
	}
	ok, err := security.VerifySecret(input.Secret, *current.DepositSecret)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "verify deposit secret")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "deposit secret mismatch")
	}

	switch input.Status {
	case toss.StatusWaitingForDeposit:
		return current, nil
	case toss.StatusDone:
		if current.Status.IsPaid() {
			return current, nil
		}
		return s.mutate(ctx, input.OrderID, "settleDeposit", func(intent *models.PaymentIntent) (*change, error) {
			from := intent.Status
			if err := SettleDeposit(intent, s.now()); err != nil {
				return nil, err
			}
			return &change{
				from:     &from,
				entry:    enums.LedgerEventTypeDepositSettled,
				amount:   intent.Amount,
				event:    enums.EventPaymentConfirmed,
				actor:    Actor{Role: "provider"},
				delta:    intent.Amount,
				metadata: map[string]any{"transaction_key": input.TransactionKey},
			}, nil
		})
	case toss.StatusCanceled, toss.StatusPartialCanceled, toss.StatusExpired:
		if current.Status == enums.PaymentStatusExpired {
			return current, nil
		}
		return s.mutate(ctx, input.OrderID, "closeDeposit", func(intent *models.PaymentIntent) (*change, error) {
			from := intent.Status
			if err := CloseDeposit(intent, s.now()); err != nil {
				return nil, err
			}
			return &change{
				from:     &from,
				entry:    enums.LedgerEventTypeExpired,
				event:    enums.EventPaymentExpired,
				actor:    Actor{Role: "provider"},
				metadata: map[string]any{"deposit_status": input.Status},
			}, nil
		})
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported deposit status %q", input.Status))
	}
}

func (s *service) Get(ctx context.Context, orderID string) (*models.PaymentIntent, error) {
	return s.load(ctx, orderID)
}

func (s *service) GetByProviderOrderID(ctx context.Context, providerOrderID string) (*models.PaymentIntent, error) {
	intent, err := s.repo.FindByProviderOrderID(ctx, providerOrderID)
	if err != nil {
		return nil, mapLookup(err, providerOrderID)
	}
	return intent, nil
}

// GetByRegistration returns the registration's most recent intent, active or not.
func (s *service) GetByRegistration(ctx context.Context, registrationID uuid.UUID) (*models.PaymentIntent, error) {
	intent, err := s.repo.FindLatestByRegistration(ctx, registrationID)
	if err != nil {
		return nil, mapLookup(err, registrationID.String())
	}
	return intent, nil
}

func (s *service) ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (*IntentList, error) {
	list, err := s.repo.ListByUser(ctx, userID, params)
	if err != nil {
		return nil, mapListError(err)
	}
	return list, nil
}

func (s *service) ListForEvent(ctx context.Context, eventID uuid.UUID, params pagination.Params, filters EventFilters) (*IntentList, error) {
	list, err := s.repo.ListByEvent(ctx, eventID, params, filters)
	if err != nil {
		return nil, mapListError(err)
	}
	return list, nil
}

func (s *service) ListStaleActive(ctx context.Context, cutoff time.Time, limit int) ([]models.PaymentIntent, error) {
	intents, err := s.repo.ListStaleActive(ctx, cutoff, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stale payment intents")
	}
	return intents, nil
}

func (s *service) Receipt(ctx context.Context, orderID string) (string, error) {
	intent, err := s.load(ctx, orderID)
	if err != nil {
		return "", err
	}
	if intent.ReceiptURL == nil || *intent.ReceiptURL == "" {
		return "", pkgerrors.New(pkgerrors.CodeNotFound, "receipt not available")
	}
	return *intent.ReceiptURL, nil
}

func (s *service) History(ctx context.Context, orderID string) ([]models.LedgerEvent, error) {
	if _, err := s.load(ctx, orderID); err != nil {
		return nil, err
	}
	events, err := s.ledger.ListByOrderID(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment history")
	}
	return events, nil
}

// createIntent runs fn in a transaction, retrying with a fresh order id when the random
// part collided with an existing one.
func (s *service) createIntent(ctx context.Context, fn func(tx *gorm.DB) error) error {
	for attempt := 1; ; attempt++ {
		err := s.tx.WithTx(ctx, fn)
		switch {
		case err == nil:
			return nil
		case db.IsUniqueViolation(err, activeConstraint):
			return pkgerrors.New(pkgerrors.CodeConflict, "registration already has an active payment")
		case db.IsUniqueViolation(err, orderIDConstraint) && attempt < maxOrderIDAttempts:
			continue
		default:
			return err
		}
	}
}

func (s *service) openIntentTx(ctx context.Context, tx *gorm.DB, input NewIntentInput, actor Actor) (*models.PaymentIntent, error) {
	repo := s.repo.WithTx(tx)
	existing, err := repo.FindActiveByRegistration(ctx, input.RegistrationID)
	if err == nil {
		return nil, ConflictError(input.RegistrationID.String(), existing.OrderID)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check active payment")
	}

	intent, err := NewIntent(input, s.now(), s.rnd)
	if err != nil {
		return nil, err
	}
	if err := repo.Create(ctx, intent); err != nil {
		return nil, err
	}
	if err := s.record(ctx, tx, intent, change{
		entry:  enums.LedgerEventTypeIntentOpened,
		amount: intent.Amount,
		event:  enums.EventPaymentIntentOpened,
		actor:  actor,
	}); err != nil {
		return nil, err
	}
	return intent, nil
}

// mutate loads the intent under a row lock, applies fn and persists the result together
// with its journal entry and outbox event.
func (s *service) mutate(ctx context.Context, orderID, op string, fn func(intent *models.PaymentIntent) (*change, error)) (*models.PaymentIntent, error) {
	var (
		updated *models.PaymentIntent
		applied *change
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		intent, err := s.lockRow(ctx, repo, orderID)
		if err != nil {
			return err
		}
		c, err := fn(intent)
		if err != nil {
			return err
		}
		if err := repo.Update(ctx, intent); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment intent")
		}
		if err := s.record(ctx, tx, intent, *c); err != nil {
			return err
		}
		updated, applied = intent, c
		return nil
	})
	if err != nil {
		s.reject(op, err)
		return nil, err
	}

	from := ""
	if applied.from != nil {
		from = applied.from.String()
		s.metrics.IncTransition(updated.Provider.String(), from, updated.Status.String())
	}
	s.logg.Info(s.logg.WithFields(
		s.logg.WithPayment(ctx, updated.OrderID, updated.RegistrationID.String(), updated.Status.String()),
		map[string]any{"operation": op, "from_status": from},
	), "payment intent updated")
	return updated, nil
}

func (s *service) record(ctx context.Context, tx *gorm.DB, intent *models.PaymentIntent, c change) error {
	var metadata json.RawMessage
	if len(c.metadata) > 0 {
		raw, err := json.Marshal(c.metadata)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode ledger metadata")
		}
		metadata = raw
	}
	if _, err := s.ledger.WithTx(tx).RecordEvent(ctx, ledger.RecordLedgerEventInput{
		PaymentIntentID: intent.ID,
		OrderID:         intent.OrderID,
		ActorUserID:     c.actor.UserID,
		Type:            c.entry,
		Amount:          c.amount,
		FromStatus:      c.from,
		ToStatus:        intent.Status,
		Metadata:        metadata,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record ledger event")
	}

	payload := payloads.PaymentEvent{
		PaymentIntentID: intent.ID,
		OrderID:         intent.OrderID,
		RegistrationID:  intent.RegistrationID,
		EventID:         intent.EventID,
		PaymentType:     intent.PaymentType,
		Provider:        intent.Provider,
		Status:          intent.Status,
		Currency:        intent.Currency,
		Amount:          intent.Amount,
		RefundedAmount:  intent.RefundedAmount,
		DeltaAmount:     c.delta,
		CancelReason:    deref(intent.CancelReason),
		OccurredAt:      s.now().UTC(),
	}
	if c.from != nil {
		payload.PreviousStatus = *c.from
	}
	var actor *outbox.ActorRef
	if c.actor.UserID != nil {
		actor = &outbox.ActorRef{UserID: *c.actor.UserID, Role: c.actor.Role}
	}
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     c.event,
		AggregateType: enums.AggregatePaymentIntent,
		AggregateID:   intent.ID,
		Actor:         actor,
		Data:          payload,
		OccurredAt:    payload.OccurredAt,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit payment event")
	}
	return nil
}

func (s *service) load(ctx context.Context, orderID string) (*models.PaymentIntent, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "orderId is required")
	}
	intent, err := s.repo.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, mapLookup(err, orderID)
	}
	return intent, nil
}

func (s *service) lockRow(ctx context.Context, repo Repository, orderID string) (*models.PaymentIntent, error) {
	intent, err := repo.FindByOrderIDForUpdate(ctx, orderID)
	if err != nil {
		return nil, mapLookup(err, orderID)
	}
	return intent, nil
}

func (s *service) createOrder(ctx context.Context, gw Gateway, intent *models.PaymentIntent) (*Checkout, error) {
	ctx, cancel := s.gatewayContext(ctx)
	defer cancel()
	start := time.Now()
	checkout, err := gw.CreateOrder(ctx, intent)
	s.metrics.ObserveGatewayCall(gw.Provider().String(), "create_order", time.Since(start), err)
	if err != nil {
		return nil, GatewayError(gw.Provider(), "create order", err)
	}
	return checkout, nil
}

func (s *service) capture(ctx context.Context, gw Gateway, req CaptureRequest) (*CaptureResult, error) {
	ctx, cancel := s.gatewayContext(ctx)
	defer cancel()
	start := time.Now()
	result, err := gw.CaptureOrder(ctx, req)
	s.metrics.ObserveGatewayCall(gw.Provider().String(), "capture", time.Since(start), err)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
			return nil, err
		}
		return nil, GatewayError(gw.Provider(), "capture", err)
	}
	return result, nil
}

func (s *service) cancelOrder(ctx context.Context, gw Gateway, req CancelRequest) (*CancelResult, error) {
	ctx, cancel := s.gatewayContext(ctx)
	defer cancel()
	start := time.Now()
	result, err := gw.CancelOrder(ctx, req)
	s.metrics.ObserveGatewayCall(gw.Provider().String(), "cancel", time.Since(start), err)
	if err != nil {
		return nil, GatewayError(gw.Provider(), "cancel", err)
	}
	return result, nil
}

func (s *service) gatewayContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.GatewayTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.GatewayTimeout)
}

func (s *service) reject(op string, err error) {
	if typed := pkgerrors.As(err); typed != nil {
		s.metrics.IncRejection(op, string(typed.Code()))
	}
}

func manualDetails(input ManualPaymentInput) (json.RawMessage, error) {
	var details any
	switch input.Method {
	case enums.ManualMethodCard:
		if input.Card == nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "card details are required")
		}
		card := *input.Card
		card.CardNumber = maskCardNumber(card.CardNumber)
		if card.Installment < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "installment must not be negative")
		}
		details = struct {
			Method enums.ManualMethod `json:"method"`
			ManualCardDetails
		}{input.Method, card}
	case enums.ManualMethodTransfer:
		if input.Transfer == nil || input.Transfer.TransactionDatetime.IsZero() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "transfer details are required")
		}
		details = struct {
			Method enums.ManualMethod `json:"method"`
			ManualTransferDetails
		}{input.Method, *input.Transfer}
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "method must be card or transfer")
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode manual details")
	}
	return raw, nil
}

// maskCardNumber keeps only the last four digits.
func maskCardNumber(number string) string {
	digits := make([]rune, 0, len(number))
	for _, r := range number {
		if r >= '0' && r <= '9' {
			digits = append(digits, r)
		}
	}
	if len(digits) <= 4 {
		return string(digits)
	}
	return strings.Repeat("*", len(digits)-4) + string(digits[len(digits)-4:])
}

func mapLookup(err error, ref string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound(ref)
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment intent")
}

func mapListError(err error) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	if errors.Is(err, pagination.ErrInvalidCursor) {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payment intents")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
