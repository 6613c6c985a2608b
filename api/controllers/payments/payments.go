package payments

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/eventpay-backend/api/middleware"
	"github.com/angelmondragon/eventpay-backend/api/responses"
	"github.com/angelmondragon/eventpay-backend/api/validators"
	paymentsvc "github.com/angelmondragon/eventpay-backend/internal/payments"
	"github.com/angelmondragon/eventpay-backend/pkg/db/models"
	"github.com/angelmondragon/eventpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/eventpay-backend/pkg/errors"
	"github.com/angelmondragon/eventpay-backend/pkg/logger"
)

const (
	maxOrderIDLength   = 64
	maxOrderNameLength = 100
)

type checkoutRequest struct {
	RegistrationID uuid.UUID `json:"registrationId"`
	EventID        uuid.UUID `json:"eventId"`
	Amount         int64     `json:"amount" validate:"gt=0"`
	TaxFreeAmount  int64     `json:"taxFreeAmount" validate:"gte=0"`
	PaymentType    string    `json:"paymentType" validate:"required,oneof=domestic_card bank_transfer"`
	OrderName      string    `json:"orderName" validate:"required,max=100"`
}

type paypalOrderRequest struct {
	RegistrationID uuid.UUID `json:"registrationId"`
	EventID        uuid.UUID `json:"eventId"`
	Amount         int64     `json:"amount" validate:"gt=0"`
	OrderName      string    `json:"orderName" validate:"required,max=100"`
}

type confirmRequest struct {
	PaymentKey string `json:"paymentKey" validate:"required,max=200"`
	OrderID    string `json:"orderId" validate:"required,orderid"`
	Amount     *int64 `json:"amount" validate:"required"`
}

type failRequest struct {
	OrderID string `json:"orderId" validate:"required,orderid"`
	Code    string `json:"code" validate:"max=100"`
	Message string `json:"message" validate:"max=500"`
}

// Checkout opens a Toss intent for the caller's registration and returns the widget parameters.
func Checkout(svc paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := requireIDs(payload.RegistrationID, payload.EventID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if payload.TaxFreeAmount > payload.Amount {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "taxFreeAmount cannot exceed amount"))
			return
		}

		result, err := svc.RequestCheckout(r.Context(), paymentsvc.OpenIntentInput{
			NewIntentInput: paymentsvc.NewIntentInput{
				RegistrationID: payload.RegistrationID,
				EventID:        payload.EventID,
				UserID:         actor.UserID,
				Amount:         payload.Amount,
				TaxFreeAmount:  payload.TaxFreeAmount,
				PaymentType:    enums.PaymentType(payload.PaymentType),
				OrderName:      validators.SanitizeString(payload.OrderName, maxOrderNameLength),
			},
			Actor: actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteCreated(w, checkoutResponse{
			Payment:  newPaymentResponse(result.Intent),
			Checkout: result.Checkout,
		})
	}
}

// CreatePayPalOrder opens a USD intent and a PayPal order for the caller's registration.
func CreatePayPalOrder(svc paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload paypalOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := requireIDs(payload.RegistrationID, payload.EventID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.RequestCheckout(r.Context(), paymentsvc.OpenIntentInput{
			NewIntentInput: paymentsvc.NewIntentInput{
				RegistrationID: payload.RegistrationID,
				EventID:        payload.EventID,
				UserID:         actor.UserID,
				Amount:         payload.Amount,
				PaymentType:    enums.PaymentTypeInternationalWallet,
				Currency:       enums.CurrencyUSD,
				OrderName:      validators.SanitizeString(payload.OrderName, maxOrderNameLength),
			},
			Actor: actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteCreated(w, checkoutResponse{
			Payment:  newPaymentResponse(result.Intent),
			Checkout: result.Checkout,
		})
	}
}

// ApprovePayPalOrder relays the PayPal buttons' onApprove callback. The intent moves to
// IN_PROGRESS; the capture call follows separately.
func ApprovePayPalOrder(svc paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		intent, actor, ok := ownedPayPalIntent(w, r, svc, logg)
		if !ok {
			return
		}
		intent, err := svc.MarkApproved(r.Context(), intent.OrderID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPaymentResponse(intent))
	}
}

// CapturePayPalOrder captures a PayPal order the buyer approved.
func CapturePayPalOrder(svc paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		intent, actor, ok := ownedPayPalIntent(w, r, svc, logg)
		if !ok {
			return
		}
		intent, err := svc.Confirm(r.Context(), paymentsvc.ConfirmInput{
			OrderID: intent.OrderID,
			Actor:   actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPaymentResponse(intent))
	}
}

// Confirm relays the Toss success redirect. The amount in the redirect is checked against
// the stored amount before the provider is called.
func Confirm(svc paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload confirmRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		intent, err := svc.Get(r.Context(), payload.OrderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := authorizeOwner(intent, actor); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		intent, err = svc.Confirm(r.Context(), paymentsvc.ConfirmInput{
			OrderID:    intent.OrderID,
			Amount:     payload.Amount,
			PaymentKey: payload.PaymentKey,
			Actor:      actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPaymentResponse(intent))
	}
}

// Fail relays the Toss fail redirect and aborts the intent.
func Fail(svc paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload failRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		intent, err := svc.Get(r.Context(), payload.OrderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := authorizeOwner(intent, actor); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		intent, err = svc.Abort(r.Context(), paymentsvc.AbortInput{
			OrderID: intent.OrderID,
			Code:    validators.SanitizeString(payload.Code, 100),
			Message: validators.SanitizeString(payload.Message, 500),
			Actor:   actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPaymentResponse(intent))
	}
}

// Get returns one of the caller's payments.
func Get(svc paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		intent, ok := ownedIntent(w, r, svc, logg)
		if !ok {
			return
		}
		responses.WriteSuccess(w, newPaymentResponse(intent))
	}
}

// Receipt returns the provider receipt URL for one of the caller's payments.
func Receipt(svc paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		intent, ok := ownedIntent(w, r, svc, logg)
		if !ok {
			return
		}
		url, err := svc.Receipt(r.Context(), intent.OrderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"receiptUrl": url})
	}
}

// History lists the caller's payments, newest first.
func History(svc paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		userID, ok := middleware.UserUUIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		list, err := svc.ListForUser(r.Context(), userID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPaymentListResponse(list))
	}
}

func ownedPayPalIntent(w http.ResponseWriter, r *http.Request, svc paymentsvc.Service, logg *logger.Logger) (*models.PaymentIntent, paymentsvc.Actor, bool) {
	if svc == nil {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
		return nil, paymentsvc.Actor{}, false
	}
	actor, err := actorFromRequest(r)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return nil, actor, false
	}
	providerOrderID, err := validators.ParsePathString(r, "providerOrderId", maxOrderIDLength)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return nil, actor, false
	}
	intent, err := svc.GetByProviderOrderID(r.Context(), providerOrderID)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return nil, actor, false
	}
	if err := authorizeOwner(intent, actor); err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return nil, actor, false
	}
	return intent, actor, true
}

func ownedIntent(w http.ResponseWriter, r *http.Request, svc paymentsvc.Service, logg *logger.Logger) (*models.PaymentIntent, bool) {
	if svc == nil {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
		return nil, false
	}
	actor, err := actorFromRequest(r)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return nil, false
	}
	orderID, err := validators.ParsePathString(r, "orderId", maxOrderIDLength)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return nil, false
	}
	intent, err := svc.Get(r.Context(), orderID)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return nil, false
	}
	if err := authorizeOwner(intent, actor); err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return nil, false
	}
	return intent, true
}

// authorizeOwner hides other users' payments behind a not-found so order ids cannot be probed.
func authorizeOwner(intent *models.PaymentIntent, actor paymentsvc.Actor) error {
	if actor.Role == enums.UserRoleAdmin.String() {
		return nil
	}
	if intent == nil || intent.UserID == nil || actor.UserID == nil || *intent.UserID != *actor.UserID {
		return pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	return nil
}

func actorFromRequest(r *http.Request) (paymentsvc.Actor, error) {
	userID, ok := middleware.UserUUIDFromContext(r.Context())
	if !ok {
		return paymentsvc.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	return paymentsvc.Actor{UserID: &userID, Role: middleware.RoleFromContext(r.Context())}, nil
}

func requireIDs(registrationID, eventID uuid.UUID) error {
	details := map[string]string{}
	if registrationID == uuid.Nil {
		details["registrationId"] = "is required"
	}
	if eventID == uuid.Nil {
		details["eventId"] = "is required"
	}
	if len(details) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
	}
	return nil
}
