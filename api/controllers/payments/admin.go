package payments

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/eventpay-backend/api/responses"
	"github.com/angelmondragon/eventpay-backend/api/validators"
	paymentsvc "github.com/angelmondragon/eventpay-backend/internal/payments"
	"github.com/angelmondragon/eventpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/eventpay-backend/pkg/errors"
	"github.com/angelmondragon/eventpay-backend/pkg/logger"
)

type manualPaymentRequest struct {
	RegistrationID uuid.UUID                         `json:"registrationId"`
	UserID         *uuid.UUID                        `json:"userId,omitempty"`
	Amount         int64                             `json:"amount" validate:"gt=0"`
	TaxFreeAmount  int64                             `json:"taxFreeAmount" validate:"gte=0"`
	SuppliedAmount *int64                            `json:"suppliedAmount,omitempty" validate:"omitempty,gte=0"`
	VAT            *int64                            `json:"vat,omitempty" validate:"omitempty,gte=0"`
	Method         string                            `json:"method" validate:"required,oneof=card transfer"`
	Card           *paymentsvc.ManualCardDetails     `json:"card,omitempty"`
	Transfer       *paymentsvc.ManualTransferDetails `json:"transfer,omitempty"`
	OrderName      string                            `json:"orderName" validate:"required,max=100"`
	Note           string                            `json:"note" validate:"max=1000"`
}

type cancelRequest struct {
	Reason  string `json:"reason" validate:"max=200"`
	Partial bool   `json:"partial"`
	Amount  int64  `json:"amount" validate:"gte=0"`
}

type noteRequest struct {
	Note string `json:"note" validate:"max=1000"`
}

// ListEventPayments pages through an event's payments with optional status and type filters.
func ListEventPayments(svc paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		eventID, err := validators.ParseUUIDParam(r, "eventId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filters, err := parseEventFilters(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.ListForEvent(r.Context(), eventID, params, filters)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPaymentListResponse(list))
	}
}

// RegistrationPayment returns the newest intent for a registration.
func RegistrationPayment(svc paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		registrationID, err := validators.ParseUUIDParam(r, "registrationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		intent, err := svc.GetByRegistration(r.Context(), registrationID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPaymentResponse(intent))
	}
}

// RecordManualPayment records an on-site card or bank transfer payment as DONE.
func RecordManualPayment(svc paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
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
		eventID, err := validators.ParseUUIDParam(r, "eventId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload manualPaymentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := requireIDs(payload.RegistrationID, eventID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		intent, err := svc.RecordManualPayment(r.Context(), paymentsvc.ManualPaymentInput{
			RegistrationID: payload.RegistrationID,
			EventID:        eventID,
			UserID:         payload.UserID,
			Amount:         payload.Amount,
			TaxFreeAmount:  payload.TaxFreeAmount,
			SuppliedAmount: payload.SuppliedAmount,
			VAT:            payload.VAT,
			Method:         enums.ManualMethod(payload.Method),
			Card:           payload.Card,
			Transfer:       payload.Transfer,
			OrderName:      validators.SanitizeString(payload.OrderName, maxOrderNameLength),
			Note:           strings.TrimSpace(payload.Note),
			Actor:          actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteCreated(w, newPaymentResponse(intent))
	}
}

// Cancel refunds a settled payment in full or in part.
func Cancel(svc paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
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
		orderID, err := validators.ParsePathString(r, "orderId", maxOrderIDLength)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload cancelRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if payload.Partial && payload.Amount <= 0 {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "amount is required for a partial cancel"))
			return
		}

		intent, err := svc.Cancel(r.Context(), paymentsvc.CancelInput{
			OrderID: orderID,
			Reason:  validators.SanitizeString(payload.Reason, 200),
			Partial: payload.Partial,
			Amount:  payload.Amount,
			Actor:   actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPaymentResponse(intent))
	}
}

// Expire closes an intent that is still waiting on the buyer.
func Expire(svc paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
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
		orderID, err := validators.ParsePathString(r, "orderId", maxOrderIDLength)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		intent, err := svc.Expire(r.Context(), orderID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPaymentResponse(intent))
	}
}

// UpdateNote replaces the admin note on a payment.
func UpdateNote(svc paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
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
		orderID, err := validators.ParsePathString(r, "orderId", maxOrderIDLength)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload noteRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		intent, err := svc.UpdateNote(r.Context(), orderID, strings.TrimSpace(payload.Note), actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPaymentResponse(intent))
	}
}

// PaymentHistory returns the ledger entries journaled for one payment.
func PaymentHistory(svc paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		orderID, err := validators.ParsePathString(r, "orderId", maxOrderIDLength)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		events, err := svc.History(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newHistoryResponse(events))
	}
}

func parseEventFilters(r *http.Request) (paymentsvc.EventFilters, error) {
	var filters paymentsvc.EventFilters
	query := r.URL.Query()
	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		status, err := enums.ParsePaymentStatus(strings.ToUpper(raw))
		if err != nil {
			return filters, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter")
		}
		filters.Status = &status
	}
	if raw := strings.TrimSpace(query.Get("paymentType")); raw != "" {
		paymentType, err := enums.ParsePaymentType(strings.ToLower(raw))
		if err != nil {
			return filters, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid paymentType filter")
		}
		filters.PaymentType = &paymentType
	}
	return filters, nil
}
