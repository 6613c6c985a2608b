package payments

import (
	"fmt"

	"github.com/angelmondragon/eventpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/eventpay-backend/pkg/errors"
)

// ConflictError reports that the registration already has an active intent.
func ConflictError(registrationID string, existingOrderID string) error {
	return pkgerrors.New(pkgerrors.CodeConflict, "registration already has an active payment").WithDetails(map[string]any{
		"registrationId": registrationID,
		"orderId":        existingOrderID,
	})
}

// InvalidStateError reports an operation attempted from a status that does not permit it.
func InvalidStateError(op string, orderID string, status enums.PaymentStatus) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("%s not allowed while payment is %s", op, status)).WithDetails(map[string]any{
		"operation": op,
		"orderId":   orderID,
		"status":    status,
	})
}

// AmountMismatchError reports a provider or client amount that differs from the stored one.
func AmountMismatchError(orderID string, expected, reported int64) error {
	return pkgerrors.New(pkgerrors.CodeAmountMismatch, "payment amount does not match").WithDetails(map[string]any{
		"orderId":  orderID,
		"expected": expected,
		"reported": reported,
	})
}

// OverRefundError reports a refund that would push the cumulative refund past the amount.
func OverRefundError(orderID string, amount, refunded, requested int64) error {
	return pkgerrors.New(pkgerrors.CodeOverRefund, "refund exceeds remaining amount").WithDetails(map[string]any{
		"orderId":   orderID,
		"amount":    amount,
		"refunded":  refunded,
		"requested": requested,
		"remaining": amount - refunded,
	})
}

// GatewayError wraps a provider failure. Errors that already carry GATEWAY_ERROR pass through.
func GatewayError(provider enums.PaymentProvider, op string, err error) error {
	if err == nil {
		return nil
	}
	if pkgerrors.IsCode(err, pkgerrors.CodeGateway) || pkgerrors.IsCode(err, pkgerrors.CodeAmountMismatch) {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeGateway, err, fmt.Sprintf("%s %s failed", provider, op)).WithDetails(map[string]any{
		"provider": provider,
	})
}

func notFound(orderID string) error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "payment not found").WithDetails(map[string]any{"orderId": orderID})
}

func IsConflict(err error) bool       { return pkgerrors.IsCode(err, pkgerrors.CodeConflict) }
func IsInvalidState(err error) bool   { return pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) }
func IsAmountMismatch(err error) bool { return pkgerrors.IsCode(err, pkgerrors.CodeAmountMismatch) }
func IsOverRefund(err error) bool     { return pkgerrors.IsCode(err, pkgerrors.CodeOverRefund) }
func IsGateway(err error) bool        { return pkgerrors.IsCode(err, pkgerrors.CodeGateway) }
