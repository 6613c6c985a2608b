package tosswebhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/angelmondragon/eventpay-backend/internal/payments"
	"github.com/angelmondragon/eventpay-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/eventpay-backend/pkg/errors"
	"github.com/angelmondragon/eventpay-backend/pkg/logger"
	"github.com/angelmondragon/eventpay-backend/pkg/toss"
)

type depositHandler interface {
	HandleDepositCallback(ctx context.Context, input payments.DepositCallbackInput) (*models.PaymentIntent, error)
}

type Service struct {
	payments depositHandler
	logg     *logger.Logger
}

func NewService(svc depositHandler, logg *logger.Logger) (*Service, error) {
	if svc == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment service required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{payments: svc, logg: logg}, nil
}

// DeliveryID identifies one callback delivery. Toss resends the same body on retries, and a
// virtual account can move through several statuses, so the status is part of the key. A
// digest of the secret keeps a forged body from claiming the genuine delivery's slot.
func DeliveryID(cb toss.DepositCallback) string {
	parts := []string{cb.OrderID, cb.Status}
	if cb.TransactionKey != "" {
		parts = append(parts, cb.TransactionKey)
	}
	digest := sha256.Sum256([]byte(cb.Secret))
	parts = append(parts, hex.EncodeToString(digest[:8]))
	return strings.Join(parts, ":")
}

// HandleDepositCallback applies a virtual-account deposit notification to its intent.
func (s *Service) HandleDepositCallback(ctx context.Context, cb toss.DepositCallback) error {
	if strings.TrimSpace(cb.OrderID) == "" || strings.TrimSpace(cb.Status) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "orderId and status are required")
	}
	ctx = s.logg.WithFields(s.logg.WithOrderID(ctx, cb.OrderID), map[string]any{
		"deposit_status":  cb.Status,
		"transaction_key": cb.TransactionKey,
	})
	intent, err := s.payments.HandleDepositCallback(ctx, payments.DepositCallbackInput{
		OrderID:        cb.OrderID,
		Secret:         cb.Secret,
		Status:         cb.Status,
		TransactionKey: cb.TransactionKey,
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeForbidden) {
			s.logg.Warn(ctx, "deposit callback rejected")
		}
		return err
	}
	s.logg.Info(s.logg.WithField(ctx, "status", intent.Status.String()), "deposit callback applied")
	return nil
}
