package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/angelmondragon/eventpay-backend/api/responses"
	tosswebhook "github.com/angelmondragon/eventpay-backend/internal/webhooks/toss"
	pkgerrors "github.com/angelmondragon/eventpay-backend/pkg/errors"
	"github.com/angelmondragon/eventpay-backend/pkg/logger"
	"github.com/angelmondragon/eventpay-backend/pkg/toss"
)

const maxCallbackBytes = 64 << 10

type TossWebhookService interface {
	HandleDepositCallback(ctx context.Context, cb toss.DepositCallback) error
}

type tossWebhookGuard interface {
	CheckAndMark(ctx context.Context, deliveryID string) (bool, error)
	Delete(ctx context.Context, deliveryID string) error
}

// TossWebhook handles Toss virtual-account deposit callbacks.
func TossWebhook(svc TossWebhookService, guard tossWebhookGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBytes))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		var cb toss.DepositCallback
		if err := json.Unmarshal(payload, &cb); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid callback body"))
			return
		}
		if cb.OrderID == "" || cb.Status == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "orderId and status are required"))
			return
		}

		deliveryID := tosswebhook.DeliveryID(cb)
		alreadyProcessed, err := guard.CheckAndMark(ctx, deliveryID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
			return
		}
		if alreadyProcessed {
			responses.WriteSuccess(w, nil)
			return
		}

		if err := svc.HandleDepositCallback(ctx, cb); err != nil {
			_ = guard.Delete(ctx, deliveryID)
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, nil)
	}
}
