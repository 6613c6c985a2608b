package payments

import (
	"context"

	"github.com/angelmondragon/eventpay-backend/internal/ledger"
	"github.com/angelmondragon/eventpay-backend/pkg/config"
	"github.com/angelmondragon/eventpay-backend/pkg/db"
	"github.com/angelmondragon/eventpay-backend/pkg/enums"
	"github.com/angelmondragon/eventpay-backend/pkg/logger"
	"github.com/angelmondragon/eventpay-backend/pkg/metrics"
	"github.com/angelmondragon/eventpay-backend/pkg/outbox"
	"github.com/angelmondragon/eventpay-backend/pkg/paypal"
	"github.com/angelmondragon/eventpay-backend/pkg/toss"
)

// tokenStore is what the Redis client offers for sharing PayPal tokens across instances.
type tokenStore interface {
	paypal.TokenCache
	TokenKey(provider, name string) string
}

// RedisStore is the subset of the Redis client the payment service runs on.
type RedisStore interface {
	tokenStore
	lockStore
}

// Deps are the process resources a payment service is assembled from.
type Deps struct {
	Config  *config.Config
	Logger  *logger.Logger
	DB      *db.Client
	Redis   RedisStore
	Metrics *metrics.PaymentMetrics
}

// Build assembles the payment service from process resources. Provider clients are built
// lazily, so a missing credential only fails the payment types that need it.
func Build(d Deps) (Service, error) {
	conn := d.DB.DB()
	ledgerService, err := ledger.NewService(ledger.NewRepository(conn))
	if err != nil {
		return nil, err
	}
	return NewService(ServiceParams{
		Repo:     NewRepository(conn),
		Tx:       d.DB,
		Ledger:   ledgerService,
		Outbox:   outbox.NewService(outbox.NewRepository(conn), d.Logger, d.Config.Service.Kind),
		Gateways: BuildGateways(d.Config, d.Logger, d.Redis),
		Locker:   BuildLocker(d.Config, d.Redis),
		Metrics:  d.Metrics,
		Logger:   d.Logger,
		Config:   d.Config.Payments,
	})
}

// BuildGateways registers Toss for card and bank transfer, PayPal for wallets when enabled,
// and the manual gateway for admin-recorded payments.
func BuildGateways(cfg *config.Config, logg *logger.Logger, tokens tokenStore) *Gateways {
	tossGateway := Lazy(enums.PaymentProviderToss, func(ctx context.Context) (Gateway, error) {
		client, err := toss.NewClient(ctx, cfg.Toss, logg)
		if err != nil {
			return nil, err
		}
		return NewTossGateway(client, cfg.Toss, cfg.App.PublicURL), nil
	})

	entries := map[enums.PaymentType]Gateway{
		enums.PaymentTypeDomesticCard: tossGateway,
		enums.PaymentTypeBankTransfer: tossGateway,
		enums.PaymentTypeManual:       NewManualGateway(),
	}
	if cfg.FeatureFlags.PayPalEnabled {
		entries[enums.PaymentTypeInternationalWallet] = Lazy(enums.PaymentProviderPayPal, func(ctx context.Context) (Gateway, error) {
			var opts []paypal.Option
			if cfg.FeatureFlags.RedisTokenCache && tokens != nil {
				opts = append(opts, paypal.WithTokenCache(tokens, tokens.TokenKey("paypal", cfg.PayPal.Environment())))
			}
			client, err := paypal.NewClient(ctx, cfg.PayPal, logg, opts...)
			if err != nil {
				return nil, err
			}
			return NewPayPalGateway(client, cfg.App.PublicURL), nil
		})
	}
	return NewGateways(entries)
}

// BuildLocker shares order locks through Redis when distributed locking is on; otherwise
// locks are only held within this process.
func BuildLocker(cfg *config.Config, store lockStore) Locker {
	if cfg.FeatureFlags.DistributedLocking && store != nil {
		if locker, err := NewRedisLocker(store, cfg.Payments.OrderLockTTL, cfg.Payments.OrderLockWait); err == nil {
			return locker
		}
	}
	return NewLocalLocker(cfg.Payments.OrderLockWait)
}

var _ txRunner = (*db.Client)(nil)
