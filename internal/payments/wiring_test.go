package payments

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/angelmondragon/eventpay-backend/pkg/config"
	"github.com/angelmondragon/eventpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/eventpay-backend/pkg/errors"
	"github.com/angelmondragon/eventpay-backend/pkg/logger"
)

func wiringConfig(paypalEnabled, distributed bool) *config.Config {
	return &config.Config{
		App: config.AppConfig{PublicURL: "https://pay.example.com"},
		FeatureFlags: config.FeatureFlagsConfig{
			PayPalEnabled:      paypalEnabled,
			DistributedLocking: distributed,
		},
		Payments: config.PaymentsConfig{OrderLockTTL: time.Minute, OrderLockWait: time.Second},
	}
}

func TestBuildGatewaysRegistersProviders(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})

	gws := BuildGateways(wiringConfig(false, false), logg, nil)
	for _, pt := range []enums.PaymentType{enums.PaymentTypeDomesticCard, enums.PaymentTypeBankTransfer, enums.PaymentTypeManual} {
		if !gws.Supports(pt) {
			t.Fatalf("expected %s to be supported", pt)
		}
	}
	if gws.Supports(enums.PaymentTypeInternationalWallet) {
		t.Fatal("paypal must be absent when disabled")
	}

	gws = BuildGateways(wiringConfig(true, false), logg, nil)
	wallet, err := gws.For(enums.PaymentTypeInternationalWallet)
	if err != nil {
		t.Fatalf("expected paypal gateway: %v", err)
	}
	if wallet.Provider() != enums.PaymentProviderPayPal {
		t.Fatalf("unexpected provider %s", wallet.Provider())
	}
}

func TestBuildGatewaysDefersCredentialErrors(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	gws := BuildGateways(wiringConfig(false, false), logg, nil)

	card, _ := gws.For(enums.PaymentTypeDomesticCard)
	_, err := card.CaptureOrder(context.Background(), CaptureRequest{OrderID: "o", PaymentKey: "k", ExpectedAmount: 1000})
	if err == nil {
		t.Fatal("expected missing toss secret to surface on first use")
	}
	if pkgerrors.As(err) == nil {
		t.Fatalf("expected typed error, got %v", err)
	}
}

func TestBuildLockerFallsBackToLocal(t *testing.T) {
	if _, ok := BuildLocker(wiringConfig(false, true), nil).(*LocalLocker); !ok {
		t.Fatal("expected local locker without a store")
	}
	if _, ok := BuildLocker(wiringConfig(false, false), &fakeLockStore{}).(*LocalLocker); !ok {
		t.Fatal("expected local locker when distributed locking is off")
	}
	if _, ok := BuildLocker(wiringConfig(false, true), &fakeLockStore{}).(*RedisLocker); !ok {
		t.Fatal("expected redis locker")
	}
}
