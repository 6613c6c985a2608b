package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestPaymentMetricsExportsSeries(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPaymentMetrics(reg)

	m.IncTransition("toss", "REQUESTED", "DONE")
	m.IncTransition("toss", "REQUESTED", "DONE")
	m.ObserveGatewayCall("paypal", "capture", 300*time.Millisecond, errors.New("declined"))
	m.IncRejection("confirm", "AMOUNT_MISMATCH")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "eventpay_payment_transitions_total", "to", "DONE"); err != nil {
		t.Fatalf("fetch transitions: %v", err)
	} else if got != 2 {
		t.Fatalf("expected transitions=2, got %f", got)
	}
	if got, err := fetchHistogramSum(mfs, "eventpay_gateway_call_duration_seconds", "outcome", "error"); err != nil {
		t.Fatalf("fetch gateway: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected gateway duration sum > 0, got %f", got)
	}
	if got, err := fetchCounterValue(mfs, "eventpay_payment_rejections_total", "code", "AMOUNT_MISMATCH"); err != nil {
		t.Fatalf("fetch rejections: %v", err)
	} else if got != 1 {
		t.Fatalf("expected rejections=1, got %f", got)
	}
}

func TestPaymentMetricsNilSafe(t *testing.T) {
	var m *PaymentMetrics
	m.IncTransition("toss", "READY", "REQUESTED")
	m.ObserveGatewayCall("toss", "confirm", time.Second, nil)
	m.IncRejection("cancel", "OVER_REFUND")
}
