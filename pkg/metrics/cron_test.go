package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCronJobMetricsRecordsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	m.ObserveRun("payment-expiry", 250*time.Millisecond, nil)
	m.ObserveRun("payment-expiry", 100*time.Millisecond, nil)
	m.ObserveRun("payment-expiry", time.Second, errors.New("db down"))

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	success, err := fetchMetric(mfs, "eventpay_cron_job_runs_total", map[string]string{"job": "payment-expiry", "outcome": "success"})
	if err != nil || success.GetCounter().GetValue() != 2 {
		t.Fatalf("expected 2 successes, got %v err=%v", success, err)
	}
	failure, err := fetchMetric(mfs, "eventpay_cron_job_runs_total", map[string]string{"job": "payment-expiry", "outcome": "failure"})
	if err != nil || failure.GetCounter().GetValue() != 1 {
		t.Fatalf("expected 1 failure, got %v err=%v", failure, err)
	}
	last, err := fetchMetric(mfs, "eventpay_cron_job_last_success_timestamp_seconds", map[string]string{"job": "payment-expiry"})
	if err != nil || last.GetGauge().GetValue() != float64(fixed.Unix()) {
		t.Fatalf("unexpected last success gauge %v err=%v", last, err)
	}
	if sum, err := fetchHistogramSum(mfs, "eventpay_cron_job_duration_seconds", "job", "payment-expiry"); err != nil || sum < 1.35 {
		t.Fatalf("expected duration sum >= 1.35, got %f err=%v", sum, err)
	}
}

func TestCronJobMetricsNilSafe(t *testing.T) {
	var m *CronJobMetrics
	m.ObserveRun("job", time.Second, nil)
	NewCronJobMetrics(nil).ObserveRun("", time.Second, errors.New("x"))
}
