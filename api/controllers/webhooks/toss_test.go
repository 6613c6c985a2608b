package webhooks

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	tosswebhook "github.com/angelmondragon/eventpay-backend/internal/webhooks/toss"
	pkgerrors "github.com/angelmondragon/eventpay-backend/pkg/errors"
	"github.com/angelmondragon/eventpay-backend/pkg/toss"
)

type stubTossService struct {
	calls []toss.DepositCallback
	err   error
}

func (s *stubTossService) HandleDepositCallback(_ context.Context, cb toss.DepositCallback) error {
	s.calls = append(s.calls, cb)
	return s.err
}

type memoryGuard struct {
	seen    map[string]bool
	deleted []string
	err     error
}

func newMemoryGuard() *memoryGuard {
	return &memoryGuard{seen: map[string]bool{}}
}

func (g *memoryGuard) CheckAndMark(_ context.Context, id string) (bool, error) {
	if g.err != nil {
		return false, g.err
	}
	if g.seen[id] {
		return true, nil
	}
	g.seen[id] = true
	return false, nil
}

func (g *memoryGuard) Delete(_ context.Context, id string) error {
	delete(g.seen, id)
	g.deleted = append(g.deleted, id)
	return nil
}

const depositBody = `{"createdAt":"2026-03-01T10:00:00.000000","secret":"s3cret","status":"DONE","transactionKey":"tx-1","orderId":"101500abcd1234"}`

func postCallback(handler http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/toss", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestTossWebhookAppliesCallbackOnce(t *testing.T) {
	svc := &stubTossService{}
	guard := newMemoryGuard()
	handler := TossWebhook(svc, guard, nil)

	for i := 0; i < 2; i++ {
		if rec := postCallback(handler, depositBody); rec.Code != http.StatusOK {
			t.Fatalf("delivery %d: expected 200 got %d", i, rec.Code)
		}
	}
	if len(svc.calls) != 1 {
		t.Fatalf("expected one applied callback, got %d", len(svc.calls))
	}
	if svc.calls[0].Secret != "s3cret" || svc.calls[0].OrderID != "101500abcd1234" {
		t.Fatalf("unexpected callback %+v", svc.calls[0])
	}
}

func TestTossWebhookForgetsFailedDelivery(t *testing.T) {
	svc := &stubTossService{err: pkgerrors.New(pkgerrors.CodeForbidden, "deposit secret mismatch")}
	guard := newMemoryGuard()
	rec := postCallback(TossWebhook(svc, guard, nil), depositBody)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rec.Code)
	}
	if len(guard.deleted) != 1 || guard.seen[guard.deleted[0]] {
		t.Fatalf("expected delivery mark removed, got %+v", guard)
	}
}

func TestTossWebhookRejectsMalformedBody(t *testing.T) {
	svc := &stubTossService{}
	for _, body := range []string{`not json`, `{"status":"DONE"}`} {
		rec := postCallback(TossWebhook(svc, newMemoryGuard(), nil), body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400 got %d", body, rec.Code)
		}
	}
	if len(svc.calls) != 0 {
		t.Fatal("service should not be called for malformed callbacks")
	}
}

func TestTossWebhookGuardFailure(t *testing.T) {
	guard := newMemoryGuard()
	guard.err = errors.New("redis down")
	rec := postCallback(TossWebhook(&stubTossService{}, guard, nil), depositBody)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", rec.Code)
	}
}

func TestTossWebhookForgedCallbackInFlightDoesNotShadowGenuine(t *testing.T) {
	svc := &stubTossService{}
	guard := newMemoryGuard()
	handler := TossWebhook(svc, guard, nil)

	forged := toss.DepositCallback{OrderID: "101500abcd1234", Status: "DONE", TransactionKey: "tx-1", Secret: "guess"}
	if _, err := guard.CheckAndMark(context.Background(), tosswebhook.DeliveryID(forged)); err != nil {
		t.Fatalf("mark forged delivery: %v", err)
	}

	if rec := postCallback(handler, depositBody); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if len(svc.calls) != 1 || svc.calls[0].Secret != "s3cret" {
		t.Fatalf("genuine callback must be applied, got %+v", svc.calls)
	}
}
