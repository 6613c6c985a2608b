package payments

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/eventpay-backend/pkg/enums"
)

func TestListEventPaymentsParsesFilters(t *testing.T) {
	t.Parallel()

	svc := newStubService(ownedIntentFixture(uuid.New(), enums.PaymentStatusDone))
	eventID := uuid.NewString()
	req := authedRequest(http.MethodGet, "/api/v1/admin/events/"+eventID+"/payments?status=done&paymentType=DOMESTIC_CARD&limit=10", "", uuid.New(), enums.UserRoleAdmin)
	req = withURLParams(req, map[string]string{"eventId": eventID})
	rec := httptest.NewRecorder()
	ListEventPayments(svc, nil)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.eventFilters.Status == nil || *svc.eventFilters.Status != enums.PaymentStatusDone {
		t.Fatalf("expected status filter DONE, got %+v", svc.eventFilters.Status)
	}
	if svc.eventFilters.PaymentType == nil || *svc.eventFilters.PaymentType != enums.PaymentTypeDomesticCard {
		t.Fatalf("expected payment type filter, got %+v", svc.eventFilters.PaymentType)
	}
	if svc.listParams.Limit != 10 {
		t.Fatalf("expected limit 10 got %d", svc.listParams.Limit)
	}
}

func TestListEventPaymentsRejectsBadInput(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		eventID string
		query   string
	}{
		{"not-a-uuid", ""},
		{uuid.NewString(), "?status=PAID"},
		{uuid.NewString(), "?limit=500"},
	} {
		req := authedRequest(http.MethodGet, "/api/v1/admin/events/"+tc.eventID+"/payments"+tc.query, "", uuid.New(), enums.UserRoleAdmin)
		req = withURLParams(req, map[string]string{"eventId": tc.eventID})
		rec := httptest.NewRecorder()
		ListEventPayments(newStubService(), nil)(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s%s: expected 400 got %d", tc.eventID, tc.query, rec.Code)
		}
	}
}

func TestRecordManualPayment(t *testing.T) {
	t.Parallel()

	svc := newStubService()
	eventID := uuid.New()
	body := `{"registrationId":"` + uuid.NewString() + `","amount":55000,"method":"card","orderName":"Walk-in","card":{"card_type":"BC","card_number":"1234-5678-9012-3456","approval_number":"00112233","installment":0},"note":" paid at desk "}`
	req := authedRequest(http.MethodPost, "/api/v1/admin/events/"+eventID.String()+"/payments/manual", body, uuid.New(), enums.UserRoleAdmin)
	req = withURLParams(req, map[string]string{"eventId": eventID.String()})
	rec := httptest.NewRecorder()
	RecordManualPayment(svc, nil)(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}
	in := svc.manualInput
	if in == nil || in.EventID != eventID || in.Method != enums.ManualMethodCard || in.Card == nil {
		t.Fatalf("unexpected manual input %+v", in)
	}
	if in.Note != "paid at desk" {
		t.Fatalf("expected trimmed note, got %q", in.Note)
	}
}

func TestRecordManualPaymentRejectsUnknownMethod(t *testing.T) {
	t.Parallel()

	eventID := uuid.NewString()
	body := `{"registrationId":"` + uuid.NewString() + `","amount":55000,"method":"cash","orderName":"Walk-in"}`
	req := withURLParams(authedRequest(http.MethodPost, "/", body, uuid.New(), enums.UserRoleAdmin), map[string]string{"eventId": eventID})
	rec := httptest.NewRecorder()
	RecordManualPayment(newStubService(), nil)(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}

func TestCancelPartialRequiresAmount(t *testing.T) {
	t.Parallel()

	svc := newStubService(ownedIntentFixture(uuid.New(), enums.PaymentStatusDone))
	req := withURLParams(authedRequest(http.MethodPost, "/", `{"partial":true}`, uuid.New(), enums.UserRoleAdmin), map[string]string{"orderId": "101500abcd1234"})
	rec := httptest.NewRecorder()
	Cancel(svc, nil)(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
	if svc.cancelInput != nil {
		t.Fatal("cancel should not reach the service")
	}
}

func TestCancelPassesReasonThrough(t *testing.T) {
	t.Parallel()

	svc := newStubService(ownedIntentFixture(uuid.New(), enums.PaymentStatusDone))
	req := withURLParams(authedRequest(http.MethodPost, "/", `{"partial":true,"amount":3000,"reason":"seat downgrade"}`, uuid.New(), enums.UserRoleAdmin), map[string]string{"orderId": "101500abcd1234"})
	rec := httptest.NewRecorder()
	Cancel(svc, nil)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.cancelInput.Amount != 3000 || !svc.cancelInput.Partial || svc.cancelInput.Reason != "seat downgrade" {
		t.Fatalf("unexpected cancel input %+v", svc.cancelInput)
	}
}
