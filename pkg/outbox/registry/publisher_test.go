package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/eventpay-backend/pkg/config"
	"github.com/angelmondragon/eventpay-backend/pkg/db/models"
	"github.com/angelmondragon/eventpay-backend/pkg/enums"
	"github.com/angelmondragon/eventpay-backend/pkg/outbox"
	"github.com/angelmondragon/eventpay-backend/pkg/outbox/payloads"
)

func envelopeJSON(t *testing.T, version int, data string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    version,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       json.RawMessage(data),
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return raw
}

func paymentRow(t *testing.T, eventType enums.OutboxEventType, payload json.RawMessage) models.OutboxEvent {
	t.Helper()
	return models.OutboxEvent{
		EventType:     eventType,
		AggregateType: enums.AggregatePaymentIntent,
		AggregateID:   uuid.New(),
		Payload:       payload,
	}
}

func TestResolveRoutesEveryPaymentEvent(t *testing.T) {
	reg, err := NewEventRegistry(config.PubSubConfig{DomainTopic: "payments"})
	if err != nil {
		t.Fatalf("NewEventRegistry: %v", err)
	}
	for _, eventType := range PaymentEventTypes {
		data := `{"order_id":"101500abcd1234","status":"DONE","amount":110000}`
		resolved, err := reg.Resolve(paymentRow(t, eventType, envelopeJSON(t, outbox.EnvelopeVersion, data)))
		if err != nil {
			t.Fatalf("%s: %v", eventType, err)
		}
		if resolved.Route.Topic != "payments" {
			t.Fatalf("%s: topic %q", eventType, resolved.Route.Topic)
		}
		if resolved.Payload.OrderID != "101500abcd1234" || resolved.Payload.Status != enums.PaymentStatusDone || resolved.Payload.Amount != 110000 {
			t.Fatalf("%s: payload %+v", eventType, resolved.Payload)
		}
		if resolved.Envelope.EventID == "" {
			t.Fatalf("%s: envelope lost its id", eventType)
		}
	}
}

func TestResolveRejectsPermanently(t *testing.T) {
	reg, err := NewEventRegistry(config.PubSubConfig{DomainTopic: "payments"})
	if err != nil {
		t.Fatalf("NewEventRegistry: %v", err)
	}
	good := `{"order_id":"101500abcd1234"}`

	cases := map[string]models.OutboxEvent{
		"unknown type":   paymentRow(t, "order_created", envelopeJSON(t, 1, good)),
		"null data":      paymentRow(t, enums.EventPaymentExpired, envelopeJSON(t, 1, `null`)),
		"future version": paymentRow(t, enums.EventPaymentConfirmed, envelopeJSON(t, outbox.EnvelopeVersion+1, good)),
		"bad envelope":   paymentRow(t, enums.EventPaymentConfirmed, json.RawMessage(`{"version":`)),
		"bad data":       paymentRow(t, enums.EventPaymentConfirmed, envelopeJSON(t, 1, `{"amount":"lots"}`)),
	}
	wrongAggregate := paymentRow(t, enums.EventPaymentCanceled, envelopeJSON(t, 1, good))
	wrongAggregate.AggregateType = enums.AggregateLedgerEvent
	cases["wrong aggregate"] = wrongAggregate
	noAggregate := paymentRow(t, enums.EventPaymentCanceled, envelopeJSON(t, 1, good))
	noAggregate.AggregateID = uuid.Nil
	cases["missing aggregate id"] = noAggregate

	for name, row := range cases {
		_, err := reg.Resolve(row)
		if !errors.Is(err, ErrPermanent) {
			t.Errorf("%s: expected permanent error, got %v", name, err)
		}
	}
}

func TestOrderingKeyPrefersOrderID(t *testing.T) {
	fallback := uuid.New()
	withOrder := &ResolvedEvent{Payload: &payloads.PaymentEvent{OrderID: "101500abcd1234"}}
	if got := withOrder.OrderingKey(fallback); got != "101500abcd1234" {
		t.Fatalf("expected order id, got %s", got)
	}
	if got := (&ResolvedEvent{Payload: &payloads.PaymentEvent{}}).OrderingKey(fallback); got != fallback.String() {
		t.Fatalf("expected aggregate fallback, got %s", got)
	}
}

func TestPermanent(t *testing.T) {
	if Permanent(nil) != nil {
		t.Fatal("nil stays nil")
	}
	cause := errors.New("topic gone")
	err := Permanent(cause)
	if !errors.Is(err, ErrPermanent) || !errors.Is(err, cause) {
		t.Fatalf("wrapping lost a link: %v", err)
	}
}

func TestNewEventRegistryRequiresTopic(t *testing.T) {
	if _, err := NewEventRegistry(config.PubSubConfig{}); err == nil {
		t.Fatal("expected error without domain topic")
	}
}
