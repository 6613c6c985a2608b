// Package registry decides where each outbox row is published and decodes it on the way.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/eventpay-backend/pkg/config"
	"github.com/angelmondragon/eventpay-backend/pkg/db/models"
	"github.com/angelmondragon/eventpay-backend/pkg/enums"
	"github.com/angelmondragon/eventpay-backend/pkg/outbox"
	"github.com/angelmondragon/eventpay-backend/pkg/outbox/payloads"
)

// ErrPermanent marks failures that will not go away on retry. Rows failing with it are
// parked in the DLQ immediately.
var ErrPermanent = errors.New("permanent outbox failure")

// Permanent wraps err so errors.Is(err, ErrPermanent) holds.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Route says which topic an event type is published on and which aggregate it belongs to.
type Route struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
}

// ResolvedEvent is a decoded outbox row ready to publish.
type ResolvedEvent struct {
	Route    Route
	Envelope outbox.PayloadEnvelope
	Payload  *payloads.PaymentEvent
}

// OrderingKey keeps every event of one payment in order on the subscriber side.
func (e *ResolvedEvent) OrderingKey(fallback uuid.UUID) string {
	if e.Payload != nil && e.Payload.OrderID != "" {
		return e.Payload.OrderID
	}
	return fallback.String()
}

// EventRegistry is the set of event types the publisher knows how to route.
type EventRegistry struct {
	routes map[enums.OutboxEventType]Route
}

// PaymentEventTypes lists every lifecycle event written by the payments service.
var PaymentEventTypes = []enums.OutboxEventType{
	enums.EventPaymentIntentOpened,
	enums.EventPaymentRequested,
	enums.EventPaymentApproved,
	enums.EventPaymentConfirmed,
	enums.EventPaymentDepositPending,
	enums.EventPaymentCanceled,
	enums.EventPaymentAborted,
	enums.EventPaymentExpired,
	enums.EventPaymentNoteUpdated,
}

// NewEventRegistry routes every payment lifecycle event to the domain topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.DomainTopic == "" {
		return nil, errors.New("pubsub domain topic is required")
	}
	routes := make(map[enums.OutboxEventType]Route, len(PaymentEventTypes))
	for _, t := range PaymentEventTypes {
		routes[t] = Route{EventType: t, AggregateType: enums.AggregatePaymentIntent, Topic: cfg.DomainTopic}
	}
	return &EventRegistry{routes: routes}, nil
}

// Resolve checks the row against its route and decodes the envelope and payload. Every
// error it returns is permanent.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	route, ok := r.routes[event.EventType]
	switch {
	case !ok:
		return nil, Permanent(fmt.Errorf("unsupported event type %q", event.EventType))
	case route.AggregateType != event.AggregateType:
		return nil, Permanent(fmt.Errorf("event %s belongs to %s, row says %s", event.EventType, route.AggregateType, event.AggregateType))
	case event.AggregateID == uuid.Nil:
		return nil, Permanent(errors.New("row has no aggregate id"))
	}

	var env outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &env); err != nil {
		return nil, Permanent(fmt.Errorf("decode envelope: %w", err))
	}
	if env.Version > outbox.EnvelopeVersion {
		return nil, Permanent(fmt.Errorf("envelope version %d is newer than %d", env.Version, outbox.EnvelopeVersion))
	}
	if data := bytes.TrimSpace(env.Data); len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, Permanent(fmt.Errorf("%s row has no data", event.EventType))
	}

	var payload payloads.PaymentEvent
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return nil, Permanent(fmt.Errorf("decode %s data: %w", event.EventType, err))
	}
	return &ResolvedEvent{Route: route, Envelope: env, Payload: &payload}, nil
}
