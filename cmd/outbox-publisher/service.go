package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/eventpay-backend/pkg/bigquery"
	"github.com/angelmondragon/eventpay-backend/pkg/config"
	"github.com/angelmondragon/eventpay-backend/pkg/db/models"
	"github.com/angelmondragon/eventpay-backend/pkg/enums"
	"github.com/angelmondragon/eventpay-backend/pkg/logger"
	"github.com/angelmondragon/eventpay-backend/pkg/outbox"
	"github.com/angelmondragon/eventpay-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollMs         = 500
	defaultPublishTimeout = 15 * time.Second
	defaultMirrorTimeout  = 20 * time.Second
	defaultMaxAttempts    = 10
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

// paymentMirror receives a copy of every published payment event for analytics.
type paymentMirror interface {
	InsertPaymentEvents(ctx context.Context, rows []bigquery.PaymentEventRow) error
}

// mirrorDedup claims envelope ids so a redelivered row is mirrored once.
type mirrorDedup interface {
	Seen(ctx context.Context, sink, eventID string) (bool, error)
	Forget(ctx context.Context, sink, eventID string) error
}

const mirrorSink = "bigquery"

type publisherFactory func(topic string) publisher

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type ServiceParams struct {
	Config           *config.Config
	Logger           *logger.Logger
	DB               dbClient
	PubSub           pubSubClient
	Repository       outboxRepository
	Registry         registryResolver
	PublisherFactory publisherFactory
	DLQRepository    dlqRepository
	// Mirror is optional; nil disables the analytics copy.
	Mirror paymentMirror
	// MirrorDedup is optional; without it BigQuery insert ids are the only dedupe.
	MirrorDedup mirrorDedup
}

// Service drains the payment outbox onto Pub/Sub.
type Service struct {
	logg             *logger.Logger
	db               dbClient
	repo             outboxRepository
	pubsub           pubSubClient
	registry         registryResolver
	dlq              dlqRepository
	mirror           paymentMirror
	mirrorDedup      mirrorDedup
	publisherFactory publisherFactory
	batchSize        int
	maxAttempts      int
	pollInterval     time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Config == nil:
		return nil, errors.New("config is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	case params.DLQRepository == nil:
		return nil, errors.New("dlq repository is required")
	}

	factory := params.PublisherFactory
	if factory == nil {
		factory = func(topic string) publisher {
			return newGCPPublisher(params.PubSub.Publisher(topic))
		}
	}

	cfg := params.Config.Outbox
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	pollMs := cfg.PollIntervalMS
	if pollMs <= 0 {
		pollMs = defaultPollMs
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	return &Service{
		logg:             params.Logger,
		db:               params.DB,
		repo:             params.Repository,
		pubsub:           params.PubSub,
		registry:         params.Registry,
		dlq:              params.DLQRepository,
		mirror:           params.Mirror,
		mirrorDedup:      params.MirrorDedup,
		publisherFactory: factory,
		batchSize:        batch,
		maxAttempts:      maxAttempts,
		pollInterval:     time.Duration(pollMs) * time.Millisecond,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := pingDependency(ctx, s.logg, "database", s.db.Ping); err != nil {
		return err
	}
	return pingDependency(ctx, s.logg, "pubsub", s.pubsub.Ping)
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

// Run polls until ctx is canceled, backing off exponentially while batches fail.
func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	backoff := s.pollInterval
	for {
		if err := ctx.Err(); err != nil {
			s.logg.Info(ctx, "outbox publisher context canceled")
			return err
		}

		processed, err := s.processBatch(ctx)
		if err != nil {
			s.logg.Error(ctx, "outbox publisher batch error", err)
			backoff = nextBackoff(backoff, s.pollInterval, maxBackoff)
			if err := s.sleep(ctx, withJitter(backoff)); err != nil {
				return err
			}
			continue
		}
		backoff = s.pollInterval

		if processed {
			continue
		}
		if err := s.sleep(ctx, withJitter(s.pollInterval)); err != nil {
			return err
		}
	}
}

func (s *Service) processBatch(ctx context.Context) (bool, error) {
	processed := false
	var mirrored []bigquery.PaymentEventRow
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		mirrored = mirrored[:0]
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}

		processed = true
		for _, event := range events {
			row, err := s.processEvent(ctx, tx, event)
			if err != nil {
				return err
			}
			if row != nil {
				mirrored = append(mirrored, *row)
			}
		}
		return nil
	})
	if err == nil {
		s.mirrorRows(ctx, mirrored)
	}
	return processed, err
}

// processEvent publishes one row and records the outcome. Only bookkeeping failures are
// returned; publish failures are recorded on the row.
func (s *Service) processEvent(ctx context.Context, tx *gorm.DB, event models.OutboxEvent) (*bigquery.PaymentEventRow, error) {
	resolved, err := s.registry.Resolve(event)
	if err != nil {
		return nil, s.handleTerminal(ctx, tx, event, enums.OutboxDLQReasonMalformed, err, "", nil)
	}

	fields := s.eventFields(event, resolved.Envelope, resolved.Route.Topic)
	if err := s.publishResolved(ctx, event, resolved); err != nil {
		if errors.Is(err, registry.ErrPermanent) {
			return nil, s.handleTerminal(ctx, tx, event, enums.OutboxDLQReasonNonRetryable, err, resolved.Route.Topic, fields)
		}

		nextAttempt := event.AttemptCount + 1
		fields["attempt_count"] = nextAttempt
		if nextAttempt >= s.maxAttempts {
			terminalErr := fmt.Errorf("max publish attempts reached: %w", err)
			return nil, s.handleTerminal(ctx, tx, event, enums.OutboxDLQReasonMaxAttempts, terminalErr, resolved.Route.Topic, fields)
		}

		logCtx := s.logg.WithField(s.logg.WithFields(ctx, fields), "error", err.Error())
		s.logg.Warn(logCtx, "outbox publish failed")
		if markErr := s.repo.MarkFailedTx(tx, event.ID, err); markErr != nil {
			return nil, fmt.Errorf("mark failure %s: %w", event.ID, markErr)
		}
		return nil, nil
	}

	if err := s.repo.MarkPublishedTx(tx, event.ID); err != nil {
		return nil, fmt.Errorf("mark published %s: %w", event.ID, err)
	}
	s.logg.Debug(s.logg.WithFields(ctx, fields), "outbox event published")
	return paymentEventRow(event, resolved), nil
}

func (s *Service) handleTerminal(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, err error, topic string, fields map[string]any) error {
	if fields == nil {
		fields = s.eventFields(event, outbox.PayloadEnvelope{}, topic)
	}
	fields["error_reason"] = reason
	logCtx := s.logg.WithField(s.logg.WithFields(ctx, fields), "error", err.Error())
	s.logg.Warn(logCtx, "outbox event will not be retried")

	msg := err.Error()
	entry := models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  event.AttemptCount,
		FailedAt:      time.Now().UTC(),
	}
	if dlqErr := s.dlq.InsertTx(tx, entry); dlqErr != nil {
		return fmt.Errorf("insert dlq %s: %w", event.ID, dlqErr)
	}
	if markErr := s.repo.MarkTerminalTx(tx, event.ID, err, s.maxAttempts); markErr != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, markErr)
	}
	return nil
}

func (s *Service) publishResolved(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	topic := resolved.Route.Topic
	pub := s.publisherFactory(topic)
	if pub == nil {
		return registry.Permanent(fmt.Errorf("publisher not configured for topic %s", topic))
	}

	attrs := map[string]string{
		"event_id":       resolved.Envelope.EventID,
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID.String(),
		"created_at":     event.CreatedAt.Format(time.RFC3339Nano),
	}
	if p := resolved.Payload; p != nil && p.OrderID != "" {
		attrs["order_id"] = p.OrderID
		attrs["status"] = string(p.Status)
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	result := pub.Publish(publishCtx, &gcppubsub.Message{
		Data:        event.Payload,
		Attributes:  attrs,
		OrderingKey: resolved.OrderingKey(event.AggregateID),
	})
	if result == nil {
		return registry.Permanent(fmt.Errorf("publisher returned nil for topic %s", topic))
	}
	_, err := result.Get(publishCtx)
	return err
}

// mirrorRows copies committed events to BigQuery. A failed mirror is logged and dropped:
// Pub/Sub delivery is the source of truth and the row is already marked published.
func (s *Service) mirrorRows(ctx context.Context, rows []bigquery.PaymentEventRow) {
	if s.mirror == nil || len(rows) == 0 {
		return
	}
	rows = s.claimMirrorRows(ctx, rows)
	if len(rows) == 0 {
		return
	}
	mirrorCtx, cancel := context.WithTimeout(ctx, defaultMirrorTimeout)
	defer cancel()
	if err := s.mirror.InsertPaymentEvents(mirrorCtx, rows); err != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{"rows": len(rows), "error": err.Error()})
		s.logg.Warn(logCtx, "bigquery mirror insert failed")
		s.releaseMirrorRows(ctx, rows)
	}
}

// claimMirrorRows drops rows already mirrored. A dedupe store failure keeps the row;
// BigQuery insert ids still catch close duplicates.
func (s *Service) claimMirrorRows(ctx context.Context, rows []bigquery.PaymentEventRow) []bigquery.PaymentEventRow {
	if s.mirrorDedup == nil {
		return rows
	}
	kept := rows[:0]
	for _, row := range rows {
		seen, err := s.mirrorDedup.Seen(ctx, mirrorSink, row.EventID)
		if err != nil {
			logCtx := s.logg.WithFields(ctx, map[string]any{"eventId": row.EventID, "error": err.Error()})
			s.logg.Warn(logCtx, "mirror dedupe check failed")
		}
		if seen {
			continue
		}
		kept = append(kept, row)
	}
	return kept
}

func (s *Service) releaseMirrorRows(ctx context.Context, rows []bigquery.PaymentEventRow) {
	if s.mirrorDedup == nil {
		return
	}
	for _, row := range rows {
		if err := s.mirrorDedup.Forget(ctx, mirrorSink, row.EventID); err != nil {
			logCtx := s.logg.WithFields(ctx, map[string]any{"eventId": row.EventID, "error": err.Error()})
			s.logg.Warn(logCtx, "mirror dedupe release failed")
		}
	}
}

func paymentEventRow(event models.OutboxEvent, resolved *registry.ResolvedEvent) *bigquery.PaymentEventRow {
	p := resolved.Payload
	if p == nil {
		return nil
	}
	row := &bigquery.PaymentEventRow{
		EventID:        resolved.Envelope.EventID,
		EventType:      string(event.EventType),
		OrderID:        p.OrderID,
		RegistrationID: p.RegistrationID.String(),
		EventRefID:     p.EventID.String(),
		PaymentType:    string(p.PaymentType),
		Provider:       string(p.Provider),
		Status:         string(p.Status),
		Currency:       string(p.Currency),
		Amount:         p.Amount,
		RefundedAmount: p.RefundedAmount,
		OccurredAt:     resolved.Envelope.OccurredAt,
	}
	if p.PreviousStatus != "" {
		row.PreviousStatus.StringVal, row.PreviousStatus.Valid = string(p.PreviousStatus), true
	}
	if p.DeltaAmount != 0 {
		row.DeltaAmount.Int64, row.DeltaAmount.Valid = p.DeltaAmount, true
	}
	if actor := resolved.Envelope.Actor; actor != nil && actor.Role != "" {
		row.ActorRole.StringVal, row.ActorRole.Valid = actor.Role, true
	}
	if row.EventID == "" {
		row.EventID = event.ID.String()
	}
	return row
}

func (s *Service) eventFields(event models.OutboxEvent, envelope outbox.PayloadEnvelope, topic string) map[string]any {
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"attempt_count":  event.AttemptCount,
	}
	if envelope.EventID != "" {
		fields["event_id"] = envelope.EventID
	}
	if topic != "" {
		fields["topic"] = topic
	}
	if event.LastError != nil {
		fields["last_error"] = *event.LastError
	}
	return fields
}

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	if next := current * 2; next < max {
		return next
	}
	return max
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + rand.N(jitterWindow)
}

func newGCPPublisher(p *gcppubsub.Publisher) publisher {
	if p == nil {
		return nil
	}
	return &gcpPublisher{Publisher: p}
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return &gcpPublishResult{
		result: p.Publisher.Publish(ctx, msg),
		resume: func() { p.Publisher.ResumePublish(msg.OrderingKey) },
	}
}

// gcpPublishResult unpauses the ordering key after a failure; Pub/Sub rejects every later
// message for that key until it is resumed.
type gcpPublishResult struct {
	result *gcppubsub.PublishResult
	resume func()
}

func (r *gcpPublishResult) Get(ctx context.Context) (string, error) {
	id, err := r.result.Get(ctx)
	if err != nil && r.resume != nil {
		r.resume()
	}
	return id, err
}
