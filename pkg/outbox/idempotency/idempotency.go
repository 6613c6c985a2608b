package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/eventpay-backend/pkg/redis"
)

// Manager remembers which envelope event ids a sink has already consumed.
// Keys follow `ep:idempotency:evt:<sink>:<event_id>`.
type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

func NewManager(store redis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{store: store, ttl: ttl}, nil
}

// Seen reports true when the sink already handled eventID; otherwise it claims the id.
func (m *Manager) Seen(ctx context.Context, sink, eventID string) (bool, error) {
	key, err := m.key(sink, eventID)
	if err != nil {
		return false, err
	}
	set, err := m.store.SetNX(ctx, key, "1", m.ttl)
	if err != nil {
		return false, err
	}
	return !set, nil
}

// Forget releases a claim so a failed delivery can be retried.
func (m *Manager) Forget(ctx context.Context, sink, eventID string) error {
	key, err := m.key(sink, eventID)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

func (m *Manager) key(sink, eventID string) (string, error) {
	sink = strings.TrimSpace(sink)
	if sink == "" {
		return "", errors.New("sink name is required")
	}
	if _, err := uuid.Parse(eventID); err != nil {
		return "", fmt.Errorf("event id must be a uuid: %w", err)
	}
	return m.store.IdempotencyKey("evt:"+sink, eventID), nil
}
