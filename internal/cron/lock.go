package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultLockTTL = 5 * time.Minute

// Lock keeps a cycle from running on two workers at once.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type lockStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	ExtendLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, owner string) (bool, error)
}

// RedisLock holds an owner-tokened key and refreshes its TTL every third of the TTL, so a
// cycle that outlives the TTL keeps the lock. If a refresh finds the key gone or taken,
// the hold is dropped and Lost is closed.
type RedisLock struct {
	store lockStore
	key   string
	ttl   time.Duration

	mu   sync.Mutex
	hold *lockHold
}

type lockHold struct {
	owner string
	stop  context.CancelFunc
	done  chan struct{}
	lost  chan struct{}
}

func NewRedisLock(store lockStore, key string, ttl time.Duration) (*RedisLock, error) {
	switch {
	case store == nil:
		return nil, errors.New("redis client required for lock")
	case key == "":
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{store: store, key: key, ttl: ttl}, nil
}

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	owner := uuid.NewString()
	ok, err := l.store.SetNX(ctx, l.key, owner, l.ttl)
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	if !ok {
		return false, nil
	}

	refreshCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	hold := &lockHold{owner: owner, stop: stop, done: make(chan struct{}), lost: make(chan struct{})}
	l.mu.Lock()
	l.hold = hold
	l.mu.Unlock()
	go l.refresh(refreshCtx, hold)
	return true, nil
}

func (l *RedisLock) refresh(ctx context.Context, hold *lockHold) {
	defer close(hold.done)
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := l.store.ExtendLock(ctx, l.key, hold.owner, l.ttl)
			if err == nil && !ok {
				close(hold.lost)
				return
			}
		}
	}
}

// Lost is closed when the current hold was taken over by another worker. It returns nil
// when nothing is held.
func (l *RedisLock) Lost() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.hold == nil {
		return nil
	}
	return l.hold.lost
}

func (l *RedisLock) Release(ctx context.Context) error {
	l.mu.Lock()
	hold := l.hold
	l.hold = nil
	l.mu.Unlock()
	if hold == nil {
		return nil
	}
	hold.stop()
	<-hold.done
	if _, err := l.store.ReleaseLock(ctx, l.key, hold.owner); err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	return nil
}
