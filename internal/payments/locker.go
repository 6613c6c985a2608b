package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/eventpay-backend/pkg/errors"
)

const (
	defaultLockTTL  = 60 * time.Second
	defaultLockWait = 10 * time.Second
	lockPollEvery   = 50 * time.Millisecond
)

// ErrLocked is returned by TryAcquire when another caller holds the key.
var ErrLocked = errors.New("payment is locked by another operation")

// Locker serializes mutations of one order or registration across callers.
type Locker interface {
	// Acquire blocks until the key is free or the wait budget is spent.
	Acquire(ctx context.Context, key string) (release func(), err error)
	// TryAcquire returns ErrLocked instead of waiting.
	TryAcquire(ctx context.Context, key string) (release func(), err error)
}

func orderLockKey(orderID string) string {
	return "order:" + orderID
}

func registrationLockKey(registrationID uuid.UUID) string {
	return "registration:" + registrationID.String()
}

type lockStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, owner string) (bool, error)
	LockKey(scope, id string) string
}

// RedisLocker is a SETNX lock with an owner token, shared by every API instance.
type RedisLocker struct {
	store lockStore
	ttl   time.Duration
	wait  time.Duration
}

func NewRedisLocker(store lockStore, ttl, wait time.Duration) (*RedisLocker, error) {
	if store == nil {
		return nil, errors.New("redis client required for locker")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	if wait <= 0 {
		wait = defaultLockWait
	}
	return &RedisLocker{store: store, ttl: ttl, wait: wait}, nil
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	deadline := time.Now().Add(l.wait)
	for {
		release, err := l.TryAcquire(ctx, key)
		if err == nil {
			return release, nil
		}
		if !errors.Is(err, ErrLocked) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, lockBusy(key)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPollEvery):
		}
	}
}

func (l *RedisLocker) TryAcquire(ctx context.Context, key string) (func(), error) {
	redisKey := l.store.LockKey("payment", key)
	owner := uuid.NewString()
	ok, err := l.store.SetNX(ctx, redisKey, owner, l.ttl)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire payment lock")
	}
	if !ok {
		return nil, ErrLocked
	}
	return func() {
		// release must outlive a canceled request context.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_, _ = l.store.ReleaseLock(releaseCtx, redisKey, owner)
	}, nil
}

// LocalLocker is an in-process keyed mutex for single-instance and test deployments.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*localSlot
	wait  time.Duration
}

type localSlot struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker(wait time.Duration) *LocalLocker {
	if wait <= 0 {
		wait = defaultLockWait
	}
	return &LocalLocker{slots: make(map[string]*localSlot), wait: wait}
}

func (l *LocalLocker) slot(key string) *localSlot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &localSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *LocalLocker) drop(key string, s *localSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string) (func(), error) {
	s := l.slot(key)
	timer := time.NewTimer(l.wait)
	defer timer.Stop()
	select {
	case s.ch <- struct{}{}:
		return l.releaser(key, s), nil
	case <-ctx.Done():
		l.drop(key, s)
		return nil, ctx.Err()
	case <-timer.C:
		l.drop(key, s)
		return nil, lockBusy(key)
	}
}

func (l *LocalLocker) TryAcquire(_ context.Context, key string) (func(), error) {
	s := l.slot(key)
	select {
	case s.ch <- struct{}{}:
		return l.releaser(key, s), nil
	default:
		l.drop(key, s)
		return nil, ErrLocked
	}
}

func (l *LocalLocker) releaser(key string, s *localSlot) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.drop(key, s)
		})
	}
}

func lockBusy(key string) error {
	return pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("payment %s is busy, retry shortly", key))
}
