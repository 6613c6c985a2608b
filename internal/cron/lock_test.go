package cron

import (
	"context"
	"sync"
	"testing"
	"time"
)

type memoryLockStore struct {
	mu      sync.Mutex
	values  map[string]string
	ttls    map[string]time.Duration
	extends int
}

func newMemoryLockStore() *memoryLockStore {
	return &memoryLockStore{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memoryLockStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	m.ttls[key] = ttl
	return true, nil
}

func (m *memoryLockStore) ExtendLock(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values[key] != owner {
		return false, nil
	}
	m.extends++
	m.ttls[key] = ttl
	return true, nil
}

func (m *memoryLockStore) ReleaseLock(_ context.Context, key, owner string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values[key] != owner {
		return false, nil
	}
	delete(m.values, key)
	return true, nil
}

func (m *memoryLockStore) held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.values[key]
	return ok
}

func (m *memoryLockStore) steal(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = "someone-else"
}

func (m *memoryLockStore) extendCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.extends
}

func TestRedisLockIsExclusiveUntilReleased(t *testing.T) {
	store := newMemoryLockStore()
	first, err := NewRedisLock(store, "cron:lock", 0)
	if err != nil {
		t.Fatalf("NewRedisLock: %v", err)
	}
	second, _ := NewRedisLock(store, "cron:lock", time.Minute)
	ctx := context.Background()

	if ok, err := first.Acquire(ctx); err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	if store.ttls["cron:lock"] != defaultLockTTL {
		t.Fatalf("expected default ttl, got %v", store.ttls["cron:lock"])
	}
	if ok, _ := second.Acquire(ctx); ok {
		t.Fatal("second worker acquired a held lock")
	}
	if err := second.Release(ctx); err != nil {
		t.Fatalf("release without a hold: %v", err)
	}
	if !store.held("cron:lock") {
		t.Fatal("non-owner release removed the lock")
	}
	if err := first.Release(ctx); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if ok, _ := second.Acquire(ctx); !ok {
		t.Fatal("expected lock to be free after owner release")
	}
	_ = second.Release(ctx)
}

func TestRedisLockRefreshesWhileHeld(t *testing.T) {
	store := newMemoryLockStore()
	lock, _ := NewRedisLock(store, "cron:lock", 30*time.Millisecond)
	ctx := context.Background()

	if ok, _ := lock.Acquire(ctx); !ok {
		t.Fatal("acquire failed")
	}
	deadline := time.Now().Add(time.Second)
	for store.extendCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if store.extendCount() < 2 {
		t.Fatalf("expected periodic refresh, got %d", store.extendCount())
	}
	if err := lock.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	after := store.extendCount()
	time.Sleep(50 * time.Millisecond)
	if store.extendCount() != after {
		t.Fatal("refresh kept running after release")
	}
}

func TestRedisLockReportsLoss(t *testing.T) {
	store := newMemoryLockStore()
	lock, _ := NewRedisLock(store, "cron:lock", 30*time.Millisecond)
	ctx := context.Background()

	if lock.Lost() != nil {
		t.Fatal("no hold means no loss channel")
	}
	if ok, _ := lock.Acquire(ctx); !ok {
		t.Fatal("acquire failed")
	}
	lost := lock.Lost()
	store.steal("cron:lock")

	select {
	case <-lost:
	case <-time.After(time.Second):
		t.Fatal("expected loss to be reported")
	}
	if err := lock.Release(ctx); err != nil {
		t.Fatalf("release after loss: %v", err)
	}
	if !store.held("cron:lock") {
		t.Fatal("release must not delete the new owner's key")
	}
}

func TestNewRedisLockValidation(t *testing.T) {
	if _, err := NewRedisLock(nil, "k", 0); err == nil {
		t.Fatal("expected error for nil store")
	}
	if _, err := NewRedisLock(newMemoryLockStore(), "", 0); err == nil {
		t.Fatal("expected error for empty key")
	}
}
