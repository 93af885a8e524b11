// Package lock provides keyed TTL locks used to serialize rating submissions
// per mechanic. The memory locker covers a single instance; the Redis locker
// coordinates multiple instances sharing one store.
package lock

import (
	"context"
	"sync"
	"time"
)

// Locker acquires a named lock for at most ttl. Acquire returns false when
// the lock is currently held; the TTL guards against a holder that never
// releases.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// MemoryLocker is an in-process Locker backed by a map of expiry times.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]time.Time)}
}

// Acquire takes the lock unless a live entry exists. Expired entries are
// treated as free and collected lazily on the next acquire.
func (m *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if expiry, held := m.locks[key]; held && now.Before(expiry) {
		return false, nil
	}
	m.locks[key] = now.Add(ttl)
	return true, nil
}

// Release frees the lock regardless of remaining TTL.
func (m *MemoryLocker) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, key)
	return nil
}
