// File: internal/infra/lock/memory.go
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"chat-proxy/internal/domain/ports/adapter"
)

var _ adapter.Locker = (*MemoryLocker)(nil)

type entry struct {
	token   string
	expires time.Time
}

// MemoryLocker is a single-process Locker. Same contract as the redis one:
// a few short retries, then adapter.ErrLockHeld.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]entry
	now   func() time.Time
	tries int
	wait  time.Duration
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		held:  make(map[string]entry),
		now:   time.Now,
		tries: 5,
		wait:  50 * time.Millisecond,
	}
}

func (l *MemoryLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	for i := 0; i < l.tries; i++ {
		if l.acquire(key, token, ttl) {
			return token, nil
		}
		if i == l.tries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(l.wait):
		}
	}
	return "", adapter.ErrLockHeld
}

func (l *MemoryLocker) acquire(key, token string, ttl time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if e, ok := l.held[key]; ok && now.Before(e.expires) {
		return false
	}
	l.held[key] = entry{token: token, expires: now.Add(ttl)}
	return true
}

// Unlock releases key only if token still owns it. A stale token is ignored.
func (l *MemoryLocker) Unlock(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.held[key]; ok && e.token == token {
		delete(l.held, key)
	}
	return nil
}
