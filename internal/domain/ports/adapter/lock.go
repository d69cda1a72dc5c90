package adapter

import (
	"context"
	"errors"
	"time"
)

// ErrLockHeld is returned by TryLock when another holder owns the key.
var ErrLockHeld = errors.New("lock held")

// Locker is an optional keyed mutex. Implementations return a token that must
// be presented to Unlock; a held key makes TryLock fail.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}
