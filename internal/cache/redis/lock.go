package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/bondescrow/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockLua deletes a lock key only if it still holds the caller's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// refreshLua extends a lock's TTL only if it still holds the caller's token.
const refreshLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

const unlockTimeout = 5 * time.Second

// LockManager implements domain.LockManager using Redis SETNX with a TTL and
// token-checked Lua scripts for release and refresh.
type LockManager struct {
	c         *Client
	unlockSc  *redis.Script
	refreshSc *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		c:         c,
		unlockSc:  redis.NewScript(unlockLua),
		refreshSc: redis.NewScript(refreshLua),
	}
}

func (lm *LockManager) lockKey(key string) string {
	return lm.c.Key("lock:" + key)
}

// Acquire obtains the lock for key with the given TTL. The returned unlock
// function is safe to call more than once. It returns domain.ErrLockHeld if
// another party holds the lock.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	l, err := lm.acquire(ctx, key, ttl)
	if err != nil {
		return nil, err
	}
	return l.Release, nil
}

// AcquireLease obtains the lock for key as a lease the holder must refresh
// before ttl elapses.
func (lm *LockManager) AcquireLease(ctx context.Context, key string, ttl time.Duration) (domain.Lease, error) {
	return lm.acquire(ctx, key, ttl)
}

func (lm *LockManager) acquire(ctx context.Context, key string, ttl time.Duration) (*lease, error) {
	token := uuid.New().String()
	lk := lm.lockKey(key)

	ok, err := lm.c.Underlying().SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld.With("%s", key)
	}
	return &lease{lm: lm, name: key, key: lk, token: token, ttl: ttl}, nil
}

type lease struct {
	lm    *LockManager
	name  string
	key   string
	token string
	ttl   time.Duration

	once sync.Once
}

// Refresh extends the lease by its TTL. It returns domain.ErrLockHeld when
// the lease has expired or been taken over.
func (l *lease) Refresh(ctx context.Context) error {
	n, err := l.lm.refreshSc.Run(ctx, l.lm.c.Underlying(), []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("redis: refresh lock %s: %w", l.name, err)
	}
	if n == 0 {
		return domain.ErrLockHeld.With("lease %s lost", l.name)
	}
	return nil
}

// Release drops the lease if it is still held. Release uses its own context
// so it succeeds after the caller's context is cancelled.
func (l *lease) Release() {
	l.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
		defer cancel()
		_ = l.lm.unlockSc.Run(ctx, l.lm.c.Underlying(), []string{l.key}, l.token).Err()
	})
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
