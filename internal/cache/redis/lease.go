package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"lpwatch/internal/cache"
	"lpwatch/internal/logger"
)

var log = logger.Named("cache.redis")

// 仅当值等于自己的 token 时才删除，避免误删他人的锁。
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// 续约同理：只延长自己持有的锁。
const renewLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

const DefaultLeaseTTL = 2 * time.Hour

// Lease is a leader lease: one token per process, acquired with SETNX and
// extended on every Hold while still owned.
type Lease struct {
	rdb      redis.Cmdable
	key      string
	token    string
	ttl      time.Duration
	unlockSc *redis.Script
	renewSc  *redis.Script

	mu   sync.Mutex
	held bool
}

// NewLease builds a lease on name; ttl<=0 uses DefaultLeaseTTL.
func NewLease(rdb redis.Cmdable, name string, ttl time.Duration) *Lease {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	return &Lease{
		rdb:      rdb,
		key:      leaseKey(name),
		token:    uuid.New().String(),
		ttl:      ttl,
		unlockSc: redis.NewScript(unlockLua),
		renewSc:  redis.NewScript(renewLua),
	}
}

func leaseKey(name string) string {
	return "lpwatch:lease:" + name
}

func (l *Lease) Key() string   { return l.key }
func (l *Lease) Token() string { return l.token }

// Acquire returns cache.ErrLockHeld when another process owns the lease.
func (l *Lease) Acquire(ctx context.Context) error {
	held, err := l.Hold(ctx)
	if err != nil {
		return err
	}
	if !held {
		return cache.ErrLockHeld
	}
	return nil
}

// Hold renews the lease if we own it, otherwise tries to take it.
func (l *Lease) Hold(ctx context.Context) (bool, error) {
	renewed, err := l.renewSc.Run(ctx, l.rdb, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil && err != redis.Nil {
		return false, fmt.Errorf("redis: renew lease %s: %w", l.key, err)
	}
	if renewed == 1 {
		l.setHeld(true)
		return true, nil
	}
	ok, err := l.rdb.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: acquire lease %s: %w", l.key, err)
	}
	l.setHeld(ok)
	return ok, nil
}

// Release gives the lease up if we still own it.
func (l *Lease) Release(ctx context.Context) error {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := l.unlockSc.Run(releaseCtx, l.rdb, []string{l.key}, l.token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("redis: release lease %s: %w", l.key, err)
	}
	l.setHeld(false)
	return nil
}

func (l *Lease) setHeld(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held != v {
		if v {
			log.Infof("lease acquired key=%s ttl=%s", l.key, l.ttl)
		} else {
			log.Infof("lease lost/released key=%s", l.key)
		}
	}
	l.held = v
}
