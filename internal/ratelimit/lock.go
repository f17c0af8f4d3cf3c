package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another worker owns the lease.
var ErrLockHeld = errors.New("lock held by another worker")

// Deletes the key only while it still holds our token, so an expired lease
// never releases a successor's lock.
const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// Locker hands out SETNX leases across api and scheduler instances. A nil
// Locker grants every lease, so single-process deployments need no redis.
type Locker struct {
	client *redis.Client
	script *redis.Script
}

// Lease is a held lock. The zero Lease, from a disabled Locker, releases
// nothing.
type Lease struct {
	locker *Locker
	key    string
	token  string
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
	}
}

func (l *Locker) Enabled() bool {
	return l != nil && l.client != nil
}

// Acquire takes the lease on name for ttl or returns ErrLockHeld.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lease, error) {
	if !l.Enabled() {
		return &Lease{}, nil
	}
	if name == "" {
		return nil, errors.New("lock name is empty")
	}
	if ttl <= 0 {
		return nil, errors.New("lock ttl must be positive")
	}

	lease := &Lease{locker: l, key: keyspace + "lock:" + name, token: uuid.NewString()}
	ok, err := l.client.SetNX(ctx, lease.key, lease.token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return lease, nil
}

// Release gives the lease back. Releasing twice is harmless.
func (l *Lease) Release(ctx context.Context) error {
	if l == nil || l.locker == nil || l.token == "" {
		return nil
	}
	err := l.locker.script.Run(ctx, l.locker.client, []string{l.key}, l.token).Err()
	l.token = ""
	return err
}
