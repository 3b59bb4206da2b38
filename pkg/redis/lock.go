package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// releaseScript deletes the lock only when the caller still owns it, so a
// holder whose TTL already expired cannot release somebody else's lock.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`

// ErrLockHeld reports that another holder currently owns the lock.
var ErrLockHeld = errors.New("lock already held")

// Lock is a TTL-bounded exclusive lock on a single cart.
type Lock struct {
	client *Client
	key    string
	token  string
}

// CartLocker hands out per-cart mutual exclusion. All cart mutations and the
// checkout saga contend on the same key, so at most one writer per cart is
// in flight at a time.
type CartLocker interface {
	Acquire(ctx context.Context, cartID uuid.UUID, ttl time.Duration) (*Lock, error)
	AcquireWait(ctx context.Context, cartID uuid.UUID, ttl, wait time.Duration) (*Lock, error)
}

// Acquire attempts to take the cart lock once. Contention returns ErrLockHeld
// immediately; callers decide whether to wait or to fail fast.
func (c *Client) Acquire(ctx context.Context, cartID uuid.UUID, ttl time.Duration) (*Lock, error) {
	if c.store == nil {
		return nil, errors.New("redis client not initialized")
	}
	key := c.buildKey(lockPrefix, "cart", cartID.String())
	token := uuid.NewString()
	ok, err := c.store.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &Lock{client: c, key: key, token: token}, nil
}

// AcquireWait retries Acquire until the wait budget runs out.
func (c *Client) AcquireWait(ctx context.Context, cartID uuid.UUID, ttl, wait time.Duration) (*Lock, error) {
	deadline := time.Now().Add(wait)
	for {
		lock, err := c.Acquire(ctx, cartID, ttl)
		if err == nil {
			return lock, nil
		}
		if !errors.Is(err, ErrLockHeld) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, ErrLockHeld
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Release frees the lock if this holder still owns it.
func (l *Lock) Release(ctx context.Context) error {
	if l == nil || l.client == nil || l.client.store == nil {
		return nil
	}
	return l.client.store.Eval(ctx, releaseScript, []string{l.key}, l.token).Err()
}
