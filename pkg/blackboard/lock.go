package blackboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Persistent locks
//
// A lock is a plain string key holding the owner token, written with SET NX PX
// so it expires on its own when the owner stops renewing it. Renew and Release
// compare the owner inside a Lua script so each is a single atomic round trip.

var acquireScript = redis.NewScript(`
local holder = redis.call('GET', KEYS[1])
if holder == false then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
	return 1
end
if holder == ARGV[1] then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
	return 1
end
return 0
`)

var renewScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// Acquire takes the named lock for owner with the given TTL. If owner already
// holds the lock its TTL is reset. Returns false when someone else holds it.
func (c *Client) Acquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	if err := validateLockArgs(owner, ttl); err != nil {
		return false, err
	}
	n, err := acquireScript.Run(ctx, c.rdb, []string{LockKey(c.instanceName, name)}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
	return n == 1, nil
}

// Renew resets the TTL of a lock still held by owner. Returns false when the
// lock expired or changed hands.
func (c *Client) Renew(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	if err := validateLockArgs(owner, ttl); err != nil {
		return false, err
	}
	n, err := renewScript.Run(ctx, c.rdb, []string{LockKey(c.instanceName, name)}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to renew lock %s: %w", name, err)
	}
	return n == 1, nil
}

// Release drops the lock if owner still holds it. Returns whether anything
// was released.
func (c *Client) Release(ctx context.Context, name, owner string) (bool, error) {
	n, err := releaseScript.Run(ctx, c.rdb, []string{LockKey(c.instanceName, name)}, owner).Int()
	if err != nil {
		return false, fmt.Errorf("failed to release lock %s: %w", name, err)
	}
	return n == 1, nil
}

// LockMayBeAvailable reports whether nobody currently holds the lock. The
// answer can be stale by the time the caller acts on it.
func (c *Client) LockMayBeAvailable(ctx context.Context, name string) (bool, error) {
	n, err := c.rdb.Exists(ctx, LockKey(c.instanceName, name)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check lock %s: %w", name, err)
	}
	return n == 0, nil
}

// LockOwner returns the current holder of the lock, or "" when it is free.
func (c *Client) LockOwner(ctx context.Context, name string) (string, error) {
	owner, err := c.rdb.Get(ctx, LockKey(c.instanceName, name)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read lock %s: %w", name, err)
	}
	return owner, nil
}

func validateLockArgs(owner string, ttl time.Duration) error {
	if owner == "" {
		return fmt.Errorf("lock owner cannot be empty")
	}
	if ttl < time.Millisecond {
		return fmt.Errorf("lock TTL must be at least 1ms, got %s", ttl)
	}
	return nil
}
