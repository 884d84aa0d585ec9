// Lease coordination for sandbox sessions across multiple runtime
// processes. The in-process Pool in sandbox.go is sufficient for a single
// runtime instance; LeaseCoordinator adds one Redis key per session as a
// cross-process lock, so two runtime replicas never acquire the same
// session's sandbox concurrently. Only lease ownership is shared; the Pool's
// idle/acquiring/busy states stay local to each process.
package sandbox

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"goatomic.dev/runtime/runtime/agent/agenterr"
)

// LeaseCoordinator guards cross-process sandbox acquisition for a session
// using a Redis key as a distributed mutex, complementing the in-process
// Pool's own locking.
type LeaseCoordinator struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewLeaseCoordinator builds a coordinator over an existing Redis client.
// ttl bounds how long a lease survives without renewal, so a crashed holder
// cannot wedge a session forever.
func NewLeaseCoordinator(client *redis.Client, ttl time.Duration) *LeaseCoordinator {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &LeaseCoordinator{client: client, prefix: "agentcore:sandbox:lease:", ttl: ttl}
}

func (c *LeaseCoordinator) key(sessionID string) string { return c.prefix + sessionID }

// Acquire sets the lease key for sessionID if absent, returning a
// KindConcurrentAccess error when another process already holds it.
func (c *LeaseCoordinator) Acquire(ctx context.Context, sessionID, holderID string) error {
	ok, err := c.client.SetNX(ctx, c.key(sessionID), holderID, c.ttl).Result()
	if err != nil {
		return agenterr.NewWithCause(agenterr.KindInternal, "sandbox: lease acquire", err)
	}
	if !ok {
		return agenterr.Errorf(agenterr.KindConcurrentAccess, "sandbox: session %s leased by another process", sessionID)
	}
	return nil
}

// Renew extends the lease TTL for sessionID if holderID still holds it.
func (c *LeaseCoordinator) Renew(ctx context.Context, sessionID, holderID string) error {
	current, err := c.client.Get(ctx, c.key(sessionID)).Result()
	if err == redis.Nil {
		return agenterr.Errorf(agenterr.KindConcurrentAccess, "sandbox: lease for %s expired", sessionID)
	}
	if err != nil {
		return agenterr.NewWithCause(agenterr.KindInternal, "sandbox: lease renew", err)
	}
	if current != holderID {
		return agenterr.Errorf(agenterr.KindConcurrentAccess, "sandbox: session %s leased by another process", sessionID)
	}
	return c.client.Expire(ctx, c.key(sessionID), c.ttl).Err()
}

// Release drops the lease for sessionID unconditionally.
func (c *LeaseCoordinator) Release(ctx context.Context, sessionID string) error {
	if err := c.client.Del(ctx, c.key(sessionID)).Err(); err != nil {
		return agenterr.NewWithCause(agenterr.KindInternal, "sandbox: lease release", err)
	}
	return nil
}
