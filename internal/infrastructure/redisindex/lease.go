package redisindex

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const leaderKey = "jiascheduler:leader:scheduler"

// renewScript extends the lease only if this holder still owns it, so a
// Console replica whose lease already expired (and was reclaimed by a
// competitor) can never clobber the new holder's lease.
const renewScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`

// releaseScript deletes the lease only if this holder still owns it.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// Lease implements scheduler.Leaser with SET NX PX + background renewal
// (§9 "leader election via the shared index, lease T_l = 30 s").
type Lease struct {
	client *redis.Client
	token  string
	ttl    time.Duration

	held bool
}

// NewLease builds a lease with a random token identifying this process as
// the prospective holder, so renew/release never affect another holder's
// lease after a TTL-driven handover.
func NewLease(client *redis.Client, ttl time.Duration) *Lease {
	return &Lease{client: client, token: uuid.NewString(), ttl: ttl}
}

// Acquire attempts to become (or remain) leader. Safe to call on every
// tick: if this process already holds the lease it is a no-op success.
func (l *Lease) Acquire(ctx context.Context) (bool, error) {
	if l.held {
		return true, nil
	}
	ok, err := l.client.SetNX(ctx, leaderKey, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redisindex: acquire lease: %w", err)
	}
	l.held = ok
	return ok, nil
}

// Renew extends the held lease's TTL. Only valid after Acquire returns true.
func (l *Lease) Renew(ctx context.Context) error {
	if !l.held {
		return nil
	}
	n, err := l.client.Eval(ctx, renewScript, []string{leaderKey}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("redisindex: renew lease: %w", err)
	}
	if n == 0 {
		// Lease was lost (expired and reclaimed by another replica).
		l.held = false
	}
	return nil
}

// Release relinquishes the lease immediately, used on graceful shutdown so
// the next replica does not wait out the full TTL.
func (l *Lease) Release(ctx context.Context) {
	if !l.held {
		return
	}
	l.client.Eval(ctx, releaseScript, []string{leaderKey}, l.token)
	l.held = false
}
