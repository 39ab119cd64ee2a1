// Package redisindex backs the shared keyspace the Console uses to route
// around the stateless Comet tier and to elect a single Scheduler leader
// (§4.B "Console maintains instance_id -> comet_id ... via a shared index",
// §9 leader election). No pack example repo ships a Redis client; this is
// an ecosystem pick justified in DESIGN.md.
package redisindex

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const routingKeyPrefix = "jiascheduler:route:"

// RoutingIndex maps instance_id -> comet_id so the dispatcher can find the
// Comet currently holding an Agent's link, regardless of which Comet
// process the dispatcher's request lands on.
type RoutingIndex struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRoutingIndex builds a routing index. ttl should comfortably exceed the
// Comet<->Agent heartbeat period so a live link's entry never expires
// between heartbeats, while still reclaiming entries left by a Comet that
// crashed without deregistering.
func NewRoutingIndex(client *redis.Client, ttl time.Duration) *RoutingIndex {
	return &RoutingIndex{client: client, ttl: ttl}
}

// Put records that instanceID is currently reachable through cometID,
// called on every successful hello (§4.B).
func (i *RoutingIndex) Put(ctx context.Context, instanceID, cometID string) error {
	if err := i.client.Set(ctx, routingKey(instanceID), cometID, i.ttl).Err(); err != nil {
		return fmt.Errorf("redisindex: put %s: %w", instanceID, err)
	}
	return nil
}

// Lookup implements dispatcher.Router and scheduler's Kill path.
func (i *RoutingIndex) Lookup(ctx context.Context, instanceID string) (string, bool, error) {
	cometID, err := i.client.Get(ctx, routingKey(instanceID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redisindex: lookup %s: %w", instanceID, err)
	}
	return cometID, true, nil
}

// SetRoute is Put under the name comet.RouteIndex expects.
func (i *RoutingIndex) SetRoute(ctx context.Context, instanceID, cometID string) error {
	return i.Put(ctx, instanceID, cometID)
}

// ClearRoute is Remove under the name comet.RouteIndex expects.
func (i *RoutingIndex) ClearRoute(ctx context.Context, instanceID string) error {
	return i.Remove(ctx, instanceID)
}

// Remove deregisters instanceID, called when its link closes.
func (i *RoutingIndex) Remove(ctx context.Context, instanceID string) error {
	if err := i.client.Del(ctx, routingKey(instanceID)).Err(); err != nil {
		return fmt.Errorf("redisindex: remove %s: %w", instanceID, err)
	}
	return nil
}

// Refresh extends instanceID's TTL without changing its value. Comet keeps a
// live link's entry from expiring by calling SetRoute on every heartbeat;
// nothing in this module calls Refresh.
func (i *RoutingIndex) Refresh(ctx context.Context, instanceID string) error {
	ok, err := i.client.Expire(ctx, routingKey(instanceID), i.ttl).Result()
	if err != nil {
		return fmt.Errorf("redisindex: refresh %s: %w", instanceID, err)
	}
	if !ok {
		return redis.Nil
	}
	return nil
}

func routingKey(instanceID string) string {
	return routingKeyPrefix + instanceID
}
