// Package comet implements the stateless relay tier: it terminates Agent
// WebSocket links, resolves their identity against Console, and forwards
// framed messages in both directions without keeping any durable state of
// its own (§2 Comet, §4.B).
package comet

import (
	"sync"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/wire"
)

// Link is one live Agent connection, keyed by instance_id in the Registry.
type Link struct {
	InstanceID string
	Conn       *wire.Conn
}

// Registry is the in-memory instance_id -> Link table for every Agent
// currently connected to this Comet process. It holds no state Console
// cannot reconstruct from the shared routing index — a crashed Comet simply
// drops its links; Agents reconnect and re-register (§2 "stateless").
type Registry struct {
	mu    sync.RWMutex
	links map[string]*Link
}

func NewRegistry() *Registry {
	return &Registry{links: make(map[string]*Link)}
}

// Put registers link, replacing and closing any prior link for the same
// instance_id (an Agent reconnect supersedes its stale link).
func (r *Registry) Put(link *Link) {
	r.mu.Lock()
	old := r.links[link.InstanceID]
	r.links[link.InstanceID] = link
	r.mu.Unlock()

	if old != nil && old != link {
		old.Conn.Close()
	}
}

func (r *Registry) Get(instanceID string) (*Link, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.links[instanceID]
	return l, ok
}

// Remove deletes instanceID's entry only if it still points at link,
// guarding against a stale Remove racing a newer Put for the same instance.
func (r *Registry) Remove(instanceID string, link *Link) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.links[instanceID]; ok && cur == link {
		delete(r.links, instanceID)
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.links)
}
