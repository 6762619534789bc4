// Package interaction keeps the "reply later" contexts created when a user
// starts verification from a chat message. A context is handed back at most
// once: claiming it removes it.
package interaction

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/walletgate/server/internal/clock"
)

// DefaultTTL matches the lifetime of a Discord interaction token.
const DefaultTTL = 15 * time.Minute

// Handle is the opaque capability returned by Register.
type Handle uuid.UUID

func (h Handle) String() string { return uuid.UUID(h).String() }

// Ref identifies the platform message that should receive the success notice.
// Which fields are set depends on the platform.
type Ref struct {
	AppID     string
	Token     string
	ChatID    int64
	MessageID string
}

type entry struct {
	handle    Handle
	ref       Ref
	createdAt time.Time
}

// Registry maps external identities to their pending interaction context.
// Safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	clock   clock.Clock
}

// NewRegistry creates a registry whose entries expire after ttl (DefaultTTL when zero).
func NewRegistry(clk clock.Clock, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{
		entries: make(map[string]entry),
		ttl:     ttl,
		clock:   clk,
	}
}

// Register stores ref for identity, replacing any earlier context, and returns its handle.
func (r *Registry) Register(identity string, ref Ref) Handle {
	h := Handle(uuid.New())
	r.mu.Lock()
	r.entries[identity] = entry{handle: h, ref: ref, createdAt: r.clock.Now()}
	r.mu.Unlock()
	return h
}

// Claim returns the context stored for identity and invalidates it.
// Missing or stale contexts report false.
func (r *Registry) Claim(identity string) (Ref, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[identity]
	if !ok {
		return Ref{}, false
	}
	delete(r.entries, identity)
	if r.clock.Now().Sub(e.createdAt) > r.ttl {
		return Ref{}, false
	}
	return e.ref, true
}

// Revoke drops the context behind h if it is still the current one for its identity.
func (r *Registry) Revoke(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for identity, e := range r.entries {
		if e.handle == h {
			delete(r.entries, identity)
			return
		}
	}
}

// Sweep removes stale entries and returns how many were dropped.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	n := 0
	for identity, e := range r.entries {
		if now.Sub(e.createdAt) > r.ttl {
			delete(r.entries, identity)
			n++
		}
	}
	return n
}

// Len reports the number of stored contexts, stale ones included.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
