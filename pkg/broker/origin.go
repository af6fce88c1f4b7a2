package broker

import (
	"sync"

	"github.com/google/uuid"
)

// originWindow bounds how many minted correlation ids are retained.
// Injection rounds are short; a few hundred covers any in-flight host
// event delivery.
const originWindow = 512

// OriginRegistry tracks the correlation ids of cookie writes this
// process performed. The cookie listener drops change events carrying
// an id minted here, so the broker's own writes (injection on open,
// propagation fan-out) never masquerade as server refreshes. Server-set
// cookies carry no correlation id and are always captured.
type OriginRegistry struct {
	mu     sync.Mutex
	ids    map[string]struct{}
	minted []string
}

// NewOriginRegistry creates an empty registry.
func NewOriginRegistry() *OriginRegistry {
	return &OriginRegistry{ids: make(map[string]struct{})}
}

// Mint returns a fresh correlation id and remembers it.
func (r *OriginRegistry) Mint() string {
	id := uuid.New().String()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids[id] = struct{}{}
	r.minted = append(r.minted, id)
	if len(r.minted) > originWindow {
		oldest := r.minted[0]
		r.minted = r.minted[1:]
		delete(r.ids, oldest)
	}
	return id
}

// Originated reports whether the id was minted by this registry.
func (r *OriginRegistry) Originated(id string) bool {
	if id == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ids[id]
	return ok
}
