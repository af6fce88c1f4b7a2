package repository

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
)

// ErrKeyNotFound is returned when a settings key has no document.
var ErrKeyNotFound = goerr.New("settings key not found")

// Well-known settings keys. Each key holds one whole document; writers
// replace the document atomically.
const (
	KeyPrimaryTokens = "multiTenant.primaryTokens"
	KeySessionTokens = "multiTenant.sessionTokens"
	KeyAgentStats    = "agentStats"
	KeyBidHistory    = "bidHistory"
)

// Settings is the opaque persisted-state collaborator. Documents are
// written whole per key; there is no partial update, which keeps
// read-modify-write hazards out of the store itself.
type Settings interface {
	// Get decodes the document at key into out. Returns ErrKeyNotFound
	// when the key has never been written.
	Get(ctx context.Context, key string, out any) error

	// Put replaces the document at key.
	Put(ctx context.Context, key string, doc any) error

	// Delete removes the document at key. Deleting an absent key is
	// not an error.
	Delete(ctx context.Context, key string) error
}
