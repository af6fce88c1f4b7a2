package repository

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/m-mizutani/goerr/v2"
)

// Memory is an in-process Settings implementation for tests and for
// ephemeral (no persistence) mode. Documents round-trip through JSON so
// type behavior matches the file-backed store.
type Memory struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewMemory creates an empty in-memory settings store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string][]byte)}
}

func (m *Memory) Get(ctx context.Context, key string, out any) error {
	m.mu.RLock()
	raw, ok := m.docs[key]
	m.mu.RUnlock()
	if !ok {
		return goerr.Wrap(ErrKeyNotFound, "no document", goerr.V("key", key))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return goerr.Wrap(err, "failed to decode document", goerr.V("key", key))
	}
	return nil
}

func (m *Memory) Put(ctx context.Context, key string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return goerr.Wrap(err, "failed to encode document", goerr.V("key", key))
	}
	m.mu.Lock()
	m.docs[key] = raw
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.docs, key)
	m.mu.Unlock()
	return nil
}
