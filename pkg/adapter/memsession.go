package adapter

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemorySessionStore is the in-process session implementation used by
// the embedded webview host and by tests. Each partition owns an
// isolated jar; change events fan out synchronously so a caller
// observes downstream captures within the same call.
type MemorySessionStore struct {
	mu   sync.Mutex
	jars map[string]*memoryJar
}

// NewMemorySessionStore creates an empty session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{jars: make(map[string]*memoryJar)}
}

// FromPartition returns the jar for a partition, creating it on first
// use.
func (s *MemorySessionStore) FromPartition(name string) CookieJar {
	s.mu.Lock()
	defer s.mu.Unlock()
	jar, ok := s.jars[name]
	if !ok {
		jar = &memoryJar{listeners: make(map[string]CookieChangeHandler)}
		s.jars[name] = jar
	}
	return jar
}

// Drop discards the jar of a closed tab partition.
func (s *MemorySessionStore) Drop(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jars, name)
}

type memoryJar struct {
	mu        sync.Mutex
	cookies   []*Cookie
	listeners map[string]CookieChangeHandler
	flushes   int
}

func cookieKeyMatch(a, b *Cookie) bool {
	return a.Name == b.Name && a.Domain == b.Domain && a.Path == b.Path
}

func domainMatch(cookieDomain, filter string) bool {
	if filter == "" {
		return true
	}
	cd := strings.ToLower(strings.TrimPrefix(cookieDomain, "."))
	fd := strings.ToLower(strings.TrimPrefix(filter, "."))
	return cd == fd || strings.HasSuffix(fd, "."+cd)
}

func (j *memoryJar) Get(ctx context.Context, filter *CookieFilter) ([]*Cookie, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if filter == nil {
		filter = &CookieFilter{}
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	now := time.Now().Unix()
	var out []*Cookie
	for _, c := range j.cookies {
		if filter.Name != "" && c.Name != filter.Name {
			continue
		}
		if !domainMatch(c.Domain, filter.Domain) {
			continue
		}
		if c.ExpiresAt != 0 && c.ExpiresAt <= now {
			continue
		}
		copied := *c
		out = append(out, &copied)
	}
	return out, nil
}

func (j *memoryJar) Set(ctx context.Context, cookie *Cookie) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	stored := *cookie
	cause := "explicit"

	j.mu.Lock()
	replaced := false
	for i, c := range j.cookies {
		if cookieKeyMatch(c, &stored) {
			j.cookies[i] = &stored
			replaced = true
			break
		}
	}
	if !replaced {
		j.cookies = append(j.cookies, &stored)
	} else {
		cause = "overwrite"
	}
	handlers := j.snapshotListeners()
	j.mu.Unlock()

	ev := &CookieChangeEvent{Cookie: &stored, Cause: cause}
	for _, h := range handlers {
		h(ctx, ev)
	}
	return nil
}

func (j *memoryJar) Remove(ctx context.Context, domain, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	j.mu.Lock()
	var removed []*Cookie
	kept := j.cookies[:0]
	for _, c := range j.cookies {
		if c.Name == name && domainMatch(c.Domain, domain) {
			removed = append(removed, c)
			continue
		}
		kept = append(kept, c)
	}
	j.cookies = kept
	handlers := j.snapshotListeners()
	j.mu.Unlock()

	for _, c := range removed {
		ev := &CookieChangeEvent{Cookie: c, Cause: "explicit", Removed: true}
		for _, h := range handlers {
			h(ctx, ev)
		}
	}
	return nil
}

func (j *memoryJar) FlushStore(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.flushes++
	return nil
}

func (j *memoryJar) OnChanged(name string, h CookieChangeHandler) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.listeners[name] = h
}

func (j *memoryJar) RemoveListener(name string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.listeners, name)
}

// snapshotListeners is called with j.mu held.
func (j *memoryJar) snapshotListeners() []CookieChangeHandler {
	out := make([]CookieChangeHandler, 0, len(j.listeners))
	for _, h := range j.listeners {
		out = append(out, h)
	}
	return out
}
