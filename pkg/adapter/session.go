package adapter

import "context"

// Cookie is one cookie in a partition's jar, with the attributes the
// hosted suite sets on its auth cookies.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Secure   bool
	HTTPOnly bool
	SameSite string
	// ExpiresAt is unix seconds; 0 means a session cookie.
	ExpiresAt int64
	// CorrelationID annotates the write that produced this cookie so
	// listeners can drop events they originated.
	CorrelationID string
}

// CookieFilter narrows a jar read. Empty fields match everything.
type CookieFilter struct {
	Name   string
	Domain string
}

// CookieChangeEvent is delivered to jar listeners on every insertion,
// update or removal.
type CookieChangeEvent struct {
	Cookie *Cookie
	// Cause is "explicit" for direct writes, "overwrite" when a write
	// replaced an existing cookie, "expired-overwrite" on expiry
	// replacement.
	Cause   string
	Removed bool
}

// CookieChangeHandler observes cookie changes in a partition.
type CookieChangeHandler func(ctx context.Context, ev *CookieChangeEvent)

// CookieJar is the per-partition cookie surface of the session API.
// Within a partition, operations are serialized: a Get issued after a
// Set and FlushStore observes the written cookie.
type CookieJar interface {
	Get(ctx context.Context, filter *CookieFilter) ([]*Cookie, error)
	Set(ctx context.Context, cookie *Cookie) error
	Remove(ctx context.Context, domain, name string) error
	FlushStore(ctx context.Context) error
	// OnChanged registers a named change handler. Registering the same
	// name again replaces the previous handler.
	OnChanged(name string, h CookieChangeHandler)
	RemoveListener(name string)
}

// SessionStore resolves isolated cookie jars by partition name.
type SessionStore interface {
	FromPartition(name string) CookieJar
}
