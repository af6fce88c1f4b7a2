package broker

import (
	"context"
	"sync"
	"time"

	"github.com/onereach/deskshell/pkg/adapter"
	"github.com/onereach/deskshell/pkg/model"
	"github.com/onereach/deskshell/pkg/utils/logging"
)

// handlerName is the named cookie-change handler this listener installs
// on each partition jar.
const handlerName = "mtstb-capture"

// Subscription is the scoped lifetime handle for one attached
// partition. Closing it detaches the handler; tool partitions are never
// closed because they must keep capturing refreshes for the life of the
// process.
type Subscription struct {
	partition string
	jar       adapter.CookieJar
	once      sync.Once
	onClose   func()
}

// Partition returns the subscribed partition identifier.
func (s *Subscription) Partition() string {
	return s.partition
}

// Close detaches the cookie-change handler. Idempotent.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.jar.RemoveListener(handlerName)
		if s.onClose != nil {
			s.onClose()
		}
	})
}

// Listener subscribes to each partition's cookie-change stream and
// captures the suite's auth cookies into the token store. Captures
// marked as refreshes trigger propagation unless the propagator itself
// originated the write.
type Listener struct {
	sessions   adapter.SessionStore
	store      *Store
	classifier *Classifier
	propagator *Propagator
	origins    *OriginRegistry

	mu       sync.Mutex
	attached map[string]*Subscription
}

// NewListener creates a cookie listener.
func NewListener(sessions adapter.SessionStore, store *Store, classifier *Classifier, propagator *Propagator, origins *OriginRegistry) *Listener {
	return &Listener{
		sessions:   sessions,
		store:      store,
		classifier: classifier,
		propagator: propagator,
		origins:    origins,
		attached:   make(map[string]*Subscription),
	}
}

// Attach subscribes to a partition's cookie changes. Attaching an
// already-attached partition returns the existing subscription.
func (l *Listener) Attach(ctx context.Context, partition string) *Subscription {
	partition = model.NormalizePartition(partition)

	l.mu.Lock()
	defer l.mu.Unlock()
	if sub, ok := l.attached[partition]; ok {
		return sub
	}

	jar := l.sessions.FromPartition(partition)
	sub := &Subscription{
		partition: partition,
		jar:       jar,
		onClose: func() {
			l.mu.Lock()
			delete(l.attached, partition)
			l.mu.Unlock()
		},
	}
	jar.OnChanged(handlerName, func(evCtx context.Context, ev *adapter.CookieChangeEvent) {
		l.handleChange(evCtx, partition, ev)
	})
	l.attached[partition] = sub

	logging.From(ctx).Debug("cookie listener attached", "partition", partition)
	return sub
}

// Detach closes the subscription for a tab partition on close. Tool
// partitions are left attached.
func (l *Listener) Detach(ctx context.Context, partition string) {
	partition = model.NormalizePartition(partition)
	if model.IsToolPartition(partition) {
		logging.From(ctx).Debug("tool partition stays attached", "partition", partition)
		return
	}

	l.mu.Lock()
	sub := l.attached[partition]
	l.mu.Unlock()
	if sub != nil {
		sub.Close()
		logging.From(ctx).Debug("cookie listener detached", "partition", partition)
	}
}

// Attached reports whether a partition currently has a capture handler.
func (l *Listener) Attached(partition string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.attached[model.NormalizePartition(partition)]
	return ok
}

// handleChange is the capture path for one cookie-change event.
// Removals are ignored: clearing a cookie in one tab must not cascade a
// logout across tenants.
func (l *Listener) handleChange(ctx context.Context, partition string, ev *adapter.CookieChangeEvent) {
	if ev == nil || ev.Cookie == nil || ev.Removed {
		return
	}

	kind, ok := model.KindOfCookie(ev.Cookie.Name)
	if !ok {
		return
	}

	logger := logging.From(ctx)

	// Our own injection and propagation writes come back through the
	// change stream; drop them so they never masquerade as server
	// refreshes.
	if l.origins.Originated(ev.Cookie.CorrelationID) {
		logger.Debug("own cookie write dropped",
			"partition", partition, "cookie", ev.Cookie.Name)
		return
	}

	class, err := l.classifier.Classify(ev.Cookie.Domain)
	if err != nil {
		logger.Warn("cookie on invalid domain ignored",
			"domain", ev.Cookie.Domain, "partition", partition)
		return
	}

	rec := &model.TokenRecord{
		Kind:            kind,
		Value:           ev.Cookie.Value,
		Domain:          ev.Cookie.Domain,
		Path:            ev.Cookie.Path,
		Secure:          ev.Cookie.Secure,
		HTTPOnly:        ev.Cookie.HTTPOnly,
		SameSite:        ev.Cookie.SameSite,
		ExpiresAt:       ev.Cookie.ExpiresAt,
		CapturedAt:      time.Now().UnixMilli(),
		SourcePartition: partition,
	}

	change := l.store.Set(ctx, class.Tenant, kind, rec)
	l.store.RegisterPartition(class.Tenant, partition)

	logger.Debug("token captured",
		"tenant", class.Tenant, "kind", kind, "change", change, "partition", partition)

	if kind != model.TokenKindPrimary || change != ChangeRefreshed {
		return
	}
	if l.propagator.Active() {
		return
	}
	l.propagator.Propagate(ctx, class.Tenant, partition)
}
