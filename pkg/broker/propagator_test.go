package broker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/onereach/deskshell/pkg/adapter"
	"github.com/onereach/deskshell/pkg/broker"
	"github.com/onereach/deskshell/pkg/model"
	"github.com/onereach/deskshell/pkg/repository"
)

func newTestBroker() (*broker.Broker, *adapter.MemorySessionStore) {
	sessions := adapter.NewMemorySessionStore()
	b := broker.New(sessions, repository.NewMemory(), nil,
		broker.WithSettleDelay(0), broker.WithBackoffBase(time.Millisecond))
	return b, sessions
}

func primaryValue(t *testing.T, sessions *adapter.MemorySessionStore, partition string) []string {
	t.Helper()
	cookies, err := sessions.FromPartition(partition).Get(context.Background(),
		&adapter.CookieFilter{Name: model.PrimaryCookieName})
	gt.NoError(t, err)
	values := make([]string, 0, len(cookies))
	for _, c := range cookies {
		values = append(values, c.Value)
	}
	return values
}

func TestPropagateFansOut(t *testing.T) {
	ctx := context.Background()
	b, sessions := newTestBroker()

	b.Store.Set(ctx, model.TenantEdison, model.TokenKindPrimary, testRecord("new-value-0123456789"))
	for _, p := range []string{"persist:tab-p1", "persist:tab-p2", "persist:tab-p3"} {
		b.Store.RegisterPartition(model.TenantEdison, p)
	}

	b.Propagator.Propagate(ctx, model.TenantEdison, "persist:tab-p1")

	// Targets hold the new value.
	for _, p := range []string{"persist:tab-p2", "persist:tab-p3"} {
		values := primaryValue(t, sessions, p)
		gt.A(t, values).Longer(0)
		gt.Equal(t, values[0], "new-value-0123456789")
	}

	// The source partition was not re-written.
	gt.A(t, primaryValue(t, sessions, "persist:tab-p1")).Length(0)

	// The guard is cleared.
	gt.False(t, b.Propagator.Active())
}

// brokenWriteJar rejects every cookie write.
type brokenWriteJar struct {
	adapter.CookieJar
}

func (j *brokenWriteJar) Set(ctx context.Context, c *adapter.Cookie) error {
	return errors.New("cookie store unavailable")
}

// brokenPartitionSessions serves one partition through a jar whose
// writes always fail.
type brokenPartitionSessions struct {
	inner  *adapter.MemorySessionStore
	broken string
}

func (s *brokenPartitionSessions) FromPartition(name string) adapter.CookieJar {
	jar := s.inner.FromPartition(name)
	if name == s.broken {
		return &brokenWriteJar{CookieJar: jar}
	}
	return jar
}

func TestPropagateIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	sessions := &brokenPartitionSessions{
		inner:  adapter.NewMemorySessionStore(),
		broken: "persist:tab-broken",
	}
	b := broker.New(sessions, repository.NewMemory(), nil,
		broker.WithSettleDelay(0), broker.WithBackoffBase(time.Millisecond))

	b.Store.Set(ctx, model.TenantEdison, model.TokenKindPrimary, testRecord("new-value-0123456789"))
	b.Store.RegisterPartition(model.TenantEdison, "persist:tab-broken")
	b.Store.RegisterPartition(model.TenantEdison, "persist:tab-ok")
	b.Store.RegisterPartition(model.TenantEdison, "persist:tab-source")

	// One target's jar rejects every write; the healthy target still
	// gets the cookie and the round settles.
	b.Propagator.Propagate(ctx, model.TenantEdison, "persist:tab-source")

	values := primaryValue(t, sessions.inner, "persist:tab-ok")
	gt.A(t, values).Longer(0)
	gt.Equal(t, values[0], "new-value-0123456789")

	gt.A(t, primaryValue(t, sessions.inner, "persist:tab-broken")).Length(0)
	gt.False(t, b.Propagator.Active())
}

func TestPropagationWritesDoNotRecurse(t *testing.T) {
	ctx := context.Background()
	b, sessions := newTestBroker()

	// Three live partitions, all attached to the listener, with a
	// stored token so a refresh propagates.
	partitions := []string{"persist:tab-p1", "persist:tab-p2", "persist:tab-p3"}
	for _, p := range partitions {
		b.Store.RegisterPartition(model.TenantEdison, p)
		b.Listener.Attach(ctx, p)
	}
	b.Store.Set(ctx, model.TenantEdison, model.TokenKindPrimary, testRecord("old-value-0123456789"))

	// The server rotates the cookie in p1: the listener captures the
	// refresh and propagates once. The propagation writes land in p2
	// and p3, whose listeners observe them but must not start a second
	// round (the correlation id marks them as the propagator's own).
	gt.NoError(t, sessions.FromPartition("persist:tab-p1").Set(ctx, &adapter.Cookie{
		Name:   model.PrimaryCookieName,
		Value:  "rotated-value-0123456789",
		Domain: ".edison.onereach.ai",
		Path:   "/",
	}))

	for _, p := range []string{"persist:tab-p2", "persist:tab-p3"} {
		values := primaryValue(t, sessions, p)
		gt.A(t, values).Longer(0)
		gt.Equal(t, values[0], "rotated-value-0123456789")
	}
	gt.False(t, b.Propagator.Active())

	// The store holds the rotated value, captured from p1.
	rec := b.Store.Get(model.TenantEdison, model.TokenKindPrimary)
	gt.Equal(t, rec.Value, "rotated-value-0123456789")
	gt.Equal(t, rec.SourcePartition, "persist:tab-p1")
}
