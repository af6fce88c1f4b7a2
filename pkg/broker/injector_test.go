package broker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/onereach/deskshell/pkg/adapter"
	"github.com/onereach/deskshell/pkg/broker"
	"github.com/onereach/deskshell/pkg/model"
	"github.com/onereach/deskshell/pkg/repository"
)

// countingJar wraps a CookieJar to count writes and optionally hide
// them from read-back.
type countingJar struct {
	adapter.CookieJar
	mu        sync.Mutex
	setCalls  int
	dropReads bool
}

func (j *countingJar) Set(ctx context.Context, c *adapter.Cookie) error {
	j.mu.Lock()
	j.setCalls++
	j.mu.Unlock()
	return j.CookieJar.Set(ctx, c)
}

func (j *countingJar) Get(ctx context.Context, f *adapter.CookieFilter) ([]*adapter.Cookie, error) {
	j.mu.Lock()
	drop := j.dropReads
	j.mu.Unlock()
	if drop {
		return nil, nil
	}
	return j.CookieJar.Get(ctx, f)
}

func (j *countingJar) sets() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.setCalls
}

type countingSessions struct {
	inner *adapter.MemorySessionStore
	mu    sync.Mutex
	jars  map[string]*countingJar
}

func newCountingSessions() *countingSessions {
	return &countingSessions{
		inner: adapter.NewMemorySessionStore(),
		jars:  make(map[string]*countingJar),
	}
}

func (s *countingSessions) FromPartition(name string) adapter.CookieJar {
	s.mu.Lock()
	defer s.mu.Unlock()
	if jar, ok := s.jars[name]; ok {
		return jar
	}
	jar := &countingJar{CookieJar: s.inner.FromPartition(name)}
	s.jars[name] = jar
	return jar
}

func (s *countingSessions) jar(name string) *countingJar {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jars[name]
}

func fastInjector(sessions adapter.SessionStore, store *broker.Store) *broker.Injector {
	return broker.NewInjector(sessions, store, broker.NewClassifier(nil), nil,
		broker.WithSettleDelay(0),
		broker.WithBackoffBase(time.Millisecond))
}

func TestInjectWritesBothDomains(t *testing.T) {
	ctx := context.Background()
	sessions := adapter.NewMemorySessionStore()
	store := broker.NewStore(repository.NewMemory())
	store.Set(ctx, model.TenantEdison, model.TokenKindPrimary, testRecord("0123456789abc"))

	injector := fastInjector(sessions, store)
	result, err := injector.Inject(ctx, model.TenantEdison, "persist:tool-edison", nil)
	gt.NoError(t, err)
	gt.True(t, result.Success)
	gt.A(t, result.Domains).Length(2)

	jar := sessions.FromPartition("persist:tool-edison")
	for _, domain := range []string{".edison.onereach.ai", ".edison.api.onereach.ai"} {
		cookies, err := jar.Get(ctx, &adapter.CookieFilter{Name: model.PrimaryCookieName, Domain: domain})
		gt.NoError(t, err)
		gt.A(t, cookies).Longer(0)
		gt.Equal(t, cookies[0].Value, "0123456789abc")
		gt.True(t, cookies[0].Secure)
		gt.True(t, cookies[0].HTTPOnly)
		gt.Equal(t, cookies[0].Path, "/")
	}
}

func TestInjectNoValidToken(t *testing.T) {
	ctx := context.Background()
	store := broker.NewStore(repository.NewMemory())

	injector := fastInjector(adapter.NewMemorySessionStore(), store)
	result, err := injector.Inject(ctx, model.TenantEdison, "persist:tab-1", nil)
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrNoValidToken))
	gt.False(t, result.Success)
}

func TestInjectUnknownTenant(t *testing.T) {
	ctx := context.Background()
	store := broker.NewStore(repository.NewMemory())

	injector := fastInjector(adapter.NewMemorySessionStore(), store)
	_, err := injector.Inject(ctx, model.Tenant("bogus"), "persist:tab-1", nil)
	gt.True(t, errors.Is(err, model.ErrUnknownTenant))
}

func TestInjectSkipsWhenCovered(t *testing.T) {
	ctx := context.Background()
	sessions := newCountingSessions()
	store := broker.NewStore(repository.NewMemory())
	store.Set(ctx, model.TenantEdison, model.TokenKindPrimary, testRecord("0123456789abc"))

	injector := fastInjector(sessions, store)

	// First injection writes.
	result, err := injector.Inject(ctx, model.TenantEdison, "persist:tool-edison", nil)
	gt.NoError(t, err)
	gt.True(t, result.Success)
	writes := sessions.jar("persist:tool-edison").sets()
	gt.Equal(t, writes, 2)

	// Second non-forced injection is a no-op that still succeeds.
	result, err = injector.Inject(ctx, model.TenantEdison, "persist:tool-edison", nil)
	gt.NoError(t, err)
	gt.True(t, result.Success)
	gt.Equal(t, sessions.jar("persist:tool-edison").sets(), writes)
	gt.Number(t, result.CookieCount).GreaterOrEqual(2)
}

func TestInjectForceRewrites(t *testing.T) {
	ctx := context.Background()
	sessions := newCountingSessions()
	store := broker.NewStore(repository.NewMemory())
	store.Set(ctx, model.TenantEdison, model.TokenKindPrimary, testRecord("0123456789abc"))

	injector := fastInjector(sessions, store)
	_, err := injector.Inject(ctx, model.TenantEdison, "persist:tool-edison", nil)
	gt.NoError(t, err)
	before := sessions.jar("persist:tool-edison").sets()

	_, err = injector.Inject(ctx, model.TenantEdison, "persist:tool-edison", &broker.InjectOptions{Force: true})
	gt.NoError(t, err)
	gt.Number(t, sessions.jar("persist:tool-edison").sets()).Greater(before)
}

func TestInjectRetriesThenFails(t *testing.T) {
	ctx := context.Background()
	sessions := newCountingSessions()
	store := broker.NewStore(repository.NewMemory())
	store.Set(ctx, model.TenantEdison, model.TokenKindPrimary, testRecord("0123456789abc"))

	// Force read-back to come up empty so verification always fails.
	sessions.FromPartition("persist:tab-x")
	sessions.jar("persist:tab-x").dropReads = true

	injector := fastInjector(sessions, store)
	result, err := injector.Inject(ctx, model.TenantEdison, "persist:tab-x", &broker.InjectOptions{MaxRetries: 2})
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrInjectionFailed))
	gt.False(t, result.Success)

	// Initial attempt plus exactly MaxRetries retries, two writes each.
	gt.Equal(t, sessions.jar("persist:tab-x").sets(), 6)
}
