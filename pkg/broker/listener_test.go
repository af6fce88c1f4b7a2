package broker_test

import (
	"context"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/onereach/deskshell/pkg/adapter"
	"github.com/onereach/deskshell/pkg/model"
)

func serverSet(ctx context.Context, sessions *adapter.MemorySessionStore, partition, name, value, domain string) error {
	return sessions.FromPartition(partition).Set(ctx, &adapter.Cookie{
		Name:   name,
		Value:  value,
		Domain: domain,
		Path:   "/",
	})
}

func TestListenerCapturesPrimaryCookie(t *testing.T) {
	ctx := context.Background()
	b, sessions := newTestBroker()

	b.Listener.Attach(ctx, "persist:tool-edison")
	gt.True(t, b.Listener.Attached("persist:tool-edison"))

	gt.NoError(t, serverSet(ctx, sessions, "persist:tool-edison",
		model.PrimaryCookieName, "captured-value-123", ".edison.onereach.ai"))

	rec := b.Store.Get(model.TenantEdison, model.TokenKindPrimary)
	gt.V(t, rec).NotNil()
	gt.Equal(t, rec.Value, "captured-value-123")
	gt.Equal(t, rec.Kind, model.TokenKindPrimary)
	gt.Equal(t, rec.SourcePartition, "persist:tool-edison")

	// The capturing partition is registered under the tenant.
	parts := b.Store.PartitionsOf(model.TenantEdison)
	gt.A(t, parts).Length(1)
	gt.Equal(t, parts[0], "persist:tool-edison")
}

func TestListenerCapturesSessionCookie(t *testing.T) {
	ctx := context.Background()
	b, sessions := newTestBroker()

	b.Listener.Attach(ctx, "persist:tool-edison")
	gt.NoError(t, serverSet(ctx, sessions, "persist:tool-edison",
		model.SessionCookieName, "sso-session-value", ".edison.onereach.ai"))

	rec := b.Store.Get(model.TenantEdison, model.TokenKindSession)
	gt.V(t, rec).NotNil()
	gt.Equal(t, rec.Kind, model.TokenKindSession)
}

func TestListenerIgnoresForeignCookies(t *testing.T) {
	ctx := context.Background()
	b, sessions := newTestBroker()

	b.Listener.Attach(ctx, "persist:tab-1")
	gt.NoError(t, serverSet(ctx, sessions, "persist:tab-1",
		"tracking-id", "whatever-value-123", ".edison.onereach.ai"))

	gt.Nil(t, b.Store.Get(model.TenantEdison, model.TokenKindPrimary))
	gt.A(t, b.Store.PartitionsOf(model.TenantEdison)).Length(0)
}

func TestListenerIgnoresLookalikeDomains(t *testing.T) {
	ctx := context.Background()
	b, sessions := newTestBroker()

	b.Listener.Attach(ctx, "persist:tab-rogue")

	// A rogue redirect sets an auth-named cookie on a lookalike domain.
	gt.NoError(t, serverSet(ctx, sessions, "persist:tab-rogue",
		model.PrimaryCookieName, "stolen-value-12345", "onereach.ai.attacker.test"))

	// No TokenRecord is written for any tenant, no partitions mutated.
	for _, tenant := range []model.Tenant{model.TenantProduction, model.TenantStaging, model.TenantEdison, model.TenantDev} {
		gt.Nil(t, b.Store.Get(tenant, model.TokenKindPrimary))
		gt.A(t, b.Store.PartitionsOf(tenant)).Length(0)
	}
}

func TestListenerIgnoresRemovals(t *testing.T) {
	ctx := context.Background()
	b, sessions := newTestBroker()

	b.Listener.Attach(ctx, "persist:tab-1")
	gt.NoError(t, serverSet(ctx, sessions, "persist:tab-1",
		model.PrimaryCookieName, "captured-value-123", ".edison.onereach.ai"))
	gt.V(t, b.Store.Get(model.TenantEdison, model.TokenKindPrimary)).NotNil()

	// Clearing the cookie in the tab must not cascade a logout.
	gt.NoError(t, sessions.FromPartition("persist:tab-1").Remove(ctx,
		".edison.onereach.ai", model.PrimaryCookieName))
	gt.V(t, b.Store.Get(model.TenantEdison, model.TokenKindPrimary)).NotNil()
}

func TestListenerDetachLifecycle(t *testing.T) {
	ctx := context.Background()
	b, sessions := newTestBroker()

	b.Listener.Attach(ctx, "persist:tab-1")
	b.Listener.Attach(ctx, "persist:tool-edison")

	// Tab partitions detach on close.
	b.Listener.Detach(ctx, "persist:tab-1")
	gt.False(t, b.Listener.Attached("persist:tab-1"))

	gt.NoError(t, serverSet(ctx, sessions, "persist:tab-1",
		model.PrimaryCookieName, "late-cookie-value", ".edison.onereach.ai"))
	gt.Nil(t, b.Store.Get(model.TenantEdison, model.TokenKindPrimary))

	// Tool partitions never detach; they keep capturing refreshes.
	b.Listener.Detach(ctx, "persist:tool-edison")
	gt.True(t, b.Listener.Attached("persist:tool-edison"))
}

func TestListenerAttachIsIdempotent(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBroker()

	first := b.Listener.Attach(ctx, "persist:tab-1")
	second := b.Listener.Attach(ctx, "tab-1") // Normalized to the same partition
	gt.Equal(t, first, second)
}

func TestListenerDropsOwnInjectionWrites(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBroker()

	b.Store.Set(ctx, model.TenantEdison, model.TokenKindPrimary, testRecord("stored-value-123456"))
	b.Listener.Attach(ctx, "persist:tab-1")

	// An open-time injection writes into the attached partition. The
	// listener must not treat the write as a server refresh: the record
	// keeps its original source partition and no propagation starts.
	result, err := b.OpenPartition(ctx, model.TenantEdison, "persist:tab-1")
	gt.NoError(t, err)
	gt.True(t, result.Success)

	rec := b.Store.Get(model.TenantEdison, model.TokenKindPrimary)
	gt.Equal(t, rec.SourcePartition, "persist:tool-edison")
}
