package broker

import (
	"context"
	"errors"

	"github.com/onereach/deskshell/pkg/adapter"
	"github.com/onereach/deskshell/pkg/model"
	"github.com/onereach/deskshell/pkg/repository"
	"github.com/onereach/deskshell/pkg/utils/logging"
)

// Broker wires the token store, classifier, injector, propagator and
// cookie listener into the multi-tenant session broker. The host shell
// calls OpenPartition before a window's first navigation and
// ClosePartition when a tab window is destroyed.
type Broker struct {
	Store      *Store
	Classifier *Classifier
	Injector   *Injector
	Propagator *Propagator
	Listener   *Listener
}

// New assembles a broker. A nil table uses the built-in suite
// configuration.
func New(sessions adapter.SessionStore, settings repository.Settings, table model.TenantTable, opts ...InjectorOption) *Broker {
	store := NewStore(settings)
	classifier := NewClassifier(table)
	origins := NewOriginRegistry()
	injector := NewInjector(sessions, store, classifier, origins, opts...)
	propagator := NewPropagator(injector, store)
	listener := NewListener(sessions, store, classifier, propagator, origins)

	return &Broker{
		Store:      store,
		Classifier: classifier,
		Injector:   injector,
		Propagator: propagator,
		Listener:   listener,
	}
}

// OpenPartition registers and subscribes a partition, then injects the
// tenant's stored token if one is valid. A missing token is not an
// error: the user will log in manually and the attached listener will
// capture the cookie. The returned result is nil when no injection was
// attempted.
func (b *Broker) OpenPartition(ctx context.Context, tenant model.Tenant, partition string) (*InjectResult, error) {
	if err := tenant.Validate(); err != nil {
		return nil, err
	}
	partition = model.NormalizePartition(partition)

	b.Store.RegisterPartition(tenant, partition)
	b.Listener.Attach(ctx, partition)

	if !b.Store.HasValid(tenant, model.TokenKindPrimary) {
		logging.From(ctx).Debug("no stored token, skipping injection",
			"tenant", tenant, "partition", partition)
		return nil, nil
	}

	result, err := b.Injector.Inject(ctx, tenant, partition, &InjectOptions{
		MaxRetries: defaultMaxRetries,
		Source:     "open:" + partition,
	})
	if err != nil && errors.Is(err, model.ErrNoValidToken) {
		// Token expired between the check and the injection.
		return nil, nil
	}
	return result, err
}

// ClosePartition tears down a closed window's partition. Tab partitions
// are unregistered and detached; tool partitions are shared across
// windows and stay live.
func (b *Broker) ClosePartition(ctx context.Context, tenant model.Tenant, partition string) {
	partition = model.NormalizePartition(partition)
	if !model.IsTabPartition(partition) {
		return
	}
	b.Listener.Detach(ctx, partition)
	b.Store.UnregisterPartition(tenant, partition)
}
