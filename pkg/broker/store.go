package broker

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/onereach/deskshell/pkg/model"
	"github.com/onereach/deskshell/pkg/repository"
	"github.com/onereach/deskshell/pkg/utils/logging"
)

// Change reports whether a Set replaced an existing record.
type Change string

const (
	ChangeCaptured  Change = "captured"
	ChangeRefreshed Change = "refreshed"
)

// Store is the durable (tenant, kind) → TokenRecord map plus the
// registry of live partitions per tenant. Set and Clear are the only
// mutators that persist; persistence is fire-and-forget but serialized
// per tenant so two near-simultaneous refreshes never tear a document.
type Store struct {
	mu         sync.Mutex
	primary    map[model.Tenant]*model.TokenRecord
	session    map[model.Tenant]*model.TokenRecord
	partitions map[model.Tenant]map[string]struct{}

	settings repository.Settings
	queues   map[model.Tenant]chan func(context.Context)
	now      func() time.Time
}

// NewStore creates a token store backed by the given settings
// collaborator.
func NewStore(settings repository.Settings) *Store {
	return &Store{
		primary:    make(map[model.Tenant]*model.TokenRecord),
		session:    make(map[model.Tenant]*model.TokenRecord),
		partitions: make(map[model.Tenant]map[string]struct{}),
		settings:   settings,
		queues:     make(map[model.Tenant]chan func(context.Context)),
		now:        time.Now,
	}
}

// Load hydrates token records from persisted settings. A missing key is
// a fresh profile, not an error.
func (s *Store) Load(ctx context.Context) error {
	var primary, session map[model.Tenant]*model.TokenRecord

	if err := s.settings.Get(ctx, repository.KeyPrimaryTokens, &primary); err != nil {
		if !errors.Is(err, repository.ErrKeyNotFound) {
			return err
		}
	}
	if err := s.settings.Get(ctx, repository.KeySessionTokens, &session); err != nil {
		if !errors.Is(err, repository.ErrKeyNotFound) {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for tenant, rec := range primary {
		s.primary[tenant] = rec
	}
	for tenant, rec := range session {
		s.session[tenant] = rec
	}
	return nil
}

// Set overwrites the record for (tenant, kind), persists, and reports
// whether this was a first capture or a refresh.
func (s *Store) Set(ctx context.Context, tenant model.Tenant, kind model.TokenKind, rec *model.TokenRecord) Change {
	s.mu.Lock()
	records := s.recordsOf(kind)
	_, existed := records[tenant]
	records[tenant] = rec
	snapshot := s.snapshotLocked(kind)
	s.mu.Unlock()

	s.persist(ctx, tenant, kind, snapshot)

	if existed {
		return ChangeRefreshed
	}
	return ChangeCaptured
}

// Get returns the record for (tenant, kind), or nil.
func (s *Store) Get(tenant model.Tenant, kind model.TokenKind) *model.TokenRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordsOf(kind)[tenant]
}

// HasValid reports whether a present, unexpired, sane record exists.
func (s *Store) HasValid(tenant model.Tenant, kind model.TokenKind) bool {
	s.mu.Lock()
	rec := s.recordsOf(kind)[tenant]
	s.mu.Unlock()
	return rec.Valid(s.now())
}

// Clear removes the record for (tenant, kind) and persists.
func (s *Store) Clear(ctx context.Context, tenant model.Tenant, kind model.TokenKind) {
	s.mu.Lock()
	delete(s.recordsOf(kind), tenant)
	snapshot := s.snapshotLocked(kind)
	s.mu.Unlock()

	s.persist(ctx, tenant, kind, snapshot)
}

// RegisterPartition adds a live partition for a tenant. Idempotent.
func (s *Store) RegisterPartition(tenant model.Tenant, partition string) {
	partition = model.NormalizePartition(partition)
	if partition == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.partitions[tenant]
	if !ok {
		set = make(map[string]struct{})
		s.partitions[tenant] = set
	}
	set[partition] = struct{}{}
}

// UnregisterPartition removes a live partition for a tenant. Idempotent.
func (s *Store) UnregisterPartition(tenant model.Tenant, partition string) {
	partition = model.NormalizePartition(partition)
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.partitions[tenant]; ok {
		delete(set, partition)
	}
}

// PartitionsOf returns a sorted snapshot of the tenant's live
// partitions.
func (s *Store) PartitionsOf(tenant model.Tenant) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.partitions[tenant]
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Sync blocks until every persist job enqueued before the call has
// completed. Used at shutdown and by tests.
func (s *Store) Sync(ctx context.Context) {
	s.mu.Lock()
	queues := make([]chan func(context.Context), 0, len(s.queues))
	for _, q := range s.queues {
		queues = append(queues, q)
	}
	s.mu.Unlock()

	for _, q := range queues {
		done := make(chan struct{})
		select {
		case q <- func(context.Context) { close(done) }:
		case <-ctx.Done():
			return
		}
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
	}
}

// recordsOf is called with s.mu held.
func (s *Store) recordsOf(kind model.TokenKind) map[model.Tenant]*model.TokenRecord {
	if kind == model.TokenKindSession {
		return s.session
	}
	return s.primary
}

// snapshotLocked copies the whole kind map for an atomic document
// write. Called with s.mu held.
func (s *Store) snapshotLocked(kind model.TokenKind) map[model.Tenant]*model.TokenRecord {
	src := s.recordsOf(kind)
	out := make(map[model.Tenant]*model.TokenRecord, len(src))
	for tenant, rec := range src {
		copied := *rec
		out[tenant] = &copied
	}
	return out
}

func settingsKeyOf(kind model.TokenKind) string {
	if kind == model.TokenKindSession {
		return repository.KeySessionTokens
	}
	return repository.KeyPrimaryTokens
}

// persist enqueues a whole-document write on the tenant's ordered
// queue. Failures are logged, never surfaced to the capture path.
func (s *Store) persist(ctx context.Context, tenant model.Tenant, kind model.TokenKind, snapshot map[model.Tenant]*model.TokenRecord) {
	key := settingsKeyOf(kind)
	logger := logging.From(ctx)

	s.queue(tenant) <- func(jobCtx context.Context) {
		if err := s.settings.Put(jobCtx, key, snapshot); err != nil {
			logger.Warn("failed to persist token records",
				"tenant", tenant, "key", key, "error", err)
		}
	}
}

// queue returns (starting if needed) the tenant's persist worker.
func (s *Store) queue(tenant model.Tenant) chan func(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[tenant]
	if !ok {
		q = make(chan func(context.Context), 16)
		s.queues[tenant] = q
		go func() {
			ctx := context.Background()
			for job := range q {
				job(ctx)
			}
		}()
	}
	return q
}
