package broker

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/onereach/deskshell/pkg/adapter"
	"github.com/onereach/deskshell/pkg/model"
	"github.com/onereach/deskshell/pkg/utils/logging"
)

const (
	defaultMaxRetries   = 2
	defaultSettleDelay  = 50 * time.Millisecond
	defaultBackoffBase  = 100 * time.Millisecond
	defaultCookieMaxAge = 30 * 24 * time.Hour
)

// InjectOptions tune one injection call.
type InjectOptions struct {
	// Force writes even when both domains already hold the cookie.
	Force bool
	// MaxRetries bounds verification retries. Zero means no retry;
	// nil options use the default of 2.
	MaxRetries int
	// Source labels the injection for logging ("open", "propagate",
	// ...). The writes themselves are annotated with a minted
	// correlation id, not with this label.
	Source string
}

// InjectResult reports the outcome of one injection.
type InjectResult struct {
	Success     bool
	CookieCount int
	Domains     []string
	Err         error
}

// Injector writes a tenant's stored primary token into a partition on
// both the UI and API domains, flushes, and verifies the write before
// reporting success. Injection must complete before the partition's
// first request for the tenant's host; callers await it before
// navigation.
type Injector struct {
	sessions   adapter.SessionStore
	store      *Store
	classifier *Classifier
	origins    *OriginRegistry

	settle  time.Duration
	backoff time.Duration
	now     func() time.Time
}

type InjectorOption func(*Injector)

// WithSettleDelay overrides the post-flush settling delay.
func WithSettleDelay(d time.Duration) InjectorOption {
	return func(i *Injector) {
		i.settle = d
	}
}

// WithBackoffBase overrides the retry backoff base.
func WithBackoffBase(d time.Duration) InjectorOption {
	return func(i *Injector) {
		i.backoff = d
	}
}

// NewInjector creates an injector over the session store and token
// store.
func NewInjector(sessions adapter.SessionStore, store *Store, classifier *Classifier, origins *OriginRegistry, opts ...InjectorOption) *Injector {
	if origins == nil {
		origins = NewOriginRegistry()
	}
	i := &Injector{
		sessions:   sessions,
		store:      store,
		classifier: classifier,
		origins:    origins,
		settle:     defaultSettleDelay,
		backoff:    defaultBackoffBase,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Inject runs the full validate / write / flush / verify / retry
// contract. Validation-class failures (unknown tenant, empty partition,
// no valid token) return a typed error immediately; write or verify
// failures retry with exponential backoff and return
// model.ErrInjectionFailed once retries are exhausted. The partition
// stays registered either way so future captures still work.
func (i *Injector) Inject(ctx context.Context, tenant model.Tenant, partition string, opts *InjectOptions) (*InjectResult, error) {
	if opts == nil {
		opts = &InjectOptions{MaxRetries: defaultMaxRetries}
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = defaultMaxRetries
	}

	logger := logging.From(ctx).With("tenant", tenant, "partition", partition, "source", opts.Source)

	if err := tenant.Validate(); err != nil {
		return failed(err), err
	}
	partition = model.NormalizePartition(partition)
	if partition == "" {
		err := goerr.New("empty partition")
		return failed(err), err
	}
	if !i.store.HasValid(tenant, model.TokenKindPrimary) {
		err := goerr.Wrap(model.ErrNoValidToken, "nothing to inject", goerr.V("tenant", tenant))
		return failed(err), err
	}
	rec := i.store.Get(tenant, model.TokenKindPrimary)

	uiDomain, apiDomain, err := i.classifier.Domains(tenant)
	if err != nil {
		return failed(err), err
	}
	domains := []string{uiDomain, apiDomain}

	jar := i.sessions.FromPartition(partition)
	name := model.TokenKindPrimary.CookieName()

	if !opts.Force {
		count, covered, err := i.coverage(ctx, jar, name, domains)
		if err == nil && covered {
			logger.Debug("injection skipped, cookies already present", "count", count)
			return &InjectResult{Success: true, CookieCount: count, Domains: domains}, nil
		}
	}

	template := i.cookieTemplate(rec, i.origins.Mint())

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := i.backoff * (1 << (attempt - 1))
			if err := sleepCtx(ctx, backoff); err != nil {
				return failed(err), err
			}
			logger.Debug("retrying injection", "attempt", attempt)
		}

		count, err := i.attempt(ctx, jar, template, domains, rec.Value, name)
		if err == nil {
			logger.Info("token injected", "cookies", count, "domains", domains)
			return &InjectResult{Success: true, CookieCount: count, Domains: domains}, nil
		}
		lastErr = err
	}

	err = goerr.Wrap(model.ErrInjectionFailed, "injection exhausted retries",
		goerr.V("tenant", tenant), goerr.V("partition", partition),
		goerr.V("retries", maxRetries), goerr.V("cause", lastErr))
	logger.Warn("token injection failed", "error", err)
	result := failed(err)
	result.Domains = domains
	return result, err
}

// attempt performs one write-flush-settle-verify cycle. Both domain
// writes are required; a partial failure fails the attempt.
func (i *Injector) attempt(ctx context.Context, jar adapter.CookieJar, template *adapter.Cookie, domains []string, wantValue, name string) (int, error) {
	for _, domain := range domains {
		cookie := *template
		cookie.Domain = domain
		if err := jar.Set(ctx, &cookie); err != nil {
			return 0, goerr.Wrap(err, "cookie write failed", goerr.V("domain", domain))
		}
	}

	if err := jar.FlushStore(ctx); err != nil {
		return 0, goerr.Wrap(err, "cookie store flush failed")
	}

	if err := sleepCtx(ctx, i.settle); err != nil {
		return 0, err
	}

	cookies, err := jar.Get(ctx, &adapter.CookieFilter{Name: name})
	if err != nil {
		return 0, goerr.Wrap(err, "read-back failed")
	}
	if len(cookies) == 0 {
		return 0, goerr.New("read-back returned no cookies")
	}
	for _, c := range cookies {
		if c.Value == wantValue {
			return len(cookies), nil
		}
	}
	return 0, goerr.New("read-back value mismatch", goerr.V("count", len(cookies)))
}

// coverage reports whether the cookie is already present on every
// required domain.
func (i *Injector) coverage(ctx context.Context, jar adapter.CookieJar, name string, domains []string) (int, bool, error) {
	total := 0
	for _, domain := range domains {
		cookies, err := jar.Get(ctx, &adapter.CookieFilter{Name: name, Domain: domain})
		if err != nil {
			return 0, false, err
		}
		if len(cookies) == 0 {
			return 0, false, nil
		}
		total += len(cookies)
	}
	return total, true, nil
}

func (i *Injector) cookieTemplate(rec *model.TokenRecord, correlationID string) *adapter.Cookie {
	expires := rec.ExpiresAt
	if expires == 0 {
		expires = i.now().Add(defaultCookieMaxAge).Unix()
	}
	return &adapter.Cookie{
		Name:          model.TokenKindPrimary.CookieName(),
		Value:         rec.Value,
		Path:          "/",
		Secure:        true,
		HTTPOnly:      true,
		SameSite:      "no_restriction",
		ExpiresAt:     expires,
		CorrelationID: correlationID,
	}
}

func failed(err error) *InjectResult {
	return &InjectResult{Success: false, Err: err}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
