package autologin

import (
	"sync"
	"time"

	"github.com/onereach/deskshell/pkg/model"
)

const (
	cooldownStep    = 5 * time.Second
	cooldownCeiling = 30 * time.Second
	// successGrace resets the backoff: a login that succeeded recently
	// means the account is healthy and a stray failure should not
	// penalize the next attempt.
	successGrace = 5 * time.Minute
)

type rateEntry struct {
	failureCount int
	lastAttempt  time.Time
	lastSuccess  time.Time
	inProgress   bool
}

// RateGate enforces the per-tenant login backoff and the single
// in-progress attempt per tenant.
type RateGate struct {
	mu      sync.Mutex
	entries map[model.Tenant]*rateEntry
	now     func() time.Time
}

// NewRateGate creates an empty gate.
func NewRateGate() *RateGate {
	return &RateGate{
		entries: make(map[model.Tenant]*rateEntry),
		now:     time.Now,
	}
}

func (g *RateGate) entry(tenant model.Tenant) *rateEntry {
	e, ok := g.entries[tenant]
	if !ok {
		e = &rateEntry{}
		g.entries[tenant] = e
	}
	return e
}

// Check reports whether an attempt may start now. When rate-limited it
// returns the remaining cooldown so the caller can surface a
// "please wait N s" state.
func (g *RateGate) Check(tenant model.Tenant) (time.Duration, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e := g.entry(tenant)
	now := g.now()

	if !e.lastSuccess.IsZero() && now.Sub(e.lastSuccess) < successGrace {
		e.failureCount = 0
		return 0, true
	}
	if e.failureCount == 0 || e.lastAttempt.IsZero() {
		return 0, true
	}

	cooldown := time.Duration(e.failureCount) * cooldownStep
	if cooldown > cooldownCeiling {
		cooldown = cooldownCeiling
	}
	elapsed := now.Sub(e.lastAttempt)
	if elapsed >= cooldown {
		return 0, true
	}
	return cooldown - elapsed, false
}

// TryBegin marks an attempt in progress. Returns false if one is
// already running for the tenant. The cooldown clock is anchored to
// RecordFailure, not here: starting an attempt must not push back a
// cooldown that Check is about to measure.
func (g *RateGate) TryBegin(tenant model.Tenant) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	e := g.entry(tenant)
	if e.inProgress {
		return false
	}
	e.inProgress = true
	return true
}

// End releases the in-progress flag.
func (g *RateGate) End(tenant model.Tenant) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entry(tenant).inProgress = false
}

// RecordFailure bumps the tenant's failure count. Not called for
// cooperative cancellation.
func (g *RateGate) RecordFailure(tenant model.Tenant) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e := g.entry(tenant)
	e.failureCount++
	e.lastAttempt = g.now()
}

// RecordSuccess resets the backoff for the tenant.
func (g *RateGate) RecordSuccess(tenant model.Tenant) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e := g.entry(tenant)
	e.failureCount = 0
	e.lastSuccess = g.now()
}

// FailureCount returns the current failure count for inspection.
func (g *RateGate) FailureCount(tenant model.Tenant) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.entry(tenant).failureCount
}

// SetClock overrides the gate's clock. Test use only.
func (g *RateGate) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
}

// Seed installs a rate entry directly. Test use only.
func (g *RateGate) Seed(tenant model.Tenant, failureCount int, lastAttempt, lastSuccess time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e := g.entry(tenant)
	e.failureCount = failureCount
	e.lastAttempt = lastAttempt
	e.lastSuccess = lastSuccess
}
