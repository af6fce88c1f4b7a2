package broker

import (
	"context"
	"sync"

	"github.com/onereach/deskshell/pkg/model"
	"github.com/onereach/deskshell/pkg/utils/logging"
)

// Propagator fans a refreshed token out to every other live partition
// of a tenant. The fan-out's cookie writes carry injector-minted
// correlation ids, so the listener drops them rather than starting
// another round; the process-wide propagating flag additionally keeps
// two rounds from overlapping.
type Propagator struct {
	injector *Injector
	store    *Store

	mu          sync.Mutex
	propagating bool
}

// NewPropagator creates a propagator over the injector and token store.
func NewPropagator(injector *Injector, store *Store) *Propagator {
	return &Propagator{injector: injector, store: store}
}

// Active reports whether a round is in flight.
func (p *Propagator) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.propagating
}

// Propagate pushes the tenant's current primary token into every live
// partition except the source. Per-partition failures are isolated and
// logged; Propagate never returns an error. A round already in flight
// makes the call a no-op.
func (p *Propagator) Propagate(ctx context.Context, tenant model.Tenant, sourcePartition string) {
	logger := logging.From(ctx).With("tenant", tenant, "source", sourcePartition)

	p.mu.Lock()
	if p.propagating {
		p.mu.Unlock()
		logger.Debug("propagation already in flight, skipping")
		return
	}
	p.propagating = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.propagating = false
		p.mu.Unlock()
	}()

	source := model.NormalizePartition(sourcePartition)
	var targets []string
	for _, partition := range p.store.PartitionsOf(tenant) {
		if partition != source {
			targets = append(targets, partition)
		}
	}
	if len(targets) == 0 {
		logger.Debug("no propagation targets")
		return
	}

	type outcome struct {
		partition string
		result    *InjectResult
	}
	results := make([]outcome, len(targets))

	var wg sync.WaitGroup
	for idx, partition := range targets {
		wg.Add(1)
		go func(idx int, partition string) {
			defer wg.Done()
			result, err := p.injector.Inject(ctx, tenant, partition, &InjectOptions{
				Force:      true,
				MaxRetries: 1,
				Source:     "propagate",
			})
			if err != nil && result == nil {
				result = &InjectResult{Success: false, Err: err}
			}
			results[idx] = outcome{partition: partition, result: result}
		}(idx, partition)
	}
	wg.Wait()

	succeeded := 0
	for _, o := range results {
		if o.result != nil && o.result.Success {
			succeeded++
			continue
		}
		logger.Warn("propagation target failed",
			"partition", o.partition, "error", o.result.Err)
	}
	logger.Info("propagation round complete",
		"targets", len(targets), "succeeded", succeeded)
}
