package agent

import (
	"context"
	"reflect"

	"github.com/m-mizutani/goerr/v2"

	"github.com/onereach/deskshell/pkg/model"
	"github.com/onereach/deskshell/pkg/utils/logging"
)

// Registry holds the agents that passed load-time validation, in
// manifest order. It is immutable after Load.
type Registry struct {
	agents []model.Agent
	byID   map[string]model.Agent
}

// Load builds a registry from an ordered manifest of agent ids, taking
// implementations from available. A manifest entry that is missing or
// fails validation is logged and excluded; load itself never fails.
func Load(ctx context.Context, manifest []string, available map[string]model.Agent) *Registry {
	logger := logging.From(ctx)
	reg := &Registry{byID: make(map[string]model.Agent)}

	for _, id := range manifest {
		a, ok := available[id]
		if !ok {
			logger.Warn("agent in manifest has no implementation", "agent", id)
			continue
		}
		if err := validate(id, a); err != nil {
			logger.Warn("agent rejected at load", "agent", id, "error", err)
			continue
		}

		desc := a.Descriptor()
		if desc.ExecutionType == model.ExecutionAction && len(desc.DataSources) == 0 {
			logger.Warn("action agent declares no data sources", "agent", id)
		}

		reg.agents = append(reg.agents, a)
		reg.byID[id] = a
	}

	logger.Info("agent registry loaded",
		"manifest", len(manifest), "loaded", len(reg.agents))
	return reg
}

// validate checks one agent's descriptor against its manifest entry.
// Routing is LLM-scored only, so any agent exposing a Bid method is
// trying to pre-empt the auction and is rejected outright.
func validate(manifestID string, a model.Agent) error {
	desc := a.Descriptor()
	if desc == nil {
		return goerr.Wrap(model.ErrAgentRejected, "nil descriptor")
	}
	if desc.ID == "" || desc.Name == "" || desc.Description == "" {
		return goerr.Wrap(model.ErrAgentRejected, "missing required descriptor fields",
			goerr.V("id", desc.ID))
	}
	if desc.ID != manifestID {
		return goerr.Wrap(model.ErrAgentRejected, "descriptor id does not match manifest entry",
			goerr.V("manifest", manifestID), goerr.V("descriptor", desc.ID))
	}
	if err := desc.ExecutionType.Validate(); err != nil {
		return goerr.Wrap(err, "unknown execution type",
			goerr.V("id", desc.ID), goerr.V("executionType", desc.ExecutionType))
	}
	if reflect.ValueOf(a).MethodByName("Bid").IsValid() {
		return goerr.Wrap(model.ErrAgentRejected, "agent exposes a Bid method",
			goerr.V("id", desc.ID))
	}
	return nil
}

// GetAll returns the loaded agents in manifest order.
func (r *Registry) GetAll() []model.Agent {
	out := make([]model.Agent, len(r.agents))
	copy(out, r.agents)
	return out
}

// GetByID returns the agent for an id.
func (r *Registry) GetByID(id string) (model.Agent, bool) {
	a, ok := r.byID[id]
	return a, ok
}

// GetByDefaultSpace returns the agents bound to a space id, in
// manifest order.
func (r *Registry) GetByDefaultSpace(spaceID string) []model.Agent {
	var out []model.Agent
	for _, a := range r.agents {
		if a.Descriptor().DefaultSpace == spaceID {
			out = append(out, a)
		}
	}
	return out
}

// BriefingContributors returns the loaded agents that implement the
// briefing hook, in manifest order.
func (r *Registry) BriefingContributors() []model.BriefingContributor {
	var out []model.BriefingContributor
	for _, a := range r.agents {
		if c, ok := a.(model.BriefingContributor); ok {
			out = append(out, c)
		}
	}
	return out
}

// Candidates returns the agents eligible for an auction: loaded and
// not bid-excluded, in manifest order.
func (r *Registry) Candidates() []model.Agent {
	var out []model.Agent
	for _, a := range r.agents {
		if !a.Descriptor().BidExcluded {
			out = append(out, a)
		}
	}
	return out
}
