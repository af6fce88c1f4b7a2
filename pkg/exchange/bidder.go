package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"

	"github.com/onereach/deskshell/pkg/adapter"
	"github.com/onereach/deskshell/pkg/agent"
	"github.com/onereach/deskshell/pkg/model"
	"github.com/onereach/deskshell/pkg/utils/logging"
)

const (
	// bidMinConfidence drops half-hearted claims before selection.
	bidMinConfidence = 0.30
	defaultBidTimeout   = 2 * time.Second
	defaultBidMaxTokens = 1024
)

// Bidder runs the LLM-scored auction that assigns a task to an agent.
// There is no keyword or pattern matching anywhere in the engine:
// agent keywords are prose context for the model, never decision
// inputs.
type Bidder struct {
	llm      adapter.LLM
	registry *agent.Registry
	stats    *agent.Stats
	timeout  time.Duration
	schema   *jsonschema.Resolved
}

type BidderOption func(*Bidder)

// WithBidTimeout overrides the auction wall-clock deadline.
func WithBidTimeout(d time.Duration) BidderOption {
	return func(b *Bidder) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// NewBidder creates a bidder over the LLM collaborator.
func NewBidder(llm adapter.LLM, registry *agent.Registry, stats *agent.Stats, opts ...BidderOption) (*Bidder, error) {
	resolved, err := bidResponseSchema().Resolve(nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to resolve bid response schema")
	}

	b := &Bidder{
		llm:      llm,
		registry: registry,
		stats:    stats,
		timeout:  defaultBidTimeout,
		schema:   resolved,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func floatPtr(v float64) *float64 { return &v }

// bidResponseSchema describes the only shape the model may answer
// with: { bids: [{ id, confidence, reasoning }] }.
func bidResponseSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:     "object",
		Required: []string{"bids"},
		Properties: map[string]*jsonschema.Schema{
			"bids": {
				Type: "array",
				Items: &jsonschema.Schema{
					Type:     "object",
					Required: []string{"id", "confidence"},
					Properties: map[string]*jsonschema.Schema{
						"id":         {Type: "string"},
						"confidence": {Type: "number", Minimum: floatPtr(0), Maximum: floatPtr(1)},
						"reasoning":  {Type: "string"},
					},
				},
			},
		},
	}
}

type bidResponse struct {
	Bids []agent.Bid `json:"bids"`
}

// Auction scores the task against every eligible agent and returns the
// winner. Every received bid is recorded to the stats sink whether or
// not it wins. Returns model.ErrNoBidder when no agent claims the task
// and model.ErrBidTimeout when the model misses the deadline.
func (b *Bidder) Auction(ctx context.Context, task *model.Task) (model.Agent, []agent.Bid, error) {
	logger := logging.From(ctx)

	candidates := b.registry.Candidates()
	if len(candidates) == 0 {
		return nil, nil, goerr.Wrap(model.ErrNoBidder, "no eligible agents registered")
	}

	chatCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	resp, err := b.llm.Chat(chatCtx, &adapter.ChatRequest{
		Profile: "fast",
		Messages: []adapter.ChatMessage{
			{Role: adapter.RoleSystem, Content: bidSystemPrompt},
			{Role: adapter.RoleUser, Content: buildBidPrompt(task, candidates)},
		},
		Temperature: 0,
		MaxTokens:   defaultBidMaxTokens,
		JSONMode:    true,
		Feature:     "agent-auction",
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			b.stats.RecordAuction(ctx, task.Utterance, "", nil)
			return nil, nil, goerr.Wrap(model.ErrBidTimeout, "auction missed deadline",
				goerr.V("task", task.ID), goerr.V("timeout", b.timeout))
		}
		return nil, nil, goerr.Wrap(err, "auction LLM call failed", goerr.V("task", task.ID))
	}

	bids, err := b.parseBids(resp.Content)
	if err != nil {
		// A malformed response is an empty bid set, not a crash.
		logger.Warn("discarding malformed bid response", "error", err, "task", task.ID)
		bids = nil
	}
	bids = b.keepKnown(bids, candidates)

	winner := selectWinner(bids, candidates)
	winnerID := ""
	if winner != nil {
		winnerID = winner.Descriptor().ID
	}
	b.stats.RecordAuction(ctx, task.Utterance, winnerID, bids)

	if winner == nil {
		return nil, bids, goerr.Wrap(model.ErrNoBidder, "no agent claimed the task",
			goerr.V("task", task.ID), goerr.V("bids", len(bids)))
	}

	logger.Debug("auction settled",
		"task", task.ID, "winner", winnerID, "bids", len(bids))
	return winner, bids, nil
}

// parseBids validates the model output against the response schema
// before trusting any of it.
func (b *Bidder) parseBids(content string) ([]agent.Bid, error) {
	raw := extractJSON(content)
	if raw == "" {
		return nil, goerr.New("no JSON object in response")
	}

	var instance any
	if err := json.Unmarshal([]byte(raw), &instance); err != nil {
		return nil, goerr.Wrap(err, "bid response is not JSON")
	}
	if err := b.schema.Validate(instance); err != nil {
		return nil, goerr.Wrap(err, "bid response violates schema")
	}

	var parsed bidResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, goerr.Wrap(err, "failed to decode bid response")
	}
	return parsed.Bids, nil
}

// keepKnown drops bids for ids outside the candidate set, including
// anything bid-excluded the model hallucinated into the auction.
func (b *Bidder) keepKnown(bids []agent.Bid, candidates []model.Agent) []agent.Bid {
	known := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		known[c.Descriptor().ID] = true
	}

	var out []agent.Bid
	for _, bid := range bids {
		if known[bid.AgentID] {
			out = append(out, bid)
		}
	}
	return out
}

// selectWinner picks the highest-confidence bid at or above the floor.
// Ties break by the candidate's registry position, which is stable
// across runs.
func selectWinner(bids []agent.Bid, candidates []model.Agent) model.Agent {
	best := make(map[string]float64, len(bids))
	for _, bid := range bids {
		if bid.Confidence < bidMinConfidence {
			continue
		}
		if bid.Confidence > best[bid.AgentID] {
			best[bid.AgentID] = bid.Confidence
		}
	}

	var winner model.Agent
	var winning float64
	for _, c := range candidates {
		conf, ok := best[c.Descriptor().ID]
		if !ok {
			continue
		}
		if winner == nil || conf > winning {
			winner = c
			winning = conf
		}
	}
	return winner
}

// extractJSON returns the outermost JSON object of a completion,
// tolerating markdown fences around it.
func extractJSON(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return ""
	}
	return content[start : end+1]
}

const bidSystemPrompt = `You are the dispatcher of a desktop assistant. Given a user utterance and a list of candidate agents, score how confident each agent should be that it can handle the utterance. Respond with a single JSON object of the form {"bids": [{"id": "<agent id>", "confidence": <0..1>, "reasoning": "<one sentence>"}]}. Only include agents from the candidate list. Omit agents that clearly cannot help.`

// buildBidPrompt enumerates the candidates. Keywords and capabilities
// are included as prose hints for the model.
func buildBidPrompt(task *model.Task, candidates []model.Agent) string {
	var sb strings.Builder
	sb.WriteString("User utterance: ")
	sb.WriteString(task.Utterance)
	sb.WriteString("\n\nCandidate agents:\n")

	for _, c := range candidates {
		d := c.Descriptor()
		sb.WriteString("- id: ")
		sb.WriteString(d.ID)
		sb.WriteString("\n  name: ")
		sb.WriteString(d.Name)
		sb.WriteString("\n  description: ")
		sb.WriteString(d.Description)
		if len(d.Capabilities) > 0 {
			sb.WriteString("\n  capabilities: ")
			sb.WriteString(strings.Join(d.Capabilities, ", "))
		}
		if len(d.Keywords) > 0 {
			sb.WriteString("\n  hints: ")
			sb.WriteString(strings.Join(d.Keywords, ", "))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
