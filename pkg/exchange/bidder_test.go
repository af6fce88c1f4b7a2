package exchange_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/onereach/deskshell/pkg/adapter"
	"github.com/onereach/deskshell/pkg/agent"
	"github.com/onereach/deskshell/pkg/exchange"
	"github.com/onereach/deskshell/pkg/model"
	"github.com/onereach/deskshell/pkg/repository"
)

type fakeLLM struct {
	mu       sync.Mutex
	response string
	err      error
	block    bool
	requests []*adapter.ChatRequest
}

func (f *fakeLLM) Chat(ctx context.Context, req *adapter.ChatRequest) (*adapter.ChatResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &adapter.ChatResponse{Content: f.response}, nil
}

func (f *fakeLLM) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeLLM) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	req := f.requests[len(f.requests)-1]
	return req.Messages[len(req.Messages)-1].Content
}

type testAgent struct {
	desc    *model.AgentDescriptor
	execute func(ctx context.Context, task *model.Task) (*model.Result, error)
}

func (a *testAgent) Descriptor() *model.AgentDescriptor { return a.desc }

func (a *testAgent) Execute(ctx context.Context, task *model.Task) (*model.Result, error) {
	if a.execute != nil {
		return a.execute(ctx, task)
	}
	return &model.Result{Success: true, Message: "done"}, nil
}

func newAgent(id string) *testAgent {
	return &testAgent{desc: &model.AgentDescriptor{
		ID:            id,
		Name:          id,
		Description:   "test agent " + id,
		ExecutionType: model.ExecutionInformational,
	}}
}

func loadRegistry(t *testing.T, agents ...*testAgent) *agent.Registry {
	t.Helper()
	manifest := make([]string, 0, len(agents))
	available := make(map[string]model.Agent, len(agents))
	for _, a := range agents {
		manifest = append(manifest, a.desc.ID)
		available[a.desc.ID] = a
	}
	return agent.Load(context.Background(), manifest, available)
}

func newBidder(t *testing.T, llm adapter.LLM, reg *agent.Registry, opts ...exchange.BidderOption) (*exchange.Bidder, *agent.Stats) {
	t.Helper()
	stats := agent.NewStats(repository.NewMemory())
	b, err := exchange.NewBidder(llm, reg, stats, opts...)
	gt.NoError(t, err)
	return b, stats
}

func TestAuctionSelectsHighestConfidence(t *testing.T) {
	reg := loadRegistry(t, newAgent("calendar"), newAgent("weather"))
	llm := &fakeLLM{response: `{"bids": [
		{"id": "calendar", "confidence": 0.4, "reasoning": "mentions time"},
		{"id": "weather", "confidence": 0.9, "reasoning": "forecast request"}
	]}`}
	bidder, stats := newBidder(t, llm, reg)

	winner, bids, err := bidder.Auction(context.Background(), model.NewTask("will it rain tomorrow"))
	gt.NoError(t, err)
	gt.Equal(t, winner.Descriptor().ID, "weather")
	gt.A(t, bids).Length(2)

	// Losing bids still count.
	st, ok := stats.StatFor("calendar")
	gt.True(t, ok)
	gt.Equal(t, st.TotalBids, 1)
	gt.Equal(t, st.Wins, 0)
}

func TestAuctionTieBreaksInRegistryOrder(t *testing.T) {
	reg := loadRegistry(t, newAgent("first"), newAgent("second"))
	llm := &fakeLLM{response: `{"bids": [
		{"id": "second", "confidence": 0.8},
		{"id": "first", "confidence": 0.8}
	]}`}
	bidder, _ := newBidder(t, llm, reg)

	winner, _, err := bidder.Auction(context.Background(), model.NewTask("do the thing"))
	gt.NoError(t, err)
	gt.Equal(t, winner.Descriptor().ID, "first")
}

func TestAuctionFiltersLowConfidence(t *testing.T) {
	reg := loadRegistry(t, newAgent("calendar"))
	llm := &fakeLLM{response: `{"bids": [{"id": "calendar", "confidence": 0.2}]}`}
	bidder, stats := newBidder(t, llm, reg)

	_, _, err := bidder.Auction(context.Background(), model.NewTask("hmm"))
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrNoBidder))

	// Received bids are recorded even when nothing wins.
	st, ok := stats.StatFor("calendar")
	gt.True(t, ok)
	gt.Equal(t, st.TotalBids, 1)
}

func TestAuctionExcludedAgentNeverAppears(t *testing.T) {
	hidden := newAgent("system-updater")
	hidden.desc.BidExcluded = true
	reg := loadRegistry(t, hidden, newAgent("weather"))

	// Even a hallucinated bid on the excluded agent cannot win.
	llm := &fakeLLM{response: `{"bids": [
		{"id": "system-updater", "confidence": 0.99},
		{"id": "weather", "confidence": 0.5}
	]}`}
	bidder, _ := newBidder(t, llm, reg)

	winner, bids, err := bidder.Auction(context.Background(), model.NewTask("update things"))
	gt.NoError(t, err)
	gt.Equal(t, winner.Descriptor().ID, "weather")
	gt.A(t, bids).Length(1)
	gt.S(t, llm.lastPrompt()).NotContains("system-updater")
}

func TestAuctionTimeout(t *testing.T) {
	reg := loadRegistry(t, newAgent("calendar"))
	llm := &fakeLLM{block: true}
	bidder, _ := newBidder(t, llm, reg, exchange.WithBidTimeout(20*time.Millisecond))

	_, _, err := bidder.Auction(context.Background(), model.NewTask("anything"))
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrBidTimeout))
}

func TestAuctionMalformedResponseIsEmptyBidSet(t *testing.T) {
	reg := loadRegistry(t, newAgent("calendar"))
	llm := &fakeLLM{response: `the calendar agent should obviously handle this`}
	bidder, _ := newBidder(t, llm, reg)

	_, _, err := bidder.Auction(context.Background(), model.NewTask("anything"))
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrNoBidder))
}

func TestAuctionSchemaRejectsOutOfRangeConfidence(t *testing.T) {
	reg := loadRegistry(t, newAgent("calendar"))
	llm := &fakeLLM{response: `{"bids": [{"id": "calendar", "confidence": 7}]}`}
	bidder, _ := newBidder(t, llm, reg)

	_, _, err := bidder.Auction(context.Background(), model.NewTask("anything"))
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrNoBidder))
}

func TestAuctionNoCandidates(t *testing.T) {
	reg := loadRegistry(t)
	llm := &fakeLLM{}
	bidder, _ := newBidder(t, llm, reg)

	_, _, err := bidder.Auction(context.Background(), model.NewTask("anything"))
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrNoBidder))
	gt.Equal(t, llm.calls(), 0)
}

func TestAuctionToleratesMarkdownFences(t *testing.T) {
	reg := loadRegistry(t, newAgent("weather"))
	llm := &fakeLLM{response: "```json\n{\"bids\": [{\"id\": \"weather\", \"confidence\": 0.7}]}\n```"}
	bidder, _ := newBidder(t, llm, reg)

	winner, _, err := bidder.Auction(context.Background(), model.NewTask("forecast"))
	gt.NoError(t, err)
	gt.Equal(t, winner.Descriptor().ID, "weather")
}
