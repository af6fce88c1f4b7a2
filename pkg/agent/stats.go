package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/onereach/deskshell/pkg/repository"
	"github.com/onereach/deskshell/pkg/utils/logging"
)

// bidHistoryLimit bounds the persisted auction ring.
const bidHistoryLimit = 100

// Stat is the accumulated per-agent record in the agentStats document.
// Execution time fields are milliseconds.
type Stat struct {
	TotalBids            int     `json:"totalBids"`
	Wins                 int     `json:"wins"`
	Executions           int     `json:"executions"`
	Successes            int     `json:"successes"`
	Failures             int     `json:"failures"`
	TotalConfidence      float64 `json:"totalConfidence"`
	TotalExecutionTimeMs int64   `json:"totalExecutionTimeMs"`
	Min                  int64   `json:"min"`
	Max                  int64   `json:"max"`
	Last                 int64   `json:"last"`
}

// Bid is one agent's scored claim on a task.
type Bid struct {
	AgentID    string  `json:"id"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// AuctionOutcome is one entry of the bidHistory ring.
type AuctionOutcome struct {
	Utterance string    `json:"utterance"`
	WinnerID  string    `json:"winnerId,omitempty"`
	Bids      []Bid     `json:"bids"`
	Timestamp time.Time `json:"timestamp"`
}

// Stats accumulates per-agent auction and execution counters and the
// recent-auction ring, persisted through the settings repository.
// Persistence failures are logged and never block the exchange.
type Stats struct {
	mu       sync.Mutex
	settings repository.Settings
	stats    map[string]*Stat
	history  []AuctionOutcome
}

// NewStats creates an empty sink over settings.
func NewStats(settings repository.Settings) *Stats {
	return &Stats{
		settings: settings,
		stats:    make(map[string]*Stat),
	}
}

// Load restores both documents. Absent keys mean a fresh profile.
func (s *Stats) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats map[string]*Stat
	if err := s.settings.Get(ctx, repository.KeyAgentStats, &stats); err != nil {
		if !errors.Is(err, repository.ErrKeyNotFound) {
			return goerr.Wrap(err, "failed to load agent stats")
		}
	} else {
		s.stats = stats
	}

	var history []AuctionOutcome
	if err := s.settings.Get(ctx, repository.KeyBidHistory, &history); err != nil {
		if !errors.Is(err, repository.ErrKeyNotFound) {
			return goerr.Wrap(err, "failed to load bid history")
		}
	} else {
		s.history = history
	}
	return nil
}

func (s *Stats) stat(agentID string) *Stat {
	st, ok := s.stats[agentID]
	if !ok {
		st = &Stat{}
		s.stats[agentID] = st
	}
	return st
}

// RecordAuction records every bid of one auction and appends the
// outcome to the history ring.
func (s *Stats) RecordAuction(ctx context.Context, utterance, winnerID string, bids []Bid) {
	s.mu.Lock()
	for _, b := range bids {
		st := s.stat(b.AgentID)
		st.TotalBids++
		st.TotalConfidence += b.Confidence
	}
	if winnerID != "" {
		s.stat(winnerID).Wins++
	}

	s.history = append(s.history, AuctionOutcome{
		Utterance: utterance,
		WinnerID:  winnerID,
		Bids:      bids,
		Timestamp: time.Now(),
	})
	if len(s.history) > bidHistoryLimit {
		s.history = s.history[len(s.history)-bidHistoryLimit:]
	}
	s.mu.Unlock()

	s.persist(ctx)
}

// RecordExecution records one completed execution and its duration.
func (s *Stats) RecordExecution(ctx context.Context, agentID string, elapsed time.Duration, success bool) {
	ms := elapsed.Milliseconds()

	s.mu.Lock()
	st := s.stat(agentID)
	st.Executions++
	if success {
		st.Successes++
	} else {
		st.Failures++
	}
	st.TotalExecutionTimeMs += ms
	if st.Executions == 1 || ms < st.Min {
		st.Min = ms
	}
	if ms > st.Max {
		st.Max = ms
	}
	st.Last = ms
	s.mu.Unlock()

	s.persist(ctx)
}

// StatFor returns a copy of one agent's record.
func (s *Stats) StatFor(agentID string) (Stat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[agentID]
	if !ok {
		return Stat{}, false
	}
	return *st, true
}

// History returns a copy of the auction ring, oldest-first.
func (s *Stats) History() []AuctionOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AuctionOutcome, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Stats) persist(ctx context.Context) {
	s.mu.Lock()
	stats := make(map[string]Stat, len(s.stats))
	for id, st := range s.stats {
		stats[id] = *st
	}
	history := make([]AuctionOutcome, len(s.history))
	copy(history, s.history)
	s.mu.Unlock()

	logger := logging.From(ctx)
	if err := s.settings.Put(ctx, repository.KeyAgentStats, stats); err != nil {
		logger.Warn("failed to persist agent stats", "error", err)
	}
	if err := s.settings.Put(ctx, repository.KeyBidHistory, history); err != nil {
		logger.Warn("failed to persist bid history", "error", err)
	}
}
