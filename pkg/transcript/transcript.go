package transcript

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/onereach/deskshell/pkg/model"
)

// DefaultCapacity bounds the rolling buffer. 200 entries is roughly
// ten minutes of back-and-forth conversation.
const DefaultCapacity = 200

// Pending is one parked follow-up request: an agent asked a question
// and the next matching utterance should be routed back to it. TaskID
// names the parked task so the dispatcher can resume it instead of
// leaving it in awaitingInput.
type Pending struct {
	AgentID string
	TaskID  model.TaskID
	Prompt  string
	Context map[string]any
	SetAt   time.Time
}

// Service is the rolling conversation buffer. It owns the multi-turn
// pending slots and the session identifier. All methods are safe for
// concurrent use.
type Service struct {
	mu       sync.Mutex
	capacity int
	entries  []*model.TranscriptEntry
	head     int
	count    int
	session  model.SessionID
	pending  map[string]*Pending
	now      func() time.Time
}

type Option func(*Service)

// WithCapacity overrides the buffer size.
func WithCapacity(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithClock overrides the service's clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New creates an empty transcript with a fresh session id.
func New(opts ...Option) *Service {
	s := &Service{
		capacity: DefaultCapacity,
		session:  model.NewSessionID(),
		pending:  make(map[string]*Pending),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.entries = make([]*model.TranscriptEntry, s.capacity)
	return s
}

// Push appends an utterance. The oldest entry is dropped when the
// buffer is full.
func (s *Service) Push(speaker model.Speaker, text, agentID string) *model.TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := &model.TranscriptEntry{
		ID:        model.NewEntryID(),
		Text:      text,
		Speaker:   speaker,
		AgentID:   agentID,
		IsFinal:   true,
		SessionID: s.session,
		Timestamp: s.now(),
	}

	slot := (s.head + s.count) % s.capacity
	s.entries[slot] = entry
	if s.count < s.capacity {
		s.count++
	} else {
		s.head = (s.head + 1) % s.capacity
	}
	return entry
}

// snapshot returns the buffered entries oldest-first. Callers hold the
// lock.
func (s *Service) snapshot() []*model.TranscriptEntry {
	out := make([]*model.TranscriptEntry, 0, s.count)
	for i := 0; i < s.count; i++ {
		out = append(out, s.entries[(s.head+i)%s.capacity])
	}
	return out
}

// GetRecent returns the newest n entries, oldest-first.
func (s *Service) GetRecent(n int) []*model.TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.snapshot()
	if n <= 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// GetSince returns entries at or after the given time, oldest-first.
func (s *Service) GetSince(t time.Time) []*model.TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.snapshot()
	idx := sort.Search(len(all), func(i int) bool {
		return !all[i].Timestamp.Before(t)
	})
	return all[idx:]
}

// GetBySpeaker returns the buffered entries for one speaker,
// oldest-first.
func (s *Service) GetBySpeaker(speaker model.Speaker) []*model.TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.TranscriptEntry
	for _, e := range s.snapshot() {
		if e.Speaker == speaker {
			out = append(out, e)
		}
	}
	return out
}

// Session returns the current session id.
func (s *Service) Session() model.SessionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// NewSession rotates the session id. Buffered entries keep the session
// they were recorded under.
func (s *Service) NewSession() model.SessionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = model.NewSessionID()
	return s.session
}

// SetPending parks a follow-up request for an agent. A later request
// from the same agent replaces the earlier one.
func (s *Service) SetPending(agentID string, taskID model.TaskID, prompt string, context map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[agentID] = &Pending{
		AgentID: agentID,
		TaskID:  taskID,
		Prompt:  prompt,
		Context: context,
		SetAt:   s.now(),
	}
}

// ClearPending drops the parked request for an agent.
func (s *Service) ClearPending(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, agentID)
}

// PendingFor returns the parked request for an agent, or nil.
func (s *Service) PendingFor(agentID string) *Pending {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[agentID]
}

// PickPending routes an utterance to a parked agent: an utterance that
// names a pending agent id wins; otherwise the sole pending agent, if
// there is exactly one. Nil means no routing and the caller should run
// a fresh auction.
func (s *Service) PickPending(utterance string) *Pending {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return nil
	}

	lowered := strings.ToLower(utterance)
	for id, p := range s.pending {
		if strings.Contains(lowered, strings.ToLower(id)) {
			return p
		}
	}

	if len(s.pending) == 1 {
		for _, p := range s.pending {
			return p
		}
	}
	return nil
}
