package exchange

import (
	"sync"
	"time"

	"github.com/onereach/deskshell/pkg/model"
)

// defaultUndoWindow bounds how long a recorded action stays
// reversible.
const defaultUndoWindow = 60 * time.Second

// Memory holds the two response capability slots: the last response
// for "repeat" and the undoable for "undo". Expired undo slots are
// cleared lazily on read.
type Memory struct {
	mu   sync.Mutex
	last *model.Result
	undo *model.Undoable
	now  func() time.Time
}

type MemoryOption func(*Memory)

// WithMemoryClock overrides the memory's clock.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

// NewMemory creates empty response memory.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Record stores a completed response. A result carrying an Undo slot
// replaces any earlier undoable; a zero expiry gets the default 60 s
// window.
func (m *Memory) Record(result *model.Result) {
	if result == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.last = result
	if result.Undo != nil {
		undo := *result.Undo
		if undo.ExpiresAt.IsZero() {
			undo.ExpiresAt = m.now().Add(defaultUndoWindow)
		}
		m.undo = &undo
	}
}

// LastResponse returns the most recent recorded response, or nil.
func (m *Memory) LastResponse() *model.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// PendingUndo reports the live undoable's description, clearing the
// slot first when it has expired.
func (m *Memory) PendingUndo() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.expireLocked() {
		return "", false
	}
	return m.undo.Description, true
}

// Undo invokes the stored callable, clears the slot, and returns a
// structured result. An empty or expired slot yields the
// "nothing to undo" result.
func (m *Memory) Undo() *model.Result {
	m.mu.Lock()
	if m.expireLocked() {
		m.mu.Unlock()
		return &model.Result{Success: false, Message: "nothing to undo"}
	}
	undo := m.undo
	m.undo = nil
	m.mu.Unlock()

	if err := undo.Fn(); err != nil {
		return &model.Result{
			Success: false,
			Message: "undo failed: " + err.Error(),
		}
	}
	return &model.Result{
		Success: true,
		Message: "undone: " + undo.Description,
		Speak:   "Okay, I undid that.",
	}
}

// expireLocked clears a dead slot and reports whether nothing is
// undoable. Callers hold the lock.
func (m *Memory) expireLocked() bool {
	if m.undo == nil {
		return true
	}
	if !m.undo.ExpiresAt.After(m.now()) {
		m.undo = nil
		return true
	}
	return false
}
