package speech_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/onereach/deskshell/pkg/model"
	"github.com/onereach/deskshell/pkg/speech"
)

// harness captures dispatch order and lets tests drive completion.
type harness struct {
	mu     sync.Mutex
	order  []string
	starts chan string
}

func newHarness() *harness {
	return &harness{starts: make(chan string, 32)}
}

func (h *harness) speak(ctx context.Context, text string, metadata map[string]string) error {
	h.mu.Lock()
	h.order = append(h.order, text)
	h.mu.Unlock()
	h.starts <- text
	return nil
}

func (h *harness) waitStart(t *testing.T) string {
	t.Helper()
	select {
	case text := <-h.starts:
		return text
	case <-time.After(2 * time.Second):
		t.Fatal("no speech dispatched in time")
		return ""
	}
}

func (h *harness) played() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.order))
	copy(out, h.order)
	return out
}

func wait(t *testing.T, f *speech.Future) bool {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	completed, err := f.Wait(ctx)
	gt.NoError(t, err)
	return completed
}

func TestQueuePlaysInOrder(t *testing.T) {
	h := newHarness()
	q := speech.New(h.speak)
	defer q.Close()

	f1 := q.Enqueue("one", nil)
	f2 := q.Enqueue("two", nil)
	f3 := q.Enqueue("three", nil)

	for i := 0; i < 3; i++ {
		h.waitStart(t)
		q.MarkComplete()
	}

	gt.True(t, wait(t, f1))
	gt.True(t, wait(t, f2))
	gt.True(t, wait(t, f3))
	gt.Equal(t, h.played(), []string{"one", "two", "three"})
}

func TestQueuePriorityOrdering(t *testing.T) {
	h := newHarness()
	q := speech.New(h.speak)
	defer q.Close()

	// Hold the first item active while the rest arrive.
	active := q.Enqueue("active", nil)
	h.waitStart(t)

	first := q.Enqueue("initial normal", nil)
	urgent := q.Enqueue("urgent alert", &speech.EnqueueOptions{Priority: model.SpeechUrgent})
	later := q.Enqueue("later normal", nil)

	// The urgent item preempted the active one.
	gt.False(t, wait(t, active))

	for i := 0; i < 3; i++ {
		h.waitStart(t)
		q.MarkComplete()
	}

	gt.True(t, wait(t, urgent))
	gt.True(t, wait(t, first))
	gt.True(t, wait(t, later))
	gt.Equal(t, h.played(), []string{"active", "urgent alert", "initial normal", "later normal"})
}

func TestQueueHighBeforeNormalAfterActive(t *testing.T) {
	h := newHarness()
	q := speech.New(h.speak)
	defer q.Close()

	active := q.Enqueue("active", nil)
	h.waitStart(t)

	q.Enqueue("normal", nil)
	q.Enqueue("high", &speech.EnqueueOptions{Priority: model.SpeechHigh})

	// High priority queues ahead but does not preempt.
	q.MarkComplete()
	gt.True(t, wait(t, active))

	gt.Equal(t, h.waitStart(t), "high")
	q.MarkComplete()
	gt.Equal(t, h.waitStart(t), "normal")
	q.MarkComplete()
}

func TestQueueCompletionTimeoutForcesProgress(t *testing.T) {
	h := newHarness()
	q := speech.New(h.speak, speech.WithCompletionTimeout(30*time.Millisecond))
	defer q.Close()

	// MarkComplete never arrives; the timeout resolves the item.
	f := q.Enqueue("stalled", nil)
	h.waitStart(t)
	gt.True(t, wait(t, f))
}

func TestQueueCancelAll(t *testing.T) {
	h := newHarness()
	q := speech.New(h.speak)
	defer q.Close()

	active := q.Enqueue("active", nil)
	h.waitStart(t)
	queued1 := q.Enqueue("queued one", nil)
	queued2 := q.Enqueue("queued two", nil)

	q.CancelAll()

	gt.False(t, wait(t, active))
	gt.False(t, wait(t, queued1))
	gt.False(t, wait(t, queued2))
	gt.Equal(t, q.Pending(), 0)

	// The queue keeps working after a flush.
	f := q.Enqueue("fresh start", nil)
	h.waitStart(t)
	q.MarkComplete()
	gt.True(t, wait(t, f))
}

func TestQueueEvents(t *testing.T) {
	var mu sync.Mutex
	var events []speech.Event

	h := newHarness()
	q := speech.New(h.speak, speech.WithEventFunc(func(e speech.Event, item *model.SpeechItem) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}))
	defer q.Close()

	f := q.Enqueue("hello", nil)
	h.waitStart(t)
	q.MarkComplete()
	gt.True(t, wait(t, f))

	// queue_empty follows the final completion.
	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(events)
		mu.Unlock()
		if n >= 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("queue events never arrived")
		case <-time.After(5 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	gt.Equal(t, events[0], speech.EventSpeechStart)
	gt.Equal(t, events[1], speech.EventSpeechComplete)
	gt.Equal(t, events[2], speech.EventQueueEmpty)
}
