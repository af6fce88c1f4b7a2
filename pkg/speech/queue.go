package speech

import (
	"context"
	"sync"
	"time"

	"github.com/onereach/deskshell/pkg/model"
	"github.com/onereach/deskshell/pkg/utils/logging"
)

// defaultCompletionTimeout forces completion when the audio subsystem
// never calls MarkComplete, so a lost signal cannot stall the queue.
const defaultCompletionTimeout = 30 * time.Second

// Event is an observable queue transition.
type Event string

const (
	EventSpeechStart    Event = "speech_start"
	EventSpeechComplete Event = "speech_complete"
	EventQueueEmpty     Event = "queue_empty"
	EventCancelled      Event = "cancelled"
)

// SpeakFunc dispatches audio for one item and returns once playback
// has started. Completion is signalled separately via MarkComplete.
type SpeakFunc func(ctx context.Context, text string, metadata map[string]string) error

// Future resolves when its item finishes playback or is cancelled.
type Future struct {
	ch chan bool
}

// Wait blocks until the item resolves. The boolean reports whether the
// item completed playback rather than being cancelled.
func (f *Future) Wait(ctx context.Context) (bool, error) {
	select {
	case completed := <-f.ch:
		return completed, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

type queuedItem struct {
	item   *model.SpeechItem
	future *Future
	seq    uint64
}

// Queue plays speech items one at a time in priority order. Within a
// priority, items play in arrival order. An urgent item preempts the
// active one and jumps to the head.
type Queue struct {
	mu      sync.Mutex
	speak   SpeakFunc
	items   []*queuedItem
	active  *queuedItem
	done    chan bool
	seq     uint64
	timeout time.Duration
	onEvent func(Event, *model.SpeechItem)
	wake    chan struct{}
	stop    chan struct{}
	stopped sync.Once
}

type Option func(*Queue)

// WithCompletionTimeout overrides the forced-completion deadline.
func WithCompletionTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// WithEventFunc registers an observer for queue transitions. The
// observer is called from the dispatch goroutine and must not block.
func WithEventFunc(fn func(Event, *model.SpeechItem)) Option {
	return func(q *Queue) {
		q.onEvent = fn
	}
}

// New creates a running queue over the speak dispatcher. Close stops
// it.
func New(speak SpeakFunc, opts ...Option) *Queue {
	q := &Queue{
		speak:   speak,
		timeout: defaultCompletionTimeout,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	go q.loop()
	return q
}

// EnqueueOptions shape one enqueued item.
type EnqueueOptions struct {
	Priority model.SpeechPriority
	Metadata map[string]string
}

// Enqueue inserts an item by priority and returns its future. An
// urgent item cancels the active one and plays next.
func (q *Queue) Enqueue(text string, opts *EnqueueOptions) *Future {
	if opts == nil {
		opts = &EnqueueOptions{Priority: model.SpeechNormal}
	}

	qi := &queuedItem{
		item: &model.SpeechItem{
			ID:        model.NewSpeechID(),
			Text:      text,
			Priority:  opts.Priority,
			Metadata:  opts.Metadata,
			CreatedAt: time.Now(),
		},
		future: &Future{ch: make(chan bool, 1)},
	}

	q.mu.Lock()
	q.seq++
	qi.seq = q.seq
	q.insertLocked(qi)
	preempt := opts.Priority == model.SpeechUrgent && q.active != nil
	q.mu.Unlock()

	if preempt {
		q.CancelCurrent()
	}
	q.kick()
	return qi.future
}

// insertLocked keeps items sorted by priority, FIFO within a priority.
func (q *Queue) insertLocked(qi *queuedItem) {
	pos := len(q.items)
	for i, other := range q.items {
		if qi.item.Priority > other.item.Priority {
			pos = i
			break
		}
	}
	q.items = append(q.items, nil)
	copy(q.items[pos+1:], q.items[pos:])
	q.items[pos] = qi
}

// MarkComplete signals that the active item finished playback. Called
// by the audio subsystem.
func (q *Queue) MarkComplete() {
	q.mu.Lock()
	done := q.done
	q.mu.Unlock()
	if done != nil {
		select {
		case done <- true:
		default:
		}
	}
}

// CancelCurrent stops the active item, resolving its future as not
// completed. Queued items are untouched.
func (q *Queue) CancelCurrent() {
	q.mu.Lock()
	done := q.done
	q.mu.Unlock()
	if done != nil {
		select {
		case done <- false:
		default:
		}
	}
}

// CancelAll drops every queued item and stops the active one. All
// futures resolve as not completed.
func (q *Queue) CancelAll() {
	q.mu.Lock()
	dropped := q.items
	q.items = nil
	q.mu.Unlock()

	for _, qi := range dropped {
		qi.future.ch <- false
		q.emit(EventCancelled, qi.item)
	}
	q.CancelCurrent()
}

// Pending returns the number of queued items, excluding the active
// one.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops the dispatch loop. Queued items are cancelled.
func (q *Queue) Close() {
	q.CancelAll()
	q.stopped.Do(func() { close(q.stop) })
}

func (q *Queue) kick() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) loop() {
	for {
		select {
		case <-q.stop:
			return
		case <-q.wake:
		}

		for {
			q.mu.Lock()
			if len(q.items) == 0 {
				q.mu.Unlock()
				break
			}
			qi := q.items[0]
			q.items = q.items[1:]
			q.active = qi
			q.done = make(chan bool, 1)
			done := q.done
			q.mu.Unlock()

			q.play(qi, done)

			q.mu.Lock()
			q.active = nil
			q.done = nil
			empty := len(q.items) == 0
			q.mu.Unlock()

			if empty {
				q.emit(EventQueueEmpty, nil)
				break
			}
		}
	}
}

// play dispatches one item and waits for completion, cancellation, the
// forced-completion timeout, or shutdown.
func (q *Queue) play(qi *queuedItem, done chan bool) {
	q.emit(EventSpeechStart, qi.item)

	if err := q.speak(context.Background(), qi.item.Text, qi.item.Metadata); err != nil {
		logging.Default().Warn("speech dispatch failed",
			"error", err, "item", qi.item.ID)
		qi.future.ch <- false
		q.emit(EventCancelled, qi.item)
		return
	}

	timer := time.NewTimer(q.timeout)
	defer timer.Stop()

	completed := true
	select {
	case completed = <-done:
	case <-timer.C:
		// Forced completion keeps the queue moving.
	case <-q.stop:
		completed = false
	}

	qi.future.ch <- completed
	if completed {
		q.emit(EventSpeechComplete, qi.item)
	} else {
		q.emit(EventCancelled, qi.item)
	}
}

func (q *Queue) emit(event Event, item *model.SpeechItem) {
	if q.onEvent != nil {
		q.onEvent(event, item)
	}
}
