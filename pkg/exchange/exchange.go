package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/onereach/deskshell/pkg/agent"
	"github.com/onereach/deskshell/pkg/model"
	"github.com/onereach/deskshell/pkg/speech"
	"github.com/onereach/deskshell/pkg/transcript"
	"github.com/onereach/deskshell/pkg/utils/logging"
)

const (
	defaultExecTimeout = 30 * time.Second
	// fallbackReply is spoken when no agent claims an utterance.
	fallbackReply = "I'm not sure how to help with that."
)

// Exchange drives one utterance through routing, execution and
// follow-up. Agent errors never escape it: every outcome is a
// normalized Result.
type Exchange struct {
	bidder     *Bidder
	registry   *agent.Registry
	stats      *agent.Stats
	transcript *transcript.Service
	memory     *Memory
	speech     *speech.Queue

	mu          sync.Mutex
	tasks       map[model.TaskID]*model.Task
	execTimeout time.Duration
}

type ExchangeOption func(*Exchange)

// WithExecTimeout overrides the per-execution deadline.
func WithExecTimeout(d time.Duration) ExchangeOption {
	return func(x *Exchange) {
		if d > 0 {
			x.execTimeout = d
		}
	}
}

// WithSpeech wires a speech queue; successful results with a Speak
// field are enqueued at normal priority.
func WithSpeech(q *speech.Queue) ExchangeOption {
	return func(x *Exchange) {
		x.speech = q
	}
}

// New assembles the exchange.
func New(bidder *Bidder, registry *agent.Registry, stats *agent.Stats, ts *transcript.Service, memory *Memory, opts ...ExchangeOption) *Exchange {
	x := &Exchange{
		bidder:      bidder,
		registry:    registry,
		stats:       stats,
		transcript:  ts,
		memory:      memory,
		tasks:       make(map[model.TaskID]*model.Task),
		execTimeout: defaultExecTimeout,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Memory exposes the response memory for the built-in agents.
func (x *Exchange) Memory() *Memory {
	return x.memory
}

// Task returns a live or finished task by id.
func (x *Exchange) Task(id model.TaskID) (*model.Task, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	t, ok := x.tasks[id]
	return t, ok
}

// HandleUtterance routes one user utterance: a parked follow-up
// resumes its awaiting task and goes straight back to its agent,
// anything else runs an auction on a fresh task. The returned Result
// is always non-nil.
func (x *Exchange) HandleUtterance(ctx context.Context, text string) (*model.Result, *model.Task) {
	logger := logging.From(ctx)
	x.transcript.Push(model.SpeakerUser, text, "")

	var task *model.Task
	var target model.Agent
	if pending := x.transcript.PickPending(text); pending != nil {
		if a, ok := x.registry.GetByID(pending.AgentID); ok {
			target = a
			task = x.resumeTask(pending, text)
			x.transcript.ClearPending(pending.AgentID)
			logger.Debug("routing follow-up to pending agent",
				"agent", pending.AgentID, "task", task.ID)
		}
	}

	if task == nil {
		task = model.NewTask(text)
		x.mu.Lock()
		x.tasks[task.ID] = task
		x.mu.Unlock()
	}

	if target == nil {
		x.setState(task, model.TaskBidding)
		winner, _, err := x.bidder.Auction(ctx, task)
		if err != nil {
			return x.noBidder(ctx, task, err), task
		}
		target = winner
		task.AgentID = winner.Descriptor().ID
		x.setState(task, model.TaskAssigned)
	}

	result := x.execute(ctx, target, task)
	x.conclude(ctx, task, result)
	return result, task
}

// resumeTask moves a parked task back into the assigned state, with
// the follow-up text as its utterance and the parked snapshot as its
// context. A pending slot whose task is gone or no longer awaiting
// input falls back to a fresh task.
func (x *Exchange) resumeTask(p *transcript.Pending, text string) *model.Task {
	x.mu.Lock()
	defer x.mu.Unlock()

	task, ok := x.tasks[p.TaskID]
	if !ok || task.State != model.TaskAwaitingInput {
		task = model.NewTask(text)
		x.tasks[task.ID] = task
	}
	task.Utterance = text
	task.Context = p.Context
	task.AgentID = p.AgentID
	task.State = model.TaskAssigned
	return task
}

// noBidder resolves an auction miss with the synthetic reply. A
// timeout and an empty bid set read the same to the user.
func (x *Exchange) noBidder(ctx context.Context, task *model.Task, err error) *model.Result {
	logger := logging.From(ctx)
	if errors.Is(err, model.ErrNoBidder) || errors.Is(err, model.ErrBidTimeout) {
		logger.Debug("no agent claimed the utterance", "task", task.ID, "error", err)
	} else {
		logger.Warn("auction failed", "task", task.ID, "error", err)
	}

	x.setState(task, model.TaskFailed)
	result := &model.Result{Success: false, Message: fallbackReply, Speak: fallbackReply}
	x.conclude(ctx, task, result)
	return result
}

// execute runs the agent under the execution deadline with the task in
// the executing state.
func (x *Exchange) execute(ctx context.Context, a model.Agent, task *model.Task) *model.Result {
	x.setState(task, model.TaskExecuting)
	started := time.Now()

	execCtx, cancel := context.WithTimeout(ctx, x.execTimeout)
	defer cancel()

	type outcome struct {
		result *model.Result
	}
	ch := make(chan outcome, 1)
	go func() {
		ch <- outcome{result: runAgent(execCtx, a, task)}
	}()

	var result *model.Result
	select {
	case out := <-ch:
		result = out.result
	case <-execCtx.Done():
		x.setState(task, model.TaskTimedOut)
		result = &model.Result{
			Success: false,
			Message: fmt.Sprintf("%s did not finish in time", a.Descriptor().Name),
		}
	}

	if x.stats != nil {
		x.stats.RecordExecution(ctx, task.AgentID, time.Since(started), result.Success)
	}
	return result
}

// runAgent is the central normalization boundary. A panicking or
// erroring agent becomes a failed Result with a message; nothing else
// crosses.
func runAgent(ctx context.Context, a model.Agent, task *model.Task) (result *model.Result) {
	defer func() {
		if r := recover(); r != nil {
			result = &model.Result{
				Success: false,
				Message: fmt.Sprintf("agent failed: %v", r),
			}
		}
	}()

	res, err := a.Execute(ctx, task)
	if err != nil {
		return &model.Result{Success: false, Message: err.Error()}
	}
	if res == nil {
		return &model.Result{Success: false, Message: "agent returned no result"}
	}
	return res
}

// conclude settles the task state from the result, records the agent
// turn, and feeds the response slots.
func (x *Exchange) conclude(ctx context.Context, task *model.Task, result *model.Result) {
	if result.NeedsInput != nil {
		agentID := result.NeedsInput.AgentID
		if agentID == "" {
			agentID = task.AgentID
		}
		x.transcript.SetPending(agentID, task.ID, result.NeedsInput.Prompt, result.NeedsInput.Context)
		x.setState(task, model.TaskAwaitingInput)
		if result.Message == "" {
			result.Message = result.NeedsInput.Prompt
		}
		if result.Speak == "" {
			result.Speak = result.NeedsInput.Prompt
		}
	} else if !task.State.Terminal() {
		if result.Success {
			x.setState(task, model.TaskComplete)
		} else {
			x.setState(task, model.TaskFailed)
		}
	}

	if task.AgentID != "" {
		reply := result.Message
		if reply == "" {
			reply = result.Speak
		}
		if reply != "" {
			x.transcript.Push(model.SpeakerAgent, reply, task.AgentID)
		}
	}

	if x.memory != nil && result.NeedsInput == nil {
		x.memory.Record(result)
	}

	if x.speech != nil && result.Speak != "" {
		x.speech.Enqueue(result.Speak, &speech.EnqueueOptions{
			Priority: model.SpeechNormal,
		})
	}
}

// Cancel resolves a non-terminal task as cancelled and clears its
// pending follow-up slot.
func (x *Exchange) Cancel(id model.TaskID) error {
	x.mu.Lock()
	task, ok := x.tasks[id]
	x.mu.Unlock()
	if !ok {
		return goerr.Wrap(model.ErrTaskNotFound, "cannot cancel", goerr.V("task", id))
	}

	if task.State.Terminal() {
		return nil
	}
	x.setState(task, model.TaskCancelled)
	if task.AgentID != "" {
		x.transcript.ClearPending(task.AgentID)
	}
	return nil
}

func (x *Exchange) setState(task *model.Task, state model.TaskState) {
	x.mu.Lock()
	task.State = state
	x.mu.Unlock()
}
