package exchange

import (
	"context"

	"github.com/onereach/deskshell/pkg/model"
)

// The undo and repeat capabilities are regular agents that win
// auctions like any other; the LLM routes "undo that" or "say that
// again" to them. They read the exchange's response memory.

// UndoAgent reverses the most recent undoable action.
type UndoAgent struct {
	memory *Memory
}

// NewUndoAgent creates the built-in undo agent over response memory.
func NewUndoAgent(memory *Memory) *UndoAgent {
	return &UndoAgent{memory: memory}
}

func (a *UndoAgent) Descriptor() *model.AgentDescriptor {
	return &model.AgentDescriptor{
		ID:            "undo",
		Name:          "Undo",
		Description:   "Reverses the most recent reversible action, such as a deleted event or a sent draft.",
		Keywords:      []string{"undo", "revert", "take that back"},
		ExecutionType: model.ExecutionSystem,
	}
}

func (a *UndoAgent) Execute(ctx context.Context, task *model.Task) (*model.Result, error) {
	return a.memory.Undo(), nil
}

// RepeatAgent replays the last response.
type RepeatAgent struct {
	memory *Memory
}

// NewRepeatAgent creates the built-in repeat agent over response
// memory.
func NewRepeatAgent(memory *Memory) *RepeatAgent {
	return &RepeatAgent{memory: memory}
}

func (a *RepeatAgent) Descriptor() *model.AgentDescriptor {
	return &model.AgentDescriptor{
		ID:            "repeat",
		Name:          "Repeat",
		Description:   "Repeats the assistant's last response for the user.",
		Keywords:      []string{"repeat", "say that again", "what did you say"},
		ExecutionType: model.ExecutionSystem,
	}
}

func (a *RepeatAgent) Execute(ctx context.Context, task *model.Task) (*model.Result, error) {
	last := a.memory.LastResponse()
	if last == nil {
		return &model.Result{Success: false, Message: "nothing to repeat"}, nil
	}

	text := last.Speak
	if text == "" {
		text = last.Message
	}
	return &model.Result{Success: true, Message: text, Speak: text}, nil
}
