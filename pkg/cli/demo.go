package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/onereach/deskshell/pkg/adapter"
	"github.com/onereach/deskshell/pkg/model"
)

// stubLLM stands in for the language model the host shell injects.
// For auction requests it scores candidates by lexical overlap between
// the utterance and each candidate's prose, which is enough to drive
// the repl harness; plain chat requests get a canned reply. A real
// deployment replaces this with a provider-backed adapter.LLM.
type stubLLM struct{}

func (s *stubLLM) Chat(ctx context.Context, req *adapter.ChatRequest) (*adapter.ChatResponse, error) {
	prompt := ""
	if len(req.Messages) > 0 {
		prompt = req.Messages[len(req.Messages)-1].Content
	}

	if req.JSONMode {
		return &adapter.ChatResponse{Content: s.score(prompt)}, nil
	}
	return &adapter.ChatResponse{
		Content: "I can help with the time, repeating myself, and undoing things. Try asking what time it is.",
	}, nil
}

type stubBid struct {
	ID         string  `json:"id"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// score reads the auction prompt back out and rates each candidate by
// word overlap with the utterance.
func (s *stubLLM) score(prompt string) string {
	utterance := ""
	if _, rest, ok := strings.Cut(prompt, "User utterance: "); ok {
		utterance, _, _ = strings.Cut(rest, "\n")
	}
	words := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(utterance)) {
		words[strings.Trim(w, ".,?!'\"")] = true
	}

	var bids []stubBid
	var id string
	score := func(text string) int {
		n := 0
		for _, w := range strings.Fields(strings.ToLower(text)) {
			if words[strings.Trim(w, ".,?!'\"")] {
				n++
			}
		}
		return n
	}

	for _, line := range strings.Split(prompt, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "- id: "):
			id = strings.TrimPrefix(trimmed, "- id: ")
		case strings.HasPrefix(trimmed, "description: "), strings.HasPrefix(trimmed, "hints: "):
			if id == "" {
				continue
			}
			if n := score(trimmed); n > 0 {
				conf := 0.4 + 0.2*float64(n)
				if conf > 0.95 {
					conf = 0.95
				}
				bids = append(bids, stubBid{
					ID:         id,
					Confidence: conf,
					Reasoning:  "utterance overlaps the agent's stated scope",
				})
				id = ""
			}
		}
	}

	raw, _ := json.Marshal(map[string][]stubBid{"bids": bids})
	return string(raw)
}

// clockAgent is the repl's informational demo agent.
type clockAgent struct{}

func (a *clockAgent) Descriptor() *model.AgentDescriptor {
	return &model.AgentDescriptor{
		ID:            "clock",
		Name:          "Clock",
		Description:   "Tells the current time and date.",
		Keywords:      []string{"time", "date", "day", "clock"},
		ExecutionType: model.ExecutionInformational,
	}
}

func (a *clockAgent) Execute(ctx context.Context, task *model.Task) (*model.Result, error) {
	now := time.Now()
	text := fmt.Sprintf("It is %s on %s.",
		now.Format("3:04 PM"), now.Format("Monday, January 2"))
	return &model.Result{Success: true, Message: text, Speak: text}, nil
}

func (a *clockAgent) GetBriefing(ctx context.Context) (string, error) {
	return "Today is " + time.Now().Format("Monday, January 2") + ".", nil
}

// assistantAgent answers anything conversational through the LLM
// collaborator.
type assistantAgent struct {
	llm adapter.LLM
}

func (a *assistantAgent) Descriptor() *model.AgentDescriptor {
	return &model.AgentDescriptor{
		ID:            "assistant",
		Name:          "Assistant",
		Description:   "Answers general questions and handles chat, help and conversation.",
		Keywords:      []string{"help", "question", "chat", "explain", "what", "how"},
		ExecutionType: model.ExecutionInformational,
	}
}

func (a *assistantAgent) Execute(ctx context.Context, task *model.Task) (*model.Result, error) {
	resp, err := a.llm.Chat(ctx, &adapter.ChatRequest{
		Profile: "chat",
		Messages: []adapter.ChatMessage{
			{Role: adapter.RoleSystem, Content: "You are a concise desktop assistant. Answer in one or two sentences."},
			{Role: adapter.RoleUser, Content: task.Utterance},
		},
		Temperature: 0.7,
		MaxTokens:   512,
		Feature:     "assistant-chat",
	})
	if err != nil {
		return nil, err
	}
	return &model.Result{Success: true, Message: resp.Content, Speak: resp.Content}, nil
}
