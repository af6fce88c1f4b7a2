package adapter

import "context"

// ChatRole is the author of a chat message.
type ChatRole string

const (
	RoleSystem    ChatRole = "system"
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
)

// ChatMessage is one message of an LLM conversation.
type ChatMessage struct {
	Role    ChatRole
	Content string
}

// ChatRequest is a provider-neutral completion request. The provider
// behind the interface is opaque to this module.
type ChatRequest struct {
	Profile     string
	Messages    []ChatMessage
	Temperature float64
	MaxTokens   int
	// JSONMode asks the provider to emit a single JSON object.
	JSONMode bool
	// Feature tags the request for provider-side accounting.
	Feature string
}

// ChatResponse carries the raw completion content.
type ChatResponse struct {
	Content string
}

// LLM is the language model collaborator consumed by the bidding
// engine and by agents.
type LLM interface {
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}
