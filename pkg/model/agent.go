package model

import "context"

// ExecutionType classifies what an agent does when it wins an auction.
type ExecutionType string

const (
	ExecutionInformational ExecutionType = "informational"
	ExecutionAction        ExecutionType = "action"
	ExecutionSystem        ExecutionType = "system"
)

// Validate checks if the execution type is valid
func (e ExecutionType) Validate() error {
	switch e {
	case ExecutionInformational, ExecutionAction, ExecutionSystem:
		return nil
	default:
		return ErrAgentRejected
	}
}

// AgentDescriptor is the immutable record an agent publishes at load
// time. Keywords and capabilities are prose hints for the LLM scorer,
// never decision inputs.
type AgentDescriptor struct {
	ID                   string        `json:"id" yaml:"id"`
	Name                 string        `json:"name" yaml:"name"`
	Description          string        `json:"description" yaml:"description"`
	Categories           []string      `json:"categories,omitempty" yaml:"categories"`
	Keywords             []string      `json:"keywords,omitempty" yaml:"keywords"`
	Capabilities         []string      `json:"capabilities,omitempty" yaml:"capabilities"`
	Prompt               string        `json:"prompt,omitempty" yaml:"prompt"`
	ExecutionType        ExecutionType `json:"executionType" yaml:"executionType"`
	BidExcluded          bool          `json:"bidExcluded,omitempty" yaml:"bidExcluded"`
	Voice                string        `json:"voice,omitempty" yaml:"voice"`
	Acks                 []string      `json:"acks,omitempty" yaml:"acks"`
	DataSources          []string      `json:"dataSources,omitempty" yaml:"dataSources"`
	DefaultSpace         string        `json:"defaultSpace,omitempty" yaml:"defaultSpace"`
	EstimatedExecutionMs int64         `json:"estimatedExecutionMs,omitempty" yaml:"estimatedExecutionMs"`
}

// Agent is the callable side of a registered agent.
type Agent interface {
	Descriptor() *AgentDescriptor
	Execute(ctx context.Context, task *Task) (*Result, error)
}

// BriefingContributor is an optional hook an agent may implement to
// contribute to the daily brief.
type BriefingContributor interface {
	GetBriefing(ctx context.Context) (string, error)
}
