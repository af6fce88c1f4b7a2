package model

import (
	"time"

	"github.com/google/uuid"
)

type SpeechID string

// NewSpeechID generates a new unique SpeechID
func NewSpeechID() SpeechID {
	return SpeechID(uuid.New().String())
}

// SpeechPriority orders queued speech items. Higher values play first;
// urgent additionally preempts the active item.
type SpeechPriority int

const (
	SpeechLow SpeechPriority = iota
	SpeechNormal
	SpeechHigh
	SpeechUrgent
)

func (p SpeechPriority) String() string {
	switch p {
	case SpeechLow:
		return "low"
	case SpeechNormal:
		return "normal"
	case SpeechHigh:
		return "high"
	case SpeechUrgent:
		return "urgent"
	default:
		return "unknown"
	}
}

// SpeechItem is one queued request to produce audio.
type SpeechItem struct {
	ID        SpeechID
	Text      string
	Priority  SpeechPriority
	Metadata  map[string]string
	CreatedAt time.Time
}
