package model

import (
	"time"

	"github.com/google/uuid"
)

type EntryID string

// NewEntryID generates a new unique EntryID
func NewEntryID() EntryID {
	return EntryID(uuid.New().String())
}

type SessionID string

// NewSessionID generates a new unique SessionID
func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

// Speaker identifies who produced a transcript entry.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerAgent Speaker = "agent"
)

// TranscriptEntry is one utterance in the rolling conversation buffer.
type TranscriptEntry struct {
	ID        EntryID
	Text      string
	Speaker   Speaker
	AgentID   string
	IsFinal   bool
	SessionID SessionID
	Timestamp time.Time
}
