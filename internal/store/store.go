// ABOUTME: Store types and sentinel errors for chatbot-gateway persistence
// ABOUTME: Defines KnowledgeEntry, Turn and the status/source vocabulary

package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrTurnClaimed is returned when a conditional turn transition affects zero
// rows because another worker already moved the turn out of its expected state.
var ErrTurnClaimed = errors.New("turn already claimed")

// ErrTurnFrozen is returned when appending to a turn that is no longer pending.
var ErrTurnFrozen = errors.New("turn buffer is frozen")

// Turn status values. A turn starts pending, is claimed into processing by
// exactly one worker, and ends completed or failed.
const (
	TurnStatusPending    = "pending"
	TurnStatusProcessing = "processing"
	TurnStatusCompleted  = "completed"
	TurnStatusFailed     = "failed"
)

// Source tags describing which path produced a turn's answer.
const (
	SourceAgent         = "agent"
	SourceKnowledgeBase = "knowledge_base"
	SourceKBFallback    = "knowledge_base_fallback"
	SourceNoContext     = "no_context"
)

// KnowledgeEntry is a curated question/answer record. Entries are immutable
// once created from the turn pipeline's perspective; only the CRUD operations
// below mutate them.
type KnowledgeEntry struct {
	ID        int64
	Question  string
	Answer    string
	Category  string
	Source    string
	SourceURL string
	CreatedAt time.Time
}

// Turn is one grouped logical exchange for a session. The message buffer
// collects rapid-fire messages while the turn is pending and is frozen once
// processing begins.
type Turn struct {
	ID            int64
	SessionID     string
	UserMessage   string
	MessageBuffer []string
	BotResponse   *string
	Source        string
	Status        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastMessageAt time.Time
}
