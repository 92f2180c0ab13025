package models

import "time"

// Role of a chat message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry of a session transcript.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionStatus is the state of a session's stream.
type SessionStatus string

const (
	StatusIdle      SessionStatus = "idle"
	StatusStreaming SessionStatus = "streaming"
	StatusError     SessionStatus = "error"
)

// StreamEventType tags events published while a reply streams.
type StreamEventType string

const (
	EventDelta     StreamEventType = "delta"
	EventDone      StreamEventType = "done"
	EventCancelled StreamEventType = "cancelled"
	EventError     StreamEventType = "error"
)

// StreamEvent is a content delta or the terminal outcome of a stream.
type StreamEvent struct {
	Type    StreamEventType `json:"type"`
	Content string          `json:"content,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Terminal reports whether no more events follow.
func (e StreamEvent) Terminal() bool { return e.Type != EventDelta }

// Decision is the outcome of the quota policy.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionBlock Decision = "block"
)

// SessionSnapshot is the observable state of a chat session.
type SessionSnapshot struct {
	ID        string        `json:"id"`
	Identity  Identity      `json:"identity"`
	Status    SessionStatus `json:"status"`
	Error     string        `json:"error,omitempty"`
	Messages  []Message     `json:"messages"`
	Allowance Allowance     `json:"allowance"`
	Remaining int           `json:"remaining"`
	Decision  Decision      `json:"decision"`
}
