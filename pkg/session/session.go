package session

import (
	"sync"
	"time"
)

// Role tags a conversation entry.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DefaultSystemPrompt seeds every new session.
const DefaultSystemPrompt = "You are a helpful assistant."

// Message represents a single conversation turn
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is one live conversation owned by a Store.
type Session struct {
	id        string
	createdAt time.Time
	now       func() time.Time

	mu         sync.Mutex
	lastAccess time.Time
	messages   []Message
}

func newSession(id, systemPrompt string, now func() time.Time) *Session {
	created := now()
	return &Session{
		id:         id,
		createdAt:  created,
		now:        now,
		lastAccess: created,
		messages: []Message{
			{Role: RoleSystem, Content: systemPrompt, Timestamp: created},
		},
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// CreatedAt returns the creation time.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// LastAccess returns the time of the most recent successful lookup.
func (s *Session) LastAccess() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccess
}

// Messages returns a copy of the conversation history in insertion order.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// MessageCount returns the number of entries in the history.
func (s *Session) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Append adds an entry to the end of the history and returns it.
func (s *Session) Append(role Role, content string) Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := Message{
		Role:      role,
		Content:   content,
		Timestamp: s.now(),
	}
	s.messages = append(s.messages, msg)
	return msg
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// last access never precedes creation, even if the clock steps back
	if now.Before(s.createdAt) {
		now = s.createdAt
	}
	s.lastAccess = now
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastAccess)
}
