package chat

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role identifies who wrote a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Session is the bookkeeping record of one conversation
type Session struct {
	SessionID    string    `json:"session_id"`
	Name         string    `json:"name,omitempty"`
	Description  string    `json:"description,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	MessageCount int       `json:"message_count"`
}

// Message is one entry of a session's append-only log
type Message struct {
	MessageID   string    `json:"message_id"`
	SessionID   string    `json:"session_id"`
	Role        Role      `json:"role"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	ContextUsed []string  `json:"context_used,omitempty"`
}

// Store keeps sessions and their messages in memory. All operations are
// serialised by a single mutex so append order is observation order.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	messages map[string][]Message
	now      func() time.Time
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
		messages: make(map[string][]Message),
		now:      time.Now,
	}
}

// Create starts a new session. An empty name becomes "Chat Session N".
func (s *Store) Create(name, description string) Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if name == "" {
		name = fmt.Sprintf("Chat Session %d", len(s.sessions)+1)
	}

	now := s.now()
	session := &Session{
		SessionID:    uuid.NewString(),
		Name:         name,
		Description:  description,
		CreatedAt:    now,
		LastActivity: now,
	}
	s.sessions[session.SessionID] = session
	s.messages[session.SessionID] = []Message{}

	return *session
}

// Get returns a copy of the session
func (s *Store) Get(id string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *session, true
}

// Delete removes the session and its log. It reports false for unknown ids.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	delete(s.messages, id)
	return true
}

// AddMessage appends to the session's log and bumps its activity and count.
// Unknown ids leave the store untouched and report false.
func (s *Store) AddMessage(id string, role Role, content string, contextUsed []string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return Message{}, false
	}

	now := s.now()
	msg := Message{
		MessageID:   uuid.NewString(),
		SessionID:   id,
		Role:        role,
		Content:     content,
		Timestamp:   now,
		ContextUsed: append([]string(nil), contextUsed...),
	}
	s.messages[id] = append(s.messages[id], msg)
	session.LastActivity = now
	session.MessageCount++

	return msg, true
}

// Messages returns a copy of the session's log in insertion order.
// Unknown ids yield an empty slice.
func (s *Store) Messages(id string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.messages[id]
	out := make([]Message, len(log))
	copy(out, log)
	return out
}

// Count returns the number of live sessions
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
