package store

import (
	"context"
	"sync"

	"github.com/zhouzirui/duet/backend/internal/model/chat"
)

// MemoryStore keeps sessions and messages in process memory. The default
// backend, and the one the tests use.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]chat.Session
	messages map[string][]chat.Message
}

// NewMemoryStore bootstraps the in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]chat.Session),
		messages: make(map[string][]chat.Message),
	}
}

// CreateSession records a new session.
func (s *MemoryStore) CreateSession(_ context.Context, session chat.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
	s.messages[session.ID] = make([]chat.Message, 0, 16)
	return nil
}

// GetSession retrieves a session by identifier.
func (s *MemoryStore) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return session, nil
}

// AppendAndAdvance appends the message and mutates the session under one
// lock section, so readers never see the message without the turn change.
func (s *MemoryStore) AppendAndAdvance(_ context.Context, message chat.Message, next chat.TurnState, boundary bool) (chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[message.SessionID]
	if !ok {
		return chat.Message{}, ErrSessionNotFound
	}

	message.Seq = int64(len(s.messages[message.SessionID])) + 1
	s.messages[message.SessionID] = append(s.messages[message.SessionID], message)

	session.TurnState = next
	session.BoundaryFlag = boundary
	s.sessions[message.SessionID] = session
	return message, nil
}

// MessagesSince returns messages newer than the cursor, in creation order.
func (s *MemoryStore) MessagesSince(_ context.Context, sessionID string, since int64) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages, ok := s.messages[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	var newer []chat.Message
	for _, msg := range messages {
		if msg.Seq > since {
			newer = append(newer, msg)
		}
	}
	return newer, nil
}

// ResetBoundary clears the lockout and hands the turn back to partner A.
func (s *MemoryStore) ResetBoundary(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	session.BoundaryFlag = false
	session.TurnState = chat.AwaitingA
	s.sessions[sessionID] = session
	return nil
}
