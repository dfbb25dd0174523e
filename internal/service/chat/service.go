// Package chat owns the turn-taking state machine and message delivery for
// mediated sessions.
package chat

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/duet/backend/internal/model/chat"
	"github.com/zhouzirui/duet/backend/internal/model/safety"
	safetyservice "github.com/zhouzirui/duet/backend/internal/service/safety"
	"github.com/zhouzirui/duet/backend/internal/store"
)

var ErrInvalidMode = errors.New("mode must be couple or solo")

// Service enforces turn order per session and escalates to the boundary
// state on blocked content. All check-then-act sequences for one session
// run under that session's mutex.
type Service struct {
	store    store.Store
	resolver *safetyservice.Resolver
	notify   *notifier

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService wires the turn engine over a store and the safety resolver.
func NewService(st store.Store, resolver *safetyservice.Resolver) *Service {
	return &Service{
		store:    st,
		resolver: resolver,
		notify:   newNotifier(),
		locks:    make(map[string]*sync.Mutex),
	}
}

// SubmitResult is returned for an accepted (or warned) send.
type SubmitResult struct {
	Message        chat.Message
	Session        chat.Session
	Classification safety.Classification
}

// CreateSession provisions a session awaiting partner A's first message.
func (s *Service) CreateSession(ctx context.Context, mode chat.Mode) (chat.Session, error) {
	if mode != chat.ModeCouple && mode != chat.ModeSolo {
		return chat.Session{}, ErrInvalidMode
	}

	session := chat.Session{
		ID:        uuid.NewString(),
		Mode:      mode,
		TurnState: chat.AwaitingA,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return chat.Session{}, err
	}
	return session, nil
}

// GetSession retrieves the current session record.
func (s *Service) GetSession(ctx context.Context, sessionID string) (chat.Session, error) {
	return s.store.GetSession(ctx, sessionID)
}

// Transcript returns every message of the session in creation order.
func (s *Service) Transcript(ctx context.Context, sessionID string) ([]chat.Message, error) {
	return s.store.MessagesSince(ctx, sessionID, 0)
}

// SubmitMessage runs the full gate for one send attempt: boundary check,
// turn check, safety resolution, then persist-and-advance. The whole
// sequence holds the session lock, so two racing sends against the same
// turn resolve to exactly one acceptance.
func (s *Service) SubmitMessage(ctx context.Context, sessionID string, sender chat.Sender, content string) (SubmitResult, error) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return SubmitResult{}, err
	}

	if session.BoundaryLocked() {
		return SubmitResult{}, &BoundaryLockedError{Template: lockedTemplate()}
	}

	if !turnAllows(session, sender) {
		return SubmitResult{}, &TurnConflictError{Sender: sender, State: session.TurnState}
	}

	verdict := s.resolver.Resolve(ctx, content)

	message := chat.Message{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Sender:     sender,
		Content:    content,
		SafetyTags: verdict.Categories,
		RiskLevel:  string(verdict.RiskLevel),
		CreatedAt:  time.Now().UTC(),
	}

	if verdict.Action == safety.ActionBlock {
		// The message is still persisted, tagged, for audit. The
		// transition to boundary overrides whatever turn was in flight.
		if _, err := s.store.AppendAndAdvance(ctx, message, chat.Boundary, true); err != nil {
			return SubmitResult{}, err
		}
		s.notify.publish(sessionID)
		log.Printf("[turn] session=%s boundary engaged by %s (%v)", sessionID, sender, verdict.Categories)
		return SubmitResult{}, &BoundaryLockedError{Template: verdict.Boundary}
	}

	next := nextTurn(session, sender)
	stored, err := s.store.AppendAndAdvance(ctx, message, next, false)
	if err != nil {
		return SubmitResult{}, err
	}
	s.notify.publish(sessionID)

	session.TurnState = next
	return SubmitResult{Message: stored, Session: session, Classification: verdict}, nil
}

// RecordReflection stores the facilitator's message for a session awaiting
// it and hands the turn back to partner A.
func (s *Service) RecordReflection(ctx context.Context, sessionID, content string) (chat.Message, error) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return chat.Message{}, err
	}
	if session.BoundaryLocked() {
		return chat.Message{}, &BoundaryLockedError{Template: lockedTemplate()}
	}
	if session.TurnState != chat.AIReflect {
		return chat.Message{}, &TurnConflictError{Sender: chat.SenderAI, State: session.TurnState}
	}

	message := chat.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Sender:    chat.SenderAI,
		Content:   content,
		RiskLevel: string(safety.RiskLow),
		CreatedAt: time.Now().UTC(),
	}
	stored, err := s.store.AppendAndAdvance(ctx, message, chat.AwaitingA, false)
	if err != nil {
		return chat.Message{}, err
	}
	s.notify.publish(sessionID)
	return stored, nil
}

// turnAllows reports whether the sender owns the current turn. In solo
// mode partner B never does.
func turnAllows(session chat.Session, sender chat.Sender) bool {
	switch sender {
	case chat.SenderPartnerA:
		return session.TurnState == chat.AwaitingA
	case chat.SenderPartnerB:
		return session.Mode == chat.ModeCouple && session.TurnState == chat.AwaitingB
	default:
		return false
	}
}

// nextTurn advances the cycle: couple A→B→ai_reflect, solo A→ai_reflect.
func nextTurn(session chat.Session, sender chat.Sender) chat.TurnState {
	if session.Mode == chat.ModeSolo {
		return chat.AIReflect
	}
	if sender == chat.SenderPartnerA {
		return chat.AwaitingB
	}
	return chat.AIReflect
}

func (s *Service) sessionLock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[sessionID] = lock
	}
	return lock
}
