// Package store persists sessions and the append-only message log. The
// turn engine requires append-message-and-advance-turn to be one
// transactional unit, which both implementations honor.
package store

import (
	"context"
	"errors"

	"github.com/zhouzirui/duet/backend/internal/model/chat"
)

var ErrSessionNotFound = errors.New("session not found")

// Store is the persistence surface the turn engine depends on.
type Store interface {
	// CreateSession records a new session with its initial turn state.
	CreateSession(ctx context.Context, session chat.Session) error
	// GetSession returns the current session record.
	GetSession(ctx context.Context, sessionID string) (chat.Session, error)
	// AppendAndAdvance appends the message and moves the session to the
	// given turn state and boundary flag as one atomic unit. It assigns
	// the message's per-session sequence and returns the stored message.
	AppendAndAdvance(ctx context.Context, message chat.Message, next chat.TurnState, boundary bool) (chat.Message, error)
	// MessagesSince returns messages with sequence greater than since, in
	// creation order.
	MessagesSince(ctx context.Context, sessionID string, since int64) ([]chat.Message, error)
	// ResetBoundary clears the safety lockout. Reserved for external
	// moderation tooling; no public route calls it.
	ResetBoundary(ctx context.Context, sessionID string) error
}
