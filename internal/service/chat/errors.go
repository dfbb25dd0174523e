package chat

import (
	"fmt"

	"github.com/zhouzirui/duet/backend/internal/model/chat"
	"github.com/zhouzirui/duet/backend/internal/model/safety"
	"github.com/zhouzirui/duet/backend/internal/store"
)

// ErrSessionNotFound mirrors the store sentinel for callers of this
// package.
var ErrSessionNotFound = store.ErrSessionNotFound

// TurnConflictError rejects a send from the wrong participant. Recoverable:
// the client may retry once it is actually their turn. The session is never
// mutated.
type TurnConflictError struct {
	Sender chat.Sender
	State  chat.TurnState
}

func (e *TurnConflictError) Error() string {
	return fmt.Sprintf("turn conflict: %s cannot send while session is %s", e.Sender, e.State)
}

// BoundaryLockedError rejects a send because the session is in the safety
// lockout state, or reports the send that triggered it. Fatal to the send,
// not to the session; only an external moderation action clears the lock.
type BoundaryLockedError struct {
	Template *safety.BoundaryTemplate
}

func (e *BoundaryLockedError) Error() string {
	return "session is boundary locked"
}

// lockedTemplate is shown when a send arrives at an already-locked session.
func lockedTemplate() *safety.BoundaryTemplate {
	return &safety.BoundaryTemplate{
		Message: "This conversation has been paused for safety. " +
			"It can only be resumed by a moderator. Support resources remain available to you.",
	}
}
