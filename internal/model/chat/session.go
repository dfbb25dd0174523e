package chat

import "time"

// Mode distinguishes two-partner sessions from a single participant
// reflecting with the facilitator alone.
type Mode string

const (
	ModeCouple Mode = "couple"
	ModeSolo   Mode = "solo"
)

// TurnState tracks whose turn it is to speak. Boundary is a sink state:
// only an external moderation action clears it.
type TurnState string

const (
	AwaitingA TurnState = "awaitingA"
	AwaitingB TurnState = "awaitingB"
	AIReflect TurnState = "ai_reflect"
	Boundary  TurnState = "boundary"
)

// Session captures one mediated conversation and its turn-taking state.
// TurnState and BoundaryFlag are the only fields mutated after creation.
type Session struct {
	ID           string    `json:"id"`
	Mode         Mode      `json:"mode"`
	TurnState    TurnState `json:"turnState"`
	BoundaryFlag bool      `json:"boundaryFlag"`
	CreatedAt    time.Time `json:"createdAt"`
}

// BoundaryLocked reports whether the session is in the safety lockout
// state. Both signals are checked so a sticky flag survives even if the
// turn state were reset out of band.
func (s Session) BoundaryLocked() bool {
	return s.BoundaryFlag || s.TurnState == Boundary
}
