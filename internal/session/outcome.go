package session

import (
	"time"

	"github.com/park285/chess-arena/internal/board"
)

type OutcomeKind string

const (
	Checkmate   OutcomeKind = "checkmate"
	Timeout     OutcomeKind = "timeout"
	Resignation OutcomeKind = "resignation"
	Draw        OutcomeKind = "draw"
	// Aborted is the error outcome: the session was torn down without a
	// chess result (server shutdown, lost king invariant).
	Aborted OutcomeKind = "aborted"
)

// Outcome is terminal. Winner is meaningful only for decisive kinds.
type Outcome struct {
	Kind   OutcomeKind
	Winner board.Color
	Reason string
}

func (o Outcome) Decisive() bool {
	switch o.Kind {
	case Checkmate, Timeout, Resignation:
		return true
	}
	return false
}

// Result is the wire token: "white", "black", "draw" or "aborted".
func (o Outcome) Result() string {
	switch {
	case o.Decisive():
		return o.Winner.String()
	case o.Kind == Draw:
		return "draw"
	}
	return "aborted"
}

// Loser is valid only for decisive outcomes.
func (o Outcome) Loser() board.Color { return o.Winner.Opponent() }

func win(kind OutcomeKind, winner board.Color, reason string) *Outcome {
	return &Outcome{Kind: kind, Winner: winner, Reason: reason}
}

// ClockState is a point-in-time reading of both clocks.
type ClockState struct {
	White time.Duration
	Black time.Duration
}

func (c ClockState) Of(color board.Color) time.Duration {
	if color == board.White {
		return c.White
	}
	return c.Black
}

// Clock holds per-color remaining time. It is only mutated under the owning
// session's lock.
type Clock struct {
	remaining [2]time.Duration
	increment time.Duration
}

func NewClock(f TimeFormat) Clock {
	return Clock{remaining: [2]time.Duration{f.Base, f.Base}, increment: f.Increment}
}

func (c *Clock) State() ClockState {
	return ClockState{White: c.remaining[board.White], Black: c.remaining[board.Black]}
}

// consume subtracts elapsed from color and reports whether its flag fell.
func (c *Clock) consume(color board.Color, elapsed time.Duration) bool {
	c.remaining[color] -= elapsed
	if c.remaining[color] <= 0 {
		c.remaining[color] = 0
		return true
	}
	return false
}

func (c *Clock) credit(color board.Color) { c.remaining[color] += c.increment }
