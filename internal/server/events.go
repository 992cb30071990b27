package server

import (
	"github.com/park285/chess-arena/internal/board"
	"github.com/park285/chess-arena/internal/protocol"
	"github.com/park285/chess-arena/internal/session"
)

func clockMs(c session.ClockState) protocol.ClockMs {
	return protocol.ClockMs{WhiteMs: c.White.Milliseconds(), BlackMs: c.Black.Milliseconds()}
}

// eventMessages maps one session event to the records a client sees.
func eventMessages(ev session.Event) []any {
	switch ev.Kind {
	case session.EventGameStart:
		return []any{protocol.GameStart{
			Type:        protocol.TypeGameStart,
			GameID:      ev.GameID,
			Color:       ev.Color.String(),
			TimeFormat:  ev.Format.String(),
			CurrentTurn: board.White.String(),
			Opponent:    ev.Opponent,
			FEN:         ev.FEN,
			Clock:       clockMs(ev.Clock),
		}}
	case session.EventMoveAccepted:
		ck := clockMs(ev.Clock)
		return []any{protocol.MoveAck{
			Type:   protocol.TypeMoveAck,
			Status: protocol.StatusOK,
			GameID: ev.GameID,
			FEN:    ev.FEN,
			Clock:  &ck,
		}}
	case session.EventOpponentMove, session.EventSpectatorMove:
		// Spectators get the same relay record as the opponent.
		return []any{protocol.MoveRelay{
			Type:   protocol.TypeOpponentMove,
			GameID: ev.GameID,
			From:   protocol.CoordOf(ev.Move.From),
			To:     protocol.CoordOf(ev.Move.To),
			Move:   ev.Move.UCI(),
			FEN:    ev.FEN,
			Clock:  clockMs(ev.Clock),
		}}
	case session.EventGameEnd:
		o := ev.Outcome
		end := protocol.GameEnd{
			Type:   protocol.TypeGameEnd,
			GameID: ev.GameID,
			Result: o.Result(),
			Reason: wireReason(o),
			FEN:    ev.FEN,
		}
		if o.Kind == session.Timeout {
			return []any{protocol.TimeOut{
				Type:   protocol.TypeTimeOut,
				GameID: ev.GameID,
				Loser:  o.Loser().String(),
				Winner: o.Winner.String(),
			}, end}
		}
		return []any{end}
	}
	return nil
}

func wireReason(o session.Outcome) string {
	switch o.Kind {
	case session.Checkmate:
		return "checkmate"
	case session.Timeout:
		return "timeout"
	case session.Resignation:
		if o.Reason == "disconnect" {
			return "disconnect"
		}
		return "resignation"
	}
	return o.Reason
}
