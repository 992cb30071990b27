package server

import (
	"testing"

	"github.com/park285/chess-arena/internal/board"
	"github.com/park285/chess-arena/internal/protocol"
	"github.com/park285/chess-arena/internal/session"
)

func TestMoveRelayTypes(t *testing.T) {
	m, err := board.ParseMove("e2e4")
	if err != nil {
		t.Fatal(err)
	}
	for _, kind := range []session.EventKind{session.EventOpponentMove, session.EventSpectatorMove} {
		msgs := eventMessages(session.Event{Kind: kind, GameID: "g1", Move: m, FEN: "x"})
		if len(msgs) != 1 {
			t.Fatalf("kind %d: %d records", kind, len(msgs))
		}
		relay, ok := msgs[0].(protocol.MoveRelay)
		if !ok || relay.Type != protocol.TypeOpponentMove || relay.Move != "e2e4" {
			t.Fatalf("kind %d: %+v", kind, msgs[0])
		}
		if relay.From != (protocol.Coord{1, 4}) || relay.To != (protocol.Coord{3, 4}) {
			t.Fatalf("kind %d coords: %v %v", kind, relay.From, relay.To)
		}
	}
}

func TestTimeoutEndSendsTimeOutFirst(t *testing.T) {
	ev := session.Event{
		Kind:    session.EventGameEnd,
		GameID:  "g1",
		Outcome: session.Outcome{Kind: session.Timeout, Winner: board.Black, Reason: "time"},
	}
	msgs := eventMessages(ev)
	if len(msgs) != 2 {
		t.Fatalf("records = %+v", msgs)
	}
	to, ok := msgs[0].(protocol.TimeOut)
	if !ok || to.Loser != "white" || to.Winner != "black" {
		t.Fatalf("time_out = %+v", msgs[0])
	}
	end, ok := msgs[1].(protocol.GameEnd)
	if !ok || end.Result != "black" || end.Reason != "timeout" {
		t.Fatalf("game_end = %+v", msgs[1])
	}
}
