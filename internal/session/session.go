package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/board"
	"github.com/park285/chess-arena/internal/obslog"
)

var (
	ErrNotParticipant = errors.New("not a participant in this game")
	ErrResultDisputed = errors.New("reported result contradicts the game")
)

// claimGrace is how far a client clock may run ahead of ours before we
// accept its flag claim against the opponent.
const claimGrace = 500 * time.Millisecond

// Peer is a connection able to receive session events. Deliver must not
// block: implementations queue and return.
type Peer interface {
	ID() string
	Deliver(Event) error
}

type Player struct {
	Name string
	Peer Peer
}

type EventKind int

const (
	// EventMoveAccepted goes to the mover only.
	EventMoveAccepted EventKind = iota
	// EventOpponentMove goes to the side now on turn.
	EventOpponentMove
	EventSpectatorMove
	// EventGameEnd goes to both players and every spectator, exactly once.
	EventGameEnd
	// EventGameStart goes to each player once, with Color set to the
	// recipient's side.
	EventGameStart
)

type Event struct {
	Kind    EventKind
	GameID  string
	Move    board.Move
	Mover   board.Color
	FEN     string
	Clock   ClockState
	Outcome Outcome

	Color    board.Color
	Opponent string
	Format   TimeFormat
}

// Snapshot is a consistent view taken under the session lock.
type Snapshot struct {
	ID      string
	Format  TimeFormat
	White   string
	Black   string
	FEN     string
	Turn    board.Color
	Clock   ClockState
	Moves   []board.Move
	Outcome *Outcome
	Started time.Time
	Ended   time.Time
}

// Session owns one game. Every mutation (moves, clock ticks, resignations)
// runs under mu, so move application and flag fall are linearizable and
// event delivery order matches state order.
type Session struct {
	id      string
	format  TimeFormat
	players [2]Player
	started time.Time

	mu         sync.Mutex
	pos        board.Position
	history    []board.Move
	clock      Clock
	outcome    *Outcome
	ended      time.Time
	spectators map[string]Peer
	drawOffer  [2]bool

	done    chan struct{}
	endOnce sync.Once
	onEnd   func(*Session, Outcome)
}

type Option func(*Session)

// WithEndHook registers fn to run once, outside the session lock, after the
// session reaches an outcome.
func WithEndHook(fn func(*Session, Outcome)) Option {
	return func(s *Session) { s.onEnd = fn }
}

// WithPosition starts the game from pos instead of the initial position.
func WithPosition(pos board.Position) Option {
	return func(s *Session) { s.pos = pos }
}

func New(id string, format TimeFormat, white, black Player, opts ...Option) *Session {
	s := &Session{
		id:         id,
		format:     format,
		players:    [2]Player{board.White: white, board.Black: black},
		started:    time.Now(),
		pos:        board.NewPosition(),
		clock:      NewClock(format),
		spectators: make(map[string]Peer),
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Session) ID() string         { return s.id }
func (s *Session) Format() TimeFormat { return s.format }
func (s *Session) Player(c board.Color) Player { return s.players[c] }

// Done is closed when the session reaches an outcome.
func (s *Session) Done() <-chan struct{} { return s.done }

// ColorOf reports which side connID plays.
func (s *Session) ColorOf(connID string) (board.Color, bool) {
	for c, p := range s.players {
		if p.Peer != nil && p.Peer.ID() == connID {
			return board.Color(c), true
		}
	}
	return board.White, false
}

// Announce tells both players the game has begun.
func (s *Session) Announce() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcome != nil {
		return
	}
	fen, clock := s.pos.FEN(), s.clock.State()
	for _, c := range []board.Color{board.White, board.Black} {
		s.deliverPlayer(c, Event{
			Kind:     EventGameStart,
			GameID:   s.id,
			FEN:      fen,
			Clock:    clock,
			Color:    c,
			Opponent: s.players[c.Opponent()].Name,
			Format:   s.format,
		})
	}
}

// SubmitMove validates and applies m for the player on connID. On success the
// mover receives EventMoveAccepted and the opponent and spectators receive
// the move, all before the lock is released. A rejected move leaves the
// session untouched.
func (s *Session) SubmitMove(connID string, m board.Move) (Event, error) {
	s.mu.Lock()
	ev, ended, err := s.submitLocked(connID, m)
	s.mu.Unlock()
	if ended {
		s.fireEnd()
	}
	return ev, err
}

func (s *Session) submitLocked(connID string, m board.Move) (Event, bool, error) {
	if s.outcome != nil {
		return Event{}, false, board.ErrGameOver
	}
	color, ok := s.ColorOf(connID)
	if !ok {
		return Event{}, false, ErrNotParticipant
	}
	if color != s.pos.Turn {
		return Event{}, false, &board.IllegalMoveError{Reason: board.ReasonNotYourTurn, Move: m}
	}
	if o := s.kingMissing(); o != nil {
		s.endLocked(*o)
		return Event{GameID: s.id, Outcome: *o}, true, board.ErrGameOver
	}
	applied, err := s.pos.Play(m)
	if err != nil {
		return Event{}, false, err
	}
	s.history = append(s.history, applied.Move)
	s.clock.credit(color)
	s.drawOffer = [2]bool{}

	ev := Event{
		GameID: s.id,
		Move:   applied.Move,
		Mover:  color,
		FEN:    s.pos.FEN(),
		Clock:  s.clock.State(),
	}
	obslog.L().Debug("session_move",
		zap.String("game_id", s.id),
		zap.String("mover", color.String()),
		zap.String("uci", applied.Move.UCI()),
	)

	ack := ev
	ack.Kind = EventMoveAccepted
	s.deliverPlayer(color, ack)
	opp := ev
	opp.Kind = EventOpponentMove
	s.deliverPlayer(color.Opponent(), opp)
	spec := ev
	spec.Kind = EventSpectatorMove
	s.deliverSpectators(spec)

	o := s.kingMissing()
	if o == nil {
		switch s.pos.Status() {
		case board.Checkmate:
			o = win(Checkmate, color, "checkmate")
		case board.Stalemate:
			o = &Outcome{Kind: Draw, Reason: "stalemate"}
		}
	}
	if o != nil {
		s.endLocked(*o)
		ev.Outcome = *o
		return ev, true, nil
	}
	return ev, false, nil
}

// TickClock charges elapsed to the side on turn. It reports true exactly
// once: on the tick that ended the game by timeout.
func (s *Session) TickClock(elapsed time.Duration) bool {
	s.mu.Lock()
	if s.outcome != nil || elapsed <= 0 {
		s.mu.Unlock()
		return false
	}
	turn := s.pos.Turn
	flagged := s.clock.consume(turn, elapsed)
	if flagged {
		s.endLocked(*win(Timeout, turn.Opponent(), "time"))
	}
	s.mu.Unlock()
	if flagged {
		s.fireEnd()
	}
	return flagged
}

// Resign ends the game in the opponent's favor.
func (s *Session) Resign(connID string) (Outcome, error) {
	return s.conclude(connID, func(color board.Color) (*Outcome, error) {
		return win(Resignation, color.Opponent(), "resign"), nil
	})
}

// Forfeit is Resign triggered by a lost connection.
func (s *Session) Forfeit(connID string) (Outcome, error) {
	return s.conclude(connID, func(color board.Color) (*Outcome, error) {
		return win(Resignation, color.Opponent(), "disconnect"), nil
	})
}

// ReportResult handles a client-reported result. The server stays
// authoritative: a player may concede ("white"/"black" naming the opponent
// as winner), and "draw" takes effect once both players have reported it.
func (s *Session) ReportResult(connID, result string) (Outcome, error) {
	return s.conclude(connID, func(color board.Color) (*Outcome, error) {
		switch result {
		case "draw":
			s.drawOffer[color] = true
			if s.drawOffer[color.Opponent()] {
				return &Outcome{Kind: Draw, Reason: "agreement"}, nil
			}
			return nil, nil
		case "white", "black":
			winner, _ := board.ParseColor(result)
			if winner == color {
				return nil, ErrResultDisputed
			}
			return win(Resignation, winner, "concede"), nil
		}
		return nil, ErrResultDisputed
	})
}

// ClaimTimeout handles a client saying loser's flag fell. A player may
// always flag themselves; a claim against the opponent needs our clock to
// agree within claimGrace.
func (s *Session) ClaimTimeout(connID string, loser board.Color) (Outcome, error) {
	return s.conclude(connID, func(color board.Color) (*Outcome, error) {
		if loser != color && s.clock.remaining[loser] > claimGrace {
			return nil, ErrResultDisputed
		}
		return win(Timeout, loser.Opponent(), "time"), nil
	})
}

// Abort ends the game without a chess result.
func (s *Session) Abort(reason string) bool {
	s.mu.Lock()
	if s.outcome != nil {
		s.mu.Unlock()
		return false
	}
	s.endLocked(Outcome{Kind: Aborted, Reason: reason})
	s.mu.Unlock()
	s.fireEnd()
	return true
}

// conclude runs decide for a participant under the lock. A nil outcome with
// nil error means the request was recorded without ending the game.
func (s *Session) conclude(connID string, decide func(board.Color) (*Outcome, error)) (Outcome, error) {
	s.mu.Lock()
	if s.outcome != nil {
		s.mu.Unlock()
		return Outcome{}, board.ErrGameOver
	}
	color, ok := s.ColorOf(connID)
	if !ok {
		s.mu.Unlock()
		return Outcome{}, ErrNotParticipant
	}
	o, err := decide(color)
	if err != nil || o == nil {
		s.mu.Unlock()
		return Outcome{}, err
	}
	s.endLocked(*o)
	s.mu.Unlock()
	s.fireEnd()
	return *o, nil
}

// Spectate registers peer and returns the position it joins at. Because
// registration and the snapshot share the lock, the peer sees every later
// move exactly once.
func (s *Session) Spectate(p Peer) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcome != nil {
		return Snapshot{}, board.ErrGameOver
	}
	s.spectators[p.ID()] = p
	return s.snapshotLocked(), nil
}

func (s *Session) Unwatch(peerID string) {
	s.mu.Lock()
	delete(s.spectators, peerID)
	s.mu.Unlock()
}

func (s *Session) SpectatorCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.spectators)
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:      s.id,
		Format:  s.format,
		White:   s.players[board.White].Name,
		Black:   s.players[board.Black].Name,
		FEN:     s.pos.FEN(),
		Turn:    s.pos.Turn,
		Clock:   s.clock.State(),
		Moves:   append([]board.Move(nil), s.history...),
		Started: s.started,
		Ended:   s.ended,
	}
	if s.outcome != nil {
		o := *s.outcome
		snap.Outcome = &o
	}
	return snap
}

// RunClock ticks the clock every interval until the game ends or ctx is
// cancelled. Elapsed time is measured, not assumed, so a late tick is
// charged in full.
func (s *Session) RunClock(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case now := <-t.C:
			elapsed := now.Sub(last)
			last = now
			if s.TickClock(elapsed) {
				return
			}
		}
	}
}

// kingMissing reports the aborted outcome for a board that lost a king.
func (s *Session) kingMissing() *Outcome {
	for _, c := range []board.Color{board.White, board.Black} {
		if _, ok := s.pos.Board.KingSquare(c); !ok {
			obslog.L().Error("session_king_missing", zap.String("game_id", s.id), zap.String("color", c.String()))
			return &Outcome{Kind: Aborted, Reason: "king missing"}
		}
	}
	return nil
}

func (s *Session) endLocked(o Outcome) {
	s.outcome = &o
	s.ended = time.Now()
	end := Event{Kind: EventGameEnd, GameID: s.id, FEN: s.pos.FEN(), Clock: s.clock.State(), Outcome: o}
	s.deliverPlayer(board.White, end)
	s.deliverPlayer(board.Black, end)
	s.deliverSpectators(end)
	s.spectators = make(map[string]Peer)
	close(s.done)
	obslog.L().Info("session_end",
		zap.String("game_id", s.id),
		zap.String("kind", string(o.Kind)),
		zap.String("result", o.Result()),
		zap.String("reason", o.Reason),
		zap.Int("plies", len(s.history)),
	)
}

func (s *Session) fireEnd() {
	s.endOnce.Do(func() {
		if s.onEnd == nil {
			return
		}
		s.mu.Lock()
		o := *s.outcome
		s.mu.Unlock()
		s.onEnd(s, o)
	})
}

func (s *Session) deliverPlayer(c board.Color, ev Event) {
	p := s.players[c].Peer
	if p == nil {
		return
	}
	if err := p.Deliver(ev); err != nil {
		obslog.L().Warn("session_deliver_player", zap.String("game_id", s.id), zap.String("peer", p.ID()), zap.Error(err))
	}
}

// deliverSpectators drops spectators whose outbox refuses the event.
func (s *Session) deliverSpectators(ev Event) {
	for id, p := range s.spectators {
		if err := p.Deliver(ev); err != nil {
			delete(s.spectators, id)
			obslog.L().Info("session_spectator_dropped", zap.String("game_id", s.id), zap.String("peer", id), zap.Error(err))
		}
	}
}
