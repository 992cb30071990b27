package board

import "errors"

// Reason classifies a rejected move.
type Reason string

const (
	ReasonNoPiece            Reason = "no_piece"
	ReasonNotYourTurn        Reason = "not_your_turn"
	ReasonIllegalDestination Reason = "illegal_destination"
	ReasonGameOver           Reason = "game_over"
)

var (
	ErrNoPiece            = &IllegalMoveError{Reason: ReasonNoPiece}
	ErrNotYourTurn        = &IllegalMoveError{Reason: ReasonNotYourTurn}
	ErrIllegalDestination = &IllegalMoveError{Reason: ReasonIllegalDestination}
	ErrGameOver           = &IllegalMoveError{Reason: ReasonGameOver}
)

// IllegalMoveError is returned for any move that was not applied.
type IllegalMoveError struct {
	Reason Reason
	Move   Move
}

func (e *IllegalMoveError) Error() string {
	if e.Move == (Move{}) {
		return "illegal move: " + string(e.Reason)
	}
	return "illegal move " + e.Move.From.String() + e.Move.To.String() + ": " + string(e.Reason)
}

// Is matches on Reason so that errors.Is(err, ErrNotYourTurn) works for
// errors carrying a specific move.
func (e *IllegalMoveError) Is(target error) bool {
	t, ok := target.(*IllegalMoveError)
	return ok && t.Reason == e.Reason
}

// ReasonOf extracts the rejection reason, or "" when err is not a move rejection.
func ReasonOf(err error) Reason {
	var e *IllegalMoveError
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

func reject(r Reason, m Move) error { return &IllegalMoveError{Reason: r, Move: m} }

// IsSquareAttacked reports whether any piece of color by attacks sq.
func (b *Board) IsSquareAttacked(sq Square, by Color) bool {
	for r := 0; r < 8; r++ {
		for f := 0; f < 8; f++ {
			p := b.cells[r][f]
			if p.Empty() || p.Color != by {
				continue
			}
			if b.attacks(Sq(r, f), p, sq) {
				return true
			}
		}
	}
	return false
}

// InCheck reports whether c's king is attacked. A board with no king for c
// counts as in check so that no move can be committed from it.
func (b *Board) InCheck(c Color) bool {
	k, ok := b.KingSquare(c)
	if !ok {
		return true
	}
	return b.IsSquareAttacked(k, c.Opponent())
}

func isCastle(p Piece, m Move) bool {
	return p.Kind == King && m.From.Rank == m.To.Rank && abs(m.To.File-m.From.File) == 2
}

// LegalMoves filters PseudoLegal by self-check exposure.
func (b *Board) LegalMoves(sq Square) []Square {
	p, ok := b.At(sq)
	if !ok {
		return nil
	}
	var out []Square
	for _, to := range b.PseudoLegal(sq) {
		m := Move{From: sq, To: to}
		if isCastle(p, m) {
			if b.canCastle(m) {
				out = append(out, to)
			}
			continue
		}
		scratch := *b
		scratch.commit(m)
		if !scratch.InCheck(p.Color) {
			out = append(out, to)
		}
	}
	return out
}

func (b *Board) canCastle(m Move) bool {
	k, ok := b.At(m.From)
	if !ok || k.Kind != King || k.HasMoved {
		return false
	}
	step := sign(m.To.File - m.From.File)
	rookSq := Sq(m.From.Rank, 7)
	if step < 0 {
		rookSq = Sq(m.From.Rank, 0)
	}
	r, ok := b.At(rookSq)
	if !ok || r.Kind != Rook || r.Color != k.Color || r.HasMoved {
		return false
	}
	for f := m.From.File + step; f != rookSq.File; f += step {
		if _, occupied := b.At(Sq(m.From.Rank, f)); occupied {
			return false
		}
	}
	enemy := k.Color.Opponent()
	for i := 0; i <= 2; i++ {
		if b.IsSquareAttacked(Sq(m.From.Rank, m.From.File+i*step), enemy) {
			return false
		}
	}
	return true
}

// commit applies m without validation, handling castling and auto-queen
// promotion. It returns the move as recorded.
func (b *Board) commit(m Move) Move {
	p := b.cells[m.From.Rank][m.From.File]
	if isCastle(p, m) {
		step := sign(m.To.File - m.From.File)
		rookFrom := Sq(m.From.Rank, 7)
		if step < 0 {
			rookFrom = Sq(m.From.Rank, 0)
		}
		b.move(m.From, m.To)
		b.move(rookFrom, Sq(m.From.Rank, m.To.File-step))
		m.Promotion = None
		return m
	}
	b.move(m.From, m.To)
	m.Promotion = None
	if p.Kind == Pawn && m.To.Rank == homeRank(p.Color.Opponent()) {
		b.cells[m.To.Rank][m.To.File] = Piece{Kind: Queen, Color: p.Color, HasMoved: true}
		m.Promotion = Queen
	}
	return m
}

// Applied describes a committed move.
type Applied struct {
	Move     Move
	Piece    Piece
	Captured Piece
	Castle   bool
}

// Apply validates m for the side to move and commits it in place. On any
// rejection the board is left untouched.
func (b *Board) Apply(m Move, turn Color) (Applied, error) {
	if !m.From.Valid() || !m.To.Valid() {
		return Applied{}, reject(ReasonIllegalDestination, m)
	}
	p, ok := b.At(m.From)
	if !ok {
		return Applied{}, reject(ReasonNoPiece, m)
	}
	if p.Color != turn {
		return Applied{}, reject(ReasonNotYourTurn, m)
	}
	legal := false
	for _, to := range b.LegalMoves(m.From) {
		if to == m.To {
			legal = true
			break
		}
	}
	if !legal {
		return Applied{}, reject(ReasonIllegalDestination, m)
	}
	captured, _ := b.At(m.To)
	castle := isCastle(p, m)
	next := *b
	rec := next.commit(m)
	*b = next
	return Applied{Move: rec, Piece: p, Captured: captured, Castle: castle}, nil
}

// HasLegalMove reports whether c has at least one legal move anywhere.
func (b *Board) HasLegalMove(c Color) bool {
	for _, sq := range b.Squares(c) {
		if len(b.LegalMoves(sq)) > 0 {
			return true
		}
	}
	return false
}

// Status is the state of the side to move.
type Status uint8

const (
	Normal Status = iota
	Check
	Checkmate
	Stalemate
)

func (s Status) String() string {
	switch s {
	case Check:
		return "check"
	case Checkmate:
		return "checkmate"
	case Stalemate:
		return "stalemate"
	}
	return "normal"
}

// StatusOf evaluates c as the side to move.
func (b *Board) StatusOf(c Color) Status {
	inCheck := b.InCheck(c)
	if b.HasLegalMove(c) {
		if inCheck {
			return Check
		}
		return Normal
	}
	if inCheck {
		return Checkmate
	}
	return Stalemate
}
