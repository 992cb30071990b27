package board

import (
	"fmt"
	"strings"
)

// Color identifies a side.
type Color uint8

const (
	White Color = iota
	Black
)

func (c Color) Opponent() Color {
	if c == White {
		return Black
	}
	return White
}

func (c Color) String() string {
	if c == White {
		return "white"
	}
	return "black"
}

// ParseColor accepts "white"/"w" and "black"/"b".
func ParseColor(s string) (Color, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "white", "w":
		return White, nil
	case "black", "b":
		return Black, nil
	}
	return White, fmt.Errorf("unknown color %q", s)
}

// Kind is a piece kind. The zero value marks an empty cell.
type Kind uint8

const (
	None Kind = iota
	Pawn
	Knight
	Bishop
	Rook
	Queen
	King
)

var kindNames = [...]string{"none", "pawn", "knight", "bishop", "rook", "queen", "king"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Piece occupies a cell. A Piece with Kind None is an empty cell.
type Piece struct {
	Kind     Kind
	Color    Color
	HasMoved bool
}

func (p Piece) Empty() bool { return p.Kind == None }

// Square is a (rank, file) pair; rank 0 is White's back rank, file 0 is the a-file.
type Square struct {
	Rank int
	File int
}

func Sq(rank, file int) Square { return Square{Rank: rank, File: file} }

func (s Square) Valid() bool {
	return s.Rank >= 0 && s.Rank < 8 && s.File >= 0 && s.File < 8
}

func (s Square) String() string {
	if !s.Valid() {
		return fmt.Sprintf("(%d,%d)", s.Rank, s.File)
	}
	return string([]byte{byte('a' + s.File), byte('1' + s.Rank)})
}

// ParseSquare parses algebraic coordinates such as "e4".
func ParseSquare(s string) (Square, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 2 {
		return Square{}, fmt.Errorf("bad square %q", s)
	}
	sq := Square{Rank: int(s[1] - '1'), File: int(s[0] - 'a')}
	if !sq.Valid() {
		return Square{}, fmt.Errorf("bad square %q", s)
	}
	return sq, nil
}

// Move is a from/to pair. Promotion is set once the move has been applied
// and the pawn was replaced.
type Move struct {
	From      Square
	To        Square
	Promotion Kind
}

// UCI renders the move in long algebraic form ("e2e4", "e7e8q").
func (m Move) UCI() string {
	s := m.From.String() + m.To.String()
	switch m.Promotion {
	case Queen:
		s += "q"
	case Rook:
		s += "r"
	case Bishop:
		s += "b"
	case Knight:
		s += "n"
	}
	return s
}

// ParseMove reads "e2e4" or "e2-e4". A trailing promotion letter is
// accepted and ignored; promotion always yields a queen.
func ParseMove(s string) (Move, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "")
	if len(s) == 5 && strings.ContainsRune("qrbn", rune(s[4])) {
		s = s[:4]
	}
	if len(s) != 4 {
		return Move{}, fmt.Errorf("bad move %q", s)
	}
	from, err := ParseSquare(s[:2])
	if err != nil {
		return Move{}, err
	}
	to, err := ParseSquare(s[2:])
	if err != nil {
		return Move{}, err
	}
	return Move{From: from, To: to}, nil
}

// Board is an 8x8 grid indexed [rank][file]. It is a value type; copying a
// Board yields an independent scratch board.
type Board struct {
	cells [8][8]Piece
}

// NewBoard returns the standard initial setup.
func NewBoard() Board {
	var b Board
	back := [8]Kind{Rook, Knight, Bishop, Queen, King, Bishop, Knight, Rook}
	for f := 0; f < 8; f++ {
		b.cells[0][f] = Piece{Kind: back[f], Color: White}
		b.cells[1][f] = Piece{Kind: Pawn, Color: White}
		b.cells[6][f] = Piece{Kind: Pawn, Color: Black}
		b.cells[7][f] = Piece{Kind: back[f], Color: Black}
	}
	return b
}

// At returns the piece on sq; ok is false for empty or off-board squares.
func (b *Board) At(sq Square) (Piece, bool) {
	if !sq.Valid() {
		return Piece{}, false
	}
	p := b.cells[sq.Rank][sq.File]
	return p, !p.Empty()
}

func (b *Board) Set(sq Square, p Piece) {
	if sq.Valid() {
		b.cells[sq.Rank][sq.File] = p
	}
}

func (b *Board) Clear(sq Square) { b.Set(sq, Piece{}) }

// KingSquare locates the king of color c.
func (b *Board) KingSquare(c Color) (Square, bool) {
	for r := 0; r < 8; r++ {
		for f := 0; f < 8; f++ {
			p := b.cells[r][f]
			if p.Kind == King && p.Color == c {
				return Sq(r, f), true
			}
		}
	}
	return Square{}, false
}

// Squares returns every occupied square holding a piece of color c.
func (b *Board) Squares(c Color) []Square {
	out := make([]Square, 0, 16)
	for r := 0; r < 8; r++ {
		for f := 0; f < 8; f++ {
			p := b.cells[r][f]
			if !p.Empty() && p.Color == c {
				out = append(out, Sq(r, f))
			}
		}
	}
	return out
}

// move transfers the piece on from to to without any validation.
func (b *Board) move(from, to Square) {
	p := b.cells[from.Rank][from.File]
	p.HasMoved = true
	b.cells[from.Rank][from.File] = Piece{}
	b.cells[to.Rank][to.File] = p
}
