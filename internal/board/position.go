package board

import (
	"fmt"
	"strconv"
	"strings"
)

const InitialFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// Position is a board plus the side to move and the move counters carried
// in the snapshot notation.
type Position struct {
	Board    Board
	Turn     Color
	Halfmove int
	Fullmove int
}

func NewPosition() Position {
	return Position{Board: NewBoard(), Turn: White, Fullmove: 1}
}

// Play applies m for the side to move, then advances the turn and counters.
func (p *Position) Play(m Move) (Applied, error) {
	a, err := p.Board.Apply(m, p.Turn)
	if err != nil {
		return Applied{}, err
	}
	if a.Piece.Kind == Pawn || !a.Captured.Empty() {
		p.Halfmove = 0
	} else {
		p.Halfmove++
	}
	if p.Turn == Black {
		p.Fullmove++
	}
	p.Turn = p.Turn.Opponent()
	return a, nil
}

// Status evaluates the side to move.
func (p *Position) Status() Status { return p.Board.StatusOf(p.Turn) }

var pieceLetters = map[Kind]byte{Pawn: 'p', Knight: 'n', Bishop: 'b', Rook: 'r', Queen: 'q', King: 'k'}

func letterOf(pc Piece) byte {
	l := pieceLetters[pc.Kind]
	if pc.Color == White {
		l -= 'a' - 'A'
	}
	return l
}

// CastlingRights derives the rights field from the hasMoved flags of kings
// and corner rooks.
func (b *Board) CastlingRights() string {
	var sb strings.Builder
	for _, c := range []Color{White, Black} {
		rank := homeRank(c)
		k, ok := b.At(Sq(rank, 4))
		if !ok || k.Kind != King || k.Color != c || k.HasMoved {
			continue
		}
		for _, side := range []struct {
			file   int
			letter byte
		}{{7, 'k'}, {0, 'q'}} {
			r, ok := b.At(Sq(rank, side.file))
			if !ok || r.Kind != Rook || r.Color != c || r.HasMoved {
				continue
			}
			l := side.letter
			if c == White {
				l -= 'a' - 'A'
			}
			sb.WriteByte(l)
		}
	}
	if sb.Len() == 0 {
		return "-"
	}
	return sb.String()
}

// FEN serializes the position. En passant is never modeled, so that field is
// always "-".
func (p Position) FEN() string {
	var sb strings.Builder
	for r := 7; r >= 0; r-- {
		run := 0
		for f := 0; f < 8; f++ {
			pc, ok := p.Board.At(Sq(r, f))
			if !ok {
				run++
				continue
			}
			if run > 0 {
				sb.WriteString(strconv.Itoa(run))
				run = 0
			}
			sb.WriteByte(letterOf(pc))
		}
		if run > 0 {
			sb.WriteString(strconv.Itoa(run))
		}
		if r > 0 {
			sb.WriteByte('/')
		}
	}
	turn := "w"
	if p.Turn == Black {
		turn = "b"
	}
	fmt.Fprintf(&sb, " %s %s - %d %d", turn, p.Board.CastlingRights(), p.Halfmove, p.Fullmove)
	return sb.String()
}

// ParseFEN is the inverse of FEN. hasMoved flags are reconstructed from the
// castling field and pawn ranks.
func ParseFEN(s string) (Position, error) {
	fields := strings.Fields(s)
	if len(fields) != 6 {
		return Position{}, fmt.Errorf("fen: want 6 fields, got %d", len(fields))
	}
	var pos Position
	rows := strings.Split(fields[0], "/")
	if len(rows) != 8 {
		return Position{}, fmt.Errorf("fen: want 8 ranks, got %d", len(rows))
	}
	for i, row := range rows {
		rank := 7 - i
		file := 0
		for j := 0; j < len(row); j++ {
			ch := row[j]
			if ch >= '1' && ch <= '8' {
				file += int(ch - '0')
				continue
			}
			kind, color, ok := parseLetter(ch)
			if !ok {
				return Position{}, fmt.Errorf("fen: bad piece %q", ch)
			}
			if file > 7 {
				return Position{}, fmt.Errorf("fen: rank %d overflows", rank+1)
			}
			pc := Piece{Kind: kind, Color: color, HasMoved: true}
			if kind == Pawn {
				pc.HasMoved = rank != homeRank(color)+pawnDir(color)
			}
			pos.Board.Set(Sq(rank, file), pc)
			file++
		}
		if file != 8 {
			return Position{}, fmt.Errorf("fen: rank %d has %d files", rank+1, file)
		}
	}

	switch fields[1] {
	case "w":
		pos.Turn = White
	case "b":
		pos.Turn = Black
	default:
		return Position{}, fmt.Errorf("fen: bad side to move %q", fields[1])
	}

	if fields[2] != "-" {
		for _, ch := range fields[2] {
			color, rookFile := White, 7
			switch ch {
			case 'K':
			case 'Q':
				rookFile = 0
			case 'k':
				color = Black
			case 'q':
				color, rookFile = Black, 0
			default:
				return Position{}, fmt.Errorf("fen: bad castling field %q", fields[2])
			}
			rank := homeRank(color)
			if err := unmoved(&pos.Board, Sq(rank, 4), King, color); err != nil {
				return Position{}, err
			}
			if err := unmoved(&pos.Board, Sq(rank, rookFile), Rook, color); err != nil {
				return Position{}, err
			}
		}
	}
	if fields[3] != "-" {
		return Position{}, fmt.Errorf("fen: en passant target %q not supported", fields[3])
	}

	var err error
	if pos.Halfmove, err = strconv.Atoi(fields[4]); err != nil || pos.Halfmove < 0 {
		return Position{}, fmt.Errorf("fen: bad halfmove clock %q", fields[4])
	}
	if pos.Fullmove, err = strconv.Atoi(fields[5]); err != nil || pos.Fullmove < 1 {
		return Position{}, fmt.Errorf("fen: bad fullmove number %q", fields[5])
	}
	return pos, nil
}

func unmoved(b *Board, sq Square, kind Kind, c Color) error {
	pc, ok := b.At(sq)
	if !ok || pc.Kind != kind || pc.Color != c {
		return fmt.Errorf("fen: castling right without %s %s on %s", c, kind, sq)
	}
	pc.HasMoved = false
	b.Set(sq, pc)
	return nil
}

func parseLetter(ch byte) (Kind, Color, bool) {
	color := Black
	if ch >= 'A' && ch <= 'Z' {
		color = White
		ch += 'a' - 'A'
	}
	for k, l := range pieceLetters {
		if l == ch {
			return k, color, true
		}
	}
	return None, White, false
}
