package board

import (
	"errors"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func mustFEN(t *testing.T, fen string) Position {
	t.Helper()
	pos, err := ParseFEN(fen)
	if err != nil {
		t.Fatalf("ParseFEN(%q): %v", fen, err)
	}
	return pos
}

func squares(list ...string) []Square {
	out := make([]Square, 0, len(list))
	for _, s := range list {
		sq, err := ParseSquare(s)
		if err != nil {
			panic(err)
		}
		out = append(out, sq)
	}
	return sortSquares(out)
}

func sortSquares(s []Square) []Square {
	out := append([]Square(nil), s...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rank != out[j].Rank {
			return out[i].Rank < out[j].Rank
		}
		return out[i].File < out[j].File
	})
	return out
}

func TestPseudoLegal(t *testing.T) {
	tests := []struct {
		name string
		fen  string
		from string
		want []Square
	}{
		{
			name: "rook stops before own piece and on enemy",
			fen:  "4k3/8/8/8/p7/8/8/R3K3 w - - 0 1",
			from: "a1",
			want: squares("a2", "a3", "a4", "b1", "c1", "d1"),
		},
		{
			name: "knight in the corner",
			fen:  "4k3/8/8/8/8/8/2P5/N3K3 w - - 0 1",
			from: "a1",
			want: squares("b3"),
		},
		{
			name: "unmoved pawn single and double push",
			fen:  InitialFEN,
			from: "e2",
			want: squares("e3", "e4"),
		},
		{
			name: "pawn double push blocked on second square",
			fen:  "4k3/8/8/8/4n3/8/4P3/4K3 w - - 0 1",
			from: "e2",
			want: squares("e3"),
		},
		{
			name: "pawn captures only onto enemy pieces",
			fen:  "4k3/8/8/3p1P2/4P3/8/8/4K3 w - - 0 1",
			from: "e4",
			want: squares("d5", "e5"),
		},
		{
			name: "black pawn moves down the board",
			fen:  "4k3/3p4/8/8/8/8/8/4K3 b - - 0 1",
			from: "d7",
			want: squares("d6", "d5"),
		},
		{
			name: "king gets castling candidates",
			fen:  "r3k2r/8/8/8/8/8/8/R3K2R w KQkq - 0 1",
			from: "e1",
			want: squares("d1", "d2", "e2", "f2", "f1", "g1", "c1"),
		},
		{
			name: "empty square",
			fen:  InitialFEN,
			from: "e4",
			want: nil,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pos := mustFEN(t, tc.fen)
			from, _ := ParseSquare(tc.from)
			got := sortSquares(pos.Board.PseudoLegal(from))
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("PseudoLegal(%s) mismatch (-want +got):\n%s", tc.from, diff)
			}
		})
	}
}

func TestLegalMovesFilterSelfCheck(t *testing.T) {
	// e2 bishop is pinned against the king by the e8 rook.
	pos := mustFEN(t, "4r1k1/8/8/8/8/8/4B3/4K3 w - - 0 1")
	if got := pos.Board.LegalMoves(Sq(1, 4)); len(got) != 0 {
		t.Fatalf("pinned bishop should have no legal moves, got %v", got)
	}
	king := sortSquares(pos.Board.LegalMoves(Sq(0, 4)))
	if diff := cmp.Diff(squares("d1", "d2", "f1", "f2"), king); diff != "" {
		t.Fatalf("king moves mismatch (-want +got):\n%s", diff)
	}
}

func TestIsSquareAttacked(t *testing.T) {
	b := mustFEN(t, "4k3/8/8/8/8/8/3p4/4K3 w - - 0 1").Board
	if !b.IsSquareAttacked(Sq(0, 4), Black) {
		t.Fatalf("e1 should be attacked by the d2 pawn")
	}
	if !b.IsSquareAttacked(Sq(0, 2), Black) {
		t.Fatalf("empty c1 should be attacked by the d2 pawn")
	}
	if b.IsSquareAttacked(Sq(0, 3), Black) {
		t.Fatalf("pawn push square d1 must not count as attacked")
	}
	if !b.InCheck(White) {
		t.Fatalf("white should be in check")
	}
}

func TestCastlingKingside(t *testing.T) {
	pos := mustFEN(t, "r3k2r/pppppppp/8/8/8/8/PPPPPPPP/R3K2R w KQkq - 0 1")
	a, err := pos.Play(Move{From: Sq(0, 4), To: Sq(0, 6)})
	if err != nil {
		t.Fatalf("castle: %v", err)
	}
	if !a.Castle {
		t.Fatalf("expected castle flag")
	}
	k, ok := pos.Board.At(Sq(0, 6))
	if !ok || k.Kind != King || !k.HasMoved {
		t.Fatalf("king not on g1: %+v", k)
	}
	r, ok := pos.Board.At(Sq(0, 5))
	if !ok || r.Kind != Rook || !r.HasMoved {
		t.Fatalf("rook not on f1: %+v", r)
	}
	if _, ok := pos.Board.At(Sq(0, 7)); ok {
		t.Fatalf("h1 should be empty")
	}
	if _, ok := pos.Board.At(Sq(0, 4)); ok {
		t.Fatalf("e1 should be empty")
	}
	if got := pos.FEN(); got != "r3k2r/pppppppp/8/8/8/8/PPPPPPPP/R4RK1 b kq - 1 1" {
		t.Fatalf("unexpected fen after castling: %s", got)
	}
}

func TestCastlingFromInitialAfterClearingPath(t *testing.T) {
	pos := NewPosition()
	pos.Board.Clear(Sq(0, 5))
	pos.Board.Clear(Sq(0, 6))
	before := pos.Board
	if _, err := pos.Board.Apply(Move{From: Sq(0, 4), To: Sq(0, 6)}, White); err != nil {
		t.Fatalf("castle: %v", err)
	}
	want := before
	want.Clear(Sq(0, 4))
	want.Clear(Sq(0, 7))
	want.Set(Sq(0, 6), Piece{Kind: King, Color: White, HasMoved: true})
	want.Set(Sq(0, 5), Piece{Kind: Rook, Color: White, HasMoved: true})
	if diff := cmp.Diff(want, pos.Board, cmp.AllowUnexported(Board{})); diff != "" {
		t.Fatalf("board mismatch (-want +got):\n%s", diff)
	}
}

func TestCastlingRejected(t *testing.T) {
	tests := []struct {
		name string
		fen  string
		to   Square
	}{
		{"transit square attacked", "4kr2/8/8/8/8/8/8/4K2R w K - 0 1", Sq(0, 6)},
		{"destination attacked", "4k1r1/8/8/8/8/8/8/4K2R w K - 0 1", Sq(0, 6)},
		{"destination attacked by pawn diagonal", "4k3/8/8/8/8/8/7p/4K2R w K - 0 1", Sq(0, 6)},
		{"king in check", "4r1k1/8/8/8/8/8/8/4K2R w K - 0 1", Sq(0, 6)},
		{"path blocked", "4k3/8/8/8/8/8/8/4K1NR w K - 0 1", Sq(0, 6)},
		{"rook has moved", "4k3/8/8/8/8/8/8/4K2R w - - 0 1", Sq(0, 6)},
		{"queenside b-file occupied", "4k3/8/8/8/8/8/8/RN2K3 w Q - 0 1", Sq(0, 2)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pos := mustFEN(t, tc.fen)
			before := pos.Board
			_, err := pos.Board.Apply(Move{From: Sq(0, 4), To: tc.to}, White)
			if ReasonOf(err) != ReasonIllegalDestination {
				t.Fatalf("expected illegal_destination, got %v", err)
			}
			if diff := cmp.Diff(before, pos.Board, cmp.AllowUnexported(Board{})); diff != "" {
				t.Fatalf("board changed on rejected castle:\n%s", diff)
			}
		})
	}
}

func TestQueensideCastleAllowedWithAttackedB1(t *testing.T) {
	// b1 is attacked but the king never crosses it.
	pos := mustFEN(t, "1r2k3/8/8/8/8/8/8/R3K3 w Q - 0 1")
	if _, err := pos.Play(Move{From: Sq(0, 4), To: Sq(0, 2)}); err != nil {
		t.Fatalf("queenside castle: %v", err)
	}
	if r, _ := pos.Board.At(Sq(0, 3)); r.Kind != Rook {
		t.Fatalf("rook should land on d1, got %+v", r)
	}
}

func TestPromotionAutoQueens(t *testing.T) {
	for file := 0; file < 8; file++ {
		pos := mustFEN(t, "7k/PPPPPPPP/8/8/8/8/8/K7 w - - 0 1")
		if file == 7 {
			pos = mustFEN(t, "k7/PPPPPPPP/8/8/8/8/8/K7 w - - 0 1")
		}
		a, err := pos.Play(Move{From: Sq(6, file), To: Sq(7, file)})
		if err != nil {
			t.Fatalf("promote on file %d: %v", file, err)
		}
		q, ok := pos.Board.At(Sq(7, file))
		if !ok || q.Kind != Queen || q.Color != White {
			t.Fatalf("file %d: expected white queen, got %+v", file, q)
		}
		if a.Move.Promotion != Queen || a.Move.UCI()[4:] != "q" {
			t.Fatalf("recorded move should carry queen promotion: %+v", a.Move)
		}
	}
}

func TestApplyRejections(t *testing.T) {
	tests := []struct {
		name string
		move Move
		turn Color
		want Reason
	}{
		{"no piece", Move{From: Sq(3, 3), To: Sq(4, 3)}, White, ReasonNoPiece},
		{"wrong color", Move{From: Sq(6, 4), To: Sq(4, 4)}, White, ReasonNotYourTurn},
		{"illegal geometry", Move{From: Sq(1, 4), To: Sq(4, 4)}, White, ReasonIllegalDestination},
		{"off board", Move{From: Sq(1, 4), To: Sq(8, 4)}, White, ReasonIllegalDestination},
		{"negative coordinates", Move{From: Sq(-1, 0), To: Sq(0, 0)}, White, ReasonIllegalDestination},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := NewBoard()
			before := b
			_, err := b.Apply(tc.move, tc.turn)
			if got := ReasonOf(err); got != tc.want {
				t.Fatalf("reason = %q, want %q (err=%v)", got, tc.want, err)
			}
			if b != before {
				t.Fatalf("board mutated by rejected move")
			}
		})
	}
}

func TestIllegalMoveErrorIs(t *testing.T) {
	b := NewBoard()
	_, err := b.Apply(Move{From: Sq(6, 0), To: Sq(5, 0)}, White)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("errors.Is(%v, ErrNotYourTurn) = false", err)
	}
	if errors.Is(err, ErrNoPiece) {
		t.Fatalf("errors.Is(%v, ErrNoPiece) = true", err)
	}
}

func TestStatus(t *testing.T) {
	tests := []struct {
		name string
		fen  string
		want Status
	}{
		{"initial", InitialFEN, Normal},
		{"back rank mate", "6k1/5ppp/8/8/8/8/8/R5K1 b - - 0 1", Normal},
		{"mated", "R5k1/5ppp/8/8/8/8/8/6K1 b - - 1 1", Checkmate},
		{"check with escape", "R5k1/5pp1/8/8/8/8/8/6K1 b - - 1 1", Check},
		{"fools mate", "rnb1kbnr/pppp1ppp/8/4p3/6Pq/5P2/PPPPP2P/RNBQKBNR w KQkq - 1 3", Checkmate},
		{"stalemate", "7k/5Q2/6K1/8/8/8/8/8 b - - 0 1", Stalemate},
		{"checker can be captured", "4R1k1/5ppp/8/8/8/8/4r3/6K1 b - - 1 1", Check},
		{"rook can interpose", "R5k1/5ppp/8/8/8/8/8/3r2K1 b - - 1 1", Check},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pos := mustFEN(t, tc.fen)
			if got := pos.Status(); got != tc.want {
				t.Fatalf("Status() = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestCheckmateRemovedByDeviation(t *testing.T) {
	mated := mustFEN(t, "R5k1/5ppp/8/8/8/8/8/6K1 b - - 1 1")
	if mated.Status() != Checkmate {
		t.Fatalf("expected checkmate")
	}
	// Remove the attacking rook: no longer mate.
	mated.Board.Clear(Sq(7, 0))
	if got := mated.Status(); got == Checkmate {
		t.Fatalf("removing the attacker must clear checkmate, got %s", got)
	}
}
