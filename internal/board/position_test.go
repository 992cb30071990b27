package board

import "testing"

func TestInitialFEN(t *testing.T) {
	if got := NewPosition().FEN(); got != InitialFEN {
		t.Fatalf("NewPosition().FEN() = %q, want %q", got, InitialFEN)
	}
}

func TestFENRoundTrip(t *testing.T) {
	fens := []string{
		InitialFEN,
		"rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1",
		"r3k2r/pppppppp/8/8/8/8/PPPPPPPP/R4RK1 b kq - 1 1",
		"r3k2r/8/8/8/8/8/8/R3K2R w Kq - 4 12",
		"4k3/8/8/8/8/8/8/4K3 w - - 50 80",
		"Q6k/8/8/8/8/8/8/K7 b - - 0 41",
	}
	for _, fen := range fens {
		pos, err := ParseFEN(fen)
		if err != nil {
			t.Fatalf("ParseFEN(%q): %v", fen, err)
		}
		if got := pos.FEN(); got != fen {
			t.Errorf("round trip mismatch:\n got  %q\n want %q", got, fen)
		}
	}
}

func TestParseFENErrors(t *testing.T) {
	bad := []struct {
		name string
		fen  string
	}{
		{"too few fields", "8/8/8/8/8/8/8/8 w - -"},
		{"seven ranks", "8/8/8/8/8/8/8 w - - 0 1"},
		{"rank overflow", "9/8/8/8/8/8/8/8 w - - 0 1"},
		{"short rank", "7/8/8/8/8/8/8/8 w - - 0 1"},
		{"bad piece", "x7/8/8/8/8/8/8/8 w - - 0 1"},
		{"bad side", "8/8/8/8/8/8/8/8 x - - 0 1"},
		{"castling without rook", "4k3/8/8/8/8/8/8/4K3 w K - 0 1"},
		{"en passant target", InitialFEN[:len(InitialFEN)-len("- 0 1")] + "e3 0 1"},
		{"negative halfmove", "4k3/8/8/8/8/8/8/4K3 w - - -1 1"},
		{"zero fullmove", "4k3/8/8/8/8/8/8/4K3 w - - 0 0"},
	}
	for _, tc := range bad {
		if _, err := ParseFEN(tc.fen); err == nil {
			t.Errorf("%s: expected error for %q", tc.name, tc.fen)
		}
	}
}

func TestPlayCounters(t *testing.T) {
	pos := NewPosition()
	steps := []struct {
		move               Move
		halfmove, fullmove int
	}{
		{Move{From: Sq(0, 6), To: Sq(2, 5)}, 1, 1},
		{Move{From: Sq(7, 6), To: Sq(5, 5)}, 2, 2},
		{Move{From: Sq(1, 4), To: Sq(3, 4)}, 0, 2},
	}
	for i, s := range steps {
		if _, err := pos.Play(s.move); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if pos.Halfmove != s.halfmove || pos.Fullmove != s.fullmove {
			t.Fatalf("step %d: counters = %d/%d, want %d/%d", i, pos.Halfmove, pos.Fullmove, s.halfmove, s.fullmove)
		}
	}
	if pos.Turn != Black {
		t.Fatalf("turn = %s, want black", pos.Turn)
	}
}

func TestSquareParsing(t *testing.T) {
	sq, err := ParseSquare("e4")
	if err != nil || sq != Sq(3, 4) {
		t.Fatalf("ParseSquare(e4) = %v, %v", sq, err)
	}
	if sq.String() != "e4" {
		t.Fatalf("String() = %q", sq.String())
	}
	for _, s := range []string{"", "e9", "i1", "e44"} {
		if _, err := ParseSquare(s); err == nil {
			t.Errorf("ParseSquare(%q) should fail", s)
		}
	}
}
