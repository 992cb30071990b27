package analysis

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/park285/chess-arena/internal/board"
)

type fakeSearcher struct {
	byFEN map[string]SearchResult
	seen  []string
}

func (f *fakeSearcher) Search(_ context.Context, req SearchRequest) (SearchResult, error) {
	f.seen = append(f.seen, req.FEN)
	r, ok := f.byFEN[req.FEN]
	if !ok {
		return SearchResult{}, errors.New("unexpected fen " + req.FEN)
	}
	return r, nil
}

func TestParseInfo(t *testing.T) {
	idx, l, ok := parseInfo("info depth 12 seldepth 18 multipv 2 score cp -34 nodes 12000 pv e7e5 g1f3 b8c6")
	if !ok || idx != 2 {
		t.Fatalf("parseInfo = %d, %v", idx, ok)
	}
	want := Line{Move: "e7e5", EvalCP: -34, PV: []string{"e7e5", "g1f3", "b8c6"}}
	if diff := cmp.Diff(want, l); diff != "" {
		t.Fatalf("line (-want +got):\n%s", diff)
	}

	_, l, ok = parseInfo("info depth 5 score mate -3 pv h7h6")
	if !ok || l.Mate != -3 || l.EvalCP != -mateScore {
		t.Fatalf("mate line = %+v, %v", l, ok)
	}
	if _, _, ok := parseInfo("info string NNUE evaluation enabled"); ok {
		t.Fatal("info without pv should be skipped")
	}
}

func TestCommands(t *testing.T) {
	if got := positionCommand("", []string{"e2e4"}); got != "position startpos moves e2e4\n" {
		t.Fatalf("position = %q", got)
	}
	if got, err := goCommand(Limits{Depth: 12}); err != nil || got != "go depth 12\n" {
		t.Fatalf("go = %q, %v", got, err)
	}
	if _, err := goCommand(Limits{}); err == nil {
		t.Fatal("empty limits should fail")
	}
}

func TestVerdictFor(t *testing.T) {
	cases := []struct {
		delta int
		want  Verdict
	}{
		{120, Great}, {51, Great}, {50, Good}, {1, Good}, {0, Inaccuracy},
		{-49, Inaccuracy}, {-50, Mistake}, {-199, Mistake}, {-200, Blunder}, {-900, Blunder},
	}
	for _, c := range cases {
		if got := VerdictFor(c.delta); got != c.want {
			t.Errorf("VerdictFor(%d) = %s, want %s", c.delta, got, c.want)
		}
	}
}

func TestEvaluateMove(t *testing.T) {
	start := board.InitialFEN
	pos := board.NewPosition()
	m, _ := board.ParseMove("f2f3")
	if _, err := pos.Play(m); err != nil {
		t.Fatal(err)
	}
	fs := &fakeSearcher{byFEN: map[string]SearchResult{
		start:     {Lines: []Line{{Move: "e2e4", EvalCP: 30}}, BestMove: "e2e4"},
		pos.FEN(): {Lines: []Line{{Move: "e7e5", EvalCP: 60}}, BestMove: "e7e5"},
	}}
	a := NewAdvisor(fs, 8)

	ev, err := a.EvaluateMove(context.Background(), start, m)
	if err != nil {
		t.Fatalf("EvaluateMove: %v", err)
	}
	want := Evaluation{Move: "f2f3", DeltaCP: -90, BestReply: "e7e5", Verdict: Mistake}
	if diff := cmp.Diff(want, ev); diff != "" {
		t.Fatalf("evaluation (-want +got):\n%s", diff)
	}

	bad, _ := board.ParseMove("e2e5")
	if _, err := a.EvaluateMove(context.Background(), start, bad); !errors.Is(err, board.ErrIllegalDestination) {
		t.Fatalf("illegal move err = %v", err)
	}

	lines, err := a.BestMoves(context.Background(), start)
	if err != nil || len(lines) != 1 || lines[0].Move != "e2e4" {
		t.Fatalf("BestMoves = %+v, %v", lines, err)
	}
}

func TestUnavailable(t *testing.T) {
	var a *Advisor
	if _, err := a.BestMoves(context.Background(), board.InitialFEN); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("nil advisor = %v", err)
	}
	if _, err := NewAdvisor(nil, 0).EvaluateMove(context.Background(), board.InitialFEN, board.Move{}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("no searcher = %v", err)
	}
}
