package analysis

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/board"
	"github.com/park285/chess-arena/internal/obslog"
)

// ErrUnavailable is returned when no engine is configured.
var ErrUnavailable = errors.New("analysis unavailable")

// Searcher runs one engine search; Pool satisfies it.
type Searcher interface {
	Search(ctx context.Context, req SearchRequest) (SearchResult, error)
}

type Verdict string

const (
	Great      Verdict = "great"
	Good       Verdict = "good"
	Inaccuracy Verdict = "inaccuracy"
	Mistake    Verdict = "mistake"
	Blunder    Verdict = "blunder"
)

// VerdictFor grades the change in the mover's evaluation, in centipawns.
func VerdictFor(deltaCP int) Verdict {
	switch {
	case deltaCP > 50:
		return Great
	case deltaCP > 0:
		return Good
	case deltaCP > -50:
		return Inaccuracy
	case deltaCP > -200:
		return Mistake
	default:
		return Blunder
	}
}

type Evaluation struct {
	Move      string
	DeltaCP   int
	BestReply string
	Verdict   Verdict
}

// Advisor answers hint and move-evaluation requests. It never touches a
// live session: callers pass the FEN they read from a snapshot.
type Advisor struct {
	searcher Searcher
	limits   Limits
}

func NewAdvisor(s Searcher, depth int) *Advisor {
	if depth <= 0 {
		depth = 12
	}
	return &Advisor{searcher: s, limits: Limits{Depth: depth}}
}

func (a *Advisor) Available() bool { return a != nil && a.searcher != nil }

// BestMoves returns the engine's top lines for the side to move in fen.
func (a *Advisor) BestMoves(ctx context.Context, fen string) ([]Line, error) {
	if !a.Available() {
		return nil, ErrUnavailable
	}
	res, err := a.searcher.Search(ctx, SearchRequest{FEN: fen, Limits: a.limits})
	if err != nil {
		return nil, fmt.Errorf("best moves: %w", err)
	}
	return res.Lines, nil
}

// EvaluateMove scores m against the engine's view of fen. The delta is the
// mover's evaluation after m minus the evaluation before it.
func (a *Advisor) EvaluateMove(ctx context.Context, fen string, m board.Move) (Evaluation, error) {
	if !a.Available() {
		return Evaluation{}, ErrUnavailable
	}
	pos, err := board.ParseFEN(fen)
	if err != nil {
		return Evaluation{}, err
	}
	applied, err := pos.Play(m)
	if err != nil {
		return Evaluation{}, err
	}
	before, err := a.searcher.Search(ctx, SearchRequest{FEN: fen, Limits: a.limits})
	if err != nil {
		return Evaluation{}, fmt.Errorf("evaluate before: %w", err)
	}
	ev := Evaluation{Move: applied.Move.UCI()}
	var afterCP int
	switch pos.Status() {
	case board.Checkmate:
		afterCP = mateScore
	case board.Stalemate:
		afterCP = 0
	default:
		after, err := a.searcher.Search(ctx, SearchRequest{FEN: pos.FEN(), Limits: a.limits})
		if err != nil {
			return Evaluation{}, fmt.Errorf("evaluate after: %w", err)
		}
		afterCP = -bestEval(after)
		ev.BestReply = after.BestMove
	}
	ev.DeltaCP = afterCP - bestEval(before)
	ev.Verdict = VerdictFor(ev.DeltaCP)
	obslog.L().Debug("move_evaluated",
		zap.String("move", ev.Move),
		zap.Int("delta_cp", ev.DeltaCP),
		zap.String("verdict", string(ev.Verdict)),
	)
	return ev, nil
}

func bestEval(r SearchResult) int {
	if len(r.Lines) == 0 {
		return 0
	}
	return r.Lines[0].EvalCP
}
