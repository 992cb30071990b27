package archive

import (
	"fmt"
	"strings"
	"time"

	nchess "github.com/corentings/chess/v2"
)

// ToSAN replays UCI history from the initial position and returns each move
// in standard algebraic notation. Replay stops at the first move the
// reference rejects; the moves before it are returned with the error.
func ToSAN(movesUCI []string) ([]string, error) {
	g := nchess.NewGame()
	out := make([]string, 0, len(movesUCI))
	for i, uci := range movesUCI {
		pos := g.Position()
		mv, err := nchess.UCINotation{}.Decode(pos, uci)
		if err != nil {
			return out, fmt.Errorf("decode ply %d (%s): %w", i+1, uci, err)
		}
		san := nchess.AlgebraicNotation{}.Encode(pos, mv)
		if err := g.PushNotationMove(uci, nchess.UCINotation{}, nil); err != nil {
			return out, fmt.Errorf("replay ply %d (%s): %w", i+1, uci, err)
		}
		out = append(out, san)
	}
	return out, nil
}

func resultToPGN(result string) string {
	switch strings.ToLower(strings.TrimSpace(result)) {
	case "white":
		return "1-0"
	case "black":
		return "0-1"
	case "draw":
		return "1/2-1/2"
	default:
		return "*"
	}
}

// BuildPGN renders a complete PGN game with the seven-tag roster plus
// TimeControl and Termination.
func BuildPGN(r Record, movesSAN []string) string {
	var b strings.Builder
	date := r.EndedAt
	if date.IsZero() {
		date = time.Now()
	}
	pgnResult := resultToPGN(r.Result)
	tag := func(k, v string) { fmt.Fprintf(&b, "[%s \"%s\"]\n", k, sanitizePGN(v)) }
	tag("Event", "Arena rated game")
	tag("Site", "chess-arena")
	tag("Date", fmt.Sprintf("%04d.%02d.%02d", date.Year(), int(date.Month()), date.Day()))
	tag("Round", "-")
	tag("White", r.White)
	tag("Black", r.Black)
	tag("Result", pgnResult)
	if strings.TrimSpace(r.TimeFormat) != "" {
		tag("TimeControl", r.TimeFormat)
	}
	if strings.TrimSpace(r.Method) != "" {
		tag("Termination", strings.ToLower(r.Method))
	}
	b.WriteString("\n")

	for i := 0; i < len(movesSAN); i += 2 {
		fmt.Fprintf(&b, "%d. %s ", i/2+1, strings.TrimSpace(movesSAN[i]))
		if i+1 < len(movesSAN) {
			b.WriteString(strings.TrimSpace(movesSAN[i+1]))
			b.WriteString(" ")
		}
	}
	b.WriteString(pgnResult)
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
