package board

type delta struct{ dr, df int }

var (
	rookDirs   = []delta{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}
	bishopDirs = []delta{{1, 1}, {1, -1}, {-1, 1}, {-1, -1}}
	queenDirs  = append(append([]delta{}, rookDirs...), bishopDirs...)

	knightSteps = []delta{{2, 1}, {2, -1}, {-2, 1}, {-2, -1}, {1, 2}, {1, -2}, {-1, 2}, {-1, -2}}
	kingSteps   = queenDirs
)

func (s Square) add(d delta) Square { return Square{Rank: s.Rank + d.dr, File: s.File + d.df} }

// pawnDir is the rank direction a pawn of color c advances in.
func pawnDir(c Color) int {
	if c == White {
		return 1
	}
	return -1
}

func homeRank(c Color) int {
	if c == White {
		return 0
	}
	return 7
}

// PseudoLegal returns destinations for the piece on sq that respect movement
// geometry only. King castling candidates are included; whether castling is
// actually allowed is decided by LegalMoves.
func (b *Board) PseudoLegal(sq Square) []Square {
	p, ok := b.At(sq)
	if !ok {
		return nil
	}
	switch p.Kind {
	case Pawn:
		return b.pawnMoves(sq, p)
	case Knight:
		return b.steps(sq, p.Color, knightSteps)
	case Bishop:
		return b.slides(sq, p.Color, bishopDirs)
	case Rook:
		return b.slides(sq, p.Color, rookDirs)
	case Queen:
		return b.slides(sq, p.Color, queenDirs)
	case King:
		out := b.steps(sq, p.Color, kingSteps)
		return append(out, b.castleCandidates(sq, p)...)
	}
	return nil
}

func (b *Board) slides(from Square, c Color, dirs []delta) []Square {
	var out []Square
	for _, d := range dirs {
		for to := from.add(d); to.Valid(); to = to.add(d) {
			q, occupied := b.At(to)
			if !occupied {
				out = append(out, to)
				continue
			}
			if q.Color != c {
				out = append(out, to)
			}
			break
		}
	}
	return out
}

func (b *Board) steps(from Square, c Color, ds []delta) []Square {
	var out []Square
	for _, d := range ds {
		to := from.add(d)
		if !to.Valid() {
			continue
		}
		if q, occupied := b.At(to); occupied && q.Color == c {
			continue
		}
		out = append(out, to)
	}
	return out
}

// No en passant.
func (b *Board) pawnMoves(from Square, p Piece) []Square {
	var out []Square
	dir := pawnDir(p.Color)
	one := from.add(delta{dir, 0})
	if _, occupied := b.At(one); one.Valid() && !occupied {
		out = append(out, one)
		two := one.add(delta{dir, 0})
		if _, occupied := b.At(two); !p.HasMoved && two.Valid() && !occupied {
			out = append(out, two)
		}
	}
	for _, df := range []int{-1, 1} {
		to := from.add(delta{dir, df})
		if q, occupied := b.At(to); occupied && q.Color != p.Color {
			out = append(out, to)
		}
	}
	return out
}

func (b *Board) castleCandidates(from Square, k Piece) []Square {
	if k.HasMoved || from != Sq(homeRank(k.Color), 4) {
		return nil
	}
	var out []Square
	for _, rookFile := range []int{7, 0} {
		r, ok := b.At(Sq(from.Rank, rookFile))
		if !ok || r.Kind != Rook || r.Color != k.Color || r.HasMoved {
			continue
		}
		step := 1
		if rookFile < from.File {
			step = -1
		}
		out = append(out, Sq(from.Rank, from.File+2*step))
	}
	return out
}

// attacks reports whether the piece on from attacks target. Unlike
// PseudoLegal, pawns attack their diagonals whether or not they are occupied,
// pawn pushes are not attacks, and castling never attacks.
func (b *Board) attacks(from Square, p Piece, target Square) bool {
	dr, df := target.Rank-from.Rank, target.File-from.File
	switch p.Kind {
	case Pawn:
		return dr == pawnDir(p.Color) && (df == 1 || df == -1)
	case Knight:
		return (abs(dr) == 2 && abs(df) == 1) || (abs(dr) == 1 && abs(df) == 2)
	case King:
		return (dr != 0 || df != 0) && abs(dr) <= 1 && abs(df) <= 1
	case Bishop:
		return abs(dr) == abs(df) && dr != 0 && b.clearLine(from, target)
	case Rook:
		return (dr == 0) != (df == 0) && b.clearLine(from, target)
	case Queen:
		return (abs(dr) == abs(df) && dr != 0 || (dr == 0) != (df == 0)) && b.clearLine(from, target)
	}
	return false
}

// clearLine reports whether every square strictly between from and to along
// a rank, file or diagonal is empty.
func (b *Board) clearLine(from, to Square) bool {
	d := delta{sign(to.Rank - from.Rank), sign(to.File - from.File)}
	for s := from.add(d); s != to; s = s.add(d) {
		if _, occupied := b.At(s); occupied {
			return false
		}
	}
	return true
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func sign(n int) int {
	switch {
	case n > 0:
		return 1
	case n < 0:
		return -1
	}
	return 0
}
