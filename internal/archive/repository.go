package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/obslog"
)

const Schema = `
CREATE TABLE IF NOT EXISTS arena_games (
	game_id       TEXT PRIMARY KEY,
	white_name    TEXT NOT NULL,
	black_name    TEXT NOT NULL,
	time_format   TEXT NOT NULL,
	result        TEXT NOT NULL,
	result_method TEXT NOT NULL,
	moves_uci     JSONB NOT NULL,
	moves_san     JSONB NOT NULL,
	pgn           TEXT NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	ended_at      TIMESTAMPTZ NOT NULL,
	duration_ms   BIGINT NOT NULL
);
`

// Record is one finished game.
type Record struct {
	GameID     string
	White      string
	Black      string
	TimeFormat string
	Result     string // white | black | draw
	Method     string // checkmate, timeout, resignation, stalemate, agreement...
	MovesUCI   []string
	StartedAt  time.Time
	EndedAt    time.Time
}

type Repository struct {
	db *sql.DB
}

// NewRepository uses an existing pool; the account store shares it.
func NewRepository(db *sql.DB) *Repository { return &Repository{db: db} }

func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate archive: %w", err)
	}
	return nil
}

// SaveResult upserts rec with its SAN move list and PGN text.
func (r *Repository) SaveResult(ctx context.Context, rec Record) error {
	if r == nil || r.db == nil {
		return nil
	}
	san, err := ToSAN(rec.MovesUCI)
	if err != nil {
		// keep the partial SAN; the UCI list stays authoritative
		obslog.L().Warn("archive_san_replay", zap.String("game_id", rec.GameID), zap.Error(err))
	}
	pgn := BuildPGN(rec, san)
	movesUCIRaw, _ := json.Marshal(nonNil(rec.MovesUCI))
	movesSANRaw, _ := json.Marshal(nonNil(san))
	duration := rec.EndedAt.Sub(rec.StartedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	const q = `INSERT INTO arena_games (
		game_id, white_name, black_name, time_format,
		result, result_method, moves_uci, moves_san, pgn,
		started_at, ended_at, duration_ms
	) VALUES ($1,$2,$3,$4,$5,$6,$7::jsonb,$8::jsonb,$9,$10,$11,$12)
	ON CONFLICT (game_id) DO UPDATE SET
		result=EXCLUDED.result,
		result_method=EXCLUDED.result_method,
		moves_uci=EXCLUDED.moves_uci,
		moves_san=EXCLUDED.moves_san,
		pgn=EXCLUDED.pgn,
		ended_at=EXCLUDED.ended_at,
		duration_ms=EXCLUDED.duration_ms`

	_, err = r.db.ExecContext(ctx, q,
		rec.GameID, rec.White, rec.Black, rec.TimeFormat,
		rec.Result, rec.Method, string(movesUCIRaw), string(movesSANRaw), pgn,
		rec.StartedAt, rec.EndedAt, duration,
	)
	if err != nil {
		return fmt.Errorf("save game %s: %w", rec.GameID, err)
	}
	obslog.L().Info("archive_saved", zap.String("game_id", rec.GameID), zap.String("result", rec.Result), zap.Int("plies", len(rec.MovesUCI)))
	return nil
}

// PGN loads the stored PGN text of a game.
func (r *Repository) PGN(ctx context.Context, gameID string) (string, error) {
	var pgn string
	err := r.db.QueryRowContext(ctx, `SELECT pgn FROM arena_games WHERE game_id = $1`, gameID).Scan(&pgn)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("select pgn: %w", err)
	}
	return pgn, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
