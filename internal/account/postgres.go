package account

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Schema is applied by Migrate. Friends stay a JSON array on the user row.
const Schema = `
CREATE TABLE IF NOT EXISTS arena_users (
	id          BIGSERIAL PRIMARY KEY,
	username    TEXT NOT NULL UNIQUE,
	password    TEXT NOT NULL,
	games       INTEGER NOT NULL DEFAULT 0,
	elo         INTEGER NOT NULL DEFAULT 1200,
	friends     JSONB NOT NULL DEFAULT '[]'::jsonb,
	as_white_w  INTEGER NOT NULL DEFAULT 0,
	as_white_d  INTEGER NOT NULL DEFAULT 0,
	as_white_l  INTEGER NOT NULL DEFAULT 0,
	as_black_w  INTEGER NOT NULL DEFAULT 0,
	as_black_d  INTEGER NOT NULL DEFAULT 0,
	as_black_l  INTEGER NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS arena_friend_requests (
	id       BIGSERIAL PRIMARY KEY,
	sender   TEXT NOT NULL,
	receiver TEXT NOT NULL,
	status   TEXT NOT NULL CHECK (status IN ('pending','accepted','rejected')),
	UNIQUE (sender, receiver)
);
CREATE TABLE IF NOT EXISTS arena_game_requests (
	id          BIGSERIAL PRIMARY KEY,
	sender      TEXT NOT NULL,
	receiver    TEXT NOT NULL,
	time_format TEXT NOT NULL,
	status      TEXT NOT NULL CHECK (status IN ('pending','accepted','rejected')),
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS arena_game_requests_pending
	ON arena_game_requests (sender, receiver) WHERE status = 'pending';
`

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// OpenPostgres opens a pooled connection and pings it.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewPostgresStore(db), nil
}

// NewPostgresStore wraps an already opened pool.
func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

// DB exposes the pool so the archive can share it.
func (p *PostgresStore) DB() *sql.DB { return p.db }

func (p *PostgresStore) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate accounts: %w", err)
	}
	return nil
}

func isUnique(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func (p *PostgresStore) CreateUser(ctx context.Context, username, passwordHash string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO arena_users (username, password) VALUES ($1, $2)`, username, passwordHash)
	if isUnique(err) {
		return ErrUsernameTaken
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

const userColumns = `username, password, games, elo, friends,
	as_white_w, as_white_d, as_white_l, as_black_w, as_black_d, as_black_l, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u       User
		friends []byte
	)
	err := row.Scan(&u.Username, &u.PasswordHash, &u.Games, &u.Elo, &friends,
		&u.AsWhite.Wins, &u.AsWhite.Draws, &u.AsWhite.Losses,
		&u.AsBlack.Wins, &u.AsBlack.Draws, &u.AsBlack.Losses, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select user: %w", err)
	}
	if err := json.Unmarshal(friends, &u.Friends); err != nil {
		return nil, fmt.Errorf("unmarshal friends: %w", err)
	}
	return &u, nil
}

func (p *PostgresStore) GetUser(ctx context.Context, username string) (*User, error) {
	return scanUser(p.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM arena_users WHERE username = $1`, username))
}

func (p *PostgresStore) UpdatePassword(ctx context.Context, username, passwordHash string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE arena_users SET password = $2 WHERE username = $1`, username, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// InsertFriendRequest re-opens a previously rejected request.
func (p *PostgresStore) InsertFriendRequest(ctx context.Context, sender, receiver string) error {
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO arena_friend_requests (sender, receiver, status) VALUES ($1, $2, 'pending')
		ON CONFLICT (sender, receiver) DO UPDATE SET status = 'pending'
		WHERE arena_friend_requests.status = 'rejected'`, sender, receiver)
	if err != nil {
		return fmt.Errorf("insert friend request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDuplicateRequest
	}
	return nil
}

func (p *PostgresStore) PendingFriendRequests(ctx context.Context, receiver string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT sender FROM arena_friend_requests
		WHERE receiver = $1 AND status = 'pending' ORDER BY sender`, receiver)
	if err != nil {
		return nil, fmt.Errorf("select friend requests: %w", err)
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ResolveFriendRequest(ctx context.Context, sender, receiver string, accept bool) error {
	return p.inTx(ctx, func(tx *sql.Tx) error {
		status := "rejected"
		if accept {
			status = "accepted"
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE arena_friend_requests SET status = $3
			WHERE sender = $1 AND receiver = $2 AND status = 'pending'`, sender, receiver, status)
		if err != nil {
			return fmt.Errorf("update friend request: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrRequestNotFound
		}
		if !accept {
			return nil
		}
		for _, pair := range [][2]string{{sender, receiver}, {receiver, sender}} {
			_, err := tx.ExecContext(ctx, `
				UPDATE arena_users SET friends = friends || to_jsonb($2::text)
				WHERE username = $1 AND NOT friends ? $2`, pair[0], pair[1])
			if err != nil {
				return fmt.Errorf("link friends: %w", err)
			}
		}
		return nil
	})
}

func (p *PostgresStore) InsertGameRequest(ctx context.Context, sender, receiver, timeFormat string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO arena_game_requests (sender, receiver, time_format, status)
		VALUES ($1, $2, $3, 'pending')`, sender, receiver, timeFormat)
	if isUnique(err) {
		return ErrDuplicateRequest
	}
	if err != nil {
		return fmt.Errorf("insert game request: %w", err)
	}
	return nil
}

func (p *PostgresStore) PendingGameRequests(ctx context.Context, receiver string) ([]GameRequest, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT sender, receiver, time_format, created_at FROM arena_game_requests
		WHERE receiver = $1 AND status = 'pending' ORDER BY created_at`, receiver)
	if err != nil {
		return nil, fmt.Errorf("select game requests: %w", err)
	}
	defer rows.Close()
	out := []GameRequest{}
	for rows.Next() {
		var g GameRequest
		if err := rows.Scan(&g.Sender, &g.Receiver, &g.TimeFormat, &g.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ResolveGameRequest(ctx context.Context, sender, receiver string, accept bool) (GameRequest, error) {
	status := "rejected"
	if accept {
		status = "accepted"
	}
	g := GameRequest{Sender: sender, Receiver: receiver}
	err := p.db.QueryRowContext(ctx, `
		UPDATE arena_game_requests SET status = $3
		WHERE sender = $1 AND receiver = $2 AND status = 'pending'
		RETURNING time_format, created_at`, sender, receiver, status).Scan(&g.TimeFormat, &g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return GameRequest{}, ErrRequestNotFound
	}
	if err != nil {
		return GameRequest{}, fmt.Errorf("resolve game request: %w", err)
	}
	return g, nil
}

func (p *PostgresStore) ApplyResult(ctx context.Context, white, black string, update func(w, b *User)) error {
	return p.inTx(ctx, func(tx *sql.Tx) error {
		// lock rows in a stable order
		names := []string{white, black}
		if black < white {
			names[0], names[1] = black, white
		}
		users := map[string]*User{}
		for _, n := range names {
			u, err := scanUser(tx.QueryRowContext(ctx,
				`SELECT `+userColumns+` FROM arena_users WHERE username = $1 FOR UPDATE`, n))
			if err != nil {
				return err
			}
			users[n] = u
		}
		w, b := users[white], users[black]
		update(w, b)
		for _, u := range []*User{w, b} {
			_, err := tx.ExecContext(ctx, `
				UPDATE arena_users SET games = $2, elo = $3,
					as_white_w = $4, as_white_d = $5, as_white_l = $6,
					as_black_w = $7, as_black_d = $8, as_black_l = $9
				WHERE username = $1`,
				u.Username, u.Games, u.Elo,
				u.AsWhite.Wins, u.AsWhite.Draws, u.AsWhite.Losses,
				u.AsBlack.Wins, u.AsBlack.Draws, u.AsBlack.Losses)
			if err != nil {
				return fmt.Errorf("update stats: %w", err)
			}
		}
		return nil
	})
}

func (p *PostgresStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
