package livestore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/obslog"
)

const (
	gameTTL = 24 * time.Hour
	liveKey = "arena:live"
)

// Status of a mirrored game.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusFinished Status = "FINISHED"
	StatusAborted  Status = "ABORTED"
)

// Game is the JSON document stored under arena:game:<id>.
type Game struct {
	ID         string    `json:"id"`
	White      string    `json:"white"`
	Black      string    `json:"black"`
	TimeFormat string    `json:"time_format"`
	FEN        string    `json:"fen"`
	Turn       string    `json:"turn"`
	MovesUCI   []string  `json:"moves_uci"`
	WhiteMs    int64     `json:"white_ms"`
	BlackMs    int64     `json:"black_ms"`
	Status     Status    `json:"status"`
	Result     string    `json:"result,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Spectators int       `json:"spectators"`
	StartedAt  time.Time `json:"started_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store mirrors live sessions into Redis. The in-process directory stays
// the source of truth; this copy only feeds operator tooling.
type Store struct {
	rdb *redis.Client
}

// Open connects using a redis:// or rediss:// URL and pings the server.
func Open(ctx context.Context, redisURL string) (*Store, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for live store")
	}
	opts, err := ParseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Store{rdb: rdb}, nil
}

func NewWithClient(rdb *redis.Client) *Store { return &Store{rdb: rdb} }

func (s *Store) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

// Save writes g and keeps the live index in step with its status.
func (s *Store) Save(ctx context.Context, g Game) error {
	if g.UpdatedAt.IsZero() {
		g.UpdatedAt = time.Now()
	}
	raw, err := json.Marshal(&g)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, gameKey(g.ID), raw, gameTTL)
	if g.Status == StatusActive {
		pipe.SAdd(ctx, liveKey, g.ID)
	} else {
		pipe.SRem(ctx, liveKey, g.ID)
	}
	pipe.Expire(ctx, liveKey, gameTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// Get returns nil, nil when the game is unknown or expired.
func (s *Store) Get(ctx context.Context, id string) (*Game, error) {
	raw, err := s.rdb.Get(ctx, gameKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var g Game
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// Live lists active games, most recently updated first. Index entries whose
// document expired are pruned.
func (s *Store) Live(ctx context.Context) ([]Game, error) {
	ids, err := s.rdb.SMembers(ctx, liveKey).Result()
	if err != nil {
		return nil, err
	}
	var out []Game
	for _, id := range ids {
		g, gerr := s.Get(ctx, id)
		if gerr != nil {
			obslog.L().Warn("livestore_get_error", zap.String("game_id", id), zap.Error(gerr))
			continue
		}
		if g == nil || g.Status != StatusActive {
			_ = s.rdb.SRem(ctx, liveKey, id).Err()
			continue
		}
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// Sweep removes every game still indexed as live. The server calls it at
// startup, before any session exists, so whatever it finds was left behind
// by a previous process.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	ids, err := s.rdb.SMembers(ctx, liveKey).Result()
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := s.Remove(ctx, id); err != nil {
			return 0, fmt.Errorf("sweep %s: %w", id, err)
		}
	}
	return len(ids), nil
}

func (s *Store) Remove(ctx context.Context, id string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, gameKey(id))
	pipe.SRem(ctx, liveKey, id)
	_, err := pipe.Exec(ctx)
	return err
}

func gameKey(id string) string { return "arena:game:" + strings.TrimSpace(id) }

// ParseRedisURL accepts redis://[:password@]host:port[/db].
func ParseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("bad redis db %q", p)
		}
		db = n
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Username: u.User.Username(), Password: pass, DB: db}, nil
}
