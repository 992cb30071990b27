package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/park285/chess-arena/internal/session"
)

type AppConfig struct {
	TCPAddr  string
	HTTPAddr string

	ClockTick         time.Duration
	DefaultTimeFormat session.TimeFormat
	OutboxSize        int

	RedisURL    string
	DatabaseURL string

	StockfishPath   string
	AnalysisDepth   int
	AnalysisMultiPV int

	ResultWebhookURL   string
	ResultWebhookToken string

	MessagesDir string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		TCPAddr:         ":5555",
		HTTPAddr:        ":8080",
		ClockTick:       100 * time.Millisecond,
		OutboxSize:      64,
		AnalysisDepth:   12,
		AnalysisMultiPV: 3,
	}

	// An explicitly empty address disables that listener.
	if v, ok := os.LookupEnv("ARENA_TCP_ADDR"); ok {
		cfg.TCPAddr = strings.TrimSpace(v)
	}
	if v, ok := os.LookupEnv("ARENA_HTTP_ADDR"); ok {
		cfg.HTTPAddr = strings.TrimSpace(v)
	}

	if n, ok := positiveInt("CLOCK_TICK_MS"); ok {
		cfg.ClockTick = time.Duration(n) * time.Millisecond
	}
	if n, ok := positiveInt("OUTBOX_SIZE"); ok {
		cfg.OutboxSize = n
	}

	tf := strings.TrimSpace(os.Getenv("DEFAULT_TIME_FORMAT"))
	if tf == "" {
		tf = "Rapid: 10 min"
	}
	f, err := session.ParseTimeFormat(tf)
	if err != nil {
		return nil, fmt.Errorf("DEFAULT_TIME_FORMAT: %w", err)
	}
	cfg.DefaultTimeFormat = f

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	cfg.StockfishPath = strings.TrimSpace(os.Getenv("STOCKFISH_PATH"))
	if n, ok := positiveInt("ANALYSIS_DEPTH"); ok {
		cfg.AnalysisDepth = n
	}
	if n, ok := positiveInt("ANALYSIS_MULTIPV"); ok {
		cfg.AnalysisMultiPV = n
	}

	cfg.ResultWebhookURL = strings.TrimSpace(os.Getenv("RESULT_WEBHOOK_URL"))
	cfg.ResultWebhookToken = strings.TrimSpace(os.Getenv("RESULT_WEBHOOK_TOKEN"))
	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))

	if cfg.TCPAddr == "" && cfg.HTTPAddr == "" {
		return nil, errors.New("ARENA_TCP_ADDR or ARENA_HTTP_ADDR is required")
	}
	return cfg, nil
}

func positiveInt(key string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
