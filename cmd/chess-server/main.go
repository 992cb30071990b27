package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/account"
	"github.com/park285/chess-arena/internal/analysis"
	"github.com/park285/chess-arena/internal/archive"
	appcfg "github.com/park285/chess-arena/internal/config"
	"github.com/park285/chess-arena/internal/directory"
	"github.com/park285/chess-arena/internal/livestore"
	"github.com/park285/chess-arena/internal/matchmaking"
	"github.com/park285/chess-arena/internal/msgcat"
	"github.com/park285/chess-arena/internal/notify"
	"github.com/park285/chess-arena/internal/obslog"
	"github.com/park285/chess-arena/internal/server"
)

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()
	logger := obslog.L()

	cfg, err := appcfg.Load()
	if err != nil {
		logger.Fatal("config_error", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	messages, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		logger.Fatal("messages_error", zap.Error(err))
	}

	dirOpts := []directory.Option{directory.WithTick(cfg.ClockTick)}

	var store account.Store = account.NewMemoryStore()
	var games server.PGNSource
	if cfg.DatabaseURL != "" {
		pg, err := account.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("postgres_error", zap.Error(err))
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatal("postgres_migrate_error", zap.Error(err))
		}
		repo := archive.NewRepository(pg.DB())
		if err := repo.Migrate(ctx); err != nil {
			logger.Fatal("archive_migrate_error", zap.Error(err))
		}
		store = pg
		games = repo
		dirOpts = append(dirOpts, directory.WithArchiver(repo))
	} else {
		logger.Info("account_store_memory")
	}
	accounts := account.NewService(store)
	dirOpts = append(dirOpts, directory.WithRecorder(accounts))

	if cfg.RedisURL != "" {
		live, err := livestore.Open(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis_error", zap.Error(err))
		}
		defer live.Close()
		if n, err := live.Sweep(ctx); err != nil {
			logger.Warn("livestore_sweep_error", zap.Error(err))
		} else if n > 0 {
			logger.Info("livestore_swept", zap.Int("games", n))
		}
		dirOpts = append(dirOpts, directory.WithMirror(live))
	}

	if cfg.ResultWebhookURL != "" {
		var whOpts []notify.Option
		if cfg.ResultWebhookToken != "" {
			whOpts = append(whOpts, notify.WithHeader("Authorization", "Bearer "+cfg.ResultWebhookToken))
		}
		dirOpts = append(dirOpts, directory.WithNotifier(notify.NewWebhook(cfg.ResultWebhookURL, whOpts...)))
	}

	var advisor *analysis.Advisor
	if cfg.StockfishPath != "" {
		pool, err := analysis.NewPool(analysis.PoolConfig{
			BinaryPath: cfg.StockfishPath,
			Options:    analysis.Options{MultiPV: cfg.AnalysisMultiPV},
		})
		if err != nil {
			logger.Fatal("stockfish_error", zap.Error(err))
		}
		defer pool.Close()
		advisor = analysis.NewAdvisor(pool, cfg.AnalysisDepth)
	}

	dir := directory.New(dirOpts...)
	srv := server.New(server.Deps{
		Directory:     dir,
		Queue:         matchmaking.NewQueue(dir),
		Accounts:      accounts,
		Advisor:       advisor,
		Messages:      messages,
		Archive:       games,
		DefaultFormat: cfg.DefaultTimeFormat,
		OutboxSize:    cfg.OutboxSize,
	})

	var httpSrv *http.Server
	if cfg.HTTPAddr != "" {
		httpSrv = &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			logger.Info("http_listening", zap.String("addr", cfg.HTTPAddr))
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http_serve_error", zap.Error(err))
				stop()
			}
		}()
	}
	var ln net.Listener
	if cfg.TCPAddr != "" {
		ln, err = net.Listen("tcp", cfg.TCPAddr)
		if err != nil {
			logger.Fatal("tcp_listen_error", zap.Error(err))
		}
		go func() {
			if err := srv.ServeTCP(ctx, ln); err != nil {
				logger.Error("tcp_serve_error", zap.Error(err))
				stop()
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutdown_begin")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if ln != nil {
		_ = ln.Close()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server_shutdown_error", zap.Error(err))
	}
	if httpSrv != nil {
		_ = httpSrv.Shutdown(shutdownCtx)
	}
	logger.Info("shutdown_complete")
}
