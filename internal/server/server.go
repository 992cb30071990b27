package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/park285/chess-arena/internal/account"
	"github.com/park285/chess-arena/internal/analysis"
	"github.com/park285/chess-arena/internal/directory"
	"github.com/park285/chess-arena/internal/matchmaking"
	"github.com/park285/chess-arena/internal/msgcat"
	"github.com/park285/chess-arena/internal/obslog"
	"github.com/park285/chess-arena/internal/protocol"
	"github.com/park285/chess-arena/internal/session"
)

var ErrServerClosed = errors.New("server closed")

// PGNSource looks up archived games; archive.Repository satisfies it.
type PGNSource interface {
	PGN(ctx context.Context, gameID string) (string, error)
}

type Deps struct {
	Directory     *directory.Directory
	Queue         *matchmaking.Queue
	Accounts      *account.Service
	Advisor       *analysis.Advisor
	Messages      *msgcat.Catalog
	Archive       PGNSource
	DefaultFormat session.TimeFormat
	OutboxSize    int
}

// Server accepts client connections over TCP (line-delimited JSON) and
// websocket, and runs one worker per connection.
type Server struct {
	deps Deps

	nextID atomic.Uint64
	wg     sync.WaitGroup

	mu     sync.Mutex
	conns  map[string]*conn
	online map[string]*conn
	closed bool
}

func New(d Deps) *Server {
	if d.Messages == nil {
		d.Messages = msgcat.MustDefault()
	}
	return &Server{
		deps:   d,
		conns:  make(map[string]*conn),
		online: make(map[string]*conn),
	}
}

// Handler serves /ws, /healthz and the archived PGN of finished games.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("GET /games/{id}/pgn", s.handlePGN)
	return mux
}

func (s *Server) handlePGN(w http.ResponseWriter, r *http.Request) {
	if s.deps.Archive == nil {
		http.Error(w, "archive disabled", http.StatusNotFound)
		return
	}
	id := r.PathValue("id")
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	pgn, err := s.deps.Archive.PGN(ctx, id)
	if err != nil {
		obslog.L().Warn("pgn_lookup_failed", zap.String("game_id", id), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if pgn == "" {
		http.Error(w, "game not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/x-chess-pgn")
	_, _ = w.Write([]byte(pgn))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	wc, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode:    websocket.CompressionNoContextTakeover,
		InsecureSkipVerify: true,
	})
	if err != nil {
		obslog.L().Debug("ws_accept_failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	s.Serve(r.Context(), protocol.NewWSCodec(wc), r.RemoteAddr)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	n := len(s.conns)
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"games":       s.deps.Directory.Len(),
		"connections": n,
	})
}

// ServeTCP accepts line-codec clients until ln is closed.
func (s *Server) ServeTCP(ctx context.Context, ln net.Listener) error {
	obslog.L().Info("tcp_listening", zap.String("addr", ln.Addr().String()))
	for {
		nc, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.Serve(ctx, protocol.NewLineCodec(nc), nc.RemoteAddr().String())
	}
}

// Serve runs the worker for one connection and returns when it closes.
func (s *Server) Serve(ctx context.Context, codec protocol.Codec, remote string) {
	c := newConn("c"+strconv.FormatUint(s.nextID.Add(1), 10), remote, codec, s.deps.OutboxSize)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = codec.Close("shutting down")
		return
	}
	s.conns[c.id] = c
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	c.log.Debug("conn_open")
	go c.writeLoop()
	if ws, ok := codec.(*protocol.WSCodec); ok {
		go c.pingLoop(ws)
	}
	defer s.cleanup(c)

	for {
		env, err := codec.Read(ctx)
		if errors.Is(err, protocol.ErrMalformed) {
			c.log.Warn("frame_malformed", zap.Error(err))
			continue
		}
		if err != nil {
			c.log.Debug("conn_closed", zap.Error(err))
			return
		}
		s.dispatch(ctx, c, env)
	}
}

func (s *Server) cleanup(c *conn) {
	s.deps.Queue.Cancel(c.id)
	s.deps.Directory.Disconnect(c.id)
	s.mu.Lock()
	delete(s.conns, c.id)
	if u := c.Username(); u != "" && s.online[u] == c {
		delete(s.online, u)
	}
	s.mu.Unlock()
	c.close()
	<-c.written
}

// login binds name to c unless another connection holds it.
func (s *Server) login(c *conn, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if other, ok := s.online[name]; ok && other != c {
		return false
	}
	s.online[name] = c
	c.setUser(name)
	return true
}

func (s *Server) onlineConn(name string) *conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online[name]
}

// Shutdown stops matchmaking, aborts live games so every participant gets
// game_end, then closes all connections and waits for their workers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.deps.Queue.Close()
	if err := s.deps.Directory.Shutdown(ctx); err != nil {
		obslog.L().Warn("directory_shutdown_failed", zap.Error(err))
	}

	s.mu.Lock()
	for _, c := range s.conns {
		c.close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) text(key string, data any) string {
	return s.deps.Messages.Text(key, data)
}
