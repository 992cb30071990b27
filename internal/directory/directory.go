package directory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/archive"
	"github.com/park285/chess-arena/internal/board"
	"github.com/park285/chess-arena/internal/livestore"
	"github.com/park285/chess-arena/internal/matchmaking"
	"github.com/park285/chess-arena/internal/notify"
	"github.com/park285/chess-arena/internal/obslog"
	"github.com/park285/chess-arena/internal/session"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrAlreadyPlaying  = errors.New("player already in a game")
	ErrClosed          = errors.New("directory closed")
)

// Mirror receives a copy of every live game; livestore.Store satisfies it.
type Mirror interface {
	Save(ctx context.Context, g livestore.Game) error
}

// Recorder updates player statistics; account.Service satisfies it.
type Recorder interface {
	RecordResult(ctx context.Context, white, black, result string) error
}

// Archiver stores finished games; archive.Repository satisfies it.
type Archiver interface {
	SaveResult(ctx context.Context, rec archive.Record) error
}

type Notifier interface {
	Notify(ctx context.Context, r notify.Result) error
}

type Option func(*Directory)

func WithMirror(m Mirror) Option     { return func(d *Directory) { d.mirror = m } }
func WithRecorder(r Recorder) Option { return func(d *Directory) { d.recorder = r } }
func WithArchiver(a Archiver) Option { return func(d *Directory) { d.archiver = a } }
func WithNotifier(n Notifier) Option { return func(d *Directory) { d.notifier = n } }

// WithTick sets the clock task interval.
func WithTick(d time.Duration) Option {
	return func(dir *Directory) {
		if d > 0 {
			dir.tick = d
		}
	}
}

// Directory owns every live session. It maps principal connections to
// their game and spectators to the games they watch, starts one clock task
// per session and runs result bookkeeping when a session ends.
type Directory struct {
	tick     time.Duration
	mirror   Mirror
	recorder Recorder
	archiver Archiver
	notifier Notifier

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	games    map[string]*session.Session
	byConn   map[string]string
	watching map[string]map[string]struct{}
	closed   bool

	pubMu      sync.RWMutex
	pubClosed  bool
	mirrorCh   chan livestore.Game
	mirrorDone chan struct{}
}

func New(opts ...Option) *Directory {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Directory{
		tick:     100 * time.Millisecond,
		ctx:      ctx,
		cancel:   cancel,
		games:    make(map[string]*session.Session),
		byConn:   make(map[string]string),
		watching: make(map[string]map[string]struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	if d.mirror != nil {
		d.mirrorCh = make(chan livestore.Game, 256)
		d.mirrorDone = make(chan struct{})
		go d.runMirror()
	}
	return d
}

var _ matchmaking.Starter = (*Directory)(nil)

// Start registers a session for p, announces it to both players and starts
// its clock. It runs under the matchmaking lock and must not block.
func (d *Directory) Start(p matchmaking.Pairing) (*session.Session, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrClosed
	}
	for _, pl := range []session.Player{p.White, p.Black} {
		if _, busy := d.byConn[pl.Peer.ID()]; busy {
			d.mu.Unlock()
			return nil, ErrAlreadyPlaying
		}
	}
	id := uuid.NewString()
	s := session.New(id, p.Format, p.White, p.Black, session.WithEndHook(d.onEnd))
	d.games[id] = s
	d.byConn[p.White.Peer.ID()] = id
	d.byConn[p.Black.Peer.ID()] = id
	// One slot for the clock task, one for result bookkeeping in onEnd.
	d.wg.Add(2)
	d.mu.Unlock()

	s.Announce()
	go func() {
		defer d.wg.Done()
		s.RunClock(d.ctx, d.tick)
	}()
	d.publish(s.Snapshot(), 0)
	obslog.L().Info("game_start",
		zap.String("game_id", id),
		zap.String("white", p.White.Name),
		zap.String("black", p.Black.Name),
		zap.String("time_format", p.Format.String()),
		zap.Bool("friend", p.Friend),
	)
	return s, nil
}

// Lookup returns a live session by id.
func (d *Directory) Lookup(gameID string) (*session.Session, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.games[strings.TrimSpace(gameID)]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// GameOf returns the live session connID plays in.
func (d *Directory) GameOf(connID string) (*session.Session, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byConn[connID]
	if !ok {
		return nil, false
	}
	s, ok := d.games[id]
	return s, ok
}

// Resolve finds the session connID plays in. An empty gameID means the
// connection's current game.
func (d *Directory) Resolve(connID, gameID string) (*session.Session, error) {
	if strings.TrimSpace(gameID) == "" {
		if s, ok := d.GameOf(connID); ok {
			return s, nil
		}
		return nil, ErrSessionNotFound
	}
	return d.Lookup(gameID)
}

// Move submits m and refreshes the mirror on success.
func (d *Directory) Move(connID, gameID string, m board.Move) (session.Event, error) {
	s, err := d.Resolve(connID, gameID)
	if err != nil {
		return session.Event{}, err
	}
	ev, err := s.SubmitMove(connID, m)
	if err != nil {
		obslog.L().Debug("move_rejected",
			zap.String("game_id", s.ID()),
			zap.String("conn", connID),
			zap.String("uci", m.UCI()),
			zap.Error(err),
		)
		return ev, err
	}
	d.publish(s.Snapshot(), s.SpectatorCount())
	return ev, nil
}

// Spectate adds peer to a live game's audience. The watch is recorded under
// the directory lock so onEnd, which takes the same lock, always sees it.
func (d *Directory) Spectate(gameID string, peer session.Peer) (session.Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.games[strings.TrimSpace(gameID)]
	if !ok {
		return session.Snapshot{}, ErrSessionNotFound
	}
	snap, err := s.Spectate(peer)
	if err != nil {
		return session.Snapshot{}, ErrSessionNotFound
	}
	set := d.watching[peer.ID()]
	if set == nil {
		set = make(map[string]struct{})
		d.watching[peer.ID()] = set
	}
	set[s.ID()] = struct{}{}
	return snap, nil
}

func (d *Directory) StopSpectate(gameID, connID string) {
	d.mu.Lock()
	s := d.games[gameID]
	if set := d.watching[connID]; set != nil {
		delete(set, gameID)
		if len(set) == 0 {
			delete(d.watching, connID)
		}
	}
	d.mu.Unlock()
	if s != nil {
		s.Unwatch(connID)
	}
}

// List returns snapshots of all live games, oldest first.
func (d *Directory) List() []session.Snapshot {
	d.mu.RLock()
	live := make([]*session.Session, 0, len(d.games))
	for _, s := range d.games {
		live = append(live, s)
	}
	d.mu.RUnlock()
	out := make([]session.Snapshot, 0, len(live))
	for _, s := range live {
		snap := s.Snapshot()
		if snap.Outcome != nil {
			continue
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Started.Equal(out[j].Started) {
			return out[i].ID < out[j].ID
		}
		return out[i].Started.Before(out[j].Started)
	})
	return out
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.games)
}

// Disconnect cleans up after a lost connection: a principal forfeits its
// game and a spectator leaves every audience it joined.
func (d *Directory) Disconnect(connID string) {
	d.mu.Lock()
	gameID, playing := d.byConn[connID]
	s := d.games[gameID]
	var watched []*session.Session
	for id := range d.watching[connID] {
		if ws, ok := d.games[id]; ok {
			watched = append(watched, ws)
		}
	}
	delete(d.watching, connID)
	d.mu.Unlock()

	for _, ws := range watched {
		ws.Unwatch(connID)
	}
	if playing && s != nil {
		if _, err := s.Forfeit(connID); err == nil {
			obslog.L().Info("player_disconnected", zap.String("game_id", gameID), zap.String("conn", connID))
		}
	}
}

// Shutdown aborts every live session, stops clock tasks and waits for
// pending result bookkeeping.
func (d *Directory) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	live := make([]*session.Session, 0, len(d.games))
	for _, s := range d.games {
		live = append(live, s)
	}
	d.mu.Unlock()

	for _, s := range live {
		s.Abort("shutdown")
	}
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if d.mirrorCh != nil {
		d.pubMu.Lock()
		d.pubClosed = true
		close(d.mirrorCh)
		d.pubMu.Unlock()
		select {
		case <-d.mirrorDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	obslog.L().Info("directory_shutdown", zap.Int("aborted", len(live)))
	return nil
}

// onEnd runs once per session, outside its lock. Its wait group slot was
// taken in Start.
func (d *Directory) onEnd(s *session.Session, o session.Outcome) {
	d.mu.Lock()
	delete(d.games, s.ID())
	for _, c := range []board.Color{board.White, board.Black} {
		if p := s.Player(c).Peer; p != nil && d.byConn[p.ID()] == s.ID() {
			delete(d.byConn, p.ID())
		}
	}
	for conn, set := range d.watching {
		delete(set, s.ID())
		if len(set) == 0 {
			delete(d.watching, conn)
		}
	}
	d.mu.Unlock()

	snap := s.Snapshot()
	d.publish(snap, 0)
	go func() {
		defer d.wg.Done()
		d.finish(snap, o)
	}()
}

func (d *Directory) finish(snap session.Snapshot, o session.Outcome) {
	if o.Kind == session.Aborted {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	log := obslog.L().With(zap.String("game_id", snap.ID))

	if d.recorder != nil {
		if err := d.recorder.RecordResult(ctx, snap.White, snap.Black, o.Result()); err != nil {
			log.Warn("record_result_failed", zap.Error(err))
		}
	}
	if d.archiver != nil {
		rec := archive.Record{
			GameID:     snap.ID,
			White:      snap.White,
			Black:      snap.Black,
			TimeFormat: snap.Format.String(),
			Result:     o.Result(),
			Method:     o.Reason,
			MovesUCI:   movesUCI(snap.Moves),
			StartedAt:  snap.Started,
			EndedAt:    snap.Ended,
		}
		if err := d.archiver.SaveResult(ctx, rec); err != nil {
			log.Warn("archive_failed", zap.Error(err))
		}
	}
	if d.notifier != nil {
		r := notify.Result{
			GameID:     snap.ID,
			White:      snap.White,
			Black:      snap.Black,
			TimeFormat: snap.Format.String(),
			Result:     o.Result(),
			Reason:     o.Reason,
			Plies:      len(snap.Moves),
			StartedAt:  snap.Started,
			EndedAt:    snap.Ended,
		}
		if err := d.notifier.Notify(ctx, r); err != nil {
			log.Warn("notify_failed", zap.Error(err))
		}
	}
}

// publish queues a mirror write. Writes are applied in order by a single
// worker; a full queue drops the update.
func (d *Directory) publish(snap session.Snapshot, spectators int) {
	if d.mirrorCh == nil {
		return
	}
	g := gameDoc(snap, spectators)
	d.pubMu.RLock()
	defer d.pubMu.RUnlock()
	if d.pubClosed {
		return
	}
	select {
	case d.mirrorCh <- g:
	default:
		obslog.L().Warn("mirror_queue_full", zap.String("game_id", snap.ID))
	}
}

func (d *Directory) runMirror() {
	defer close(d.mirrorDone)
	for g := range d.mirrorCh {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := d.mirror.Save(ctx, g); err != nil {
			obslog.L().Warn("mirror_save_failed", zap.String("game_id", g.ID), zap.Error(err))
		}
		cancel()
	}
}

func gameDoc(snap session.Snapshot, spectators int) livestore.Game {
	g := livestore.Game{
		ID:         snap.ID,
		White:      snap.White,
		Black:      snap.Black,
		TimeFormat: snap.Format.String(),
		FEN:        snap.FEN,
		Turn:       snap.Turn.String(),
		MovesUCI:   movesUCI(snap.Moves),
		WhiteMs:    snap.Clock.White.Milliseconds(),
		BlackMs:    snap.Clock.Black.Milliseconds(),
		Status:     livestore.StatusActive,
		Spectators: spectators,
		StartedAt:  snap.Started,
		UpdatedAt:  time.Now(),
	}
	if o := snap.Outcome; o != nil {
		g.Status = livestore.StatusFinished
		if o.Kind == session.Aborted {
			g.Status = livestore.StatusAborted
		}
		g.Result = o.Result()
		g.Reason = o.Reason
	}
	return g
}

func movesUCI(ms []board.Move) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.UCI()
	}
	return out
}
