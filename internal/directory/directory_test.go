package directory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/park285/chess-arena/internal/archive"
	"github.com/park285/chess-arena/internal/board"
	"github.com/park285/chess-arena/internal/livestore"
	"github.com/park285/chess-arena/internal/matchmaking"
	"github.com/park285/chess-arena/internal/notify"
	"github.com/park285/chess-arena/internal/session"
)

type peer struct {
	id  string
	mu  sync.Mutex
	evs []session.Event
}

func (p *peer) ID() string { return p.id }

func (p *peer) Deliver(ev session.Event) error {
	p.mu.Lock()
	p.evs = append(p.evs, ev)
	p.mu.Unlock()
	return nil
}

func (p *peer) last() session.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.evs) == 0 {
		return session.Event{}
	}
	return p.evs[len(p.evs)-1]
}

type sink struct {
	mu       sync.Mutex
	results  []string
	records  []archive.Record
	notified []notify.Result
	saved    []livestore.Game
	done     chan struct{}
}

func newSink() *sink { return &sink{done: make(chan struct{}, 16)} }

func (s *sink) RecordResult(_ context.Context, white, black, result string) error {
	s.mu.Lock()
	s.results = append(s.results, white+"/"+black+"="+result)
	s.mu.Unlock()
	return nil
}

func (s *sink) SaveResult(_ context.Context, rec archive.Record) error {
	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()
	return nil
}

func (s *sink) Notify(_ context.Context, r notify.Result) error {
	s.mu.Lock()
	s.notified = append(s.notified, r)
	s.mu.Unlock()
	s.done <- struct{}{}
	return nil
}

func (s *sink) Save(_ context.Context, g livestore.Game) error {
	s.mu.Lock()
	s.saved = append(s.saved, g)
	s.mu.Unlock()
	return nil
}

func (s *sink) wait(t *testing.T) {
	t.Helper()
	select {
	case <-s.done:
	case <-time.After(3 * time.Second):
		t.Fatal("result bookkeeping did not run")
	}
}

func newDir(t *testing.T, opts ...Option) (*Directory, *sink) {
	t.Helper()
	s := newSink()
	opts = append([]Option{WithMirror(s), WithRecorder(s), WithArchiver(s), WithNotifier(s)}, opts...)
	d := New(opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = d.Shutdown(ctx)
	})
	return d, s
}

func rapid(t *testing.T) session.TimeFormat {
	t.Helper()
	f, err := session.ParseTimeFormat("Rapid: 10 min")
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func start(t *testing.T, d *Directory, f session.TimeFormat) (*session.Session, *peer, *peer) {
	t.Helper()
	w, b := &peer{id: "c-w"}, &peer{id: "c-b"}
	s, err := d.Start(matchmaking.Pairing{
		White:  session.Player{Name: "alice", Peer: w},
		Black:  session.Player{Name: "bob", Peer: b},
		Format: f,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return s, w, b
}

func TestStartThroughQueue(t *testing.T) {
	d, _ := newDir(t)
	q := matchmaking.NewQueue(d)
	w, b := &peer{id: "c1"}, &peer{id: "c2"}
	f := rapid(t)

	if res, err := q.RequestMatch(matchmaking.Entry{Player: session.Player{Name: "alice", Peer: w}, Format: f}); err != nil || !res.Waiting {
		t.Fatalf("first request = %+v, %v", res, err)
	}
	res, err := q.RequestMatch(matchmaking.Entry{Player: session.Player{Name: "bob", Peer: b}, Format: f})
	if err != nil || res.Session == nil {
		t.Fatalf("second request = %+v, %v", res, err)
	}
	if ev := w.last(); ev.Kind != session.EventGameStart || ev.Color != board.White || ev.Opponent != "bob" {
		t.Fatalf("white start = %+v", ev)
	}
	if ev := b.last(); ev.Kind != session.EventGameStart || ev.Color != board.Black {
		t.Fatalf("black start = %+v", ev)
	}
	if s, ok := d.GameOf("c2"); !ok || s != res.Session {
		t.Fatal("GameOf(c2) should return the new session")
	}
	if list := d.List(); len(list) != 1 || list[0].White != "alice" {
		t.Fatalf("List = %+v", list)
	}
	if _, err := d.Lookup("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Lookup(nope) = %v", err)
	}
}

func TestStartRejectsBusyPlayer(t *testing.T) {
	d, _ := newDir(t)
	start(t, d, rapid(t))
	_, err := d.Start(matchmaking.Pairing{
		White:  session.Player{Name: "alice", Peer: &peer{id: "c-w"}},
		Black:  session.Player{Name: "carol", Peer: &peer{id: "c-x"}},
		Format: rapid(t),
	})
	if !errors.Is(err, ErrAlreadyPlaying) {
		t.Fatalf("err = %v, want ErrAlreadyPlaying", err)
	}
}

func TestMoveRoutingAndSpectators(t *testing.T) {
	d, _ := newDir(t)
	s, _, b := start(t, d, rapid(t))
	spec := &peer{id: "c-s"}
	snap, err := d.Spectate(s.ID(), spec)
	if err != nil {
		t.Fatalf("Spectate: %v", err)
	}
	if snap.FEN != board.InitialFEN {
		t.Fatalf("snapshot FEN = %q", snap.FEN)
	}

	m, _ := board.ParseMove("e2e4")
	if _, err := d.Move("c-w", "", m); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if ev := b.last(); ev.Kind != session.EventOpponentMove || ev.Move.UCI() != "e2e4" {
		t.Fatalf("opponent event = %+v", ev)
	}
	if ev := spec.last(); ev.Kind != session.EventSpectatorMove {
		t.Fatalf("spectator event = %+v", ev)
	}
	if _, err := d.Move("c-w", s.ID(), m); !errors.Is(err, board.ErrNotYourTurn) {
		t.Fatalf("second white move = %v, want ErrNotYourTurn", err)
	}
	if _, err := d.Move("c-w", "missing", m); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("unknown game = %v", err)
	}

	d.Disconnect("c-s")
	if n := s.SpectatorCount(); n != 0 {
		t.Fatalf("spectators after disconnect = %d", n)
	}
	if d.Len() != 1 {
		t.Fatal("spectator disconnect must not end the game")
	}
}

func TestDisconnectForfeitsAndRecords(t *testing.T) {
	d, sk := newDir(t)
	s, w, _ := start(t, d, rapid(t))

	d.Disconnect("c-b")
	sk.wait(t)

	if ev := w.last(); ev.Kind != session.EventGameEnd || ev.Outcome.Result() != "white" {
		t.Fatalf("white end event = %+v", ev)
	}
	if _, err := d.Lookup(s.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatal("ended session should be removed")
	}
	if _, ok := d.GameOf("c-w"); ok {
		t.Fatal("winner should be free to play again")
	}
	sk.mu.Lock()
	defer sk.mu.Unlock()
	if len(sk.results) != 1 || sk.results[0] != "alice/bob=white" {
		t.Fatalf("results = %v", sk.results)
	}
	if len(sk.records) != 1 || sk.records[0].Method != "disconnect" {
		t.Fatalf("records = %+v", sk.records)
	}
}

func TestClockTimeoutEndsOnce(t *testing.T) {
	d, sk := newDir(t, WithTick(5*time.Millisecond))
	f := session.TimeFormat{Label: "tiny", Base: 40 * time.Millisecond}
	s, _, b := start(t, d, f)

	sk.wait(t)
	<-s.Done()
	if ev := b.last(); ev.Kind != session.EventGameEnd || ev.Outcome.Kind != session.Timeout || ev.Outcome.Result() != "black" {
		t.Fatalf("black end event = %+v", ev)
	}
	time.Sleep(30 * time.Millisecond)
	sk.mu.Lock()
	defer sk.mu.Unlock()
	if len(sk.results) != 1 {
		t.Fatalf("results = %v, want exactly one", sk.results)
	}
}

func TestShutdownAbortsWithoutRecording(t *testing.T) {
	d, sk := newDir(t)
	_, w, b := start(t, d, rapid(t))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := d.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	for _, p := range []*peer{w, b} {
		if ev := p.last(); ev.Kind != session.EventGameEnd || ev.Outcome.Result() != "aborted" {
			t.Fatalf("%s end event = %+v", p.id, ev)
		}
	}
	if d.Len() != 0 {
		t.Fatalf("live games after shutdown = %d", d.Len())
	}
	sk.mu.Lock()
	if len(sk.results) != 0 || len(sk.records) != 0 {
		t.Fatalf("aborted game was recorded: %v %v", sk.results, sk.records)
	}
	last := sk.saved[len(sk.saved)-1]
	sk.mu.Unlock()
	if last.Status != livestore.StatusAborted {
		t.Fatalf("last mirror status = %s", last.Status)
	}
	if _, err := d.Start(matchmaking.Pairing{
		White:  session.Player{Name: "x", Peer: &peer{id: "x"}},
		Black:  session.Player{Name: "y", Peer: &peer{id: "y"}},
		Format: rapid(t),
	}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Start after shutdown = %v", err)
	}
}

func (d *Directory) watchCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := 0
	for _, set := range d.watching {
		n += len(set)
	}
	return n
}

func TestWatchesClearedWhenGameEnds(t *testing.T) {
	d, sk := newDir(t)
	s, _, _ := start(t, d, rapid(t))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = d.Spectate(s.ID(), &peer{id: "spec-" + string(rune('a'+i))})
		}(i)
	}
	if _, err := s.Resign("c-b"); err != nil {
		t.Fatalf("Resign: %v", err)
	}
	wg.Wait()
	sk.wait(t)

	if n := d.watchCount(); n != 0 {
		t.Fatalf("stale watches after end = %d", n)
	}
	if _, err := d.Spectate(s.ID(), &peer{id: "late"}); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Spectate finished game = %v", err)
	}
	if n := d.watchCount(); n != 0 {
		t.Fatalf("late spectator recorded = %d", n)
	}
}

func TestShutdownWhileGamesEnd(t *testing.T) {
	d, _ := newDir(t)
	var games []*session.Session
	for i := 0; i < 8; i++ {
		id := string(rune('a' + i))
		s, err := d.Start(matchmaking.Pairing{
			White:  session.Player{Name: "w" + id, Peer: &peer{id: "w" + id}},
			Black:  session.Player{Name: "b" + id, Peer: &peer{id: "b" + id}},
			Format: rapid(t),
		})
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
		games = append(games, s)
	}
	var wg sync.WaitGroup
	for _, s := range games {
		wg.Add(1)
		go func(s *session.Session) {
			defer wg.Done()
			_, _ = s.Resign(s.Player(board.White).Peer.ID())
		}(s)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := d.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	wg.Wait()
	if d.Len() != 0 {
		t.Fatalf("live games after shutdown = %d", d.Len())
	}
}
