package matchmaking

import (
	"container/list"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/obslog"
	"github.com/park285/chess-arena/internal/session"
)

var (
	ErrInvalidArgs = errors.New("invalid arguments")
	ErrQueueClosed = errors.New("matchmaking queue closed")
	ErrSelfMatch   = errors.New("cannot play against yourself")
)

// Entry is one waiting connection.
type Entry struct {
	Player session.Player
	Format session.TimeFormat
	// Friend, when set, restricts pairing to that username.
	Friend   string
	Enqueued time.Time
}

func (e Entry) connID() string { return e.Player.Peer.ID() }

// Pairing is handed to the Starter; White arrived first.
type Pairing struct {
	White  session.Player
	Black  session.Player
	Format session.TimeFormat
	Friend bool
}

// Starter creates and registers a session for a completed pairing.
type Starter interface {
	Start(p Pairing) (*session.Session, error)
}

type Result struct {
	Session *session.Session
	Waiting bool
}

type slot struct {
	key  string
	elem *list.Element
}

// Queue pairs waiting connections by key. Anonymous requests key on the
// canonical time format; friend requests key on the unordered name pair.
// Each key holds a FIFO, so the earliest waiter is always paired first.
type Queue struct {
	starter Starter

	mu     sync.Mutex
	byKey  map[string]*list.List
	byConn map[string]slot
	closed bool
}

func NewQueue(st Starter) *Queue {
	return &Queue{
		starter: st,
		byKey:   make(map[string]*list.List),
		byConn:  make(map[string]slot),
	}
}

// RequestMatch pairs e with the oldest compatible waiter or enqueues it.
// A connection already waiting is moved to the new key. Session creation
// happens under the queue lock, so a concurrent Cancel observes either the
// waiting entry or nothing.
func (q *Queue) RequestMatch(e Entry) (Result, error) {
	if e.Player.Peer == nil || strings.TrimSpace(e.Player.Name) == "" {
		return Result{}, ErrInvalidArgs
	}
	if e.Friend != "" && e.Friend == e.Player.Name {
		return Result{}, ErrSelfMatch
	}
	key := e.key()
	if e.Enqueued.IsZero() {
		e.Enqueued = time.Now()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return Result{}, ErrQueueClosed
	}
	q.removeLocked(e.connID())

	if l := q.byKey[key]; l != nil {
		for el := l.Front(); el != nil; el = el.Next() {
			w := el.Value.(Entry)
			if w.Player.Name == e.Player.Name {
				continue
			}
			if e.Friend != "" && w.Friend != e.Player.Name {
				continue
			}
			q.unlinkLocked(w.connID())
			s, err := q.starter.Start(Pairing{White: w.Player, Black: e.Player, Format: w.Format, Friend: e.Friend != ""})
			if err != nil {
				q.pushLocked(key, w, true)
				return Result{}, err
			}
			obslog.L().Info("match_paired",
				zap.String("key", key),
				zap.String("white", w.Player.Name),
				zap.String("black", e.Player.Name),
				zap.Duration("waited", time.Since(w.Enqueued)),
			)
			return Result{Session: s}, nil
		}
	}
	q.pushLocked(key, e, false)
	obslog.L().Debug("match_waiting", zap.String("key", key), zap.String("player", e.Player.Name))
	return Result{Waiting: true}, nil
}

// Direct starts a session for an accepted friend invitation, skipping the
// queue. Any waiting entries for either connection are dropped.
func (q *Queue) Direct(white, black session.Player, f session.TimeFormat) (*session.Session, error) {
	if white.Peer == nil || black.Peer == nil {
		return nil, ErrInvalidArgs
	}
	if white.Name == black.Name {
		return nil, ErrSelfMatch
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrQueueClosed
	}
	q.removeLocked(white.Peer.ID())
	q.removeLocked(black.Peer.ID())
	return q.starter.Start(Pairing{White: white, Black: black, Format: f, Friend: true})
}

// Cancel drops connID's waiting entry. It is a no-op when none exists,
// including when the entry was already paired.
func (q *Queue) Cancel(connID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.removeLocked(connID)
}

func (q *Queue) Waiting(connID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.byConn[connID]
	return ok
}

// Len reports how many connections wait under the given time format.
func (q *Queue) Len(f session.TimeFormat) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if l := q.byKey[formatKey(f)]; l != nil {
		return l.Len()
	}
	return 0
}

// Close rejects further requests and forgets all waiters.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.byKey = make(map[string]*list.List)
	q.byConn = make(map[string]slot)
	q.mu.Unlock()
}

func formatKey(f session.TimeFormat) string { return "tf:" + f.Key() }

func (e Entry) key() string {
	if e.Friend == "" {
		return formatKey(e.Format)
	}
	pair := []string{e.Player.Name, e.Friend}
	sort.Strings(pair)
	return "friend:" + pair[0] + "\x00" + pair[1]
}

func (q *Queue) pushLocked(key string, e Entry, front bool) {
	l := q.byKey[key]
	if l == nil {
		l = list.New()
		q.byKey[key] = l
	}
	var el *list.Element
	if front {
		el = l.PushFront(e)
	} else {
		el = l.PushBack(e)
	}
	q.byConn[e.connID()] = slot{key: key, elem: el}
}

func (q *Queue) removeLocked(connID string) bool {
	if _, ok := q.byConn[connID]; !ok {
		return false
	}
	q.unlinkLocked(connID)
	return true
}

func (q *Queue) unlinkLocked(connID string) {
	sl := q.byConn[connID]
	delete(q.byConn, connID)
	if l := q.byKey[sl.key]; l != nil {
		l.Remove(sl.elem)
		if l.Len() == 0 {
			delete(q.byKey, sl.key)
		}
	}
}
