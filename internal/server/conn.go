package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/obslog"
	"github.com/park285/chess-arena/internal/protocol"
	"github.com/park285/chess-arena/internal/session"
)

var (
	errConnClosed = errors.New("connection closed")
	errOutboxFull = errors.New("outbox full")
)

const (
	writeTimeout   = 10 * time.Second
	drainTimeout   = 2 * time.Second
	wsPingInterval = 30 * time.Second
)

// conn is one client connection. The reader goroutine owns user and runs
// the dispatcher; the writer goroutine owns the codec's write side and
// drains out.
type conn struct {
	id     string
	remote string
	codec  protocol.Codec
	log    *zap.Logger

	out       chan any
	closing   chan struct{}
	closeOnce sync.Once
	written   chan struct{}

	mu   sync.RWMutex
	user string
}

func newConn(id, remote string, codec protocol.Codec, outbox int) *conn {
	if outbox <= 0 {
		outbox = 64
	}
	return &conn{
		id:      id,
		remote:  remote,
		codec:   codec,
		log:     obslog.L().With(zap.String("conn", id), zap.String("remote", remote)),
		out:     make(chan any, outbox),
		closing: make(chan struct{}),
		written: make(chan struct{}),
	}
}

func (c *conn) ID() string { return c.id }

func (c *conn) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user
}

func (c *conn) setUser(name string) {
	c.mu.Lock()
	c.user = name
	c.mu.Unlock()
}

// Deliver translates a session event into wire records and queues them.
// It never blocks; a full outbox is an error the session reacts to.
func (c *conn) Deliver(ev session.Event) error {
	for _, msg := range eventMessages(ev) {
		if err := c.send(msg); err != nil {
			return err
		}
	}
	return nil
}

func (c *conn) send(msg any) error {
	select {
	case <-c.closing:
		return errConnClosed
	default:
	}
	select {
	case c.out <- msg:
		return nil
	default:
		c.log.Warn("outbox_full", zap.Int("cap", cap(c.out)))
		c.close()
		return errOutboxFull
	}
}

// close asks the writer to flush and close the codec. Safe to call from
// any goroutine, including under a session lock.
func (c *conn) close() {
	c.closeOnce.Do(func() { close(c.closing) })
}

func (c *conn) writeLoop() {
	defer close(c.written)
	for {
		select {
		case msg := <-c.out:
			if err := c.write(msg); err != nil {
				c.log.Debug("conn_write_failed", zap.Error(err))
				c.close()
				_ = c.codec.Close("write failed")
				return
			}
		case <-c.closing:
			c.drain()
			_ = c.codec.Close("bye")
			return
		}
	}
}

func (c *conn) drain() {
	deadline := time.Now().Add(drainTimeout)
	for time.Now().Before(deadline) {
		select {
		case msg := <-c.out:
			if err := c.write(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *conn) write(msg any) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return c.codec.Write(ctx, msg)
}

// pingLoop keeps a websocket alive and detects dead peers.
func (c *conn) pingLoop(ws *protocol.WSCodec) {
	t := time.NewTicker(wsPingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-c.closing:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := ws.Conn().Ping(ctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				c.log.Info("conn_ping_failed", zap.Error(err))
				c.close()
				return
			}
		}
	}
}
