package protocol

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// MaxFrame bounds a single inbound record.
const MaxFrame = 64 << 10

var noDeadline time.Time

// ErrMalformed marks a frame that could not be decoded. The connection stays
// usable; callers log and keep reading.
var ErrMalformed = errors.New("malformed frame")

// Envelope is one inbound record with its type tag peeled off.
type Envelope struct {
	Type string
	Raw  json.RawMessage
}

// Decode unmarshals the full record into v.
func (e Envelope) Decode(v any) error {
	if len(e.Raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Raw, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, e.Type, err)
	}
	return nil
}

// Codec reads and writes whole records over one client connection.
type Codec interface {
	Read(ctx context.Context) (Envelope, error)
	Write(ctx context.Context, msg any) error
	Close(reason string) error
}

func envelopeOf(raw json.RawMessage) (Envelope, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	t := strings.TrimSpace(head.Type)
	if t == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return Envelope{Type: t, Raw: raw}, nil
}

// LineCodec speaks newline-delimited JSON over a stream connection. A line
// may carry several concatenated records; they are returned one at a time.
// A line longer than MaxFrame is discarded up to its newline and reported
// as malformed.
type LineCodec struct {
	conn    net.Conn
	reader  *bufio.Reader
	pending *json.Decoder
	wmu     sync.Mutex
}

func NewLineCodec(conn net.Conn) *LineCodec {
	return &LineCodec{conn: conn, reader: bufio.NewReaderSize(conn, 4096)}
}

// Read blocks until the next record. Cancellation of ctx is observed by
// closing the connection, which unblocks the reader.
func (c *LineCodec) Read(ctx context.Context) (Envelope, error) {
	stop := context.AfterFunc(ctx, func() { _ = c.conn.Close() })
	defer stop()

	for {
		if c.pending != nil {
			var raw json.RawMessage
			err := c.pending.Decode(&raw)
			if err == nil {
				return envelopeOf(raw)
			}
			c.pending = nil
			if !errors.Is(err, io.EOF) {
				return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
			}
		}
		line, err := c.readLine()
		if err != nil {
			if ctx.Err() != nil {
				return Envelope{}, ctx.Err()
			}
			return Envelope{}, err
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		c.pending = json.NewDecoder(bytes.NewReader(line))
	}
}

// readLine returns the next line without its terminator. The returned slice
// is owned by the caller.
func (c *LineCodec) readLine() ([]byte, error) {
	var line []byte
	overflow := false
	for {
		chunk, err := c.reader.ReadSlice('\n')
		if !overflow {
			if len(line)+len(chunk) > MaxFrame+1 {
				overflow = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}
		switch {
		case err == nil:
			if overflow {
				return nil, fmt.Errorf("%w: frame exceeds %d bytes", ErrMalformed, MaxFrame)
			}
			return line, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(line) > 0 && !overflow:
			// Last line without a newline.
			return line, nil
		default:
			return nil, err
		}
	}
}

func (c *LineCodec) Write(ctx context.Context, msg any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %T: %w", msg, err)
	}
	b = append(b, '\n')
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(dl)
		defer func() { _ = c.conn.SetWriteDeadline(noDeadline) }()
	}
	_, err = c.conn.Write(b)
	return err
}

func (c *LineCodec) Close(string) error { return c.conn.Close() }

// WSCodec carries one JSON record per websocket text message.
type WSCodec struct {
	conn *websocket.Conn
}

func NewWSCodec(conn *websocket.Conn) *WSCodec {
	conn.SetReadLimit(MaxFrame)
	return &WSCodec{conn: conn}
}

// Read uses the raw frame instead of wsjson.Read, which closes the
// connection on a decode error.
func (c *WSCodec) Read(ctx context.Context) (Envelope, error) {
	typ, data, err := c.conn.Read(ctx)
	if err != nil {
		return Envelope{}, err
	}
	if typ != websocket.MessageText {
		return Envelope{}, fmt.Errorf("%w: binary message", ErrMalformed)
	}
	return envelopeOf(bytes.TrimSpace(data))
}

func (c *WSCodec) Write(ctx context.Context, msg any) error {
	return wsjson.Write(ctx, c.conn, msg)
}

func (c *WSCodec) Close(reason string) error {
	return c.conn.Close(websocket.StatusNormalClosure, reason)
}

// Conn exposes the underlying websocket for ping handling.
func (c *WSCodec) Conn() *websocket.Conn { return c.conn }
