// Package link is the client side of the robot WebSocket connection. It
// exposes the readiness check and fire-and-forget send the transmission
// scheduler needs, plus a stream of inbound frames.
package link

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/large-farva/robotpi-teleop/internal/logging"
)

const (
	writeWait  = 3 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 20 * time.Second
)

// Options tunes a Link.
type Options struct {
	DialTimeout time.Duration
	SendBuffer  int // queued outbound frames before Send starts dropping
	Log         logrus.FieldLogger
}

// Link is one open WebSocket session with the robot. It is safe for
// concurrent use.
type Link struct {
	conn *websocket.Conn
	log  logrus.FieldLogger
	url  string

	ready   atomic.Bool
	dropped atomic.Uint64

	out     chan []byte
	inbound chan []byte

	flushOnce sync.Once
	flush     chan struct{} // asks the writer to drain out and say goodbye
	flushed   chan struct{}

	closeOnce sync.Once
	done      chan struct{}
	err       atomic.Value // error that ended the link
}

// Dial connects to a ws:// or wss:// URL and starts the reader and writer
// goroutines.
func Dial(ctx context.Context, rawURL string, opts Options) (*Link, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse robot url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}

	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	log := opts.Log
	if log == nil {
		log = logging.Discard()
	}

	dialer := websocket.Dialer{HandshakeTimeout: opts.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}

	l := &Link{
		conn:    conn,
		log:     log.WithField("url", u.Redacted()),
		url:     u.String(),
		out:     make(chan []byte, opts.SendBuffer),
		inbound: make(chan []byte, 64),
		flush:   make(chan struct{}),
		flushed: make(chan struct{}),
		done:    make(chan struct{}),
	}
	l.ready.Store(true)

	go l.readLoop()
	go l.writeLoop()

	l.log.Info("link open")
	return l, nil
}

// URL returns the address the link was dialed with.
func (l *Link) URL() string {
	return l.url
}

// Ready reports whether the socket is open.
func (l *Link) Ready() bool {
	return l.ready.Load()
}

// Send queues msg for delivery and returns immediately. Frames are dropped
// when the link is closed or the queue is full.
func (l *Link) Send(msg []byte) {
	if !l.ready.Load() {
		l.dropped.Add(1)
		return
	}
	select {
	case <-l.done:
		l.dropped.Add(1)
	case l.out <- msg:
	default:
		l.dropped.Add(1)
		l.log.Warn("send queue full, frame dropped")
	}
}

// Dropped returns how many frames Send discarded.
func (l *Link) Dropped() uint64 {
	return l.dropped.Load()
}

// Inbound delivers frames received from the robot. It is closed when the
// link goes down.
func (l *Link) Inbound() <-chan []byte {
	return l.inbound
}

// Done is closed once the link has shut down.
func (l *Link) Done() <-chan struct{} {
	return l.done
}

// Err returns the error that ended the link, or nil after a clean Close.
func (l *Link) Err() error {
	if err, ok := l.err.Load().(error); ok {
		return err
	}
	return nil
}

// Close writes out any frames already queued, sends a normal close frame and
// tears the link down. Frames sent after Close are dropped.
func (l *Link) Close() error {
	l.ready.Store(false)
	l.flushOnce.Do(func() { close(l.flush) })
	select {
	case <-l.flushed:
	case <-l.done:
	case <-time.After(writeWait):
		l.log.Warn("close: writer did not drain in time")
	}
	l.shutdown(nil)
	return nil
}

func (l *Link) shutdown(err error) {
	l.closeOnce.Do(func() {
		l.ready.Store(false)
		if err != nil {
			l.err.Store(err)
			l.log.WithError(err).Warn("link closed")
		} else {
			l.log.Info("link closed")
		}
		close(l.done)
		_ = l.conn.Close()
	})
}

func (l *Link) readLoop() {
	defer close(l.inbound)

	_ = l.conn.SetReadDeadline(time.Now().Add(pongWait))
	l.conn.SetPongHandler(func(string) error {
		return l.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mt, msg, err := l.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || errors.Is(err, websocket.ErrCloseSent) {
				l.shutdown(nil)
			} else {
				l.shutdown(err)
			}
			return
		}
		_ = l.conn.SetReadDeadline(time.Now().Add(pongWait))
		if mt != websocket.TextMessage {
			l.log.Debugf("ignoring non-text frame (type %d)", mt)
			continue
		}
		select {
		case l.inbound <- msg:
		case <-l.done:
			return
		}
	}
}

func (l *Link) writeLoop() {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-l.done:
			return

		case msg := <-l.out:
			_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				l.shutdown(fmt.Errorf("write: %w", err))
				return
			}

		case <-l.flush:
			l.drain()
			return

		case <-ping.C:
			_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				l.shutdown(fmt.Errorf("ping: %w", err))
				return
			}
		}
	}
}

// drain writes whatever is still queued, then the close frame. It runs on the
// writer goroutine.
func (l *Link) drain() {
	defer close(l.flushed)
	deadline := time.Now().Add(writeWait)
	_ = l.conn.SetWriteDeadline(deadline)
	for len(l.out) > 0 {
		if err := l.conn.WriteMessage(websocket.TextMessage, <-l.out); err != nil {
			l.log.WithError(err).Warn("close: flush failed")
			return
		}
	}
	_ = l.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
		deadline,
	)
}
