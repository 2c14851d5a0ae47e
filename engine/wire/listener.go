package wire

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"

	"golang.org/x/time/rate"
)

const (
	// AcceptRateLimit is the allowed connection attempts per second.
	// Senders legitimately reconnect after drops; anything faster than this
	// is a misbehaving client looping on connect.
	AcceptRateLimit = 10

	// AcceptBurstLimit is the maximum accept burst.
	AcceptBurstLimit = 20

	// readBufSize is the socket read chunk size. Arbitrary chunking is fine:
	// the decoder realigns to whole frames on every chunk.
	readBufSize = 4096
)

// Handler receives decoded stream events. All methods are invoked from the
// listener's connection goroutine: StreamStarted once per completed
// handshake, StreamFrames zero or more times (the slice is valid only for
// the duration of the call), StreamEnded exactly once per accepted
// connection.
type Handler interface {
	StreamStarted(sampleRate uint32)
	StreamFrames(samples []float32)
	StreamEnded(err error)
}

// Listener owns the stream socket. It accepts at most one sender at a time
// and tolerates sequential reconnections: after a connection ends, for any
// reason, it simply goes back to accepting.
type Listener struct {
	path    string
	handler Handler
	log     *slog.Logger
	limiter *rate.Limiter

	mu     sync.Mutex
	ln     net.Listener
	active net.Conn
}

// NewListener creates a listener for the unix socket at path. Events are
// delivered to handler.
func NewListener(path string, handler Handler, log *slog.Logger) *Listener {
	if log == nil {
		log = slog.Default()
	}
	return &Listener{
		path:    path,
		handler: handler,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(AcceptRateLimit), AcceptBurstLimit),
	}
}

// Serve listens on the socket until ctx is canceled. A stale socket file
// from a previous run is removed before binding.
func (l *Listener) Serve(ctx context.Context) error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return err
	}

	ln, err := net.Listen("unix", l.path)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	defer os.Remove(l.path)
	l.log.Info("stream listener up", "path", l.path)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			l.log.Warn("accept failed", "err", err)
			continue
		}

		if !l.limiter.Allow() {
			conn.Close()
			l.log.Warn("connection dropped by rate limit")
			continue
		}

		// One active sender at a time; the read loop runs inline so a new
		// connection is only accepted after this one ends.
		l.setActive(conn)
		l.serveConn(conn)
		l.setActive(nil)
	}
}

// Close unblocks Serve and terminates the active connection, if any.
func (l *Listener) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln != nil {
		l.ln.Close()
	}
	if l.active != nil {
		l.active.Close()
	}
}

func (l *Listener) setActive(conn net.Conn) {
	l.mu.Lock()
	l.active = conn
	l.mu.Unlock()
}

// serveConn runs one sender connection through a fresh decoder until EOF or
// a protocol error. The engine returns to a disconnected status and the
// listener resumes accepting; no process restart is involved.
func (l *Listener) serveConn(conn net.Conn) {
	defer conn.Close()

	dec := NewDecoder()
	buf := make([]byte, readBufSize)
	started := false

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			samples, derr := dec.Feed(buf[:n])
			if derr != nil {
				l.log.Warn("terminating sender", "err", derr)
				l.handler.StreamEnded(derr)
				return
			}
			if !started {
				if sampleRate, ok := dec.Rate(); ok {
					started = true
					l.handler.StreamStarted(sampleRate)
				}
			}
			if len(samples) > 0 {
				l.handler.StreamFrames(samples)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				// Clean sender disconnect.
				l.handler.StreamEnded(nil)
			} else {
				l.handler.StreamEnded(err)
			}
			return
		}
	}
}
