// Package conn implements the connection endpoint shared by both sides of
// the protocol: it owns one net.Conn, accumulates inbound bytes, decodes
// whole frames off the front of its buffer, and delivers each to an
// injected handler. A decode error or a handler error closes the stream —
// errors are fatal to the one connection, never to the process, mirroring
// asyncirc.protocol.BaseProtocol.data_received.
package conn

import (
	"bytes"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/perbu/ircsrv/pkg/frame"
	"github.com/perbu/ircsrv/pkg/logging"
)

// FrameHandler processes one decoded frame arriving on a connection. A
// non-nil return closes the connection (spec.md §4.3: "errors thrown by
// the core handler also close the stream").
type FrameHandler func(*Endpoint, frame.Frame) error

// Endpoint is a live endpoint bound to exactly one TCP stream.
type Endpoint struct {
	Logger *logging.Logger

	conn    net.Conn
	handler FrameHandler

	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

// New wraps conn as an Endpoint that delivers decoded frames to handler.
// Call Serve to start its read loop.
func New(c net.Conn, logger *logging.Logger, handler FrameHandler) *Endpoint {
	return &Endpoint{
		Logger:  logger,
		conn:    c,
		handler: handler,
		closed:  make(chan struct{}),
	}
}

// Closed returns a channel that is closed once the endpoint's stream has
// closed, for any reason. A client's pending calls race this channel
// against their reply.
func (e *Endpoint) Closed() <-chan struct{} {
	return e.closed
}

// Send serializes f and writes it to the stream. Writes are fire-and-forget:
// no application-level acknowledgment is implied.
func (e *Endpoint) Send(f frame.Frame) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if _, err := f.WriteTo(e.conn); err != nil {
		return err
	}
	return nil
}

// Close closes the underlying stream. Safe to call more than once and from
// any goroutine.
func (e *Endpoint) Close() error {
	var err error
	e.closeOnce.Do(func() {
		err = e.conn.Close()
		close(e.closed)
	})
	return err
}

// RemoteAddr returns the stream's remote address.
func (e *Endpoint) RemoteAddr() net.Addr {
	return e.conn.RemoteAddr()
}

// Serve runs the read loop: it reads from the stream, accumulates bytes
// until at least one whole frame is available, and delivers decoded frames
// to the handler in arrival order. It returns once the stream is closed,
// whether by EOF, a decode error, or a handler error; the caller is
// responsible for any cleanup that follows (e.g. deregistering a name).
func (e *Endpoint) Serve() error {
	defer e.Close()

	var buf bytes.Buffer
	readBuf := make([]byte, 32*1024)

	for {
		n, err := e.conn.Read(readBuf)
		if n > 0 {
			buf.Write(readBuf[:n])

			frames, remainder, derr := frame.DecodeAll(buf.Bytes())
			if derr != nil {
				if e.Logger != nil {
					e.Logger.Error("decode error from %s: %v", e.RemoteAddr(), derr)
				}
				return derr
			}

			consumed := buf.Len() - remainder
			for _, f := range frames {
				if herr := e.handler(e, f); herr != nil {
					if e.Logger != nil {
						e.Logger.Error("handler error from %s: %v", e.RemoteAddr(), herr)
					}
					return herr
				}
			}

			// Drop the consumed prefix, keep whatever partial frame remains.
			rest := make([]byte, remainder)
			copy(rest, buf.Bytes()[consumed:])
			buf.Reset()
			buf.Write(rest)
		}

		if err != nil {
			if buf.Len() > 0 && !errors.Is(err, io.EOF) {
				return frame.ErrTruncatedStream
			}
			if buf.Len() > 0 && errors.Is(err, io.EOF) {
				return frame.ErrTruncatedStream
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
	}
}
