package server

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mauvedb/mauved/internal/ids"
)

// ConnState is the per-connection state machine. Failed is terminal and
// reachable from any non-terminal state.
type ConnState int32

const (
	ConnAccepted ConnState = iota
	ConnReading
	ConnProcessing
	ConnWriting
	ConnClosing
	ConnClosed
	ConnFailed
)

func (s ConnState) String() string {
	switch s {
	case ConnAccepted:
		return "accepted"
	case ConnReading:
		return "reading"
	case ConnProcessing:
		return "processing"
	case ConnWriting:
		return "writing"
	case ConnClosing:
		return "closing"
	case ConnClosed:
		return "closed"
	case ConnFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrorKind classifies why a connection ended up in the Failed state.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindReadTimeout
	KindWriteTimeout
	KindProtocolViolation
	KindHandlerError
	KindForcedShutdown
	KindAtCapacity
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindReadTimeout:
		return "read_timeout"
	case KindWriteTimeout:
		return "write_timeout"
	case KindProtocolViolation:
		return "protocol_violation"
	case KindHandlerError:
		return "handler_error"
	case KindForcedShutdown:
		return "forced_shutdown"
	case KindAtCapacity:
		return "at_capacity"
	default:
		return "unknown"
	}
}

// Conn is one accepted network session. It is owned exclusively by its
// handler; the socket is closed exactly once through closeSocket no matter
// which exit path the handler takes.
type Conn struct {
	ID         string
	RemoteAddr string
	AcceptedAt time.Time

	netConn net.Conn

	state        atomic.Int32
	bytesRead    atomic.Int64
	bytesWritten atomic.Int64

	forced    atomic.Bool
	closeOnce sync.Once
}

func newConn(nc net.Conn) *Conn {
	return &Conn{
		ID:         ids.CreateULID(),
		RemoteAddr: nc.RemoteAddr().String(),
		AcceptedAt: time.Now(),
		netConn:    nc,
	}
}

// State returns the connection's current state.
func (c *Conn) State() ConnState {
	return ConnState(c.state.Load())
}

func (c *Conn) transition(to ConnState) {
	c.state.Store(int32(to))
}

// BytesRead returns the number of request bytes consumed so far.
func (c *Conn) BytesRead() int64 { return c.bytesRead.Load() }

// BytesWritten returns the number of response bytes flushed so far.
func (c *Conn) BytesWritten() int64 { return c.bytesWritten.Load() }

// Read counts bytes through to the underlying socket.
func (c *Conn) Read(p []byte) (int, error) {
	n, err := c.netConn.Read(p)
	c.bytesRead.Add(int64(n))
	return n, err
}

// Write counts bytes through to the underlying socket.
func (c *Conn) Write(p []byte) (int, error) {
	n, err := c.netConn.Write(p)
	c.bytesWritten.Add(int64(n))
	return n, err
}

// Abort marks the connection as forcibly terminated and closes the
// socket, unblocking any in-flight read or write. Used by the shutdown
// deadline.
func (c *Conn) Abort() {
	c.forced.Store(true)
	c.closeSocket()
}

// Forced reports whether the connection was aborted by shutdown.
func (c *Conn) Forced() bool {
	return c.forced.Load()
}

// closeSocket closes the underlying socket exactly once.
func (c *Conn) closeSocket() {
	c.closeOnce.Do(func() {
		c.netConn.Close()
	})
}
