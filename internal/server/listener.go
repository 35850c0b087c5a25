package server

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/mauvedb/mauved/internal/logging"
)

// ErrListenerClosed is returned by AcceptNext once the listener has
// drained. Every subsequent call returns it as well.
var ErrListenerClosed = errors.New("mauve: listener closed")

// ListenerState models the socket lifecycle. Accepting -> Draining only
// happens on shutdown; no transition skips Bound.
type ListenerState int32

const (
	ListenerCreated ListenerState = iota
	ListenerBound
	ListenerAccepting
	ListenerDraining
	ListenerClosed
)

func (s ListenerState) String() string {
	switch s {
	case ListenerCreated:
		return "created"
	case ListenerBound:
		return "bound"
	case ListenerAccepting:
		return "accepting"
	case ListenerDraining:
		return "draining"
	case ListenerClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Listener owns the bound TCP socket and yields accepted connections
// until the shutdown coordinator signals drain.
type Listener struct {
	addr        string
	coordinator *ShutdownCoordinator
	logger      logging.ServiceLogger

	ln    net.Listener
	state atomic.Int32
}

// NewListener prepares an unbound listener for the given address.
func NewListener(addr string, coordinator *ShutdownCoordinator, log logging.ServiceLogger) *Listener {
	return &Listener{
		addr:        addr,
		coordinator: coordinator,
		logger:      log,
	}
}

// State returns the listener's current state.
func (l *Listener) State() ListenerState {
	return ListenerState(l.state.Load())
}

// Addr returns the bound address. Only meaningful after Start.
func (l *Listener) Addr() net.Addr {
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Start binds the socket and begins accepting. Binding an address that is
// already in use (or forbidden) fails here, before any connection is
// taken. A goroutine watches the coordinator and closes the socket when
// drain is signalled.
func (l *Listener) Start() error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("mauve: binding %s: %w", l.addr, err)
	}

	l.ln = ln
	l.state.Store(int32(ListenerBound))
	l.logger.Info("Listening", logging.LogFields{"address": ln.Addr().String()})
	l.state.Store(int32(ListenerAccepting))

	go func() {
		<-l.coordinator.Draining()
		l.state.Store(int32(ListenerDraining))
		l.ln.Close()
	}()

	return nil
}

// AcceptNext blocks until a new connection arrives, drain is signalled
// (ErrListenerClosed), or an unrecoverable socket error occurs. Accept
// errors terminate the accept loop but leave in-flight connections alone.
func (l *Listener) AcceptNext() (net.Conn, error) {
	if l.State() >= ListenerDraining {
		l.state.Store(int32(ListenerClosed))
		return nil, ErrListenerClosed
	}

	conn, err := l.ln.Accept()
	if err != nil {
		select {
		case <-l.coordinator.Draining():
			l.state.Store(int32(ListenerClosed))
			return nil, ErrListenerClosed
		default:
		}
		return nil, fmt.Errorf("mauve: accept on %s: %w", l.addr, err)
	}

	return conn, nil
}

// Close releases the socket outside the drain path (startup failures).
func (l *Listener) Close() error {
	l.state.Store(int32(ListenerClosed))
	if l.ln == nil {
		return nil
	}
	return l.ln.Close()
}
