package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/mauvedb/mauved/internal/backend"
	"github.com/mauvedb/mauved/internal/config"
	"github.com/mauvedb/mauved/internal/logging"
)

// ErrForcedShutdown is returned by Serve when the drain deadline passed
// with connections still open and they had to be aborted.
var ErrForcedShutdown = errors.New("mauve: shutdown forced after drain deadline")

// Server ties the listener, the dispatch pool, and the per-connection
// handlers together. One Server serves one address for its lifetime.
type Server struct {
	cfg         *config.Config
	router      *Router
	pool        *DispatchPool
	listener    *Listener
	coordinator *ShutdownCoordinator
	metrics     *Metrics
	logger      logging.ServiceLogger

	mu    sync.Mutex
	conns map[string]*Conn
	wg    sync.WaitGroup
}

func NewServer(cfg *config.Config, b *backend.Backend, coordinator *ShutdownCoordinator, metrics *Metrics, log logging.ServiceLogger) *Server {
	return &Server{
		cfg:         cfg,
		router:      NewRouter(b, cfg.SearchTimeout.Std()),
		pool:        NewDispatchPool(cfg.MaxConnections, cfg.OverflowPolicy, cfg.AcceptWait.Std()),
		listener:    NewListener(cfg.ListenAddr, coordinator, log),
		coordinator: coordinator,
		metrics:     metrics,
		logger:      log.With(logging.LogFields{"component": "server"}),
		conns:       make(map[string]*Conn),
	}
}

// Pool exposes the dispatch pool, mainly for status reporting.
func (s *Server) Pool() *DispatchPool {
	return s.pool
}

// Addr returns the bound listen address, or nil before Serve has bound.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve binds the listener and runs the accept loop until shutdown is
// signalled, then drains. It returns nil on a clean drain and
// ErrForcedShutdown when stragglers had to be aborted.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.listener.Start(); err != nil {
		return err
	}

	for {
		nc, err := s.listener.AcceptNext()
		if err != nil {
			if errors.Is(err, ErrListenerClosed) {
				break
			}
			// An unrecoverable accept error ends the accept loop only.
			// In-flight connections keep their full drain window.
			s.logger.Error("Accept loop stopped", err, nil)
			s.listener.Close()
			s.coordinator.SignalShutdown(s.cfg.DrainTimeout.Std())
			if drainErr := s.drain(); drainErr != nil {
				return errors.Join(err, drainErr)
			}
			return err
		}
		s.admit(ctx, nc)
	}

	return s.drain()
}

// admit claims a slot for the accepted socket and hands it to a handler
// goroutine, or turns the peer away per the overflow policy.
func (s *Server) admit(ctx context.Context, nc net.Conn) {
	slot, err := s.pool.Acquire(ctx)
	if err != nil {
		s.reject(nc)
		return
	}

	conn := newConn(nc)
	s.metrics.connAccepted()
	s.track(conn)

	handler := newConnHandler(conn, slot, s.router, handlerConfig{
		readTimeout:    s.cfg.ReadTimeout.Std(),
		writeTimeout:   s.cfg.WriteTimeout.Std(),
		idleTimeout:    s.cfg.IdleTimeout.Std(),
		maxObjectBytes: s.cfg.ObjectMaxSizeBytes(),
	}, s.metrics, s.logger)

	// Handlers outlive the accept context: draining means letting them
	// finish, not cancelling their work. Stragglers are aborted through
	// the socket instead.
	handlerCtx := context.WithoutCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.untrack(conn)
		handler.run(handlerCtx)
	}()
}

// reject answers an over-capacity peer with one error line and closes.
// No slot is held, so this never blocks the accept loop for long.
func (s *Server) reject(nc net.Conn) {
	s.metrics.connRejected()
	nc.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout.Std()))
	writeResponse(nc, errResponse(ErrAtCapacity))
	nc.Close()
	s.logger.Debug("Connection rejected", logging.LogFields{
		"remote": nc.RemoteAddr().String(),
		"kind":   KindAtCapacity.String(),
	})
}

func (s *Server) track(conn *Conn) {
	s.mu.Lock()
	s.conns[conn.ID] = conn
	s.mu.Unlock()
}

func (s *Server) untrack(conn *Conn) {
	s.mu.Lock()
	delete(s.conns, conn.ID)
	s.mu.Unlock()
}

// drain waits for in-flight handlers until the coordinator's deadline,
// then aborts whatever is left.
func (s *Server) drain() error {
	grace := s.coordinator.DrainDeadline()
	s.logger.Info("Draining", logging.LogFields{
		"active": s.pool.Active(),
		"grace":  grace.String(),
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	forced := false
	select {
	case <-done:
	case <-time.After(grace):
		forced = true
		s.abortAll()
		<-done
	}

	s.coordinator.markStopped()
	s.metrics.shutdownFinished(forced)
	if forced {
		return ErrForcedShutdown
	}
	s.logger.Info("Drained cleanly", nil)
	return nil
}

// abortAll force-closes every tracked connection. Their handlers observe
// the closed socket and finalize with the forced_shutdown kind.
func (s *Server) abortAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Info("Drain deadline passed, aborting connections", logging.LogFields{
		"remaining": len(s.conns),
	})
	for _, conn := range s.conns {
		conn.Abort()
	}
}
