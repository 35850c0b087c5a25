package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"sync"
	"time"

	mauveerrors "github.com/mauvedb/mauved/internal/errors"
	"github.com/mauvedb/mauved/internal/logging"
)

// handlerConfig is the per-connection slice of the server config.
type handlerConfig struct {
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration
	maxObjectBytes int64
}

// connHandler drives one connection through its lifecycle: read a
// request, dispatch it, write the response, repeat until the peer hangs
// up, a deadline expires, or shutdown aborts the socket. Whatever the
// exit path, finalize runs exactly once.
type connHandler struct {
	conn    *Conn
	slot    *Slot
	router  *Router
	cfg     handlerConfig
	metrics *Metrics
	logger  logging.ServiceLogger

	finalizeOnce sync.Once
}

func newConnHandler(conn *Conn, slot *Slot, router *Router, cfg handlerConfig, metrics *Metrics, log logging.ServiceLogger) *connHandler {
	return &connHandler{
		conn:    conn,
		slot:    slot,
		router:  router,
		cfg:     cfg,
		metrics: metrics,
		logger: log.With(logging.LogFields{
			"conn_id": conn.ID,
			"remote":  conn.RemoteAddr,
		}),
	}
}

// run serves the connection until it ends, then reports how. KindNone
// means the session closed cleanly. A panic anywhere below is contained
// here: the connection finalizes as a handler error and the rest of the
// daemon keeps serving.
func (h *connHandler) run(ctx context.Context) (kind ErrorKind) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("Handler panicked", fmt.Errorf("panic: %v", rec), logging.LogFields{
				"stack": string(debug.Stack()),
			})
			kind = KindHandlerError
			h.finalize(kind)
		}
	}()

	// The idle deadline is absolute: no session outlives it regardless of
	// how busy the exchange is.
	idleDeadline := h.conn.AcceptedAt.Add(h.cfg.idleTimeout)
	reader := newWireReader(h.conn, h.cfg.maxObjectBytes)

	for {
		h.conn.transition(ConnReading)
		h.conn.netConn.SetReadDeadline(earlier(time.Now().Add(h.cfg.readTimeout), idleDeadline))

		req, err := reader.Next()
		if err != nil {
			kind := h.classifyRead(err)
			if kind == KindProtocolViolation {
				// Best effort: tell the peer what it did before hanging up.
				h.conn.netConn.SetWriteDeadline(time.Now().Add(h.cfg.writeTimeout))
				writeResponse(h.conn, errResponse(err))
			}
			h.finalize(kind)
			return kind
		}

		h.conn.transition(ConnProcessing)
		resp, kind, dispatchErr := h.router.Dispatch(ctx, req)

		h.conn.transition(ConnWriting)
		h.conn.netConn.SetWriteDeadline(earlier(time.Now().Add(h.cfg.writeTimeout), idleDeadline))
		if err := writeResponse(h.conn, resp); err != nil {
			kind := h.classifyWrite(err)
			h.finalize(kind)
			return kind
		}

		// A failed dispatch gets its error response, then the session ends.
		// Client mistakes (KindNone with an error response) do not.
		if kind != KindNone {
			if kind == KindHandlerError {
				h.logger.Error("Request failed", dispatchErr, logging.LogFields{"op": req.Op})
			}
			h.finalize(kind)
			return kind
		}
	}
}

func (h *connHandler) classifyRead(err error) ErrorKind {
	switch {
	case h.conn.Forced():
		return KindForcedShutdown
	case errors.Is(err, io.EOF):
		return KindNone
	case isTimeout(err):
		return KindReadTimeout
	case errors.Is(err, mauveerrors.ErrRequestTooLarge),
		errors.Is(err, mauveerrors.ErrMalformedRequest):
		return KindProtocolViolation
	default:
		// The peer went away mid-read. Not our failure.
		return KindNone
	}
}

func (h *connHandler) classifyWrite(err error) ErrorKind {
	switch {
	case h.conn.Forced():
		return KindForcedShutdown
	case isTimeout(err):
		return KindWriteTimeout
	default:
		return KindNone
	}
}

// finalize tears the connection down: socket closed, slot returned,
// counters settled. Safe to call from any exit path; only the first call
// does anything.
func (h *connHandler) finalize(kind ErrorKind) {
	h.finalizeOnce.Do(func() {
		h.conn.transition(ConnClosing)
		h.conn.closeSocket()
		if kind == KindNone {
			h.conn.transition(ConnClosed)
		} else {
			h.conn.transition(ConnFailed)
		}
		h.slot.Release()
		h.metrics.connFinished(kind, h.conn.BytesRead(), h.conn.BytesWritten())

		fields := logging.LogFields{
			"duration_ms":   time.Since(h.conn.AcceptedAt).Milliseconds(),
			"bytes_read":    h.conn.BytesRead(),
			"bytes_written": h.conn.BytesWritten(),
		}
		if kind == KindNone {
			h.logger.Debug("Connection closed", fields)
		} else {
			fields["kind"] = kind.String()
			h.logger.Info("Connection failed", fields)
		}
	})
}

func earlier(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
