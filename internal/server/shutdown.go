package server

import (
	"sync"
	"sync/atomic"
	"time"
)

// ShutdownState is the process-wide lifecycle state. It only moves
// forward: running -> draining -> stopped.
type ShutdownState int32

const (
	StateRunning ShutdownState = iota
	StateDraining
	StateStopped
)

func (s ShutdownState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ShutdownCoordinator owns the drain flag. SignalShutdown transitions to
// draining exactly once; later calls are no-ops. Readers observe the
// transition through the Draining channel rather than polling a shared
// variable.
type ShutdownCoordinator struct {
	state atomic.Int32

	draining  chan struct{}
	drainOnce sync.Once

	stopped  chan struct{}
	stopOnce sync.Once

	deadlineMu sync.Mutex
	deadline   time.Duration
}

// NewShutdownCoordinator starts in the running state.
func NewShutdownCoordinator() *ShutdownCoordinator {
	return &ShutdownCoordinator{
		draining: make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (c *ShutdownCoordinator) State() ShutdownState {
	return ShutdownState(c.state.Load())
}

// SignalShutdown requests a graceful drain bounded by deadline. The first
// call wins; the deadline of subsequent calls is ignored.
func (c *ShutdownCoordinator) SignalShutdown(deadline time.Duration) {
	c.drainOnce.Do(func() {
		c.deadlineMu.Lock()
		c.deadline = deadline
		c.deadlineMu.Unlock()

		c.state.Store(int32(StateDraining))
		close(c.draining)
	})
}

// Draining is closed once shutdown has been signalled.
func (c *ShutdownCoordinator) Draining() <-chan struct{} {
	return c.draining
}

// DrainDeadline returns the deadline passed to the winning SignalShutdown
// call. Only meaningful after Draining is closed.
func (c *ShutdownCoordinator) DrainDeadline() time.Duration {
	c.deadlineMu.Lock()
	defer c.deadlineMu.Unlock()
	return c.deadline
}

// markStopped records that the drain has finished. Idempotent.
func (c *ShutdownCoordinator) markStopped() {
	c.stopOnce.Do(func() {
		c.state.Store(int32(StateStopped))
		close(c.stopped)
	})
}

// Stopped is closed once the daemon has fully drained (or was forced).
func (c *ShutdownCoordinator) Stopped() <-chan struct{} {
	return c.stopped
}
