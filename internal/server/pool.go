package server

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mauvedb/mauved/internal/config"
)

// ErrAtCapacity is returned by Acquire when every slot is taken and the
// overflow policy does not allow (further) waiting.
var ErrAtCapacity = errors.New("mauve: connection limit reached")

// Slot is one unit of admission capacity. A connection handler holds
// exactly one slot for its whole lifetime. Release is safe to call more
// than once; only the first call returns the capacity.
type Slot struct {
	pool *DispatchPool
	once sync.Once
}

// Release returns the slot to the pool.
func (s *Slot) Release() {
	s.once.Do(func() {
		s.pool.active.Add(-1)
		s.pool.slots <- struct{}{}
	})
}

// DispatchPool bounds handler concurrency with a fixed arena of slots.
// Blocked acquirers are served in arrival order: a freed slot goes to the
// longest-waiting one (channel receivers queue FIFO in the runtime).
type DispatchPool struct {
	slots  chan struct{}
	policy string
	wait   time.Duration
	active atomic.Int64
}

// NewDispatchPool creates a pool with the given slot count. policy is one
// of config.OverflowReject or config.OverflowBlock; wait bounds the block.
func NewDispatchPool(limit int, policy string, wait time.Duration) *DispatchPool {
	slots := make(chan struct{}, limit)
	for i := 0; i < limit; i++ {
		slots <- struct{}{}
	}
	return &DispatchPool{
		slots:  slots,
		policy: policy,
		wait:   wait,
	}
}

// Acquire claims a slot for one connection. Under the reject policy a
// full pool fails immediately with ErrAtCapacity; under the block policy
// the caller waits up to the configured accept wait. A cancelled context
// also aborts the wait.
func (p *DispatchPool) Acquire(ctx context.Context) (*Slot, error) {
	select {
	case <-p.slots:
		p.active.Add(1)
		return &Slot{pool: p}, nil
	default:
	}

	if p.policy != config.OverflowBlock {
		return nil, ErrAtCapacity
	}

	timer := time.NewTimer(p.wait)
	defer timer.Stop()

	select {
	case <-p.slots:
		p.active.Add(1)
		return &Slot{pool: p}, nil
	case <-timer.C:
		return nil, ErrAtCapacity
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Active returns the number of currently held slots.
func (p *DispatchPool) Active() int {
	return int(p.active.Load())
}

// Capacity returns the configured slot count.
func (p *DispatchPool) Capacity() int {
	return cap(p.slots)
}
