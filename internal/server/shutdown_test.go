package server

import (
	"testing"
	"time"
)

func TestShutdownCoordinatorLifecycle(t *testing.T) {
	c := NewShutdownCoordinator()
	if c.State() != StateRunning {
		t.Fatalf("expected running, got %v", c.State())
	}

	select {
	case <-c.Draining():
		t.Fatal("draining channel closed before signal")
	default:
	}

	c.SignalShutdown(30 * time.Second)
	if c.State() != StateDraining {
		t.Fatalf("expected draining, got %v", c.State())
	}

	select {
	case <-c.Draining():
	default:
		t.Fatal("expected draining channel to be closed")
	}
	if c.DrainDeadline() != 30*time.Second {
		t.Fatalf("expected 30s grace, got %v", c.DrainDeadline())
	}

	c.markStopped()
	if c.State() != StateStopped {
		t.Fatalf("expected stopped, got %v", c.State())
	}
	select {
	case <-c.Stopped():
	default:
		t.Fatal("expected stopped channel to be closed")
	}
}

func TestSignalShutdownFirstCallWins(t *testing.T) {
	c := NewShutdownCoordinator()

	c.SignalShutdown(10 * time.Second)
	c.SignalShutdown(99 * time.Second)

	if c.DrainDeadline() != 10*time.Second {
		t.Fatalf("expected the first grace to stick, got %v", c.DrainDeadline())
	}
}

func TestMarkStoppedIsIdempotent(t *testing.T) {
	c := NewShutdownCoordinator()
	c.SignalShutdown(time.Second)

	// A second call must not panic on the closed channel.
	c.markStopped()
	c.markStopped()

	if c.State() != StateStopped {
		t.Fatalf("expected stopped, got %v", c.State())
	}
}

func TestStateStrings(t *testing.T) {
	pairs := map[ShutdownState]string{
		StateRunning:  "running",
		StateDraining: "draining",
		StateStopped:  "stopped",
	}
	for state, want := range pairs {
		if state.String() != want {
			t.Fatalf("expected %q, got %q", want, state.String())
		}
	}
}
