package server

import (
	"errors"
	"net"
	"testing"
	"time"
)

func TestListenerAcceptsUntilDrain(t *testing.T) {
	coordinator := NewShutdownCoordinator()
	listener := NewListener("127.0.0.1:0", coordinator, testLogger())

	if listener.State() != ListenerCreated {
		t.Fatalf("expected created state, got %v", listener.State())
	}

	if err := listener.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer listener.Close()

	if listener.State() != ListenerAccepting {
		t.Fatalf("expected accepting state, got %v", listener.State())
	}
	addr := listener.Addr()
	if addr == nil {
		t.Fatal("expected a bound address")
	}

	client, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer client.Close()

	conn, err := listener.AcceptNext()
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	conn.Close()

	coordinator.SignalShutdown(time.Second)
	if _, err := listener.AcceptNext(); !errors.Is(err, ErrListenerClosed) {
		t.Fatalf("expected ErrListenerClosed, got %v", err)
	}
	if listener.State() != ListenerClosed {
		t.Fatalf("expected closed state, got %v", listener.State())
	}

	// Closed is terminal.
	if _, err := listener.AcceptNext(); !errors.Is(err, ErrListenerClosed) {
		t.Fatalf("expected ErrListenerClosed again, got %v", err)
	}
}

func TestListenerBindFailure(t *testing.T) {
	coordinator := NewShutdownCoordinator()

	first := NewListener("127.0.0.1:0", coordinator, testLogger())
	if err := first.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer first.Close()

	// Binding the same address again must fail before accepting anything.
	second := NewListener(first.Addr().String(), coordinator, testLogger())
	if err := second.Start(); err == nil {
		second.Close()
		t.Fatal("expected bind failure on an occupied address")
	}
}

func TestListenerStateStrings(t *testing.T) {
	pairs := map[ListenerState]string{
		ListenerCreated:   "created",
		ListenerBound:     "bound",
		ListenerAccepting: "accepting",
		ListenerDraining:  "draining",
		ListenerClosed:    "closed",
	}
	for state, want := range pairs {
		if state.String() != want {
			t.Fatalf("expected %q, got %q", want, state.String())
		}
	}
}
