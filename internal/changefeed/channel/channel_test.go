package channel

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/mauvedb/mauved/internal/changefeed"
)

func TestChannelBackendIsRegistered(t *testing.T) {
	if !changefeed.DefaultRegistry.Has(BackendName) {
		t.Fatalf("expected %q to be registered", BackendName)
	}
	caps := changefeed.DefaultRegistry.GetCapabilities(BackendName)
	if !caps.SupportsOrdering || !caps.SupportsAck {
		t.Fatalf("expected in-process backend to order and ack, got %+v", caps)
	}
}

func TestBuildProducesWorkingTransport(t *testing.T) {
	transport, err := Build(context.Background(), nil, watermill.NopLogger{})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	messages, err := transport.Subscriber.Subscribe(ctx, "test.topic")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	sent := message.NewMessage(watermill.NewUUID(), []byte(`{"hello":"world"}`))
	if err := transport.Publisher.Publish("test.topic", sent); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case got := <-messages:
		if got.UUID != sent.UUID {
			t.Fatalf("expected message %s, got %s", sent.UUID, got.UUID)
		}
		got.Ack()
	case <-ctx.Done():
		t.Fatal("timed out waiting for the message")
	}

	if err := transport.Publisher.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
}
