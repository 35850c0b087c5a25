package changefeed

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

type mockConfig struct {
	system string
}

func (m *mockConfig) GetChangefeedSystem() string   { return m.system }
func (m *mockConfig) GetChangefeedTopic() string    { return "mauve.objects" }
func (m *mockConfig) GetKafkaBrokers() []string     { return nil }
func (m *mockConfig) GetKafkaConsumerGroup() string { return "" }
func (m *mockConfig) GetNATSURL() string            { return "" }
func (m *mockConfig) GetRabbitMQURL() string        { return "" }
func (m *mockConfig) GetHTTPServerAddress() string  { return "" }
func (m *mockConfig) GetHTTPPublisherURL() string   { return "" }
func (m *mockConfig) GetAWSRegion() string          { return "" }
func (m *mockConfig) GetAWSAccountID() string       { return "" }
func (m *mockConfig) GetAWSAccessKeyID() string     { return "" }
func (m *mockConfig) GetAWSSecretAccessKey() string { return "" }
func (m *mockConfig) GetAWSEndpoint() string        { return "" }

type mockPublisher struct{}

func (m *mockPublisher) Publish(topic string, messages ...*message.Message) error { return nil }
func (m *mockPublisher) Close() error                                             { return nil }

type mockSubscriber struct{}

func (m *mockSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ch := make(chan *message.Message)
	close(ch)
	return ch, nil
}

func (m *mockSubscriber) Close() error { return nil }

func mockBuilder(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	return Transport{Publisher: &mockPublisher{}, Subscriber: &mockSubscriber{}}, nil
}

func TestRegistryRegisterAndBuild(t *testing.T) {
	reg := NewRegistry()
	if reg.Has("mock") {
		t.Fatal("expected fresh registry to be empty")
	}

	reg.Register("mock", mockBuilder, Capabilities{Name: "mock", SupportsAck: true})

	if !reg.Has("mock") {
		t.Fatal("expected mock backend to be registered")
	}
	found := false
	for _, name := range reg.Names() {
		if name == "mock" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected Names to contain mock, got %v", reg.Names())
	}

	transport, err := reg.Build(context.Background(), &mockConfig{system: "mock"}, watermill.NopLogger{})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if transport.Publisher == nil || transport.Subscriber == nil {
		t.Fatal("expected built transport to carry both sides")
	}
}

func TestRegistryBuildUnknownSystem(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Build(context.Background(), &mockConfig{system: "carrier-pigeon"}, watermill.NopLogger{}); err == nil {
		t.Fatal("expected unknown system to fail")
	}
}

func TestRegistryBuilderError(t *testing.T) {
	reg := NewRegistry()
	boom := errors.New("broker down")
	reg.Register("failing", func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
		return Transport{}, boom
	}, Capabilities{Name: "failing"})

	if _, err := reg.Build(context.Background(), &mockConfig{system: "failing"}, watermill.NopLogger{}); !errors.Is(err, boom) {
		t.Fatalf("expected builder error to propagate, got %v", err)
	}
}

func TestRegistryCapabilities(t *testing.T) {
	reg := NewRegistry()
	reg.Register("mock", mockBuilder, Capabilities{Name: "mock", SupportsOrdering: true})

	caps := reg.GetCapabilities("mock")
	if !caps.SupportsOrdering {
		t.Fatal("expected registered capabilities back")
	}
	caps = reg.GetCapabilities("missing")
	if caps.Name != "missing" || caps.SupportsOrdering {
		t.Fatalf("expected bare capabilities for unknown backend, got %+v", caps)
	}
}
