// Package changefeed publishes object-change events to a configurable
// broker. Each backend implementation (kafka, rabbitmq, aws, etc.) lives in
// its own sub-package and registers itself with the registry.
package changefeed

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/mauvedb/mauved/internal/ids"
	"github.com/mauvedb/mauved/internal/jsoncodec"
)

// Event ops.
const (
	OpPut              = "put"
	OpDelete           = "delete"
	OpDeleteCollection = "delete_collection"
)

// Event describes one mutation of the object store.
type Event struct {
	ID         string            `json:"id"`
	Op         string            `json:"op"`
	Collection string            `json:"collection"`
	Name       string            `json:"name,omitempty"`
	Labels     map[string]string `json:"labels,omitempty"`
	At         time.Time         `json:"at"`
}

// NewEvent stamps an event with a ULID and the current time.
func NewEvent(op, collection, name string, labels map[string]string) Event {
	return Event{
		ID:         ids.CreateULID(),
		Op:         op,
		Collection: collection,
		Name:       name,
		Labels:     labels,
		At:         time.Now().UTC(),
	}
}

// Transport combines a publisher and subscriber pair produced by a builder.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Builder is the function signature for creating a transport from config.
// Each backend package provides a Builder that it registers by name.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the configuration values needed by changefeed backends.
// The interface lets each backend access only the keys it needs without
// depending on the daemon's config package.
type Config interface {
	// GetChangefeedSystem returns the backend name.
	GetChangefeedSystem() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string

	// NATS (core and JetStream)
	GetNATSURL() string

	// RabbitMQ
	GetRabbitMQURL() string

	// HTTP
	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// Capabilities describes the delivery guarantees of a changefeed backend.
type Capabilities struct {
	// Name is the human-readable name of the backend.
	Name string

	// SupportsOrdering indicates events within a partition/stream are
	// delivered in order.
	SupportsOrdering bool

	// SupportsAck indicates the backend supports explicit acknowledgment.
	SupportsAck bool

	// Durable indicates events survive a broker restart.
	Durable bool

	// MaxMessageSize is the maximum event size in bytes (0 = unknown).
	MaxMessageSize int64
}

// Feed binds a transport to the configured topic and handles event
// encoding. The backend publishes through it; the indexer consumes from it.
type Feed struct {
	transport Transport
	topic     string
}

// NewFeed wraps a transport for the given topic.
func NewFeed(transport Transport, topic string) *Feed {
	return &Feed{transport: transport, topic: topic}
}

// Publish encodes the event as JSON and sends it to the feed topic.
func (f *Feed) Publish(event Event) error {
	payload, err := jsoncodec.Marshal(event)
	if err != nil {
		return err
	}
	msg := message.NewMessage(event.ID, payload)
	msg.Metadata.Set("op", event.Op)
	msg.Metadata.Set("collection", event.Collection)
	return f.transport.Publisher.Publish(f.topic, msg)
}

// Subscribe returns the raw message stream for the feed topic.
func (f *Feed) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	return f.transport.Subscriber.Subscribe(ctx, f.topic)
}

// Topic returns the feed topic name.
func (f *Feed) Topic() string { return f.topic }

// Close shuts down both sides of the transport.
func (f *Feed) Close() error {
	err := f.transport.Publisher.Close()
	if serr := f.transport.Subscriber.Close(); err == nil {
		err = serr
	}
	return err
}

// DecodeEvent unmarshals a feed message back into an Event.
func DecodeEvent(msg *message.Message) (Event, error) {
	var event Event
	if err := jsoncodec.Unmarshal(msg.Payload, &event); err != nil {
		return Event{}, err
	}
	return event, nil
}
