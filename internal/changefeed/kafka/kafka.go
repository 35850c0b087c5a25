// Package kafka provides a Kafka changefeed backend.
package kafka

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/mauvedb/mauved/internal/changefeed"
)

// BackendName is the name used to register this backend.
const BackendName = "kafka"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

func init() {
	changefeed.Register(BackendName, Build, changefeed.Capabilities{
		Name:             BackendName,
		SupportsOrdering: true,
		SupportsAck:      true,
		Durable:          true,
	})
}

// Build creates a new Kafka transport.
func Build(ctx context.Context, cfg changefeed.Config, logger watermill.LoggerAdapter) (changefeed.Transport, error) {
	brokers := cfg.GetKafkaBrokers()
	consumerGroup := cfg.GetKafkaConsumerGroup()

	publisher, err := PublisherFactory(
		kafka.PublisherConfig{
			Brokers:   brokers,
			Marshaler: kafka.DefaultMarshaler{},
		},
		logger,
	)
	if err != nil {
		return changefeed.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		kafka.SubscriberConfig{
			Brokers:       brokers,
			Unmarshaler:   kafka.DefaultMarshaler{},
			ConsumerGroup: consumerGroup,
		},
		logger,
	)
	if err != nil {
		return changefeed.Transport{}, err
	}

	return changefeed.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}
