// Package http provides a webhook changefeed backend. Events are POSTed to
// a configured base URL; the subscriber side listens for events pushed the
// same way, which keeps the label indexer working over this backend too.
package http

import (
	"context"
	nethttp "net/http"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/mauvedb/mauved/internal/changefeed"
)

// BackendName is the name used to register this backend.
const BackendName = "http"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(config http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return http.NewPublisher(config, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(addr string, config http.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return http.NewSubscriber(addr, config, logger)
}

func init() {
	changefeed.Register(BackendName, Build, changefeed.Capabilities{
		Name: BackendName,
	})
}

// Build creates a new HTTP transport.
func Build(ctx context.Context, cfg changefeed.Config, logger watermill.LoggerAdapter) (changefeed.Transport, error) {
	serverAddr := cfg.GetHTTPServerAddress()
	publisherURL := cfg.GetHTTPPublisherURL()

	publisher, err := PublisherFactory(
		http.PublisherConfig{
			MarshalMessageFunc: func(topic string, msg *message.Message) (*nethttp.Request, error) {
				url := publisherURL + topic
				return http.DefaultMarshalMessageFunc(url, msg)
			},
		},
		logger,
	)
	if err != nil {
		return changefeed.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		serverAddr,
		http.SubscriberConfig{
			UnmarshalMessageFunc: http.DefaultUnmarshalMessageFunc,
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
