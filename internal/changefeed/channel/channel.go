// Package channel provides the in-process changefeed backend. It is the
// default: the label indexer consumes from the same gochannel bus the
// backend publishes to, with no external broker involved.
package channel

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/mauvedb/mauved/internal/changefeed"
)

// BackendName is the name used to register this backend.
const BackendName = "channel"

// GoChannelFactory allows overriding the pub/sub creation for testing.
var GoChannelFactory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

func init() {
	changefeed.Register(BackendName, Build, changefeed.Capabilities{
		Name:             BackendName,
		SupportsOrdering: true,
		SupportsAck:      true,
	})
}

// Build creates a new in-process transport.
func Build(ctx context.Context, cfg changefeed.Config, logger watermill.LoggerAdapter) (changefeed.Transport, error) {
	pub, sub := GoChannelFactory(gochannel.Config{}, logger)

	return changefeed.Transport{
		Publisher:  pub,
		Subscriber: sub,
	}, nil
}
