package backend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/mauvedb/mauved/internal/changefeed"
	"github.com/mauvedb/mauved/internal/logging"
)

// reportInterval is how often the indexer logs that it is alive.
const reportInterval = 120 * time.Second

// indexer consumes object-change events from the changefeed and maintains
// the label index. Per-object index rows are written only here;
// DeleteCollection additionally clears a collection's rows in-line as
// part of its cascade.
type indexer struct {
	backend *Backend
	logger  logging.ServiceLogger
}

func newIndexer(b *Backend) *indexer {
	return &indexer{
		backend: b,
		logger:  b.logger.With(logging.LogFields{"component": "indexer"}),
	}
}

// Run consumes the feed until ctx is cancelled or the feed closes.
func (ix *indexer) Run(ctx context.Context) error {
	if ix.backend.feed == nil {
		ix.logger.Info("No changefeed configured, label index disabled", nil)
		return nil
	}

	events, err := ix.backend.feed.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("indexer: subscribing to %s: %w", ix.backend.feed.Topic(), err)
	}

	report := time.NewTicker(reportInterval)
	defer report.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-report.C:
			collections, err := ix.backend.ListCollections(ctx)
			if err == nil {
				ix.logger.Info("Indexer is alive", logging.LogFields{
					"watching": strings.Join(collections, ", "),
				})
			}
		case msg, ok := <-events:
			if !ok {
				return nil
			}
			ix.apply(ctx, msg)
		}
	}
}

func (ix *indexer) apply(ctx context.Context, msg *message.Message) {
	event, err := changefeed.DecodeEvent(msg)
	if err != nil {
		ix.logger.Error("Dropping undecodable changefeed event", err, logging.LogFields{
			"message_id": msg.UUID,
		})
		msg.Ack()
		return
	}

	if err := ix.index(ctx, event); err != nil {
		ix.logger.Error("Failed to apply changefeed event", err, logging.LogFields{
			"event_id":   event.ID,
			"op":         event.Op,
			"collection": event.Collection,
		})
		msg.Nack()
		return
	}

	msg.Ack()
}

func (ix *indexer) index(ctx context.Context, event changefeed.Event) error {
	db := ix.backend.db

	switch event.Op {
	case changefeed.OpPut:
		if _, err := db.ExecContext(ctx,
			`DELETE FROM label_index WHERE collection = ? AND object = ?`,
			event.Collection, event.Name,
		); err != nil {
			return err
		}
		for name, value := range event.Labels {
			if _, err := db.ExecContext(ctx,
				`INSERT OR IGNORE INTO label_index (collection, label, object) VALUES (?, ?, ?)`,
				event.Collection, NewLabel(name, value).String(), event.Name,
			); err != nil {
				return err
			}
		}
		return nil

	case changefeed.OpDelete:
		_, err := db.ExecContext(ctx,
			`DELETE FROM label_index WHERE collection = ? AND object = ?`,
			event.Collection, event.Name,
		)
		return err

	case changefeed.OpDeleteCollection:
		_, err := db.ExecContext(ctx,
			`DELETE FROM label_index WHERE collection = ?`,
			event.Collection,
		)
		return err

	default:
		ix.logger.Debug("Ignoring changefeed event with unknown op", logging.LogFields{
			"op": event.Op,
		})
		return nil
	}
}
