// Package backend implements the SQLite-backed object store: named
// collections of binary objects with metadata, a label index maintained
// from the changefeed, and label search on top of the index.
package backend

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/mauvedb/mauved/internal/changefeed"
	"github.com/mauvedb/mauved/internal/config"
	mauveerrors "github.com/mauvedb/mauved/internal/errors"
	"github.com/mauvedb/mauved/internal/logging"
)

const schema = `
CREATE TABLE IF NOT EXISTS collections (
	name       TEXT PRIMARY KEY,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS objects (
	collection       TEXT NOT NULL,
	name             TEXT NOT NULL,
	data             BLOB NOT NULL,
	content_type     TEXT NOT NULL DEFAULT '',
	content_encoding TEXT NOT NULL DEFAULT '',
	content_language TEXT NOT NULL DEFAULT '',
	size             INTEGER NOT NULL,
	labels           TEXT NOT NULL DEFAULT '',
	updated_at       TEXT NOT NULL,
	PRIMARY KEY (collection, name)
);

CREATE TABLE IF NOT EXISTS label_index (
	collection TEXT NOT NULL,
	label      TEXT NOT NULL,
	object     TEXT NOT NULL,
	PRIMARY KEY (collection, label, object)
);

CREATE INDEX IF NOT EXISTS idx_label_index_lookup ON label_index (collection, label);
`

// Backend owns the SQLite database and the changefeed the store publishes
// mutations to. It is safe for concurrent use by connection handlers.
type Backend struct {
	db      *sql.DB
	path    string
	maxSize int64
	feed    *changefeed.Feed
	logger  logging.ServiceLogger
	metrics *Metrics
	closed  atomic.Bool
}

// Open opens (or creates) the database at the configured path and prepares
// the schema. The feed receives one event per mutation; the label indexer
// is started separately via StartIndexer.
func Open(cfg *config.Config, feed *changefeed.Feed, metrics *Metrics, log logging.ServiceLogger) (*Backend, error) {
	db, err := sql.Open("sqlite3", cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("backend: opening %s: %w", cfg.Storage.Path, err)
	}

	// A single connection keeps writes serialised and makes ":memory:"
	// behave as one database rather than one per pooled connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("backend: preparing schema: %w", err)
	}

	b := &Backend{
		db:      db,
		path:    cfg.Storage.Path,
		maxSize: cfg.ObjectMaxSizeBytes(),
		feed:    feed,
		logger:  log,
		metrics: metrics,
	}

	log.Info("Backend opened", logging.LogFields{"path": cfg.Storage.Path})
	return b, nil
}

// StartIndexer runs the label indexer until ctx is cancelled. Call it in
// its own goroutine after Open.
func (b *Backend) StartIndexer(ctx context.Context) error {
	indexer := newIndexer(b)
	return indexer.Run(ctx)
}

// Collection returns a handle for the named collection, creating it on
// first use (opening a collection is how collections come to exist).
func (b *Backend) Collection(ctx context.Context, name string) (*Collection, error) {
	if b.closed.Load() {
		return nil, mauveerrors.ErrBackendClosed
	}
	if name == "" {
		return nil, mauveerrors.ErrCollectionRequired
	}

	_, err := b.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO collections (name, created_at) VALUES (?, ?)`,
		name, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("backend: creating collection %q: %w", name, err)
	}

	return &Collection{name: name, backend: b}, nil
}

// ListCollections returns the names of every collection on this backend.
func (b *Backend) ListCollections(ctx context.Context) ([]string, error) {
	if b.closed.Load() {
		return nil, mauveerrors.ErrBackendClosed
	}

	rows, err := b.db.QueryContext(ctx, `SELECT name FROM collections ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("backend: listing collections: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// DeleteCollection removes a collection, its objects, and its index rows.
// This cannot be undone.
func (b *Backend) DeleteCollection(ctx context.Context, name string) error {
	if b.closed.Load() {
		return mauveerrors.ErrBackendClosed
	}
	if name == "" {
		return mauveerrors.ErrCollectionRequired
	}

	res, err := b.db.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, name)
	if err != nil {
		b.metrics.record("delete_collection", err)
		return fmt.Errorf("backend: deleting collection %q: %w", name, err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		b.metrics.record("delete_collection", mauveerrors.ErrCollectionNotFound)
		return mauveerrors.ErrCollectionNotFound
	}

	if _, err := b.db.ExecContext(ctx, `DELETE FROM objects WHERE collection = ?`, name); err != nil {
		return fmt.Errorf("backend: deleting objects of %q: %w", name, err)
	}
	if _, err := b.db.ExecContext(ctx, `DELETE FROM label_index WHERE collection = ?`, name); err != nil {
		return fmt.Errorf("backend: deleting index of %q: %w", name, err)
	}

	b.publish(changefeed.NewEvent(changefeed.OpDeleteCollection, name, "", nil))
	b.metrics.record("delete_collection", nil)
	return nil
}

// CollectionState summarises one collection for status reporting.
type CollectionState struct {
	Name    string `json:"name"`
	Objects int64  `json:"objects"`
	Bytes   int64  `json:"bytes"`
}

// BackendState summarises the whole store for status reporting.
type BackendState struct {
	Path        string            `json:"path"`
	Collections []CollectionState `json:"collections"`
	Objects     int64             `json:"objects"`
	Bytes       int64             `json:"bytes"`
}

// Status reports per-collection object counts and sizes.
func (b *Backend) Status(ctx context.Context) (BackendState, error) {
	if b.closed.Load() {
		return BackendState{}, mauveerrors.ErrBackendClosed
	}

	rows, err := b.db.QueryContext(ctx, `
		SELECT c.name, COUNT(o.name), COALESCE(SUM(o.size), 0)
		FROM collections c
		LEFT JOIN objects o ON o.collection = c.name
		GROUP BY c.name
		ORDER BY c.name`)
	if err != nil {
		return BackendState{}, fmt.Errorf("backend: status: %w", err)
	}
	defer rows.Close()

	state := BackendState{Path: b.path}
	for rows.Next() {
		var cs CollectionState
		if err := rows.Scan(&cs.Name, &cs.Objects, &cs.Bytes); err != nil {
			return BackendState{}, err
		}
		state.Collections = append(state.Collections, cs)
		state.Objects += cs.Objects
		state.Bytes += cs.Bytes
	}
	return state, rows.Err()
}

// Close releases the database. Further calls on the backend fail with
// ErrBackendClosed.
func (b *Backend) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	return b.db.Close()
}

// publish sends a changefeed event, logging rather than failing the
// mutation when the feed is unavailable.
func (b *Backend) publish(event changefeed.Event) {
	if b.feed == nil {
		return
	}
	if err := b.feed.Publish(event); err != nil {
		b.logger.Error("Failed to publish changefeed event", err, logging.LogFields{
			"op":         event.Op,
			"collection": event.Collection,
			"object":     event.Name,
		})
	}
}
