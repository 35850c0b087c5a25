package backend

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/mauvedb/mauved/internal/changefeed"
	"github.com/mauvedb/mauved/internal/config"
	mauveerrors "github.com/mauvedb/mauved/internal/errors"
	"github.com/mauvedb/mauved/internal/logging"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()

	cfg := config.Default()
	cfg.Storage.Path = ":memory:"
	cfg.ObjectMaxSizeMB = 1

	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, watermill.NopLogger{})
	feed := changefeed.NewFeed(changefeed.Transport{Publisher: pubSub, Subscriber: pubSub}, cfg.Changefeed.Topic)

	b, err := Open(cfg, feed, nil, logging.NewWatermillServiceLogger(watermill.NopLogger{}))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestCollectionCreatedOnFirstUse(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	if _, err := b.Collection(ctx, "invoices"); err != nil {
		t.Fatalf("collection failed: %v", err)
	}

	names, err := b.ListCollections(ctx)
	if err != nil {
		t.Fatalf("list collections failed: %v", err)
	}
	if len(names) != 1 || names[0] != "invoices" {
		t.Fatalf("expected [invoices], got %v", names)
	}

	if _, err := b.Collection(ctx, ""); !errors.Is(err, mauveerrors.ErrCollectionRequired) {
		t.Fatalf("expected ErrCollectionRequired, got %v", err)
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	coll, err := b.Collection(ctx, "invoices")
	if err != nil {
		t.Fatalf("collection failed: %v", err)
	}

	payload := []byte(`{"total": 120}`)
	meta := Metadata{
		ContentType: "application/json",
		Labels:      map[string]string{"env": "prod", "team": "billing"},
	}

	name, err := coll.Put(ctx, "2026-001", payload, meta, false)
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if name != "2026-001" {
		t.Fatalf("expected stored name back, got %q", name)
	}

	obj, err := coll.Get(ctx, "2026-001")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !bytes.Equal(obj.Object, payload) {
		t.Fatalf("expected payload back, got %q", obj.Object)
	}
	if obj.Meta.ContentType != "application/json" {
		t.Fatalf("expected content type back, got %q", obj.Meta.ContentType)
	}
	if obj.Meta.Size != int64(len(payload)) {
		t.Fatalf("expected size %d, got %d", len(payload), obj.Meta.Size)
	}
	if obj.Meta.Labels["env"] != "prod" || obj.Meta.Labels["team"] != "billing" {
		t.Fatalf("expected labels back, got %v", obj.Meta.Labels)
	}
	if obj.Meta.UpdatedAt.IsZero() {
		t.Fatal("expected updated_at to be stamped")
	}
}

func TestPutWithoutReplaceRejectsExisting(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	coll, _ := b.Collection(ctx, "invoices")
	if _, err := coll.Put(ctx, "a", []byte("one"), Metadata{}, false); err != nil {
		t.Fatalf("first put failed: %v", err)
	}

	if _, err := coll.Put(ctx, "a", []byte("two"), Metadata{}, false); !errors.Is(err, mauveerrors.ErrObjectExists) {
		t.Fatalf("expected ErrObjectExists, got %v", err)
	}

	// The losing put leaves the stored object untouched.
	kept, err := coll.Get(ctx, "a")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(kept.Object) != "one" {
		t.Fatalf("expected original payload to survive, got %q", kept.Object)
	}

	// Replace overwrites.
	if _, err := coll.Put(ctx, "a", []byte("two"), Metadata{}, true); err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	obj, err := coll.Get(ctx, "a")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(obj.Object) != "two" {
		t.Fatalf("expected replaced payload, got %q", obj.Object)
	}
}

func TestPutRejectsOversizedObject(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	coll, _ := b.Collection(ctx, "blobs")
	huge := make([]byte, 1024*1024+1)
	if _, err := coll.Put(ctx, "big", huge, Metadata{}, false); !errors.Is(err, mauveerrors.ErrObjectTooLarge) {
		t.Fatalf("expected ErrObjectTooLarge, got %v", err)
	}
}

func TestHeadAndDescribe(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	coll, _ := b.Collection(ctx, "invoices")
	if _, err := coll.Put(ctx, "a", []byte("x"), Metadata{Labels: map[string]string{"env": "dev"}}, false); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	found, err := coll.Head(ctx, "a")
	if err != nil || !found {
		t.Fatalf("expected head to find the object, got found=%v err=%v", found, err)
	}
	found, err = coll.Head(ctx, "missing")
	if err != nil || found {
		t.Fatalf("expected head to miss, got found=%v err=%v", found, err)
	}

	meta, err := coll.Describe(ctx, "a")
	if err != nil {
		t.Fatalf("describe failed: %v", err)
	}
	if meta.Labels["env"] != "dev" || meta.Size != 1 {
		t.Fatalf("unexpected metadata: %+v", meta)
	}

	if _, err := coll.Describe(ctx, "missing"); !errors.Is(err, mauveerrors.ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
	if _, err := coll.Get(ctx, "missing"); !errors.Is(err, mauveerrors.ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestDeleteReturnsOldPayload(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	coll, _ := b.Collection(ctx, "invoices")
	coll.Put(ctx, "a", []byte("payload"), Metadata{}, false)

	old, err := coll.Delete(ctx, "a")
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if string(old) != "payload" {
		t.Fatalf("expected old payload back, got %q", old)
	}

	// Deleting an absent object is a no-op.
	old, err = coll.Delete(ctx, "a")
	if err != nil {
		t.Fatalf("second delete failed: %v", err)
	}
	if old != nil {
		t.Fatalf("expected nil for absent object, got %q", old)
	}
}

func TestListWithPrefix(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	coll, _ := b.Collection(ctx, "invoices")
	for _, name := range []string{"2025-001", "2026-001", "2026-002", "draft"} {
		if _, err := coll.Put(ctx, name, []byte("x"), Metadata{}, false); err != nil {
			t.Fatalf("put %s failed: %v", name, err)
		}
	}

	names, err := coll.List(ctx, "2026-")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(names) != 2 || names[0] != "2026-001" || names[1] != "2026-002" {
		t.Fatalf("expected sorted 2026 names, got %v", names)
	}

	all, err := coll.List(ctx, "")
	if err != nil {
		t.Fatalf("list all failed: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 names, got %v", all)
	}
}

func TestListWithNonASCIIPrefix(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	coll, _ := b.Collection(ctx, "docs")
	for _, name := range []string{"héllo-1", "héllo-2", "hello", "høst"} {
		if _, err := coll.Put(ctx, name, []byte("x"), Metadata{}, false); err != nil {
			t.Fatalf("put %s failed: %v", name, err)
		}
	}

	// Multi-byte runes in the prefix must match byte-for-byte.
	names, err := coll.List(ctx, "hé")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(names) != 2 || names[0] != "héllo-1" || names[1] != "héllo-2" {
		t.Fatalf("expected both héllo names, got %v", names)
	}

	names, err = coll.List(ctx, "høst")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(names) != 1 || names[0] != "høst" {
		t.Fatalf("expected the exact name, got %v", names)
	}
}

func TestDeleteCollection(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	coll, _ := b.Collection(ctx, "invoices")
	coll.Put(ctx, "a", []byte("x"), Metadata{}, false)

	if err := b.DeleteCollection(ctx, "invoices"); err != nil {
		t.Fatalf("delete collection failed: %v", err)
	}

	names, err := b.ListCollections(ctx)
	if err != nil {
		t.Fatalf("list collections failed: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("expected no collections, got %v", names)
	}

	if err := b.DeleteCollection(ctx, "invoices"); !errors.Is(err, mauveerrors.ErrCollectionNotFound) {
		t.Fatalf("expected ErrCollectionNotFound, got %v", err)
	}
}

func TestStatusAggregates(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	invoices, _ := b.Collection(ctx, "invoices")
	invoices.Put(ctx, "a", []byte("1234"), Metadata{}, false)
	invoices.Put(ctx, "b", []byte("56"), Metadata{}, false)
	b.Collection(ctx, "empty")

	state, err := b.Status(ctx)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if state.Objects != 2 || state.Bytes != 6 {
		t.Fatalf("expected 2 objects / 6 bytes, got %+v", state)
	}
	if len(state.Collections) != 2 {
		t.Fatalf("expected 2 collections, got %+v", state.Collections)
	}
	// Sorted by name: empty first.
	if state.Collections[0].Name != "empty" || state.Collections[0].Objects != 0 {
		t.Fatalf("expected empty collection first, got %+v", state.Collections[0])
	}
}

func TestClosedBackendRejectsOperations(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	if err := b.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	// Close is idempotent.
	if err := b.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}

	if _, err := b.Collection(ctx, "x"); !errors.Is(err, mauveerrors.ErrBackendClosed) {
		t.Fatalf("expected ErrBackendClosed, got %v", err)
	}
	if _, err := b.ListCollections(ctx); !errors.Is(err, mauveerrors.ErrBackendClosed) {
		t.Fatalf("expected ErrBackendClosed, got %v", err)
	}
	if _, err := b.Status(ctx); !errors.Is(err, mauveerrors.ErrBackendClosed) {
		t.Fatalf("expected ErrBackendClosed, got %v", err)
	}
}
