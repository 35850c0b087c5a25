package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mauvedb/mauved/internal/changefeed"
	mauveerrors "github.com/mauvedb/mauved/internal/errors"
)

// Collection is a named namespace of objects. Handles are cheap; they
// carry no state beyond the name and the owning backend.
type Collection struct {
	name    string
	backend *Backend
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Head reports whether an object exists without fetching its payload.
func (c *Collection) Head(ctx context.Context, ident string) (bool, error) {
	if err := c.check(ident); err != nil {
		return false, err
	}

	var one int
	err := c.backend.db.QueryRowContext(ctx,
		`SELECT 1 FROM objects WHERE collection = ? AND name = ?`,
		c.name, ident,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		c.backend.metrics.record("head_object", nil)
		return false, nil
	}
	if err != nil {
		c.backend.metrics.record("head_object", err)
		return false, fmt.Errorf("backend: head %s/%s: %w", c.name, ident, err)
	}
	c.backend.metrics.record("head_object", nil)
	return true, nil
}

// Get returns an object's payload and metadata by its name.
func (c *Collection) Get(ctx context.Context, ident string) (ObjectWithMetadata, error) {
	if err := c.check(ident); err != nil {
		return ObjectWithMetadata{}, err
	}

	var (
		data    []byte
		meta    Metadata
		labels  string
		updated string
	)
	err := c.backend.db.QueryRowContext(ctx, `
		SELECT data, content_type, content_encoding, content_language, size, labels, updated_at
		FROM objects WHERE collection = ? AND name = ?`,
		c.name, ident,
	).Scan(&data, &meta.ContentType, &meta.ContentEncoding, &meta.ContentLanguage, &meta.Size, &labels, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		c.backend.metrics.record("get_object", mauveerrors.ErrObjectNotFound)
		return ObjectWithMetadata{}, mauveerrors.ErrObjectNotFound
	}
	if err != nil {
		c.backend.metrics.record("get_object", err)
		return ObjectWithMetadata{}, fmt.Errorf("backend: get %s/%s: %w", c.name, ident, err)
	}

	meta.Labels = SplitLabels(labels)
	meta.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	c.backend.metrics.record("get_object", nil)
	return ObjectWithMetadata{Object: data, Meta: meta}, nil
}

// Describe returns an object's metadata without its payload.
func (c *Collection) Describe(ctx context.Context, ident string) (Metadata, error) {
	if err := c.check(ident); err != nil {
		return Metadata{}, err
	}

	var (
		meta    Metadata
		labels  string
		updated string
	)
	err := c.backend.db.QueryRowContext(ctx, `
		SELECT content_type, content_encoding, content_language, size, labels, updated_at
		FROM objects WHERE collection = ? AND name = ?`,
		c.name, ident,
	).Scan(&meta.ContentType, &meta.ContentEncoding, &meta.ContentLanguage, &meta.Size, &labels, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		c.backend.metrics.record("describe_object", mauveerrors.ErrObjectNotFound)
		return Metadata{}, mauveerrors.ErrObjectNotFound
	}
	if err != nil {
		c.backend.metrics.record("describe_object", err)
		return Metadata{}, fmt.Errorf("backend: describe %s/%s: %w", c.name, ident, err)
	}

	meta.Labels = SplitLabels(labels)
	meta.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	c.backend.metrics.record("describe_object", nil)
	return meta, nil
}

// Put stores an object under the given identity.
//
// If an object already exists with that identity and replace is true, the
// old object is overwritten and not returned. If replace is false, the
// call fails with ErrObjectExists.
func (c *Collection) Put(ctx context.Context, ident string, object []byte, meta Metadata, replace bool) (string, error) {
	if err := c.check(ident); err != nil {
		return "", err
	}
	if max := c.backend.maxSize; max > 0 && int64(len(object)) > max {
		c.backend.metrics.record("put_object", mauveerrors.ErrObjectTooLarge)
		return "", mauveerrors.ErrObjectTooLarge
	}

	meta.Size = int64(len(object))
	meta.UpdatedAt = time.Now().UTC()

	// DO NOTHING instead of a separate existence check: the conflict is
	// decided by the insert itself, so concurrent puts cannot both win.
	action := `DO UPDATE SET
			data = excluded.data,
			content_type = excluded.content_type,
			content_encoding = excluded.content_encoding,
			content_language = excluded.content_language,
			size = excluded.size,
			labels = excluded.labels,
			updated_at = excluded.updated_at`
	if !replace {
		action = `DO NOTHING`
	}

	res, err := c.backend.db.ExecContext(ctx, `
		INSERT INTO objects (collection, name, data, content_type, content_encoding, content_language, size, labels, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (collection, name) `+action,
		c.name, ident, object,
		meta.ContentType, meta.ContentEncoding, meta.ContentLanguage,
		meta.Size, FormatLabels(meta.Labels), meta.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		c.backend.metrics.record("put_object", err)
		return "", fmt.Errorf("backend: put %s/%s: %w", c.name, ident, err)
	}
	if !replace {
		if affected, err := res.RowsAffected(); err == nil && affected == 0 {
			c.backend.metrics.record("put_object", mauveerrors.ErrObjectExists)
			return "", mauveerrors.ErrObjectExists
		}
	}

	c.backend.publish(changefeed.NewEvent(changefeed.OpPut, c.name, ident, meta.Labels))
	c.backend.metrics.record("put_object", nil)
	return ident, nil
}

// Delete removes an object by its name and returns the old payload if one
// existed. Deleting an object that does not exist is a no-op.
func (c *Collection) Delete(ctx context.Context, ident string) ([]byte, error) {
	if err := c.check(ident); err != nil {
		return nil, err
	}

	var old []byte
	err := c.backend.db.QueryRowContext(ctx,
		`SELECT data FROM objects WHERE collection = ? AND name = ?`,
		c.name, ident,
	).Scan(&old)
	if errors.Is(err, sql.ErrNoRows) {
		c.backend.metrics.record("delete_object", nil)
		return nil, nil
	}
	if err != nil {
		c.backend.metrics.record("delete_object", err)
		return nil, fmt.Errorf("backend: delete %s/%s: %w", c.name, ident, err)
	}

	if _, err := c.backend.db.ExecContext(ctx,
		`DELETE FROM objects WHERE collection = ? AND name = ?`,
		c.name, ident,
	); err != nil {
		c.backend.metrics.record("delete_object", err)
		return nil, fmt.Errorf("backend: delete %s/%s: %w", c.name, ident, err)
	}

	c.backend.publish(changefeed.NewEvent(changefeed.OpDelete, c.name, ident, nil))
	c.backend.metrics.record("delete_object", nil)
	return old, nil
}

// List returns the names of objects in the collection matching the given
// prefix. This scans the collection; with a huge number of objects it can
// be expensive, use with caution.
func (c *Collection) List(ctx context.Context, prefix string) ([]string, error) {
	if c.backend.closed.Load() {
		return nil, mauveerrors.ErrBackendClosed
	}

	// SQLite's default collation compares bytes, so a byte-range scan
	// matches UTF-8 prefixes exactly where substr (which counts
	// characters) would not.
	query := `SELECT name FROM objects WHERE collection = ?`
	args := []any{c.name}
	if prefix != "" {
		query += ` AND name >= ?`
		args = append(args, prefix)
		if upper := prefixUpperBound(prefix); upper != "" {
			query += ` AND name < ?`
			args = append(args, upper)
		}
	}
	query += ` ORDER BY name`

	rows, err := c.backend.db.QueryContext(ctx, query, args...)
	if err != nil {
		c.backend.metrics.record("list_objects", err)
		return nil, fmt.Errorf("backend: list %s: %w", c.name, err)
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
	c.backend.metrics.record("list_objects", rows.Err())
	return names, rows.Err()
}

// prefixUpperBound returns the smallest string sorting after every string
// with the given prefix, or "" when no finite bound exists (all 0xff).
func prefixUpperBound(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}

func (c *Collection) check(ident string) error {
	if c.backend.closed.Load() {
		return mauveerrors.ErrBackendClosed
	}
	if ident == "" {
		return mauveerrors.ErrObjectNameRequired
	}
	return nil
}
