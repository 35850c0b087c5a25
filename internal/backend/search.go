package backend

import (
	"context"
	"fmt"
	"strings"

	mauveerrors "github.com/mauvedb/mauved/internal/errors"
)

// SearchRequest asks for the objects of one collection carrying all the
// wanted labels. Include labels widen the candidate set (union); exclude
// labels then remove matches.
type SearchRequest struct {
	Collection string   `json:"collection"`
	Include    []string `json:"include"`
	Exclude    []string `json:"exclude,omitempty"`
}

// FoundObject is one search hit together with its metadata.
type FoundObject struct {
	Name string   `json:"name"`
	Meta Metadata `json:"meta"`
}

// SearchResponse carries the hits for a SearchRequest.
type SearchResponse struct {
	Collection string        `json:"collection"`
	Objects    []FoundObject `json:"objects"`
}

// Search resolves a label query against the index. The caller bounds the
// call with a context deadline (the configured search timeout).
func (b *Backend) Search(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	if b.closed.Load() {
		return SearchResponse{}, mauveerrors.ErrBackendClosed
	}
	if req.Collection == "" {
		return SearchResponse{}, mauveerrors.ErrCollectionRequired
	}
	if len(req.Include) == 0 {
		return SearchResponse{}, mauveerrors.ErrSearchLabelsRequired
	}

	include, err := canonicalLabels(req.Include)
	if err != nil {
		return SearchResponse{}, err
	}
	exclude, err := canonicalLabels(req.Exclude)
	if err != nil {
		return SearchResponse{}, err
	}

	candidates, err := b.lookupLabels(ctx, req.Collection, include)
	if err != nil {
		b.metrics.record("search", err)
		return SearchResponse{}, err
	}

	if len(exclude) > 0 {
		excluded, err := b.lookupLabels(ctx, req.Collection, exclude)
		if err != nil {
			b.metrics.record("search", err)
			return SearchResponse{}, err
		}
		for name := range excluded {
			delete(candidates, name)
		}
	}

	response := SearchResponse{Collection: req.Collection}
	collection := &Collection{name: req.Collection, backend: b}
	for name := range candidates {
		meta, err := collection.Describe(ctx, name)
		if err != nil {
			// The object may have been deleted between the index lookup
			// and here; skip it rather than failing the whole search.
			continue
		}
		response.Objects = append(response.Objects, FoundObject{Name: name, Meta: meta})
	}

	b.metrics.record("search", nil)
	return response, nil
}

// lookupLabels returns the set of objects carrying any of the labels.
func (b *Backend) lookupLabels(ctx context.Context, collection string, labels []string) (map[string]struct{}, error) {
	if len(labels) == 0 {
		return map[string]struct{}{}, nil
	}

	placeholders := strings.Repeat("?,", len(labels))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(labels)+1)
	args = append(args, collection)
	for _, label := range labels {
		args = append(args, label)
	}

	rows, err := b.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT DISTINCT object FROM label_index WHERE collection = ? AND label IN (%s)`,
		placeholders,
	), args...)
	if err != nil {
		return nil, fmt.Errorf("backend: label lookup: %w", err)
	}
	defer rows.Close()

	found := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		found[name] = struct{}{}
	}
	return found, rows.Err()
}

func canonicalLabels(raw []string) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	labels := make([]string, 0, len(raw))
	for _, s := range raw {
		label, err := ParseLabel(s)
		if err != nil {
			return nil, err
		}
		labels = append(labels, label.String())
	}
	return labels, nil
}
