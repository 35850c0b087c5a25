package backend

import (
	"fmt"
	"sort"
	"strings"

	mauveerrors "github.com/mauvedb/mauved/internal/errors"
)

// Label is a single name=value pair attached to an object. Names and
// values are case-insensitive and stored lowercased.
type Label struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// NewLabel lowercases the pair.
func NewLabel(name, value string) Label {
	return Label{
		Name:  strings.ToLower(name),
		Value: strings.ToLower(value),
	}
}

// ParseLabel parses a "name=value" string.
func ParseLabel(s string) (Label, error) {
	name, value, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return Label{}, fmt.Errorf("%w: %q", mauveerrors.ErrInvalidLabel, s)
	}
	return NewLabel(name, value), nil
}

func (l Label) String() string {
	return l.Name + "=" + l.Value
}

// ParseLabels parses a list of "name=value" strings into a label map.
func ParseLabels(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	labels := make(map[string]string, len(raw))
	for _, s := range raw {
		label, err := ParseLabel(s)
		if err != nil {
			return nil, err
		}
		labels[label.Name] = label.Value
	}
	return labels, nil
}

// FormatLabels renders a label map as a sorted, comma-joined string. This
// is the storage encoding and the canonical order for display.
func FormatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(labels))
	for name, value := range labels {
		pairs = append(pairs, NewLabel(name, value).String())
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}

// SplitLabels reverses FormatLabels.
func SplitLabels(encoded string) map[string]string {
	if encoded == "" {
		return nil
	}
	labels := make(map[string]string)
	for _, pair := range strings.Split(encoded, ",") {
		if label, err := ParseLabel(pair); err == nil {
			labels[label.Name] = label.Value
		}
	}
	return labels
}
