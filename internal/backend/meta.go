package backend

import "time"

// Metadata describes an object without its payload.
type Metadata struct {
	ContentType     string            `json:"content_type,omitempty"`
	ContentEncoding string            `json:"content_encoding,omitempty"`
	ContentLanguage string            `json:"content_language,omitempty"`
	Size            int64             `json:"size"`
	Labels          map[string]string `json:"labels,omitempty"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// LabelString renders the labels in canonical sorted form.
func (m Metadata) LabelString() string {
	return FormatLabels(m.Labels)
}

// ObjectWithMetadata pairs an object's payload with its metadata.
type ObjectWithMetadata struct {
	Object []byte   `json:"object"`
	Meta   Metadata `json:"meta"`
}
