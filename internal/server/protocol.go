package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/mauvedb/mauved/internal/backend"
	mauveerrors "github.com/mauvedb/mauved/internal/errors"
	"github.com/mauvedb/mauved/internal/jsoncodec"
)

// Wire operations. One request line, one response line, both JSON.
const (
	OpPing             = "ping"
	OpStatus           = "status"
	OpHeadObject       = "head_object"
	OpGetObject        = "get_object"
	OpPutObject        = "put_object"
	OpDeleteObject     = "delete_object"
	OpDescribeObject   = "describe_object"
	OpListCollections  = "list_collections"
	OpListObjects      = "list_objects"
	OpDeleteCollection = "delete_collection"
	OpSearch           = "search"
)

// Request is one newline-delimited command from a client.
type Request struct {
	Op         string   `json:"op"`
	Collection string   `json:"collection,omitempty"`
	Name       string   `json:"name,omitempty"`
	Prefix     string   `json:"prefix,omitempty"`
	Data       []byte   `json:"data,omitempty"`
	Replace    bool     `json:"replace,omitempty"`
	Labels     []string `json:"labels,omitempty"`
	Include    []string `json:"include,omitempty"`
	Exclude    []string `json:"exclude,omitempty"`

	ContentType     string `json:"content_type,omitempty"`
	ContentEncoding string `json:"content_encoding,omitempty"`
	ContentLanguage string `json:"content_language,omitempty"`
}

// Response mirrors Request on the way back. Exactly one of the payload
// fields is set depending on the operation; Error is set iff Ok is false.
type Response struct {
	Ok    bool   `json:"ok"`
	Error string `json:"error,omitempty"`

	Found       bool                  `json:"found,omitempty"`
	Data        []byte                `json:"data,omitempty"`
	Meta        *backend.Metadata     `json:"meta,omitempty"`
	Names       []string              `json:"names,omitempty"`
	Collections []string              `json:"collections,omitempty"`
	Objects     []backend.FoundObject `json:"objects,omitempty"`
	Status      *backend.BackendState `json:"status,omitempty"`
	Pong        bool                  `json:"pong,omitempty"`
}

func okResponse() Response {
	return Response{Ok: true}
}

func errResponse(err error) Response {
	return Response{Ok: false, Error: err.Error()}
}

// wireReader frames newline-delimited JSON requests off a connection. The
// line buffer is capped at the configured object ceiling plus headroom for
// the envelope and base64 expansion.
type wireReader struct {
	scanner *bufio.Scanner
}

func newWireReader(r io.Reader, maxObjectBytes int64) *wireReader {
	// base64 inflates payloads by 4/3; 4KiB covers the rest of the envelope.
	limit := int(maxObjectBytes + maxObjectBytes/3 + 4096)

	// The scanner treats the larger of the initial capacity and the max as
	// its token limit, so the initial buffer must stay under it.
	initial := 64 * 1024
	if limit < initial {
		initial = limit
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, initial), limit)
	return &wireReader{scanner: sc}
}

// Next reads one request line. io.EOF means the peer hung up cleanly;
// ErrRequestTooLarge and ErrMalformedRequest are protocol violations.
func (w *wireReader) Next() (Request, error) {
	if !w.scanner.Scan() {
		if err := w.scanner.Err(); err != nil {
			if errors.Is(err, bufio.ErrTooLong) {
				return Request{}, mauveerrors.ErrRequestTooLarge
			}
			return Request{}, err
		}
		return Request{}, io.EOF
	}

	line := w.scanner.Bytes()
	if len(line) == 0 {
		return Request{}, mauveerrors.ErrMalformedRequest
	}

	var req Request
	if err := jsoncodec.Unmarshal(line, &req); err != nil {
		return Request{}, fmt.Errorf("%w: %s", mauveerrors.ErrMalformedRequest, err)
	}
	if req.Op == "" {
		return Request{}, mauveerrors.ErrMalformedRequest
	}
	return req, nil
}

// writeResponse emits one response line. A short write or a missed write
// deadline surfaces here.
func writeResponse(w io.Writer, resp Response) error {
	raw, err := jsoncodec.Marshal(resp)
	if err != nil {
		return fmt.Errorf("mauve: encoding response: %w", err)
	}
	raw = append(raw, '\n')
	if _, err := w.Write(raw); err != nil {
		return err
	}
	return nil
}

// isTimeout reports whether err is a deadline expiry on the socket.
func isTimeout(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
