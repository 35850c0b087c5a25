package errors

import sterrors "errors"

var (
	ErrObjectNotFound       = sterrors.New("mauve: object not found")
	ErrObjectExists         = sterrors.New("mauve: object exists with ident, replace=false")
	ErrObjectTooLarge       = sterrors.New("mauve: object exceeds configured size limit")
	ErrCollectionNotFound   = sterrors.New("mauve: collection not found")
	ErrCollectionRequired   = sterrors.New("mauve: collection name is required")
	ErrObjectNameRequired   = sterrors.New("mauve: object name is required")
	ErrInvalidLabel         = sterrors.New("mauve: invalid label string")
	ErrBackendClosed        = sterrors.New("mauve: backend is closed")
	ErrUnknownOp            = sterrors.New("mauve: unknown operation")
	ErrMalformedRequest     = sterrors.New("mauve: malformed request")
	ErrRequestTooLarge      = sterrors.New("mauve: request exceeds configured size limit")
	ErrSearchLabelsRequired = sterrors.New("mauve: search requires at least one label")
)
