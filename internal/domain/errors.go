package domain

import "errors"

// Sentinel errors for pipeline operations
var (
	// ErrUnitNotFound indicates the requested unit index is out of range
	ErrUnitNotFound = errors.New("content unit not found")

	// ErrResourceNotFound indicates the requested shared resource does not exist
	ErrResourceNotFound = errors.New("shared resource not found")

	// ErrDocumentClosed indicates the decoder has no open document.
	// The pipeline recovers from this once via lazy reopen.
	ErrDocumentClosed = errors.New("document is not open")

	// ErrDecodeFailed indicates a corrupt or unsupported unit. Not retried.
	ErrDecodeFailed = errors.New("unit decode failed")

	// ErrLoadTimeout indicates the document did not become ready in time
	ErrLoadTimeout = errors.New("timed out waiting for document load")
)
