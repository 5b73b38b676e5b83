package domain

import "context"

// UnitContent is what a decoder produces for one unit.
type UnitContent struct {
	Payload      []byte
	StyleRefs    []string
	ResourceRefs []string
}

// ResourceData is what a decoder produces for one shared resource.
type ResourceData struct {
	Data     []byte
	MIMEType string
}

// Decoder is the format-specific decoding dependency. Implementations are
// opaque to the pipeline: it only consults Caps() to branch on behavior.
type Decoder interface {
	// Open parses the source document. Idempotent.
	Open(ctx context.Context) error

	// Reopen re-initializes a closed document. Used by the pipeline's
	// one-shot lazy recovery after ErrDocumentClosed.
	Reopen(ctx context.Context) error

	// Ready reports whether the document has finished loading
	Ready() bool

	// Caps returns the declared format capabilities
	Caps() FormatCaps

	// TotalUnits returns the page/chapter count (0 before Open)
	TotalUnits() int

	// LoadUnit decodes one unit. Returns ErrDocumentClosed when no document
	// is open and ErrDecodeFailed for corrupt units.
	LoadUnit(ctx context.Context, bookID string, index int) (*UnitContent, error)

	// LoadResource loads a shared sub-resource by path
	LoadResource(ctx context.Context, bookID, path string) (*ResourceData, error)

	Close() error
}

// DrawTarget receives rasterized output. The UI layer implements this;
// tests and the CLI use an in-memory image target.
type DrawTarget interface {
	// Draw blits an RGBA pixel buffer onto the target
	Draw(pixels []byte, width, height int) error

	// Bounds returns the target dimensions in pixels
	Bounds() (width, height int)
}

// PageStore is the persistent cache tier, keyed by book ID so documents
// share one store safely by disjoint namespacing. No eviction policy.
type PageStore interface {
	GetUnit(bookID string, index int) (*ContentUnit, bool)
	PutUnit(unit *ContentUnit) error

	GetResource(bookID, path string) (*SharedResource, bool)
	PutResource(res *SharedResource) error

	GetMeta(bookID string) ([]byte, bool)
	PutMeta(bookID string, data []byte) error

	// DeleteUnit removes a single cached unit
	DeleteUnit(bookID string, index int)

	// DeleteBook removes everything stored for one book
	DeleteBook(bookID string)

	Close() error
}
