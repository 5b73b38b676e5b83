package codec

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/foliolabs/folio/internal/domain"
)

// PDF decodes a page-addressed document. Units are fixed pages; each unit
// payload is a single-page PDF extracted from the source. Pages carry their
// resources inline, so there are no shared-resource references.
type PDF struct {
	mu        sync.Mutex
	path      string
	conf      *model.Configuration
	pageCount int
	open      bool
}

// NewPDF creates a decoder for the PDF at path.
func NewPDF(path string) *PDF {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &PDF{path: path, conf: conf}
}

func (p *PDF) Caps() domain.FormatCaps {
	return domain.FormatCaps{SupportsContinuousScroll: false, ChapterAddressed: false}
}

// Open validates the document and reads its page count. Idempotent.
func (p *PDF) Open(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.open {
		return nil
	}

	f, err := os.Open(p.path)
	if err != nil {
		return fmt.Errorf("failed to open document: %w", err)
	}
	defer f.Close()

	pageCount, err := api.PageCount(f, p.conf)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDecodeFailed, err)
	}

	p.pageCount = pageCount
	p.open = true
	return nil
}

func (p *PDF) Reopen(ctx context.Context) error {
	p.mu.Lock()
	p.open = false
	p.pageCount = 0
	p.mu.Unlock()
	return p.Open(ctx)
}

func (p *PDF) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

func (p *PDF) TotalUnits() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pageCount
}

// LoadUnit extracts one page as a standalone single-page document.
func (p *PDF) LoadUnit(ctx context.Context, bookID string, index int) (*domain.UnitContent, error) {
	p.mu.Lock()
	open, count := p.open, p.pageCount
	p.mu.Unlock()

	if !open {
		return nil, domain.ErrDocumentClosed
	}
	if index < 1 || index > count {
		return nil, fmt.Errorf("%w: page %d of %d", domain.ErrUnitNotFound, index, count)
	}

	f, err := os.Open(p.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecodeFailed, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	if err := api.Trim(f, &buf, []string{strconv.Itoa(index)}, p.conf); err != nil {
		return nil, fmt.Errorf("%w: page %d: %v", domain.ErrDecodeFailed, index, err)
	}

	return &domain.UnitContent{Payload: buf.Bytes()}, nil
}

// LoadResource always misses: PDF pages embed their resources.
func (p *PDF) LoadResource(ctx context.Context, bookID, path string) (*domain.ResourceData, error) {
	return nil, fmt.Errorf("%w: %s", domain.ErrResourceNotFound, path)
}

func (p *PDF) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = false
	p.pageCount = 0
	return nil
}
